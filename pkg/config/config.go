package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tailscale/hujson"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Storage  StorageConfig  `yaml:"storage"`
	Bench    BenchConfig    `yaml:"bench"`
	Snapshot SnapshotConfig `yaml:"snapshot"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

type StorageConfig struct {
	ChunkCapacity int `yaml:"chunk_capacity"` // initial record capacity of a new chunk
	ShrinkRatio   int `yaml:"shrink_ratio"`   // shrink containers whose capacity exceeds len*ratio
}

type BenchConfig struct {
	Chunks        int   `yaml:"chunks"`
	ItemsPerChunk int   `yaml:"items_per_chunk"`
	Rounds        int   `yaml:"rounds"`
	Seed          int64 `yaml:"seed"`
}

type SnapshotConfig struct {
	Backend string `yaml:"backend"` // "sqlite", "file" or "" to disable
	Path    string `yaml:"path"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"` // e.g. :2112; empty disables the endpoint
}

func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			ChunkCapacity: 16,
			ShrinkRatio:   4,
		},
		Bench: BenchConfig{
			Chunks:        1000,
			ItemsPerChunk: 100,
			Rounds:        5,
			Seed:          1,
		},
		Snapshot: SnapshotConfig{
			Backend: "",
			Path:    "chunk_data/snapshot.db",
		},
	}
}

// Load reads a YAML or JSON-with-comments file. With an empty path it looks
// for configs/chunkdb.yaml and chunkdb.yaml and falls back to defaults.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath == "" {
		for _, p := range []string{"configs/chunkdb.yaml", "chunkdb.yaml"} {
			data, err := os.ReadFile(p)
			if err == nil {
				if err := decode(p, data, cfg); err != nil {
					return cfg, err
				}
				applyDefaults(cfg)
				return cfg, nil
			}
		}
		applyDefaults(cfg)
		return cfg, nil // no file found: use defaults
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return cfg, err
	}

	if err := decode(configPath, data, cfg); err != nil {
		return cfg, err
	}

	applyDefaults(cfg)
	return cfg, nil
}

// decode handles .json/.jsonc through hujson; standard JSON is valid YAML, so
// both formats share the yaml struct tags.
func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc", ".hujson":
		std, err := hujson.Standardize(data)
		if err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		data = std
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Storage.ChunkCapacity < 0 {
		cfg.Storage.ChunkCapacity = 0
	}
	if cfg.Storage.ShrinkRatio <= 0 {
		cfg.Storage.ShrinkRatio = 4
	}
	if cfg.Bench.Chunks <= 0 {
		cfg.Bench.Chunks = 1000
	}
	if cfg.Bench.ItemsPerChunk <= 0 {
		cfg.Bench.ItemsPerChunk = 100
	}
	if cfg.Bench.Rounds <= 0 {
		cfg.Bench.Rounds = 5
	}
	switch cfg.Snapshot.Backend {
	case "", "sqlite", "file":
	default:
		cfg.Snapshot.Backend = ""
	}
	if cfg.Snapshot.Path == "" {
		cfg.Snapshot.Path = "chunk_data/snapshot.db"
	}
}
