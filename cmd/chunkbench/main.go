package main

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"chunkdb/pkg/common"
	"chunkdb/pkg/config"
	"chunkdb/pkg/core"
	"chunkdb/pkg/monitor"
	"chunkdb/pkg/storage"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"
)

type row = common.Triple[uint32, uint32, int64]

const buckets = 16

func bucket(r row) (int64, bool) {
	if r.Value < 0 {
		return 0, false
	}
	return r.Value % buckets, true
}

func main() {
	configPath := flag.StringP("config", "c", "", "Config file (YAML or JSON with comments)")
	rounds := flag.IntP("rounds", "n", 0, "Number of rounds (overrides config)")
	metricsAddr := flag.String("metrics", "", "Serve Prometheus metrics on this address (overrides config)")
	verbose := flag.BoolP("verbose", "v", false, "Log compaction and index activity")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *rounds > 0 {
		cfg.Bench.Rounds = *rounds
	}
	if *metricsAddr != "" {
		cfg.Metrics.Addr = *metricsAddr
	}

	opts := core.Options{ChunkCapacity: cfg.Storage.ChunkCapacity}
	if *verbose {
		opts.Logger = log.New(os.Stderr, "", log.LstdFlags)
	}
	s := core.NewWithOptions[uint32, uint32, row](opts)

	if cfg.Metrics.Addr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(monitor.NewCollector("bench", s.Stats()))
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		go func() {
			log.Printf("[Bench] Metrics on %s/metrics", cfg.Metrics.Addr)
			if err := http.ListenAndServe(cfg.Metrics.Addr, mux); err != nil {
				log.Printf("[Bench] Metrics server stopped: %v", err)
			}
		}()
	}

	b := cfg.Bench
	fmt.Printf("chunkdb benchmark (chunks=%d, items/chunk=%d, rounds=%d, seed=%d)\n",
		b.Chunks, b.ItemsPerChunk, b.Rounds, b.Seed)
	fmt.Println("---------------------------------------------------")

	rng := rand.New(rand.NewSource(b.Seed))
	n := b.Chunks * b.ItemsPerChunk

	d := timed(func() { fill(s, rng, b.Chunks, b.ItemsPerChunk) })
	report("load", n, d)

	ix := core.NewSecondaryIndex(s, bucket)
	d = timed(func() { ix.Sync(s) })
	report("index build", n, d)

	for round := 1; round <= b.Rounds; round++ {
		fmt.Printf(">> Round %d\n", round)

		d = timed(func() {
			for i := 0; i < n; i++ {
				s.Get(uint32(rng.Intn(b.Chunks)), uint32(rng.Intn(b.ItemsPerChunk)))
			}
		})
		report("point reads", n, d)

		updates := max(n/10, 1)
		d = timed(func() {
			for i := 0; i < updates; i++ {
				s.Entry(uint32(rng.Intn(b.Chunks)), uint32(rng.Intn(b.ItemsPerChunk))).
					AndModify(func(r *row) { r.Value = rng.Int63n(1 << 20) })
			}
		})
		report("entry updates", updates, d)

		var matched int
		d = timed(func() {
			for k := int64(0); k < buckets; k++ {
				for range s.Query(core.Matching(core.Everything[uint32, uint32, row](), ix, k)) {
					matched++
				}
			}
		})
		report("indexed scan", matched, d)

		dropped := max(b.Chunks/20, 1)
		d = timed(func() {
			for i := 0; i < dropped; i++ {
				chunk := uint32(rng.Intn(b.Chunks))
				if rows, ok := s.RemoveChunk(chunk); ok {
					s.AddChunk(rows)
				}
			}
		})
		report("chunk evict+reload", dropped, d)

		s.PublishStats()
		st := s.Stats().Snapshot()
		log.Printf("[Bench] round %d: chunks=%d items=%d capacity=%d resyncs=%d",
			round, st.Chunks, st.Items, st.Capacity, st.Resyncs)
	}

	ix.Validate(s)
	s.ShrinkWith(common.ShrinkRatio(cfg.Storage.ShrinkRatio))
	s.PublishStats()

	if cfg.Snapshot.Backend != "" {
		saveSnapshot(cfg, s)
	}

	fmt.Println("---------------------------------------------------")
	st := s.Stats().Snapshot()
	fmt.Printf("reads=%d writes=%d removes=%d compactions=%d resyncs=%d read/write=%.2f\n",
		st.Reads, st.Writes, st.Removes, st.Compactions, st.Resyncs, s.Stats().GetReadWriteRatio())
}

func fill(s *core.Storage[uint32, uint32, row], rng *rand.Rand, chunks, perChunk int) {
	group := make([]row, 0, perChunk)
	for c := 0; c < chunks; c++ {
		group = group[:0]
		for i := 0; i < perChunk; i++ {
			group = append(group, common.T(uint32(c), uint32(i), rng.Int63n(1<<20)))
		}
		s.AddChunk(group)
	}
}

func saveSnapshot(cfg *config.Config, s *core.Storage[uint32, uint32, row]) {
	if err := os.MkdirAll(filepath.Dir(cfg.Snapshot.Path), 0o755); err != nil {
		log.Fatalf("Failed to create snapshot dir: %v", err)
	}
	backend, err := storage.Open(cfg.Snapshot.Backend, cfg.Snapshot.Path)
	if err != nil {
		log.Fatalf("Failed to open snapshot backend: %v", err)
	}
	defer backend.Close()

	var id string
	d := timed(func() {
		id, err = storage.Save(context.Background(), backend, s)
	})
	if err != nil {
		log.Fatalf("Snapshot failed: %v", err)
	}
	report("snapshot "+id, s.Len(), d)
}

func timed(fn func()) time.Duration {
	start := time.Now()
	fn()
	return time.Since(start)
}

func report(name string, ops int, d time.Duration) {
	qps := 0.0
	if d > 0 {
		qps = float64(ops) / d.Seconds()
	}
	fmt.Printf("   %-20s %8d ops  %12v  QPS: %.0f\n", name, ops, d, qps)
}
