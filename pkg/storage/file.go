package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/natefinch/atomic"
)

const snapshotExt = ".snap.json"

// FileBackend keeps each snapshot in its own JSON file under one directory.
// Files are replaced atomically, so readers never see a half-written snapshot.
type FileBackend struct {
	dir string
}

type snapshotFile struct {
	SnapshotInfo
	Blobs [][]byte `json:"blobs"`
}

func NewFileBackend(dir string) (*FileBackend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot dir: %w", err)
	}
	return &FileBackend{dir: dir}, nil
}

// path maps id to its file. Ids that could name a file outside the directory
// are reported as not found.
func (f *FileBackend) path(id string) (string, error) {
	if strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return "", fmt.Errorf("%w: %q", ErrSnapshotNotFound, id)
	}
	return filepath.Join(f.dir, id+snapshotExt), nil
}

func (f *FileBackend) WriteSnapshot(ctx context.Context, id string, blobs [][]byte) error {
	if id == "" {
		return errEmptySnapshotID
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	content, err := json.Marshal(snapshotFile{
		SnapshotInfo: SnapshotInfo{ID: id, Chunks: len(blobs), CreatedAt: time.Now()},
		Blobs:        blobs,
	})
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", id, err)
	}

	path, err := f.path(id)
	if err != nil {
		return err
	}
	if err := atomic.WriteFile(path, bytes.NewReader(content)); err != nil {
		return fmt.Errorf("write snapshot %s: %w", id, err)
	}
	return nil
}

func (f *FileBackend) read(id string) (*snapshotFile, error) {
	path, err := f.path(id)
	if err != nil {
		return nil, err
	}
	content, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrSnapshotNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	var snap snapshotFile
	if err := json.Unmarshal(content, &snap); err != nil {
		return nil, fmt.Errorf("%w: snapshot %s: %v", ErrCorrupt, id, err)
	}
	if len(snap.Blobs) != snap.Chunks {
		return nil, fmt.Errorf("%w: snapshot %s has %d of %d chunks", ErrCorrupt, id, len(snap.Blobs), snap.Chunks)
	}
	return &snap, nil
}

func (f *FileBackend) ReadSnapshot(ctx context.Context, id string) ([][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	snap, err := f.read(id)
	if err != nil {
		return nil, err
	}
	return snap.Blobs, nil
}

func (f *FileBackend) ListSnapshots(ctx context.Context) ([]SnapshotInfo, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, err
	}

	var infos []SnapshotInfo
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, snapshotExt) {
			continue
		}
		snap, err := f.read(strings.TrimSuffix(name, snapshotExt))
		if err != nil {
			return nil, err
		}
		infos = append(infos, snap.SnapshotInfo)
	}

	slices.SortFunc(infos, func(a, b SnapshotInfo) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return infos, nil
}

func (f *FileBackend) DeleteSnapshot(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := f.path(id)
	if err != nil {
		return err
	}
	err = os.Remove(path)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrSnapshotNotFound, id)
	}
	return err
}

func (f *FileBackend) Close() error { return nil }
