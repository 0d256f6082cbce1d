package storage

import (
	"context"
	"fmt"
	"log"

	"chunkdb/pkg/common"
	"chunkdb/pkg/core"

	"github.com/google/uuid"
)

// Open returns the backend named by kind ("sqlite" or "file").
func Open(kind, path string) (Backend, error) {
	switch kind {
	case "sqlite":
		b, err := NewSQLiteBackend(path)
		if err != nil {
			return nil, err
		}
		return b, nil
	case "file":
		b, err := NewFileBackend(path)
		if err != nil {
			return nil, err
		}
		return b, nil
	}
	return nil, fmt.Errorf("unknown snapshot backend %q", kind)
}

// Save writes every chunk of s to b as a new snapshot and returns its id.
// Records must be JSON-serializable.
func Save[C, I comparable, E common.Record[C, I]](ctx context.Context, b Backend, s *core.Storage[C, I, E]) (string, error) {
	var blobs [][]byte
	records := 0
	for chunk := range s.Raw() {
		blob, err := encodeBlob(chunk)
		if err != nil {
			return "", err
		}
		blobs = append(blobs, blob)
		records += len(chunk)
	}

	id := uuid.NewString()
	if err := b.WriteSnapshot(ctx, id, blobs); err != nil {
		return "", fmt.Errorf("save snapshot: %w", err)
	}

	log.Printf("[Snapshot] Saved %s: %d chunks, %d records", id, len(blobs), records)
	return id, nil
}

// Load adds the records of snapshot id to s. Nothing is added unless every
// blob decodes cleanly.
func Load[C, I comparable, E common.Record[C, I]](ctx context.Context, b Backend, id string, s *core.Storage[C, I, E]) error {
	blobs, err := b.ReadSnapshot(ctx, id)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}

	groups := make([][]E, 0, len(blobs))
	records := 0
	for i, blob := range blobs {
		chunk, err := decodeBlob[E](blob)
		if err != nil {
			return fmt.Errorf("load snapshot %s chunk %d: %w", id, i, err)
		}
		if err := sameChunk[C, I](chunk); err != nil {
			return fmt.Errorf("load snapshot %s chunk %d: %w", id, i, err)
		}
		groups = append(groups, chunk)
		records += len(chunk)
	}

	s.AddChunks(groups)
	log.Printf("[Snapshot] Loaded %s: %d chunks, %d records", id, len(groups), records)
	return nil
}

// sameChunk rejects groups that AddChunk would panic on.
func sameChunk[C, I comparable, E common.Record[C, I]](chunk []E) error {
	for _, e := range chunk[min(1, len(chunk)):] {
		if e.ChunkKey() != chunk[0].ChunkKey() {
			return fmt.Errorf("%w: mixed chunk keys %v and %v", ErrCorrupt, chunk[0].ChunkKey(), e.ChunkKey())
		}
	}
	return nil
}
