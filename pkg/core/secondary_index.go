package core

import (
	"fmt"
	"iter"
	"log"

	"chunkdb/pkg/common"
	"chunkdb/pkg/core/structure"
	"chunkdb/pkg/monitor"
)

// SecondaryIndex maps a derived key to the records that project to it.
//
// The index belongs to the Storage it was built from. It is brought up to date
// lazily, on the first lookup after the storage changed, and only re-projects
// records that were written since the previous synchronization. Using it with
// any other Storage panics.
type SecondaryIndex[C, I comparable, E common.Record[C, I], K comparable] struct {
	storageID uint64
	project   func(E) (K, bool)
	stats     *monitor.WorkloadStats
	logger    *log.Logger

	chunkKeys structure.Summary[C]
	touched   structure.Summary[struct{}]
	chunks    map[C]*chunkIndex[K]
}

type projection[K comparable] struct {
	key K
	ok  bool
}

type chunkIndex[K comparable] struct {
	items structure.Summary[projection[K]]
	keys  map[K]*structure.PosSet
}

// NewSecondaryIndex builds an index over s. project returns the derived key
// of a record, or false to leave the record out of the index.
func NewSecondaryIndex[C, I comparable, E common.Record[C, I], K comparable](s *Storage[C, I, E], project func(E) (K, bool)) *SecondaryIndex[C, I, E, K] {
	return &SecondaryIndex[C, I, E, K]{
		storageID: s.id,
		project:   project,
		stats:     s.stats,
		logger:    s.logger,
		chunks:    make(map[C]*chunkIndex[K]),
	}
}

func (ix *SecondaryIndex[C, I, E, K]) check(s *Storage[C, I, E]) {
	if s.id != ix.storageID {
		panic(fmt.Sprintf("chunkdb: secondary index of storage %d used with storage %d", ix.storageID, s.id))
	}
}

// Synchronized reports whether the index reflects every change of s.
func (ix *SecondaryIndex[C, I, E, K]) Synchronized(s *Storage[C, I, E]) bool {
	ix.check(s)
	return ix.touched.Current(s.chunks.ID(), s.chunks.Clock())
}

// Sync brings the index up to date with s. Queries built with Matching call
// it on their own.
func (ix *SecondaryIndex[C, I, E, K]) Sync(s *Storage[C, I, E]) {
	if ix.Synchronized(s) {
		return
	}

	gc(s, &ix.chunkKeys, ix.chunks)

	visited, reprojected := 0, 0
	structure.Reduce(s.chunks, &ix.touched, func(_ int, cur **ChunkStorage[C, I, E], _ *struct{}) struct{} {
		if cur != nil {
			visited++
			reprojected += ix.syncChunk(*cur)
		}
		return struct{}{}
	})

	ix.stats.RecordResync()
	ix.logger.Printf("[Index] Storage %d: visited %d chunks, re-projected %d records", ix.storageID, visited, reprojected)
}

func (ix *SecondaryIndex[C, I, E, K]) syncChunk(cs *ChunkStorage[C, I, E]) int {
	ci, ok := ix.chunks[cs.chunkKey]
	if !ok {
		ci = &chunkIndex[K]{keys: make(map[K]*structure.PosSet)}
		ix.chunks[cs.chunkKey] = ci
	}

	n := 0
	structure.Reduce(cs.items, &ci.items, func(pos int, cur *E, prev *projection[K]) projection[K] {
		var next projection[K]
		if cur != nil {
			next.key, next.ok = ix.project(*cur)
			n++
		}
		if cur != nil && prev != nil && *prev == next {
			return next
		}

		if prev != nil && prev.ok {
			ci.remove(prev.key, pos)
		}
		if next.ok {
			ci.add(next.key, pos)
		}
		return next
	})

	if cs.IsEmpty() {
		delete(ix.chunks, cs.chunkKey)
	}
	return n
}

func (ci *chunkIndex[K]) add(key K, pos int) {
	ps, ok := ci.keys[key]
	if !ok {
		ps = structure.NewPosSet()
		ci.keys[key] = ps
	}
	ps.Put(pos)
}

func (ci *chunkIndex[K]) remove(key K, pos int) {
	ps, ok := ci.keys[key]
	if !ok {
		return
	}
	ps.Delete(pos)
	if ps.Count() == 0 {
		delete(ci.keys, key)
	}
}

func (ix *SecondaryIndex[C, I, E, K]) chunkHas(chunkKey C, key K) bool {
	ci, ok := ix.chunks[chunkKey]
	if !ok {
		return false
	}
	_, ok = ci.keys[key]
	return ok
}

func (ix *SecondaryIndex[C, I, E, K]) positions(chunkKey C, key K) structure.IdxSet {
	ci, ok := ix.chunks[chunkKey]
	if !ok {
		return structure.Empty()
	}
	ps, ok := ci.keys[key]
	if !ok {
		return structure.Empty()
	}
	return ps.IdxSet()
}

// Count is the number of records projecting to key as of the last sync.
func (ix *SecondaryIndex[C, I, E, K]) Count(key K) int {
	n := 0
	for _, ci := range ix.chunks {
		if ps, ok := ci.keys[key]; ok {
			n += ps.Count()
		}
	}
	return n
}

// Len is the number of indexed records as of the last sync.
func (ix *SecondaryIndex[C, I, E, K]) Len() int {
	n := 0
	for _, ci := range ix.chunks {
		for _, ps := range ci.keys {
			n += ps.Count()
		}
	}
	return n
}

// Keys yields every derived key present as of the last sync. A key held by
// several chunks is yielded once.
func (ix *SecondaryIndex[C, I, E, K]) Keys() iter.Seq[K] {
	return func(yield func(K) bool) {
		seen := make(map[K]struct{})
		for _, ci := range ix.chunks {
			for k := range ci.keys {
				if _, dup := seen[k]; dup {
					continue
				}
				seen[k] = struct{}{}
				if !yield(k) {
					return
				}
			}
		}
	}
}

// Validate panics unless the synchronized index agrees with a fresh
// projection of every record in s. It is slow.
func (ix *SecondaryIndex[C, I, E, K]) Validate(s *Storage[C, I, E]) {
	ix.Sync(s)

	indexed := 0
	for _, cs := range s.chunks.Items() {
		for pos, e := range cs.items.Items() {
			k, ok := ix.project(e)
			if !ok {
				continue
			}
			indexed++
			if !ix.positions(cs.chunkKey, k).Contains(pos) {
				panic(fmt.Sprintf("chunkdb: record (%v, %v) missing under key %v", cs.chunkKey, e.ItemKey(), k))
			}
		}
	}

	total := 0
	for chunkKey, ci := range ix.chunks {
		if _, ok := s.index.Get(chunkKey); !ok {
			panic(fmt.Sprintf("chunkdb: index holds removed chunk %v", chunkKey))
		}
		for _, ps := range ci.keys {
			total += ps.Count()
		}
	}
	if total != indexed {
		panic(fmt.Sprintf("chunkdb: index holds %d positions, storage projects %d", total, indexed))
	}
}

func (ix *SecondaryIndex[C, I, E, K]) MemoryUsage() common.MemoryUsage {
	var usage common.MemoryUsage
	for _, ci := range ix.chunks {
		usage = usage.Merge(common.MemoryUsage{Len: ci.items.Len(), Capacity: ci.items.Len()})
		for _, ps := range ci.keys {
			usage = usage.Merge(common.MemoryUsage{Len: ps.Count(), Capacity: ps.Count()})
		}
	}
	return usage
}
