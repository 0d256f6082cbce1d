package core

import (
	"fmt"
	"io"
	"iter"
	"log"
	"slices"
	"sync/atomic"

	"chunkdb/pkg/common"
	"chunkdb/pkg/core/structure"
	"chunkdb/pkg/monitor"
)

var storageIDs atomic.Uint64

// Options tune a Storage. The zero value is usable.
type Options struct {
	// ChunkCapacity is the initial record capacity of a new chunk.
	ChunkCapacity int
	// Logger receives compaction and index messages. Nil discards them.
	Logger *log.Logger
}

// Storage is a chunked, indexed collection of records.
//
// Records with the same chunk key live in one ChunkStorage; a whole chunk can
// be dropped in constant time. Storage is not safe for concurrent use: one
// owner must serialize every call, including queries that consult a
// SecondaryIndex.
type Storage[C, I comparable, E common.Record[C, I]] struct {
	id      uint64
	chunks  *structure.Seq[*ChunkStorage[C, I, E]]
	index   *structure.KeyIndex[C]
	pending []int

	chunkCap int
	logger   *log.Logger
	stats    *monitor.WorkloadStats
}

func New[C, I comparable, E common.Record[C, I]]() *Storage[C, I, E] {
	return NewWithOptions[C, I, E](Options{})
}

func NewWithOptions[C, I comparable, E common.Record[C, I]](opts Options) *Storage[C, I, E] {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	return &Storage[C, I, E]{
		id:       storageIDs.Add(1),
		chunks:   structure.NewSeq[*ChunkStorage[C, I, E]](0),
		index:    structure.NewKeyIndex[C](0),
		chunkCap: max(opts.ChunkCapacity, 0),
		logger:   logger,
		stats:    monitor.NewWorkloadStats(),
	}
}

// ID is unique within the process and assigned in construction order.
func (s *Storage[C, I, E]) ID() uint64 { return s.id }

func (s *Storage[C, I, E]) Stats() *monitor.WorkloadStats { return s.stats }

// PublishStats refreshes the shape gauges read by metrics collectors.
func (s *Storage[C, I, E]) PublishStats() {
	s.stats.Publish(s.ChunkCount(), s.Len(), s.MemoryUsage())
}

// chunkFor returns the position of the chunk, creating it if needed, and
// stamps it as changed.
func (s *Storage[C, I, E]) chunkFor(chunkKey C) int {
	idx, ok := s.index.Get(chunkKey)
	if !ok {
		idx = s.chunks.Len()
		s.index.Put(chunkKey, idx)
		s.chunks.Push(newChunkStorage[C, I, E](chunkKey, s.chunkCap))
		return idx
	}

	s.chunks.Touch(idx)
	return idx
}

// Add inserts a record, replacing any record with the same chunk and item key.
func (s *Storage[C, I, E]) Add(e E) {
	s.clean()
	s.stats.RecordWrite()

	idx := s.chunkFor(e.ChunkKey())
	s.chunks.At(idx).Add(e)
}

// AddChunk adds records that all share one chunk key.
// It panics if they don't.
func (s *Storage[C, I, E]) AddChunk(records []E) {
	s.clean()
	if len(records) == 0 {
		return
	}

	idx := s.chunkFor(records[0].ChunkKey())
	s.chunks.At(idx).Extend(records)
	s.stats.RecordWrites(len(records))
}

// AddChunks adds groups of records, each group sharing one chunk key.
// It is the reload side of Raw and Dissolve.
func (s *Storage[C, I, E]) AddChunks(groups [][]E) {
	for _, g := range groups {
		s.AddChunk(g)
	}
}

func (s *Storage[C, I, E]) Get(chunkKey C, item I) (E, bool) {
	s.stats.RecordRead()

	idx, ok := s.index.Get(chunkKey)
	if !ok {
		var zero E
		return zero, false
	}
	return s.chunks.At(idx).Get(item)
}

// Entry returns a handle for a record that may not exist.
//
// Resolving an existing chunk does not mark it changed; the chunk is stamped
// on the first mutable access through the entry. An absent chunk is created
// to serve the entry and is dropped again by the next compaction if nothing
// was inserted.
func (s *Storage[C, I, E]) Entry(chunkKey C, item I) *Entry[C, I, E] {
	s.clean()

	idx, ok := s.index.Get(chunkKey)
	if !ok {
		idx = s.chunkFor(chunkKey)
		s.queue(idx)
	}
	cs := s.chunks.At(idx)

	e := newEntry(cs, item, func() { s.chunks.Touch(idx) })
	e.onRemove = func() {
		s.stats.RecordRemove(1)
		s.queue(idx)
	}
	return e
}

// Iter yields every record.
func (s *Storage[C, I, E]) Iter() iter.Seq[E] {
	return func(yield func(E) bool) {
		for _, cs := range s.chunks.Items() {
			for _, e := range cs.items.Items() {
				if !yield(e) {
					return
				}
			}
		}
	}
}

// Query yields the records selected by q. Storage must not be mutated while
// the sequence is being consumed.
func (s *Storage[C, I, E]) Query(q Query[C, I, E]) iter.Seq[E] {
	return func(yield func(E) bool) {
		s.stats.RecordRead()
		for idx := range q.ChunkIdxs(s).All() {
			for e := range s.chunks.At(idx).Query(q) {
				if !yield(e) {
					return
				}
			}
		}
	}
}

// Modify calls fn with an Editor for every record selected by q.
func (s *Storage[C, I, E]) Modify(q Query[C, I, E], fn func(*Editor[C, I, E])) {
	s.clean()

	for _, idx := range q.ChunkIdxs(s).Collect() {
		s.queue(idx)
		if n := s.chunks.At(idx).Modify(q, fn); n > 0 {
			s.chunks.Touch(idx)
			s.stats.RecordWrites(n)
		}
	}
}

// Remove deletes every record selected by q. Each removed record is handed
// to fn, which may be nil.
func (s *Storage[C, I, E]) Remove(q Query[C, I, E], fn func(E)) {
	for _, idx := range q.ChunkIdxs(s).Collect() {
		s.queue(idx)
		if n := s.chunks.At(idx).Remove(q, fn); n > 0 {
			s.chunks.Touch(idx)
			s.stats.RecordRemove(n)
		}
	}

	s.clean()
}

// RemoveChunk drops a whole chunk and returns its records.
func (s *Storage[C, I, E]) RemoveChunk(chunkKey C) ([]E, bool) {
	s.clean()

	idx, ok := s.index.Delete(chunkKey)
	if !ok {
		return nil, false
	}

	cs := s.chunks.SwapRemove(idx)
	if idx < s.chunks.Len() {
		s.index.Put(s.chunks.At(idx).chunkKey, idx)
	}
	s.stats.RecordRemove(cs.Len())
	return cs.items.Items(), true
}

// ChunkKeys yields the key of every chunk, in no particular order.
func (s *Storage[C, I, E]) ChunkKeys() iter.Seq[C] {
	return func(yield func(C) bool) {
		for _, cs := range s.chunks.Items() {
			if cs.IsEmpty() {
				continue
			}
			if !yield(cs.chunkKey) {
				return
			}
		}
	}
}

// ChunkCount is the number of non-empty chunks.
func (s *Storage[C, I, E]) ChunkCount() int {
	n := 0
	for _, cs := range s.chunks.Items() {
		if !cs.IsEmpty() {
			n++
		}
	}
	return n
}

// Len is the number of records across all chunks.
func (s *Storage[C, I, E]) Len() int {
	n := 0
	for _, cs := range s.chunks.Items() {
		n += cs.Len()
	}
	return n
}

// Raw yields each chunk's records as a slice. The slices must not be modified.
func (s *Storage[C, I, E]) Raw() iter.Seq[[]E] {
	return func(yield func([]E) bool) {
		for _, cs := range s.chunks.Items() {
			if cs.IsEmpty() {
				continue
			}
			if !yield(cs.Raw()) {
				return
			}
		}
	}
}

// Dissolve empties the storage and returns its records grouped by chunk.
// Secondary indexes built on it drop everything on their next use.
func (s *Storage[C, I, E]) Dissolve() [][]E {
	s.clean()

	groups := make([][]E, 0, s.chunks.Len())
	for _, cs := range s.chunks.Items() {
		groups = append(groups, cs.items.Items())
	}

	s.chunks = structure.NewSeq[*ChunkStorage[C, I, E]](0)
	s.index = structure.NewKeyIndex[C](0)
	s.pending = s.pending[:0]
	return groups
}

func (s *Storage[C, I, E]) queue(idx int) {
	s.pending = append(s.pending, idx)
}

// clean removes queued chunks that are empty. Positions are handled in
// descending order so that a swap-remove never disturbs a position still
// waiting in the queue.
func (s *Storage[C, I, E]) clean() {
	if len(s.pending) == 0 {
		return
	}

	slices.Sort(s.pending)
	s.pending = slices.Compact(s.pending)

	removed := 0
	for i := len(s.pending) - 1; i >= 0; i-- {
		idx := s.pending[i]
		if idx >= s.chunks.Len() || !s.chunks.At(idx).IsEmpty() {
			continue
		}

		s.index.Delete(s.chunks.At(idx).chunkKey)
		s.chunks.SwapRemove(idx)
		if idx < s.chunks.Len() {
			s.index.Put(s.chunks.At(idx).chunkKey, idx)
		}
		s.stats.RecordCompaction()
		removed++
	}

	s.pending = s.pending[:0]
	if removed > 0 {
		s.logger.Printf("[Compaction] Storage %d: removed %d empty chunks, %d left", s.id, removed, s.chunks.Len())
	}
}

// Validate panics if the storage is malformed. It is slow and meant for tests
// and debugging.
func (s *Storage[C, I, E]) Validate() {
	s.clean()

	for idx, cs := range s.chunks.Items() {
		if got, ok := s.index.Get(cs.chunkKey); !ok || got != idx {
			panic(fmt.Sprintf("chunkdb: chunk %v at %d not indexed (got %d, %v)", cs.chunkKey, idx, got, ok))
		}
	}

	for chunkKey, idx := range s.index.All() {
		if idx < 0 || idx >= s.chunks.Len() {
			panic(fmt.Sprintf("chunkdb: chunk %v indexed at %d, out of range", chunkKey, idx))
		}
		cs := s.chunks.At(idx)
		if cs.chunkKey != chunkKey {
			panic(fmt.Sprintf("chunkdb: index broken: %v points at chunk %v", chunkKey, cs.chunkKey))
		}
		if cs.IsEmpty() {
			panic(fmt.Sprintf("chunkdb: empty chunk %v", chunkKey))
		}
	}

	if s.index.Len() != s.chunks.Len() {
		panic(fmt.Sprintf("chunkdb: %d index entries for %d chunks", s.index.Len(), s.chunks.Len()))
	}

	for _, cs := range s.chunks.Items() {
		cs.Validate()
	}
}

// gc deletes from data the chunk keys that disappeared from this storage
// since the previous call with the same summary. The summary belongs to gc;
// callers only keep it between calls.
func gc[C, I comparable, E common.Record[C, I], T any](s *Storage[C, I, E], summary *structure.Summary[C], data map[C]T) {
	var removed []C
	added := make(map[C]struct{})

	structure.Reduce(s.chunks, summary, func(_ int, cur **ChunkStorage[C, I, E], prev *C) C {
		switch {
		case cur == nil:
			removed = append(removed, *prev)
			var zero C
			return zero
		case prev == nil:
			added[(*cur).chunkKey] = struct{}{}
		case *prev != (*cur).chunkKey:
			added[(*cur).chunkKey] = struct{}{}
			removed = append(removed, *prev)
		}
		return (*cur).chunkKey
	})

	for _, chunkKey := range removed {
		if _, ok := added[chunkKey]; !ok {
			delete(data, chunkKey)
		}
	}
}

func (s *Storage[C, I, E]) MemoryUsage() common.MemoryUsage {
	usage := s.index.MemoryUsage().Merge(s.chunks.MemoryUsage())
	for _, cs := range s.chunks.Items() {
		usage = usage.Merge(cs.MemoryUsage())
	}
	return usage
}

func (s *Storage[C, I, E]) ShrinkWith(policy common.ShrinkPolicy) {
	for _, cs := range s.chunks.Items() {
		if _, ok := policy(cs.MemoryUsage()); ok {
			cs.ShrinkWith(policy)
		}
	}
	s.index.ShrinkWith(policy)
	s.chunks.ShrinkWith(policy)
}
