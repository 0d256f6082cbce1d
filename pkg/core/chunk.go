package core

import (
	"fmt"
	"iter"
	"slices"

	"chunkdb/pkg/common"
	"chunkdb/pkg/core/structure"
)

// ChunkStorage holds every record of one chunk plus an item key index.
//
// Removal swaps the last record into the vacated position, so the order of
// records inside a chunk is not stable and must not be relied upon.
type ChunkStorage[C, I comparable, E common.Record[C, I]] struct {
	chunkKey C
	items    *structure.Seq[E]
	index    *structure.KeyIndex[I]
}

func NewChunkStorage[C, I comparable, E common.Record[C, I]](chunkKey C) *ChunkStorage[C, I, E] {
	return newChunkStorage[C, I, E](chunkKey, 0)
}

func newChunkStorage[C, I comparable, E common.Record[C, I]](chunkKey C, capacity int) *ChunkStorage[C, I, E] {
	return &ChunkStorage[C, I, E]{
		chunkKey: chunkKey,
		items:    structure.NewSeq[E](capacity),
		index:    structure.NewKeyIndex[I](capacity),
	}
}

func (cs *ChunkStorage[C, I, E]) ChunkKey() C { return cs.chunkKey }

func (cs *ChunkStorage[C, I, E]) Len() int { return cs.items.Len() }

func (cs *ChunkStorage[C, I, E]) IsEmpty() bool { return cs.items.Len() == 0 }

// Add inserts a record, replacing any record with the same item key.
// It reports whether the record was new.
func (cs *ChunkStorage[C, I, E]) Add(e E) bool {
	key := e.ItemKey()
	if pos, ok := cs.index.Get(key); ok {
		cs.items.Set(pos, e)
		return false
	}

	cs.index.Put(key, cs.items.Len())
	cs.items.Push(e)
	return true
}

// Extend adds records that must all belong to this chunk.
// It panics on a record with a different chunk key.
func (cs *ChunkStorage[C, I, E]) Extend(records []E) int {
	added := 0
	for _, e := range records {
		if ck := e.ChunkKey(); ck != cs.chunkKey {
			panic(fmt.Sprintf("chunkdb: record with chunk key %v added to chunk %v", ck, cs.chunkKey))
		}
		if cs.Add(e) {
			added++
		}
	}
	return added
}

func (cs *ChunkStorage[C, I, E]) Get(item I) (E, bool) {
	pos, ok := cs.index.Get(item)
	if !ok {
		var zero E
		return zero, false
	}
	return cs.items.At(pos), true
}

// Entry returns a handle for the record with the given item key, which may
// not exist yet.
func (cs *ChunkStorage[C, I, E]) Entry(item I) *Entry[C, I, E] {
	return newEntry(cs, item, nil)
}

// Iter yields every record of the chunk.
func (cs *ChunkStorage[C, I, E]) Iter() iter.Seq[E] {
	return slices.Values(cs.items.Items())
}

// Raw exposes the records as a slice. Callers must not modify it.
func (cs *ChunkStorage[C, I, E]) Raw() []E { return cs.items.Items() }

// Slice copies the records into a new slice.
func (cs *ChunkStorage[C, I, E]) Slice() []E { return slices.Clone(cs.items.Items()) }

func (cs *ChunkStorage[C, I, E]) Query(q Query[C, I, E]) iter.Seq[E] {
	return func(yield func(E) bool) {
		for pos := range q.ItemIdxs(cs).All() {
			if !yield(cs.items.At(pos)) {
				return
			}
		}
	}
}

// Modify calls fn with an Editor for every record selected by q.
// It returns the number of records obtained for mutation.
func (cs *ChunkStorage[C, I, E]) Modify(q Query[C, I, E], fn func(*Editor[C, I, E])) int {
	ed := &Editor[C, I, E]{chunk: cs}

	n := 0
	for pos := range q.ItemIdxs(cs).All() {
		ed.reset(pos)
		fn(ed)
		if ed.mutated {
			ed.checkIdentity()
			n++
		}
	}
	return n
}

// Remove deletes every record selected by q and hands it to fn, which may be nil.
// It returns the number of removed records.
func (cs *ChunkStorage[C, I, E]) Remove(q Query[C, I, E], fn func(E)) int {
	positions := q.ItemIdxs(cs).Collect()
	for i := len(positions) - 1; i >= 0; i-- {
		e := cs.removeAt(positions[i])
		if fn != nil {
			fn(e)
		}
	}
	return len(positions)
}

// removeAt must be called in descending position order when removing several
// records, so earlier positions stay valid.
func (cs *ChunkStorage[C, I, E]) removeAt(pos int) E {
	e := cs.items.SwapRemove(pos)
	cs.index.Delete(e.ItemKey())
	if pos < cs.items.Len() {
		cs.index.Put(cs.items.At(pos).ItemKey(), pos)
	}
	return e
}

// Validate panics if the chunk is malformed. It is slow.
func (cs *ChunkStorage[C, I, E]) Validate() {
	if cs.index.Len() != cs.items.Len() {
		panic(fmt.Sprintf("chunkdb: chunk %v: index has %d keys for %d records", cs.chunkKey, cs.index.Len(), cs.items.Len()))
	}

	for pos, e := range cs.items.Items() {
		if ck := e.ChunkKey(); ck != cs.chunkKey {
			panic(fmt.Sprintf("chunkdb: chunk %v: record at %d has chunk key %v", cs.chunkKey, pos, ck))
		}
		if got, ok := cs.index.Get(e.ItemKey()); !ok || got != pos {
			panic(fmt.Sprintf("chunkdb: chunk %v: item %v at %d not indexed (got %d, %v)", cs.chunkKey, e.ItemKey(), pos, got, ok))
		}
	}
}

func (cs *ChunkStorage[C, I, E]) MemoryUsage() common.MemoryUsage {
	return cs.items.MemoryUsage().Merge(cs.index.MemoryUsage())
}

func (cs *ChunkStorage[C, I, E]) ShrinkWith(policy common.ShrinkPolicy) {
	cs.items.ShrinkWith(policy)
	cs.index.ShrinkWith(policy)
}
