package core

import (
	"chunkdb/pkg/common"
	"chunkdb/pkg/core/structure"
)

// Query describes which chunks, and which records inside each chunk, an
// operation visits.
//
// ChunkIdxs is resolved once per operation against the Storage; ItemIdxs is
// then resolved for every selected chunk. Combinators only ever narrow the
// set they wrap.
type Query[C, I comparable, E common.Record[C, I]] interface {
	ChunkIdxs(s *Storage[C, I, E]) structure.IdxSet
	ItemIdxs(cs *ChunkStorage[C, I, E]) structure.IdxSet
}

type everything[C, I comparable, E common.Record[C, I]] struct{}

// Everything visits every record.
func Everything[C, I comparable, E common.Record[C, I]]() Query[C, I, E] {
	return everything[C, I, E]{}
}

func (everything[C, I, E]) ChunkIdxs(s *Storage[C, I, E]) structure.IdxSet {
	return structure.Range(s.chunks.Len())
}

func (everything[C, I, E]) ItemIdxs(cs *ChunkStorage[C, I, E]) structure.IdxSet {
	return structure.Range(cs.Len())
}

type chunks[C, I comparable, E common.Record[C, I]] struct {
	keys []C
}

// Chunks visits every record of the listed chunks. Unknown chunk keys are
// ignored.
func Chunks[C, I comparable, E common.Record[C, I]](keys ...C) Query[C, I, E] {
	return chunks[C, I, E]{keys: keys}
}

func (q chunks[C, I, E]) ChunkIdxs(s *Storage[C, I, E]) structure.IdxSet {
	idxs := make([]int, 0, len(q.keys))
	for _, k := range q.keys {
		if idx, ok := s.index.Get(k); ok {
			idxs = append(idxs, idx)
		}
	}
	return structure.List(idxs...)
}

func (q chunks[C, I, E]) ItemIdxs(cs *ChunkStorage[C, I, E]) structure.IdxSet {
	return structure.Range(cs.Len())
}

type byID[C, I comparable, E common.Record[C, I]] struct {
	id common.Identity[C, I]
}

// ByID visits the single record with the given keys, if it exists.
func ByID[C, I comparable, E common.Record[C, I]](chunkKey C, item I) Query[C, I, E] {
	return byID[C, I, E]{id: common.ID(chunkKey, item)}
}

func (q byID[C, I, E]) ChunkIdxs(s *Storage[C, I, E]) structure.IdxSet {
	if idx, ok := s.index.Get(q.id.Chunk); ok {
		return structure.List(idx)
	}
	return structure.Empty()
}

func (q byID[C, I, E]) ItemIdxs(cs *ChunkStorage[C, I, E]) structure.IdxSet {
	if cs.chunkKey != q.id.Chunk {
		return structure.Empty()
	}
	if pos, ok := cs.index.Get(q.id.Item); ok {
		return structure.List(pos)
	}
	return structure.Empty()
}

type filter[C, I comparable, E common.Record[C, I]] struct {
	inner Query[C, I, E]
	pred  func(E) bool
}

// Filter narrows q to records satisfying pred. The predicate is evaluated
// lazily, once per visited record, and never cached.
func Filter[C, I comparable, E common.Record[C, I]](q Query[C, I, E], pred func(E) bool) Query[C, I, E] {
	return filter[C, I, E]{inner: q, pred: pred}
}

func (q filter[C, I, E]) ChunkIdxs(s *Storage[C, I, E]) structure.IdxSet {
	return q.inner.ChunkIdxs(s)
}

func (q filter[C, I, E]) ItemIdxs(cs *ChunkStorage[C, I, E]) structure.IdxSet {
	return q.inner.ItemIdxs(cs).Filter(func(pos int) bool {
		return q.pred(cs.items.At(pos))
	})
}

type matching[C, I comparable, E common.Record[C, I], K comparable] struct {
	inner Query[C, I, E]
	index *SecondaryIndex[C, I, E, K]
	key   K
}

// Matching narrows q to records whose projection in index equals key.
// The index is brought up to date with the storage before it is consulted.
func Matching[C, I comparable, E common.Record[C, I], K comparable](q Query[C, I, E], index *SecondaryIndex[C, I, E, K], key K) Query[C, I, E] {
	return matching[C, I, E, K]{inner: q, index: index, key: key}
}

func (q matching[C, I, E, K]) ChunkIdxs(s *Storage[C, I, E]) structure.IdxSet {
	q.index.Sync(s)
	return q.inner.ChunkIdxs(s).Filter(func(idx int) bool {
		return q.index.chunkHas(s.chunks.At(idx).chunkKey, q.key)
	})
}

func (q matching[C, I, E, K]) ItemIdxs(cs *ChunkStorage[C, I, E]) structure.IdxSet {
	return q.inner.ItemIdxs(cs).Intersect(q.index.positions(cs.chunkKey, q.key))
}
