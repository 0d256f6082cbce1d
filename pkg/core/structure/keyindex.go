package structure

import (
	"iter"
	"maps"

	"chunkdb/pkg/common"
)

// KeyIndex maps keys to positions.
//
// Go maps never give memory back, so the index remembers its peak size and
// reports it as capacity; shrinking rebuilds the map.
type KeyIndex[K comparable] struct {
	m    map[K]int
	peak int
}

func NewKeyIndex[K comparable](capacity int) *KeyIndex[K] {
	return &KeyIndex[K]{m: make(map[K]int, capacity), peak: capacity}
}

func (ki *KeyIndex[K]) Get(k K) (int, bool) {
	pos, ok := ki.m[k]
	return pos, ok
}

func (ki *KeyIndex[K]) Put(k K, pos int) {
	ki.m[k] = pos
	if len(ki.m) > ki.peak {
		ki.peak = len(ki.m)
	}
}

func (ki *KeyIndex[K]) Delete(k K) (int, bool) {
	pos, ok := ki.m[k]
	if ok {
		delete(ki.m, k)
	}
	return pos, ok
}

func (ki *KeyIndex[K]) Len() int { return len(ki.m) }

func (ki *KeyIndex[K]) All() iter.Seq2[K, int] { return maps.All(ki.m) }

func (ki *KeyIndex[K]) MemoryUsage() common.MemoryUsage {
	return common.MemoryUsage{Len: len(ki.m), Capacity: max(ki.peak, len(ki.m))}
}

func (ki *KeyIndex[K]) ShrinkWith(policy common.ShrinkPolicy) {
	minCap, ok := policy(ki.MemoryUsage())
	if !ok {
		return
	}
	minCap = max(minCap, len(ki.m))
	m := make(map[K]int, minCap)
	maps.Copy(m, ki.m)
	ki.m = m
	ki.peak = minCap
}
