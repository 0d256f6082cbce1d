package structure

import (
	"slices"
	"sync/atomic"

	"chunkdb/pkg/common"
)

// blockSize is the number of slots covered by one block stamp. Reduce skips a
// whole block when its stamp is older than the summary.
const blockSize = 64

var seqIDs atomic.Uint64

// Seq is a dense sequence that remembers which slots changed.
//
// Every mutation stamps the affected slot with the next value of the sequence
// clock. A consumer keeps a Summary and calls Reduce to visit only the slots
// that changed since its previous traversal. Any number of consumers can track
// the same Seq independently.
type Seq[T any] struct {
	id     uint64
	clock  uint64
	items  []T
	stamps []uint64
	blocks []uint64
}

func NewSeq[T any](capacity int) *Seq[T] {
	if capacity < 0 {
		capacity = 0
	}
	return &Seq[T]{
		id:     seqIDs.Add(1),
		items:  make([]T, 0, capacity),
		stamps: make([]uint64, 0, capacity),
	}
}

// ID is unique per process. Summaries use it to notice that they were computed
// against another sequence.
func (q *Seq[T]) ID() uint64 { return q.id }

// Clock is the stamp of the most recent mutation.
func (q *Seq[T]) Clock() uint64 { return q.clock }

func (q *Seq[T]) Len() int { return len(q.items) }

func (q *Seq[T]) At(i int) T { return q.items[i] }

// Items exposes the backing slice. Callers must not modify it.
func (q *Seq[T]) Items() []T { return q.items }

// Ptr returns a mutable pointer to slot i and stamps it. The pointer is valid
// until the next Push or SwapRemove.
func (q *Seq[T]) Ptr(i int) *T {
	q.Touch(i)
	return &q.items[i]
}

// Touch marks slot i as changed.
func (q *Seq[T]) Touch(i int) {
	q.clock++
	q.stamps[i] = q.clock
	q.blocks[i/blockSize] = q.clock
}

func (q *Seq[T]) Set(i int, v T) {
	q.items[i] = v
	q.Touch(i)
}

func (q *Seq[T]) Push(v T) {
	q.items = append(q.items, v)
	q.stamps = append(q.stamps, 0)
	if len(q.items) > len(q.blocks)*blockSize {
		q.blocks = append(q.blocks, 0)
	}
	q.Touch(len(q.items) - 1)
}

// SwapRemove removes slot i by moving the last element into it.
// The displaced slot is stamped; the vacated tail slot simply disappears.
func (q *Seq[T]) SwapRemove(i int) T {
	last := len(q.items) - 1
	v := q.items[i]
	if i != last {
		q.items[i] = q.items[last]
		q.Touch(i)
	} else {
		q.clock++
	}

	var zero T
	q.items[last] = zero
	q.items = q.items[:last]
	q.stamps = q.stamps[:last]
	if need := (last + blockSize - 1) / blockSize; need < len(q.blocks) {
		q.blocks = q.blocks[:need]
	}
	return v
}

func (q *Seq[T]) MemoryUsage() common.MemoryUsage {
	return common.MemoryUsage{Len: len(q.items), Capacity: cap(q.items)}
}

func (q *Seq[T]) ShrinkWith(policy common.ShrinkPolicy) {
	minCap, ok := policy(q.MemoryUsage())
	if !ok {
		return
	}
	if minCap < len(q.items) {
		minCap = len(q.items)
	}
	if minCap >= cap(q.items) {
		return
	}

	items := make([]T, len(q.items), minCap)
	copy(items, q.items)
	q.items = items
	q.stamps = slices.Clip(slices.Clone(q.stamps))
	q.blocks = slices.Clip(slices.Clone(q.blocks))
}

// Summary is consumer-owned state for Reduce: one summary value per slot, plus
// the clock it was last brought up to date with.
type Summary[S any] struct {
	seq   uint64
	seen  uint64
	slots []S
}

// Len is the number of slots the summary knows about.
func (s *Summary[S]) Len() int { return len(s.slots) }

// At returns the summary of slot i.
func (s *Summary[S]) At(i int) S { return s.slots[i] }

// Seen is the clock value of the last Reduce.
func (s *Summary[S]) Seen() uint64 { return s.seen }

// Current reports whether the summary already reflects every change of q.
func (s *Summary[S]) Current(seqID, clock uint64) bool {
	return s.seq == seqID && s.seen == clock
}

// Reduce brings sum up to date with q, calling fn only for slots that changed.
//
// fn receives the slot number, the current element (nil if the slot no longer
// exists) and the previous summary (nil if the slot is new). Its result becomes
// the slot's summary; it is ignored for vanished slots. Vanished slots are
// reported first, from the highest slot down.
func Reduce[T, S any](q *Seq[T], sum *Summary[S], fn func(slot int, cur *T, prev *S) S) {
	if sum.seq != q.id {
		for i := len(sum.slots) - 1; i >= 0; i-- {
			fn(i, nil, &sum.slots[i])
		}
		sum.seq = q.id
		sum.seen = 0
		sum.slots = sum.slots[:0]
	}

	n := len(q.items)
	for i := len(sum.slots) - 1; i >= n; i-- {
		fn(i, nil, &sum.slots[i])
	}

	old := min(len(sum.slots), n)
	clear(sum.slots[old:])
	sum.slots = sum.slots[:old]

	for b := 0; b*blockSize < old; b++ {
		if q.blocks[b] <= sum.seen {
			continue
		}
		end := min((b+1)*blockSize, old)
		for i := b * blockSize; i < end; i++ {
			if q.stamps[i] > sum.seen {
				sum.slots[i] = fn(i, &q.items[i], &sum.slots[i])
			}
		}
	}

	for i := old; i < n; i++ {
		sum.slots = append(sum.slots, fn(i, &q.items[i], nil))
	}

	sum.seen = q.clock
}
