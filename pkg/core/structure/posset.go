package structure

import (
	"github.com/google/btree"
)

const posSetDegree = 16

// PosSet is an ordered set of item positions backed by a B-tree, so that
// membership changes stay O(log n) and iteration follows position order.
type PosSet struct {
	tree *btree.BTreeG[int]
}

func NewPosSet() *PosSet {
	return &PosSet{
		tree: btree.NewOrderedG[int](posSetDegree),
	}
}

func (ps *PosSet) Put(pos int) {
	ps.tree.ReplaceOrInsert(pos)
}

func (ps *PosSet) Delete(pos int) bool {
	_, ok := ps.tree.Delete(pos)
	return ok
}

func (ps *PosSet) Has(pos int) bool {
	return ps.tree.Has(pos)
}

func (ps *PosSet) Count() int {
	return ps.tree.Len()
}

// Iterator walks positions in ascending order until fn returns false.
func (ps *PosSet) Iterator(fn func(pos int) bool) {
	ps.tree.Ascend(func(pos int) bool {
		return fn(pos)
	})
}

// IdxSet snapshots the positions into an IdxSet.
func (ps *PosSet) IdxSet() IdxSet {
	list := make([]int, 0, ps.tree.Len())
	ps.tree.Ascend(func(pos int) bool {
		list = append(list, pos)
		return true
	})
	return sortedList(list)
}
