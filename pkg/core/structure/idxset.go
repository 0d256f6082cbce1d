package structure

import (
	"iter"
	"slices"
)

type idxMode uint8

const (
	modeEmpty idxMode = iota
	modeRange
	modeList
)

// IdxSet is a set of positions to visit: nothing, every position in [0, n), or
// an ascending list. A set may carry a lazy filter that is evaluated per
// position while iterating.
//
// The full range is the common case and never allocates.
type IdxSet struct {
	mode   idxMode
	n      int
	list   []int
	filter func(int) bool
}

func Empty() IdxSet { return IdxSet{} }

// Range is every position in [0, n).
func Range(n int) IdxSet {
	if n <= 0 {
		return Empty()
	}
	return IdxSet{mode: modeRange, n: n}
}

// List builds a set from arbitrary positions. Negative positions and
// duplicates are dropped.
func List(idxs ...int) IdxSet {
	list := slices.Clone(idxs)
	slices.Sort(list)
	list = slices.Compact(list)
	for len(list) > 0 && list[0] < 0 {
		list = list[1:]
	}
	return sortedList(list)
}

// sortedList trusts the caller that list is ascending and unique.
func sortedList(list []int) IdxSet {
	if len(list) == 0 {
		return Empty()
	}
	return IdxSet{mode: modeList, list: list}
}

// IsEmpty reports whether the set is structurally empty. A set with a filter
// may still yield nothing even when IsEmpty is false.
func (s IdxSet) IsEmpty() bool { return s.mode == modeEmpty }

// IsRange reports whether the set is an unfiltered full range.
func (s IdxSet) IsRange() bool { return s.mode == modeRange && s.filter == nil }

func (s IdxSet) Contains(i int) bool {
	switch s.mode {
	case modeRange:
		if i < 0 || i >= s.n {
			return false
		}
	case modeList:
		if _, ok := slices.BinarySearch(s.list, i); !ok {
			return false
		}
	default:
		return false
	}
	return s.filter == nil || s.filter(i)
}

// Filter narrows the set with a predicate evaluated lazily per position.
func (s IdxSet) Filter(pred func(int) bool) IdxSet {
	if s.mode == modeEmpty || pred == nil {
		return s
	}
	s.filter = and(s.filter, pred)
	return s
}

// Intersect keeps positions present in both sets. Filters of both sides apply.
func (s IdxSet) Intersect(o IdxSet) IdxSet {
	var r IdxSet
	switch {
	case s.mode == modeEmpty || o.mode == modeEmpty:
		return Empty()
	case s.mode == modeRange && o.mode == modeRange:
		r = Range(min(s.n, o.n))
	case s.mode == modeRange:
		r = o.below(s.n)
	case o.mode == modeRange:
		r = s.below(o.n)
	default:
		r = sortedList(intersectSorted(s.list, o.list))
	}
	if r.mode == modeEmpty {
		return r
	}
	r.filter = and(s.filter, o.filter)
	return r
}

func (s IdxSet) below(n int) IdxSet {
	cut, _ := slices.BinarySearch(s.list, n)
	return sortedList(s.list[:cut])
}

// All yields positions in ascending order.
func (s IdxSet) All() iter.Seq[int] {
	return func(yield func(int) bool) {
		switch s.mode {
		case modeRange:
			for i := 0; i < s.n; i++ {
				if s.filter != nil && !s.filter(i) {
					continue
				}
				if !yield(i) {
					return
				}
			}
		case modeList:
			for _, i := range s.list {
				if s.filter != nil && !s.filter(i) {
					continue
				}
				if !yield(i) {
					return
				}
			}
		}
	}
}

// Collect materializes the set, evaluating any filter now.
func (s IdxSet) Collect() []int {
	if s.mode == modeList && s.filter == nil {
		return slices.Clone(s.list)
	}
	return slices.Collect(s.All())
}

func and(a, b func(int) bool) func(int) bool {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	}
	return func(i int) bool { return a(i) && b(i) }
}

func intersectSorted(a, b []int) []int {
	var out []int
	for i, j := 0, 0; i < len(a) && j < len(b); {
		switch {
		case a[i] < b[j]:
			i++
		case a[i] > b[j]:
			j++
		default:
			out = append(out, a[i])
			i++
			j++
		}
	}
	return out
}
