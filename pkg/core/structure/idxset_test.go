package structure

import (
	"testing"

	"chunkdb/pkg/common"

	"github.com/google/go-cmp/cmp"
)

func TestIdxSetShapes(t *testing.T) {
	if got := Empty().Collect(); len(got) != 0 {
		t.Fatalf("expected empty, got %v", got)
	}
	if !Range(0).IsEmpty() {
		t.Fatal("Range(0) should be empty")
	}
	if !Range(4).IsRange() {
		t.Fatal("Range(4) should be a range")
	}
	if diff := cmp.Diff([]int{0, 1, 2, 3}, Range(4).Collect()); diff != "" {
		t.Fatalf("range mismatch:\n%s", diff)
	}
	if diff := cmp.Diff([]int{1, 3, 9}, List(9, -2, 3, 1, 3).Collect()); diff != "" {
		t.Fatalf("list mismatch:\n%s", diff)
	}
	if !List().IsEmpty() || !List(-1).IsEmpty() {
		t.Fatal("list without valid positions should be empty")
	}
}

func TestIdxSetContains(t *testing.T) {
	r := Range(5)
	for _, tc := range []struct {
		pos  int
		want bool
	}{{-1, false}, {0, true}, {4, true}, {5, false}} {
		if got := r.Contains(tc.pos); got != tc.want {
			t.Errorf("Range(5).Contains(%d): expected %v, got %v", tc.pos, tc.want, got)
		}
	}

	l := List(2, 7).Filter(func(i int) bool { return i != 7 })
	if !l.Contains(2) || l.Contains(7) || l.Contains(3) {
		t.Fatal("filtered list membership is wrong")
	}
}

func TestIdxSetIntersect(t *testing.T) {
	tests := []struct {
		name string
		a, b IdxSet
		want []int
	}{
		{"range range", Range(5), Range(3), []int{0, 1, 2}},
		{"range list", Range(4), List(1, 3, 6), []int{1, 3}},
		{"list range", List(0, 5, 8), Range(6), []int{0, 5}},
		{"list list", List(1, 2, 3, 8), List(2, 3, 4, 8), []int{2, 3, 8}},
		{"empty", Empty(), Range(10), nil},
		{"disjoint", List(1), List(2), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.a.Intersect(tt.b).Collect()
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Fatalf("intersect mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestIdxSetFiltersAreLazyAndCombined(t *testing.T) {
	calls := 0
	even := Range(10).Filter(func(i int) bool {
		calls++
		return i%2 == 0
	})
	if calls != 0 {
		t.Fatalf("filter evaluated eagerly: %d calls", calls)
	}

	notSix := List(2, 4, 6, 7).Filter(func(i int) bool { return i != 6 })
	got := even.Intersect(notSix).Collect()
	if diff := cmp.Diff([]int{2, 4}, got); diff != "" {
		t.Fatalf("combined filter mismatch:\n%s", diff)
	}
	if calls == 0 {
		t.Fatal("filter never evaluated")
	}

	// stopping early stops evaluation
	calls = 0
	for range even.All() {
		break
	}
	if calls != 1 {
		t.Fatalf("expected 1 evaluation before break, got %d", calls)
	}
}

func TestPosSet(t *testing.T) {
	ps := NewPosSet()
	for _, p := range []int{5, 1, 9, 1} {
		ps.Put(p)
	}
	if ps.Count() != 3 {
		t.Fatalf("expected 3 positions, got %d", ps.Count())
	}
	if !ps.Has(9) || ps.Has(2) {
		t.Fatal("membership is wrong")
	}
	if !ps.Delete(9) || ps.Delete(9) {
		t.Fatal("delete should succeed exactly once")
	}

	var walked []int
	ps.Iterator(func(pos int) bool {
		walked = append(walked, pos)
		return true
	})
	if diff := cmp.Diff([]int{1, 5}, walked); diff != "" {
		t.Fatalf("iteration order mismatch:\n%s", diff)
	}

	snap := ps.IdxSet()
	ps.Put(3)
	if diff := cmp.Diff([]int{1, 5}, snap.Collect()); diff != "" {
		t.Fatalf("IdxSet must be a snapshot:\n%s", diff)
	}
}

func TestKeyIndexCapacity(t *testing.T) {
	ki := NewKeyIndex[string](0)
	for i, k := range []string{"a", "b", "c", "d"} {
		ki.Put(k, i)
	}
	ki.Delete("a")
	ki.Delete("b")
	if pos, ok := ki.Delete("zz"); ok {
		t.Fatalf("deleted missing key at %d", pos)
	}

	if got := ki.MemoryUsage(); got != (common.MemoryUsage{Len: 2, Capacity: 4}) {
		t.Fatalf("expected len 2 cap 4, got %+v", got)
	}
	ki.ShrinkWith(common.ShrinkToFit)
	if got := ki.MemoryUsage(); got != (common.MemoryUsage{Len: 2, Capacity: 2}) {
		t.Fatalf("expected len 2 cap 2 after shrink, got %+v", got)
	}
	if pos, ok := ki.Get("d"); !ok || pos != 3 {
		t.Fatalf("expected d at 3, got %d %v", pos, ok)
	}
}
