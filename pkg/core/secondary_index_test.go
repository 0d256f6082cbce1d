package core

import (
	"bytes"
	"log"
	"math/rand"
	"slices"
	"strings"
	"testing"

	"chunkdb/pkg/common"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func sign(r rec) (string, bool) {
	switch {
	case r.Value < 0:
		return "negative", true
	case r.Value > 0:
		return "positive", true
	}
	return "", false
}

func matchedItems(s *Storage[uint8, string, rec], ix *SecondaryIndex[uint8, string, rec, string], key string) []string {
	var items []string
	for r := range s.Query(Matching(Everything[uint8, string, rec](), ix, key)) {
		items = append(items, r.Item)
	}
	slices.Sort(items)
	return items
}

func TestSecondaryIndexFollowsEntryMutation(t *testing.T) {
	s := newTestStorage(t,
		common.T[uint8, string, int64](1, "a", 5),
		common.T[uint8, string, int64](1, "b", -3),
		common.T[uint8, string, int64](2, "c", 7),
	)
	ix := NewSecondaryIndex(s, sign)

	if diff := cmp.Diff([]string{"b"}, matchedItems(s, ix, "negative")); diff != "" {
		t.Fatalf("negative mismatch:\n%s", diff)
	}

	e := s.Entry(1, "a")
	p, ok := e.GetMut()
	if !ok {
		t.Fatal("expected entry (1,a) to exist")
	}
	p.Value = -1

	if ix.Synchronized(s) {
		t.Fatal("index should be stale after GetMut")
	}
	if diff := cmp.Diff([]string{"a", "b"}, matchedItems(s, ix, "negative")); diff != "" {
		t.Fatalf("negative after mutation mismatch:\n%s", diff)
	}
	if diff := cmp.Diff([]string{"c"}, matchedItems(s, ix, "positive")); diff != "" {
		t.Fatalf("positive after mutation mismatch:\n%s", diff)
	}
	if !ix.Synchronized(s) {
		t.Fatal("index should be synchronized after a lookup")
	}
	ix.Validate(s)
}

func TestSecondaryIndexIgnoresReadOnlyTraversal(t *testing.T) {
	s := newTestStorage(t,
		common.T[uint8, string, int64](1, "a", 5),
		common.T[uint8, string, int64](1, "b", -3),
		common.T[uint8, string, int64](2, "c", 7),
	)
	ix := NewSecondaryIndex(s, sign)
	ix.Sync(s)
	resyncs := s.Stats().Snapshot().Resyncs

	seen := 0
	s.Modify(Everything[uint8, string, rec](), func(ed *Editor[uint8, string, rec]) {
		_ = ed.Get()
		seen++
	})
	if seen != 3 {
		t.Fatalf("expected Modify to visit 3 records, got %d", seen)
	}
	if !ix.Synchronized(s) {
		t.Fatal("index went stale after a read-only Modify")
	}

	for range s.Query(Everything[uint8, string, rec]()) {
	}
	if !ix.Synchronized(s) {
		t.Fatal("index went stale after Query")
	}

	if r, ok := s.Entry(1, "a").Get(); !ok || r.Value != 5 {
		t.Fatalf("expected (1,a)=5, got %v, %v", r, ok)
	}
	if !ix.Synchronized(s) {
		t.Fatal("index went stale after Entry.Get")
	}
	if got := s.Stats().Snapshot().Resyncs; got != resyncs {
		t.Fatalf("expected no resync, got %d more", got-resyncs)
	}

	s.Modify(Chunks[uint8, string, rec](2), func(ed *Editor[uint8, string, rec]) {
		ed.GetMut().Value = -7
	})
	if ix.Synchronized(s) {
		t.Fatal("index should be stale after Editor.GetMut")
	}
	if diff := cmp.Diff([]string{"b", "c"}, matchedItems(s, ix, "negative")); diff != "" {
		t.Fatalf("negative mismatch:\n%s", diff)
	}
	ix.Validate(s)
}

func TestSecondaryIndexSkipsUnprojectedRecords(t *testing.T) {
	s := newTestStorage(t,
		common.T[uint8, string, int64](1, "zero", 0),
		common.T[uint8, string, int64](1, "one", 1),
	)
	ix := NewSecondaryIndex(s, sign)
	ix.Sync(s)

	if ix.Len() != 1 {
		t.Fatalf("expected 1 indexed record, got %d", ix.Len())
	}
	keys := slices.Collect(ix.Keys())
	if diff := cmp.Diff([]string{"positive"}, keys); diff != "" {
		t.Fatalf("keys mismatch:\n%s", diff)
	}
	if got := ix.Count("negative"); got != 0 {
		t.Fatalf("expected no negatives, got %d", got)
	}
}

func TestSecondaryIndexAfterRemoveChunkAndReAdd(t *testing.T) {
	s := newTestStorage(t,
		common.T[uint8, string, int64](1, "a", -1),
		common.T[uint8, string, int64](1, "b", -2),
		common.T[uint8, string, int64](2, "c", 3),
	)
	ix := NewSecondaryIndex(s, sign)
	ix.Sync(s)

	s.RemoveChunk(1)
	s.Add(common.T[uint8, string, int64](1, "z", 9))

	if got := matchedItems(s, ix, "negative"); len(got) != 0 {
		t.Fatalf("expected no negatives, got %v", got)
	}
	if diff := cmp.Diff([]string{"c", "z"}, matchedItems(s, ix, "positive")); diff != "" {
		t.Fatalf("positive mismatch:\n%s", diff)
	}
	ix.Validate(s)
}

func TestSecondaryIndexAfterDissolve(t *testing.T) {
	s := newTestStorage(t, common.T[uint8, string, int64](1, "a", -1))
	ix := NewSecondaryIndex(s, sign)
	ix.Sync(s)

	groups := s.Dissolve()
	if got := matchedItems(s, ix, "negative"); len(got) != 0 {
		t.Fatalf("expected empty index after dissolve, got %v", got)
	}

	s.AddChunks(groups)
	if diff := cmp.Diff([]string{"a"}, matchedItems(s, ix, "negative")); diff != "" {
		t.Fatalf("reloaded mismatch:\n%s", diff)
	}
	ix.Validate(s)
}

func TestSecondaryIndexWrongStoragePanics(t *testing.T) {
	a := newTestStorage(t, common.T[uint8, string, int64](1, "a", 1))
	b := newTestStorage(t, common.T[uint8, string, int64](1, "a", 1))
	ix := NewSecondaryIndex(a, sign)

	mustPanic(t, "chunkdb: secondary index of storage", func() {
		for range b.Query(Matching(Everything[uint8, string, rec](), ix, "positive")) {
		}
	})
}

func TestSecondaryIndexLogsResync(t *testing.T) {
	var buf bytes.Buffer
	s := NewWithOptions[uint8, string, rec](Options{Logger: log.New(&buf, "", 0)})
	s.Add(common.T[uint8, string, int64](1, "a", 1))

	ix := NewSecondaryIndex(s, sign)
	ix.Sync(s)
	ix.Sync(s)

	if !strings.Contains(buf.String(), "[Index]") {
		t.Fatalf("expected index log, got %q", buf.String())
	}
	if got := s.Stats().Snapshot().Resyncs; got != 1 {
		t.Fatalf("expected exactly 1 resync, got %d", got)
	}
}

// Random interleavings of every mutating API must leave the index equal to a
// brute-force projection of the storage.
func TestSecondaryIndexRandomInterleaving(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	s := New[uint8, string, rec]()
	ix := NewSecondaryIndex(s, sign)
	other := NewSecondaryIndex(s, func(r rec) (int64, bool) { return r.Value % 3, true })

	items := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	randRec := func() rec {
		return common.T(uint8(rng.Intn(6)), items[rng.Intn(len(items))], int64(rng.Intn(21)-10))
	}

	opt := cmpopts.SortSlices(lessRec)
	for step := 0; step < 2000; step++ {
		switch rng.Intn(9) {
		case 0, 1:
			s.Add(randRec())
		case 2:
			r := randRec()
			s.Entry(r.Chunk, r.Item).AndModify(func(p *rec) { p.Value = -p.Value })
		case 3:
			r := randRec()
			s.Entry(r.Chunk, r.Item).OrInsert(r)
		case 4:
			r := randRec()
			s.Entry(r.Chunk, r.Item).Remove()
		case 5:
			threshold := int64(rng.Intn(21) - 10)
			s.Remove(Filter(Everything[uint8, string, rec](), func(r rec) bool { return r.Value < threshold }), nil)
		case 6:
			s.RemoveChunk(uint8(rng.Intn(6)))
		case 7:
			key := []string{"negative", "positive"}[rng.Intn(2)]
			s.Modify(Matching(Everything[uint8, string, rec](), ix, key), func(ed *Editor[uint8, string, rec]) {
				if rng.Intn(2) == 0 {
					ed.GetMut().Value++
				}
			})
		case 8:
			chunk := uint8(rng.Intn(6))
			s.Modify(Chunks[uint8, string, rec](chunk), func(ed *Editor[uint8, string, rec]) {
				if ed.Get().Value == 0 {
					ed.GetMut().Value = 4
				}
			})
		}

		if step%25 != 0 {
			continue
		}
		s.Validate()
		ix.Validate(s)
		other.Validate(s)

		for _, key := range []string{"negative", "positive"} {
			var want []rec
			for r := range s.Iter() {
				if k, ok := sign(r); ok && k == key {
					want = append(want, r)
				}
			}
			got := slices.Collect(s.Query(Matching(Everything[uint8, string, rec](), ix, key)))
			if diff := cmp.Diff(want, got, opt, cmpopts.EquateEmpty()); diff != "" {
				t.Fatalf("step %d: %s mismatch (-want +got):\n%s", step, key, diff)
			}
		}
	}
}

func TestMatchingCombinesWithOtherQueries(t *testing.T) {
	s := newTestStorage(t,
		common.T[uint8, string, int64](1, "a", -1),
		common.T[uint8, string, int64](1, "b", -20),
		common.T[uint8, string, int64](2, "c", -3),
		common.T[uint8, string, int64](2, "d", 4),
	)
	ix := NewSecondaryIndex(s, sign)

	q := Filter(Matching(Chunks[uint8, string, rec](1), ix, "negative"), func(r rec) bool { return r.Value > -10 })
	got := slices.Collect(s.Query(q))
	if diff := cmp.Diff([]rec{common.T[uint8, string, int64](1, "a", -1)}, got); diff != "" {
		t.Fatalf("combined query mismatch:\n%s", diff)
	}

	byID := slices.Collect(s.Query(Matching(ByID[uint8, string, rec](2, "d"), ix, "negative")))
	if len(byID) != 0 {
		t.Fatalf("expected nothing, got %v", byID)
	}
}
