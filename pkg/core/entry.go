package core

import (
	"fmt"

	"chunkdb/pkg/common"
)

// Entry is a handle on one (chunk key, item key) pair that may or may not
// exist. It is valid until the next mutation of the owning Storage.
type Entry[C, I comparable, E common.Record[C, I]] struct {
	chunk *ChunkStorage[C, I, E]
	item  I
	pos   int
	found bool

	// owner hooks; nil for entries taken directly from a ChunkStorage
	onMutate func()
	onRemove func()
}

func newEntry[C, I comparable, E common.Record[C, I]](cs *ChunkStorage[C, I, E], item I, onMutate func()) *Entry[C, I, E] {
	pos, found := cs.index.Get(item)
	return &Entry[C, I, E]{
		chunk:    cs,
		item:     item,
		pos:      pos,
		found:    found,
		onMutate: onMutate,
	}
}

func (e *Entry[C, I, E]) ChunkKey() C { return e.chunk.chunkKey }
func (e *Entry[C, I, E]) ItemKey() I  { return e.item }

func (e *Entry[C, I, E]) Exists() bool { return e.found }

func (e *Entry[C, I, E]) Get() (E, bool) {
	if !e.found {
		var zero E
		return zero, false
	}
	return e.chunk.items.At(e.pos), true
}

// GetMut returns a pointer to the record. Secondary indexes will re-project
// the record on their next use.
func (e *Entry[C, I, E]) GetMut() (*E, bool) {
	if !e.found {
		return nil, false
	}
	e.mutated()
	return e.chunk.items.Ptr(e.pos), true
}

// AndModify calls fn only if the record exists.
func (e *Entry[C, I, E]) AndModify(fn func(*E)) *Entry[C, I, E] {
	if p, ok := e.GetMut(); ok {
		fn(p)
	}
	return e
}

// OrInsertWith inserts the record built by fn if it is absent and returns a
// pointer to the stored record. fn must build a record with the entry's keys.
func (e *Entry[C, I, E]) OrInsertWith(fn func() E) *E {
	if !e.found {
		v := fn()
		if v.ChunkKey() != e.chunk.chunkKey || v.ItemKey() != e.item {
			panic(fmt.Sprintf("chunkdb: entry (%v, %v) filled with record (%v, %v)",
				e.chunk.chunkKey, e.item, v.ChunkKey(), v.ItemKey()))
		}
		e.chunk.Add(v)
		e.pos, e.found = e.chunk.index.Get(e.item)
	}

	p, _ := e.GetMut()
	return p
}

func (e *Entry[C, I, E]) OrInsert(v E) *E {
	return e.OrInsertWith(func() E { return v })
}

// Remove deletes the record if it exists and returns it.
func (e *Entry[C, I, E]) Remove() (E, bool) {
	if !e.found {
		var zero E
		return zero, false
	}

	v := e.chunk.removeAt(e.pos)
	e.found = false
	e.mutated()
	if e.onRemove != nil {
		e.onRemove()
	}
	return v, true
}

func (e *Entry[C, I, E]) mutated() {
	if e.onMutate != nil {
		e.onMutate()
	}
}

// Editor wraps one record during Storage.Modify.
//
// Reading through Get is free. GetMut marks the record as changed, which is
// what makes secondary indexes re-project it, so check with Get first when
// most records stay untouched. The Editor is reused between records; don't
// keep it after the callback returns.
type Editor[C, I comparable, E common.Record[C, I]] struct {
	chunk   *ChunkStorage[C, I, E]
	pos     int
	item    I
	mutated bool
}

func (ed *Editor[C, I, E]) reset(pos int) {
	ed.pos = pos
	ed.mutated = false
}

func (ed *Editor[C, I, E]) ChunkKey() C { return ed.chunk.chunkKey }

func (ed *Editor[C, I, E]) ItemKey() I { return ed.chunk.items.At(ed.pos).ItemKey() }

func (ed *Editor[C, I, E]) Get() E { return ed.chunk.items.At(ed.pos) }

// GetMut returns a pointer to the record. The record's chunk key and item key
// must not change.
func (ed *Editor[C, I, E]) GetMut() *E {
	if !ed.mutated {
		ed.item = ed.chunk.items.At(ed.pos).ItemKey()
		ed.mutated = true
	}
	return ed.chunk.items.Ptr(ed.pos)
}

func (ed *Editor[C, I, E]) checkIdentity() {
	cur := ed.chunk.items.At(ed.pos)
	if cur.ChunkKey() != ed.chunk.chunkKey || cur.ItemKey() != ed.item {
		panic(fmt.Sprintf("chunkdb: modify changed record identity from (%v, %v) to (%v, %v)",
			ed.chunk.chunkKey, ed.item, cur.ChunkKey(), cur.ItemKey()))
	}
}
