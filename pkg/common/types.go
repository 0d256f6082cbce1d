package common

import "fmt"

// Record is anything that can be stored. Records sharing a chunk key are stored
// together; the item key must be unique within its chunk.
type Record[C, I comparable] interface {
	ChunkKey() C
	ItemKey() I
}

// NoChunk is the chunk key for records that don't use chunking.
type NoChunk struct{}

// Identity is a bare (chunk key, item key) pair. It is a Record with no payload
// and is mostly used to name a record for lookup.
type Identity[C, I comparable] struct {
	Chunk C
	Item  I
}

func ID[C, I comparable](chunk C, item I) Identity[C, I] {
	return Identity[C, I]{Chunk: chunk, Item: item}
}

func (id Identity[C, I]) ChunkKey() C { return id.Chunk }
func (id Identity[C, I]) ItemKey() I  { return id.Item }

func (id Identity[C, I]) String() string {
	return fmt.Sprintf("Identity{Chunk: %v, Item: %v}", id.Chunk, id.Item)
}

// KV pairs an item key with a value. All KV records live in the single NoChunk chunk.
type KV[I comparable, V any] struct {
	Key   I
	Value V
}

func (kv KV[I, V]) ChunkKey() NoChunk { return NoChunk{} }
func (kv KV[I, V]) ItemKey() I        { return kv.Key }

// Triple is a (chunk key, item key, value) record.
type Triple[C, I comparable, V any] struct {
	Chunk C
	Item  I
	Value V
}

func T[C, I comparable, V any](chunk C, item I, value V) Triple[C, I, V] {
	return Triple[C, I, V]{Chunk: chunk, Item: item, Value: value}
}

func (t Triple[C, I, V]) ChunkKey() C { return t.Chunk }
func (t Triple[C, I, V]) ItemKey() I  { return t.Item }

// String is handy when printing records in tests and the CLI.
func (t Triple[C, I, V]) String() string {
	return fmt.Sprintf("Triple{Chunk: %v, Item: %v, Value: %v}", t.Chunk, t.Item, t.Value)
}
