package monitor

import (
	"sync/atomic"

	"chunkdb/pkg/common"
)

// WorkloadStats counts storage operations. Fields are updated atomically so a
// metrics scrape on another goroutine can read them while the owner works.
type WorkloadStats struct {
	ReadCount    uint64
	WriteCount   uint64
	RemoveCount  uint64
	CompactCount uint64
	ResyncCount  uint64

	// shape gauges, refreshed by the owner through Publish
	chunks   int64
	items    int64
	capacity int64
}

// Snapshot is a point-in-time copy of WorkloadStats.
type Snapshot struct {
	Reads       uint64
	Writes      uint64
	Removes     uint64
	Compactions uint64
	Resyncs     uint64
	Chunks      int64
	Items       int64
	Capacity    int64
}

func NewWorkloadStats() *WorkloadStats {
	return &WorkloadStats{}
}

func (ws *WorkloadStats) RecordRead() {
	atomic.AddUint64(&ws.ReadCount, 1)
}

func (ws *WorkloadStats) RecordWrite() {
	atomic.AddUint64(&ws.WriteCount, 1)
}

func (ws *WorkloadStats) RecordWrites(n int) {
	if n > 0 {
		atomic.AddUint64(&ws.WriteCount, uint64(n))
	}
}

func (ws *WorkloadStats) RecordRemove(n int) {
	if n > 0 {
		atomic.AddUint64(&ws.RemoveCount, uint64(n))
	}
}

func (ws *WorkloadStats) RecordCompaction() {
	atomic.AddUint64(&ws.CompactCount, 1)
}

func (ws *WorkloadStats) RecordResync() {
	atomic.AddUint64(&ws.ResyncCount, 1)
}

// Publish stores the current shape of the storage.
func (ws *WorkloadStats) Publish(chunks, items int, usage common.MemoryUsage) {
	atomic.StoreInt64(&ws.chunks, int64(chunks))
	atomic.StoreInt64(&ws.items, int64(items))
	atomic.StoreInt64(&ws.capacity, int64(usage.Capacity))
}

func (ws *WorkloadStats) Snapshot() Snapshot {
	return Snapshot{
		Reads:       atomic.LoadUint64(&ws.ReadCount),
		Writes:      atomic.LoadUint64(&ws.WriteCount),
		Removes:     atomic.LoadUint64(&ws.RemoveCount),
		Compactions: atomic.LoadUint64(&ws.CompactCount),
		Resyncs:     atomic.LoadUint64(&ws.ResyncCount),
		Chunks:      atomic.LoadInt64(&ws.chunks),
		Items:       atomic.LoadInt64(&ws.items),
		Capacity:    atomic.LoadInt64(&ws.capacity),
	}
}

func (ws *WorkloadStats) GetReadWriteRatio() float64 {
	reads := atomic.LoadUint64(&ws.ReadCount)
	writes := atomic.LoadUint64(&ws.WriteCount)

	if writes == 0 {
		if reads > 0 {
			return 100.0
		}
		return 0.0
	}
	return float64(reads) / float64(writes)
}
