package common

// MemoryUsage reports element counts of a container.
//
// Capacity is the number of elements the container can hold without growing.
// For Go maps the runtime doesn't expose capacity, so map-backed containers
// report their length as capacity.
type MemoryUsage struct {
	Len      int
	Capacity int
}

// Merge adds two usages together.
func (m MemoryUsage) Merge(other MemoryUsage) MemoryUsage {
	return MemoryUsage{
		Len:      m.Len + other.Len,
		Capacity: m.Capacity + other.Capacity,
	}
}

// Slack is the number of allocated but unused elements.
func (m MemoryUsage) Slack() int {
	if m.Capacity < m.Len {
		return 0
	}
	return m.Capacity - m.Len
}

// ShrinkPolicy inspects a container's usage and decides whether it should be
// shrunk. It returns the minimum capacity to keep and true to request a shrink.
type ShrinkPolicy func(MemoryUsage) (minCapacity int, shrink bool)

// MemoryUser is implemented by containers that can report and release memory.
type MemoryUser interface {
	MemoryUsage() MemoryUsage
	ShrinkWith(policy ShrinkPolicy)
}

// ShrinkToFit asks every container to release all unused capacity.
func ShrinkToFit(m MemoryUsage) (int, bool) {
	return m.Len, m.Capacity > m.Len
}

// ShrinkRatio requests a shrink when capacity exceeds ratio times the length.
// A ratio below 1 is treated as 1.
func ShrinkRatio(ratio int) ShrinkPolicy {
	if ratio < 1 {
		ratio = 1
	}
	return func(m MemoryUsage) (int, bool) {
		return m.Len, m.Capacity > m.Len*ratio
	}
}
