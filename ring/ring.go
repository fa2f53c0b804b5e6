// Package ring implements the bookkeeping for a fixed-capacity circular slot
// space. It never performs I/O; it only computes where the storage engine
// should read and write next.
package ring

import (
	"sensorlog/protocol"
)

// Advance moves index forward by steps, wrapping at capacity.
func Advance(index, steps, capacity int) int {
	if capacity <= 0 {
		return 0
	}
	return (index + steps) % capacity
}

// Index is the logical FIFO layout over the physical slots.
// Live records occupy Position(0) .. Position(Count-1), oldest first.
type Index struct {
	Head     int
	Tail     int
	Count    int
	NextSeq  uint32
	Capacity int
}

// New returns an empty index.
func New(capacity int) Index {
	return Index{Capacity: capacity}
}

// FromState builds an index from a persisted descriptor.
func FromState(s protocol.State, capacity int) Index {
	return Index{
		Head:     int(s.Head),
		Tail:     int(s.Tail),
		Count:    int(s.Count),
		NextSeq:  s.NextSeq,
		Capacity: capacity,
	}
}

// State converts the index back to a persisted descriptor with the given generation.
func (ix Index) State(generation uint32) protocol.State {
	return protocol.State{
		Generation: generation,
		Head:       uint16(ix.Head),
		Tail:       uint16(ix.Tail),
		Count:      uint16(ix.Count),
		NextSeq:    ix.NextSeq,
	}
}

func (ix Index) Empty() bool { return ix.Count == 0 }
func (ix Index) Full() bool  { return ix.Count >= ix.Capacity }

// Position returns the physical slot of the i-th live record (0 = oldest).
func (ix Index) Position(i int) int {
	return Advance(ix.Head, i, ix.Capacity)
}

// Newest returns the physical slot of the most recent record. Only valid when not empty.
func (ix Index) Newest() int {
	return ix.Position(ix.Count - 1)
}

// Admit reserves the slot for the next record under the drop-oldest policy.
// It returns the physical slot to write, the sequence number to stamp, whether
// the oldest record is evicted, and the index to commit once the write lands.
func (ix Index) Admit() (slot int, seq uint32, evicted bool, next Index) {
	next = ix
	slot = ix.Tail
	seq = ix.NextSeq
	if ix.Full() {
		next.Head = Advance(ix.Head, 1, ix.Capacity)
		evicted = true
	} else {
		next.Count++
	}
	next.Tail = Advance(ix.Tail, 1, ix.Capacity)
	next.NextSeq++
	return slot, seq, evicted, next
}

// Release removes the oldest record. It returns the physical slot that held it
// and the index to commit; ok is false when the ring is empty.
func (ix Index) Release() (slot int, next Index, ok bool) {
	if ix.Empty() {
		return 0, ix, false
	}
	next = ix
	slot = ix.Head
	next.Head = Advance(ix.Head, 1, ix.Capacity)
	next.Count--
	if next.Count == 0 {
		// Keep head and tail together so the indices cannot drift apart.
		next.Tail = next.Head
	}
	return slot, next, true
}

// Compacted returns the index describing n records laid out from slot 0.
func (ix Index) Compacted(n int, nextSeq uint32) Index {
	return Index{
		Head:     0,
		Tail:     Advance(0, n, ix.Capacity),
		Count:    n,
		NextSeq:  nextSeq,
		Capacity: ix.Capacity,
	}
}

// Consistent reports whether tail == (head + count) mod capacity and all
// indices are within bounds.
func (ix Index) Consistent() bool {
	if ix.Capacity <= 0 {
		return false
	}
	if ix.Head < 0 || ix.Head >= ix.Capacity || ix.Tail < 0 || ix.Tail >= ix.Capacity {
		return false
	}
	if ix.Count < 0 || ix.Count > ix.Capacity {
		return false
	}
	return ix.Tail == Advance(ix.Head, ix.Count, ix.Capacity)
}
