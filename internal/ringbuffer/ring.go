// Package ringbuffer provides a bounded lock-free multi-producer
// multi-consumer ring.
package ringbuffer

import (
	"sync/atomic"
)

// cell carries a sequence number that tells producers and consumers whether the
// slot is ready for them. The value is published by the sequence store.
type cell[T any] struct {
	seq atomic.Uint64
	val T
}

// Ring is a bounded MPMC queue. Capacity is rounded up to a power of two.
// TryPush and TryPop never block and never allocate.
type Ring[T any] struct {
	_pad0   [8]uint64
	enqueue atomic.Uint64
	_pad1   [7]uint64
	dequeue atomic.Uint64
	_pad2   [7]uint64

	mask  uint64
	cells []cell[T]
}

// New creates a ring able to hold at least size elements.
func New[T any](size int) *Ring[T] {
	if size < 1 {
		size = 1
	}
	capacity := uint64(1)
	for capacity < uint64(size) {
		capacity <<= 1
	}

	r := &Ring[T]{
		mask:  capacity - 1,
		cells: make([]cell[T], capacity),
	}
	for i := range r.cells {
		r.cells[i].seq.Store(uint64(i))
	}
	return r
}

// TryPush appends v, returning false when the ring is full.
func (r *Ring[T]) TryPush(v T) bool {
	pos := r.enqueue.Load()
	for {
		c := &r.cells[pos&r.mask]
		seq := c.seq.Load()
		switch diff := int64(seq) - int64(pos); {
		case diff == 0:
			if r.enqueue.CompareAndSwap(pos, pos+1) {
				c.val = v
				c.seq.Store(pos + 1)
				return true
			}
			pos = r.enqueue.Load()
		case diff < 0:
			return false
		default:
			pos = r.enqueue.Load()
		}
	}
}

// TryPop removes the oldest element, returning false when the ring is empty.
func (r *Ring[T]) TryPop() (T, bool) {
	pos := r.dequeue.Load()
	for {
		c := &r.cells[pos&r.mask]
		seq := c.seq.Load()
		switch diff := int64(seq) - int64(pos+1); {
		case diff == 0:
			if r.dequeue.CompareAndSwap(pos, pos+1) {
				v := c.val
				var zero T
				c.val = zero
				c.seq.Store(pos + r.mask + 1)
				return v, true
			}
			pos = r.dequeue.Load()
		case diff < 0:
			var zero T
			return zero, false
		default:
			pos = r.dequeue.Load()
		}
	}
}

// Len is an approximate element count; exact only when the ring is quiescent.
func (r *Ring[T]) Len() int {
	head := r.dequeue.Load()
	tail := r.enqueue.Load()
	if tail < head {
		return 0
	}
	return int(tail - head)
}

// Cap returns the rounded capacity.
func (r *Ring[T]) Cap() int {
	return int(r.mask + 1)
}
