package surveillance

import (
	"sync/atomic"

	"github.com/Aidin1998/tradeguard/internal/ringbuffer"
)

// slot state word: generation << 1 | leased bit. Packing both into one word
// lets Release check ownership and free the slot in a single CAS.
const leasedBit uint64 = 1

type eventSlot struct {
	state atomic.Uint64
	event TradeEvent
	_pad  [4]uint64
}

// EventPool is a fixed set of pre-allocated trade slots. Acquire and Release
// never allocate; the free list is a lock-free ring of slot indices.
type EventPool struct {
	slots  []eventSlot
	free   *ringbuffer.Ring[uint32]
	leased atomic.Int64
}

// NewEventPool allocates capacity slots up front.
func NewEventPool(capacity int) *EventPool {
	if capacity < 1 {
		capacity = 1
	}
	p := &EventPool{
		slots: make([]eventSlot, capacity),
		free:  ringbuffer.New[uint32](capacity),
	}
	for i := 0; i < capacity; i++ {
		p.free.TryPush(uint32(i))
	}
	return p
}

// Acquire copies ev into a free slot and returns the lease that owns it.
func (p *EventPool) Acquire(ev *TradeEvent) (Lease, error) {
	idx, ok := p.free.TryPop()
	if !ok {
		return Lease{}, ErrPoolExhausted
	}
	s := &p.slots[idx]
	gen := s.state.Load() >> 1
	s.event = *ev
	s.state.Store(gen<<1 | leasedBit)
	p.leased.Add(1)
	return Lease{pool: p, idx: idx, gen: gen}, nil
}

// Capacity is the number of slots.
func (p *EventPool) Capacity() int { return len(p.slots) }

// Free is the number of slots currently available to Acquire.
func (p *EventPool) Free() int { return len(p.slots) - int(p.leased.Load()) }

func (p *EventPool) release(idx uint32, gen uint64) error {
	s := &p.slots[idx]
	if !s.state.CompareAndSwap(gen<<1|leasedBit, (gen+1)<<1) {
		return ErrLeaseReleased
	}
	s.event = TradeEvent{}
	p.leased.Add(-1)
	// The ring is sized to hold every index, so this cannot fail.
	p.free.TryPush(idx)
	return nil
}

// Lease is exclusive ownership of one pool slot. It is a small value so it can
// travel through channels without allocation; copies share the same ownership
// and only the first Release succeeds.
type Lease struct {
	pool *EventPool
	idx  uint32
	gen  uint64
}

// Event returns the leased trade, or nil once the lease is released.
func (l Lease) Event() *TradeEvent {
	if l.pool == nil {
		return nil
	}
	s := &l.pool.slots[l.idx]
	if s.state.Load() != l.gen<<1|leasedBit {
		return nil
	}
	return &s.event
}

// Valid reports whether the lease still owns its slot.
func (l Lease) Valid() bool { return l.Event() != nil }

// Release returns the slot to the pool. Releasing twice returns
// ErrLeaseReleased and leaves the pool untouched.
func (l Lease) Release() error {
	if l.pool == nil {
		return ErrLeaseReleased
	}
	return l.pool.release(l.idx, l.gen)
}
