package surveillance

import "context"

// IngestionChannel is the bounded intake between Submit and the workers.
// It is never closed; workers stop on the engine's stop signal instead, so a
// late producer can never send on a closed channel.
type IngestionChannel struct {
	ch chan Lease
}

func NewIngestionChannel(capacity int) *IngestionChannel {
	if capacity < 1 {
		capacity = 1
	}
	return &IngestionChannel{ch: make(chan Lease, capacity)}
}

// TryEnqueue never blocks; it returns false when the channel is full.
func (c *IngestionChannel) TryEnqueue(l Lease) bool {
	select {
	case c.ch <- l:
		return true
	default:
		return false
	}
}

// TryDequeue never blocks; it returns false when the channel is empty.
func (c *IngestionChannel) TryDequeue() (Lease, bool) {
	select {
	case l := <-c.ch:
		return l, true
	default:
		return Lease{}, false
	}
}

// Dequeue waits for a lease or for ctx to be done.
func (c *IngestionChannel) Dequeue(ctx context.Context) (Lease, error) {
	select {
	case l := <-c.ch:
		return l, nil
	case <-ctx.Done():
		return Lease{}, ctx.Err()
	}
}

func (c *IngestionChannel) Len() int { return len(c.ch) }

func (c *IngestionChannel) Cap() int { return cap(c.ch) }

func (c *IngestionChannel) recv() <-chan Lease { return c.ch }
