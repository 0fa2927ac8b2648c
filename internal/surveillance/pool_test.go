package surveillance

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTrade(id string) TradeEvent {
	return TradeEvent{
		ID:         id,
		Instrument: "INFY",
		AccountID:  "ACC-1",
		Side:       SideBuy,
		Quantity:   100,
		Price:      1500,
		Value:      150000,
		Timestamp:  time.Now().Add(-time.Second),
	}
}

func TestEventPoolAcquireRelease(t *testing.T) {
	pool := NewEventPool(2)
	require.Equal(t, 2, pool.Capacity())
	require.Equal(t, 2, pool.Free())

	ev := testTrade("T1")
	lease, err := pool.Acquire(&ev)
	require.NoError(t, err)
	require.NotNil(t, lease.Event())
	assert.Equal(t, "T1", lease.Event().ID)
	assert.Equal(t, 1, pool.Free())

	// the slot holds a copy, not the caller's value
	ev.ID = "changed"
	assert.Equal(t, "T1", lease.Event().ID)

	require.NoError(t, lease.Release())
	assert.Equal(t, 2, pool.Free())
	assert.Nil(t, lease.Event())
	assert.False(t, lease.Valid())
}

func TestEventPoolExhaustion(t *testing.T) {
	pool := NewEventPool(2)
	ev := testTrade("T1")

	a, err := pool.Acquire(&ev)
	require.NoError(t, err)
	_, err = pool.Acquire(&ev)
	require.NoError(t, err)

	_, err = pool.Acquire(&ev)
	assert.ErrorIs(t, err, ErrPoolExhausted)

	require.NoError(t, a.Release())
	_, err = pool.Acquire(&ev)
	assert.NoError(t, err)
}

func TestEventPoolDoubleReleaseRejected(t *testing.T) {
	pool := NewEventPool(1)
	ev := testTrade("T1")

	lease, err := pool.Acquire(&ev)
	require.NoError(t, err)
	copyOfLease := lease

	require.NoError(t, lease.Release())
	assert.ErrorIs(t, lease.Release(), ErrLeaseReleased)
	assert.ErrorIs(t, copyOfLease.Release(), ErrLeaseReleased)
	assert.Equal(t, 1, pool.Free(), "slot must be returned exactly once")

	// a stale lease must not free the slot's next owner
	next, err := pool.Acquire(&ev)
	require.NoError(t, err)
	assert.ErrorIs(t, lease.Release(), ErrLeaseReleased)
	assert.Equal(t, 0, pool.Free())
	assert.NotNil(t, next.Event())
	require.NoError(t, next.Release())
}

func TestZeroLease(t *testing.T) {
	var lease Lease
	assert.Nil(t, lease.Event())
	assert.ErrorIs(t, lease.Release(), ErrLeaseReleased)
}

func TestEventPoolConcurrentReleaseOnce(t *testing.T) {
	pool := NewEventPool(64)
	ev := testTrade("T1")

	for round := 0; round < 200; round++ {
		lease, err := pool.Acquire(&ev)
		require.NoError(t, err)

		var wg sync.WaitGroup
		var mu sync.Mutex
		successes := 0
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if lease.Release() == nil {
					mu.Lock()
					successes++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		require.Equal(t, 1, successes)
	}
	assert.Equal(t, 64, pool.Free())
}
