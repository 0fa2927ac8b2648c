package ringbuffer

import (
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingRoundsCapacity(t *testing.T) {
	assert.Equal(t, 8, New[int](5).Cap())
	assert.Equal(t, 1, New[int](0).Cap())
	assert.Equal(t, 16, New[int](16).Cap())
}

func TestRingFIFOAndBounds(t *testing.T) {
	r := New[uint32](4)

	for i := uint32(0); i < 4; i++ {
		require.True(t, r.TryPush(i))
	}
	assert.False(t, r.TryPush(99), "push on full ring must fail")
	assert.Equal(t, 4, r.Len())

	for i := uint32(0); i < 4; i++ {
		v, ok := r.TryPop()
		require.True(t, ok)
		assert.Equal(t, i, v)
	}
	_, ok := r.TryPop()
	assert.False(t, ok)
	assert.Equal(t, 0, r.Len())
}

func TestRingWrapsAround(t *testing.T) {
	r := New[int](2)
	for round := 0; round < 100; round++ {
		require.True(t, r.TryPush(round))
		v, ok := r.TryPop()
		require.True(t, ok)
		require.Equal(t, round, v)
	}
}

func TestRingConcurrentNoLossNoDuplicate(t *testing.T) {
	const (
		producers = 8
		perProd   = 5000
	)
	r := New[int](1024)
	seen := make([]atomic.Int32, producers*perProd)

	var produced sync.WaitGroup
	for p := 0; p < producers; p++ {
		produced.Add(1)
		go func(base int) {
			defer produced.Done()
			for i := 0; i < perProd; i++ {
				for !r.TryPush(base + i) {
					runtime.Gosched()
				}
			}
		}(p * perProd)
	}

	var consumed atomic.Int64
	done := make(chan struct{})
	var consumers sync.WaitGroup
	for c := 0; c < 4; c++ {
		consumers.Add(1)
		go func() {
			defer consumers.Done()
			for {
				if v, ok := r.TryPop(); ok {
					seen[v].Add(1)
					consumed.Add(1)
					continue
				}
				select {
				case <-done:
					return
				default:
					runtime.Gosched()
				}
			}
		}()
	}

	produced.Wait()
	require.Eventually(t, func() bool {
		return consumed.Load() == producers*perProd
	}, 5*time.Second, time.Millisecond)
	close(done)
	consumers.Wait()

	for i := range seen {
		require.Equal(t, int32(1), seen[i].Load(), "value %d", i)
	}
}
