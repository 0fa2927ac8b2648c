package surveillance

import (
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tradeAt(id string, ts time.Time, price float64, qty uint64) TradeEvent {
	return TradeEvent{
		ID:         id,
		Instrument: "INFY",
		AccountID:  "ACC-1",
		Side:       SideBuy,
		Quantity:   qty,
		Price:      price,
		Value:      price * float64(qty),
		Timestamp:  ts,
	}
}

func TestContextStorePrunesByLookback(t *testing.T) {
	store := NewContextStore(time.Minute, 0)
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		ev := tradeAt(fmt.Sprintf("T%d", i), base.Add(time.Duration(i)*20*time.Second), 100, 10)
		store.Update(&ev, ev.Timestamp)
	}

	now := base.Add(80 * time.Second)
	ev := tradeAt("T5", now, 100, 10)
	snap := store.Update(&ev, now)

	cutoff := now.Add(-time.Minute)
	for _, tr := range snap.RecentTrades {
		assert.False(t, tr.Timestamp.Before(cutoff), "trade %s is older than lookback", tr.ID)
	}
	// T0 (0s) is outside, T1 (20s) is exactly at the cutoff and stays
	assert.Len(t, snap.RecentTrades, 5)
	assert.Equal(t, "T1", snap.RecentTrades[0].ID)
	assert.Equal(t, "T5", snap.RecentTrades[len(snap.RecentTrades)-1].ID)
}

func TestContextStoreCapsWindow(t *testing.T) {
	store := NewContextStore(time.Hour, 3)
	now := time.Now()
	var snap HistoricalContext
	for i := 0; i < 10; i++ {
		ev := tradeAt(fmt.Sprintf("T%d", i), now, 100, 1)
		snap = store.Update(&ev, now)
	}
	require.Len(t, snap.RecentTrades, 3)
	assert.Equal(t, "T7", snap.RecentTrades[0].ID)
	assert.Equal(t, "T9", snap.RecentTrades[2].ID)
}

func TestContextStoreAggregates(t *testing.T) {
	store := NewContextStore(time.Hour, 0)
	now := time.Now()
	prices := []float64{100, 110, 99, 108.9}
	var snap HistoricalContext
	for i, p := range prices {
		ev := tradeAt(fmt.Sprintf("T%d", i), now, p, uint64(10*(i+1)))
		snap = store.Update(&ev, now)
	}

	assert.InDelta(t, 25.0, snap.AvgVolume, 1e-9)
	assert.InDelta(t, (100+110+99+108.9)/4, snap.AvgPrice, 1e-9)
	assert.InDelta(t, 100*10+110*20+99*30+108.9*40, snap.AccountTotalVolume, 1e-6)

	r1, r2, r3 := math.Log(1.1), math.Log(0.9), math.Log(1.1)
	mean := (r1 + r2 + r3) / 3
	variance := ((r1-mean)*(r1-mean) + (r2-mean)*(r2-mean) + (r3-mean)*(r3-mean)) / 3
	assert.InDelta(t, math.Sqrt(variance), snap.PriceVolatility, 1e-9)
}

func TestContextStoreSnapshotIsIsolated(t *testing.T) {
	store := NewContextStore(time.Hour, 0)
	now := time.Now()
	ev := tradeAt("T1", now, 100, 1)
	snap := store.Update(&ev, now)
	snap.RecentTrades[0].ID = "mutated"

	fresh := store.GetOrCreate(ev.Key())
	assert.Equal(t, "T1", fresh.RecentTrades[0].ID)
}

func TestContextStoreSameKeyConcurrentUpdatesLossless(t *testing.T) {
	const (
		goroutines = 8
		perG       = 150
	)
	store := NewContextStore(time.Hour, 0)
	now := time.Now()

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < perG; i++ {
				ev := tradeAt(fmt.Sprintf("G%d-%d", g, i), now, 100, 1)
				store.Update(&ev, now)
			}
		}(g)
	}
	wg.Wait()

	snap := store.GetOrCreate(ContextKey("INFY", "ACC-1"))
	require.Len(t, snap.RecentTrades, goroutines*perG)

	seen := make(map[string]bool, goroutines*perG)
	for _, tr := range snap.RecentTrades {
		seen[tr.ID] = true
	}
	assert.Len(t, seen, goroutines*perG)
}

func TestContextStoreKeysDoNotCollide(t *testing.T) {
	store := NewContextStore(time.Hour, 0)
	now := time.Now()

	first := tradeAt("1", now, 100, 1)
	first.Instrument, first.AccountID = "A_B", "C"
	store.Update(&first, now)

	second := tradeAt("2", now, 100, 1)
	second.Instrument, second.AccountID = "A", "B_C"
	snap := store.Update(&second, now)

	require.Len(t, snap.RecentTrades, 1)
	assert.Equal(t, "2", snap.RecentTrades[0].ID)
	assert.Equal(t, 2, store.Len())
	assert.NotEqual(t, ContextKey("A_B", "C"), ContextKey("A", "B_C"))

	bad := tradeAt("3", now, 100, 1)
	bad.AccountID = "A\x00B"
	assert.ErrorIs(t, bad.Validate(now, 0), ErrInvalidTrade)
}

func TestHistoricalContextSinceUnsortedWindow(t *testing.T) {
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	hist := &HistoricalContext{RecentTrades: []TradeEvent{
		tradeAt("old", base, 100, 1),
		tradeAt("late", base.Add(40*time.Second), 100, 1),
		tradeAt("stale", base.Add(5*time.Second), 100, 1),
		tradeAt("newest", base.Add(50*time.Second), 100, 1),
	}}

	got := hist.Since(base.Add(30 * time.Second))
	ids := make([]string, 0, len(got))
	for _, tr := range got {
		ids = append(ids, tr.ID)
	}
	assert.Equal(t, []string{"late", "newest"}, ids)

	assert.Len(t, hist.Since(base), 4)
	assert.Nil(t, hist.Since(base.Add(time.Hour)))
}

func TestContextStoreSweep(t *testing.T) {
	store := NewContextStore(time.Minute, 0)
	base := time.Now()

	old := tradeAt("old", base, 100, 1)
	old.AccountID = "ACC-OLD"
	store.Update(&old, base)

	fresh := tradeAt("fresh", base.Add(2*time.Minute), 100, 1)
	store.Update(&fresh, base.Add(2*time.Minute))
	require.Equal(t, 2, store.Len())

	removed := store.Sweep(base.Add(2 * time.Minute))
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, store.Len())

	// a swept key is recreated on the next trade
	again := tradeAt("again", base.Add(3*time.Minute), 100, 1)
	again.AccountID = "ACC-OLD"
	snap := store.Update(&again, base.Add(3*time.Minute))
	require.Len(t, snap.RecentTrades, 1)
	assert.Equal(t, "again", snap.RecentTrades[0].ID)
}

func TestContextStoreRelationsAndQuote(t *testing.T) {
	store := NewContextStore(time.Hour, 0)
	now := time.Now()
	store.UpdateQuote("INFY", Quote{BidPrice: 99, AskPrice: 101})

	a := tradeAt("A", now, 100, 1)
	store.Update(&a, now)
	b := tradeAt("B", now, 100, 1)
	b.AccountID = "ACC-2"
	store.Update(&b, now)
	c := tradeAt("C", now, 100, 1)
	c.Instrument = "TCS"
	snap := store.Update(&c, now)
	assert.Equal(t, []string{"INFY"}, snap.RelatedInstruments)

	d := tradeAt("D", now, 100, 1)
	snap = store.Update(&d, now)
	assert.Equal(t, []string{"ACC-2"}, snap.RelatedAccounts)
	assert.Equal(t, []string{"TCS"}, snap.RelatedInstruments)
	assert.Equal(t, 100.0, snap.Quote.Mid())
}
