package surveillance

import (
	"math"
	"sync"
	"sync/atomic"
	"time"
)

const (
	contextShards = 64
	maxRelated    = 16
)

// HistoricalContext is a per (instrument, account) view of recent activity.
// Detectors receive a snapshot and must not mutate it.
type HistoricalContext struct {
	Key                string
	Lookback           time.Duration
	RecentTrades       []TradeEvent
	AvgVolume          float64
	AvgPrice           float64
	PriceVolatility    float64
	AccountTotalVolume float64
	Quote              Quote
	RelatedAccounts    []string
	RelatedInstruments []string
	LastUpdated        time.Time
}

// Latest returns the most recently appended trade, if any.
func (h *HistoricalContext) Latest() (TradeEvent, bool) {
	if len(h.RecentTrades) == 0 {
		return TradeEvent{}, false
	}
	return h.RecentTrades[len(h.RecentTrades)-1], true
}

// Since returns the trades at or after t in append order. Workers may append
// one key's trades out of timestamp order, so every trade is checked. When
// the matching trades form a suffix the result aliases the snapshot.
func (h *HistoricalContext) Since(t time.Time) []TradeEvent {
	trades := h.RecentTrades
	first := -1
	for i := range trades {
		if !trades[i].Timestamp.Before(t) {
			first = i
			break
		}
	}
	if first < 0 {
		return nil
	}
	for i := first + 1; i < len(trades); i++ {
		if trades[i].Timestamp.Before(t) {
			out := make([]TradeEvent, 0, len(trades)-first)
			for j := first; j < len(trades); j++ {
				if !trades[j].Timestamp.Before(t) {
					out = append(out, trades[j])
				}
			}
			return out
		}
	}
	return trades[first:]
}

type contextEntry struct {
	mu       sync.Mutex
	removed  bool
	lastSeen time.Time
	ctx      HistoricalContext
}

type contextShard struct {
	_pad0 [8]uint64

	mu      sync.RWMutex
	entries map[string]*contextEntry
	quotes  map[string]Quote
	// instrument -> account -> last seen, and account -> instrument -> last seen
	accountsBy    map[string]map[string]time.Time
	instrumentsBy map[string]map[string]time.Time

	_pad1 [8]uint64
}

// ContextStore keeps a bounded trade window per context key. Each key has its
// own lock, so concurrent updates to one key serialize and none are lost while
// different keys proceed in parallel.
type ContextStore struct {
	shards    [contextShards]*contextShard
	lookback  atomic.Int64
	maxWindow int
}

// NewContextStore creates a store. maxWindow <= 0 leaves the window bounded
// by lookback alone.
func NewContextStore(lookback time.Duration, maxWindow int) *ContextStore {
	s := &ContextStore{maxWindow: maxWindow}
	s.lookback.Store(int64(lookback))
	for i := range s.shards {
		s.shards[i] = &contextShard{
			entries:       make(map[string]*contextEntry),
			quotes:        make(map[string]Quote),
			accountsBy:    make(map[string]map[string]time.Time),
			instrumentsBy: make(map[string]map[string]time.Time),
		}
	}
	return s
}

// Lookback is the retention horizon of every window.
func (s *ContextStore) Lookback() time.Duration { return time.Duration(s.lookback.Load()) }

// ExtendLookback raises the retention horizon to at least d. It never
// shrinks it, and reports whether it changed.
func (s *ContextStore) ExtendLookback(d time.Duration) bool {
	for {
		cur := s.lookback.Load()
		if int64(d) <= cur {
			return false
		}
		if s.lookback.CompareAndSwap(cur, int64(d)) {
			return true
		}
	}
}

func (s *ContextStore) shard(key string) *contextShard {
	// FNV-1a
	hash := uint64(2166136261)
	for i := 0; i < len(key); i++ {
		hash ^= uint64(key[i])
		hash *= 16777619
	}
	return s.shards[hash&(contextShards-1)]
}

func (s *ContextStore) entry(key string) *contextEntry {
	sh := s.shard(key)
	sh.mu.RLock()
	e, ok := sh.entries[key]
	sh.mu.RUnlock()
	if ok {
		return e
	}

	sh.mu.Lock()
	defer sh.mu.Unlock()
	if e, ok = sh.entries[key]; ok {
		return e
	}
	e = &contextEntry{ctx: HistoricalContext{Key: key, Lookback: s.Lookback()}}
	sh.entries[key] = e
	return e
}

// lockEntry returns the live entry for key, locked. An entry removed by Sweep
// between lookup and lock is retried so the update lands in the map.
func (s *ContextStore) lockEntry(key string) *contextEntry {
	for {
		e := s.entry(key)
		e.mu.Lock()
		if !e.removed {
			return e
		}
		e.mu.Unlock()
	}
}

// GetOrCreate returns a snapshot of the context for key, creating an empty one
// if absent.
func (s *ContextStore) GetOrCreate(key string) HistoricalContext {
	e := s.lockEntry(key)
	snap := e.snapshot()
	e.mu.Unlock()
	return snap
}

// Update appends ev to its key's window, prunes it, recomputes aggregates and
// returns a snapshot, all under the key lock.
func (s *ContextStore) Update(ev *TradeEvent, now time.Time) HistoricalContext {
	e := s.lockEntry(ev.Key())
	e.append(ev, now, s.Lookback(), s.maxWindow)
	snap := e.snapshot()
	e.mu.Unlock()

	s.recordRelation(ev.Instrument, ev.AccountID, now)
	snap.Quote = s.quote(ev.Instrument)
	snap.RelatedAccounts = s.related(ev.Instrument, ev.AccountID, now, true)
	snap.RelatedInstruments = s.related(ev.AccountID, ev.Instrument, now, false)
	return snap
}

// UpdateQuote records the latest top of book for an instrument.
func (s *ContextStore) UpdateQuote(instrument string, q Quote) {
	sh := s.shard(instrument)
	sh.mu.Lock()
	sh.quotes[instrument] = q
	sh.mu.Unlock()
}

func (s *ContextStore) quote(instrument string) Quote {
	sh := s.shard(instrument)
	sh.mu.RLock()
	q := sh.quotes[instrument]
	sh.mu.RUnlock()
	return q
}

// Len is the number of live context keys.
func (s *ContextStore) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		n += len(sh.entries)
		sh.mu.RUnlock()
	}
	return n
}

// Sweep drops keys idle for longer than lookback and stale relations. It only
// TryLocks, skipping anything a worker currently holds.
func (s *ContextStore) Sweep(now time.Time) int {
	cutoff := now.Add(-s.Lookback())
	removed := 0
	for _, sh := range s.shards {
		if !sh.mu.TryLock() {
			continue
		}
		for key, e := range sh.entries {
			if !e.mu.TryLock() {
				continue
			}
			if e.lastSeen.Before(cutoff) {
				e.removed = true
				delete(sh.entries, key)
				removed++
			}
			e.mu.Unlock()
		}
		pruneRelations(sh.accountsBy, cutoff)
		pruneRelations(sh.instrumentsBy, cutoff)
		sh.mu.Unlock()
	}
	return removed
}

func (s *ContextStore) recordRelation(instrument, account string, now time.Time) {
	if account == "" {
		return
	}
	s.touch(instrument, account, now, true)
	s.touch(account, instrument, now, false)
}

func (s *ContextStore) touch(owner, member string, now time.Time, byInstrument bool) {
	sh := s.shard(owner)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	index := sh.instrumentsBy
	if byInstrument {
		index = sh.accountsBy
	}
	set, ok := index[owner]
	if !ok {
		set = make(map[string]time.Time)
		index[owner] = set
	}
	set[member] = now
	if len(set) > maxRelated*4 {
		cutoff := now.Add(-s.Lookback())
		for m, seen := range set {
			if seen.Before(cutoff) {
				delete(set, m)
			}
		}
		for m := range set {
			if len(set) <= maxRelated*4 {
				break
			}
			if m != member {
				delete(set, m)
			}
		}
	}
}

func (s *ContextStore) related(owner, self string, now time.Time, byInstrument bool) []string {
	if owner == "" {
		return nil
	}
	sh := s.shard(owner)
	cutoff := now.Add(-s.Lookback())

	sh.mu.RLock()
	defer sh.mu.RUnlock()
	index := sh.instrumentsBy
	if byInstrument {
		index = sh.accountsBy
	}
	var out []string
	for m, seen := range index[owner] {
		if m == self || seen.Before(cutoff) {
			continue
		}
		out = append(out, m)
		if len(out) == maxRelated {
			break
		}
	}
	return out
}

func pruneRelations(index map[string]map[string]time.Time, cutoff time.Time) {
	for owner, set := range index {
		for m, seen := range set {
			if seen.Before(cutoff) {
				delete(set, m)
			}
		}
		if len(set) == 0 {
			delete(index, owner)
		}
	}
}

func (e *contextEntry) append(ev *TradeEvent, now time.Time, lookback time.Duration, maxWindow int) {
	window := append(e.ctx.RecentTrades, *ev)

	cutoff := now.Add(-lookback)
	kept := window[:0]
	for i := range window {
		if !window[i].Timestamp.Before(cutoff) {
			kept = append(kept, window[i])
		}
	}
	// zero the tail so dropped events do not pin their strings
	for i := len(kept); i < len(window); i++ {
		window[i] = TradeEvent{}
	}
	if maxWindow > 0 && len(kept) > maxWindow {
		n := copy(kept, kept[len(kept)-maxWindow:])
		for i := n; i < len(kept); i++ {
			kept[i] = TradeEvent{}
		}
		kept = kept[:n]
	}

	e.ctx.RecentTrades = kept
	e.ctx.Lookback = lookback
	e.ctx.LastUpdated = now
	e.lastSeen = now
	e.recompute()
}

func (e *contextEntry) recompute() {
	trades := e.ctx.RecentTrades
	e.ctx.AvgVolume, e.ctx.AvgPrice, e.ctx.AccountTotalVolume, e.ctx.PriceVolatility = 0, 0, 0, 0
	if len(trades) == 0 {
		return
	}

	var qty, price, value float64
	for i := range trades {
		qty += float64(trades[i].Quantity)
		price += trades[i].Price
		value += trades[i].Value
	}
	n := float64(len(trades))
	e.ctx.AvgVolume = qty / n
	e.ctx.AvgPrice = price / n
	e.ctx.AccountTotalVolume = value
	e.ctx.PriceVolatility = logReturnStdDev(trades)
}

// logReturnStdDev is the population standard deviation of consecutive log
// returns, computed with Welford's update.
func logReturnStdDev(trades []TradeEvent) float64 {
	if len(trades) < 3 {
		return 0
	}
	var count, mean, m2 float64
	for i := 1; i < len(trades); i++ {
		r := math.Log(trades[i].Price / trades[i-1].Price)
		count++
		delta := r - mean
		mean += delta / count
		m2 += delta * (r - mean)
	}
	return math.Sqrt(m2 / count)
}

func (e *contextEntry) snapshot() HistoricalContext {
	snap := e.ctx
	snap.RecentTrades = make([]TradeEvent, len(e.ctx.RecentTrades))
	copy(snap.RecentTrades, e.ctx.RecentTrades)
	return snap
}
