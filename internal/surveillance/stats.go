package surveillance

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// PatternStats aggregates one detector's activity.
type PatternStats struct {
	AlertCount     uint64        `json:"alert_count"`
	Evaluations    uint64        `json:"evaluations"`
	Errors         uint64        `json:"errors"`
	ProcessingTime time.Duration `json:"processing_time"`
	AvgTime        time.Duration `json:"avg_time"`
}

// ProcessingStats is a point-in-time copy of engine counters.
type ProcessingStats struct {
	TotalTradesProcessed uint64                  `json:"total_trades_processed"`
	TotalAlertsGenerated uint64                  `json:"total_alerts_generated"`
	TotalRejected        uint64                  `json:"total_rejected"`
	TotalDropped         uint64                  `json:"total_dropped"`
	DetectorErrors       uint64                  `json:"detector_errors"`
	AlertsDelivered      uint64                  `json:"alerts_delivered"`
	DeliveryErrors       uint64                  `json:"delivery_errors"`
	QueueDepth           int                     `json:"queue_depth"`
	QueueCapacity        int                     `json:"queue_capacity"`
	AlertQueueDepth      int                     `json:"alert_queue_depth"`
	PoolFree             int                     `json:"pool_free"`
	PoolCapacity         int                     `json:"pool_capacity"`
	ContextKeys          int                     `json:"context_keys"`
	AvgProcessingTime    time.Duration           `json:"avg_processing_time"`
	PeakProcessingTime   time.Duration           `json:"peak_processing_time"`
	ThroughputPerSecond  float64                 `json:"throughput_per_second"`
	Uptime               time.Duration           `json:"uptime"`
	LastUpdated          time.Time               `json:"last_updated"`
	Patterns             map[string]PatternStats `json:"patterns"`
}

// TopPatterns returns pattern names ordered by alert count, highest first.
func (s ProcessingStats) TopPatterns() []string {
	names := make([]string, 0, len(s.Patterns))
	for n := range s.Patterns {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool {
		a, b := s.Patterns[names[i]], s.Patterns[names[j]]
		if a.AlertCount != b.AlertCount {
			return a.AlertCount > b.AlertCount
		}
		return names[i] < names[j]
	})
	return names
}

type patternCounters struct {
	alerts      atomic.Uint64
	evaluations atomic.Uint64
	errors      atomic.Uint64
	nanos       atomic.Int64
}

// statistics holds the hot-path counters. Workers only touch atomics; the
// mutex guards the throughput baseline used by snapshots.
type statistics struct {
	processed      atomic.Uint64
	alerts         atomic.Uint64
	rejected       atomic.Uint64
	dropped        atomic.Uint64
	detectorErrors atomic.Uint64
	delivered      atomic.Uint64
	deliveryErrors atomic.Uint64
	latencyNanos   atomic.Int64
	peakNanos      atomic.Int64
	patterns       sync.Map // name -> *patternCounters

	mu            sync.Mutex
	startedAt     time.Time
	lastSnapshot  time.Time
	lastProcessed uint64
}

func (s *statistics) pattern(name string) *patternCounters {
	if pc, ok := s.patterns.Load(name); ok {
		return pc.(*patternCounters)
	}
	pc, _ := s.patterns.LoadOrStore(name, &patternCounters{})
	return pc.(*patternCounters)
}

func (s *statistics) recordProcessed(elapsed time.Duration) {
	s.processed.Add(1)
	n := int64(elapsed)
	s.latencyNanos.Add(n)
	for {
		peak := s.peakNanos.Load()
		if n <= peak || s.peakNanos.CompareAndSwap(peak, n) {
			return
		}
	}
}

func (s *statistics) recordEvaluation(name string, elapsed time.Duration, failed bool) *patternCounters {
	pc := s.pattern(name)
	pc.evaluations.Add(1)
	pc.nanos.Add(int64(elapsed))
	if failed {
		pc.errors.Add(1)
		s.detectorErrors.Add(1)
	}
	return pc
}

// markStarted resets the throughput baseline.
func (s *statistics) markStarted(now time.Time) {
	s.mu.Lock()
	s.startedAt = now
	s.lastSnapshot = now
	s.lastProcessed = s.processed.Load()
	s.mu.Unlock()
}

func (s *statistics) snapshot(now time.Time) ProcessingStats {
	processed := s.processed.Load()
	out := ProcessingStats{
		TotalTradesProcessed: processed,
		TotalAlertsGenerated: s.alerts.Load(),
		TotalRejected:        s.rejected.Load(),
		TotalDropped:         s.dropped.Load(),
		DetectorErrors:       s.detectorErrors.Load(),
		AlertsDelivered:      s.delivered.Load(),
		DeliveryErrors:       s.deliveryErrors.Load(),
		PeakProcessingTime:   time.Duration(s.peakNanos.Load()),
		LastUpdated:          now,
		Patterns:             make(map[string]PatternStats),
	}
	if processed > 0 {
		out.AvgProcessingTime = time.Duration(s.latencyNanos.Load() / int64(processed))
	}

	s.patterns.Range(func(key, value any) bool {
		pc := value.(*patternCounters)
		ps := PatternStats{
			AlertCount:     pc.alerts.Load(),
			Evaluations:    pc.evaluations.Load(),
			Errors:         pc.errors.Load(),
			ProcessingTime: time.Duration(pc.nanos.Load()),
		}
		if ps.Evaluations > 0 {
			ps.AvgTime = ps.ProcessingTime / time.Duration(ps.Evaluations)
		}
		out.Patterns[key.(string)] = ps
		return true
	})

	s.mu.Lock()
	if !s.startedAt.IsZero() {
		out.Uptime = now.Sub(s.startedAt)
		if elapsed := now.Sub(s.lastSnapshot).Seconds(); elapsed > 0 && processed >= s.lastProcessed {
			out.ThroughputPerSecond = float64(processed-s.lastProcessed) / elapsed
		}
		s.lastSnapshot = now
		s.lastProcessed = processed
	}
	s.mu.Unlock()
	return out
}
