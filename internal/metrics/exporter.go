// Package metrics exports surveillance engine statistics to Prometheus.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Aidin1998/tradeguard/internal/surveillance"
)

const namespace = "surveillance"

// Exporter turns periodic statistics snapshots into Prometheus series.
// Counters advance by the difference between consecutive snapshots.
type Exporter struct {
	mu   sync.Mutex
	last surveillance.ProcessingStats

	tradesProcessed prometheus.Counter
	tradesRejected  prometheus.Counter
	tradesDropped   prometheus.Counter
	alerts          *prometheus.CounterVec
	evaluations     *prometheus.CounterVec
	detectorErrors  *prometheus.CounterVec
	deliveries      *prometheus.CounterVec
	queueDepth      prometheus.Gauge
	queueCapacity   prometheus.Gauge
	alertQueueDepth prometheus.Gauge
	poolFree        prometheus.Gauge
	poolCapacity    prometheus.Gauge
	contextKeys     prometheus.Gauge
	avgProcessing   prometheus.Gauge
	peakProcessing  prometheus.Gauge
	patternAvgTime  *prometheus.GaugeVec
	throughput      prometheus.Gauge
	uptime          prometheus.Gauge
}

// NewExporter creates the collectors and registers them on reg.
func NewExporter(reg prometheus.Registerer) (*Exporter, error) {
	e := &Exporter{
		tradesProcessed: counter("trades_processed_total", "Trades evaluated by the worker pool"),
		tradesRejected:  counter("trades_rejected_total", "Trades refused by validation"),
		tradesDropped:   counter("trades_dropped_total", "Trades refused because the pool or the ingestion channel was full"),
		alerts:          counterVec("alerts_generated_total", "Alerts raised per pattern", "pattern"),
		evaluations:     counterVec("detector_evaluations_total", "Detector invocations per pattern", "pattern"),
		detectorErrors:  counterVec("detector_errors_total", "Detector failures and panics per pattern", "pattern"),
		deliveries:      counterVec("alert_deliveries_total", "Alert handler invocations by outcome", "outcome"),
		queueDepth:      gauge("ingestion_queue_depth", "Trades waiting in the ingestion channel"),
		queueCapacity:   gauge("ingestion_queue_capacity", "Ingestion channel capacity"),
		alertQueueDepth: gauge("alert_queue_depth", "Alerts waiting for the dispatcher"),
		poolFree:        gauge("event_pool_free", "Free event buffer slots"),
		poolCapacity:    gauge("event_pool_capacity", "Event buffer pool size"),
		contextKeys:     gauge("context_keys", "Instrument/account keys held in the context store"),
		avgProcessing:   gauge("processing_seconds_avg", "Mean per-trade processing time"),
		peakProcessing:  gauge("processing_seconds_peak", "Slowest per-trade processing time seen"),
		patternAvgTime:  gaugeVec("detector_seconds_avg", "Mean detector evaluation time per pattern", "pattern"),
		throughput:      gauge("throughput_trades_per_second", "Trades processed per second since the previous snapshot"),
		uptime:          gauge("uptime_seconds", "Time since the engine was last started"),
	}

	for _, c := range []prometheus.Collector{
		e.tradesProcessed, e.tradesRejected, e.tradesDropped,
		e.alerts, e.evaluations, e.detectorErrors, e.deliveries,
		e.queueDepth, e.queueCapacity, e.alertQueueDepth, e.poolFree, e.poolCapacity,
		e.contextKeys, e.avgProcessing, e.peakProcessing, e.patternAvgTime,
		e.throughput, e.uptime,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Observe records a snapshot. It matches surveillance.StatsObserver.
func (e *Exporter) Observe(s surveillance.ProcessingStats) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.tradesProcessed.Add(delta(s.TotalTradesProcessed, e.last.TotalTradesProcessed))
	e.tradesRejected.Add(delta(s.TotalRejected, e.last.TotalRejected))
	e.tradesDropped.Add(delta(s.TotalDropped, e.last.TotalDropped))
	e.deliveries.WithLabelValues("delivered").Add(delta(s.AlertsDelivered, e.last.AlertsDelivered))
	e.deliveries.WithLabelValues("failed").Add(delta(s.DeliveryErrors, e.last.DeliveryErrors))

	for name, p := range s.Patterns {
		prev := e.last.Patterns[name]
		e.alerts.WithLabelValues(name).Add(delta(p.AlertCount, prev.AlertCount))
		e.evaluations.WithLabelValues(name).Add(delta(p.Evaluations, prev.Evaluations))
		e.detectorErrors.WithLabelValues(name).Add(delta(p.Errors, prev.Errors))
		e.patternAvgTime.WithLabelValues(name).Set(p.AvgTime.Seconds())
	}

	e.queueDepth.Set(float64(s.QueueDepth))
	e.queueCapacity.Set(float64(s.QueueCapacity))
	e.alertQueueDepth.Set(float64(s.AlertQueueDepth))
	e.poolFree.Set(float64(s.PoolFree))
	e.poolCapacity.Set(float64(s.PoolCapacity))
	e.contextKeys.Set(float64(s.ContextKeys))
	e.avgProcessing.Set(s.AvgProcessingTime.Seconds())
	e.peakProcessing.Set(s.PeakProcessingTime.Seconds())
	e.throughput.Set(s.ThroughputPerSecond)
	e.uptime.Set(s.Uptime.Seconds())

	e.last = s
}

func counter(name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help})
}

func counterVec(name, help, label string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help}, []string{label})
}

func gauge(name, help string) prometheus.Gauge {
	return prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help})
}

func gaugeVec(name, help, label string) *prometheus.GaugeVec {
	return prometheus.NewGaugeVec(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help}, []string{label})
}

// delta treats a decrease as a counter reset.
func delta(cur, prev uint64) float64 {
	if cur < prev {
		return float64(cur)
	}
	return float64(cur - prev)
}
