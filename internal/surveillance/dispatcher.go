package surveillance

import (
	"time"

	"github.com/sourcegraph/conc/panics"
)

// dispatch delivers alerts in channel order until the engine closes the
// channel after every worker has exited.
func (e *Engine) dispatch(run *runState) {
	defer run.dispatcher.Done()
	for alert := range run.alerts {
		e.deliver(alert)
	}
}

func (e *Engine) deliver(alert Alert) {
	h := e.handler.Load()
	if h == nil {
		e.logger.Debugw("No alert handler installed, alert discarded", "alert_id", alert.ID, "pattern", alert.Pattern)
		return
	}

	var (
		err error
		pc  panics.Catcher
	)
	pc.Try(func() { err = (*h)(alert) })
	if r := pc.Recovered(); r != nil {
		err = r.AsError()
	}
	if err != nil {
		e.stats.deliveryErrors.Add(1)
		e.logger.Errorw("Alert handler failed",
			"alert_id", alert.ID,
			"pattern", alert.Pattern,
			"severity", alert.Severity,
			"error", err)
		return
	}
	e.stats.delivered.Add(1)
}

// maintain runs the periodic context sweep and statistics report.
func (e *Engine) maintain(run *runState) {
	defer run.maintenance.Done()

	statsTicker := time.NewTicker(e.cfg.StatsInterval)
	defer statsTicker.Stop()
	sweepTicker := time.NewTicker(e.cfg.SweepInterval)
	defer sweepTicker.Stop()

	for {
		select {
		case <-run.stop:
			return
		case <-statsTicker.C:
			e.reportStats()
		case <-sweepTicker.C:
			if removed := e.contexts.Sweep(e.clock()); removed > 0 {
				e.logger.Debugw("Swept idle trade contexts", "removed", removed, "remaining", e.contexts.Len())
			}
		}
	}
}

func (e *Engine) reportStats() {
	stats := e.Statistics()
	e.logger.Infow("Surveillance statistics",
		"trades_processed", stats.TotalTradesProcessed,
		"alerts_generated", stats.TotalAlertsGenerated,
		"rejected", stats.TotalRejected,
		"dropped", stats.TotalDropped,
		"detector_errors", stats.DetectorErrors,
		"delivery_errors", stats.DeliveryErrors,
		"queue_depth", stats.QueueDepth,
		"pool_free", stats.PoolFree,
		"avg_processing_time", stats.AvgProcessingTime,
		"peak_processing_time", stats.PeakProcessingTime,
		"throughput_per_second", stats.ThroughputPerSecond)
	for _, name := range stats.TopPatterns() {
		ps := stats.Patterns[name]
		e.logger.Debugw("Pattern statistics",
			"pattern", name,
			"alerts", ps.AlertCount,
			"evaluations", ps.Evaluations,
			"avg_time", ps.AvgTime)
	}
	e.notifyObservers(stats)
}

func (e *Engine) notifyObservers(stats ProcessingStats) {
	for _, obs := range e.observers {
		var pc panics.Catcher
		pc.Try(func() { obs(stats) })
		if r := pc.Recovered(); r != nil {
			e.logger.Errorw("Statistics observer panicked", "error", r.AsError())
		}
	}
}
