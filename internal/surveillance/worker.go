package surveillance

import (
	"time"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
)

// worker processes leases until stop, then drains what is left in the intake.
func (e *Engine) worker(run *runState) {
	defer run.workers.Done()

	detectors := make([]Detector, 0, 8)
	intake := e.intake.recv()
	for {
		select {
		case lease := <-intake:
			detectors = e.process(lease, detectors, run)
		case <-run.stop:
			for {
				lease, ok := e.intake.TryDequeue()
				if !ok {
					return
				}
				detectors = e.process(lease, detectors, run)
			}
		}
	}
}

// process runs one trade through the context store and every enabled
// detector. The lease is released on every path.
func (e *Engine) process(lease Lease, detectors []Detector, run *runState) []Detector {
	defer func() {
		if err := lease.Release(); err != nil {
			e.logger.Errorw("Event lease released twice", "error", err)
		}
	}()

	ev := lease.Event()
	if ev == nil {
		e.logger.Errorw("Dequeued a lease that no longer owns its slot")
		return detectors
	}

	start := time.Now()
	now := e.clock()
	if err := ev.Validate(now, e.cfg.ClockSkew); err != nil {
		e.stats.rejected.Add(1)
		e.dropLog.Warnw("Dropping invalid trade", "trade_id", ev.ID, "error", err)
		return detectors
	}

	hist := e.contexts.Update(ev, now)

	detectors = e.registry.AppendEnabled(detectors[:0])
	switch len(detectors) {
	case 0:
	case 1:
		e.evaluate(detectors[0], ev, &hist, run)
	default:
		var wg conc.WaitGroup
		for _, d := range detectors {
			wg.Go(func() { e.evaluate(d, ev, &hist, run) })
		}
		wg.Wait()
	}

	e.stats.recordProcessed(time.Since(start))
	return detectors
}

// evaluate runs one detector with panic capture. A failing detector is logged
// and skipped; it never affects the others.
func (e *Engine) evaluate(d Detector, ev *TradeEvent, hist *HistoricalContext, run *runState) {
	name := d.Name()
	start := time.Now()

	var (
		alert *Alert
		err   error
		pc    panics.Catcher
	)
	pc.Try(func() { alert, err = d.Detect(ev, hist) })
	if r := pc.Recovered(); r != nil {
		err = r.AsError()
	}

	counters := e.stats.recordEvaluation(name, time.Since(start), err != nil)
	if err != nil {
		e.logger.Errorw("Pattern detector failed", "pattern", name, "trade_id", ev.ID, "error", err)
		return
	}
	if alert == nil {
		return
	}

	alert.stamp(name, ev, e.clock())
	counters.alerts.Add(1)
	e.stats.alerts.Add(1)
	run.alerts <- *alert
}
