// Package alertsink delivers surveillance alerts to downstream systems.
package alertsink

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
	"go.uber.org/zap"

	"github.com/Aidin1998/tradeguard/internal/surveillance"
)

// DefaultTimeout bounds a single sink delivery.
const DefaultTimeout = 2 * time.Second

// Sink receives alerts. Implementations must be safe for concurrent use.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, alert surveillance.Alert) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc struct {
	name string
	fn   func(context.Context, surveillance.Alert) error
}

func NewSinkFunc(name string, fn func(context.Context, surveillance.Alert) error) *SinkFunc {
	return &SinkFunc{name: name, fn: fn}
}

func (s *SinkFunc) Name() string { return s.name }

func (s *SinkFunc) Deliver(ctx context.Context, alert surveillance.Alert) error {
	return s.fn(ctx, alert)
}

// Fanout delivers each alert to every sink concurrently. Alerts that fail on
// any sink are written to the journal, when one is set, for later replay.
type Fanout struct {
	logger  *zap.SugaredLogger
	sinks   []Sink
	timeout time.Duration
	journal *Journal
}

// FanoutOption customizes a Fanout.
type FanoutOption func(*Fanout)

func WithTimeout(d time.Duration) FanoutOption {
	return func(f *Fanout) {
		if d > 0 {
			f.timeout = d
		}
	}
}

func WithJournal(j *Journal) FanoutOption {
	return func(f *Fanout) { f.journal = j }
}

func NewFanout(logger *zap.Logger, sinks []Sink, opts ...FanoutOption) *Fanout {
	f := &Fanout{
		logger:  logger.Named("alertsink").Sugar(),
		sinks:   sinks,
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *Fanout) Name() string { return "fanout" }

// Deliver sends alert to all sinks and returns the joined failures.
func (f *Fanout) Deliver(ctx context.Context, alert surveillance.Alert) error {
	err := f.deliverAll(ctx, alert)
	if err == nil || f.journal == nil {
		return err
	}
	if jerr := f.journal.Append(alert, err.Error()); jerr != nil {
		f.logger.Errorw("Failed to journal undelivered alert", "alert_id", alert.ID, "error", jerr)
		return errors.Join(err, jerr)
	}
	f.logger.Warnw("Alert journaled for replay", "alert_id", alert.ID, "pattern", alert.Pattern, "error", err)
	return err
}

func (f *Fanout) deliverAll(ctx context.Context, alert surveillance.Alert) error {
	var (
		mu   sync.Mutex
		errs []error
		wg   conc.WaitGroup
	)
	for _, s := range f.sinks {
		wg.Go(func() {
			if err := f.deliverOne(ctx, s, alert); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		})
	}
	wg.Wait()
	return errors.Join(errs...)
}

func (f *Fanout) deliverOne(ctx context.Context, s Sink, alert surveillance.Alert) error {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	var (
		err error
		pc  panics.Catcher
	)
	pc.Try(func() { err = s.Deliver(ctx, alert) })
	if r := pc.Recovered(); r != nil {
		err = r.AsError()
	}
	if err != nil {
		return fmt.Errorf("%s: %w", s.Name(), err)
	}
	return nil
}

// Handler adapts the fan-out to the engine's alert callback.
func (f *Fanout) Handler() surveillance.AlertHandler {
	return func(alert surveillance.Alert) error {
		return f.Deliver(context.Background(), alert)
	}
}

// Replay redelivers journaled alerts to every sink without journaling again.
func (f *Fanout) Replay(ctx context.Context) (int, error) {
	if f.journal == nil {
		return 0, nil
	}
	return f.journal.Replay(ctx, NewSinkFunc("replay", f.deliverAll))
}
