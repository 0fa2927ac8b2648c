// Package surveillance implements the real-time trade surveillance engine:
// bounded intake, a pre-allocated event pool, per-key historical context and
// a worker pool that fans each trade out to every enabled pattern detector.
package surveillance

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Aidin1998/tradeguard/internal/config"
)

// State is the engine lifecycle stage.
type State int32

const (
	StateCreated State = iota
	StateInitialized
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateInitialized:
		return "initialized"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// AlertHandler receives every alert, one at a time, on the dispatcher
// goroutine. A returned error is logged and counted.
type AlertHandler func(Alert) error

// StatsObserver receives periodic statistics snapshots.
type StatsObserver func(ProcessingStats)

// Option customizes an Engine at construction.
type Option func(*Engine)

// WithClock replaces the clock used for trade validation and context windows.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}

// WithoutBuiltinDetectors skips registering the built-in patterns.
func WithoutBuiltinDetectors() Option {
	return func(e *Engine) { e.builtins = false }
}

// WithAlertHandler sets the alert callback at construction.
func WithAlertHandler(h AlertHandler) Option {
	return func(e *Engine) { e.SetAlertHandler(h) }
}

// WithStatsObserver adds an observer fed by the periodic stats reporter.
func WithStatsObserver(obs StatsObserver) Option {
	return func(e *Engine) { e.observers = append(e.observers, obs) }
}

type runState struct {
	stop        chan struct{}
	alerts      chan Alert
	workers     sync.WaitGroup
	dispatcher  sync.WaitGroup
	maintenance sync.WaitGroup
}

// Engine is the surveillance processing core. Submit is safe from any number
// of goroutines; lifecycle calls are serialized internally.
type Engine struct {
	logger   *zap.SugaredLogger
	dropLog  *zap.SugaredLogger
	clock    func() time.Time
	builtins bool

	cfg      Config
	pool     *EventPool
	intake   *IngestionChannel
	contexts *ContextStore
	registry *Registry
	stats    statistics

	handler   atomic.Pointer[AlertHandler]
	observers []StatsObserver

	lifecycle sync.Mutex
	state     atomic.Int32
	inflight  atomic.Int64
	run       atomic.Pointer[runState]
}

// NewEngine creates an engine in the Created state.
func NewEngine(logger *zap.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("surveillance")
	sampled := logger.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return zapcore.NewSamplerWithOptions(core, time.Second, 10, 0)
	}))

	e := &Engine{
		logger:   logger.Sugar(),
		dropLog:  sampled.Sugar(),
		clock:    time.Now,
		builtins: true,
		registry: NewRegistry(logger),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// State reports the current lifecycle stage.
func (e *Engine) State() State { return State(e.state.Load()) }

// Initialize validates cfg, allocates the pool, channel and context store,
// registers the built-in detectors and applies pattern overrides. On error
// the engine stays in Created.
func (e *Engine) Initialize(cfg Config) error {
	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()

	if e.State() != StateCreated {
		return ErrAlreadyInitialized
	}
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		e.logger.Errorw("Rejected surveillance configuration", "error", err)
		return err
	}
	if cfg.PoolSize < cfg.QueueSize+cfg.Workers {
		e.logger.Warnw("Event pool smaller than queue plus workers, submits may be dropped before the queue fills",
			"pool_size", cfg.PoolSize, "queue_size", cfg.QueueSize, "workers", cfg.Workers)
	}

	if e.builtins {
		for _, d := range BuiltinDetectors() {
			if _, exists := e.registry.Get(d.Name()); exists {
				continue
			}
			if err := e.registry.Register(d.Name(), d); err != nil {
				return fmt.Errorf("register %s: %w", d.Name(), err)
			}
		}
	}
	for name, o := range cfg.Patterns {
		if err := e.registry.configure(name, o); err != nil {
			return fmt.Errorf("%w: pattern %s: %v", ErrInvalidConfig, name, err)
		}
	}

	e.cfg = cfg
	e.pool = NewEventPool(cfg.PoolSize)
	e.intake = NewIngestionChannel(cfg.QueueSize)
	e.contexts = NewContextStore(cfg.Lookback, cfg.MaxWindowEvents)
	e.state.Store(int32(StateInitialized))
	// after the state store, so a detector registered concurrently is either
	// seen here or covers its own window in RegisterDetector
	e.coverPatternWindows()

	e.logger.Infow("Surveillance engine initialized",
		"workers", cfg.Workers,
		"queue_size", cfg.QueueSize,
		"pool_size", cfg.PoolSize,
		"lookback", e.contexts.Lookback(),
		"patterns", e.registry.Names())
	return nil
}

// InitializeFromFile loads the configuration document at path and
// initializes the engine from it.
func (e *Engine) InitializeFromFile(path string) error {
	doc, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return e.Initialize(ConfigFromDocument(doc))
}

// Start launches workers, the alert dispatcher and maintenance.
func (e *Engine) Start() error {
	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()

	switch e.State() {
	case StateCreated:
		return ErrNotInitialized
	case StateRunning:
		return ErrAlreadyRunning
	}

	run := &runState{
		stop:   make(chan struct{}),
		alerts: make(chan Alert, e.cfg.AlertQueueSize),
	}
	e.stats.markStarted(time.Now())
	e.run.Store(run)

	for i := 0; i < e.cfg.Workers; i++ {
		run.workers.Add(1)
		go e.worker(run)
	}
	run.dispatcher.Add(1)
	go e.dispatch(run)
	run.maintenance.Add(1)
	go e.maintain(run)

	e.state.Store(int32(StateRunning))
	e.logger.Infow("Surveillance engine started", "workers", e.cfg.Workers)
	return nil
}

// Stop drains queued trades, delivers outstanding alerts and joins every
// goroutine. It is a no-op unless the engine is running.
func (e *Engine) Stop() {
	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()

	if e.State() != StateRunning {
		return
	}
	e.state.Store(int32(StateStopping))
	e.logger.Infow("Stopping surveillance engine", "queued", e.intake.Len())

	// Submits that saw Running must finish before workers drain.
	for e.inflight.Load() > 0 {
		runtime.Gosched()
	}

	run := e.run.Load()
	close(run.stop)
	run.workers.Wait()
	close(run.alerts)
	run.dispatcher.Wait()
	run.maintenance.Wait()

	e.state.Store(int32(StateStopped))
	final := e.Statistics()
	e.notifyObservers(final)
	e.logger.Infow("Surveillance engine stopped",
		"trades_processed", final.TotalTradesProcessed,
		"alerts_generated", final.TotalAlertsGenerated,
		"rejected", final.TotalRejected,
		"dropped", final.TotalDropped)
}

// Submit validates ev and enqueues it without blocking. It returns false when
// the engine is not running, the trade is invalid or capacity is exhausted.
func (e *Engine) Submit(ev TradeEvent) bool {
	return e.TrySubmit(ev) == nil
}

// TrySubmit is Submit with the reason for a refusal: ErrNotRunning,
// ErrInvalidTrade (wrapped), ErrPoolExhausted or ErrQueueFull. The last two
// are backpressure and worth retrying.
func (e *Engine) TrySubmit(ev TradeEvent) error {
	e.inflight.Add(1)
	defer e.inflight.Add(-1)

	if e.State() != StateRunning {
		return ErrNotRunning
	}
	return e.submit(&ev)
}

// SubmitBatch submits every event and returns how many were accepted.
func (e *Engine) SubmitBatch(events []TradeEvent) int {
	e.inflight.Add(1)
	defer e.inflight.Add(-1)

	if e.State() != StateRunning {
		return 0
	}
	accepted := 0
	for i := range events {
		ev := events[i]
		if e.submit(&ev) == nil {
			accepted++
		}
	}
	return accepted
}

func (e *Engine) submit(ev *TradeEvent) error {
	ev.Normalize()
	if err := ev.Validate(e.clock(), e.cfg.ClockSkew); err != nil {
		e.stats.rejected.Add(1)
		e.dropLog.Warnw("Rejected invalid trade", "trade_id", ev.ID, "error", err)
		return err
	}

	lease, err := e.pool.Acquire(ev)
	if err != nil {
		e.stats.dropped.Add(1)
		e.dropLog.Warnw("Dropping trade, event pool exhausted", "trade_id", ev.ID, "pool_capacity", e.pool.Capacity())
		return err
	}
	if !e.intake.TryEnqueue(lease) {
		_ = lease.Release()
		e.stats.dropped.Add(1)
		e.dropLog.Warnw("Dropping trade, ingestion channel full", "trade_id", ev.ID, "queue_capacity", e.intake.Cap())
		return ErrQueueFull
	}
	return nil
}

// SetAlertHandler installs the alert callback. It may be called at any time;
// nil removes the handler and alerts are then discarded.
func (e *Engine) SetAlertHandler(h AlertHandler) {
	if h == nil {
		e.handler.Store(nil)
		return
	}
	e.handler.Store(&h)
}

// RegisterDetector adds a custom detector under name.
func (e *Engine) RegisterDetector(name string, d Detector) error {
	if err := e.registry.Register(name, d); err != nil {
		return err
	}
	e.logger.Infow("Registered pattern detector", "pattern", name, "enabled", d.IsEnabled())
	if e.State() != StateCreated {
		e.coverPatternWindows()
	}
	return nil
}

// TogglePattern enables or disables a pattern; unknown names return false.
func (e *Engine) TogglePattern(name string, enabled bool) bool {
	return e.registry.Toggle(name, enabled)
}

// UpdatePatternConfig replaces a pattern's config. It returns false for
// unknown names and for configs the detector rejects.
func (e *Engine) UpdatePatternConfig(name string, cfg PatternConfig) bool {
	ok, err := e.registry.UpdateConfig(name, cfg)
	if !ok || err != nil {
		return false
	}
	if e.State() != StateCreated {
		e.coverPatternWindows()
	}
	return true
}

// coverPatternWindows raises the context lookback to the longest registered
// pattern window. Pruning at a shorter lookback would cut detector windows.
func (e *Engine) coverPatternWindows() {
	longest, pattern := e.registry.LongestWindow()
	if e.contexts.ExtendLookback(longest) {
		e.logger.Infow("Extended context lookback to cover pattern window",
			"pattern", pattern,
			"lookback", longest,
			"configured_lookback", e.cfg.Lookback)
	}
}

// Pattern returns the status of one registered pattern.
func (e *Engine) Pattern(name string) (PatternStatus, bool) {
	d, ok := e.registry.Get(name)
	if !ok {
		return PatternStatus{}, false
	}
	return PatternStatus{Name: name, Enabled: d.IsEnabled(), Config: d.Config()}, true
}

// Patterns lists every registered pattern.
func (e *Engine) Patterns() []PatternStatus { return e.registry.Statuses() }

// UpdateQuote records top of book for an instrument; detectors see it in the
// context snapshot of the next trade.
func (e *Engine) UpdateQuote(instrument string, q Quote) {
	if e.State() == StateCreated {
		return
	}
	e.contexts.UpdateQuote(instrument, q)
}

// Statistics returns a snapshot of the engine counters.
func (e *Engine) Statistics() ProcessingStats {
	stats := e.stats.snapshot(time.Now())
	if e.State() == StateCreated {
		return stats
	}
	stats.QueueDepth = e.intake.Len()
	stats.QueueCapacity = e.intake.Cap()
	stats.PoolFree = e.pool.Free()
	stats.PoolCapacity = e.pool.Capacity()
	stats.ContextKeys = e.contexts.Len()
	if run := e.run.Load(); run != nil {
		stats.AlertQueueDepth = len(run.alerts)
	}
	return stats
}
