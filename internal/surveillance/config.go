package surveillance

import (
	"fmt"
	"runtime"
	"time"

	"github.com/Aidin1998/tradeguard/internal/config"
)

// Config sizes the engine and carries per-pattern overrides.
type Config struct {
	Workers         int
	QueueSize       int
	PoolSize        int
	AlertQueueSize  int
	Lookback        time.Duration
	MaxWindowEvents int
	ClockSkew       time.Duration
	StatsInterval   time.Duration
	SweepInterval   time.Duration
	Patterns        map[string]PatternOverride
}

// DefaultConfig mirrors the defaults of the configuration document.
func DefaultConfig() Config {
	return Config{
		Workers:         runtime.NumCPU(),
		QueueSize:       65536,
		AlertQueueSize:  4096,
		Lookback:        5 * time.Minute,
		MaxWindowEvents: 1024,
		StatsInterval:   30 * time.Second,
		SweepInterval:   time.Minute,
	}
}

// withDefaults fills zero sizes. The pool gets one slot per queued event plus
// one per worker so a full queue never starves Acquire.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Workers == 0 {
		c.Workers = d.Workers
	}
	if c.QueueSize == 0 {
		c.QueueSize = d.QueueSize
	}
	if c.PoolSize == 0 {
		c.PoolSize = c.QueueSize + c.Workers
	}
	if c.AlertQueueSize == 0 {
		c.AlertQueueSize = d.AlertQueueSize
	}
	if c.Lookback == 0 {
		c.Lookback = d.Lookback
	}
	if c.StatsInterval == 0 {
		c.StatsInterval = d.StatsInterval
	}
	if c.SweepInterval == 0 {
		c.SweepInterval = d.SweepInterval
	}
	return c
}

func (c Config) Validate() error {
	switch {
	case c.Workers < 1:
		return fmt.Errorf("%w: workers must be at least 1, got %d", ErrInvalidConfig, c.Workers)
	case c.QueueSize < 1:
		return fmt.Errorf("%w: queue_size must be at least 1, got %d", ErrInvalidConfig, c.QueueSize)
	case c.PoolSize < 1:
		return fmt.Errorf("%w: pool_size must be at least 1, got %d", ErrInvalidConfig, c.PoolSize)
	case c.AlertQueueSize < 1:
		return fmt.Errorf("%w: alert_queue_size must be at least 1, got %d", ErrInvalidConfig, c.AlertQueueSize)
	case c.Lookback <= 0:
		return fmt.Errorf("%w: lookback must be positive", ErrInvalidConfig)
	case c.MaxWindowEvents < 0:
		return fmt.Errorf("%w: max_window_events must not be negative", ErrInvalidConfig)
	case c.ClockSkew < 0:
		return fmt.Errorf("%w: clock_skew must not be negative", ErrInvalidConfig)
	case c.StatsInterval <= 0 || c.SweepInterval <= 0:
		return fmt.Errorf("%w: stats_interval and sweep_interval must be positive", ErrInvalidConfig)
	}
	for name, o := range c.Patterns {
		if name == "" {
			return fmt.Errorf("%w: empty pattern name", ErrInvalidConfig)
		}
		if err := o.Validate(); err != nil {
			return fmt.Errorf("pattern %s: %w", name, err)
		}
	}
	return nil
}

// PatternOverride changes only the fields that are set, on top of a
// detector's own defaults.
type PatternOverride struct {
	Enabled     *bool
	Sensitivity *float64
	Threshold   *float64
	Window      *time.Duration
	MinTrades   *int
	Params      map[string]float64
}

func (o PatternOverride) Validate() error {
	base := DefaultPatternConfig()
	return o.Apply(base).Validate()
}

// Apply returns base with the override's fields replaced. Params are merged.
func (o PatternOverride) Apply(base PatternConfig) PatternConfig {
	cfg := base.clone()
	if o.Enabled != nil {
		cfg.Enabled = *o.Enabled
	}
	if o.Sensitivity != nil {
		cfg.Sensitivity = *o.Sensitivity
	}
	if o.Threshold != nil {
		cfg.Threshold = *o.Threshold
	}
	if o.Window != nil {
		cfg.Window = *o.Window
	}
	if o.MinTrades != nil {
		cfg.MinTrades = *o.MinTrades
	}
	if len(o.Params) > 0 && cfg.Params == nil {
		cfg.Params = make(map[string]float64, len(o.Params))
	}
	for k, v := range o.Params {
		cfg.Params[k] = v
	}
	return cfg
}

// ConfigFromDocument converts the loaded configuration document.
func ConfigFromDocument(doc *config.Config) Config {
	cfg := Config{
		Workers:         doc.Engine.Workers,
		QueueSize:       doc.Engine.QueueSize,
		PoolSize:        doc.Engine.PoolSize,
		AlertQueueSize:  doc.Engine.AlertQueueSize,
		Lookback:        doc.Engine.Lookback,
		MaxWindowEvents: doc.Engine.MaxWindowEvents,
		ClockSkew:       doc.Engine.ClockSkew,
		StatsInterval:   doc.Engine.StatsInterval,
		SweepInterval:   doc.Engine.SweepInterval,
		Patterns:        make(map[string]PatternOverride, len(doc.Patterns)),
	}
	for name, p := range doc.Patterns {
		cfg.Patterns[name] = PatternOverride{
			Enabled:     p.Enabled,
			Sensitivity: p.Sensitivity,
			Threshold:   p.Threshold,
			Window:      p.Window,
			MinTrades:   p.MinTrades,
			Params:      p.Params,
		}
	}
	return cfg
}
