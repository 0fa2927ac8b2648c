package surveillance

import (
	"fmt"
	"sync/atomic"
	"time"
)

// PatternConfig holds the tunables of one detector. It is replaced as a whole,
// never mutated in place.
type PatternConfig struct {
	Enabled     bool               `json:"enabled"`
	Sensitivity float64            `json:"sensitivity"`
	Threshold   float64            `json:"threshold"`
	Window      time.Duration      `json:"window"`
	MinTrades   int                `json:"min_trades"`
	Params      map[string]float64 `json:"params,omitempty"`
}

// DefaultPatternConfig is used for detectors registered without configuration.
func DefaultPatternConfig() PatternConfig {
	return PatternConfig{
		Enabled:     true,
		Sensitivity: 0.8,
		Threshold:   70,
		Window:      5 * time.Minute,
		MinTrades:   5,
	}
}

// Validate rejects out-of-range tunables.
func (c PatternConfig) Validate() error {
	switch {
	case c.Sensitivity <= 0 || c.Sensitivity > 1:
		return fmt.Errorf("%w: sensitivity %v not in (0,1]", ErrInvalidConfig, c.Sensitivity)
	case c.Threshold < 0 || c.Threshold > 100:
		return fmt.Errorf("%w: threshold %v not in [0,100]", ErrInvalidConfig, c.Threshold)
	case c.Window < 0:
		return fmt.Errorf("%w: negative window %s", ErrInvalidConfig, c.Window)
	case c.MinTrades < 0:
		return fmt.Errorf("%w: negative min_trades %d", ErrInvalidConfig, c.MinTrades)
	}
	return nil
}

// Param returns a named parameter or def when unset.
func (c PatternConfig) Param(name string, def float64) float64 {
	if v, ok := c.Params[name]; ok {
		return v
	}
	return def
}

func (c PatternConfig) clone() PatternConfig {
	if c.Params != nil {
		params := make(map[string]float64, len(c.Params))
		for k, v := range c.Params {
			params[k] = v
		}
		c.Params = params
	}
	return c
}

// Detector evaluates one trade against its context. Detect is called
// concurrently from many workers and must not retain ev or hist.
type Detector interface {
	Name() string
	Detect(ev *TradeEvent, hist *HistoricalContext) (*Alert, error)
	UpdateConfig(cfg PatternConfig) error
	Config() PatternConfig
	IsEnabled() bool
	SetEnabled(enabled bool)
}

// BaseDetector implements the configuration half of Detector. Embed it and
// call Configure before registering.
// The enabled flag lives only in the config, so a toggle and a config update
// can never disagree.
type BaseDetector struct {
	name   string
	config atomic.Pointer[PatternConfig]
}

// Configure sets the detector name and initial config.
func (b *BaseDetector) Configure(name string, cfg PatternConfig) {
	b.name = name
	cfg = cfg.clone()
	b.config.Store(&cfg)
}

func (b *BaseDetector) Name() string { return b.name }

// UpdateConfig swaps in cfg, including its enabled flag.
func (b *BaseDetector) UpdateConfig(cfg PatternConfig) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("pattern %s: %w", b.name, err)
	}
	cfg = cfg.clone()
	b.config.Store(&cfg)
	return nil
}

func (b *BaseDetector) Config() PatternConfig {
	if cfg := b.config.Load(); cfg != nil {
		return *cfg
	}
	return DefaultPatternConfig()
}

func (b *BaseDetector) IsEnabled() bool { return b.Config().Enabled }

// SetEnabled swaps in a copy of the current config with Enabled replaced.
func (b *BaseDetector) SetEnabled(enabled bool) {
	for {
		cur := b.config.Load()
		var next PatternConfig
		if cur != nil {
			next = cur.clone()
		} else {
			next = DefaultPatternConfig()
		}
		next.Enabled = enabled
		if b.config.CompareAndSwap(cur, &next) {
			return
		}
	}
}

// DetectorFunc adapts a function into a Detector with its own config.
type DetectorFunc struct {
	BaseDetector
	fn func(ev *TradeEvent, hist *HistoricalContext, cfg PatternConfig) (*Alert, error)
}

// NewDetectorFunc builds a detector from fn, enabled with default config.
func NewDetectorFunc(name string, fn func(*TradeEvent, *HistoricalContext, PatternConfig) (*Alert, error)) *DetectorFunc {
	d := &DetectorFunc{fn: fn}
	d.Configure(name, DefaultPatternConfig())
	return d
}

func (d *DetectorFunc) Detect(ev *TradeEvent, hist *HistoricalContext) (*Alert, error) {
	return d.fn(ev, hist, d.Config())
}
