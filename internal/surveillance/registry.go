package surveillance

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

type registryTable struct {
	byName map[string]Detector
	names  []string
	order  []Detector
}

// Registry maps pattern names to detectors. Readers take a lock-free snapshot;
// writers copy the table under a mutex and publish it atomically.
type Registry struct {
	logger  *zap.SugaredLogger
	mu      sync.Mutex
	table   atomic.Pointer[registryTable]
	pending map[string]PatternOverride
}

func NewRegistry(logger *zap.Logger) *Registry {
	r := &Registry{
		logger:  logger.Sugar(),
		pending: make(map[string]PatternOverride),
	}
	r.table.Store(&registryTable{byName: map[string]Detector{}})
	return r
}

// Register adds or replaces the detector under name, which must match
// d.Name(). An override recorded for the name before the detector existed is
// applied now.
func (r *Registry) Register(name string, d Detector) error {
	if name == "" || d.Name() != name {
		return fmt.Errorf("detector name %q does not match registration name %q", d.Name(), name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if o, ok := r.pending[name]; ok {
		if err := d.UpdateConfig(o.Apply(d.Config())); err != nil {
			return err
		}
		delete(r.pending, name)
	}

	old := r.table.Load()
	next := &registryTable{byName: make(map[string]Detector, len(old.byName)+1)}
	for n, existing := range old.byName {
		next.byName[n] = existing
	}
	if _, replaced := next.byName[name]; replaced {
		r.logger.Warnw("Replacing registered pattern detector", "pattern", name)
	}
	next.byName[name] = d

	names := make([]string, 0, len(next.byName))
	for n := range next.byName {
		names = append(names, n)
	}
	sort.Strings(names)
	next.names = names
	next.order = make([]Detector, 0, len(names))
	for _, n := range names {
		next.order = append(next.order, next.byName[n])
	}

	r.table.Store(next)
	return nil
}

// configure applies o to a registered detector, or keeps it for a detector
// registered later.
func (r *Registry) configure(name string, o PatternOverride) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.table.Load().byName[name]; ok {
		return d.UpdateConfig(o.Apply(d.Config()))
	}
	if err := o.Validate(); err != nil {
		return err
	}
	r.pending[name] = o
	r.logger.Infow("Holding config for unregistered pattern", "pattern", name)
	return nil
}

func (r *Registry) Get(name string) (Detector, bool) {
	d, ok := r.table.Load().byName[name]
	return d, ok
}

// Names returns registered pattern names in sorted order.
func (r *Registry) Names() []string {
	t := r.table.Load()
	return append([]string(nil), t.names...)
}

// Len returns the number of registered detectors.
func (r *Registry) Len() int { return len(r.table.Load().order) }

// Enabled returns the detectors currently enabled.
func (r *Registry) Enabled() []Detector {
	return r.AppendEnabled(nil)
}

// AppendEnabled appends the enabled detectors to dst so workers can reuse a
// buffer per event.
func (r *Registry) AppendEnabled(dst []Detector) []Detector {
	for _, d := range r.table.Load().order {
		if d.IsEnabled() {
			dst = append(dst, d)
		}
	}
	return dst
}

// LongestWindow returns the largest window among registered detectors and
// the pattern that has it.
func (r *Registry) LongestWindow() (time.Duration, string) {
	var (
		longest time.Duration
		name    string
	)
	t := r.table.Load()
	for i, d := range t.order {
		if w := d.Config().Window; w > longest {
			longest, name = w, t.names[i]
		}
	}
	return longest, name
}

// Toggle enables or disables name. Unknown names are logged and ignored.
func (r *Registry) Toggle(name string, enabled bool) bool {
	d, ok := r.Get(name)
	if !ok {
		r.logger.Warnw("Toggle for unknown pattern ignored", "pattern", name)
		return false
	}
	d.SetEnabled(enabled)
	r.logger.Infow("Pattern toggled", "pattern", name, "enabled", enabled)
	return true
}

// UpdateConfig replaces the config of name. It reports false for unknown
// names and returns the detector's error when the config is rejected.
func (r *Registry) UpdateConfig(name string, cfg PatternConfig) (bool, error) {
	d, ok := r.Get(name)
	if !ok {
		r.logger.Warnw("Config update for unknown pattern ignored", "pattern", name)
		return false, nil
	}
	if err := d.UpdateConfig(cfg); err != nil {
		r.logger.Warnw("Pattern config rejected", "pattern", name, "error", err)
		return true, err
	}
	r.logger.Infow("Pattern config updated",
		"pattern", name,
		"enabled", cfg.Enabled,
		"sensitivity", cfg.Sensitivity,
		"threshold", cfg.Threshold)
	return true, nil
}

// PatternStatus is a read-only view of one registered detector.
type PatternStatus struct {
	Name    string        `json:"name"`
	Enabled bool          `json:"enabled"`
	Config  PatternConfig `json:"config"`
}

// Statuses lists every registered detector in name order.
func (r *Registry) Statuses() []PatternStatus {
	t := r.table.Load()
	out := make([]PatternStatus, 0, len(t.order))
	for i, d := range t.order {
		out = append(out, PatternStatus{Name: t.names[i], Enabled: d.IsEnabled(), Config: d.Config()})
	}
	return out
}
