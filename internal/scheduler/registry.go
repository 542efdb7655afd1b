// Package scheduler holds the collector registry and the tick loop that
// decides when each report stream fires.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// State is the scheduling state of a collector.
type State int

const (
	// Disabled collectors never fire.
	Disabled State = iota
	// Armed collectors fire every Interval.
	Armed
	// OneShot collectors fire once on the next tick, then become Disabled.
	OneShot
)

func (s State) String() string {
	switch s {
	case Armed:
		return "ARMED"
	case OneShot:
		return "ONE_SHOT"
	default:
		return "DISABLED"
	}
}

// Collector is one independent report stream.
type Collector struct {
	Name        string
	Interval    time.Duration
	LastFiredAt time.Time
	// Topic is the delivery destination. Empty disables delivery.
	Topic   string
	OneShot bool
	Config  StreamConfig
}

// State derives the scheduling state.
func (c Collector) State() State {
	switch {
	case c.Interval > 0:
		return Armed
	case c.OneShot:
		return OneShot
	default:
		return Disabled
	}
}

// Due reports whether the collector should fire at now.
func (c Collector) Due(now time.Time) bool {
	switch c.State() {
	case Armed:
		return now.Sub(c.LastFiredAt) >= c.Interval
	case OneShot:
		return true
	default:
		return false
	}
}

// RunFunc runs the pipeline for one firing. c is a snapshot taken at fire time.
type RunFunc func(ctx context.Context, c Collector) error

type entry struct {
	c        Collector
	run      RunFunc
	inFlight bool
	runs     uint64
	failures uint64
	lastErr  error
}

// Registry holds collectors in registration order. It is safe for
// concurrent use: configuration updates arrive from the config watcher
// while the scheduler ticks.
type Registry struct {
	mu      sync.Mutex
	order   []*entry
	byName  map[string]*entry
	now     func() time.Time
	logger  *slog.Logger
	changes []func(Collector)
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]*entry),
		now:    time.Now,
		logger: slog.Default().With("component", "scheduler.registry"),
	}
}

// Add registers a collector. A zero LastFiredAt is set to the current
// time, so a newly armed stream waits one full interval.
func (r *Registry) Add(c Collector, run RunFunc) error {
	if c.Name == "" {
		return errors.New("collector name is required")
	}
	if run == nil {
		return fmt.Errorf("collector %s: run func is required", c.Name)
	}
	if c.Config == nil {
		return fmt.Errorf("collector %s: stream config is required", c.Name)
	}
	if c.Interval < 0 {
		return &ConfigError{Kind: InvalidValue, Stream: c.Name, Err: errors.New("negative interval")}
	}
	if c.OneShot && !c.Config.AllowsOneShot() {
		return &ConfigError{Kind: InvalidValue, Stream: c.Name, Err: errors.New("one-shot not supported")}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[c.Name]; exists {
		return fmt.Errorf("collector %s already registered", c.Name)
	}
	if c.LastFiredAt.IsZero() {
		c.LastFiredAt = r.now()
	}
	e := &entry{c: c, run: run}
	r.order = append(r.order, e)
	r.byName[c.Name] = e
	return nil
}

// OnChange registers fn to be called with the updated collector after
// every configuration input. fn must not call back into the registry.
func (r *Registry) OnChange(fn func(Collector)) {
	r.mu.Lock()
	r.changes = append(r.changes, fn)
	r.mu.Unlock()
}

// Get returns a copy of the named collector.
func (r *Registry) Get(name string) (Collector, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byName[name]
	if !ok {
		return Collector{}, false
	}
	return e.c, true
}

// Names returns collector names in registration order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, len(r.order))
	for i, e := range r.order {
		names[i] = e.c.Name
	}
	return names
}

// CollectorStatus is a point-in-time view of one collector.
type CollectorStatus struct {
	Name        string    `json:"name"`
	Kind        string    `json:"kind"`
	State       string    `json:"state"`
	IntervalSec int64     `json:"interval_sec"`
	Topic       string    `json:"topic"`
	LastFiredAt time.Time `json:"last_fired_at"`
	InFlight    bool      `json:"in_flight"`
	Runs        uint64    `json:"runs"`
	Failures    uint64    `json:"failures"`
	LastError   string    `json:"last_error,omitempty"`
}

// Status returns every collector's status in registration order.
func (r *Registry) Status() []CollectorStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]CollectorStatus, 0, len(r.order))
	for _, e := range r.order {
		s := CollectorStatus{
			Name:        e.c.Name,
			Kind:        e.c.Config.Kind(),
			State:       e.c.State().String(),
			IntervalSec: int64(e.c.Interval / time.Second),
			Topic:       e.c.Topic,
			LastFiredAt: e.c.LastFiredAt,
			InFlight:    e.inFlight,
			Runs:        e.runs,
			Failures:    e.failures,
		}
		if e.lastErr != nil {
			s.LastError = e.lastErr.Error()
		}
		out = append(out, s)
	}
	return out
}

func (r *Registry) update(name string, fn func(c *Collector) error) error {
	r.mu.Lock()
	e, ok := r.byName[name]
	if !ok {
		r.mu.Unlock()
		return &ConfigError{Kind: InvalidStream, Stream: name}
	}
	if err := fn(&e.c); err != nil {
		r.mu.Unlock()
		var ce *ConfigError
		if errors.As(err, &ce) {
			return err
		}
		return &ConfigError{Kind: InvalidValue, Stream: name, Err: err}
	}
	c := e.c
	changes := r.changes
	r.mu.Unlock()

	r.logger.Info("collector updated",
		"name", c.Name, "state", c.State().String(), "interval", c.Interval, "topic", c.Topic)
	for _, fn := range changes {
		fn(c)
	}
	return nil
}

// SetInterval sets the firing interval in seconds. Zero leaves the
// collector Disabled unless a one-shot is pending.
func (r *Registry) SetInterval(name string, seconds int64) error {
	return r.update(name, func(c *Collector) error {
		if seconds < 0 {
			return fmt.Errorf("negative interval %d", seconds)
		}
		c.Interval = time.Duration(seconds) * time.Second
		return nil
	})
}

// DeleteInterval disables the collector immediately.
func (r *Registry) DeleteInterval(name string) error {
	return r.update(name, func(c *Collector) error {
		c.Interval = 0
		c.OneShot = false
		return nil
	})
}

// SetTopic sets the delivery topic. Empty disables delivery.
func (r *Registry) SetTopic(name, topic string) error {
	return r.update(name, func(c *Collector) error {
		c.Topic = topic
		return nil
	})
}

// SetExtra updates the stream-specific configuration from a textual value.
func (r *Registry) SetExtra(name, value string) error {
	return r.update(name, func(c *Collector) error {
		cfg, err := c.Config.WithExtra(value)
		if err != nil {
			return err
		}
		c.Config = cfg
		return nil
	})
}

// RequestOneShot schedules a single firing on the next tick.
func (r *Registry) RequestOneShot(name string) error {
	return r.update(name, func(c *Collector) error {
		if !c.Config.AllowsOneShot() {
			return fmt.Errorf("%s streams do not support one-shot", c.Config.Kind())
		}
		c.Interval = 0
		c.OneShot = true
		return nil
	})
}

// claimDue marks every due, idle collector as fired at now and returns
// snapshots in registration order. Any firing consumes a pending one-shot.
func (r *Registry) claimDue(now time.Time) (due []Collector, skipped []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.order {
		if !e.c.Due(now) {
			continue
		}
		if e.inFlight {
			skipped = append(skipped, e.c.Name)
			continue
		}
		e.inFlight = true
		e.c.LastFiredAt = now
		snapshot := e.c
		e.c.OneShot = false
		due = append(due, snapshot)
	}
	return due, skipped
}

func (r *Registry) runFunc(name string) RunFunc {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.byName[name]; ok {
		return e.run
	}
	return nil
}

func (r *Registry) finish(name string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byName[name]
	if !ok {
		return
	}
	e.inFlight = false
	e.runs++
	e.lastErr = err
	if err != nil {
		e.failures++
	}
}
