package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/telepair/telebridge/pkg/worker"
)

// Defaults for Config.
const (
	DefaultTickInterval = time.Second
	DefaultStopTimeout  = 30 * time.Second
)

// Config configures a Scheduler.
type Config struct {
	TickInterval time.Duration `yaml:"tick_interval" json:"tick_interval"`
	// Workers > 0 runs pipelines on a worker pool instead of inline in the tick.
	Workers   int `yaml:"workers"    json:"workers"`
	QueueSize int `yaml:"queue_size" json:"queue_size"`
}

// SetDefaults fills zero values.
func (c *Config) SetDefaults() {
	if c.TickInterval <= 0 {
		c.TickInterval = DefaultTickInterval
	}
	if c.Workers < 0 {
		c.Workers = 0
	}
}

// Scheduler fires due collectors once per tick.
type Scheduler struct {
	config   Config
	registry *Registry
	pool     *worker.Pool[Collector]
	metrics  *Metrics
	logger   *slog.Logger
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithMetrics records firings and outcomes.
func WithMetrics(m *Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// New creates a Scheduler over registry. reg, when not nil, receives the
// worker pool metrics.
func New(registry *Registry, config Config, reg prometheus.Registerer, opts ...Option) (*Scheduler, error) {
	if registry == nil {
		return nil, errors.New("scheduler: registry is required")
	}
	config.SetDefaults()
	s := &Scheduler{
		config:   config,
		registry: registry,
		logger:   slog.Default().With("component", "scheduler"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if config.Workers > 0 {
		pool, err := worker.NewPool(config.Workers, config.QueueSize, s.process,
			worker.WithMetrics[Collector](reg, "telebridge_scheduler_pool"))
		if err != nil {
			return nil, fmt.Errorf("create worker pool: %w", err)
		}
		s.pool = pool
	}
	return s, nil
}

// Registry returns the registry the scheduler reads.
func (s *Scheduler) Registry() *Registry {
	return s.registry
}

// Tick fires every due collector at now, in registration order, and
// returns how many fired. A collector still running from an earlier tick
// is skipped. Failures are logged and never stop the tick.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) int {
	due, skipped := s.registry.claimDue(now)
	for _, name := range skipped {
		s.metrics.skip(name)
		s.logger.Debug("collector still in flight, skipping", "name", name)
	}

	for _, c := range due {
		s.metrics.fire(c.Name)
		if s.pool == nil {
			_ = s.process(ctx, c)
			continue
		}
		if err := s.pool.Submit(c); err != nil {
			s.logger.Warn("pipeline dispatch failed", "name", c.Name, "error", err)
			s.registry.finish(c.Name, err)
			s.metrics.outcome(c.Name, err)
		}
	}
	return len(due)
}

func (s *Scheduler) process(ctx context.Context, c Collector) (err error) {
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("pipeline panic: %v", p)
		}
		s.registry.finish(c.Name, err)
		s.metrics.outcome(c.Name, err)
		if err != nil {
			s.logger.Error("collector run failed", "name", c.Name, "duration", time.Since(start), "error", err)
		} else {
			s.logger.Debug("collector run completed", "name", c.Name, "duration", time.Since(start))
		}
	}()

	run := s.registry.runFunc(c.Name)
	if run == nil {
		return fmt.Errorf("collector %s has no run func", c.Name)
	}
	return run(ctx, c)
}

// Run ticks every TickInterval until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.pool != nil {
		if err := s.pool.Start(ctx); err != nil {
			return fmt.Errorf("start worker pool: %w", err)
		}
		defer func() {
			if err := s.pool.Stop(DefaultStopTimeout); err != nil {
				s.logger.Warn("worker pool stop", "error", err)
			}
		}()
	}

	s.logger.Info("scheduler started", "tick", s.config.TickInterval, "workers", s.config.Workers)
	ticker := time.NewTicker(s.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return nil
		case now := <-ticker.C:
			s.Tick(ctx, now)
		}
	}
}

// PoolStats returns the worker pool counters, or false when running inline.
func (s *Scheduler) PoolStats() (worker.Stats, bool) {
	if s.pool == nil {
		return worker.Stats{}, false
	}
	return s.pool.Stats(), true
}
