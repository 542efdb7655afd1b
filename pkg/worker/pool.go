// Package worker provides a small generic worker pool used to hand report
// pipeline runs off the scheduler loop.
package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	defaultWorkers   = 1
	defaultQueueSize = 16
)

// Pool processes submitted items of type T on a fixed number of goroutines.
type Pool[T any] struct {
	workers   int
	queueSize int
	processor func(context.Context, T) error

	workCh  chan T
	wg      sync.WaitGroup
	metrics *poolMetrics

	lifecycleMu sync.Mutex
	started     bool
	stopped     bool

	submitted atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

type poolMetrics struct {
	queueDepth prometheus.Gauge
	processed  *prometheus.CounterVec
	dropped    prometheus.Counter
	duration   prometheus.Histogram
}

// Option configures a Pool.
type Option[T any] func(*Pool[T])

// WithMetrics registers the pool metrics under the given name prefix.
// Registration errors other than AlreadyRegistered are ignored.
func WithMetrics[T any](reg prometheus.Registerer, prefix string) Option[T] {
	return func(p *Pool[T]) {
		if reg == nil || prefix == "" {
			return
		}
		m := &poolMetrics{
			queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: prefix + "_queue_depth",
				Help: "Current worker pool queue depth.",
			}),
			processed: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: prefix + "_processed_total",
				Help: "Work items processed, labeled by status.",
			}, []string{"status"}),
			dropped: prometheus.NewCounter(prometheus.CounterOpts{
				Name: prefix + "_dropped_total",
				Help: "Work items dropped because the queue was full.",
			}),
			duration: prometheus.NewHistogram(prometheus.HistogramOpts{
				Name:    prefix + "_processing_duration_seconds",
				Help:    "Time spent processing work items.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
			}),
		}
		m.queueDepth = registerOrExisting(reg, m.queueDepth)
		m.processed = registerOrExisting(reg, m.processed)
		m.dropped = registerOrExisting(reg, m.dropped)
		m.duration = registerOrExisting(reg, m.duration)
		p.metrics = m
	}
}

func registerOrExisting[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
	}
	return c
}

// NewPool creates a pool. Non-positive sizes fall back to defaults.
func NewPool[T any](workers, queueSize int, processor func(context.Context, T) error, opts ...Option[T]) (*Pool[T], error) {
	if processor == nil {
		return nil, ErrNilProcessor
	}
	if workers <= 0 {
		workers = defaultWorkers
	}
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}

	p := &Pool[T]{
		workers:   workers,
		queueSize: queueSize,
		processor: processor,
		workCh:    make(chan T, queueSize),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Start launches the workers. They exit when ctx is done or Stop is called.
func (p *Pool[T]) Start(ctx context.Context) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if p.started {
		return ErrPoolAlreadyStarted
	}
	for range p.workers {
		p.wg.Go(func() { p.worker(ctx) })
	}
	p.started = true
	return nil
}

// Submit enqueues work without blocking.
func (p *Pool[T]) Submit(work T) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if !p.started {
		return ErrPoolNotStarted
	}
	if p.stopped {
		return ErrPoolStopped
	}

	select {
	case p.workCh <- work:
		p.submitted.Add(1)
		if p.metrics != nil {
			p.metrics.queueDepth.Set(float64(len(p.workCh)))
		}
		return nil
	default:
		p.dropped.Add(1)
		if p.metrics != nil {
			p.metrics.dropped.Inc()
		}
		return ErrQueueFull
	}
}

// Stop closes the queue and waits up to timeout for in-flight work.
func (p *Pool[T]) Stop(timeout time.Duration) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if !p.started || p.stopped {
		return nil
	}
	close(p.workCh)
	p.stopped = true

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-timer.C:
		return ErrStopTimeout
	}
}

// Stats is a point-in-time view of the pool counters.
type Stats struct {
	Workers    int   `json:"workers"`
	QueueSize  int   `json:"queue_size"`
	QueueDepth int   `json:"queue_depth"`
	Submitted  int64 `json:"submitted"`
	Processed  int64 `json:"processed"`
	Failed     int64 `json:"failed"`
	Dropped    int64 `json:"dropped"`
}

func (p *Pool[T]) Stats() Stats {
	return Stats{
		Workers:    p.workers,
		QueueSize:  p.queueSize,
		QueueDepth: len(p.workCh),
		Submitted:  p.submitted.Load(),
		Processed:  p.processed.Load(),
		Failed:     p.failed.Load(),
		Dropped:    p.dropped.Load(),
	}
}

func (p *Pool[T]) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case work, ok := <-p.workCh:
			if !ok {
				return
			}
			p.process(ctx, work)
		}
	}
}

func (p *Pool[T]) process(ctx context.Context, work T) {
	start := time.Now()
	err := p.processor(ctx, work)

	p.processed.Add(1)
	status := "success"
	if err != nil {
		p.failed.Add(1)
		status = "error"
	}
	if p.metrics != nil {
		p.metrics.processed.WithLabelValues(status).Inc()
		p.metrics.duration.Observe(time.Since(start).Seconds())
		p.metrics.queueDepth.Set(float64(len(p.workCh)))
	}
}
