// Package pipeline runs the collect, serialize and deliver steps that turn
// one telemetry snapshot into one report packet.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Message is a report that can be serialized in two phases: Size first,
// then AppendTo into a buffer with exactly that capacity.
type Message interface {
	Size() int
	AppendTo(b []byte) []byte
}

// Sink delivers a serialized report to a topic.
type Sink interface {
	Deliver(ctx context.Context, topic string, payload []byte) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, topic string, payload []byte) error

// Deliver implements Sink.
func (f SinkFunc) Deliver(ctx context.Context, topic string, payload []byte) error {
	return f(ctx, topic, payload)
}

// CollectFunc obtains a structured snapshot.
type CollectFunc[T Message] func(ctx context.Context) (T, error)

// Result describes a successful run.
type Result struct {
	// Sent is false when the topic was empty and delivery was skipped,
	// or when the report encoded to zero bytes.
	Sent  bool
	Topic string
	Bytes int
}

// Pipeline ties a collector function to a delivery sink.
type Pipeline[T Message] struct {
	name    string
	collect CollectFunc[T]
	sink    Sink
	metrics *Metrics
	logger  *slog.Logger
}

// Option customizes a Pipeline.
type Option func(*options)

type options struct {
	metrics *Metrics
	logger  *slog.Logger
}

// WithMetrics records run outcomes.
func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithLogger overrides the default component logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// New creates a pipeline. collect may be nil for pipelines fed only
// through RunWith.
func New[T Message](name string, collect CollectFunc[T], sink Sink, opts ...Option) (*Pipeline[T], error) {
	if name == "" {
		return nil, errors.New("pipeline name is required")
	}
	if sink == nil {
		return nil, fmt.Errorf("pipeline %s: sink is required", name)
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default().With("component", "pipeline", "pipeline", name)
	}
	return &Pipeline[T]{
		name:    name,
		collect: collect,
		sink:    sink,
		metrics: o.metrics,
		logger:  o.logger,
	}, nil
}

// Name returns the pipeline name.
func (p *Pipeline[T]) Name() string {
	return p.name
}

// Run collects a snapshot and hands it to RunWith.
func (p *Pipeline[T]) Run(ctx context.Context, topic string) (Result, error) {
	if p.collect == nil {
		return Result{}, p.fail(CollectFailed, topic, errors.New("no collect func"), time.Now())
	}
	start := time.Now()
	msg, err := p.collect(ctx)
	if err != nil {
		return Result{}, p.fail(CollectFailed, topic, err, start)
	}
	return p.deliver(ctx, topic, msg, start)
}

// RunWith serializes and delivers an already collected snapshot.
func (p *Pipeline[T]) RunWith(ctx context.Context, topic string, msg T) (Result, error) {
	return p.deliver(ctx, topic, msg, time.Now())
}

func (p *Pipeline[T]) deliver(ctx context.Context, topic string, msg T, start time.Time) (Result, error) {
	payload, err := Encode(msg)
	if err != nil {
		return Result{}, p.fail(EncodeFailed, topic, err, start)
	}

	res := Result{Topic: topic, Bytes: len(payload)}
	switch {
	case topic == "":
		p.logger.Info("topic not set, report not sent", "bytes", len(payload))
		p.metrics.observe(p.name, "skipped", time.Since(start))
		return res, nil
	case len(payload) == 0:
		p.logger.Debug("empty report, nothing to send", "topic", topic)
		p.metrics.observe(p.name, "empty", time.Since(start))
		return res, nil
	}

	if err := p.sink.Deliver(ctx, topic, payload); err != nil {
		return Result{}, p.fail(DeliverFailed, topic, err, start)
	}

	res.Sent = true
	p.metrics.observe(p.name, "sent", time.Since(start))
	p.metrics.bytes(p.name, len(payload))
	p.logger.Debug("report sent", "topic", topic, "bytes", len(payload))
	return res, nil
}

func (p *Pipeline[T]) fail(stage Stage, topic string, err error, start time.Time) error {
	p.metrics.observe(p.name, stage.label()+"_failed", time.Since(start))
	return &PipelineError{Stage: stage, Pipeline: p.name, Topic: topic, Err: err}
}

// Encode serializes msg in two phases and checks that the encoder wrote
// exactly the size it announced.
func Encode(msg Message) ([]byte, error) {
	size := msg.Size()
	if size < 0 {
		return nil, fmt.Errorf("negative size %d", size)
	}
	buf := msg.AppendTo(make([]byte, 0, size))
	if len(buf) != size {
		return nil, fmt.Errorf("encoded %d bytes, expected %d", len(buf), size)
	}
	return buf, nil
}
