// Package listener receives asynchronous events from the companion
// subsystem and fans them out to registered handlers.
package listener

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Defaults for Config.
const (
	DefaultSubject              = "osandroid.events.>"
	DefaultConnectRetryInterval = time.Second
)

// Config configures a Listener.
type Config struct {
	Subject              string        `yaml:"subject"                json:"subject"`
	ConnectRetryInterval time.Duration `yaml:"connect_retry_interval" json:"connect_retry_interval"`
}

// SetDefaults fills zero values.
func (c *Config) SetDefaults() {
	if c.Subject == "" {
		c.Subject = DefaultSubject
	}
	if c.ConnectRetryInterval <= 0 {
		c.ConnectRetryInterval = DefaultConnectRetryInterval
	}
}

// MatchKind selects how a registration's filter is compared.
type MatchKind int

const (
	// MatchSubstring fires when the filter occurs anywhere in the message text.
	MatchSubstring MatchKind = iota
	// MatchExact fires when the filter equals the message subject.
	MatchExact
)

func (k MatchKind) String() string {
	if k == MatchExact {
		return "exact"
	}
	return "substring"
}

// Handler processes one message. Errors and panics are contained.
type Handler func(ctx context.Context, msg Message) error

type registration struct {
	filter  string
	kind    MatchKind
	handler Handler
}

func (r registration) matches(msg Message) bool {
	if r.kind == MatchExact {
		return msg.Subject == r.filter
	}
	return strings.Contains(msg.Text(), r.filter)
}

// ErrAlreadyStarted is returned by Start on a running listener.
var ErrAlreadyStarted = errors.New("listener already started")

// Listener runs a receive loop on its own goroutine and dispatches every
// message to each matching registration in registration order.
type Listener struct {
	config  Config
	source  Source
	metrics *Metrics
	logger  *slog.Logger

	regMu sync.RWMutex
	regs  []registration

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// Option customizes a Listener.
type Option func(*Listener)

// WithMetrics records dispatch counters.
func WithMetrics(m *Metrics) Option {
	return func(l *Listener) { l.metrics = m }
}

// New creates a Listener reading from source.
func New(config Config, source Source, opts ...Option) (*Listener, error) {
	if source == nil {
		return nil, errors.New("listener: source is required")
	}
	config.SetDefaults()
	l := &Listener{
		config: config,
		source: source,
		logger: slog.Default().With("component", "listener"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Register adds a substring registration. Registering the same filter
// twice yields two invocations per matching message.
func (l *Listener) Register(filter string, h Handler) {
	l.add(registration{filter: filter, kind: MatchSubstring, handler: h})
}

// RegisterExact adds a registration matching the message subject exactly.
func (l *Listener) RegisterExact(subject string, h Handler) {
	l.add(registration{filter: subject, kind: MatchExact, handler: h})
}

func (l *Listener) add(r registration) {
	if r.handler == nil {
		return
	}
	l.regMu.Lock()
	l.regs = append(l.regs, r)
	l.regMu.Unlock()
	l.logger.Debug("handler registered", "filter", r.filter, "match", r.kind.String())
}

// Registrations returns the number of registrations.
func (l *Listener) Registrations() int {
	l.regMu.RLock()
	defer l.regMu.RUnlock()
	return len(l.regs)
}

// Start launches the receive loop. The initial connect is retried every
// ConnectRetryInterval until it succeeds or the listener is stopped.
func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.running {
		return ErrAlreadyStarted
	}
	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})
	l.running = true

	go func() {
		defer close(l.done)
		l.run(ctx)
	}()
	return nil
}

// Stop ends the receive loop, closes the stream and drops every registration.
func (l *Listener) Stop() error {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return nil
	}
	l.running = false
	cancel, done := l.cancel, l.done
	l.mu.Unlock()

	cancel()
	<-done

	l.regMu.Lock()
	l.regs = nil
	l.regMu.Unlock()
	l.logger.Info("listener stopped")
	return nil
}

func (l *Listener) run(ctx context.Context) {
	for {
		stream, ok := l.connect(ctx)
		if !ok {
			return
		}
		err := l.receive(ctx, stream)
		_ = stream.Close()
		if ctx.Err() != nil {
			return
		}
		l.logger.Warn("event stream failed, reconnecting", "error", err)
		if !sleep(ctx, l.config.ConnectRetryInterval) {
			return
		}
	}
}

// connect retries until a stream opens. It reports false when ctx ends first.
func (l *Listener) connect(ctx context.Context) (Stream, bool) {
	for attempt := 1; ; attempt++ {
		stream, err := l.source.Open(ctx)
		if err == nil {
			l.logger.Info("event stream connected", "subject", l.config.Subject, "attempts", attempt)
			return stream, true
		}
		l.metrics.connectFailed()
		if attempt == 1 {
			l.logger.Info("event source not ready, retrying", "interval", l.config.ConnectRetryInterval, "error", err)
		} else {
			l.logger.Debug("event source still not ready", "attempt", attempt, "error", err)
		}
		if !sleep(ctx, l.config.ConnectRetryInterval) {
			return nil, false
		}
	}
}

func (l *Listener) receive(ctx context.Context, stream Stream) error {
	for {
		msg, err := stream.Next(ctx)
		if err != nil {
			return err
		}
		l.Dispatch(ctx, msg)
	}
}

// Dispatch runs every matching handler for msg sequentially and returns
// how many ran. A failing handler does not affect the others.
func (l *Listener) Dispatch(ctx context.Context, msg Message) int {
	l.regMu.RLock()
	regs := make([]registration, len(l.regs))
	copy(regs, l.regs)
	l.regMu.RUnlock()

	l.metrics.received()
	n := 0
	for _, r := range regs {
		if !r.matches(msg) {
			continue
		}
		n++
		if err := l.invoke(ctx, r, msg); err != nil {
			l.metrics.handled(r.filter, false)
			l.logger.Error("event handler failed", "filter", r.filter, "subject", msg.Subject, "error", err)
			continue
		}
		l.metrics.handled(r.filter, true)
	}
	if n == 0 {
		l.logger.Debug("event matched no handler", "subject", msg.Subject, "bytes", len(msg.Data))
	}
	return n
}

func (l *Listener) invoke(ctx context.Context, r registration, msg Message) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("handler panic: %v", p)
		}
	}()
	return r.handler(ctx, msg)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
