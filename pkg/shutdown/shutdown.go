// Package shutdown coordinates graceful process shutdown on OS signals.
package shutdown

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// DefaultShutdownTimeout bounds the whole shutdown sequence.
const DefaultShutdownTimeout = 5 * time.Second

// Shutdowner represents any component that can be gracefully shutdown.
type Shutdowner interface {
	Shutdown(ctx context.Context) error
}

// Func adapts a function to Shutdowner.
type Func func(ctx context.Context) error

// Shutdown implements Shutdowner.
func (f Func) Shutdown(ctx context.Context) error {
	return f(ctx)
}

type component struct {
	name string
	s    Shutdowner
}

// Manager shuts registered components down in reverse registration order,
// so a component registered after its dependencies is stopped before them.
// All components share a single deadline.
type Manager struct {
	mu         sync.Mutex
	components []component
	signals    []os.Signal
	timeout    time.Duration
	logger     *slog.Logger
	once       sync.Once
	err        error
}

// NewManager creates a manager listening for SIGTERM, SIGINT and SIGQUIT.
func NewManager() *Manager {
	return &Manager{
		signals: []os.Signal{syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT},
		timeout: DefaultShutdownTimeout,
		logger:  slog.Default().With("component", "shutdown.manager"),
	}
}

// WithTimeout sets the shutdown timeout.
func (m *Manager) WithTimeout(timeout time.Duration) *Manager {
	if timeout > 0 {
		m.timeout = timeout
	}
	return m
}

// WithSignals sets the signals to listen for.
func (m *Manager) WithSignals(signals ...os.Signal) *Manager {
	if len(signals) > 0 {
		m.signals = signals
	}
	return m
}

// WithLogger sets the logger.
func (m *Manager) WithLogger(logger *slog.Logger) *Manager {
	if logger != nil {
		m.logger = logger.With("component", "shutdown.manager")
	}
	return m
}

// Register adds a named component.
func (m *Manager) Register(name string, s Shutdowner) {
	if s == nil {
		return
	}
	m.mu.Lock()
	m.components = append(m.components, component{name: name, s: s})
	m.mu.Unlock()
}

// RegisterFunc adds a named shutdown function.
func (m *Manager) RegisterFunc(name string, fn func(ctx context.Context) error) {
	if fn != nil {
		m.Register(name, Func(fn))
	}
}

// Wait blocks until a shutdown signal arrives or ctx is done, then shuts down.
func (m *Manager) Wait(ctx context.Context) error {
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, m.signals...)
	defer signal.Stop(signalCh)

	m.logger.InfoContext(ctx, "waiting for shutdown signal", "signals", m.signals, "timeout", m.timeout)

	select {
	case sig := <-signalCh:
		m.logger.Info("received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
		m.logger.Info("context done, initiating shutdown", "cause", context.Cause(ctx))
	}
	return m.Shutdown()
}

// Shutdown runs the shutdown sequence once. Later calls return the first result.
func (m *Manager) Shutdown() error {
	m.once.Do(func() {
		m.err = m.run()
	})
	return m.err
}

func (m *Manager) run() error {
	m.mu.Lock()
	components := make([]component, len(m.components))
	copy(components, m.components)
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	m.logger.Info("initiating graceful shutdown", "components", len(components))
	start := time.Now()

	var errs []error
	for i := len(components) - 1; i >= 0; i-- {
		c := components[i]
		if ctx.Err() != nil {
			errs = append(errs, fmt.Errorf("%s: skipped: %w", c.name, ctx.Err()))
			continue
		}
		if err := c.s.Shutdown(ctx); err != nil {
			m.logger.Error("component shutdown failed", "name", c.name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", c.name, err))
			continue
		}
		m.logger.Debug("component stopped", "name", c.name)
	}

	if err := errors.Join(errs...); err != nil {
		m.logger.Error("shutdown completed with errors", "duration", time.Since(start), "error", err)
		return err
	}
	m.logger.Info("shutdown completed", "duration", time.Since(start))
	return nil
}
