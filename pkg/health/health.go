package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

const (
	persistentFailureThreshold = 3
	healthCheckMinInterval     = 1 * time.Second

	healthStatusOK      = "ok"
	healthStatusFail    = "fail"
	healthStatusUnknown = "unknown"
)

// CheckFunc returns an error when the checked dependency is unhealthy.
type CheckFunc func(ctx context.Context) error

type registeredChecker struct {
	fn               CheckFunc
	interval         time.Duration
	lastState        string
	lastErr          error
	consecutiveFails int
}

// Manager runs named checkers on their own intervals and keeps their latest state.
type Manager struct {
	checkers map[string]*registeredChecker
	mu       sync.RWMutex
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
	logger   *slog.Logger
}

// NewHealthManager creates a Manager. Stop it to release the checker goroutines.
func NewHealthManager() *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		checkers: make(map[string]*registeredChecker),
		ctx:      ctx,
		cancel:   cancel,
		logger:   slog.Default().With("component", "health.manager"),
	}
}

// RegisterChecker registers a named checker. It runs once immediately and
// then every interval, which is raised to one second if smaller.
func (h *Manager) RegisterChecker(name string, interval time.Duration, fn CheckFunc) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("checker name is required")
	}
	if fn == nil {
		return errors.New("checker func is required")
	}
	if interval <= 0 {
		return errors.New("checker interval must be greater than zero")
	}
	if interval < healthCheckMinInterval {
		h.logger.Warn("checker interval below minimum, using minimum",
			"name", name, "requested_interval", interval, "minimum_interval", healthCheckMinInterval)
		interval = healthCheckMinInterval
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.ctx.Err() != nil {
		return errors.New("health manager is stopped")
	}
	if _, exists := h.checkers[name]; exists {
		return fmt.Errorf("checker %q already exists", name)
	}

	rc := &registeredChecker{fn: fn, interval: interval, lastState: healthStatusUnknown}
	h.checkers[name] = rc
	h.wg.Go(func() { h.runChecker(name, rc) })

	h.logger.Info("registered health checker", "name", name, "interval", interval)
	return nil
}

// GetHealthStatus returns the latest state of every checker and whether any is failing.
func (h *Manager) GetHealthStatus() (map[string]string, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.checkers) == 0 {
		return nil, false
	}

	results := make(map[string]string, len(h.checkers))
	anyFail := false
	for name, c := range h.checkers {
		results[name] = c.lastState
		if c.lastState == healthStatusFail {
			anyFail = true
		}
	}
	return results, anyFail
}

// Stop cancels every checker and waits for them, bounded by ctx.
func (h *Manager) Stop(ctx context.Context) error {
	h.cancel()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("health manager shutdown timeout: %w", ctx.Err())
	}
}

func (h *Manager) runChecker(name string, c *registeredChecker) {
	h.execute(name, c)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			return
		case <-ticker.C:
			h.execute(name, c)
		}
	}
}

func (h *Manager) execute(name string, c *registeredChecker) {
	err := c.fn(h.ctx)
	if h.ctx.Err() != nil {
		return
	}

	h.mu.Lock()
	prev := c.lastState
	if err != nil {
		c.lastState = healthStatusFail
		c.consecutiveFails++
	} else {
		c.lastState = healthStatusOK
		c.consecutiveFails = 0
	}
	c.lastErr = err
	fails := c.consecutiveFails
	h.mu.Unlock()

	switch {
	case err != nil && prev != healthStatusFail:
		h.logger.Warn("health check failing", "name", name, "from", prev, "error", err)
	case err != nil && fails == persistentFailureThreshold:
		h.logger.Warn("health check persistently failing", "name", name, "consecutive_failures", fails, "error", err)
	case err == nil && prev == healthStatusFail:
		h.logger.Info("health check recovered", "name", name)
	}
}
