package client

import (
	"errors"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks connection lifecycle events for every bridge connection,
// labeled by connection role (client, request, listener). A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	events    *prometheus.CounterVec
	connected *prometheus.GaugeVec
}

// NewMetrics creates connection metrics registered with reg.
func NewMetrics(reg prometheus.Registerer, namespace string) (*Metrics, error) {
	m := &Metrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "nats",
			Name:      "connection_events_total",
			Help:      "NATS connection events by role and event type.",
		}, []string{"role", "event"}),
		connected: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "nats",
			Name:      "connected",
			Help:      "1 when the connection for a role is up.",
		}, []string{"role"}),
	}
	if reg == nil {
		return m, nil
	}
	if err := reg.Register(m.events); err != nil {
		existing, ok := alreadyRegistered[*prometheus.CounterVec](err)
		if !ok {
			return nil, err
		}
		m.events = existing
	}
	if err := reg.Register(m.connected); err != nil {
		existing, ok := alreadyRegistered[*prometheus.GaugeVec](err)
		if !ok {
			return nil, err
		}
		m.connected = existing
	}
	return m, nil
}

func alreadyRegistered[C prometheus.Collector](err error) (C, bool) {
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		c, ok := are.ExistingCollector.(C)
		return c, ok
	}
	var zero C
	return zero, false
}

// For returns the recorder for one connection role.
func (m *Metrics) For(role string) *ConnMetrics {
	if m == nil {
		return nil
	}
	return &ConnMetrics{parent: m, role: role}
}

// ConnMetrics records events for a single role. Nil-safe.
type ConnMetrics struct {
	parent *Metrics
	role   string
	errors atomic.Uint64
}

func (c *ConnMetrics) event(name string) {
	if c == nil {
		return
	}
	c.parent.events.WithLabelValues(c.role, name).Inc()
}

func (c *ConnMetrics) setConnected(up bool) {
	if c == nil {
		return
	}
	v := 0.0
	if up {
		v = 1
	}
	c.parent.connected.WithLabelValues(c.role).Set(v)
}

// RecordConnection records a successful connect.
func (c *ConnMetrics) RecordConnection() {
	c.event("connect")
	c.setConnected(true)
}

// RecordDisconnection records a disconnect.
func (c *ConnMetrics) RecordDisconnection() {
	c.event("disconnect")
	c.setConnected(false)
}

// RecordReconnection records a reconnect.
func (c *ConnMetrics) RecordReconnection() {
	c.event("reconnect")
	c.setConnected(true)
}

// RecordConnectionClosed records a final close.
func (c *ConnMetrics) RecordConnectionClosed() {
	c.event("closed")
	c.setConnected(false)
}

// RecordError records an async error.
func (c *ConnMetrics) RecordError() {
	if c == nil {
		return
	}
	c.errors.Add(1)
	c.event("error")
}

// Errors returns the number of async errors seen by this recorder.
func (c *ConnMetrics) Errors() uint64 {
	if c == nil {
		return 0
	}
	return c.errors.Load()
}
