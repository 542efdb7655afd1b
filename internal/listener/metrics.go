package listener

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/telepair/telebridge/pkg/health"
)

// Metrics counts listener activity. A nil *Metrics records nothing.
type Metrics struct {
	messages       prometheus.Counter
	connectErrors  prometheus.Counter
	dispatches     *prometheus.CounterVec
	handlerFailure *prometheus.CounterVec
}

// NewMetrics registers the listener metrics with reg.
func NewMetrics(reg prometheus.Registerer, namespace string) (*Metrics, error) {
	var (
		m   Metrics
		err error
	)
	if m.messages, err = health.Register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "listener", Name: "messages_total",
		Help: "Inbound event messages.",
	})); err != nil {
		return nil, err
	}
	if m.connectErrors, err = health.Register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "listener", Name: "connect_failures_total",
		Help: "Failed attempts to open the event stream.",
	})); err != nil {
		return nil, err
	}
	if m.dispatches, err = health.Register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "listener", Name: "dispatches_total",
		Help: "Handler invocations by filter.",
	}, []string{"filter"})); err != nil {
		return nil, err
	}
	if m.handlerFailure, err = health.Register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "listener", Name: "handler_failures_total",
		Help: "Handler errors and panics by filter.",
	}, []string{"filter"})); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Metrics) received() {
	if m != nil {
		m.messages.Inc()
	}
}

func (m *Metrics) connectFailed() {
	if m != nil {
		m.connectErrors.Inc()
	}
}

func (m *Metrics) handled(filter string, ok bool) {
	if m == nil {
		return
	}
	m.dispatches.WithLabelValues(filter).Inc()
	if !ok {
		m.handlerFailure.WithLabelValues(filter).Inc()
	}
}
