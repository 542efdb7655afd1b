package transport

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/telepair/telebridge/pkg/health"
)

// Metrics records request outcomes. A nil *Metrics records nothing.
type Metrics struct {
	requests   *prometheus.CounterVec
	retries    prometheus.Counter
	reconnects prometheus.Counter
	duration   prometheus.Histogram
}

// NewMetrics registers the transport metrics with reg.
func NewMetrics(reg prometheus.Registerer, namespace string) (*Metrics, error) {
	var (
		m   Metrics
		err error
	)
	if m.requests, err = health.Register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "transport",
		Name:      "requests_total",
		Help:      "Requests by result.",
	}, []string{"result"})); err != nil {
		return nil, err
	}
	if m.retries, err = health.Register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "transport",
		Name:      "send_retries_total",
		Help:      "Send retries after a failed send.",
	})); err != nil {
		return nil, err
	}
	if m.reconnects, err = health.Register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "transport",
		Name:      "reconnects_total",
		Help:      "Successful reconnects, each with a new identity.",
	})); err != nil {
		return nil, err
	}
	if m.duration, err = health.Register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "transport",
		Name:      "request_duration_seconds",
		Help:      "Duration of successful requests.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
	})); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Metrics) observe(kind Kind) {
	if m == nil {
		return
	}
	result := "ok"
	if kind != 0 {
		result = kind.String()
	}
	m.requests.WithLabelValues(result).Inc()
}

func (m *Metrics) retry() {
	if m != nil {
		m.retries.Inc()
	}
}

func (m *Metrics) reconnect() {
	if m != nil {
		m.reconnects.Inc()
	}
}

func (m *Metrics) latency(d time.Duration) {
	if m != nil {
		m.duration.Observe(d.Seconds())
	}
}
