package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/telepair/telebridge/pkg/health"
)

// Metrics counts firings per collector. A nil *Metrics records nothing.
type Metrics struct {
	fired   *prometheus.CounterVec
	skipped *prometheus.CounterVec
	runs    *prometheus.CounterVec
}

// NewMetrics registers the scheduler metrics with reg.
func NewMetrics(reg prometheus.Registerer, namespace string) (*Metrics, error) {
	var (
		m   Metrics
		err error
	)
	if m.fired, err = health.Register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "scheduler", Name: "fired_total",
		Help: "Collector firings.",
	}, []string{"collector"})); err != nil {
		return nil, err
	}
	if m.skipped, err = health.Register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "scheduler", Name: "skipped_in_flight_total",
		Help: "Due collectors skipped because the previous run had not finished.",
	}, []string{"collector"})); err != nil {
		return nil, err
	}
	if m.runs, err = health.Register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "scheduler", Name: "runs_total",
		Help: "Completed collector runs by result.",
	}, []string{"collector", "result"})); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Metrics) fire(name string) {
	if m != nil {
		m.fired.WithLabelValues(name).Inc()
	}
}

func (m *Metrics) skip(name string) {
	if m != nil {
		m.skipped.WithLabelValues(name).Inc()
	}
}

func (m *Metrics) outcome(name string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.runs.WithLabelValues(name, result).Inc()
}
