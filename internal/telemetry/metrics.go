package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/telepair/telebridge/pkg/health"
)

// Metrics counts processed subsystem events. A nil *Metrics records nothing.
type Metrics struct {
	events *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer, namespace string) (*Metrics, error) {
	events, err := health.Register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "telemetry",
		Name:      "events_total",
		Help:      "Subsystem events processed by event and result.",
	}, []string{"event", "result"}))
	if err != nil {
		return nil, err
	}
	return &Metrics{events: events}, nil
}

func (m *Metrics) event(name string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.events.WithLabelValues(name, result).Inc()
}
