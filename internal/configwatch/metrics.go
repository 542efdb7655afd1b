package configwatch

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/telepair/telebridge/internal/scheduler"
	"github.com/telepair/telebridge/pkg/health"
)

// Metrics counts config updates. A nil *Metrics records nothing.
type Metrics struct {
	updates *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer, namespace string) (*Metrics, error) {
	updates, err := health.Register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "configwatch",
		Name:      "updates_total",
		Help:      "Node config updates by result.",
	}, []string{"result"}))
	if err != nil {
		return nil, err
	}
	return &Metrics{updates: updates}, nil
}

func (m *Metrics) update(err error) {
	if m == nil {
		return
	}
	result := "ok"
	switch {
	case errors.Is(err, scheduler.ErrInvalidStream):
		result = "invalid_stream"
	case errors.Is(err, scheduler.ErrInvalidValue):
		result = "invalid_value"
	case err != nil:
		result = "error"
	}
	m.updates.WithLabelValues(result).Inc()
}
