package reporter

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/telepair/telebridge/pkg/health"
)

// Metrics counts deliveries. A nil *Metrics records nothing.
type Metrics struct {
	deliveries *prometheus.CounterVec
	bytes      *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer, namespace string) (*Metrics, error) {
	var (
		m   Metrics
		err error
	)
	if m.deliveries, err = health.Register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "reporter", Name: "deliveries_total",
		Help: "Report deliveries by topic and result.",
	}, []string{"topic", "result"})); err != nil {
		return nil, err
	}
	if m.bytes, err = health.Register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "reporter", Name: "delivered_bytes_total",
		Help: "Acknowledged report bytes by topic.",
	}, []string{"topic"})); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Metrics) delivery(topic string, n int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.deliveries.WithLabelValues(topic, "error").Inc()
		return
	}
	m.deliveries.WithLabelValues(topic, "ok").Inc()
	m.bytes.WithLabelValues(topic).Add(float64(n))
}
