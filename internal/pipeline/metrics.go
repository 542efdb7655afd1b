package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/telepair/telebridge/pkg/health"
)

// Metrics records pipeline runs. A nil *Metrics records nothing.
type Metrics struct {
	runs     *prometheus.CounterVec
	duration *prometheus.HistogramVec
	sent     *prometheus.CounterVec
}

// NewMetrics registers the pipeline metrics with reg.
func NewMetrics(reg prometheus.Registerer, namespace string) (*Metrics, error) {
	var (
		m   Metrics
		err error
	)
	if m.runs, err = health.Register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "pipeline", Name: "runs_total",
		Help: "Pipeline runs by outcome.",
	}, []string{"pipeline", "outcome"})); err != nil {
		return nil, err
	}
	if m.duration, err = health.Register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: "pipeline", Name: "run_duration_seconds",
		Help:    "Pipeline run latency including collection.",
		Buckets: prometheus.DefBuckets,
	}, []string{"pipeline"})); err != nil {
		return nil, err
	}
	if m.sent, err = health.Register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "pipeline", Name: "sent_bytes_total",
		Help: "Serialized report bytes handed to the sink.",
	}, []string{"pipeline"})); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Metrics) observe(name, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(name, outcome).Inc()
	m.duration.WithLabelValues(name).Observe(d.Seconds())
}

func (m *Metrics) bytes(name string, n int) {
	if m != nil {
		m.sent.WithLabelValues(name).Add(float64(n))
	}
}
