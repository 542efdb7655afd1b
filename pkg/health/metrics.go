package health

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	// HTTPMaxRequestsInFlight limits concurrent scrapes.
	HTTPMaxRequestsInFlight = 10
	// HTTPTimeout bounds a single scrape.
	HTTPTimeout = 5 * time.Second
)

// PrometheusRegistry owns the process registry that every component
// registers its collectors with.
type PrometheusRegistry struct {
	reg       *prometheus.Registry
	namespace string

	httpInFlight        prometheus.Gauge
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// NewPrometheusRegistry creates a registry with the Go and process collectors
// and the HTTP instrumentation used by HTTPMiddleware.
func NewPrometheusRegistry(namespace string) *PrometheusRegistry {
	r := &PrometheusRegistry{
		reg:       prometheus.NewRegistry(),
		namespace: namespace,
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_in_flight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests handled, labeled by code and method.",
		}, []string{"code", "method"}),
		httpRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"handler", "method", "code"}),
	}
	r.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.httpInFlight,
		r.httpRequestsTotal,
		r.httpRequestDuration,
	)
	return r
}

// Namespace returns the metric namespace components should use.
func (r *PrometheusRegistry) Namespace() string {
	return r.namespace
}

// Registerer returns the registry for component metrics.
func (r *PrometheusRegistry) Registerer() prometheus.Registerer {
	return r.reg
}

// Gatherer returns the registry for scraping and tests.
func (r *PrometheusRegistry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// HTTPHandler serves the registry in the Prometheus exposition format.
// promhttp negotiates gzip itself.
func (r *PrometheusRegistry) HTTPHandler() http.Handler {
	base := promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{
		EnableOpenMetrics:   true,
		MaxRequestsInFlight: HTTPMaxRequestsInFlight,
		Timeout:             HTTPTimeout,
	})
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if !allowRead(w, req) {
			return
		}
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		base.ServeHTTP(w, req)
	})
}

// HTTPMiddleware instruments h with request count, latency and in-flight metrics.
func (r *PrometheusRegistry) HTTPMiddleware(handlerName string, h http.Handler) http.Handler {
	if h == nil || handlerName == "" {
		return h
	}
	duration := r.httpRequestDuration.MustCurryWith(prometheus.Labels{"handler": handlerName})
	return promhttp.InstrumentHandlerInFlight(
		r.httpInFlight,
		promhttp.InstrumentHandlerDuration(
			duration,
			promhttp.InstrumentHandlerCounter(r.httpRequestsTotal, h),
		),
	)
}

func allowRead(w http.ResponseWriter, r *http.Request) bool {
	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		return true
	}
	w.Header().Set("Allow", "GET, HEAD")
	w.WriteHeader(http.StatusMethodNotAllowed)
	return false
}

// Register registers c with reg and returns it. When an identical collector
// is already registered, the existing one is returned instead, so components
// can be rebuilt against the same registry. A nil reg leaves c unregistered.
func Register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if reg == nil {
		return c, nil
	}
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		var zero C
		return zero, err
	}
	return c, nil
}
