// Package health serves liveness, readiness, metrics and status endpoints.
package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/telepair/telebridge/pkg/jsoncodec"
)

const (
	// HTTPReadTimeout is the timeout for reading the entire request, including the body.
	HTTPReadTimeout = 5 * time.Second
	// HTTPReadHeaderTimeout is the amount of time allowed to read request headers.
	HTTPReadHeaderTimeout = 5 * time.Second
	// HTTPWriteTimeout is the timeout for writes before timing out.
	HTTPWriteTimeout = 10 * time.Second
	// HTTPIdleTimeout is the maximum amount of time to wait for the next request.
	HTTPIdleTimeout = 60 * time.Second
	// HTTPMaxHeaderBytes is the maximum number of bytes the server will read parsing request headers.
	HTTPMaxHeaderBytes = 8192
)

// StatusFunc produces the document served on the status endpoint.
type StatusFunc func(ctx context.Context) any

// Server hosts liveness/readiness endpoints, Prometheus metrics and a JSON
// status document.
type Server struct {
	config    Config
	health    *Manager
	metrics   *PrometheusRegistry
	mux       *http.ServeMux
	srv       *http.Server
	ready     atomic.Bool
	status    atomic.Pointer[StatusFunc]
	startTime time.Time
	logger    *slog.Logger
}

// NewServer creates a Server. A nil config uses DefaultConfig.
func NewServer(config *Config) (*Server, error) {
	if config == nil {
		config = DefaultConfig()
	}
	cfg := *config
	if err := cfg.Parse(); err != nil {
		return nil, fmt.Errorf("invalid health config: %w", err)
	}

	s := &Server{
		config:    cfg,
		health:    NewHealthManager(),
		metrics:   NewPrometheusRegistry(cfg.MetricsNamespace),
		mux:       http.NewServeMux(),
		startTime: time.Now(),
		logger:    slog.Default().With("component", "health.server"),
	}

	s.mux.Handle(cfg.LivezPath, s.metrics.HTTPMiddleware("livez", http.HandlerFunc(s.LivezHandler)))
	s.mux.Handle(cfg.ReadyzPath, s.metrics.HTTPMiddleware("readyz", http.HandlerFunc(s.ReadyzHandler)))
	s.mux.Handle(cfg.StatusPath, s.metrics.HTTPMiddleware("status", http.HandlerFunc(s.StatusHandler)))
	s.mux.Handle(cfg.MetricsPath, s.metrics.HTTPHandler())

	s.srv = &http.Server{
		Addr:                         cfg.Addr,
		Handler:                      s.mux,
		ReadTimeout:                  HTTPReadTimeout,
		ReadHeaderTimeout:            HTTPReadHeaderTimeout,
		WriteTimeout:                 HTTPWriteTimeout,
		IdleTimeout:                  HTTPIdleTimeout,
		MaxHeaderBytes:               HTTPMaxHeaderBytes,
		DisableGeneralOptionsHandler: true,
	}

	s.logger.Info("health server initialized",
		"addr", cfg.Addr, "livez_path", cfg.LivezPath, "readyz_path", cfg.ReadyzPath,
		"metrics_path", cfg.MetricsPath, "status_path", cfg.StatusPath)
	return s, nil
}

// Handler returns the HTTP handler with every endpoint mounted.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Registry returns the metrics registry.
func (s *Server) Registry() *PrometheusRegistry {
	return s.metrics
}

// Registerer is shorthand for Registry().Registerer().
func (s *Server) Registerer() prometheus.Registerer {
	return s.metrics.Registerer()
}

// SetStatus installs the function behind the status endpoint.
func (s *Server) SetStatus(fn StatusFunc) {
	s.status.Store(&fn)
}

// ListenAndServe starts the server and blocks until it stops.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		s.logger.Error("HTTP server listen failed", "error", err)
		return err
	}
	return s.Serve(ln)
}

// Serve serves on an existing listener and blocks until the server stops.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("starting HTTP server", "addr", ln.Addr().String())
	err := s.srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		s.logger.Info("HTTP server closed")
		return nil
	}
	s.logger.Error("HTTP server stopped", "error", err)
	return err
}

// Shutdown stops the HTTP server and the health checkers.
func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil {
		return errors.New("health server is not initialized")
	}
	s.logger.InfoContext(ctx, "shutting down health server")

	err := errors.Join(s.srv.Shutdown(ctx), s.health.Stop(ctx))
	if err != nil {
		s.logger.ErrorContext(ctx, "health server shutdown had errors", "error", err)
		return err
	}
	s.logger.InfoContext(ctx, "health server shutdown completed")
	return nil
}

// SetReady sets the readiness state.
func (s *Server) SetReady(ready bool) {
	if old := s.ready.Swap(ready); old != ready {
		s.logger.Info("readiness state changed", "from", old, "to", ready)
	}
}

// IsReady reports the readiness state.
func (s *Server) IsReady() bool {
	return s.ready.Load()
}

// Uptime returns the time since the server was created.
func (s *Server) Uptime() time.Duration {
	return time.Since(s.startTime)
}

// ReadyzHandler handles readiness checks.
func (s *Server) ReadyzHandler(w http.ResponseWriter, r *http.Request) {
	if !allowRead(w, r) {
		return
	}

	ready := s.IsReady()
	code, status := http.StatusOK, healthStatusOK
	if !ready {
		code, status = http.StatusServiceUnavailable, healthStatusFail
	}
	s.writeJSON(w, r, code, map[string]any{
		"status":     status,
		"ready":      ready,
		"uptime_sec": int64(s.Uptime().Seconds()),
	})
}

// LivezHandler handles liveness checks.
func (s *Server) LivezHandler(w http.ResponseWriter, r *http.Request) {
	if !allowRead(w, r) {
		return
	}

	checks, anyFail := s.health.GetHealthStatus()
	code, status := http.StatusOK, healthStatusOK
	if anyFail {
		code, status = http.StatusServiceUnavailable, healthStatusFail
	}
	body := map[string]any{
		"status":     status,
		"healthy":    !anyFail,
		"uptime_sec": int64(s.Uptime().Seconds()),
	}
	if checks != nil {
		body["checks"] = checks
	}
	s.writeJSON(w, r, code, body)
}

// StatusHandler serves the installed StatusFunc, or 404 when none is set.
func (s *Server) StatusHandler(w http.ResponseWriter, r *http.Request) {
	if !allowRead(w, r) {
		return
	}
	fn := s.status.Load()
	if fn == nil || *fn == nil {
		http.NotFound(w, r)
		return
	}
	s.writeJSON(w, r, http.StatusOK, (*fn)(r.Context()))
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, code int, body any) {
	if r.Method == http.MethodHead {
		w.WriteHeader(code)
		return
	}
	data, err := jsoncodec.Marshal(body)
	if err != nil {
		s.logger.WarnContext(r.Context(), "encode response failed", "path", r.URL.Path, "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	if _, err := w.Write(data); err != nil {
		s.logger.DebugContext(r.Context(), "write response failed", "path", r.URL.Path, "error", err)
	}
}

// RegisterChecker registers a periodic health checker.
func (s *Server) RegisterChecker(name string, interval time.Duration, fn CheckFunc) error {
	return s.health.RegisterChecker(name, interval, fn)
}
