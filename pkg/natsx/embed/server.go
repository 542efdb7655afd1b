// Package embed runs an in-process NATS server with JetStream, used for the
// bridge's standalone mode and for integration tests.
package embed

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats-server/v2/server"
)

const (
	// DefaultStartTimeout is the timeout for starting the embedded NATS server.
	DefaultStartTimeout = 10 * time.Second
	// DefaultShutdownTimeout is the timeout for shutting down the embedded NATS server.
	DefaultShutdownTimeout = 10 * time.Second
	// DefaultPort is the default NATS server port.
	DefaultPort = 4222
	// RandomPort asks the server to pick a free port.
	RandomPort = server.RANDOM_PORT
	// DefaultMaxMemory is the default JetStream memory limit (64MB).
	DefaultMaxMemory = 64 * 1024 * 1024
	// DefaultMaxStorage is the default JetStream storage limit (1GB).
	DefaultMaxStorage = 1024 * 1024 * 1024
	// DefaultWriteDeadline is the default write deadline for connections.
	DefaultWriteDeadline = 2 * time.Second
	// MaxPortNumber is the maximum valid port number.
	MaxPortNumber = 65535

	defaultStorePath = "./data/nats"
)

// ServerConfig holds embedded NATS server configuration.
type ServerConfig struct {
	Host          string        `yaml:"host"           json:"host"`
	Port          int           `yaml:"port"           json:"port"`
	StorePath     string        `yaml:"store_path"     json:"store_path"`
	MaxMemory     int64         `yaml:"max_memory"     json:"max_memory"`
	MaxStorage    int64         `yaml:"max_storage"    json:"max_storage"`
	LogLevel      string        `yaml:"log_level"      json:"log_level"`
	WriteDeadline time.Duration `yaml:"write_deadline" json:"write_deadline"`
}

// Validate fills defaults. A port of RandomPort (-1) is kept as is.
func (sc *ServerConfig) Validate() error {
	if sc.Port != RandomPort && (sc.Port <= 0 || sc.Port > MaxPortNumber) {
		sc.Port = DefaultPort
	}
	if sc.Host == "" {
		sc.Host = "127.0.0.1"
	}
	if sc.MaxMemory <= 0 {
		sc.MaxMemory = DefaultMaxMemory
	}
	if sc.MaxStorage <= 0 {
		sc.MaxStorage = DefaultMaxStorage
	}
	if sc.StorePath == "" {
		sc.StorePath = defaultStorePath
	}
	if sc.WriteDeadline <= 0 {
		sc.WriteDeadline = DefaultWriteDeadline
	}
	switch strings.ToUpper(sc.LogLevel) {
	case "", "NONE", "ERROR", "INFO", "DEBUG", "TRACE":
	default:
		return fmt.Errorf("invalid log level %q", sc.LogLevel)
	}
	return nil
}

// DefaultServerConfig returns a default NATS server configuration.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Host:          "127.0.0.1",
		Port:          DefaultPort,
		StorePath:     defaultStorePath,
		MaxMemory:     DefaultMaxMemory,
		MaxStorage:    DefaultMaxStorage,
		LogLevel:      "INFO",
		WriteDeadline: DefaultWriteDeadline,
	}
}

// EmbeddedServer wraps a NATS server for embedded use.
type EmbeddedServer struct {
	server  *server.Server
	config  ServerConfig
	logger  *slog.Logger
	mu      sync.RWMutex
	stopped bool
}

// NewEmbeddedServer creates, but does not start, an embedded server.
func NewEmbeddedServer(config *ServerConfig) (*EmbeddedServer, error) {
	if config == nil {
		config = DefaultServerConfig()
	}
	cfg := *config
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid embedded server config: %w", err)
	}

	opts := &server.Options{
		Host:               cfg.Host,
		Port:               cfg.Port,
		WriteDeadline:      cfg.WriteDeadline,
		NoLog:              true,
		NoSigs:             true,
		JetStream:          true,
		JetStreamMaxMemory: cfg.MaxMemory,
		JetStreamMaxStore:  cfg.MaxStorage,
		StoreDir:           filepath.Clean(cfg.StorePath),
	}
	switch strings.ToUpper(cfg.LogLevel) {
	case "INFO":
		opts.NoLog = false
	case "DEBUG":
		opts.NoLog = false
		opts.Debug = true
	case "TRACE":
		opts.NoLog = false
		opts.Trace = true
	}

	logger := slog.Default().With("component", "nats-embedded")
	s, err := server.NewServer(opts)
	if err != nil {
		logger.Error("failed to create NATS server", "error", err)
		return nil, fmt.Errorf("failed to create NATS server: %w", err)
	}
	if !opts.NoLog {
		s.ConfigureLogger()
	}

	return &EmbeddedServer{
		server: s,
		config: cfg,
		logger: logger,
	}, nil
}

// Start starts the server and waits until it accepts connections.
func (s *EmbeddedServer) Start() error {
	s.logger.Info("starting NATS server")
	go s.server.Start()

	if !s.server.ReadyForConnections(DefaultStartTimeout) {
		s.logger.Error("NATS server failed to start within timeout")
		return errors.New("NATS server failed to start within timeout")
	}

	s.logger.Info("NATS server started", "url", s.server.ClientURL())
	return nil
}

// Stop shuts the server down. It is safe to call more than once.
func (s *EmbeddedServer) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return nil
	}
	s.stopped = true

	if !s.server.Running() {
		return nil
	}

	s.logger.Info("stopping NATS server")
	s.server.Shutdown()

	done := make(chan struct{})
	go func() {
		s.server.WaitForShutdown()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Info("NATS server stopped")
		return nil
	case <-time.After(DefaultShutdownTimeout):
		return errors.New("NATS server shutdown timed out")
	}
}

// IsRunning returns true if the server is running.
func (s *EmbeddedServer) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.stopped && s.server.Running()
}

// ClientURL returns the URL for clients to connect.
func (s *EmbeddedServer) ClientURL() string {
	if s.server.Running() {
		return s.server.ClientURL()
	}
	return "nats://" + net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
}

// HealthCheck reports whether the server is up with JetStream enabled.
func (s *EmbeddedServer) HealthCheck() error {
	if !s.IsRunning() {
		return errors.New("server is not running")
	}
	if !s.server.JetStreamEnabled() {
		return errors.New("JetStream not enabled")
	}
	return nil
}

// ServerStats is a small snapshot of server counters.
type ServerStats struct {
	Connections     int           `json:"connections"`
	InMsgs          int64         `json:"in_msgs"`
	OutMsgs         int64         `json:"out_msgs"`
	Uptime          time.Duration `json:"uptime"`
	JetStreamMemory uint64        `json:"jetstream_memory"`
	JetStreamStore  uint64        `json:"jetstream_store"`
}

// Stats returns server statistics, or nil when they cannot be read.
func (s *EmbeddedServer) Stats() *ServerStats {
	varz, err := s.server.Varz(nil)
	if err != nil || varz == nil {
		return nil
	}
	stats := &ServerStats{
		Connections: varz.Connections,
		InMsgs:      varz.InMsgs,
		OutMsgs:     varz.OutMsgs,
		Uptime:      time.Since(varz.Start),
	}
	if jsz, err := s.server.Jsz(nil); err == nil && jsz != nil {
		stats.JetStreamMemory = jsz.Memory
		stats.JetStreamStore = jsz.Store
	}
	return stats
}
