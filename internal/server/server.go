// Package server assembles a running telebridge process: logging, the
// optional embedded NATS server, the NATS client and JetStream resources,
// the health server and the bridge itself.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/telepair/telebridge/internal/bridge"
	"github.com/telepair/telebridge/internal/config"
	"github.com/telepair/telebridge/internal/listener"
	"github.com/telepair/telebridge/internal/reporter"
	"github.com/telepair/telebridge/internal/telemetry"
	"github.com/telepair/telebridge/internal/transport"
	"github.com/telepair/telebridge/pkg/health"
	"github.com/telepair/telebridge/pkg/logger"
	"github.com/telepair/telebridge/pkg/natsx/client"
	"github.com/telepair/telebridge/pkg/natsx/embed"
	"github.com/telepair/telebridge/pkg/shutdown"
)

const (
	initTimeout         = 30 * time.Second
	healthCheckInterval = 30 * time.Second
)

var errConfigNotSynced = errors.New("runtime configuration not yet synced")

// Server owns every long-lived component of the process.
type Server struct {
	config       *config.Config
	log          *logger.Logger
	embeddedNATS *embed.EmbeddedServer
	natsClient   *client.Client
	healthServer *health.Server
	bridge       *bridge.Bridge
	shutdownMgr  *shutdown.Manager
	logger       *slog.Logger
}

// NewServer builds the server. Components are registered for shutdown as
// they are created, so a failure part way through releases what was built.
func NewServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	log, err := logger.SetDefault(cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to setup logger: %w", err)
	}

	s := &Server{
		config: cfg,
		log:    log,
		logger: logger.ComponentLogger("tb.server"),
		shutdownMgr: shutdown.NewManager().
			WithTimeout(time.Duration(cfg.ShutdownTimeoutSec) * time.Second).
			WithLogger(logger.ComponentLogger("shutdown")),
	}
	s.shutdownMgr.RegisterFunc("logger", func(context.Context) error {
		return s.log.Close()
	})

	if err := s.build(ctx); err != nil {
		return nil, errors.Join(err, s.shutdownMgr.Shutdown())
	}
	return s, nil
}

func (s *Server) build(ctx context.Context) error {
	cfg := s.config

	var err error
	s.healthServer, err = health.NewServer(&cfg.Health)
	if err != nil {
		return fmt.Errorf("failed to create health server: %w", err)
	}
	reg := s.healthServer.Registerer()
	namespace := cfg.Health.MetricsNamespace

	if cfg.EnableEmbedNATS {
		if err := s.startEmbeddedNATS(); err != nil {
			return err
		}
	}

	natsMetrics, err := client.NewMetrics(reg, namespace)
	if err != nil {
		return fmt.Errorf("failed to register NATS metrics: %w", err)
	}
	s.natsClient, err = client.NewClient(&cfg.NATS, natsMetrics)
	if err != nil {
		return fmt.Errorf("failed to create NATS client: %w", err)
	}
	s.shutdownMgr.RegisterFunc("nats-client", func(context.Context) error {
		s.logger.Info("stopping NATS client")
		return s.natsClient.Close()
	})

	s.shutdownMgr.RegisterFunc("health-server", func(ctx context.Context) error {
		s.logger.Info("stopping health server")
		return s.healthServer.Shutdown(ctx)
	})

	if err := s.buildBridge(ctx, natsMetrics); err != nil {
		return err
	}
	s.shutdownMgr.RegisterFunc("bridge", func(context.Context) error {
		s.logger.Info("stopping bridge")
		return s.bridge.Stop()
	})

	// Registered last so readiness drops before anything else stops.
	s.shutdownMgr.RegisterFunc("readiness", func(context.Context) error {
		s.healthServer.SetReady(false)
		return nil
	})
	return nil
}

func (s *Server) startEmbeddedNATS() error {
	cfg := s.config
	if _, err := config.EnsureDir(cfg.EmbedNATS.StorePath); err != nil {
		return fmt.Errorf("failed to prepare embedded NATS store: %w", err)
	}

	var err error
	s.embeddedNATS, err = embed.NewEmbeddedServer(cfg.EmbedNATS)
	if err != nil {
		return fmt.Errorf("failed to create embedded NATS server: %w", err)
	}
	if err := s.embeddedNATS.Start(); err != nil {
		return fmt.Errorf("failed to start embedded NATS server: %w", err)
	}
	s.shutdownMgr.RegisterFunc("embedded-nats", func(context.Context) error {
		s.logger.Info("stopping embedded NATS server")
		return s.embeddedNATS.Stop()
	})

	// The bridge talks to the embedded server only.
	cfg.NATS.URLs = []string{s.embeddedNATS.ClientURL()}
	s.logger.Info("embedded NATS server started", "url", s.embeddedNATS.ClientURL())
	return nil
}

// buildBridge opens the JetStream resources and wires the bridge to them.
func (s *Server) buildBridge(ctx context.Context, natsMetrics *client.Metrics) error {
	cfg := s.config
	reg := s.healthServer.Registerer()
	namespace := cfg.Health.MetricsNamespace

	ctx, cancel := context.WithTimeout(ctx, initTimeout)
	defer cancel()

	if s.natsClient.JetStream() == nil {
		if !s.natsClient.IsConnected() {
			return errors.New("JetStream not available: NATS client not connected")
		}
		return errors.New("JetStream not available: feature may not be enabled on NATS server")
	}

	identity := telemetry.NewIdentity(cfg.Bridge.NodeID, cfg.Bridge.LocationID)

	reporterMetrics, err := reporter.NewMetrics(reg, namespace)
	if err != nil {
		return fmt.Errorf("failed to register reporter metrics: %w", err)
	}
	stream, err := reporter.OpenStream(ctx, s.natsClient,
		cfg.Storage.ReportStream.StreamConfig(),
		cfg.Storage.ReportStream.SubjectPrefix,
		identity,
		reporter.WithMetrics(reporterMetrics))
	if err != nil {
		return err
	}
	devices, err := reporter.OpenBucket(ctx, s.natsClient, cfg.Storage.DeviceBucket.ClientConfig())
	if err != nil {
		return err
	}
	configBucket, err := s.natsClient.Bucket(ctx, cfg.Storage.ConfigBucket.ClientConfig())
	if err != nil {
		return fmt.Errorf("failed to open config bucket: %w", err)
	}
	s.logger.Info("NATS infrastructure initialized",
		"stream", cfg.Storage.ReportStream.Name,
		"device_bucket", cfg.Storage.DeviceBucket.Name,
		"config_bucket", cfg.Storage.ConfigBucket.Name)

	transportMetrics, err := transport.NewMetrics(reg, namespace)
	if err != nil {
		return fmt.Errorf("failed to register transport metrics: %w", err)
	}
	tc, err := transport.New(cfg.Transport,
		&transport.NATSDialer{Config: &cfg.NATS, Subject: cfg.Transport.Subject, Metrics: natsMetrics},
		transport.WithMetrics(transportMetrics),
		transport.WithLogger(logger.ComponentLogger("transport")))
	if err != nil {
		return fmt.Errorf("failed to create transport: %w", err)
	}

	listenerMetrics, err := listener.NewMetrics(reg, namespace)
	if err != nil {
		return fmt.Errorf("failed to register listener metrics: %w", err)
	}
	events, err := listener.New(cfg.Listener,
		&listener.NATSSource{Config: &cfg.NATS, Subject: cfg.Listener.Subject, Metrics: natsMetrics},
		listener.WithMetrics(listenerMetrics))
	if err != nil {
		return fmt.Errorf("failed to create event listener: %w", err)
	}

	s.bridge, err = bridge.New(cfg.Bridge, bridge.Deps{
		Transport:    tc,
		Events:       events,
		Sink:         stream,
		Devices:      devices,
		ConfigBucket: configBucket,
		Identity:     identity,
		Registerer:   reg,
	})
	if err != nil {
		return fmt.Errorf("failed to create bridge: %w", err)
	}
	return nil
}

// Start serves the health endpoints and starts the bridge.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("starting telebridge",
		"node_id", s.config.Bridge.NodeID,
		"embedded_nats", s.config.EnableEmbedNATS)

	if s.config.Health.Enabled {
		go func() {
			if err := s.healthServer.ListenAndServe(); err != nil {
				s.logger.Error("health server stopped unexpectedly", "error", err)
			}
		}()
	}

	s.healthServer.SetStatus(func(ctx context.Context) any {
		return s.bridge.Status(ctx)
	})

	if err := s.bridge.Start(ctx); err != nil {
		return fmt.Errorf("failed to start bridge: %w", err)
	}
	if err := s.registerHealthChecks(); err != nil {
		return fmt.Errorf("failed to register health checks: %w", err)
	}

	s.healthServer.SetReady(true)
	s.logger.Info("telebridge started",
		"nats_connected", s.natsClient.IsConnected(),
		"health_addr", s.config.Health.Addr,
		"embedded_nats_running", s.embeddedNATS != nil && s.embeddedNATS.IsRunning())
	return nil
}

// Stop runs the shutdown sequence. It is safe to call more than once.
func (s *Server) Stop() error {
	return s.shutdownMgr.Shutdown()
}

// Wait blocks until a shutdown signal arrives or ctx is done, then stops.
func (s *Server) Wait(ctx context.Context) error {
	s.logger.Info("telebridge ready, waiting for shutdown signal")
	return s.shutdownMgr.Wait(ctx)
}

// Bridge returns the running bridge.
func (s *Server) Bridge() *bridge.Bridge {
	return s.bridge
}

// Health returns the health server.
func (s *Server) Health() *health.Server {
	return s.healthServer
}

func (s *Server) registerHealthChecks() error {
	if err := s.healthServer.RegisterChecker("nats-connection", healthCheckInterval, func(context.Context) error {
		if err := s.natsClient.HealthCheck(); err != nil {
			return fmt.Errorf("NATS health check failed: %w", err)
		}
		return nil
	}); err != nil {
		return err
	}

	if s.embeddedNATS != nil {
		if err := s.healthServer.RegisterChecker("embedded-nats", healthCheckInterval, func(context.Context) error {
			if err := s.embeddedNATS.HealthCheck(); err != nil {
				return fmt.Errorf("embedded NATS health check failed: %w", err)
			}
			return nil
		}); err != nil {
			return err
		}
	}

	if err := s.healthServer.RegisterChecker("bridge", healthCheckInterval, s.bridge.Health); err != nil {
		return err
	}
	return s.healthServer.RegisterChecker("config-sync", healthCheckInterval, func(context.Context) error {
		if !s.bridge.Ready() {
			return errConfigNotSynced
		}
		return nil
	})
}
