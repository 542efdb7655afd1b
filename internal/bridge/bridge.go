// Package bridge wires the telemetry bridge together: transport, event
// listener, collector registry, scheduler, report pipelines, device
// handlers and the config watcher.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/telepair/telebridge/internal/configwatch"
	"github.com/telepair/telebridge/internal/listener"
	"github.com/telepair/telebridge/internal/pipeline"
	"github.com/telepair/telebridge/internal/report"
	"github.com/telepair/telebridge/internal/scheduler"
	"github.com/telepair/telebridge/internal/telemetry"
)

const metricsNamespace = "telebridge"

// ErrNotRunning is returned by Health before Start and after Stop.
var ErrNotRunning = errors.New("bridge is not running")

// Transport is the request/reply client. *transport.Client implements it.
type Transport interface {
	Connect(ctx context.Context) error
	Request(ctx context.Context, payload []byte) ([]byte, error)
	Identity() string
	Close() error
}

// Events is the event listener. *listener.Listener implements it.
type Events interface {
	Register(filter string, h listener.Handler)
	Start(ctx context.Context) error
	Stop() error
}

// Deps are the externally built collaborators.
type Deps struct {
	Transport Transport
	Events    Events
	// Sink receives serialized reports.
	Sink pipeline.Sink
	// Devices stores device and node documents.
	Devices telemetry.DeviceStore
	// ConfigBucket, when set, is watched for runtime configuration.
	ConfigBucket configwatch.Bucket
	// Identity carries the report headers. Created from Config when nil.
	Identity *telemetry.Identity
	// Registerer receives component metrics. May be nil.
	Registerer prometheus.Registerer
}

// Bridge owns every component of one running bridge.
type Bridge struct {
	config   Config
	identity *telemetry.Identity

	transport Transport
	events    Events
	devices   telemetry.DeviceStore

	registry  *scheduler.Registry
	scheduler *scheduler.Scheduler
	watcher   *configwatch.Watcher

	streaming     *telemetry.StreamingSource
	appUsage      *telemetry.AppUsageSource
	streamingPipe *pipeline.Pipeline[*report.StreamingReport]
	appUsagePipe  *pipeline.Pipeline[*report.AppUsageReport]
	handlers      *telemetry.DeviceHandlers

	hostInfo func(ctx context.Context) (*HostInfo, error)
	hostLoad func(ctx context.Context) (*HostLoad, error)

	mu        sync.Mutex
	running   atomic.Bool
	startedAt time.Time
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	logger *slog.Logger
}

// New builds a bridge. cfg is parsed in place.
func New(cfg Config, deps Deps) (*Bridge, error) {
	if err := cfg.Parse(); err != nil {
		return nil, fmt.Errorf("invalid bridge config: %w", err)
	}
	if deps.Transport == nil {
		return nil, errors.New("transport is required")
	}
	if deps.Events == nil {
		return nil, errors.New("event listener is required")
	}
	if deps.Sink == nil {
		return nil, errors.New("report sink is required")
	}
	if deps.Devices == nil {
		return nil, errors.New("device store is required")
	}
	identity := deps.Identity
	if identity == nil {
		identity = telemetry.NewIdentity(cfg.NodeID, cfg.LocationID)
	}

	b := &Bridge{
		config:    cfg,
		identity:  identity,
		transport: deps.Transport,
		events:    deps.Events,
		devices:   deps.Devices,
		registry:  scheduler.NewRegistry(),
		hostInfo:  CollectHostInfo,
		hostLoad:  CollectHostLoad,
		logger:    slog.Default().With("component", "bridge", "node_id", cfg.NodeID),
	}
	if err := b.build(deps); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Bridge) build(deps Deps) error {
	reg := deps.Registerer

	pipeMetrics, err := pipeline.NewMetrics(reg, metricsNamespace)
	if err != nil {
		return fmt.Errorf("pipeline metrics: %w", err)
	}
	telMetrics, err := telemetry.NewMetrics(reg, metricsNamespace)
	if err != nil {
		return fmt.Errorf("telemetry metrics: %w", err)
	}
	schedMetrics, err := scheduler.NewMetrics(reg, metricsNamespace)
	if err != nil {
		return fmt.Errorf("scheduler metrics: %w", err)
	}
	watchMetrics, err := configwatch.NewMetrics(reg, metricsNamespace)
	if err != nil {
		return fmt.Errorf("configwatch metrics: %w", err)
	}

	b.streaming = telemetry.NewStreamingSource(b.transport, b.identity)
	b.appUsage = telemetry.NewAppUsageSource(b.transport, b.identity)
	b.handlers = telemetry.NewDeviceHandlers(b.devices, b.identity, telMetrics)

	b.streamingPipe, err = pipeline.New[*report.StreamingReport](configwatch.StreamingCollector, b.streaming.Collect, deps.Sink,
		pipeline.WithMetrics(pipeMetrics))
	if err != nil {
		return err
	}
	b.appUsagePipe, err = pipeline.New[*report.AppUsageReport](configwatch.AppUsageCollector, b.appUsage.Collect, deps.Sink,
		pipeline.WithMetrics(pipeMetrics))
	if err != nil {
		return err
	}

	if err := b.registerCollectors(); err != nil {
		return err
	}

	b.scheduler, err = scheduler.New(b.registry, b.config.Scheduler, reg, scheduler.WithMetrics(schedMetrics))
	if err != nil {
		return err
	}

	if deps.ConfigBucket != nil {
		b.watcher, err = configwatch.New(deps.ConfigBucket, b.registry, b.identity,
			configwatch.WithMetrics(watchMetrics))
		if err != nil {
			return err
		}
	}
	return nil
}

// registerHandlers binds the event handlers. The listener drops its
// registrations on Stop, so every Start registers again.
func (b *Bridge) registerHandlers() {
	b.events.Register(telemetry.EventStreaming, b.onStreamingEvent)
	b.events.Register(telemetry.EventPeripheralUpdate, b.handlers.Peripheral)
	b.events.Register(telemetry.EventStation, b.handlers.Station)
}

func (b *Bridge) registerCollectors() error {
	b.registry.OnChange(b.applyStreamConfig)

	sc := b.config.Streaming
	streamingCfg := scheduler.StreamingConfig{AppFilters: sc.MonitoredApps}
	if err := b.registry.Add(scheduler.Collector{
		Name:     configwatch.StreamingCollector,
		Interval: time.Duration(sc.Interval) * time.Second,
		Topic:    sc.Topic,
		Config:   streamingCfg,
	}, b.runStreaming); err != nil {
		return fmt.Errorf("register streaming collector: %w", err)
	}

	ac := b.config.AppUsage
	appUsageCfg := scheduler.AppUsageConfig{TimePeriod: ac.TimePeriod}
	if err := b.registry.Add(scheduler.Collector{
		Name:     configwatch.AppUsageCollector,
		Interval: time.Duration(ac.Interval) * time.Second,
		Topic:    ac.Topic,
		OneShot:  ac.OneShot && ac.Interval == 0,
		Config:   appUsageCfg,
	}, b.runAppUsage); err != nil {
		return fmt.Errorf("register app usage collector: %w", err)
	}

	b.streaming.SetFilters(streamingCfg.AppFilters)
	b.appUsage.SetTimePeriod(appUsageCfg.Window())
	return nil
}

// applyStreamConfig pushes stream-specific configuration into the sources.
func (b *Bridge) applyStreamConfig(c scheduler.Collector) {
	switch cfg := c.Config.(type) {
	case scheduler.StreamingConfig:
		b.streaming.SetFilters(cfg.AppFilters)
	case scheduler.AppUsageConfig:
		b.appUsage.SetTimePeriod(cfg.Window())
	}
}

func (b *Bridge) runStreaming(ctx context.Context, c scheduler.Collector) error {
	_, err := b.streamingPipe.Run(ctx, c.Topic)
	return err
}

func (b *Bridge) runAppUsage(ctx context.Context, c scheduler.Collector) error {
	_, err := b.appUsagePipe.Run(ctx, c.Topic)
	return err
}

// onStreamingEvent reports the session carried by the event right away,
// to the streaming topic currently configured.
func (b *Bridge) onStreamingEvent(ctx context.Context, msg listener.Message) error {
	r, err := b.streaming.FromPayload(msg.Data)
	if err != nil {
		return fmt.Errorf("streaming event: %w", err)
	}
	c, _ := b.registry.Get(configwatch.StreamingCollector)
	_, err = b.streamingPipe.RunWith(ctx, c.Topic, r)
	return err
}

// Start connects the transport and launches the listener, the scheduler,
// the config watcher and the node reports.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running.Load() {
		return errors.New("bridge already running")
	}

	b.logger.Info("starting bridge")
	if err := b.transport.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect transport: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	b.registerHandlers()
	if err := b.events.Start(runCtx); err != nil {
		cancel()
		_ = b.transport.Close()
		return fmt.Errorf("failed to start listener: %w", err)
	}

	b.cancel = cancel
	b.startedAt = time.Now()
	b.running.Store(true)

	b.wg.Go(func() {
		if err := b.scheduler.Run(runCtx); err != nil {
			b.logger.Error("scheduler stopped with error", "error", err)
		}
	})
	if b.watcher != nil {
		b.wg.Go(func() {
			if err := b.watcher.Run(runCtx); err != nil {
				b.logger.Error("config watcher stopped with error", "error", err)
			}
		})
	}
	b.startReport(runCtx)

	b.logger.Info("bridge started successfully", "identity", b.transport.Identity())
	return nil
}

// Stop stops every component and waits for the loops to exit.
func (b *Bridge) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.running.Load() {
		return nil
	}

	b.logger.Info("stopping bridge")
	b.running.Store(false)

	var errs []error
	if err := b.events.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stop listener: %w", err))
	}
	b.cancel()
	b.wg.Wait()

	if err := b.transport.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close transport: %w", err))
	}

	b.logger.Info("bridge stopped")
	return errors.Join(errs...)
}

// Health reports whether the bridge is running.
func (b *Bridge) Health(_ context.Context) error {
	if !b.running.Load() {
		return ErrNotRunning
	}
	return nil
}

// Ready reports whether the initial runtime configuration has been
// applied. Without a config bucket the bridge is ready once running.
func (b *Bridge) Ready() bool {
	if !b.running.Load() {
		return false
	}
	return b.watcher == nil || b.watcher.Synced()
}

// Registry exposes the collector registry.
func (b *Bridge) Registry() *scheduler.Registry {
	return b.registry
}

// Identity returns the report header identity.
func (b *Bridge) Identity() *telemetry.Identity {
	return b.identity
}
