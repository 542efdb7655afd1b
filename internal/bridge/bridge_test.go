package bridge

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/telepair/telebridge/internal/configwatch"
	"github.com/telepair/telebridge/internal/listener"
	"github.com/telepair/telebridge/internal/pipeline"
	"github.com/telepair/telebridge/internal/report"
	"github.com/telepair/telebridge/internal/telemetry"
)

const (
	appUsageReply = `{"api":"osandroid_app_usage_get","params":[{"time_period":86400},` +
		`{"app_usage":[{"app_name":"netflix","launch_count":2,"foreground_time":300,"usage_rx_bytes":10,"usage_tx_bytes":5}]}]}`
	netflixEvent = `{"api":"osandroid_streaming_event","params":[{"streaming_info":` +
		`{"app_name":"netflix","title_channel":"news","resol_width":1920,"resol_height":1080,"state":3}}]}`
)

type fakeTransport struct {
	mu        sync.Mutex
	connected bool
	closed    int
	requests  []string
	connErr   error
}

func (f *fakeTransport) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connErr != nil {
		return f.connErr
	}
	f.connected = true
	return nil
}

func (f *fakeTransport) Request(_ context.Context, payload []byte) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, string(payload))
	switch {
	case strings.Contains(string(payload), telemetry.APIAppUsageGet):
		return []byte(appUsageReply), nil
	case strings.Contains(string(payload), telemetry.APIStreamingGet):
		return []byte(netflixEvent), nil
	}
	return nil, errors.New("unknown api")
}

func (f *fakeTransport) Identity() string { return "01TESTID" }

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	f.closed++
	f.connected = false
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) lastRequest() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) == 0 {
		return ""
	}
	return f.requests[len(f.requests)-1]
}

type fakeEvents struct {
	mu      sync.Mutex
	regs    map[string][]listener.Handler
	order   []string
	started bool
	stopped bool
}

func newFakeEvents() *fakeEvents {
	return &fakeEvents{regs: make(map[string][]listener.Handler)}
}

func (f *fakeEvents) Register(filter string, h listener.Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.regs[filter] = append(f.regs[filter], h)
	f.order = append(f.order, filter)
}

func (f *fakeEvents) Start(context.Context) error {
	f.mu.Lock()
	f.started = true
	f.mu.Unlock()
	return nil
}

// Stop drops every registration like listener.Listener does.
func (f *fakeEvents) Stop() error {
	f.mu.Lock()
	f.stopped = true
	f.regs = make(map[string][]listener.Handler)
	f.order = nil
	f.mu.Unlock()
	return nil
}

func (f *fakeEvents) registered() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.order...)
}

// emit runs every handler whose filter occurs in data.
func (f *fakeEvents) emit(t *testing.T, data string) {
	t.Helper()
	f.mu.Lock()
	var hs []listener.Handler
	for _, filter := range f.order {
		if strings.Contains(data, filter) {
			hs = append(hs, f.regs[filter]...)
		}
	}
	f.mu.Unlock()
	for _, h := range hs {
		if err := h(context.Background(), listener.Message{Subject: "osandroid.events.test", Data: []byte(data)}); err != nil {
			t.Fatalf("handler error = %v", err)
		}
	}
}

type delivery struct {
	topic   string
	payload []byte
}

type recordingSink struct {
	mu    sync.Mutex
	sent  []delivery
	fails error
}

func (s *recordingSink) Deliver(_ context.Context, topic string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fails != nil {
		return s.fails
	}
	s.sent = append(s.sent, delivery{topic: topic, payload: payload})
	return nil
}

func (s *recordingSink) deliveries() []delivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]delivery(nil), s.sent...)
}

type memStore struct {
	mu   sync.Mutex
	docs map[string]any
}

func newMemStore() *memStore { return &memStore{docs: make(map[string]any)} }

func (m *memStore) PutJSON(_ context.Context, key string, v any) error {
	m.mu.Lock()
	m.docs[key] = v
	m.mu.Unlock()
	return nil
}

func (m *memStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.docs, key)
	m.mu.Unlock()
	return nil
}

func (m *memStore) get(key string) (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.docs[key]
	return v, ok
}

type fixture struct {
	bridge    *Bridge
	transport *fakeTransport
	events    *fakeEvents
	sink      *recordingSink
	store     *memStore
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	if cfg.NodeID == "" {
		cfg.NodeID = "node-1"
	}
	f := &fixture{
		transport: &fakeTransport{},
		events:    newFakeEvents(),
		sink:      &recordingSink{},
		store:     newMemStore(),
	}
	b, err := New(cfg, Deps{
		Transport:  f.transport,
		Events:     f.events,
		Sink:       f.sink,
		Devices:    f.store,
		Registerer: prometheus.NewRegistry(),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	b.hostInfo = func(context.Context) (*HostInfo, error) {
		return &HostInfo{Hostname: "box", CPUCount: 4}, nil
	}
	b.hostLoad = func(context.Context) (*HostLoad, error) {
		return &HostLoad{Load1: 0.5}, nil
	}
	f.bridge = b
	return f
}

// start starts the bridge and stops it when the test ends.
func (f *fixture) start(t *testing.T) {
	t.Helper()
	if err := f.bridge.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { _ = f.bridge.Stop() })
}

func TestNew_RequiresDeps(t *testing.T) {
	full := func() Deps {
		return Deps{
			Transport: &fakeTransport{},
			Events:    newFakeEvents(),
			Sink:      &recordingSink{},
			Devices:   newMemStore(),
		}
	}
	tests := []struct {
		name   string
		mutate func(d *Deps)
		cfg    Config
	}{
		{name: "no transport", mutate: func(d *Deps) { d.Transport = nil }},
		{name: "no events", mutate: func(d *Deps) { d.Events = nil }},
		{name: "no sink", mutate: func(d *Deps) { d.Sink = nil }},
		{name: "no device store", mutate: func(d *Deps) { d.Devices = nil }},
		{name: "bad node id", mutate: func(*Deps) {}, cfg: Config{NodeID: "a.b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := full()
			tt.mutate(&deps)
			if _, err := New(tt.cfg, deps); err == nil {
				t.Error("New() expected error")
			}
		})
	}
}

func TestNew_RegistersCollectorsAndHandlers(t *testing.T) {
	f := newFixture(t, Config{
		Streaming: StreamingConfig{Interval: 10, Topic: "stream"},
		AppUsage:  AppUsageConfig{OneShot: true, TimePeriod: 3600},
	})

	names := f.bridge.Registry().Names()
	if len(names) != 2 || names[0] != configwatch.StreamingCollector || names[1] != configwatch.AppUsageCollector {
		t.Fatalf("collectors = %v", names)
	}
	st := f.bridge.Registry().Status()
	if st[0].State != "ARMED" || st[0].Topic != "stream" {
		t.Errorf("streaming status = %+v", st[0])
	}
	if st[1].State != "ONE_SHOT" {
		t.Errorf("app usage state = %s, want ONE_SHOT", st[1].State)
	}
	if got := f.bridge.appUsage.TimePeriod(); got != 3600 {
		t.Errorf("time period = %d, want 3600", got)
	}

	if got := f.events.registered(); len(got) != 0 {
		t.Errorf("registrations before Start = %v", got)
	}
	f.start(t)
	want := []string{telemetry.EventStreaming, telemetry.EventPeripheralUpdate, telemetry.EventStation}
	if got := f.events.registered(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("registrations = %v, want %v", got, want)
	}
}

func TestBridge_ScheduledAppUsage(t *testing.T) {
	f := newFixture(t, Config{AppUsage: AppUsageConfig{Interval: 60, Topic: "usage"}})
	ctx := context.Background()

	if n := f.bridge.scheduler.Tick(ctx, time.Now().Add(61*time.Second)); n != 1 {
		t.Fatalf("Tick() fired %d, want 1", n)
	}
	got := f.sink.deliveries()
	if len(got) != 1 || got[0].topic != "usage" {
		t.Fatalf("deliveries = %+v", got)
	}
	var r report.AppUsageReport
	if err := r.Unmarshal(got[0].payload); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if r.NodeID != "node-1" || len(r.Usage) != 1 || r.Usage[0].AppName != "netflix" {
		t.Errorf("report = %+v", r)
	}
	if !strings.Contains(f.transport.lastRequest(), `"time_period":86400`) {
		t.Errorf("request = %s", f.transport.lastRequest())
	}
}

func TestBridge_NoTopicSkipsDelivery(t *testing.T) {
	f := newFixture(t, Config{AppUsage: AppUsageConfig{OneShot: true}})

	if n := f.bridge.scheduler.Tick(context.Background(), time.Now()); n != 1 {
		t.Fatalf("Tick() fired %d, want 1", n)
	}
	if got := f.sink.deliveries(); len(got) != 0 {
		t.Errorf("deliveries = %+v, want none", got)
	}
	st := f.bridge.Registry().Status()[1]
	if st.State != "DISABLED" || st.Runs != 1 || st.Failures != 0 {
		t.Errorf("status = %+v", st)
	}
}

func TestBridge_DeliveryFailureCounted(t *testing.T) {
	f := newFixture(t, Config{AppUsage: AppUsageConfig{OneShot: true, Topic: "usage"}})
	f.sink.fails = errors.New("stream unavailable")

	f.bridge.scheduler.Tick(context.Background(), time.Now())
	st := f.bridge.Registry().Status()[1]
	if st.Failures != 1 || !strings.Contains(st.LastError, "deliver failed") {
		t.Errorf("status = %+v", st)
	}
}

func TestBridge_ConfigChangesReachSources(t *testing.T) {
	f := newFixture(t, Config{})
	reg := f.bridge.Registry()

	if err := reg.SetExtra(configwatch.AppUsageCollector, "3600"); err != nil {
		t.Fatalf("SetExtra() error = %v", err)
	}
	if got := f.bridge.appUsage.TimePeriod(); got != 3600 {
		t.Errorf("time period = %d, want 3600", got)
	}
	if err := reg.SetExtra(configwatch.AppUsageCollector, "0"); err != nil {
		t.Fatalf("SetExtra() error = %v", err)
	}
	if got := f.bridge.appUsage.TimePeriod(); got != telemetry.DefaultTimePeriod {
		t.Errorf("time period = %d, want default", got)
	}

	if err := reg.SetExtra(configwatch.StreamingCollector, "youtube|hulu"); err != nil {
		t.Fatalf("SetExtra() error = %v", err)
	}
	if f.bridge.streaming.Accepts("netflix") || !f.bridge.streaming.Accepts("hulu") {
		t.Error("streaming filters not applied")
	}
}

func TestBridge_StreamingEvent(t *testing.T) {
	tests := []struct {
		name    string
		topic   string
		filters string
		want    int
	}{
		{name: "delivered", topic: "stream", want: 1},
		{name: "no topic", topic: "", want: 0},
		{name: "filtered app", topic: "stream", filters: "youtube", want: 0},
		{name: "monitored app", topic: "stream", filters: "youtube|netflix", want: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, Config{Streaming: StreamingConfig{Topic: tt.topic}})
			if tt.filters != "" {
				if err := f.bridge.Registry().SetExtra(configwatch.StreamingCollector, tt.filters); err != nil {
					t.Fatalf("SetExtra() error = %v", err)
				}
			}
			f.start(t)

			f.events.emit(t, netflixEvent)

			got := f.sink.deliveries()
			if len(got) != tt.want {
				t.Fatalf("deliveries = %d, want %d", len(got), tt.want)
			}
			if tt.want == 0 {
				return
			}
			var r report.StreamingReport
			if err := r.Unmarshal(got[0].payload); err != nil {
				t.Fatalf("Unmarshal() error = %v", err)
			}
			if r.AppName() != "netflix" || r.Info.Playback.State != report.PlaybackState(3) {
				t.Errorf("report = %+v", r.Info)
			}
			if len(f.transport.requests) != 0 {
				t.Errorf("event path issued %d requests", len(f.transport.requests))
			}
		})
	}
}

func TestBridge_MalformedStreamingEvent(t *testing.T) {
	f := newFixture(t, Config{Streaming: StreamingConfig{Topic: "stream"}})
	err := f.bridge.onStreamingEvent(context.Background(), listener.Message{Data: []byte(`{"api":"osandroid_streaming_event","params":[`)})
	if !errors.Is(err, telemetry.ErrMalformed) {
		t.Errorf("error = %v, want ErrMalformed", err)
	}
}

func TestBridge_DeviceEvents(t *testing.T) {
	f := newFixture(t, Config{})
	f.start(t)

	f.events.emit(t, `{"api":"osandroid_peripheral_device_update","params":[{"schema_Peripheral_Device":`+
		`{"name":"Remote 1","physical_interface":"bluetooth"}},{"associated":true}]}`)
	if _, ok := f.store.get("peripheral.Remote_1"); !ok {
		t.Error("associated peripheral not stored")
	}

	f.events.emit(t, `{"api":"osandroid_sta_connected","params":[{"ssid":"home","bssid":"aa:bb","mac":"cc:dd"}]}`)
	v, ok := f.store.get(telemetry.StationKey)
	if !ok {
		t.Fatal("station not stored")
	}
	if st, _ := v.(telemetry.Station); !st.Connected || st.NodeID != "node-1" {
		t.Errorf("station = %+v", v)
	}
}

func TestBridge_StartStop(t *testing.T) {
	f := newFixture(t, Config{LocationID: "loc-7"})
	ctx := context.Background()

	if err := f.bridge.Health(ctx); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Health() before Start = %v", err)
	}
	if err := f.bridge.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := f.bridge.Start(ctx); err == nil {
		t.Error("second Start() expected error")
	}
	if err := f.bridge.Health(ctx); err != nil {
		t.Errorf("Health() = %v", err)
	}
	if !f.bridge.Ready() {
		t.Error("Ready() = false without config bucket")
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		_, info := f.store.get("info.node-1")
		_, status := f.store.get("status.node-1")
		if info && status {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("node documents not published")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := f.bridge.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := f.bridge.Health(ctx); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Health() after Stop = %v", err)
	}
	if !f.events.started || !f.events.stopped || f.transport.closed != 1 {
		t.Errorf("events started=%v stopped=%v transport closed=%d",
			f.events.started, f.events.stopped, f.transport.closed)
	}

	v, _ := f.store.get("status.node-1")
	st, ok := v.(*NodeStatus)
	if !ok {
		t.Fatalf("status doc = %T", v)
	}
	if st.Running || st.LocationID != "loc-7" || st.Identity != "01TESTID" || len(st.Collectors) != 2 {
		t.Errorf("final status = %+v", st)
	}
	if err := f.bridge.Stop(); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}
}

// blockingSource yields no events; Next returns once its context ends.
type blockingSource struct{}

func (blockingSource) Open(context.Context) (listener.Stream, error) { return blockingStream{}, nil }

type blockingStream struct{}

func (blockingStream) Next(ctx context.Context) (listener.Message, error) {
	<-ctx.Done()
	return listener.Message{}, ctx.Err()
}

func (blockingStream) Close() error { return nil }

func TestBridge_RestartKeepsHandlers(t *testing.T) {
	events, err := listener.New(listener.Config{}, blockingSource{})
	if err != nil {
		t.Fatalf("listener.New() error = %v", err)
	}
	sink := &recordingSink{}
	b, err := New(Config{NodeID: "node-1", Streaming: StreamingConfig{Topic: "stream"}}, Deps{
		Transport:  &fakeTransport{},
		Events:     events,
		Sink:       sink,
		Devices:    newMemStore(),
		Registerer: prometheus.NewRegistry(),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	b.hostInfo = func(context.Context) (*HostInfo, error) { return &HostInfo{Hostname: "box"}, nil }
	b.hostLoad = func(context.Context) (*HostLoad, error) { return &HostLoad{}, nil }

	msg := listener.Message{Subject: "osandroid.events.test", Data: []byte(netflixEvent)}
	for round := 1; round <= 3; round++ {
		if err := b.Start(context.Background()); err != nil {
			t.Fatalf("round %d: Start() error = %v", round, err)
		}
		if got := events.Registrations(); got != 3 {
			t.Errorf("round %d: registrations = %d, want 3", round, got)
		}
		if n := events.Dispatch(context.Background(), msg); n != 1 {
			t.Errorf("round %d: dispatched to %d handlers, want 1", round, n)
		}
		if err := b.Stop(); err != nil {
			t.Fatalf("round %d: Stop() error = %v", round, err)
		}
		if got := events.Registrations(); got != 0 {
			t.Errorf("round %d: registrations after Stop = %d", round, got)
		}
	}
	if got := len(sink.deliveries()); got != 3 {
		t.Errorf("deliveries = %d, want 3", got)
	}
}

func TestBridge_StartFailsWithoutTransport(t *testing.T) {
	f := newFixture(t, Config{})
	f.transport.connErr = errors.New("refused")

	if err := f.bridge.Start(context.Background()); err == nil {
		t.Fatal("Start() expected error")
	}
	if f.events.started {
		t.Error("listener started after transport failure")
	}
}

func TestBridge_Info(t *testing.T) {
	f := newFixture(t, Config{})
	info := f.bridge.Info(context.Background())
	if info.NodeID != "node-1" || info.Host == nil || info.Host.Hostname != "box" {
		t.Errorf("info = %+v", info)
	}

	f.bridge.hostInfo = func(context.Context) (*HostInfo, error) { return nil, errors.New("no host") }
	if info := f.bridge.Info(context.Background()); info.Host != nil {
		t.Errorf("host = %+v, want nil", info.Host)
	}
}

var _ pipeline.Sink = (*recordingSink)(nil)
