package listener

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/telepair/telebridge/pkg/natsx/client"
	"github.com/telepair/telebridge/pkg/natsx/embed"
)

// chanSource fails the first failOpens opens, then serves messages from ch.
type chanSource struct {
	mu        sync.Mutex
	failOpens int
	opens     int
	closed    int
	ch        chan Message
}

func (s *chanSource) Open(context.Context) (Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opens++
	if s.opens <= s.failOpens {
		return nil, errors.New("publisher not ready")
	}
	return &chanStream{src: s}, nil
}

type chanStream struct{ src *chanSource }

func (c *chanStream) Next(ctx context.Context) (Message, error) {
	select {
	case <-ctx.Done():
		return Message{}, ctx.Err()
	case m := <-c.src.ch:
		return m, nil
	}
}

func (c *chanStream) Close() error {
	c.src.mu.Lock()
	c.src.closed++
	c.src.mu.Unlock()
	return nil
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func newListener(t *testing.T, src Source, opts ...Option) *Listener {
	t.Helper()
	l, err := New(Config{ConnectRetryInterval: 5 * time.Millisecond}, src, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return l
}

func TestDispatch_Matching(t *testing.T) {
	l := newListener(t, &chanSource{})

	var mu sync.Mutex
	var calls []string
	record := func(name string) Handler {
		return func(context.Context, Message) error {
			mu.Lock()
			calls = append(calls, name)
			mu.Unlock()
			return nil
		}
	}
	l.Register("foo", record("foo-1"))
	l.Register("bar", record("bar"))
	l.Register("foo", record("foo-2"))
	l.RegisterExact("events.sta", record("exact"))
	l.Register("", nil)

	tests := []struct {
		name string
		msg  Message
		want []string
	}{
		{name: "substring", msg: Message{Subject: "events.x", Data: []byte(`{"api":"foo_event"}`)}, want: []string{"foo-1", "foo-2"}},
		{name: "none", msg: Message{Subject: "events.x", Data: []byte(`{"api":"baz"}`)}, want: nil},
		{name: "exact subject", msg: Message{Subject: "events.sta", Data: []byte(`{}`)}, want: []string{"exact"}},
		{name: "exact is not substring", msg: Message{Subject: "events.sta.more", Data: []byte(`events.sta`)}, want: nil},
		{name: "both", msg: Message{Subject: "events.sta", Data: []byte(`bar`)}, want: []string{"bar", "exact"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls = nil
			n := l.Dispatch(context.Background(), tt.msg)
			if n != len(tt.want) {
				t.Errorf("Dispatch() = %d, want %d", n, len(tt.want))
			}
			if len(calls) != len(tt.want) {
				t.Fatalf("calls = %v, want %v", calls, tt.want)
			}
			for i := range calls {
				if calls[i] != tt.want[i] {
					t.Errorf("calls = %v, want %v", calls, tt.want)
				}
			}
		})
	}
	if l.Registrations() != 4 {
		t.Errorf("Registrations() = %d, want 4", l.Registrations())
	}
}

func TestDispatch_Isolation(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg, "test")
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}
	l := newListener(t, &chanSource{}, WithMetrics(m))

	var after atomic.Int32
	l.Register("evt", func(context.Context, Message) error { panic("boom") })
	l.Register("evt", func(context.Context, Message) error { return errors.New("bad payload") })
	l.Register("evt", func(context.Context, Message) error { after.Add(1); return nil })

	if n := l.Dispatch(context.Background(), Message{Data: []byte("evt")}); n != 3 {
		t.Fatalf("Dispatch() = %d, want 3", n)
	}
	if after.Load() != 1 {
		t.Error("handler after failing ones did not run")
	}
	if got := testutil.ToFloat64(m.handlerFailure.WithLabelValues("evt")); got != 2 {
		t.Errorf("handler failures = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.dispatches.WithLabelValues("evt")); got != 3 {
		t.Errorf("dispatches = %v, want 3", got)
	}
}

func TestListener_StartRetriesConnect(t *testing.T) {
	src := &chanSource{failOpens: 3, ch: make(chan Message)}
	l := newListener(t, src)

	got := make(chan Message, 1)
	l.Register("streaming", func(_ context.Context, m Message) error {
		got <- m
		return nil
	})

	if err := l.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := l.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start() = %v, want ErrAlreadyStarted", err)
	}

	src.ch <- Message{Subject: "e", Data: []byte("osandroid_streaming_event")}
	select {
	case m := <-got:
		if m.Text() != "osandroid_streaming_event" {
			t.Errorf("message = %q", m.Text())
		}
	case <-time.After(3 * time.Second):
		t.Fatal("handler not invoked")
	}

	src.mu.Lock()
	opens := src.opens
	src.mu.Unlock()
	if opens != 4 {
		t.Errorf("opens = %d, want 4", opens)
	}

	if err := l.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := l.Stop(); err != nil {
		t.Fatalf("second Stop() error = %v", err)
	}
	if l.Registrations() != 0 {
		t.Error("Stop() should drain registrations")
	}
	src.mu.Lock()
	defer src.mu.Unlock()
	if src.closed != 1 {
		t.Errorf("stream closed %d times, want 1", src.closed)
	}
}

func TestListener_StopWhileConnecting(t *testing.T) {
	src := &chanSource{failOpens: 1 << 30}
	l := newListener(t, src)
	if err := l.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	eventually(t, func() bool {
		src.mu.Lock()
		defer src.mu.Unlock()
		return src.opens > 2
	})

	done := make(chan struct{})
	go func() {
		_ = l.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop() blocked while the listener was connecting")
	}
}

func TestNATSSource(t *testing.T) {
	srv, err := embed.NewEmbeddedServer(&embed.ServerConfig{
		Port:      embed.RandomPort,
		StorePath: t.TempDir(),
		LogLevel:  "NONE",
	})
	if err != nil {
		t.Fatalf("NewEmbeddedServer() error = %v", err)
	}
	if err := srv.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer srv.Stop()

	src := &NATSSource{Config: &client.Config{URLs: []string{srv.ClientURL()}}, Subject: "osandroid.events.>"}
	l, err := New(Config{Subject: src.Subject}, src)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	got := make(chan Message, 4)
	l.Register("osandroid_sta_connected", func(_ context.Context, m Message) error {
		got <- m
		return nil
	})
	if err := l.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer l.Stop()

	pub, err := nats.Connect(srv.ClientURL())
	if err != nil {
		t.Fatalf("connect publisher: %v", err)
	}
	defer pub.Close()

	// the subscription may not exist yet; publish until the handler sees one
	payload := []byte(`{"api":"osandroid_sta_connected","params":[]}`)
	deadline := time.After(3 * time.Second)
	for {
		_ = pub.Publish("osandroid.events.sta", payload)
		_ = pub.Flush()
		select {
		case m := <-got:
			if m.Subject != "osandroid.events.sta" {
				t.Errorf("subject = %q", m.Subject)
			}
			return
		case <-time.After(50 * time.Millisecond):
		case <-deadline:
			t.Fatal("event not delivered")
		}
	}
}
