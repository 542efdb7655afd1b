package client

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.Name != "telebridge" {
		t.Errorf("expected name telebridge, got %s", config.Name)
	}
	if len(config.URLs) != 1 || config.URLs[0] != "nats://localhost:4222" {
		t.Errorf("unexpected default URLs %v", config.URLs)
	}
	if config.ConnectTimeout != DefaultConnectTimeout {
		t.Errorf("expected connect timeout %v, got %v", DefaultConnectTimeout, config.ConnectTimeout)
	}
	if config.MaxReconnects != UnlimitedReconnects {
		t.Errorf("expected max reconnects %d, got %d", UnlimitedReconnects, config.MaxReconnects)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		config    *Config
		expectErr bool
	}{
		{
			name:   "empty config gets defaults",
			config: &Config{},
		},
		{
			name: "explicit values kept",
			config: &Config{
				Name:           "bridge",
				URLs:           []string{"nats://10.0.0.1:4222", "nats://10.0.0.2:4222"},
				ConnectTimeout: time.Second,
				ReconnectWait:  time.Second,
			},
		},
		{
			name:      "invalid URL",
			config:    &Config{URLs: []string{"invalid://localhost:4222"}},
			expectErr: true,
		},
		{
			name:      "jwt without nkey",
			config:    &Config{JWT: "eyJ0eXAiOiJKV1QiLCJhbGciOiJlZDI1NTE5In0"},
			expectErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.expectErr {
				t.Fatalf("Validate() error = %v, expectErr %v", err, tt.expectErr)
			}
			if tt.expectErr {
				return
			}
			if tt.config.Name == "" || len(tt.config.URLs) == 0 {
				t.Error("Validate() should fill name and URLs")
			}
			if tt.config.ConnectTimeout <= 0 || tt.config.ReconnectWait <= 0 {
				t.Error("Validate() should fill timeouts")
			}
		})
	}
}

func TestConfig_SeedURL(t *testing.T) {
	c := &Config{URLs: []string{"nats://a:4222", "nats://b:4222"}}
	if got, want := c.SeedURL(), "nats://a:4222,nats://b:4222"; got != want {
		t.Errorf("SeedURL() = %q, want %q", got, want)
	}
}

func TestAuthOptions(t *testing.T) {
	tests := []struct {
		name     string
		config   Config
		wantOpts int
		wantErr  bool
	}{
		{name: "no auth", config: Config{}, wantOpts: 0},
		{name: "token", config: Config{Token: "secret"}, wantOpts: 1},
		{name: "bad nkey seed", config: Config{NKey: "not-a-seed"}, wantErr: true},
		{name: "jwt with bad seed", config: Config{JWT: "jwt", NKey: "not-a-seed"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, err := authOptions(&tt.config)
			if (err != nil) != tt.wantErr {
				t.Fatalf("authOptions() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && len(opts) != tt.wantOpts {
				t.Errorf("authOptions() returned %d options, want %d", len(opts), tt.wantOpts)
			}
		})
	}
}

func TestNewClient_InvalidConfig(t *testing.T) {
	_, err := NewClient(&Config{URLs: []string{"http://localhost"}}, nil)
	if err == nil {
		t.Fatal("NewClient() expected error for invalid URL")
	}
}

func TestNewClient_Unreachable(t *testing.T) {
	cfg := &Config{URLs: []string{"nats://127.0.0.1:1"}, ConnectTimeout: 200 * time.Millisecond}
	if _, err := NewClient(cfg, nil); err == nil {
		t.Fatal("NewClient() expected connection error")
	}
}

func TestClient_HealthCheckClosed(t *testing.T) {
	c := &Client{}
	if err := c.HealthCheck(); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want %v", err, ErrNotConnected)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := c.HealthCheck(); !errors.Is(err, ErrClientClosed) {
		t.Errorf("HealthCheck() after close error = %v, want %v", err, ErrClientClosed)
	}
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg, "test")
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}

	rec := m.For("request")
	rec.RecordConnection()
	rec.RecordDisconnection()
	rec.RecordReconnection()
	rec.RecordError()
	rec.RecordError()

	if got := testutil.ToFloat64(m.events.WithLabelValues("request", "error")); got != 2 {
		t.Errorf("error events = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.connected.WithLabelValues("request")); got != 1 {
		t.Errorf("connected gauge = %v, want 1", got)
	}
	if rec.Errors() != 2 {
		t.Errorf("Errors() = %d, want 2", rec.Errors())
	}

	again, err := NewMetrics(reg, "test")
	if err != nil {
		t.Fatalf("NewMetrics() on same registry error = %v", err)
	}
	if again.events != m.events {
		t.Error("NewMetrics() should reuse the registered collector")
	}
}

func TestMetrics_Nil(t *testing.T) {
	var m *Metrics
	rec := m.For("listener")
	rec.RecordConnection()
	rec.RecordError()
	if rec.Errors() != 0 {
		t.Errorf("nil recorder Errors() = %d, want 0", rec.Errors())
	}
}
