// Package client wraps nats.go connections with the configuration, auth,
// JetStream and key-value helpers shared by the bridge components.
package client

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	// DefaultConnectTimeout is the default timeout for connecting to NATS.
	DefaultConnectTimeout = 2 * time.Second
	// DefaultReconnectWait is the default wait time between reconnection attempts.
	DefaultReconnectWait = 2 * time.Second
	// DefaultPort is the default NATS server port.
	DefaultPort = 4222
	// UnlimitedReconnects indicates unlimited reconnection attempts.
	UnlimitedReconnects = -1
	// DrainTimeout is the timeout for draining connections during close.
	DrainTimeout = 5 * time.Second

	defaultName = "telebridge"
)

// Config holds NATS client configuration.
type Config struct {
	Name           string        `yaml:"name"            json:"name"`
	URLs           []string      `yaml:"urls"            json:"urls"`
	Token          string        `yaml:"token"           json:"-"`
	NKey           string        `yaml:"nkey"            json:"-"`
	JWT            string        `yaml:"jwt"             json:"-"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" json:"connect_timeout"`
	MaxReconnects  int           `yaml:"max_reconnects"  json:"max_reconnects"`
	ReconnectWait  time.Duration `yaml:"reconnect_wait"  json:"reconnect_wait"`
	EnableTLS      bool          `yaml:"enable_tls"      json:"enable_tls"`
	// TLSSkipVerify skips TLS certificate verification.
	// Only for development setups; it disables server authentication.
	TLSSkipVerify bool `yaml:"tls_skip_verify" json:"tls_skip_verify"`
}

// Validate validates the client configuration and fills in defaults.
func (c *Config) Validate() error {
	if c.Name == "" {
		c.Name = defaultName
	}

	if len(c.URLs) == 0 {
		c.URLs = []string{defaultURL()}
	}

	for i, u := range c.URLs {
		if err := ValidateNATSURL(u); err != nil {
			return fmt.Errorf("invalid URL at index %d: %w", i, err)
		}
	}

	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}

	if c.ReconnectWait <= 0 {
		c.ReconnectWait = DefaultReconnectWait
	}

	if c.JWT != "" && c.NKey == "" {
		return errors.New("jwt authentication requires an nkey seed for signing")
	}

	return nil
}

// SeedURL joins the configured URLs the way nats.Connect expects them.
func (c *Config) SeedURL() string {
	return strings.Join(c.URLs, ",")
}

// DefaultConfig returns a default NATS configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:           defaultName,
		URLs:           []string{defaultURL()},
		ConnectTimeout: DefaultConnectTimeout,
		MaxReconnects:  UnlimitedReconnects,
		ReconnectWait:  DefaultReconnectWait,
	}
}

func defaultURL() string {
	return "nats://" + net.JoinHostPort("localhost", strconv.Itoa(DefaultPort))
}

// Dial opens a dedicated connection with the shared auth and TLS settings.
// The connection is named after role so server-side monitoring can tell
// the bridge connections apart. Reconnects are left to the caller when
// reconnect is false.
func Dial(config *Config, role string, reconnect bool, metrics *Metrics) (*nats.Conn, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := slog.Default().With("component", "natsx.conn", "role", role)
	recorder := metrics.For(role)
	opts, err := BuildOptions(config, config.Name+"."+role, logger, recorder)
	if err != nil {
		return nil, err
	}
	if !reconnect {
		opts = append(opts, nats.NoReconnect())
	}

	nc, err := nats.Connect(config.SeedURL(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	recorder.RecordConnection()
	return nc, nil
}

// Client is the long-lived shared connection with JetStream support.
type Client struct {
	name    string
	config  *Config
	conn    *nats.Conn
	js      jetstream.JetStream
	metrics *Metrics
	closed  atomic.Bool
	logger  *slog.Logger
}

// NewClient creates a connected client. metrics may be nil.
func NewClient(config *Config, metrics *Metrics) (*Client, error) {
	if config == nil {
		config = DefaultConfig()
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	c := &Client{
		name:    config.Name,
		config:  config,
		metrics: metrics,
		logger:  slog.Default().With("component", "natsx.client"),
	}

	recorder := metrics.For("client")
	opts, err := BuildOptions(config, config.Name, c.logger, recorder)
	if err != nil {
		return nil, err
	}

	nc, err := nats.Connect(config.SeedURL(), opts...)
	if err != nil {
		c.logger.Error("failed to connect to NATS", "error", err)
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		c.logger.Error("failed to create JetStream context", "error", err)
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	c.conn = nc
	c.js = js
	recorder.RecordConnection()
	return c, nil
}

// Close drains the connection, falling back to a hard close after DrainTimeout.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	if c.conn != nil {
		done := make(chan error, 1)
		go func() {
			done <- c.conn.Drain()
		}()

		select {
		case err := <-done:
			if err != nil {
				c.logger.Warn("failed to drain connection", "error", err)
			}
		case <-time.After(DrainTimeout):
			c.logger.Warn("connection drain timeout, forcing close")
		}

		c.conn.Close()
	}

	c.logger.Debug("client closed")
	return nil
}

// Name returns the configured client name.
func (c *Client) Name() string {
	return c.name
}

// Config returns the validated configuration the client was built with.
func (c *Client) Config() *Config {
	return c.config
}

// Metrics returns the connection metrics, possibly nil.
func (c *Client) Metrics() *Metrics {
	return c.metrics
}

// Conn returns the underlying NATS connection.
func (c *Client) Conn() *nats.Conn {
	return c.conn
}

// JetStream returns the JetStream context.
func (c *Client) JetStream() jetstream.JetStream {
	return c.js
}

// IsConnected returns true if the client is connected to NATS.
func (c *Client) IsConnected() bool {
	if c.closed.Load() || c.conn == nil {
		return false
	}
	return c.conn.IsConnected()
}

// HealthCheck returns ErrClientClosed or ErrNotConnected when unhealthy.
func (c *Client) HealthCheck() error {
	if c.closed.Load() {
		return ErrClientClosed
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}
