// Package transport implements the request/reply client used to pull
// telemetry from the companion subsystem.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/telepair/telebridge/pkg/ids"
)

// Defaults for Config.
const (
	DefaultConnectTimeout = 2 * time.Second
	DefaultReceiveTimeout = 30 * time.Second
	DefaultMaxRetries     = 3
	DefaultRetryBackoff   = 500 * time.Millisecond
	DefaultMaxReplySize   = 2048
	DefaultSubject        = "osandroid.ipc"
)

// Config configures a Client.
type Config struct {
	Subject        string        `yaml:"subject"         json:"subject"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" json:"connect_timeout"`
	ReceiveTimeout time.Duration `yaml:"receive_timeout" json:"receive_timeout"`
	MaxRetries     int           `yaml:"max_retries"     json:"max_retries"`
	RetryBackoff   time.Duration `yaml:"retry_backoff"   json:"retry_backoff"`
	// MaxReplySize is the reply buffer size. Replies of MaxReplySize-1
	// bytes or more are rejected as BufferOverflow.
	MaxReplySize int `yaml:"max_reply_size" json:"max_reply_size"`
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() Config {
	return Config{
		Subject:        DefaultSubject,
		ConnectTimeout: DefaultConnectTimeout,
		ReceiveTimeout: DefaultReceiveTimeout,
		MaxRetries:     DefaultMaxRetries,
		RetryBackoff:   DefaultRetryBackoff,
		MaxReplySize:   DefaultMaxReplySize,
	}
}

// SetDefaults fills zero values.
func (c *Config) SetDefaults() {
	d := DefaultConfig()
	if c.Subject == "" {
		c.Subject = d.Subject
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.ReceiveTimeout <= 0 {
		c.ReceiveTimeout = d.ReceiveTimeout
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = d.RetryBackoff
	}
	if c.MaxReplySize <= 0 {
		c.MaxReplySize = d.MaxReplySize
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.MaxRetries < 0 {
		return errors.New("max_retries cannot be negative")
	}
	if c.MaxReplySize < 2 {
		return errors.New("max_reply_size must be at least 2")
	}
	return nil
}

type state int

const (
	stateIdle state = iota
	stateOpen
	stateClosed
)

// Client is a request/reply client over a single socket. Requests are
// serialized: at most one is in flight at a time. Every (re)connect mints a
// new identity.
type Client struct {
	config  Config
	dialer  Dialer
	metrics *Metrics
	logger  *slog.Logger

	newIdentity func() string
	newKey      func() string

	mu       sync.Mutex
	state    state
	sock     Socket
	identity string
	// current mirrors identity while a socket is open and is read without mu.
	current atomic.Pointer[string]
}

// Option customizes a Client.
type Option func(*Client)

// WithMetrics records request outcomes.
func WithMetrics(m *Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a Client. Call Connect before Request.
func New(config Config, dialer Dialer, opts ...Option) (*Client, error) {
	if dialer == nil {
		return nil, errors.New("transport: dialer is required")
	}
	config.SetDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid transport config: %w", err)
	}
	c := &Client{
		config:      config,
		dialer:      dialer,
		logger:      slog.Default().With("component", "transport"),
		newIdentity: ids.Short,
		newKey:      ids.New,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Connect opens the socket with a fresh identity. It returns nil when the
// client is already connected. A closed client can be connected again.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == stateOpen && c.sock != nil {
		return nil
	}
	if err := c.dialLocked(ctx); err != nil {
		return err
	}
	c.state = stateOpen
	c.logger.Info("transport connected", "identity", c.identity, "subject", c.config.Subject)
	return nil
}

func (c *Client) dialLocked(ctx context.Context) error {
	identity := c.newIdentity()
	dctx, cancel := context.WithTimeout(ctx, c.config.ConnectTimeout)
	defer cancel()

	sock, err := c.dialer.Dial(dctx, identity)
	if err != nil {
		return fmt.Errorf("connect %s: %w", identity, err)
	}
	c.sock = sock
	c.identity = identity
	c.current.Store(&identity)
	return nil
}

func (c *Client) teardownLocked() {
	if c.sock == nil {
		return
	}
	if err := c.sock.Close(); err != nil {
		c.logger.Debug("socket close failed", "identity", c.identity, "error", err)
	}
	c.sock = nil
	c.current.Store(nil)
}

// Identity returns the identity of the current connection, or "" when
// no socket is open. It does not wait for an in-flight request.
func (c *Client) Identity() string {
	if id := c.current.Load(); id != nil {
		return *id
	}
	return ""
}

// Request sends payload and waits up to the receive timeout for the reply.
//
// A send failure is retried up to MaxRetries times, each retry after
// RetryBackoff and a full reconnect. All attempts carry the same
// Idempotency-Key header. Once a send succeeds, a receive failure is
// returned without retrying.
func (c *Client) Request(ctx context.Context, payload []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != stateOpen {
		c.metrics.observe(NotConnected)
		return nil, &TransportError{Kind: NotConnected}
	}

	start := time.Now()
	key := c.newKey()
	attempts, err := c.sendLocked(ctx, payload, key)
	if err != nil {
		c.metrics.observe(SendFailed)
		c.logger.Error("request send failed", "key", key, "attempts", attempts, "error", err)
		return nil, &TransportError{Kind: SendFailed, Identity: c.identity, Attempts: attempts, Err: err}
	}

	rctx, cancel := context.WithTimeout(ctx, c.config.ReceiveTimeout)
	defer cancel()
	reply, err := c.sock.Receive(rctx)
	if err != nil {
		c.metrics.observe(ReceiveFailed)
		c.logger.Warn("request receive failed", "identity", c.identity, "key", key, "error", err)
		return nil, &TransportError{Kind: ReceiveFailed, Identity: c.identity, Attempts: attempts, Err: err}
	}
	if len(reply) >= c.config.MaxReplySize-1 {
		c.metrics.observe(BufferOverflow)
		c.logger.Warn("reply overflows buffer", "identity", c.identity, "size", len(reply), "max", c.config.MaxReplySize)
		return nil, &TransportError{
			Kind:     BufferOverflow,
			Identity: c.identity,
			Attempts: attempts,
			Err:      fmt.Errorf("reply of %d bytes, buffer %d", len(reply), c.config.MaxReplySize),
		}
	}

	c.metrics.observe(0)
	c.metrics.latency(time.Since(start))
	return reply, nil
}

// sendLocked returns the number of attempts made and the last send error.
func (c *Client) sendLocked(ctx context.Context, payload []byte, key string) (int, error) {
	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			c.metrics.retry()
			c.logger.Warn("request send failed, retrying",
				"identity", c.identity, "attempt", attempt, "error", lastErr)
			if err := sleep(ctx, c.config.RetryBackoff); err != nil {
				return attempt, errors.Join(lastErr, err)
			}
			c.teardownLocked()
			if err := c.dialLocked(ctx); err != nil {
				lastErr = err
				continue
			}
			c.metrics.reconnect()
		}
		if c.sock == nil {
			lastErr = errors.New("no socket")
			continue
		}

		err := c.sock.Send(ctx, payload, Header{
			HeaderIdempotencyKey: key,
			HeaderIdentity:       c.identity,
		})
		if err == nil {
			if attempt > 0 {
				c.logger.Info("request send recovered", "identity", c.identity, "retries", attempt)
			}
			return attempt + 1, nil
		}
		lastErr = err
	}
	return c.config.MaxRetries + 1, lastErr
}

// Close releases the socket. Further requests fail with NotConnected.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == stateClosed {
		return nil
	}
	c.teardownLocked()
	c.state = stateClosed
	c.logger.Info("transport closed")
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
