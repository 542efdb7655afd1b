// Package reporter delivers serialized reports and device state upstream
// through JetStream.
package reporter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nats-io/nats.go"

	"github.com/telepair/telebridge/pkg/ids"
	"github.com/telepair/telebridge/pkg/natsx/client"
)

// Delivery headers.
const (
	HeaderNodeID     = "Node-Id"
	HeaderLocationID = "Location-Id"
	HeaderTopic      = "Report-Topic"
)

// Identity supplies the node identity stamped on every delivery.
type Identity interface {
	NodeID() string
	LocationID() string
}

// Publisher stores one message in a stream.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts client.PublishOptions) (client.PubAck, error)
}

// Stream is the report sink. Each topic maps to a subject under the
// stream's subject prefix.
type Stream struct {
	pub      Publisher
	prefix   string
	identity Identity
	metrics  *Metrics
	logger   *slog.Logger
	newID    func() string
}

// Option customizes a Stream.
type Option func(*Stream)

// WithMetrics records deliveries.
func WithMetrics(m *Metrics) Option {
	return func(s *Stream) { s.metrics = m }
}

// OpenStream ensures the report stream exists and returns a sink for it.
func OpenStream(ctx context.Context, natsClient *client.Client, config client.StreamConfig, prefix string, identity Identity, opts ...Option) (*Stream, error) {
	if natsClient == nil {
		return nil, errors.New("NATS client is required")
	}
	stream, err := natsClient.EnsureStream(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to open report stream: %w", err)
	}
	return NewStream(stream, prefix, identity, opts...)
}

// NewStream wraps pub. prefix must be a valid subject without wildcards.
func NewStream(pub Publisher, prefix string, identity Identity, opts ...Option) (*Stream, error) {
	if pub == nil {
		return nil, errors.New("publisher is required")
	}
	if identity == nil {
		return nil, errors.New("identity is required")
	}
	if err := client.ValidateSubject(prefix); err != nil {
		return nil, fmt.Errorf("invalid subject prefix: %w", err)
	}
	if strings.ContainsAny(prefix, "*>") {
		return nil, fmt.Errorf("subject prefix %q cannot contain wildcards", prefix)
	}

	s := &Stream{
		pub:      pub,
		prefix:   prefix,
		identity: identity,
		logger:   slog.Default().With("component", "reporter.stream"),
		newID:    ids.New,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Subject returns the subject a topic is published on. Slash separated
// topics are mapped onto subject tokens.
func (s *Stream) Subject(topic string) string {
	topic = strings.Trim(topic, "/")
	return s.prefix + "." + strings.ReplaceAll(topic, "/", ".")
}

// Deliver publishes payload for topic and waits for the stream ack. The
// message id lets the stream drop a duplicate publish.
func (s *Stream) Deliver(ctx context.Context, topic string, payload []byte) error {
	subject := s.Subject(topic)
	header := nats.Header{}
	if id := s.identity.NodeID(); id != "" {
		header.Set(HeaderNodeID, id)
	}
	if id := s.identity.LocationID(); id != "" {
		header.Set(HeaderLocationID, id)
	}
	header.Set(HeaderTopic, topic)

	ack, err := s.pub.Publish(ctx, subject, payload, client.PublishOptions{
		MsgID:  s.newID(),
		Header: header,
	})
	s.metrics.delivery(topic, len(payload), err)
	if err != nil {
		return fmt.Errorf("deliver %s: %w", topic, err)
	}
	s.logger.Info("report delivered",
		"topic", topic, "subject", subject, "bytes", len(payload), "seq", ack.Sequence)
	return nil
}
