package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// StreamConfig is the JetStream stream configuration.
type StreamConfig = jetstream.StreamConfig

// Stream publishes into one JetStream stream.
type Stream struct {
	name   string
	js     jetstream.JetStream
	stream jetstream.Stream
	logger *slog.Logger
}

// EnsureStream returns the named stream, creating it when it does not exist.
func (c *Client) EnsureStream(ctx context.Context, config StreamConfig) (*Stream, error) {
	if config.Name == "" {
		return nil, errors.New("stream name cannot be empty")
	}
	for _, subject := range config.Subjects {
		if err := ValidateSubject(subject); err != nil {
			return nil, WrapValidationError("stream subject", err)
		}
	}

	stream, err := c.js.Stream(ctx, config.Name)
	if errors.Is(err, jetstream.ErrStreamNotFound) {
		stream, err = c.js.CreateStream(ctx, config)
		if err != nil {
			return nil, fmt.Errorf("failed to create stream: %w", err)
		}
		c.logger.Info("stream created", "stream", config.Name, "subjects", config.Subjects)
	} else if err != nil {
		return nil, fmt.Errorf("failed to get stream: %w", err)
	}

	return &Stream{
		name:   config.Name,
		js:     c.js,
		stream: stream,
		logger: c.logger.With("stream", config.Name),
	}, nil
}

// Name returns the stream name.
func (s *Stream) Name() string {
	return s.name
}

// PublishOptions carries the optional parts of a stream publish.
type PublishOptions struct {
	// MsgID enables server-side de-duplication within the stream's window.
	MsgID  string
	Header nats.Header
}

// PubAck is the subset of the JetStream acknowledgement callers care about.
type PubAck struct {
	Stream    string
	Sequence  uint64
	Duplicate bool
}

// Publish stores data under subject and waits for the stream acknowledgement.
func (s *Stream) Publish(ctx context.Context, subject string, data []byte, opts PublishOptions) (PubAck, error) {
	if err := ValidateSubject(subject); err != nil {
		return PubAck{}, WrapValidationError("subject", err)
	}

	msg := nats.NewMsg(subject)
	msg.Data = data
	for k, vals := range opts.Header {
		for _, v := range vals {
			msg.Header.Add(k, v)
		}
	}

	var pubOpts []jetstream.PublishOpt
	if opts.MsgID != "" {
		pubOpts = append(pubOpts, jetstream.WithMsgID(opts.MsgID))
	}

	start := time.Now()
	ack, err := s.js.PublishMsg(ctx, msg, pubOpts...)
	if err != nil {
		return PubAck{}, fmt.Errorf("failed to publish message: %w", err)
	}
	s.logger.DebugContext(ctx, "published",
		"subject", subject, "bytes", len(data), "seq", ack.Sequence, "duration", time.Since(start))
	return PubAck{Stream: ack.Stream, Sequence: ack.Sequence, Duplicate: ack.Duplicate}, nil
}

// LastMessage returns the last stored message for subject.
func (s *Stream) LastMessage(ctx context.Context, subject string) (*jetstream.RawStreamMsg, error) {
	msg, err := s.stream.GetLastMsgForSubject(ctx, subject)
	if err != nil {
		return nil, fmt.Errorf("failed to get last message: %w", err)
	}
	return msg, nil
}
