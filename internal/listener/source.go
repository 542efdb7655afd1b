package listener

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/telepair/telebridge/pkg/natsx/client"
)

// Message is one inbound event.
type Message struct {
	Subject string
	Data    []byte
}

// Text returns the message payload as text.
func (m Message) Text() string {
	return string(m.Data)
}

// Source opens event streams.
type Source interface {
	Open(ctx context.Context) (Stream, error)
}

// Stream yields events until closed.
type Stream interface {
	Next(ctx context.Context) (Message, error)
	Close() error
}

// NATSSource subscribes to Subject on a dedicated connection.
type NATSSource struct {
	Config  *client.Config
	Subject string
	Metrics *client.Metrics
}

// Open implements Source.
func (s *NATSSource) Open(_ context.Context) (Stream, error) {
	if err := client.ValidateSubject(s.Subject); err != nil {
		return nil, err
	}
	nc, err := client.Dial(s.Config, "listener", true, s.Metrics)
	if err != nil {
		return nil, err
	}
	sub, err := nc.SubscribeSync(s.Subject)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("subscribe %s: %w", s.Subject, err)
	}
	if err := nc.Flush(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("flush subscription: %w", err)
	}
	return &natsStream{nc: nc, sub: sub}, nil
}

type natsStream struct {
	nc  *nats.Conn
	sub *nats.Subscription
}

func (s *natsStream) Next(ctx context.Context) (Message, error) {
	msg, err := s.sub.NextMsgWithContext(ctx)
	if err != nil {
		return Message{}, err
	}
	return Message{Subject: msg.Subject, Data: msg.Data}, nil
}

func (s *natsStream) Close() error {
	_ = s.sub.Unsubscribe()
	s.nc.Close()
	return nil
}
