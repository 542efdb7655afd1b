package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/telepair/telebridge/pkg/natsx/client"
)

// Header carries request metadata alongside the payload.
type Header map[string]string

// Request header names.
const (
	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderIdentity       = "Bridge-Identity"
)

// Socket is one request/reply connection lifetime. Send and Receive are
// called alternately, never concurrently.
type Socket interface {
	Send(ctx context.Context, payload []byte, header Header) error
	Receive(ctx context.Context) ([]byte, error)
	Close() error
}

// Dialer opens sockets. identity is fresh for every call.
type Dialer interface {
	Dial(ctx context.Context, identity string) (Socket, error)
}

// NATSDialer dials a dedicated NATS connection per socket and performs
// request/reply on Subject through a private inbox.
type NATSDialer struct {
	Config  *client.Config
	Subject string
	Metrics *client.Metrics
}

// Dial implements Dialer. The connection does not reconnect on its own:
// recovery is the Client's retry loop.
func (d *NATSDialer) Dial(ctx context.Context, identity string) (Socket, error) {
	if err := client.ValidateSubject(d.Subject); err != nil {
		return nil, err
	}
	cfg := *d.Config
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining > 0 && (cfg.ConnectTimeout == 0 || remaining < cfg.ConnectTimeout) {
			cfg.ConnectTimeout = remaining
		}
	}
	nc, err := client.Dial(&cfg, "request."+identity, false, d.Metrics)
	if err != nil {
		return nil, err
	}
	return &natsSocket{nc: nc, subject: d.Subject}, nil
}

type natsSocket struct {
	nc      *nats.Conn
	subject string
	pending *nats.Subscription
}

func (s *natsSocket) Send(ctx context.Context, payload []byte, header Header) error {
	s.dropPending()

	inbox := s.nc.NewRespInbox()
	sub, err := s.nc.SubscribeSync(inbox)
	if err != nil {
		return fmt.Errorf("subscribe reply inbox: %w", err)
	}
	if err := sub.AutoUnsubscribe(1); err != nil {
		_ = sub.Unsubscribe()
		return fmt.Errorf("limit reply inbox: %w", err)
	}

	msg := nats.NewMsg(s.subject)
	msg.Reply = inbox
	msg.Data = payload
	for k, v := range header {
		msg.Header.Set(k, v)
	}
	if err := s.nc.PublishMsg(msg); err != nil {
		_ = sub.Unsubscribe()
		return fmt.Errorf("publish: %w", err)
	}
	// The request counts as sent once the server has it.
	if err := s.nc.FlushWithContext(ctx); err != nil {
		_ = sub.Unsubscribe()
		return fmt.Errorf("flush: %w", err)
	}
	s.pending = sub
	return nil
}

func (s *natsSocket) Receive(ctx context.Context) ([]byte, error) {
	sub := s.pending
	if sub == nil {
		return nil, errors.New("receive without a pending request")
	}
	defer s.dropPending()

	msg, err := sub.NextMsgWithContext(ctx)
	if err != nil {
		return nil, err
	}
	if len(msg.Data) == 0 && msg.Header.Get("Status") == "503" {
		return nil, ErrNoResponders
	}
	return msg.Data, nil
}

func (s *natsSocket) dropPending() {
	if s.pending != nil {
		_ = s.pending.Unsubscribe()
		s.pending = nil
	}
}

func (s *natsSocket) Close() error {
	s.dropPending()
	s.nc.Close()
	return nil
}
