package client

import (
	"crypto/tls"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nkeys"
)

// BuildOptions constructs the connection options shared by every bridge
// connection: timeouts, event handlers, auth and TLS.
func BuildOptions(config *Config, name string, logger *slog.Logger, metrics *ConnMetrics) ([]nats.Option, error) {
	if logger == nil {
		logger = slog.Default()
	}

	opts := []nats.Option{
		nats.Timeout(config.ConnectTimeout),
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.Name(name),
	}

	opts = append(opts, eventHandlers(logger, metrics)...)

	authOpts, err := authOptions(config)
	if err != nil {
		return nil, err
	}
	opts = append(opts, authOpts...)

	return append(opts, tlsOptions(config, logger)...), nil
}

func eventHandlers(logger *slog.Logger, metrics *ConnMetrics) []nats.Option {
	return []nats.Option{
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", "error", err)
			}
			metrics.RecordDisconnection()
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", "url", nc.ConnectedUrl())
			metrics.RecordReconnection()
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			logger.Debug("NATS connection closed")
			metrics.RecordConnectionClosed()
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			if err == nil {
				return
			}
			attrs := []any{"error", err}
			if sub != nil {
				attrs = append(attrs, "subject", sub.Subject)
			}
			logger.Error("NATS async error", attrs...)
			metrics.RecordError()
		}),
	}
}

// authOptions picks token, JWT (signed with the nkey seed) or plain nkey
// auth, in that order of precedence.
func authOptions(config *Config) ([]nats.Option, error) {
	switch {
	case config.Token != "":
		return []nats.Option{nats.Token(config.Token)}, nil
	case config.JWT != "":
		kp, err := nkeys.FromSeed([]byte(config.NKey))
		if err != nil {
			return nil, fmt.Errorf("failed to create keypair from nkey: %w", err)
		}
		jwt := config.JWT
		return []nats.Option{
			nats.UserJWT(
				func() (string, error) { return jwt, nil },
				func(nonce []byte) ([]byte, error) { return kp.Sign(nonce) },
			),
		}, nil
	case config.NKey != "":
		kp, err := nkeys.FromSeed([]byte(config.NKey))
		if err != nil {
			return nil, fmt.Errorf("failed to create nkey option: %w", err)
		}
		pub, err := kp.PublicKey()
		if err != nil {
			return nil, fmt.Errorf("failed to derive nkey public key: %w", err)
		}
		return []nats.Option{nats.Nkey(pub, kp.Sign)}, nil
	}
	return nil, nil
}

func tlsOptions(config *Config, logger *slog.Logger) []nats.Option {
	if !config.EnableTLS {
		return nil
	}

	if config.TLSSkipVerify {
		logger.Warn("TLS certificate verification is disabled")
		return []nats.Option{nats.Secure(&tls.Config{InsecureSkipVerify: true})} //nolint:gosec // opt-in via config
	}

	return []nats.Option{nats.Secure()}
}
