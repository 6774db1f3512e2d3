package mq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/birdnest/apiserver/config"
	"github.com/google/uuid"
)

var (
	ErrChannelRequired = errors.New("mq: channel is required")
	ErrClosed          = errors.New("mq: broker closed")
)

const defaultMaxAttempts = 5

// Message is a broker-agnostic payload handed to subscribers. Attempt is the
// 1-based delivery count as far as the backend can tell.
type Message struct {
	ID         string
	Data       []byte
	Attributes map[string]string
	Attempt    int
}

// Handler processes a message. A returned error asks the backend to deliver
// the message again.
type Handler func(ctx context.Context, msg Message) error

// Backend is implemented by each broker client.
type Backend interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
	Subscribe(ctx context.Context, channel string, handler Handler) error
	Close() error
}

// MQ wraps a backend and bounds redelivery of failing messages.
type MQ struct {
	backend     Backend
	maxAttempts int
	logger      *slog.Logger
}

type Option func(*MQ)

// WithMaxAttempts sets how many deliveries a failing message gets before it
// is dropped. Values below one keep the default.
func WithMaxAttempts(n int) Option {
	return func(m *MQ) {
		if n > 0 {
			m.maxAttempts = n
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(m *MQ) {
		if logger != nil {
			m.logger = logger
		}
	}
}

func New(backend Backend, opts ...Option) *MQ {
	m := &MQ{backend: backend, maxAttempts: defaultMaxAttempts, logger: slog.Default()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Open connects to the broker named by cfg.Backend: "rabbitmq", "pubsub" or
// "memory". It returns nil and no error when no broker is configured.
func Open(ctx context.Context, cfg config.MQConfig, logger *slog.Logger) (*MQ, error) {
	var (
		backend Backend
		err     error
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "":
		return nil, nil
	case "rabbitmq":
		backend, err = NewRabbitMQClient(cfg.RabbitMQ)
	case "pubsub":
		backend, err = NewPubSubClient(ctx, cfg.PubSub)
	case "memory":
		backend = NewMemory()
	default:
		return nil, fmt.Errorf("unknown mq backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}
	return New(backend, WithMaxAttempts(cfg.MaxAttempts), WithLogger(logger)), nil
}

func (m *MQ) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	if strings.TrimSpace(channel) == "" {
		return "", ErrChannelRequired
	}
	return m.backend.Publish(ctx, channel, data, attrs)
}

// Subscribe consumes channel until ctx is done or the backend fails. A
// message still failing on its last allowed attempt is logged and dropped.
func (m *MQ) Subscribe(ctx context.Context, channel string, handler Handler) error {
	if strings.TrimSpace(channel) == "" {
		return ErrChannelRequired
	}
	return m.backend.Subscribe(ctx, channel, func(ctx context.Context, msg Message) error {
		err := handler(ctx, msg)
		if err == nil {
			return nil
		}
		if msg.Attempt >= m.maxAttempts {
			m.logger.ErrorContext(ctx, "dropping message",
				"channel", channel,
				"message_id", msg.ID,
				"attempt", msg.Attempt,
				"error", err,
			)
			return nil
		}
		m.logger.WarnContext(ctx, "message will be redelivered",
			"channel", channel,
			"message_id", msg.ID,
			"attempt", msg.Attempt,
			"error", err,
		)
		return err
	})
}

func (m *MQ) Close() error {
	return m.backend.Close()
}

func newMessageID() string {
	return uuid.NewString()
}
