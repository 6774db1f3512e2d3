package mq

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/birdnest/apiserver/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryPublishSubscribe(t *testing.T) {
	broker := NewMemory()
	q := New(broker)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := q.Publish(ctx, "mail", []byte(`{"type":"verify_email"}`), map[string]string{"type": "verify_email"})
	require.NoError(t, err)
	assert.Len(t, broker.Pending("mail"), 1)

	got := make(chan Message, 1)
	go func() {
		_ = q.Subscribe(ctx, "mail", func(ctx context.Context, msg Message) error {
			got <- msg
			return nil
		})
	}()

	select {
	case msg := <-got:
		assert.Equal(t, "verify_email", msg.Attributes["type"])
		assert.JSONEq(t, `{"type":"verify_email"}`, string(msg.Data))
	case <-ctx.Done():
		t.Fatal("message not delivered")
	}
}

func TestMemoryRequeueOnError(t *testing.T) {
	broker := NewMemory()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := broker.Publish(ctx, "mail", []byte("x"), nil)
	require.NoError(t, err)

	attempts := 0
	err = broker.Subscribe(ctx, "mail", func(ctx context.Context, msg Message) error {
		attempts++
		assert.Equal(t, attempts, msg.Attempt)
		if attempts < 3 {
			return errors.New("retry")
		}
		cancel()
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 3, attempts)
}

func TestOpen(t *testing.T) {
	q, err := Open(context.Background(), config.MQConfig{}, nil)
	require.NoError(t, err)
	assert.Nil(t, q)

	q, err = Open(context.Background(), config.MQConfig{Backend: "memory"}, nil)
	require.NoError(t, err)
	require.NotNil(t, q)
	require.NoError(t, q.Close())

	_, err = Open(context.Background(), config.MQConfig{Backend: "kafka"}, nil)
	require.Error(t, err)

	_, err = Open(context.Background(), config.MQConfig{Backend: "rabbitmq"}, nil)
	require.Error(t, err, "rabbitmq without url")
}

func TestMQDropsAfterMaxAttempts(t *testing.T) {
	broker := NewMemory()
	q := New(broker, WithMaxAttempts(2))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := q.Publish(ctx, "mail", []byte("poison"), nil)
	require.NoError(t, err)
	_, err = q.Publish(ctx, "mail", []byte("ok"), nil)
	require.NoError(t, err)

	var seen []string
	err = q.Subscribe(ctx, "mail", func(ctx context.Context, msg Message) error {
		seen = append(seen, string(msg.Data))
		if len(seen) == 3 {
			cancel()
		}
		if string(msg.Data) == "poison" {
			return errors.New("cannot render")
		}
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"poison", "ok", "poison"}, seen)
	assert.Empty(t, broker.Pending("mail"))
}

func TestMQRequiresChannel(t *testing.T) {
	q := New(NewMemory())
	_, err := q.Publish(context.Background(), " ", nil, nil)
	require.ErrorIs(t, err, ErrChannelRequired)
	require.ErrorIs(t, q.Subscribe(context.Background(), "", nil), ErrChannelRequired)
}

func TestMemoryPublishAfterClose(t *testing.T) {
	broker := NewMemory()
	require.NoError(t, broker.Close())
	_, err := broker.Publish(context.Background(), "mail", nil, nil)
	require.ErrorIs(t, err, ErrClosed)
}
