package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/birdnest/apiserver/internal/mq"
	"github.com/birdnest/apiserver/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMQNotifier(t *testing.T) {
	broker := mq.NewMemory()
	n := NewMQNotifier(mq.New(broker), "mail", nil)

	msg := types.Notification{
		Type:   types.NotificationForgotPassword,
		UserID: "u1",
		Email:  "a@x.com",
		Token:  "tok",
	}
	require.NoError(t, n.Notify(context.Background(), msg))

	pending := broker.Pending("mail")
	require.Len(t, pending, 1)
	assert.Equal(t, "forgot_password", pending[0].Attributes["type"])
	assert.Equal(t, "u1", pending[0].Attributes["user_id"])
	assert.Equal(t, "application/json", pending[0].Attributes["content_type"])

	var got types.Notification
	require.NoError(t, json.Unmarshal(pending[0].Data, &got))
	assert.Equal(t, msg, got)
}

type failingPublisher struct{}

func (failingPublisher) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	return "", errors.New("broker down")
}

func TestNotifyFailure_DoesNotFailRegister(t *testing.T) {
	e := newEnv(t)
	e.accounts.notifier = NewMQNotifier(failingPublisher{}, "mail", e.logger)

	res := e.register(t, "a@x.com", "ann", "Aa1!aaaa")
	assert.NotEmpty(t, res.Tokens.AccessToken)
	assert.Equal(t, 1, e.store.UserCount())
}
