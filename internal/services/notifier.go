package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/birdnest/apiserver/types"
)

// Notifier delivers mail jobs for single-use email tokens.
type Notifier interface {
	Notify(ctx context.Context, n types.Notification) error
}

// Publisher is the broker operation the MQ notifier needs. *mq.MQ
// implements it.
type Publisher interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
}

// MQNotifier publishes notifications as JSON for an external mailer.
type MQNotifier struct {
	publisher Publisher
	channel   string
	logger    *slog.Logger
}

func NewMQNotifier(publisher Publisher, channel string, logger *slog.Logger) *MQNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &MQNotifier{publisher: publisher, channel: channel, logger: logger}
}

func (n *MQNotifier) Notify(ctx context.Context, msg types.Notification) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	id, err := n.publisher.Publish(ctx, n.channel, data, map[string]string{
		"type":         string(msg.Type),
		"user_id":      msg.UserID,
		"content_type": "application/json",
	})
	if err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	n.logger.Debug("notification published", "type", string(msg.Type), "user_id", msg.UserID, "message_id", id)
	return nil
}

// LogNotifier writes notifications to the log. It is used when no broker is
// configured.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, msg types.Notification) error {
	n.logger.InfoContext(ctx, "notification",
		"type", string(msg.Type),
		"user_id", msg.UserID,
		"email", msg.Email,
	)
	n.logger.DebugContext(ctx, "notification token", "type", string(msg.Type), "token", msg.Token)
	return nil
}
