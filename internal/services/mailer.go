package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/birdnest/apiserver/types"
)

// Mail is a rendered message for one notification.
type Mail struct {
	To      string
	Subject string
	Link    string
}

// MailSender delivers rendered mail.
type MailSender interface {
	Send(ctx context.Context, m Mail) error
}

// Mailer turns published notifications into mail. It is the consumer side
// of MQNotifier.
type Mailer struct {
	sender   MailSender
	linkBase string
	logger   *slog.Logger
}

func NewMailer(sender MailSender, linkBaseURL string, logger *slog.Logger) *Mailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mailer{sender: sender, linkBase: strings.TrimRight(linkBaseURL, "/"), logger: logger}
}

// Render builds the mail for n.
func (m *Mailer) Render(n types.Notification) (Mail, error) {
	var subject, page string
	switch n.Type {
	case types.NotificationVerifyEmail:
		subject, page = "Verify your email", "verify-email"
	case types.NotificationForgotPassword:
		subject, page = "Reset your password", "reset-password"
	default:
		return Mail{}, fmt.Errorf("unknown notification type %q", n.Type)
	}
	if n.Email == "" || n.Token == "" {
		return Mail{}, fmt.Errorf("notification %s for %s is missing email or token", n.Type, n.UserID)
	}
	return Mail{
		To:      n.Email,
		Subject: subject,
		Link:    fmt.Sprintf("%s/%s?token=%s", m.linkBase, page, url.QueryEscape(n.Token)),
	}, nil
}

// Handle decodes one published notification and sends its mail. Messages
// that cannot be decoded or rendered are dropped; a send failure is returned
// so the broker redelivers.
func (m *Mailer) Handle(ctx context.Context, data []byte) error {
	var n types.Notification
	if err := json.Unmarshal(data, &n); err != nil {
		m.logger.WarnContext(ctx, "drop undecodable notification", "error", err)
		return nil
	}
	mail, err := m.Render(n)
	if err != nil {
		m.logger.WarnContext(ctx, "drop notification", "error", err)
		return nil
	}
	return m.sender.Send(ctx, mail)
}

// LogSender writes mail to the log instead of delivering it.
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, m Mail) error {
	s.logger.InfoContext(ctx, "mail", "to", m.To, "subject", m.Subject)
	s.logger.DebugContext(ctx, "mail link", "to", m.To, "link", m.Link)
	return nil
}
