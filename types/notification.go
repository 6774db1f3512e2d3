package types

// NotificationType names the mail job an external mailer should send.
type NotificationType string

const (
	NotificationVerifyEmail    NotificationType = "verify_email"
	NotificationForgotPassword NotificationType = "forgot_password"
)

// Notification is published to the broker whenever a single-use email token
// is minted.
type Notification struct {
	Type   NotificationType `json:"type"`
	UserID string           `json:"user_id"`
	Email  string           `json:"email"`
	Token  string           `json:"token"`
}
