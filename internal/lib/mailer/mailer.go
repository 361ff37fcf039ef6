// Package mailer composes the account e-mails and hands them to a
// delivery backend.
package mailer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

type Message struct {
	To      string
	Subject string
	Body    string
}

// Sender delivers one message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// LogSender writes messages to the log instead of delivering them. It
// is the sender for local and test environments. Bodies are logged at
// debug only, since they contain single-use tokens.
type LogSender struct {
	log *slog.Logger
}

func NewLogSender(log *slog.Logger) *LogSender {
	return &LogSender{log: log}
}

func (s *LogSender) Send(ctx context.Context, msg Message) error {
	const op = "mailer.Send"

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	log := s.log.With(slog.String("op", op), slog.String("to", msg.To))
	log.Info("mail sent", slog.String("subject", msg.Subject))
	log.Debug("mail body", slog.String("body", msg.Body))

	return nil
}

func Welcome(to, name string) Message {
	return Message{
		To:      to,
		Subject: "Welcome",
		Body:    fmt.Sprintf("Hi %s,\n\nyour account has been created.\n", name),
	}
}

func PasswordReset(to, username, token string, expiresAt time.Time) Message {
	return Message{
		To:      to,
		Subject: "Reset your password",
		Body: fmt.Sprintf(
			"Hi %s,\n\nuse this code to reset your password:\n\n%s\n\nIt expires at %s.\n",
			username, token, expiresAt.UTC().Format(time.RFC1123),
		),
	}
}

func VerifyEmail(to, username, token string, expiresAt time.Time) Message {
	return Message{
		To:      to,
		Subject: "Confirm your e-mail address",
		Body: fmt.Sprintf(
			"Hi %s,\n\nuse this code to confirm %s:\n\n%s\n\nIt expires at %s.\n",
			username, to, token, expiresAt.UTC().Format(time.RFC1123),
		),
	}
}

func PasswordChanged(to, username string, sessionsRevoked bool) Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Hi %s,\n\nyour password was changed.\n", username)
	if sessionsRevoked {
		b.WriteString("All devices have been signed out.\n")
	}
	b.WriteString("If this wasn't you, reset your password now.\n")

	return Message{
		To:      to,
		Subject: "Your password was changed",
		Body:    b.String(),
	}
}
