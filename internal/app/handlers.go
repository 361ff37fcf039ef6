package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"tokenauth/internal/events"
	"tokenauth/internal/lib/mailer"
)

type loginStamper interface {
	StampLastLogin(ctx context.Context, username string, at time.Time) error
}

type verificationRequester interface {
	RequestEmailVerification(ctx context.Context, login string) error
}

// subscribeHandlers attaches the side effects of account events. None
// of them can fail the request that raised the event.
func subscribeHandlers(
	d *events.Dispatcher,
	log *slog.Logger,
	sender mailer.Sender,
	users loginStamper,
	verifier verificationRequester,
) {
	d.Subscribe(events.UserRegistered, func(ctx context.Context, e events.Event) error {
		ev := e.(events.UserRegisteredEvent)

		name := ev.FirstName
		if name == "" {
			name = ev.Username
		}
		if err := sender.Send(ctx, mailer.Welcome(ev.Email, name)); err != nil {
			return fmt.Errorf("welcome mail: %w", err)
		}
		return nil
	})

	d.Subscribe(events.UserRegistered, func(ctx context.Context, e events.Event) error {
		ev := e.(events.UserRegisteredEvent)
		return verifier.RequestEmailVerification(ctx, ev.Username)
	})

	d.Subscribe(events.UserLoggedIn, func(ctx context.Context, e events.Event) error {
		ev := e.(events.UserLoggedInEvent)
		if err := users.StampLastLogin(ctx, ev.Username, ev.At); err != nil {
			return fmt.Errorf("stamp last login: %w", err)
		}
		log.Debug("last login stamped", slog.String("username", ev.Username))
		return nil
	})

	d.Subscribe(events.PasswordResetRequested, func(ctx context.Context, e events.Event) error {
		ev := e.(events.PasswordResetRequestedEvent)
		return sender.Send(ctx, mailer.PasswordReset(ev.Email, ev.Username, ev.Token, ev.ExpiresAt))
	})

	d.Subscribe(events.EmailVerificationRequested, func(ctx context.Context, e events.Event) error {
		ev := e.(events.EmailVerificationRequestedEvent)
		return sender.Send(ctx, mailer.VerifyEmail(ev.Email, ev.Username, ev.Token, ev.ExpiresAt))
	})

	d.Subscribe(events.PasswordChanged, func(ctx context.Context, e events.Event) error {
		ev := e.(events.PasswordChangedEvent)
		return sender.Send(ctx, mailer.PasswordChanged(ev.Email, ev.Username, ev.SessionsRevoked))
	})
}
