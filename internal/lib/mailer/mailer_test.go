package mailer

import (
	"context"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tokenauth/internal/lib/logger/handlers/slogdiscard"
)

func TestMessages(t *testing.T) {
	to := gofakeit.Email()
	user := gofakeit.Username()
	exp := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)

	reset := PasswordReset(to, user, "reset-token", exp)
	assert.Equal(t, to, reset.To)
	assert.Contains(t, reset.Body, "reset-token")
	assert.Contains(t, reset.Body, user)

	verify := VerifyEmail(to, user, "verify-token", exp)
	assert.Contains(t, verify.Body, "verify-token")
	assert.Contains(t, verify.Body, to)

	changed := PasswordChanged(to, user, true)
	assert.Contains(t, changed.Body, "signed out")
	assert.NotContains(t, PasswordChanged(to, user, false).Body, "signed out")

	assert.Contains(t, Welcome(to, user).Body, user)
}

func TestLogSender(t *testing.T) {
	s := NewLogSender(slogdiscard.NewDiscardLogger())

	require.NoError(t, s.Send(context.Background(), Welcome("a@example.com", "a")))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, s.Send(ctx, Welcome("a@example.com", "a")), context.Canceled)
}
