package auth_test

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"tokenauth/internal/config"
	"tokenauth/internal/events"
	authgrpc "tokenauth/internal/grpc/auth"
	"tokenauth/internal/lib/clock"
	"tokenauth/internal/lib/jwt"
	"tokenauth/internal/lib/logger/handlers/slogdiscard"
	"tokenauth/internal/lib/password"
	"tokenauth/internal/services/auth"
	"tokenauth/internal/services/token"
	"tokenauth/internal/storage/memory"
	"tokenauth/internal/storage/sqlite"
)

const (
	bufSize    = 1024 * 1024
	testSecret = "test-secret-that-is-at-least-32-bytes-long"
)

type env struct {
	client *authgrpc.AuthClient
	clock  *clock.FakeClock
	resets chan events.PasswordResetRequestedEvent
	verify chan events.EmailVerificationRequestedEvent
}

func newEnv(t *testing.T) *env {
	t.Helper()

	log := slogdiscard.NewDiscardLogger()
	clk := clock.Fake(time.Now().Truncate(time.Second))

	dbPath := filepath.Join(t.TempDir(), "auth.db")
	_, err := sqlite.Migrate(dbPath, "migrations")
	require.NoError(t, err)
	users, err := sqlite.New(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = users.Close() })

	cfg := config.AuthConfig{
		SigningSecret:                  testSecret,
		Issuer:                         "tokenauth-test",
		AccessTokenTTL:                 15 * time.Minute,
		RefreshTokenTTL:                24 * time.Hour,
		ResetTokenTTL:                  30 * time.Minute,
		VerifyTokenTTL:                 time.Hour,
		RevokeSessionsOnPasswordChange: true,
	}

	codec, err := jwt.New(cfg.SigningSecret, cfg.Issuer, clk)
	require.NoError(t, err)
	hasher, err := password.New(bcrypt.MinCost)
	require.NoError(t, err)

	dispatcher := events.NewDispatcher(log, time.Second)
	e := &env{
		clock:  clk,
		resets: make(chan events.PasswordResetRequestedEvent, 4),
		verify: make(chan events.EmailVerificationRequestedEvent, 4),
	}
	dispatcher.Subscribe(events.PasswordResetRequested, func(_ context.Context, ev events.Event) error {
		e.resets <- ev.(events.PasswordResetRequestedEvent)
		return nil
	})
	dispatcher.Subscribe(events.EmailVerificationRequested, func(_ context.Context, ev events.Event) error {
		e.verify <- ev.(events.EmailVerificationRequestedEvent)
		return nil
	})
	t.Cleanup(func() { _ = dispatcher.Close(context.Background()) })

	tokens := token.New(log, codec, memory.New(clk), clk, token.Options{KeyPrefix: "REVOKED_TOKEN"})
	authService := auth.New(log, cfg, time.Second, users, users, users, tokens, hasher, dispatcher, clk)

	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(
		authgrpc.LoggingInterceptor(log),
		authgrpc.AuthInterceptor(log, authService),
	))
	authgrpc.Register(srv, log, authService)

	lis := bufconn.Listen(bufSize)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	e.client = authgrpc.NewAuthClient(conn)
	return e
}

type credentials struct {
	username string
	email    string
	password string
}

func (e *env) registerAndLogin(t *testing.T) (credentials, *authgrpc.TokenResponse) {
	t.Helper()
	ctx := context.Background()

	c := credentials{
		username: gofakeit.Username(),
		email:    gofakeit.Email(),
		password: gofakeit.Password(true, true, true, true, false, 12),
	}

	reg, err := e.client.Register(ctx, &authgrpc.RegisterRequest{
		Username: c.username,
		Email:    c.email,
		Password: c.password,
	})
	require.NoError(t, err)
	require.NotZero(t, reg.UserID)

	tokens, err := e.client.Login(ctx, &authgrpc.LoginRequest{Login: c.username, Password: c.password})
	require.NoError(t, err)

	return c, tokens
}

func requireCode(t *testing.T, err error, code codes.Code) {
	t.Helper()
	require.Error(t, err)
	st, ok := status.FromError(err)
	require.True(t, ok)
	require.Equal(t, code, st.Code(), st.Message())
}

func TestRegisterLoginMe(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	c, tokens := e.registerAndLogin(t)
	assert.Equal(t, "Bearer", tokens.TokenType)
	assert.NotEmpty(t, tokens.AccessToken)
	assert.NotEmpty(t, tokens.RefreshToken)
	assert.Equal(t, e.clock.Now().Add(15*time.Minute).Unix(), tokens.AccessExpiresAt.Unix())

	var header metadata.MD
	me, err := e.client.Me(authgrpc.WithBearer(ctx, tokens.AccessToken), &authgrpc.MeRequest{}, grpc.Header(&header))
	require.NoError(t, err)
	assert.Equal(t, c.username, me.Username)
	assert.Equal(t, c.email, me.Email)

	ids := header.Get(authgrpc.RequestIDHeader)
	require.Len(t, ids, 1)
	_, err = ulid.ParseStrict(ids[0])
	require.NoError(t, err)
}

func TestRegisterValidation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  *authgrpc.RegisterRequest
	}{
		{"missing username", &authgrpc.RegisterRequest{Email: gofakeit.Email(), Password: "password"}},
		{"missing email", &authgrpc.RegisterRequest{Username: "alice", Password: "password"}},
		{"bad email", &authgrpc.RegisterRequest{Username: "alice", Email: "nope", Password: "password"}},
		{"missing password", &authgrpc.RegisterRequest{Username: "alice", Email: gofakeit.Email()}},
		{"long password", &authgrpc.RegisterRequest{Username: "alice", Email: gofakeit.Email(), Password: gofakeit.LetterN(73)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.client.Register(ctx, tt.req)
			requireCode(t, err, codes.InvalidArgument)
		})
	}
}

func TestRegisterDuplicate(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	c, _ := e.registerAndLogin(t)
	_, err := e.client.Register(ctx, &authgrpc.RegisterRequest{
		Username: c.username,
		Email:    gofakeit.Email(),
		Password: "password",
	})
	requireCode(t, err, codes.AlreadyExists)
}

func TestLoginFailuresLookAlike(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	c, _ := e.registerAndLogin(t)

	_, errMissing := e.client.Login(ctx, &authgrpc.LoginRequest{Login: "nonexistent_user", Password: "x"})
	_, errWrong := e.client.Login(ctx, &authgrpc.LoginRequest{Login: c.username, Password: "wrong"})

	requireCode(t, errMissing, codes.Unauthenticated)
	requireCode(t, errWrong, codes.Unauthenticated)
	assert.Equal(t, status.Convert(errMissing).Message(), status.Convert(errWrong).Message())
}

func TestProtectedMethods(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, tokens := e.registerAndLogin(t)

	_, err := e.client.Me(ctx, &authgrpc.MeRequest{})
	requireCode(t, err, codes.Unauthenticated)

	_, err = e.client.Me(authgrpc.WithBearer(ctx, "garbage"), &authgrpc.MeRequest{})
	requireCode(t, err, codes.Unauthenticated)

	// A refresh token is not an access token.
	_, err = e.client.Me(authgrpc.WithBearer(ctx, tokens.RefreshToken), &authgrpc.MeRequest{})
	requireCode(t, err, codes.Unauthenticated)

	_, err = e.client.ChangePassword(ctx, &authgrpc.ChangePasswordRequest{OldPassword: "a", NewPassword: "b"})
	requireCode(t, err, codes.Unauthenticated)
}

func TestLogoutTwice(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, tokens := e.registerAndLogin(t)
	req := &authgrpc.LogoutRequest{AccessToken: tokens.AccessToken, RefreshToken: tokens.RefreshToken}

	out, err := e.client.Logout(ctx, req)
	require.NoError(t, err)
	assert.True(t, out.AccessRevoked)
	assert.True(t, out.RefreshRevoked)

	out, err = e.client.Logout(ctx, req)
	require.NoError(t, err)
	assert.False(t, out.AccessRevoked)
	assert.False(t, out.RefreshRevoked)

	_, err = e.client.Me(authgrpc.WithBearer(ctx, tokens.AccessToken), &authgrpc.MeRequest{})
	requireCode(t, err, codes.Unauthenticated)

	_, err = e.client.Refresh(ctx, &authgrpc.RefreshRequest{RefreshToken: tokens.RefreshToken})
	requireCode(t, err, codes.Unauthenticated)
}

func TestRefresh(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	c, tokens := e.registerAndLogin(t)
	e.clock.Advance(5 * time.Minute)

	out, err := e.client.Refresh(ctx, &authgrpc.RefreshRequest{RefreshToken: tokens.RefreshToken})
	require.NoError(t, err)
	assert.Equal(t, tokens.RefreshToken, out.RefreshToken)
	assert.NotEqual(t, tokens.AccessToken, out.AccessToken)

	me, err := e.client.Me(authgrpc.WithBearer(ctx, out.AccessToken), &authgrpc.MeRequest{})
	require.NoError(t, err)
	assert.Equal(t, c.username, me.Username)
}

func TestChangePasswordRevokesSessions(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	c, tokens := e.registerAndLogin(t)
	authed := authgrpc.WithBearer(ctx, tokens.AccessToken)

	_, err := e.client.ChangePassword(authed, &authgrpc.ChangePasswordRequest{
		OldPassword: "wrong",
		NewPassword: "new-password",
	})
	requireCode(t, err, codes.Unauthenticated)

	_, err = e.client.ChangePassword(authed, &authgrpc.ChangePasswordRequest{
		OldPassword: c.password,
		NewPassword: "new-password",
	})
	require.NoError(t, err)

	_, err = e.client.Me(authed, &authgrpc.MeRequest{})
	requireCode(t, err, codes.Unauthenticated)

	e.clock.Advance(time.Second)
	_, err = e.client.Login(ctx, &authgrpc.LoginRequest{Login: c.email, Password: "new-password"})
	require.NoError(t, err)
}

func TestPasswordResetFlow(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	c, _ := e.registerAndLogin(t)

	_, err := e.client.RequestPasswordReset(ctx, &authgrpc.RequestPasswordResetRequest{Login: "nobody"})
	require.NoError(t, err)

	_, err = e.client.RequestPasswordReset(ctx, &authgrpc.RequestPasswordResetRequest{Login: c.username})
	require.NoError(t, err)

	var ev events.PasswordResetRequestedEvent
	select {
	case ev = <-e.resets:
	case <-time.After(2 * time.Second):
		t.Fatal("reset event not delivered")
	}
	assert.Equal(t, c.username, ev.Username)

	_, err = e.client.ResetPassword(ctx, &authgrpc.ResetPasswordRequest{Token: ev.Token, NewPassword: "brand-new"})
	require.NoError(t, err)

	_, err = e.client.ResetPassword(ctx, &authgrpc.ResetPasswordRequest{Token: ev.Token, NewPassword: "again"})
	requireCode(t, err, codes.Unauthenticated)

	e.clock.Advance(time.Second)
	_, err = e.client.Login(ctx, &authgrpc.LoginRequest{Login: c.username, Password: "brand-new"})
	require.NoError(t, err)
}

func TestEmailVerificationFlow(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	c, tokens := e.registerAndLogin(t)

	_, err := e.client.RequestEmailVerification(ctx, &authgrpc.RequestEmailVerificationRequest{})
	requireCode(t, err, codes.Unauthenticated)

	_, err = e.client.RequestEmailVerification(
		authgrpc.WithBearer(ctx, tokens.AccessToken),
		&authgrpc.RequestEmailVerificationRequest{},
	)
	require.NoError(t, err)

	var ev events.EmailVerificationRequestedEvent
	select {
	case ev = <-e.verify:
	case <-time.After(2 * time.Second):
		t.Fatal("verification event not delivered")
	}
	assert.Equal(t, c.email, ev.Email)

	_, err = e.client.VerifyEmail(ctx, &authgrpc.VerifyEmailRequest{Token: ev.Token})
	require.NoError(t, err)

	_, err = e.client.VerifyEmail(ctx, &authgrpc.VerifyEmailRequest{Token: ev.Token})
	requireCode(t, err, codes.Unauthenticated)

	tokens, err = e.client.Login(ctx, &authgrpc.LoginRequest{Login: c.username, Password: c.password})
	require.NoError(t, err)
	me, err := e.client.Me(authgrpc.WithBearer(ctx, tokens.AccessToken), &authgrpc.MeRequest{})
	require.NoError(t, err)
	assert.Equal(t, c.email, me.VerifiedEmail)
}
