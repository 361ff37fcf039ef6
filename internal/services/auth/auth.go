package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tokenauth/internal/config"
	"tokenauth/internal/domain/models"
	"tokenauth/internal/events"
	"tokenauth/internal/lib/clock"
	"tokenauth/internal/lib/password"
	"tokenauth/internal/lib/sl"
	"tokenauth/internal/services/token"
	"tokenauth/internal/storage"
)

const tokenTypeBearer = "Bearer"

type Auth struct {
	log            *slog.Logger
	cfg            config.AuthConfig
	storageTimeout time.Duration
	userSaver      UserSaver
	userProvider   UserProvider
	userUpdater    UserUpdater
	tokens         TokenService
	creds          CredentialVerifier
	events         EventPublisher
	clock          clock.Clock

	dummyOnce sync.Once
	dummyHash []byte
}

type UserSaver interface {
	SaveUser(ctx context.Context, user models.User) (uid int64, err error)
}

type UserProvider interface {
	// User looks a user up by username or e-mail.
	User(ctx context.Context, login string) (*models.User, error)
}

type UserUpdater interface {
	UpdatePassword(ctx context.Context, username string, passHash []byte) error
	MarkEmailVerified(ctx context.Context, username, email string) error
}

type TokenService interface {
	Issue(
		ctx context.Context,
		claim models.Claim,
		subject string,
		ttl time.Duration,
		payload models.Payload,
	) (token string, expiresAt time.Time, err error)
	Validate(ctx context.Context, claim models.Claim, token string) (*models.ClaimSet, error)
	Revoke(ctx context.Context, claim models.Claim, token, reason string) (bool, error)
	RevokeSubject(ctx context.Context, subject, reason string, ttl time.Duration) error
}

type CredentialVerifier interface {
	Hash(password string) ([]byte, error)
	Verify(password string, hash []byte) (bool, error)
}

type EventPublisher interface {
	Publish(ctx context.Context, e events.Event)
}

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountDisabled    = errors.New("account disabled")
	ErrInvalidToken       = errors.New("invalid token")
	ErrUserAlreadyExists  = errors.New("user already exists")
	ErrInvalidPassword    = errors.New("invalid password")
)

// New returns a new instance of the Auth service.
func New(
	log *slog.Logger,
	cfg config.AuthConfig,
	storageTimeout time.Duration,
	userSaver UserSaver,
	userProvider UserProvider,
	userUpdater UserUpdater,
	tokens TokenService,
	creds CredentialVerifier,
	publisher EventPublisher,
	clk clock.Clock,
) *Auth {
	if clk == nil {
		clk = clock.Real()
	}
	return &Auth{
		log:            log,
		cfg:            cfg,
		storageTimeout: storageTimeout,
		userSaver:      userSaver,
		userProvider:   userProvider,
		userUpdater:    userUpdater,
		tokens:         tokens,
		creds:          creds,
		events:         publisher,
		clock:          clk,
	}
}

// Register creates a user with a hashed password and returns its id.
func (a *Auth) Register(ctx context.Context, in models.NewUser) (userID int64, err error) {
	const op = "auth.Register"
	log := a.log.With(
		slog.String("op", op),
		slog.String("username", in.Username),
	)
	log.Info("register request")

	passHash, err := a.hash(in.Password)
	if err != nil {
		log.Warn("failed to hash password", sl.Err(err))
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	sctx, cancel := a.storageContext(ctx)
	defer cancel()

	userID, err = a.userSaver.SaveUser(sctx, models.User{
		Username:  in.Username,
		Email:     in.Email,
		FirstName: in.FirstName,
		LastName:  in.LastName,
		PassHash:  passHash,
	})
	if err != nil {
		if errors.Is(err, storage.ErrUserAlreadyExists) {
			log.Warn("user already exists", sl.Err(err))
			return 0, fmt.Errorf("%s: %w", op, ErrUserAlreadyExists)
		}
		log.Error("failed to save user", sl.Err(err))
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("user registered", slog.Int64("userID", userID))

	a.events.Publish(ctx, events.UserRegisteredEvent{
		UserID:    userID,
		Username:  in.Username,
		Email:     in.Email,
		FirstName: in.FirstName,
	})

	return userID, nil
}

// Login checks the credentials and issues an access and a refresh
// token. Unknown users and wrong passwords fail identically.
func (a *Auth) Login(ctx context.Context, login, pass string) (models.TokenPair, error) {
	const op = "auth.Login"
	log := a.log.With(slog.String("op", op), slog.String("login", login))
	log.Info("login request")

	user, err := a.user(ctx, login)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			a.burnVerify(pass)
			log.Warn("user not found")
			return models.TokenPair{}, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
		}
		log.Error("failed to get user", sl.Err(err))
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}

	ok, err := a.creds.Verify(pass, user.PassHash)
	if err != nil {
		log.Error("failed to verify password", sl.Err(err))
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}
	if !ok {
		log.Warn("invalid password")
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}

	if user.Disabled {
		log.Warn("account disabled")
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, ErrAccountDisabled)
	}

	pair, err := a.issuePair(ctx, user)
	if err != nil {
		log.Error("failed to issue tokens", sl.Err(err))
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("user logged in", slog.Int64("userID", user.ID))

	a.events.Publish(ctx, events.UserLoggedInEvent{
		UserID:   user.ID,
		Username: user.Username,
		At:       a.clock.Now(),
	})

	return pair, nil
}

// Authorize returns the identity embedded in a valid access token.
func (a *Auth) Authorize(ctx context.Context, accessToken string) (*models.Identity, error) {
	const op = "auth.Authorize"

	cs, err := a.tokens.Validate(ctx, models.ClaimAccess, accessToken)
	if err != nil {
		return nil, invalidToken(op, err)
	}

	identity, ok := cs.Payload.(*models.Identity)
	if !ok || identity == nil {
		a.log.Warn("access token without identity",
			slog.String("op", op),
			slog.String("token_id", cs.TokenID),
		)
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	return identity, nil
}

// Logout revokes both tokens independently. An empty, invalid or
// already revoked token reports false and is not an error.
func (a *Auth) Logout(ctx context.Context, accessToken, refreshToken string) (accessRevoked, refreshRevoked bool, err error) {
	const op = "auth.Logout"
	log := a.log.With(slog.String("op", op))

	var accessErr, refreshErr error
	if accessToken != "" {
		accessRevoked, accessErr = a.tokens.Revoke(ctx, models.ClaimAccess, accessToken, models.RevokeLogout)
	}
	if refreshToken != "" {
		refreshRevoked, refreshErr = a.tokens.Revoke(ctx, models.ClaimRefresh, refreshToken, models.RevokeLogout)
	}

	if err := errors.Join(accessErr, refreshErr); err != nil {
		log.Error("failed to revoke tokens", sl.Err(err))
		return accessRevoked, refreshRevoked, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("logout",
		slog.Bool("access_revoked", accessRevoked),
		slog.Bool("refresh_revoked", refreshRevoked),
	)

	return accessRevoked, refreshRevoked, nil
}

// Refresh issues a new access token for the refresh token's subject.
// The refresh token is returned unchanged unless rotation is enabled,
// in which case it is revoked and replaced.
func (a *Auth) Refresh(ctx context.Context, refreshToken string) (models.TokenPair, error) {
	const op = "auth.Refresh"
	log := a.log.With(slog.String("op", op))
	log.Info("refresh request")

	cs, err := a.tokens.Validate(ctx, models.ClaimRefresh, refreshToken)
	if err != nil {
		log.Warn("invalid refresh token", sl.Err(err))
		return models.TokenPair{}, invalidToken(op, err)
	}
	log = log.With(slog.String("username", cs.Subject))

	user, err := a.user(ctx, cs.Subject)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			log.Warn("refresh token subject no longer exists")
			return models.TokenPair{}, fmt.Errorf("%s: %w", op, ErrInvalidToken)
		}
		log.Error("failed to get user", sl.Err(err))
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}
	if user.Disabled {
		log.Warn("account disabled")
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, ErrAccountDisabled)
	}

	pair := models.TokenPair{
		TokenType:        tokenTypeBearer,
		RefreshToken:     refreshToken,
		RefreshExpiresAt: cs.ExpiresAt,
	}

	if a.cfg.RotateRefreshTokens {
		revoked, err := a.tokens.Revoke(ctx, models.ClaimRefresh, refreshToken, models.RevokeRotated)
		if err != nil {
			log.Error("failed to revoke rotated refresh token", sl.Err(err))
			return models.TokenPair{}, fmt.Errorf("%s: %w", op, err)
		}
		if !revoked {
			// Another refresh with the same token got there first.
			log.Warn("refresh token already rotated")
			return models.TokenPair{}, fmt.Errorf("%s: %w", op, ErrInvalidToken)
		}

		pair.RefreshToken, pair.RefreshExpiresAt, err = a.tokens.Issue(
			ctx, models.ClaimRefresh, user.Username, a.cfg.RefreshTokenTTL, nil,
		)
		if err != nil {
			log.Error("failed to issue refresh token", sl.Err(err))
			return models.TokenPair{}, fmt.Errorf("%s: %w", op, err)
		}
	}

	pair.AccessToken, pair.AccessExpiresAt, err = a.tokens.Issue(
		ctx, models.ClaimAccess, user.Username, a.cfg.AccessTokenTTL, models.IdentityOf(user),
	)
	if err != nil {
		log.Error("failed to issue access token", sl.Err(err))
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("tokens refreshed", slog.Bool("rotated", a.cfg.RotateRefreshTokens))

	return pair, nil
}

// RequestPasswordReset issues a reset token and hands it to the mail
// side effect. Unknown and disabled users get the same silent success.
func (a *Auth) RequestPasswordReset(ctx context.Context, login string) error {
	const op = "auth.RequestPasswordReset"
	log := a.log.With(slog.String("op", op), slog.String("login", login))
	log.Info("password reset request")

	user, err := a.user(ctx, login)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			log.Info("password reset for unknown user ignored")
			return nil
		}
		log.Error("failed to get user", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}
	if user.Disabled {
		log.Info("password reset for disabled user ignored")
		return nil
	}

	tok, expiresAt, err := a.tokens.Issue(ctx, models.ClaimResetPassword, user.Username, a.cfg.ResetTokenTTL,
		&models.ResetPasswordPayload{Username: user.Username})
	if err != nil {
		log.Error("failed to issue reset token", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	a.events.Publish(ctx, events.PasswordResetRequestedEvent{
		Username:  user.Username,
		Email:     user.Email,
		Token:     tok,
		ExpiresAt: expiresAt,
	})

	return nil
}

// ResetPassword sets a new password using a reset token. The token is
// consumed before the password is written, so concurrent attempts with
// one token change the password at most once.
func (a *Auth) ResetPassword(ctx context.Context, resetToken, newPassword string) error {
	const op = "auth.ResetPassword"
	log := a.log.With(slog.String("op", op))

	cs, err := a.tokens.Validate(ctx, models.ClaimResetPassword, resetToken)
	if err != nil {
		log.Warn("invalid reset token", sl.Err(err))
		return invalidToken(op, err)
	}

	payload, ok := cs.Payload.(*models.ResetPasswordPayload)
	if !ok || payload.Username != cs.Subject {
		log.Warn("reset token payload does not match subject", slog.String("token_id", cs.TokenID))
		return fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}
	log = log.With(slog.String("username", payload.Username))

	passHash, err := a.hash(newPassword)
	if err != nil {
		log.Warn("failed to hash password", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	revoked, err := a.tokens.Revoke(ctx, models.ClaimResetPassword, resetToken, models.RevokePasswordReset)
	if err != nil {
		log.Error("failed to consume reset token", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}
	if !revoked {
		log.Warn("reset token already used")
		return fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	user, err := a.setPassword(ctx, payload.Username, passHash)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			log.Warn("reset token subject no longer exists")
			return fmt.Errorf("%s: %w", op, ErrInvalidToken)
		}
		log.Error("failed to update password", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	revokedSessions := a.revokeSessions(ctx, user.Username, models.RevokePasswordReset)

	log.Info("password reset")

	a.events.Publish(ctx, events.PasswordChangedEvent{
		Username:        user.Username,
		Email:           user.Email,
		Reason:          models.RevokePasswordReset,
		SessionsRevoked: revokedSessions,
	})

	return nil
}

// ChangePassword replaces the password of a signed-in user after
// checking the current one.
func (a *Auth) ChangePassword(ctx context.Context, username, oldPassword, newPassword string) error {
	const op = "auth.ChangePassword"
	log := a.log.With(slog.String("op", op), slog.String("username", username))

	user, err := a.user(ctx, username)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			a.burnVerify(oldPassword)
			log.Warn("user not found")
			return fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
		}
		log.Error("failed to get user", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	ok, err := a.creds.Verify(oldPassword, user.PassHash)
	if err != nil {
		log.Error("failed to verify password", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}
	if !ok {
		log.Warn("invalid password")
		return fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}
	if user.Disabled {
		log.Warn("account disabled")
		return fmt.Errorf("%s: %w", op, ErrAccountDisabled)
	}

	passHash, err := a.hash(newPassword)
	if err != nil {
		log.Warn("failed to hash password", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	if _, err := a.setPassword(ctx, user.Username, passHash); err != nil {
		log.Error("failed to update password", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	revokedSessions := a.revokeSessions(ctx, user.Username, models.RevokePasswordChange)

	log.Info("password changed")

	a.events.Publish(ctx, events.PasswordChangedEvent{
		Username:        user.Username,
		Email:           user.Email,
		Reason:          models.RevokePasswordChange,
		SessionsRevoked: revokedSessions,
	})

	return nil
}

// RequestEmailVerification issues a verification token for the user's
// current address. Unknown, disabled and already verified users are a
// silent no-op.
func (a *Auth) RequestEmailVerification(ctx context.Context, login string) error {
	const op = "auth.RequestEmailVerification"
	log := a.log.With(slog.String("op", op), slog.String("login", login))

	user, err := a.user(ctx, login)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			log.Info("verification for unknown user ignored")
			return nil
		}
		log.Error("failed to get user", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}
	if user.Disabled || user.VerifiedEmail == user.Email {
		log.Info("verification not needed", slog.Bool("disabled", user.Disabled))
		return nil
	}

	tok, expiresAt, err := a.tokens.Issue(ctx, models.ClaimVerifyEmail, user.Username, a.cfg.VerifyTokenTTL,
		&models.VerifyEmailPayload{Username: user.Username, Email: user.Email})
	if err != nil {
		log.Error("failed to issue verification token", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	a.events.Publish(ctx, events.EmailVerificationRequestedEvent{
		Username:  user.Username,
		Email:     user.Email,
		Token:     tok,
		ExpiresAt: expiresAt,
	})

	return nil
}

// VerifyEmail consumes a verification token and marks the address it
// was issued for as verified. A token for an address the user no longer
// has is rejected.
func (a *Auth) VerifyEmail(ctx context.Context, verifyToken string) error {
	const op = "auth.VerifyEmail"
	log := a.log.With(slog.String("op", op))

	cs, err := a.tokens.Validate(ctx, models.ClaimVerifyEmail, verifyToken)
	if err != nil {
		log.Warn("invalid verification token", sl.Err(err))
		return invalidToken(op, err)
	}

	payload, ok := cs.Payload.(*models.VerifyEmailPayload)
	if !ok || payload.Username != cs.Subject {
		log.Warn("verification token payload does not match subject", slog.String("token_id", cs.TokenID))
		return fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}
	log = log.With(slog.String("username", payload.Username))

	user, err := a.user(ctx, payload.Username)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			log.Warn("verification token subject no longer exists")
			return fmt.Errorf("%s: %w", op, ErrInvalidToken)
		}
		log.Error("failed to get user", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}
	if user.Email != payload.Email {
		log.Warn("e-mail changed since verification was requested")
		return fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	revoked, err := a.tokens.Revoke(ctx, models.ClaimVerifyEmail, verifyToken, models.RevokeEmailVerified)
	if err != nil {
		log.Error("failed to consume verification token", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}
	if !revoked {
		log.Warn("verification token already used")
		return fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	sctx, cancel := a.storageContext(ctx)
	defer cancel()

	if err := a.userUpdater.MarkEmailVerified(sctx, user.Username, payload.Email); err != nil {
		log.Error("failed to mark e-mail verified", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	log.Info("e-mail verified")

	return nil
}

func (a *Auth) issuePair(ctx context.Context, user *models.User) (models.TokenPair, error) {
	access, accessExp, err := a.tokens.Issue(
		ctx, models.ClaimAccess, user.Username, a.cfg.AccessTokenTTL, models.IdentityOf(user),
	)
	if err != nil {
		return models.TokenPair{}, fmt.Errorf("access: %w", err)
	}

	refresh, refreshExp, err := a.tokens.Issue(ctx, models.ClaimRefresh, user.Username, a.cfg.RefreshTokenTTL, nil)
	if err != nil {
		return models.TokenPair{}, fmt.Errorf("refresh: %w", err)
	}

	return models.TokenPair{
		TokenType:        tokenTypeBearer,
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refresh,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// revokeSessions writes the subject watermark when configured. The
// password is already changed at this point, so a failure is logged
// and reported to the event, not returned.
func (a *Auth) revokeSessions(ctx context.Context, username, reason string) bool {
	if !a.cfg.RevokeSessionsOnPasswordChange {
		return false
	}

	if err := a.tokens.RevokeSubject(ctx, username, reason, a.cfg.MaxTokenTTL()); err != nil {
		a.log.Error("failed to revoke sessions after password change",
			slog.String("username", username),
			sl.Err(err),
		)
		return false
	}
	return true
}

func (a *Auth) user(ctx context.Context, login string) (*models.User, error) {
	ctx, cancel := a.storageContext(ctx)
	defer cancel()

	return a.userProvider.User(ctx, login)
}

func (a *Auth) setPassword(ctx context.Context, username string, passHash []byte) (*models.User, error) {
	sctx, cancel := a.storageContext(ctx)
	defer cancel()

	if err := a.userUpdater.UpdatePassword(sctx, username, passHash); err != nil {
		return nil, err
	}

	return a.user(ctx, username)
}

func (a *Auth) hash(pass string) ([]byte, error) {
	hash, err := a.creds.Hash(pass)
	if err != nil {
		if errors.Is(err, password.ErrTooLong) {
			return nil, fmt.Errorf("%w: %w", ErrInvalidPassword, err)
		}
		return nil, err
	}
	return hash, nil
}

// burnVerify spends about as long as a real password check so a
// missing user cannot be told apart by timing.
func (a *Auth) burnVerify(pass string) {
	a.dummyOnce.Do(func() {
		hash, err := a.creds.Hash("not-a-real-password")
		if err != nil {
			a.log.Error("failed to prepare dummy hash", sl.Err(err))
			return
		}
		a.dummyHash = hash
	})
	if a.dummyHash != nil {
		_, _ = a.creds.Verify(pass, a.dummyHash)
	}
}

func (a *Auth) storageContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.storageTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, a.storageTimeout)
}

// invalidToken keeps the token service's cause in the chain while
// presenting the facade's error.
func invalidToken(op string, err error) error {
	if errors.Is(err, token.ErrInvalidToken) {
		return fmt.Errorf("%s: %w: %w", op, ErrInvalidToken, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
