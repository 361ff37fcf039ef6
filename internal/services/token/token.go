package token

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"tokenauth/internal/domain/models"
	"tokenauth/internal/lib/clock"
	"tokenauth/internal/lib/sl"
	"tokenauth/internal/storage"
)

// FailMode decides what Validate does when the revocation cache cannot
// answer.
type FailMode int

const (
	// FailClosed rejects the token: an unconfirmed token is not valid.
	FailClosed FailMode = iota
	// FailOpen accepts the token as not revoked and logs a warning.
	FailOpen
)

func ParseFailMode(s string) (FailMode, error) {
	switch s {
	case "closed", "":
		return FailClosed, nil
	case "open":
		return FailOpen, nil
	}
	return FailClosed, fmt.Errorf("unknown fail mode %q", s)
}

func (m FailMode) String() string {
	if m == FailOpen {
		return "open"
	}
	return "closed"
}

var (
	// ErrInvalidToken covers malformed, forged, expired, wrong-claim and
	// revoked tokens alike. Only logs say which.
	ErrInvalidToken = errors.New("invalid token")
	// ErrRevocationUnavailable is wrapped together with ErrInvalidToken
	// when the cache failed and the fail mode is closed.
	ErrRevocationUnavailable = errors.New("revocation cache unavailable")
	ErrPayloadMismatch       = errors.New("payload does not belong to claim")
	ErrInvalidTTL            = errors.New("token ttl must not be negative")
)

// minRevocationTTL is the floor applied to revocation entry lifetimes.
const minRevocationTTL = time.Second

type Codec interface {
	Encode(cs models.ClaimSet) (string, error)
	Decode(token string) (*models.ClaimSet, error)
}

// RevocationCache is a TTL-bounded key/value store. Put must be
// set-if-absent and report storage.ErrRecordExists otherwise; Get
// reports storage.ErrRecordNotFound for missing or expired keys.
type RevocationCache interface {
	Put(ctx context.Context, key string, record models.RevocationRecord, ttl time.Duration) error
	Set(ctx context.Context, key string, record models.RevocationRecord, ttl time.Duration) error
	Get(ctx context.Context, key string) (*models.RevocationRecord, error)
	Delete(ctx context.Context, key string) error
}

type Options struct {
	// KeyPrefix namespaces revocation keys in a shared cache.
	KeyPrefix string
	FailMode  FailMode
	// CacheTimeout bounds every cache call; zero means no extra bound.
	CacheTimeout time.Duration
}

type Service struct {
	log   *slog.Logger
	codec Codec
	cache RevocationCache
	clock clock.Clock
	opts  Options
}

func New(log *slog.Logger, codec Codec, cache RevocationCache, clk clock.Clock, opts Options) *Service {
	if clk == nil {
		clk = clock.Real()
	}
	return &Service{
		log:   log,
		codec: codec,
		cache: cache,
		clock: clk,
		opts:  opts,
	}
}

// Issue signs a new token for subject. Nothing is stored: tokens are
// stateless until revoked.
func (s *Service) Issue(
	ctx context.Context,
	claim models.Claim,
	subject string,
	ttl time.Duration,
	payload models.Payload,
) (token string, expiresAt time.Time, err error) {
	const op = "token.Issue"

	if ttl < 0 {
		return "", time.Time{}, fmt.Errorf("%s: %w", op, ErrInvalidTTL)
	}
	if payload != nil && payload.Claim() != claim {
		return "", time.Time{}, fmt.Errorf("%s: %w: %s", op, ErrPayloadMismatch, claim)
	}

	// exp has second precision on the wire, iat millisecond precision;
	// truncate so Validate reports exactly what Issue returned.
	now := s.clock.Now().UTC()
	cs := models.ClaimSet{
		TokenID:   uuid.NewString(),
		Claim:     claim,
		Subject:   subject,
		IssuedAt:  now.Truncate(time.Millisecond),
		ExpiresAt: now.Truncate(time.Second).Add(ttl),
		Payload:   payload,
	}

	token, err = s.codec.Encode(cs)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("%s: %w", op, err)
	}

	s.log.Debug("token issued",
		slog.String("op", op),
		slog.String("claim", string(claim)),
		slog.String("subject", subject),
		slog.String("token_id", cs.TokenID),
	)

	return token, cs.ExpiresAt, nil
}

// Validate checks signature and expiry, that the token was issued for
// claim, and that neither the token nor its subject's sessions have
// been revoked.
func (s *Service) Validate(ctx context.Context, claim models.Claim, token string) (*models.ClaimSet, error) {
	const op = "token.Validate"
	log := s.log.With(slog.String("op", op), slog.String("claim", string(claim)))

	cs, err := s.codec.Decode(token)
	if err != nil {
		log.Debug("token rejected", sl.TokenFingerprint(token), sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}
	log = log.With(slog.String("token_id", cs.TokenID))

	if cs.Claim != claim {
		log.Debug("token rejected: claim mismatch", slog.String("token_claim", string(cs.Claim)))
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	revoked, err := s.isRevoked(ctx, cs)
	if err != nil {
		if s.opts.FailMode == FailOpen {
			log.Warn("revocation check failed, accepting token (fail open)", sl.Err(err))
			return cs, nil
		}
		log.Error("revocation check failed, rejecting token (fail closed)", sl.Err(err))
		return nil, fmt.Errorf("%s: %w: %w", op, ErrInvalidToken, ErrRevocationUnavailable)
	}
	if revoked {
		log.Debug("token rejected: revoked")
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	return cs, nil
}

// Revoke records token as revoked until its natural expiry. It returns
// false, without error, when the token is already invalid, expired or
// revoked.
func (s *Service) Revoke(ctx context.Context, claim models.Claim, token, reason string) (bool, error) {
	const op = "token.Revoke"
	log := s.log.With(slog.String("op", op), slog.String("claim", string(claim)))

	cs, err := s.Validate(ctx, claim, token)
	if err != nil {
		if errors.Is(err, ErrRevocationUnavailable) {
			return false, fmt.Errorf("%s: %w", op, ErrRevocationUnavailable)
		}
		return false, nil
	}

	now := s.clock.Now().UTC()
	record := models.RevocationRecord{
		Claim:     cs.Claim,
		Subject:   cs.Subject,
		ExpiresAt: cs.ExpiresAt,
		RevokedAt: now,
		Reason:    reason,
	}

	ctx, cancel := s.cacheContext(ctx)
	defer cancel()

	err = s.cache.Put(ctx, s.tokenKey(cs.TokenID), record, revocationTTL(cs.ExpiresAt, now))
	if err != nil {
		if errors.Is(err, storage.ErrRecordExists) {
			log.Debug("token already revoked", slog.String("token_id", cs.TokenID))
			return false, nil
		}
		log.Error("failed to record revocation", sl.Err(err))
		return false, fmt.Errorf("%s: %w: %w", op, ErrRevocationUnavailable, err)
	}

	log.Info("token revoked",
		slog.String("token_id", cs.TokenID),
		slog.String("subject", cs.Subject),
		slog.String("reason", reason),
	)

	return true, nil
}

// RevokeSubject invalidates every token for subject issued at or
// before now, to the millisecond. ttl should cover the longest token
// lifetime in use.
func (s *Service) RevokeSubject(ctx context.Context, subject, reason string, ttl time.Duration) error {
	const op = "token.RevokeSubject"

	now := s.clock.Now().UTC()
	record := models.RevocationRecord{
		Subject:   subject,
		ExpiresAt: now.Add(ttl),
		RevokedAt: now.Truncate(time.Millisecond),
		Reason:    reason,
	}

	ctx, cancel := s.cacheContext(ctx)
	defer cancel()

	if err := s.cache.Set(ctx, s.subjectKey(subject), record, max(ttl, minRevocationTTL)); err != nil {
		s.log.Error("failed to revoke subject sessions",
			slog.String("op", op),
			slog.String("subject", subject),
			sl.Err(err),
		)
		return fmt.Errorf("%s: %w: %w", op, ErrRevocationUnavailable, err)
	}

	s.log.Info("subject sessions revoked",
		slog.String("op", op),
		slog.String("subject", subject),
		slog.String("reason", reason),
	)

	return nil
}

func (s *Service) isRevoked(ctx context.Context, cs *models.ClaimSet) (bool, error) {
	ctx, cancel := s.cacheContext(ctx)
	defer cancel()

	_, err := s.cache.Get(ctx, s.tokenKey(cs.TokenID))
	switch {
	case err == nil:
		return true, nil
	case !errors.Is(err, storage.ErrRecordNotFound):
		return false, err
	}

	watermark, err := s.cache.Get(ctx, s.subjectKey(cs.Subject))
	switch {
	case err == nil:
		return !cs.IssuedAt.After(watermark.RevokedAt), nil
	case errors.Is(err, storage.ErrRecordNotFound):
		return false, nil
	default:
		return false, err
	}
}

func (s *Service) cacheContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opts.CacheTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.opts.CacheTimeout)
}

func (s *Service) tokenKey(tokenID string) string {
	return s.opts.KeyPrefix + "-" + tokenID
}

func (s *Service) subjectKey(subject string) string {
	return s.opts.KeyPrefix + "-SUBJECT-" + subject
}

// revocationTTL keeps an entry exactly as long as the token could still
// verify, never less than a second.
func revocationTTL(expiresAt, now time.Time) time.Duration {
	return max(expiresAt.Sub(now), minRevocationTTL)
}
