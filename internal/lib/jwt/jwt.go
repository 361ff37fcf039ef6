package jwt

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"tokenauth/internal/domain/models"
	"tokenauth/internal/lib/clock"
)

// MinSecretLength is the shortest HMAC secret accepted, in bytes.
const MinSecretLength = 32

var (
	ErrWeakSecret       = errors.New("signing secret too short")
	ErrExpired          = errors.New("token expired")
	ErrInvalidSignature = errors.New("invalid token signature")
	ErrMalformed        = errors.New("malformed token")
)

// tokenClaims is the JWT body. The signature covers every field,
// including exp and the claim type. iat_ms carries the issuance time
// at millisecond precision and must fall within the iat second.
type tokenClaims struct {
	jwt.RegisteredClaims
	IssuedAtMs     int64           `json:"iat_ms,omitempty"`
	Claim          models.Claim    `json:"claim"`
	PayloadVersion int             `json:"pv,omitempty"`
	Data           json.RawMessage `json:"data,omitempty"`
}

// Codec signs and verifies HS256 tokens with a process-wide secret.
type Codec struct {
	secret []byte
	issuer string
	clock  clock.Clock
}

func New(secret, issuer string, clk clock.Clock) (*Codec, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("jwt.New: %w: need %d bytes, got %d", ErrWeakSecret, MinSecretLength, len(secret))
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Codec{
		secret: []byte(secret),
		issuer: issuer,
		clock:  clk,
	}, nil
}

// Encode signs cs. exp is truncated to whole seconds by the JWT numeric
// date encoding; the issuance time keeps millisecond precision.
func (c *Codec) Encode(cs models.ClaimSet) (string, error) {
	const op = "jwt.Encode"

	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        cs.TokenID,
			Subject:   cs.Subject,
			Issuer:    c.issuer,
			IssuedAt:  jwt.NewNumericDate(cs.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(cs.ExpiresAt),
		},
		IssuedAtMs: cs.IssuedAt.UnixMilli(),
		Claim:      cs.Claim,
	}

	if cs.Payload != nil {
		data, err := json.Marshal(cs.Payload)
		if err != nil {
			return "", fmt.Errorf("%s: marshal payload: %w", op, err)
		}
		claims.Data = data
		claims.PayloadVersion = models.PayloadVersion
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return token, nil
}

// Decode verifies the signature and expiry of tokenString and returns
// its claim set. The returned error wraps one of ErrExpired,
// ErrInvalidSignature or ErrMalformed.
func (c *Codec) Decode(tokenString string) (*models.ClaimSet, error) {
	const op = "jwt.Decode"

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(c.clock.Now),
		jwt.WithExpirationRequired(),
	}
	if c.issuer != "" {
		opts = append(opts, jwt.WithIssuer(c.issuer))
	}

	var claims tokenClaims
	_, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return c.secret, nil
	}, opts...)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, fmt.Errorf("%s: %w: %w", op, ErrExpired, err)
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, fmt.Errorf("%s: %w: %w", op, ErrInvalidSignature, err)
		default:
			return nil, fmt.Errorf("%s: %w: %w", op, ErrMalformed, err)
		}
	}

	if !claims.Claim.Valid() || claims.ID == "" || claims.Subject == "" || claims.IssuedAt == nil {
		return nil, fmt.Errorf("%s: %w: missing required claims", op, ErrMalformed)
	}

	issuedAt, err := issuedAt(claims)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrMalformed, err)
	}

	payload, err := models.DecodePayload(claims.Claim, claims.PayloadVersion, claims.Data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrMalformed, err)
	}

	return &models.ClaimSet{
		TokenID:   claims.ID,
		Claim:     claims.Claim,
		Subject:   claims.Subject,
		IssuedAt:  issuedAt,
		ExpiresAt: claims.ExpiresAt.Time.UTC(),
		Payload:   payload,
	}, nil
}

// issuedAt prefers iat_ms and falls back to the second-precision iat
// for tokens that lack it.
func issuedAt(claims tokenClaims) (time.Time, error) {
	iat := claims.IssuedAt.Time.UTC()
	if claims.IssuedAtMs == 0 {
		return iat, nil
	}

	precise := time.UnixMilli(claims.IssuedAtMs).UTC()
	if !precise.Truncate(time.Second).Equal(iat.Truncate(time.Second)) {
		return time.Time{}, errors.New("iat_ms does not match iat")
	}
	return precise, nil
}
