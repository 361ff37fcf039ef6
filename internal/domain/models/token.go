package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Claim binds a token to the single operation it may be used for.
type Claim string

const (
	ClaimAccess        Claim = "ACCESS_TOKEN"
	ClaimRefresh       Claim = "REFRESH_TOKEN"
	ClaimResetPassword Claim = "RESET_PASSWORD_TOKEN"
	ClaimVerifyEmail   Claim = "VERIFY_EMAIL_TOKEN"
)

// Claims lists every known claim.
var Claims = []Claim{ClaimAccess, ClaimRefresh, ClaimResetPassword, ClaimVerifyEmail}

func (c Claim) Valid() bool {
	switch c {
	case ClaimAccess, ClaimRefresh, ClaimResetPassword, ClaimVerifyEmail:
		return true
	}
	return false
}

// PayloadVersion is the schema version written into every token.
const PayloadVersion = 1

var (
	ErrUnknownPayloadVersion = errors.New("unknown payload version")
	ErrUnexpectedPayload     = errors.New("unexpected payload for claim")
)

// Payload is claim-specific data embedded in a signed token. Each
// implementation belongs to exactly one claim.
type Payload interface {
	Claim() Claim
}

type ResetPasswordPayload struct {
	Username string `json:"username"`
}

func (*ResetPasswordPayload) Claim() Claim { return ClaimResetPassword }

type VerifyEmailPayload struct {
	Username string `json:"username"`
	Email    string `json:"email"`
}

func (*VerifyEmailPayload) Claim() Claim { return ClaimVerifyEmail }

// DecodePayload turns the raw token data into the concrete type owned
// by claim. Refresh tokens carry no payload.
func DecodePayload(claim Claim, version int, raw json.RawMessage) (Payload, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	if version != PayloadVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnknownPayloadVersion, version)
	}

	var p Payload
	switch claim {
	case ClaimAccess:
		p = &Identity{}
	case ClaimResetPassword:
		p = &ResetPasswordPayload{}
	case ClaimVerifyEmail:
		p = &VerifyEmailPayload{}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnexpectedPayload, claim)
	}

	if err := json.Unmarshal(raw, p); err != nil {
		return nil, err
	}
	return p, nil
}

// ClaimSet is everything a verified token says about itself.
type ClaimSet struct {
	TokenID   string
	Claim     Claim
	Subject   string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Payload   Payload
}

// RevocationRecord is stored in the revocation cache under the token
// id (or a subject watermark key) until the token would have expired.
type RevocationRecord struct {
	Claim     Claim     `json:"claim,omitempty" bson:"claim,omitempty"`
	Subject   string    `json:"subject" bson:"subject"`
	ExpiresAt time.Time `json:"expires_at" bson:"expires_at"`
	RevokedAt time.Time `json:"revoked_at" bson:"revoked_at"`
	Reason    string    `json:"revoke_reason" bson:"revoke_reason"`
}

// Revocation reasons.
const (
	RevokeLogout         = "REVOKE_LOGOUT"
	RevokeRotated        = "REVOKE_ROTATED"
	RevokePasswordReset  = "REVOKE_PASSWORD_RESET"
	RevokePasswordChange = "REVOKE_PASSWORD_CHANGE"
	RevokeEmailVerified  = "REVOKE_EMAIL_VERIFIED"
)

// TokenPair is returned by login and refresh.
type TokenPair struct {
	TokenType        string
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}
