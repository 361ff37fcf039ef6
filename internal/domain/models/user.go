package models

import "time"

// User is the credential record owned by user storage.
type User struct {
	ID            int64
	Username      string
	Email         string
	FirstName     string
	LastName      string
	PassHash      []byte
	Disabled      bool
	VerifiedEmail string
	LastLogin     *time.Time
	CreatedAt     time.Time
}

// NewUser carries the registration input.
type NewUser struct {
	Username  string
	Email     string
	FirstName string
	LastName  string
	Password  string
}

// Identity is the user snapshot embedded in access tokens and returned
// by Authorize. It never contains the password hash.
type Identity struct {
	UserID        int64  `json:"user_id"`
	Username      string `json:"username"`
	Email         string `json:"email"`
	FirstName     string `json:"first_name,omitempty"`
	LastName      string `json:"last_name,omitempty"`
	VerifiedEmail string `json:"verified_email,omitempty"`
}

func (*Identity) Claim() Claim { return ClaimAccess }

// IdentityOf builds the access-token payload for u.
func IdentityOf(u *User) *Identity {
	return &Identity{
		UserID:        u.ID,
		Username:      u.Username,
		Email:         u.Email,
		FirstName:     u.FirstName,
		LastName:      u.LastName,
		VerifiedEmail: u.VerifiedEmail,
	}
}
