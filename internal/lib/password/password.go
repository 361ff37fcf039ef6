// Package password hashes and verifies user passwords with bcrypt.
package password

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// ErrMalformedHash means the stored hash is not a bcrypt hash. It is a
// data/configuration problem, never an answer about the credential.
var ErrMalformedHash = errors.New("malformed password hash")

// MaxLength is the bcrypt input limit in bytes.
const MaxLength = 72

var ErrTooLong = errors.New("password too long")

type Hasher struct {
	cost int
}

// New returns a Hasher using cost; zero selects bcrypt.DefaultCost.
func New(cost int) (*Hasher, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("password.New: cost %d out of range [%d, %d]", cost, bcrypt.MinCost, bcrypt.MaxCost)
	}
	return &Hasher{cost: cost}, nil
}

// Hash returns a salted bcrypt hash. Two calls with the same password
// return different hashes that both verify.
func (h *Hasher) Hash(password string) ([]byte, error) {
	const op = "password.Hash"

	if len(password) > MaxLength {
		return nil, fmt.Errorf("%s: %w", op, ErrTooLong)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return hash, nil
}

// Verify reports whether password matches hash.
func (h *Hasher) Verify(password string, hash []byte) (bool, error) {
	err := bcrypt.CompareHashAndPassword(hash, []byte(password))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, fmt.Errorf("password.Verify: %w: %w", ErrMalformedHash, err)
	}
}
