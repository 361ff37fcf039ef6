package password

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newTestHasher(t *testing.T) *Hasher {
	t.Helper()
	h, err := New(bcrypt.MinCost)
	require.NoError(t, err)
	return h
}

func TestHashVerify(t *testing.T) {
	h := newTestHasher(t)

	tests := []struct {
		name     string
		password string
	}{
		{"simple", "password123"},
		{"symbols", "P@ssw0rd!#$%^&*()"},
		{"unicode", "пароль🔒密码"},
		{"empty", ""},
		{"spaces", "   spaces   "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			first, err := h.Hash(tt.password)
			require.NoError(t, err)
			second, err := h.Hash(tt.password)
			require.NoError(t, err)

			assert.NotEqual(t, first, second, "salt must differ between calls")

			for _, hash := range [][]byte{first, second} {
				ok, err := h.Verify(tt.password, hash)
				require.NoError(t, err)
				assert.True(t, ok)
			}
		})
	}
}

func TestVerifyWrongPassword(t *testing.T) {
	h := newTestHasher(t)

	hash, err := h.Hash("correct horse")
	require.NoError(t, err)

	ok, err := h.Verify("battery staple", hash)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyMalformedHash(t *testing.T) {
	h := newTestHasher(t)

	ok, err := h.Verify("anything", []byte("not-a-bcrypt-hash"))
	require.ErrorIs(t, err, ErrMalformedHash)
	assert.False(t, ok)
}

func TestNewCost(t *testing.T) {
	h, err := New(0)
	require.NoError(t, err)
	assert.Equal(t, bcrypt.DefaultCost, h.cost)

	_, err = New(bcrypt.MaxCost + 1)
	require.Error(t, err)
}

func TestHashTooLong(t *testing.T) {
	h := newTestHasher(t)

	_, err := h.Hash(strings.Repeat("a", 73))
	require.ErrorIs(t, err, ErrTooLong)
}
