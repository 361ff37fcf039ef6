package mongodb

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"tokenauth/internal/domain/models"
	"tokenauth/internal/storage"
)

// newTestStorage connects to MONGO_TEST_URI; tests are skipped without it.
func newTestStorage(t *testing.T) (context.Context, *Storage) {
	t.Helper()

	uri := os.Getenv("MONGO_TEST_URI")
	if uri == "" {
		t.Skip("MONGO_TEST_URI not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)

	db := "tokenauth_test_" + gofakeit.LetterN(8)
	s, err := New(ctx, uri, db)
	require.NoError(t, err)

	t.Cleanup(func() {
		cleanupCtx, cleanupCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cleanupCancel()
		_ = s.database.Drop(cleanupCtx)
		_ = s.Close(cleanupCtx)
		cancel()
	})

	return ctx, s
}

func fakeUser() models.User {
	return models.User{
		Username:  gofakeit.Username() + gofakeit.LetterN(4),
		Email:     gofakeit.Email(),
		FirstName: gofakeit.FirstName(),
		LastName:  gofakeit.LastName(),
		PassHash:  []byte("$2a$04$hash"),
	}
}

func TestUsers(t *testing.T) {
	ctx, s := newTestStorage(t)

	u := fakeUser()
	id, err := s.SaveUser(ctx, u)
	require.NoError(t, err)
	assert.Positive(t, id)

	_, err = s.SaveUser(ctx, u)
	require.ErrorIs(t, err, storage.ErrUserAlreadyExists)

	byName, err := s.User(ctx, u.Username)
	require.NoError(t, err)
	assert.Equal(t, id, byName.ID)

	byEmail, err := s.User(ctx, u.Email)
	require.NoError(t, err)
	assert.Equal(t, id, byEmail.ID)

	_, err = s.User(ctx, "nobody-"+gofakeit.LetterN(10))
	require.ErrorIs(t, err, storage.ErrUserNotFound)

	now := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, s.StampLastLogin(ctx, u.Username, now))
	require.NoError(t, s.UpdatePassword(ctx, u.Username, []byte("new-hash")))
	require.NoError(t, s.MarkEmailVerified(ctx, u.Username, u.Email))

	got, err := s.User(ctx, u.Username)
	require.NoError(t, err)
	require.NotNil(t, got.LastLogin)
	assert.True(t, now.Equal(*got.LastLogin))
	assert.Equal(t, []byte("new-hash"), got.PassHash)
	assert.Equal(t, u.Email, got.VerifiedEmail)

	require.ErrorIs(t, s.UpdatePassword(ctx, "nobody", nil), storage.ErrUserNotFound)
}

func TestRevocations(t *testing.T) {
	ctx, s := newTestStorage(t)

	now := time.Now().UTC().Truncate(time.Millisecond)
	rec := models.RevocationRecord{
		Claim:     models.ClaimAccess,
		Subject:   "alice",
		ExpiresAt: now.Add(time.Hour),
		RevokedAt: now,
		Reason:    models.RevokeLogout,
	}

	_, err := s.Get(ctx, "k")
	require.ErrorIs(t, err, storage.ErrRecordNotFound)

	require.NoError(t, s.Put(ctx, "k", rec, time.Hour))
	require.ErrorIs(t, s.Put(ctx, "k", rec, time.Hour), storage.ErrRecordExists)

	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, rec.Subject, got.Subject)
	assert.Equal(t, rec.Claim, got.Claim)
	assert.True(t, rec.ExpiresAt.Equal(got.ExpiresAt))

	// Entries past their TTL are invisible even before the TTL monitor runs.
	s.now = func() time.Time { return now.Add(2 * time.Hour) }
	_, err = s.Get(ctx, "k")
	require.ErrorIs(t, err, storage.ErrRecordNotFound)
	require.NoError(t, s.Put(ctx, "k", rec, time.Hour))
	s.now = time.Now

	rec.Reason = models.RevokePasswordChange
	require.NoError(t, s.Set(ctx, "w", rec, time.Hour))
	require.NoError(t, s.Set(ctx, "w", rec, time.Hour))

	require.NoError(t, s.Delete(ctx, "w"))
	_, err = s.Get(ctx, "w")
	require.ErrorIs(t, err, storage.ErrRecordNotFound)
}

// The stale and live filters must split an entry's lifetime exactly at
// its TTL: Put may replace only what Get no longer returns.
func TestRevocationFiltersSplitAtExpiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	live := liveEntry("REVOKED_TOKEN-abc", now)
	stale := staleEntry("REVOKED_TOKEN-abc", now)

	for _, filter := range []bson.D{live, stale} {
		require.Len(t, filter, 2)
		assert.Equal(t, bson.E{Key: "key", Value: "REVOKED_TOKEN-abc"}, filter[0])
		assert.Equal(t, "ttl_expires_at", filter[1].Key)
	}

	assert.Equal(t, bson.D{{Key: "$gt", Value: now}}, live[1].Value)
	assert.Equal(t, bson.D{{Key: "$lte", Value: now}}, stale[1].Value)
}

func TestIsDuplicateKeyError(t *testing.T) {
	dup := mongo.WriteException{WriteErrors: []mongo.WriteError{{Code: 11000}}}
	other := mongo.WriteException{WriteErrors: []mongo.WriteError{{Code: 121}}}

	assert.True(t, isDuplicateKeyError(dup))
	assert.True(t, isDuplicateKeyError(fmt.Errorf("insert: %w", dup)))
	assert.False(t, isDuplicateKeyError(other))
	assert.False(t, isDuplicateKeyError(errors.New("boom")))
}
