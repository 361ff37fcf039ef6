package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"tokenauth/internal/domain/models"
	"tokenauth/internal/storage"
)

type Storage struct {
	client   *mongo.Client
	database *mongo.Database
	users    *mongo.Collection
	counters *mongo.Collection
	revoked  *mongo.Collection
	now      func() time.Time
}

type userDoc struct {
	ID            int64      `bson:"_id"`
	Username      string     `bson:"username"`
	Email         string     `bson:"email"`
	FirstName     string     `bson:"first_name,omitempty"`
	LastName      string     `bson:"last_name,omitempty"`
	PassHash      []byte     `bson:"pass_hash"`
	Disabled      bool       `bson:"disabled"`
	VerifiedEmail string     `bson:"verified_email,omitempty"`
	LastLogin     *time.Time `bson:"last_login,omitempty"`
	CreatedAt     time.Time  `bson:"created_at"`
	UpdatedAt     *time.Time `bson:"updated_at,omitempty"`
}

type counterDoc struct {
	ID    string `bson:"_id"`
	Value int64  `bson:"value"`
}

// revokedDoc is one revocation cache entry. TTLExpiresAt drives the TTL
// index; the record's own ExpiresAt is the token expiry.
type revokedDoc struct {
	Key                     string `bson:"key"`
	models.RevocationRecord `bson:",inline"`
	TTLExpiresAt            time.Time `bson:"ttl_expires_at"`
}

// New creates a new MongoDB storage instance and sets up indexes.
func New(ctx context.Context, uri, database string) (*Storage, error) {
	const op = "storage.mongodb.New"

	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("%s: connect: %w", op, err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("%s: ping: %w", op, err)
	}

	db := client.Database(database)
	s := &Storage{
		client:   client,
		database: db,
		users:    db.Collection("users"),
		counters: db.Collection("counters"),
		revoked:  db.Collection("revoked_tokens"),
		now:      time.Now,
	}

	if err := s.ensureIndexes(ctx); err != nil {
		return nil, fmt.Errorf("%s: indexes: %w", op, err)
	}

	return s, nil
}

func (s *Storage) ensureIndexes(ctx context.Context) error {
	_, err := s.users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "username", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("users.username index: %w", err)
	}

	_, err = s.users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("users.email index: %w", err)
	}

	_, err = s.revoked.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "key", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("revoked_tokens.key index: %w", err)
	}

	// The TTL monitor runs about once a minute, so reads also filter on
	// ttl_expires_at.
	_, err = s.revoked.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "ttl_expires_at", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(0),
	})
	if err != nil {
		return fmt.Errorf("revoked_tokens.ttl_expires_at TTL index: %w", err)
	}

	return nil
}

// Close disconnects from MongoDB.
func (s *Storage) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *Storage) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx, nil); err != nil {
		return fmt.Errorf("storage.mongodb.Ping: %w", err)
	}
	return nil
}

// nextID atomically increments and returns the next ID for a given collection.
func (s *Storage) nextID(ctx context.Context, collectionName string) (int64, error) {
	filter := bson.D{{Key: "_id", Value: collectionName}}
	update := bson.D{{Key: "$inc", Value: bson.D{{Key: "value", Value: int64(1)}}}}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var counter counterDoc
	err := s.counters.FindOneAndUpdate(ctx, filter, update, opts).Decode(&counter)
	if err != nil {
		return 0, err
	}
	return counter.Value, nil
}

// SaveUser saves a new user and returns the generated user ID.
func (s *Storage) SaveUser(ctx context.Context, user models.User) (int64, error) {
	const op = "storage.mongodb.SaveUser"

	id, err := s.nextID(ctx, "users")
	if err != nil {
		return 0, fmt.Errorf("%s: nextID: %w", op, err)
	}

	doc := userDoc{
		ID:        id,
		Username:  user.Username,
		Email:     user.Email,
		FirstName: user.FirstName,
		LastName:  user.LastName,
		PassHash:  user.PassHash,
		Disabled:  user.Disabled,
		CreatedAt: s.now(),
	}

	_, err = s.users.InsertOne(ctx, doc)
	if err != nil {
		if isDuplicateKeyError(err) {
			return 0, fmt.Errorf("%s: %w", op, storage.ErrUserAlreadyExists)
		}
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return id, nil
}

// User retrieves a user by username or email.
func (s *Storage) User(ctx context.Context, login string) (*models.User, error) {
	const op = "storage.mongodb.User"

	filter := bson.D{{Key: "$or", Value: bson.A{
		bson.D{{Key: "username", Value: login}},
		bson.D{{Key: "email", Value: login}},
	}}}

	var doc userDoc
	err := s.users.FindOne(ctx, filter).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &models.User{
		ID:            doc.ID,
		Username:      doc.Username,
		Email:         doc.Email,
		FirstName:     doc.FirstName,
		LastName:      doc.LastName,
		PassHash:      doc.PassHash,
		Disabled:      doc.Disabled,
		VerifiedEmail: doc.VerifiedEmail,
		LastLogin:     doc.LastLogin,
		CreatedAt:     doc.CreatedAt,
	}, nil
}

// UpdatePassword replaces the stored password hash.
func (s *Storage) UpdatePassword(ctx context.Context, username string, passHash []byte) error {
	return s.updateUser(ctx, "storage.mongodb.UpdatePassword", username, bson.D{
		{Key: "pass_hash", Value: passHash},
	})
}

func (s *Storage) StampLastLogin(ctx context.Context, username string, at time.Time) error {
	return s.updateUser(ctx, "storage.mongodb.StampLastLogin", username, bson.D{
		{Key: "last_login", Value: at},
	})
}

func (s *Storage) MarkEmailVerified(ctx context.Context, username, email string) error {
	return s.updateUser(ctx, "storage.mongodb.MarkEmailVerified", username, bson.D{
		{Key: "verified_email", Value: email},
	})
}

func (s *Storage) updateUser(ctx context.Context, op, username string, set bson.D) error {
	set = append(set, bson.E{Key: "updated_at", Value: s.now()})

	res, err := s.users.UpdateOne(ctx,
		bson.D{{Key: "username", Value: username}},
		bson.D{{Key: "$set", Value: set}},
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
	}

	return nil
}

// Put inserts a revocation entry unless a live one exists for key. A
// stale entry the TTL monitor has not collected yet is replaced.
func (s *Storage) Put(ctx context.Context, key string, record models.RevocationRecord, ttl time.Duration) error {
	const op = "storage.mongodb.Put"

	if ttl <= 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrInvalidTTL)
	}

	now := s.now()
	doc := revokedDoc{Key: key, RevocationRecord: record, TTLExpiresAt: now.Add(ttl)}

	_, err := s.revoked.InsertOne(ctx, doc)
	if err == nil {
		return nil
	}
	if !isDuplicateKeyError(err) {
		return fmt.Errorf("%s: %w", op, err)
	}

	res, err := s.revoked.ReplaceOne(ctx, staleEntry(key, now), doc)
	if err != nil {
		return fmt.Errorf("%s: replace stale: %w", op, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrRecordExists)
	}

	return nil
}

// Set upserts a revocation entry.
func (s *Storage) Set(ctx context.Context, key string, record models.RevocationRecord, ttl time.Duration) error {
	const op = "storage.mongodb.Set"

	if ttl <= 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrInvalidTTL)
	}

	doc := revokedDoc{Key: key, RevocationRecord: record, TTLExpiresAt: s.now().Add(ttl)}

	_, err := s.revoked.ReplaceOne(ctx,
		bson.D{{Key: "key", Value: key}},
		doc,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (s *Storage) Get(ctx context.Context, key string) (*models.RevocationRecord, error) {
	const op = "storage.mongodb.Get"

	var doc revokedDoc
	err := s.revoked.FindOne(ctx, liveEntry(key, s.now())).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrRecordNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &doc.RevocationRecord, nil
}

func (s *Storage) Delete(ctx context.Context, key string) error {
	if _, err := s.revoked.DeleteOne(ctx, bson.D{{Key: "key", Value: key}}); err != nil {
		return fmt.Errorf("storage.mongodb.Delete: %w", err)
	}
	return nil
}

// liveEntry matches the entry for key while it is still in force. The
// TTL monitor runs about once a minute, so expiry is checked here too.
func liveEntry(key string, now time.Time) bson.D {
	return bson.D{
		{Key: "key", Value: key},
		{Key: "ttl_expires_at", Value: bson.D{{Key: "$gt", Value: now}}},
	}
}

// staleEntry matches an expired entry for key not yet collected.
func staleEntry(key string, now time.Time) bson.D {
	return bson.D{
		{Key: "key", Value: key},
		{Key: "ttl_expires_at", Value: bson.D{{Key: "$lte", Value: now}}},
	}
}

// isDuplicateKeyError checks if the error is a MongoDB duplicate key error (code 11000).
func isDuplicateKeyError(err error) bool {
	var we mongo.WriteException
	if errors.As(err, &we) {
		for _, e := range we.WriteErrors {
			if e.Code == 11000 {
				return true
			}
		}
	}
	return false
}
