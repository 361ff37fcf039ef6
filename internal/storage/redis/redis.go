package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"tokenauth/internal/domain/models"
	"tokenauth/internal/storage"
)

// Cache keeps revocation records in Redis, one JSON string per key with
// a native expiry.
type Cache struct {
	client *redis.Client
}

// New connects to the Redis instance described by url
// (redis://[:password@]host:port/db) and pings it.
func New(ctx context.Context, url string) (*Cache, error) {
	const op = "storage.redis.New"

	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("%s: parse url: %w", op, err)
	}

	c := &Cache{client: redis.NewClient(opts)}
	if err := c.Ping(ctx); err != nil {
		_ = c.client.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return c, nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *redis.Client) *Cache {
	return &Cache{client: client}
}

func (c *Cache) Close() error {
	return c.client.Close()
}

func (c *Cache) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("storage.redis.Ping: %w", err)
	}
	return nil
}

// Put stores record under key with SET NX EX.
func (c *Cache) Put(ctx context.Context, key string, record models.RevocationRecord, ttl time.Duration) error {
	const op = "storage.redis.Put"

	if ttl <= 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrInvalidTTL)
	}

	b, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	ok, err := c.client.SetNX(ctx, key, b, ttl).Result()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if !ok {
		return fmt.Errorf("%s: %w", op, storage.ErrRecordExists)
	}

	return nil
}

// Set stores record under key, replacing any existing value.
func (c *Cache) Set(ctx context.Context, key string, record models.RevocationRecord, ttl time.Duration) error {
	const op = "storage.redis.Set"

	if ttl <= 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrInvalidTTL)
	}

	b, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := c.client.Set(ctx, key, b, ttl).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (c *Cache) Get(ctx context.Context, key string) (*models.RevocationRecord, error) {
	const op = "storage.redis.Get"

	b, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrRecordNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var record models.RevocationRecord
	if err := json.Unmarshal(b, &record); err != nil {
		return nil, fmt.Errorf("%s: decode: %w", op, err)
	}

	return &record, nil
}

func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("storage.redis.Delete: %w", err)
	}
	return nil
}
