// Package memory is an in-process revocation cache for single-instance
// deployments and tests. Entries disappear when their TTL elapses.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tokenauth/internal/domain/models"
	"tokenauth/internal/lib/clock"
	"tokenauth/internal/storage"
)

type entry struct {
	record    models.RevocationRecord
	expiresAt time.Time
}

// Cache is a thread-safe map of revocation records. Expired entries are
// invisible to Get immediately and are removed by Cleanup.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry
	clock   clock.Clock
}

func New(clk clock.Clock) *Cache {
	if clk == nil {
		clk = clock.Real()
	}
	return &Cache{
		entries: make(map[string]entry),
		clock:   clk,
	}
}

// Put stores record under key unless a live entry already exists.
func (c *Cache) Put(_ context.Context, key string, record models.RevocationRecord, ttl time.Duration) error {
	const op = "storage.memory.Put"

	if ttl <= 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrInvalidTTL)
	}

	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok && now.Before(e.expiresAt) {
		return fmt.Errorf("%s: %w", op, storage.ErrRecordExists)
	}
	c.entries[key] = entry{record: record, expiresAt: now.Add(ttl)}
	return nil
}

// Set stores record under key, replacing any existing entry.
func (c *Cache) Set(_ context.Context, key string, record models.RevocationRecord, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("storage.memory.Set: %w", storage.ErrInvalidTTL)
	}

	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{record: record, expiresAt: now.Add(ttl)}
	return nil
}

func (c *Cache) Get(_ context.Context, key string) (*models.RevocationRecord, error) {
	now := c.clock.Now()

	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || !now.Before(e.expiresAt) {
		return nil, fmt.Errorf("storage.memory.Get: %w", storage.ErrRecordNotFound)
	}
	record := e.record
	return &record, nil
}

func (c *Cache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

func (c *Cache) Ping(context.Context) error { return nil }

// Cleanup removes entries whose TTL has elapsed and returns how many
// were dropped.
func (c *Cache) Cleanup() int {
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Run calls Cleanup every interval until ctx is done.
func (c *Cache) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Cleanup()
		}
	}
}
