// Package cache implements the read-through TTL cache.
//
// The cache is policy-agnostic: every entry carries the TTL it was written
// with, and expiry is evaluated against the injected clock. An expired entry
// reads as a miss and is deleted as a side effect of the read.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/offsync/internal/model"
	"github.com/roach88/offsync/internal/store"
)

// EntryStore is the durable storage the cache needs.
// Implemented by *store.Store.
type EntryStore interface {
	ReadCacheEntry(ctx context.Context, key string) (model.CacheEntry, error)
	UpsertCacheEntry(ctx context.Context, e model.CacheEntry) error
	DeleteCacheEntry(ctx context.Context, key string) error
	DeleteCacheEntryIfWrittenAt(ctx context.Context, key string, writtenAt time.Time) (bool, error)
	DeleteExpiredCacheEntries(ctx context.Context, now time.Time) (int, error)
	Clear(ctx context.Context, collection string) (int, error)
}

// Cache is a TTL cache over an EntryStore.
//
// Thread-safety: safe for concurrent use. Linearization per key comes from
// the store's transactions; Cache holds no in-memory copies.
type Cache struct {
	store  EntryStore
	clock  model.Clock
	logger *slog.Logger
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock sets the clock used for write stamps and expiry.
func WithClock(c model.Clock) Option {
	return func(ca *Cache) {
		ca.clock = c
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(ca *Cache) {
		ca.logger = l
	}
}

// New creates a Cache backed by st.
func New(st EntryStore, opts ...Option) *Cache {
	c := &Cache{
		store:  st,
		clock:  model.SystemClock{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the payload for key if a fresh entry exists.
//
// An entry with now - writtenAt >= ttl is removed and reported as a miss.
// The removal only applies to the exact entry that was read, so a refresh
// racing with the read is never lost. Storage errors are returned.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	e, err := c.store.ReadCacheEntry(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache get %q: %w", key, err)
	}

	if e.Fresh(c.clock.Now()) {
		return e.Payload, true, nil
	}

	removed, err := c.store.DeleteCacheEntryIfWrittenAt(ctx, key, e.WrittenAt)
	if err != nil {
		return nil, false, fmt.Errorf("cache expire %q: %w", key, err)
	}
	c.logger.Debug("cache entry expired",
		"key", key,
		"written_at", e.WrittenAt,
		"ttl", e.TTL,
		"removed", removed,
	)
	return nil, false, nil
}

// Set stores payload under key with ttl, replacing any existing entry.
func (c *Cache) Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("cache set %q: ttl must be positive, got %s", key, ttl)
	}
	err := c.store.UpsertCacheEntry(ctx, model.CacheEntry{
		Key:       key,
		Payload:   payload,
		WrittenAt: c.clock.Now(),
		TTL:       ttl,
	})
	if err != nil {
		return fmt.Errorf("cache set %q: %w", key, err)
	}
	return nil
}

// Entry returns the raw stored entry, even if expired.
// Returns store.ErrNotFound if none exists.
func (c *Cache) Entry(ctx context.Context, key string) (model.CacheEntry, error) {
	return c.store.ReadCacheEntry(ctx, key)
}

// Invalidate removes key. Missing keys are not an error.
func (c *Cache) Invalidate(ctx context.Context, key string) error {
	if err := c.store.DeleteCacheEntry(ctx, key); err != nil {
		return fmt.Errorf("cache invalidate %q: %w", key, err)
	}
	return nil
}

// Clear removes every entry and returns how many were removed.
func (c *Cache) Clear(ctx context.Context) (int, error) {
	n, err := c.store.Clear(ctx, store.CollectionCache)
	if err != nil {
		return 0, fmt.Errorf("cache clear: %w", err)
	}
	return n, nil
}

// Sweep physically deletes every expired entry.
func (c *Cache) Sweep(ctx context.Context) (int, error) {
	n, err := c.store.DeleteExpiredCacheEntries(ctx, c.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("cache sweep: %w", err)
	}
	if n > 0 {
		c.logger.Info("cache swept", "removed", n)
	}
	return n, nil
}
