package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/offsync/internal/model"
)

// ReadCacheEntry returns the entry stored under key, expired or not.
// Returns ErrNotFound if no entry exists.
func (s *Store) ReadCacheEntry(ctx context.Context, key string) (model.CacheEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT key, payload, written_at_ns, ttl_ns
		FROM cache_entries
		WHERE key = ?
	`, key)

	e, err := scanCacheEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.CacheEntry{}, ErrNotFound
	}
	if err != nil {
		return model.CacheEntry{}, fmt.Errorf("read cache entry: %w", err)
	}
	return e, nil
}

// ReadAllCacheEntries returns every cache entry ordered by key.
// Returns an empty slice (not nil) when the collection is empty.
func (s *Store) ReadAllCacheEntries(ctx context.Context) ([]model.CacheEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, payload, written_at_ns, ttl_ns
		FROM cache_entries
		ORDER BY key COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query cache entries: %w", err)
	}
	defer rows.Close()

	entries := []model.CacheEntry{}
	for rows.Next() {
		e, err := scanCacheEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan cache entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cache entries: %w", err)
	}
	return entries, nil
}

// UpsertCacheEntry writes e, replacing any entry with the same key.
func (s *Store) UpsertCacheEntry(ctx context.Context, e model.CacheEntry) error {
	if e.TTL <= 0 {
		return fmt.Errorf("upsert cache entry: ttl must be positive, got %s", e.TTL)
	}
	payload := e.Payload
	if payload == nil {
		payload = []byte{}
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO cache_entries (key, payload, written_at_ns, ttl_ns)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET
				payload = excluded.payload,
				written_at_ns = excluded.written_at_ns,
				ttl_ns = excluded.ttl_ns
		`, e.Key, payload, e.WrittenAt.UnixNano(), int64(e.TTL))
		return err
	})
	if err != nil {
		return fmt.Errorf("upsert cache entry: %w", err)
	}
	return nil
}

// DeleteCacheEntry removes the entry for key. Deleting a missing key is not an error.
func (s *Store) DeleteCacheEntry(ctx context.Context, key string) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, key)
		return err
	})
	if err != nil {
		return fmt.Errorf("delete cache entry: %w", err)
	}
	return nil
}

// DeleteCacheEntryIfWrittenAt removes the entry for key only if it still
// carries writtenAt. A concurrent refresh wins over an expiry delete.
// Returns whether a row was removed.
func (s *Store) DeleteCacheEntryIfWrittenAt(ctx context.Context, key string, writtenAt time.Time) (bool, error) {
	var n int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			DELETE FROM cache_entries WHERE key = ? AND written_at_ns = ?
		`, key, writtenAt.UnixNano())
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return false, fmt.Errorf("delete cache entry: %w", err)
	}
	return n > 0, nil
}

// DeleteExpiredCacheEntries removes every entry absent at now.
func (s *Store) DeleteExpiredCacheEntries(ctx context.Context, now time.Time) (int, error) {
	var n int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			DELETE FROM cache_entries WHERE ? - written_at_ns >= ttl_ns
		`, now.UnixNano())
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("delete expired cache entries: %w", err)
	}
	return int(n), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCacheEntry(r rowScanner) (model.CacheEntry, error) {
	var (
		e         model.CacheEntry
		writtenAt int64
		ttl       int64
	)
	if err := r.Scan(&e.Key, &e.Payload, &writtenAt, &ttl); err != nil {
		return model.CacheEntry{}, err
	}
	e.WrittenAt = time.Unix(0, writtenAt)
	e.TTL = time.Duration(ttl)
	return e, nil
}
