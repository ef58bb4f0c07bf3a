package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Meta keys shared between the foreground app and detached contexts.
const (
	MetaLastSyncTime = "last_sync_time"
)

// GetMeta returns the value stored under key.
// Returns ErrNotFound if the key is absent.
func (s *Store) GetMeta(ctx context.Context, key string) (string, error) {
	if err := s.checkCollection(CollectionMeta); err != nil {
		return "", err
	}
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get meta %q: %w", key, err)
	}
	return value, nil
}

// SetMeta upserts key.
func (s *Store) SetMeta(ctx context.Context, key, value string, now time.Time) error {
	if err := s.checkCollection(CollectionMeta); err != nil {
		return err
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO meta (key, value, updated_at_ms) VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET
				value = excluded.value,
				updated_at_ms = excluded.updated_at_ms
		`, key, value, now.UnixMilli())
		return err
	})
	if err != nil {
		return fmt.Errorf("set meta %q: %w", key, err)
	}
	return nil
}

// GetTime reads a meta value written by SetTime.
// Returns the zero time and no error if the key is absent.
func (s *Store) GetTime(ctx context.Context, key string) (time.Time, error) {
	v, err := s.GetMeta(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse meta %q: %w", key, err)
	}
	return t, nil
}

// SetTime stores t under key in RFC 3339 form.
func (s *Store) SetTime(ctx context.Context, key string, t time.Time) error {
	return s.SetMeta(ctx, key, t.UTC().Format(time.RFC3339Nano), t)
}

// AcquireLease takes the named lease for owner until now+ttl.
//
// The lease is granted when it is free, expired, or already held by owner
// (renewal). Returns false without error when another owner holds it.
func (s *Store) AcquireLease(ctx context.Context, name, owner string, ttl time.Duration, now time.Time) (bool, error) {
	if err := s.checkCollection(CollectionLeases); err != nil {
		return false, err
	}

	acquired := false
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var (
			holder    string
			expiresAt int64
		)
		err := tx.QueryRowContext(ctx, `
			SELECT owner, expires_at_ms FROM leases WHERE name = ?
		`, name).Scan(&holder, &expiresAt)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return err
		case holder != owner && expiresAt > now.UnixMilli():
			return nil
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO leases (name, owner, expires_at_ms) VALUES (?, ?, ?)
			ON CONFLICT(name) DO UPDATE SET
				owner = excluded.owner,
				expires_at_ms = excluded.expires_at_ms
		`, name, owner, now.Add(ttl).UnixMilli())
		if err != nil {
			return err
		}
		acquired = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("acquire lease %q: %w", name, err)
	}
	return acquired, nil
}

// ReleaseLease frees the named lease if owner holds it.
func (s *Store) ReleaseLease(ctx context.Context, name, owner string) error {
	if err := s.checkCollection(CollectionLeases); err != nil {
		return err
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM leases WHERE name = ? AND owner = ?`, name, owner)
		return err
	})
	if err != nil {
		return fmt.Errorf("release lease %q: %w", name, err)
	}
	return nil
}
