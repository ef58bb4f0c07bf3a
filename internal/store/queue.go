package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/offsync/internal/model"
)

const queueColumns = `id, target_url, method, headers, body, created_at_ms, status,
	retry_count, priority, description, idempotency_key, auth_hold,
	next_attempt_at_ms, last_error`

// InsertQueueItem appends item to the queue and returns the assigned ID.
// item.ID is ignored; IDs are auto-assigned and monotonic.
func (s *Store) InsertQueueItem(ctx context.Context, item model.QueueItem) (int64, error) {
	headers, err := marshalHeaders(item.Headers)
	if err != nil {
		return 0, fmt.Errorf("insert queue item: %w", err)
	}
	if item.Status == "" {
		item.Status = model.StatusPending
	}
	if item.Priority == 0 {
		item.Priority = model.PriorityMedium
	}

	var id int64
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO queue_items
			(target_url, method, headers, body, created_at_ms, status, retry_count,
			 priority, description, idempotency_key, auth_hold, next_attempt_at_ms, last_error)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			item.TargetURL,
			item.Method,
			headers,
			item.Body,
			item.CreatedAt.UnixMilli(),
			string(item.Status),
			item.RetryCount,
			int(item.Priority),
			item.Description,
			item.IdempotencyKey,
			item.AuthHold,
			unixMilliOrZero(item.NextAttemptAt),
			item.LastError,
		)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("insert queue item: %w", err)
	}
	return id, nil
}

// ReadQueueItem returns the item with id.
// Returns ErrNotFound if it does not exist.
func (s *Store) ReadQueueItem(ctx context.Context, id int64) (model.QueueItem, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+queueColumns+` FROM queue_items WHERE id = ?`, id)
	item, err := scanQueueItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.QueueItem{}, ErrNotFound
	}
	if err != nil {
		return model.QueueItem{}, fmt.Errorf("read queue item: %w", err)
	}
	return item, nil
}

// ReadAllQueueItems returns every item in insertion order.
func (s *Store) ReadAllQueueItems(ctx context.Context) ([]model.QueueItem, error) {
	return s.queryQueueItems(ctx, `
		SELECT `+queueColumns+` FROM queue_items ORDER BY id ASC
	`)
}

// ReadPendingQueueItems returns the items eligible for replay at now, in
// replay order: priority DESC, created_at ASC, id ASC.
//
// Items on auth hold and items whose next attempt lies after now are excluded.
func (s *Store) ReadPendingQueueItems(ctx context.Context, now time.Time) ([]model.QueueItem, error) {
	return s.queryQueueItems(ctx, `
		SELECT `+queueColumns+` FROM queue_items
		WHERE status = 'pending' AND auth_hold = 0 AND next_attempt_at_ms <= ?
		ORDER BY priority DESC, created_at_ms ASC, id ASC
	`, now.UnixMilli())
}

// ReadHeldQueueItems returns pending items parked by an auth failure.
func (s *Store) ReadHeldQueueItems(ctx context.Context) ([]model.QueueItem, error) {
	return s.queryQueueItems(ctx, `
		SELECT `+queueColumns+` FROM queue_items
		WHERE status = 'pending' AND auth_hold = 1
		ORDER BY priority DESC, created_at_ms ASC, id ASC
	`)
}

// CountQueueItems returns the number of items with status.
func (s *Store) CountQueueItems(ctx context.Context, status model.Status) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM queue_items WHERE status = ?
	`, string(status)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count queue items: %w", err)
	}
	return n, nil
}

// UpdateQueueItem reads the item with id, applies fn and writes the result
// back in a single transaction. If fn returns an error nothing is written.
//
// The ID, target, method, body, creation time and idempotency key are
// immutable; changes fn makes to them are ignored.
func (s *Store) UpdateQueueItem(ctx context.Context, id int64, fn func(*model.QueueItem) error) (model.QueueItem, error) {
	var updated model.QueueItem
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT `+queueColumns+` FROM queue_items WHERE id = ?`, id)
		item, err := scanQueueItem(row)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		if err := fn(&item); err != nil {
			return err
		}

		headers, err := marshalHeaders(item.Headers)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE queue_items SET
				headers = ?, status = ?, retry_count = ?, priority = ?, description = ?,
				auth_hold = ?, next_attempt_at_ms = ?, last_error = ?
			WHERE id = ?
		`,
			headers,
			string(item.Status),
			item.RetryCount,
			int(item.Priority),
			item.Description,
			item.AuthHold,
			unixMilliOrZero(item.NextAttemptAt),
			item.LastError,
			id,
		)
		if err != nil {
			return err
		}
		updated = item
		updated.ID = id
		return nil
	})
	if err != nil {
		return model.QueueItem{}, fmt.Errorf("update queue item %d: %w", id, err)
	}
	return updated, nil
}

// DeleteQueueItem removes the item with id. Returns whether a row was removed.
func (s *Store) DeleteQueueItem(ctx context.Context, id int64) (bool, error) {
	var n int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM queue_items WHERE id = ?`, id)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return false, fmt.Errorf("delete queue item: %w", err)
	}
	return n > 0, nil
}

// DeleteQueueItemsByStatus removes every item with status.
func (s *Store) DeleteQueueItemsByStatus(ctx context.Context, status model.Status) (int, error) {
	var n int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM queue_items WHERE status = ?`, string(status))
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("delete %s queue items: %w", status, err)
	}
	return int(n), nil
}

// ReleaseAuthHolds clears the auth hold on every pending item.
func (s *Store) ReleaseAuthHolds(ctx context.Context) (int, error) {
	var n int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE queue_items SET auth_hold = 0, last_error = ''
			WHERE status = 'pending' AND auth_hold = 1
		`)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("release auth holds: %w", err)
	}
	return int(n), nil
}

func (s *Store) queryQueueItems(ctx context.Context, query string, args ...any) ([]model.QueueItem, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query queue items: %w", err)
	}
	defer rows.Close()

	items := []model.QueueItem{}
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan queue item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate queue items: %w", err)
	}
	return items, nil
}

func scanQueueItem(r rowScanner) (model.QueueItem, error) {
	var (
		item          model.QueueItem
		headers       string
		createdAt     int64
		status        string
		priority      int
		nextAttemptAt int64
	)
	err := r.Scan(
		&item.ID,
		&item.TargetURL,
		&item.Method,
		&headers,
		&item.Body,
		&createdAt,
		&status,
		&item.RetryCount,
		&priority,
		&item.Description,
		&item.IdempotencyKey,
		&item.AuthHold,
		&nextAttemptAt,
		&item.LastError,
	)
	if err != nil {
		return model.QueueItem{}, err
	}

	item.Headers, err = unmarshalHeaders(headers)
	if err != nil {
		return model.QueueItem{}, err
	}
	item.CreatedAt = time.UnixMilli(createdAt)
	item.Status = model.Status(status)
	item.Priority = model.Priority(priority)
	if nextAttemptAt > 0 {
		item.NextAttemptAt = time.UnixMilli(nextAttemptAt)
	}
	return item, nil
}

// marshalHeaders encodes headers as JSON TEXT. Map keys are sorted by
// encoding/json, so equal header sets produce equal rows.
func marshalHeaders(h map[string]string) (string, error) {
	if len(h) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(h)
	if err != nil {
		return "", fmt.Errorf("marshal headers: %w", err)
	}
	return string(data), nil
}

func unmarshalHeaders(s string) (map[string]string, error) {
	h := map[string]string{}
	if s == "" {
		return h, nil
	}
	if err := json.Unmarshal([]byte(s), &h); err != nil {
		return nil, fmt.Errorf("unmarshal headers: %w", err)
	}
	return h, nil
}

func unixMilliOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
