// Package queue implements the durable offline mutation queue.
//
// Items are write requests (POST, PUT, PATCH, DELETE) that could not reach
// the network. They are stored in the Durable Store and replayed by the
// sync engine in priority then age order.
//
// Enqueue never consults network state: queueing while offline is the
// reason the queue exists.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/offsync/internal/model"
	"github.com/roach88/offsync/internal/store"
)

var (
	// ErrReadMethod is returned when a GET or HEAD request is enqueued.
	ErrReadMethod = errors.New("read requests cannot be queued")

	// ErrInvalidTransition is returned for a status change that is not
	// pending → completed or pending → failed.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrRetryCountDecrease is returned when a retry count would go down.
	ErrRetryCountDecrease = errors.New("retry count cannot decrease")
)

// Item is a queued write request.
type Item = model.QueueItem

// ItemStore is the durable storage the queue needs.
// Implemented by *store.Store.
type ItemStore interface {
	InsertQueueItem(ctx context.Context, item model.QueueItem) (int64, error)
	ReadQueueItem(ctx context.Context, id int64) (model.QueueItem, error)
	ReadAllQueueItems(ctx context.Context) ([]model.QueueItem, error)
	ReadPendingQueueItems(ctx context.Context, now time.Time) ([]model.QueueItem, error)
	ReadHeldQueueItems(ctx context.Context) ([]model.QueueItem, error)
	CountQueueItems(ctx context.Context, status model.Status) (int, error)
	UpdateQueueItem(ctx context.Context, id int64, fn func(*model.QueueItem) error) (model.QueueItem, error)
	DeleteQueueItem(ctx context.Context, id int64) (bool, error)
	DeleteQueueItemsByStatus(ctx context.Context, status model.Status) (int, error)
	ReleaseAuthHolds(ctx context.Context) (int, error)
	Clear(ctx context.Context, collection string) (int, error)
}

// KeyGenerator generates idempotency keys for new items.
// Implemented by UUIDv7Generator (production) and
// testutil.SequentialKeyGenerator (tests).
type KeyGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 idempotency keys.
//
// Thread-safety: stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 as a hyphenated string.
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Request describes a write to enqueue.
type Request struct {
	TargetURL   string
	Method      string
	Headers     map[string]string
	Body        []byte
	Priority    model.Priority
	Description string
}

// Queue is the offline mutation queue.
//
// Thread-safety: safe for concurrent use. Queue holds no state beyond the
// store; every call re-reads.
type Queue struct {
	store  ItemStore
	clock  model.Clock
	keys   KeyGenerator
	logger *slog.Logger
}

// Option configures a Queue.
type Option func(*Queue)

// WithClock sets the clock used to stamp CreatedAt and evaluate backoff.
func WithClock(c model.Clock) Option {
	return func(q *Queue) {
		q.clock = c
	}
}

// WithKeyGenerator sets the idempotency key generator.
// A nil generator disables key assignment.
func WithKeyGenerator(g KeyGenerator) Option {
	return func(q *Queue) {
		q.keys = g
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) {
		q.logger = l
	}
}

// New creates a Queue backed by st.
func New(st ItemStore, opts ...Option) *Queue {
	q := &Queue{
		store:  st,
		clock:  model.SystemClock{},
		keys:   UUIDv7Generator{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Now returns the queue's current time.
func (q *Queue) Now() time.Time {
	return q.clock.Now()
}

// Enqueue durably appends a write request and returns the stored item.
//
// Returns ErrReadMethod for GET and HEAD. An unset priority means medium.
// Headers are stored as given; the credential they carry is refreshed at
// replay time.
func (q *Queue) Enqueue(ctx context.Context, req Request) (Item, error) {
	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if model.IsReadMethod(method) {
		return Item{}, fmt.Errorf("enqueue %s %s: %w", req.Method, req.TargetURL, ErrReadMethod)
	}
	if !model.IsMutatingMethod(method) {
		return Item{}, fmt.Errorf("enqueue: unsupported method %q", req.Method)
	}
	if req.TargetURL == "" {
		return Item{}, fmt.Errorf("enqueue: target URL is required")
	}

	priority := req.Priority
	if priority == 0 {
		priority = model.PriorityMedium
	}
	if !priority.Valid() {
		return Item{}, fmt.Errorf("enqueue: invalid priority %d", int(priority))
	}

	item := Item{
		TargetURL:   req.TargetURL,
		Method:      method,
		Headers:     copyHeaders(req.Headers),
		Body:        req.Body,
		CreatedAt:   q.clock.Now(),
		Status:      model.StatusPending,
		Priority:    priority,
		Description: req.Description,
	}
	if q.keys != nil {
		item.IdempotencyKey = q.keys.Generate()
	}

	id, err := q.store.InsertQueueItem(ctx, item)
	if err != nil {
		return Item{}, fmt.Errorf("enqueue: %w", err)
	}
	item.ID = id

	q.logger.Info("request queued",
		"id", id,
		"method", method,
		"target", req.TargetURL,
		"priority", priority.String(),
	)
	return item, nil
}

// ListPending returns the items eligible for replay now, highest priority
// first and oldest first within a priority. Held items and items backing
// off are excluded.
func (q *Queue) ListPending(ctx context.Context) ([]Item, error) {
	items, err := q.store.ReadPendingQueueItems(ctx, q.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	return items, nil
}

// ListAll returns every item in insertion order.
func (q *Queue) ListAll(ctx context.Context) ([]Item, error) {
	items, err := q.store.ReadAllQueueItems(ctx)
	if err != nil {
		return nil, fmt.Errorf("list all: %w", err)
	}
	return items, nil
}

// ListHeld returns the pending items parked until re-authentication, in
// replay order.
func (q *Queue) ListHeld(ctx context.Context) ([]Item, error) {
	items, err := q.store.ReadHeldQueueItems(ctx)
	if err != nil {
		return nil, fmt.Errorf("list held: %w", err)
	}
	return items, nil
}

// Snapshot is the queue contents as reported to the control channel.
type Snapshot struct {
	QueueLength int    `json:"queueLength"`
	Items       []Item `json:"items"`
}

// Snapshot returns every stored item with its count.
func (q *Queue) Snapshot(ctx context.Context) (Snapshot, error) {
	items, err := q.ListAll(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	if items == nil {
		items = []Item{}
	}
	return Snapshot{QueueLength: len(items), Items: items}, nil
}

// Get returns the item with id, or store.ErrNotFound.
func (q *Queue) Get(ctx context.Context, id int64) (Item, error) {
	return q.store.ReadQueueItem(ctx, id)
}

// PendingCount counts every pending item, held or backing off included.
func (q *Queue) PendingCount(ctx context.Context) (int, error) {
	n, err := q.store.CountQueueItems(ctx, model.StatusPending)
	if err != nil {
		return 0, fmt.Errorf("pending count: %w", err)
	}
	return n, nil
}

// MarkStatus moves item id to status with retryCount.
//
// Terminal items never change status, and the retry count never
// decreases.
func (q *Queue) MarkStatus(ctx context.Context, id int64, status model.Status, retryCount int) (Item, error) {
	return q.store.UpdateQueueItem(ctx, id, func(it *model.QueueItem) error {
		if !it.Status.CanTransition(status) {
			return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, it.Status, status)
		}
		if retryCount < it.RetryCount {
			return fmt.Errorf("%w: %d → %d", ErrRetryCountDecrease, it.RetryCount, retryCount)
		}
		it.Status = status
		it.RetryCount = retryCount
		if status.Terminal() {
			it.NextAttemptAt = time.Time{}
		}
		return nil
	})
}

// RecordFailure records a failed attempt on a pending item and leaves it
// pending. A zero nextAttemptAt makes it eligible on the next pass.
func (q *Queue) RecordFailure(ctx context.Context, id int64, retryCount int, lastErr string, nextAttemptAt time.Time) (Item, error) {
	return q.store.UpdateQueueItem(ctx, id, func(it *model.QueueItem) error {
		if it.Status != model.StatusPending {
			return fmt.Errorf("%w: cannot record failure on %s item", ErrInvalidTransition, it.Status)
		}
		if retryCount < it.RetryCount {
			return fmt.Errorf("%w: %d → %d", ErrRetryCountDecrease, it.RetryCount, retryCount)
		}
		it.RetryCount = retryCount
		it.LastError = lastErr
		it.NextAttemptAt = nextAttemptAt
		return nil
	})
}

// Hold parks a pending item after an auth failure. Held items stay pending
// but are skipped by ListPending until ReleaseHolds.
func (q *Queue) Hold(ctx context.Context, id int64, reason string) (Item, error) {
	return q.store.UpdateQueueItem(ctx, id, func(it *model.QueueItem) error {
		if it.Status != model.StatusPending {
			return fmt.Errorf("%w: cannot hold %s item", ErrInvalidTransition, it.Status)
		}
		it.AuthHold = true
		it.LastError = reason
		return nil
	})
}

// ReleaseHolds makes every held item eligible again.
// Call after the credential has been refreshed.
func (q *Queue) ReleaseHolds(ctx context.Context) (int, error) {
	n, err := q.store.ReleaseAuthHolds(ctx)
	if err != nil {
		return 0, fmt.Errorf("release holds: %w", err)
	}
	if n > 0 {
		q.logger.Info("auth holds released", "count", n)
	}
	return n, nil
}

// Remove deletes item id. Returns whether it existed.
func (q *Queue) Remove(ctx context.Context, id int64) (bool, error) {
	ok, err := q.store.DeleteQueueItem(ctx, id)
	if err != nil {
		return false, fmt.Errorf("remove %d: %w", id, err)
	}
	return ok, nil
}

// RemoveCompleted deletes every completed item.
func (q *Queue) RemoveCompleted(ctx context.Context) (int, error) {
	n, err := q.store.DeleteQueueItemsByStatus(ctx, model.StatusCompleted)
	if err != nil {
		return 0, fmt.Errorf("remove completed: %w", err)
	}
	return n, nil
}

// RemoveFailed deletes every failed item. Operator cleanup.
func (q *Queue) RemoveFailed(ctx context.Context) (int, error) {
	n, err := q.store.DeleteQueueItemsByStatus(ctx, model.StatusFailed)
	if err != nil {
		return 0, fmt.Errorf("remove failed: %w", err)
	}
	return n, nil
}

// Clear deletes every item regardless of status.
func (q *Queue) Clear(ctx context.Context) (int, error) {
	n, err := q.store.Clear(ctx, store.CollectionQueue)
	if err != nil {
		return 0, fmt.Errorf("clear queue: %w", err)
	}
	return n, nil
}

// HeadersFrom flattens an http.Header to the single-valued form the queue
// stores. Multiple values are joined with ", ".
func HeadersFrom(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, vs := range h {
		out[http.CanonicalHeaderKey(k)] = strings.Join(vs, ", ")
	}
	return out
}

func copyHeaders(h map[string]string) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}
