package queue

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/offsync/internal/model"
	"github.com/roach88/offsync/internal/store"
	"github.com/roach88/offsync/internal/testutil"
)

func newTestQueue(t *testing.T) (*Queue, *testutil.FakeClock) {
	t.Helper()
	clock := testutil.NewFakeClock(testutil.Epoch)
	q := New(testutil.NewTestStore(t),
		WithClock(clock),
		WithKeyGenerator(testutil.NewSequentialKeyGenerator("idem")),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	return q, clock
}

func postRequest(target string, p model.Priority) Request {
	return Request{
		TargetURL: target,
		Method:    "POST",
		Headers:   map[string]string{"Authorization": "Bearer old"},
		Body:      []byte(`{"a":1}`),
		Priority:  p,
	}
}

func TestEnqueue(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	item, err := q.Enqueue(ctx, Request{
		TargetURL:   "https://api.example.com/orders",
		Method:      "post",
		Headers:     map[string]string{"Content-Type": "application/json"},
		Body:        []byte(`{"a":1}`),
		Description: "create order",
	})
	require.NoError(t, err)

	assert.NotZero(t, item.ID)
	assert.Equal(t, "POST", item.Method)
	assert.Equal(t, model.StatusPending, item.Status)
	assert.Equal(t, model.PriorityMedium, item.Priority, "unset priority defaults to medium")
	assert.Equal(t, 0, item.RetryCount)
	assert.Equal(t, "idem-1", item.IdempotencyKey)
	assert.True(t, testutil.Epoch.Equal(item.CreatedAt))

	stored, err := q.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, item.Body, stored.Body)
	assert.Equal(t, "create order", stored.Description)
	assert.Equal(t, "idem-1", stored.IdempotencyKey)
}

func TestEnqueue_RejectsReads(t *testing.T) {
	q, _ := newTestQueue(t)

	for _, m := range []string{"GET", "get", "HEAD", ""} {
		_, err := q.Enqueue(context.Background(), Request{TargetURL: "/x", Method: m})
		assert.True(t, errors.Is(err, ErrReadMethod), "method %q", m)
	}

	items, err := q.ListAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestEnqueue_RejectsUnknownMethodAndPriority(t *testing.T) {
	q, _ := newTestQueue(t)

	_, err := q.Enqueue(context.Background(), Request{TargetURL: "/x", Method: "OPTIONS"})
	assert.Error(t, err)

	_, err = q.Enqueue(context.Background(), Request{TargetURL: "/x", Method: "POST", Priority: 9})
	assert.Error(t, err)

	_, err = q.Enqueue(context.Background(), Request{Method: "POST"})
	assert.Error(t, err)
}

func TestEnqueue_WithoutKeyGenerator(t *testing.T) {
	q := New(testutil.NewTestStore(t), WithKeyGenerator(nil))

	item, err := q.Enqueue(context.Background(), postRequest("/x", model.PriorityLow))
	require.NoError(t, err)
	assert.Empty(t, item.IdempotencyKey)
}

func TestEnqueue_DefaultKeysAreUUIDv7(t *testing.T) {
	q := New(testutil.NewTestStore(t))

	item, err := q.Enqueue(context.Background(), postRequest("/x", model.PriorityLow))
	require.NoError(t, err)
	assert.Len(t, item.IdempotencyKey, 36)
	assert.Equal(t, byte('7'), item.IdempotencyKey[14], "version nibble")
}

// Enqueue low, high, medium in that order: ListPending yields high, medium, low.
func TestListPending_PriorityThenAge(t *testing.T) {
	ctx := context.Background()
	q, clock := newTestQueue(t)

	for _, p := range []model.Priority{model.PriorityLow, model.PriorityHigh, model.PriorityMedium} {
		_, err := q.Enqueue(ctx, postRequest("/"+p.String(), p))
		require.NoError(t, err)
		clock.Advance(time.Millisecond)
	}

	items, err := q.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, model.PriorityHigh, items[0].Priority)
	assert.Equal(t, model.PriorityMedium, items[1].Priority)
	assert.Equal(t, model.PriorityLow, items[2].Priority)
}

func TestListPending_OrderingProperty(t *testing.T) {
	ctx := context.Background()
	q, clock := newTestQueue(t)

	// A fixed pseudo-random mix of priorities and timestamps, including ties.
	prios := []model.Priority{2, 1, 3, 3, 1, 2, 2, 3, 1, 1, 3, 2}
	steps := []time.Duration{5, 0, 3, 0, 7, 1, 0, 2, 9, 0, 4, 6}
	for i, p := range prios {
		clock.Advance(steps[i] * time.Millisecond)
		_, err := q.Enqueue(ctx, postRequest("/x", p))
		require.NoError(t, err)
	}

	items, err := q.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, items, len(prios))

	for i := 1; i < len(items); i++ {
		prev, cur := items[i-1], items[i]
		if prev.Priority != cur.Priority {
			assert.Greater(t, prev.Priority, cur.Priority, "higher priority first at %d", i)
			continue
		}
		assert.False(t, cur.CreatedAt.Before(prev.CreatedAt), "older first within priority at %d", i)
		if cur.CreatedAt.Equal(prev.CreatedAt) {
			assert.Greater(t, cur.ID, prev.ID, "id breaks ties at %d", i)
		}
	}
}

func TestListPending_SkipsBackoffUntilDue(t *testing.T) {
	ctx := context.Background()
	q, clock := newTestQueue(t)

	item, err := q.Enqueue(ctx, postRequest("/x", model.PriorityMedium))
	require.NoError(t, err)

	_, err = q.RecordFailure(ctx, item.ID, 1, "503", clock.Now().Add(time.Second))
	require.NoError(t, err)

	items, err := q.ListPending(ctx)
	require.NoError(t, err)
	assert.Empty(t, items)

	clock.Advance(time.Second)
	items, err = q.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 1, items[0].RetryCount)
	assert.Equal(t, "503", items[0].LastError)
}

func TestMarkStatus_Transitions(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	item, err := q.Enqueue(ctx, postRequest("/x", model.PriorityMedium))
	require.NoError(t, err)

	done, err := q.MarkStatus(ctx, item.ID, model.StatusCompleted, 0)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, done.Status)

	_, err = q.MarkStatus(ctx, item.ID, model.StatusPending, 0)
	assert.True(t, errors.Is(err, ErrInvalidTransition), "completed never returns to pending")

	_, err = q.MarkStatus(ctx, item.ID, model.StatusFailed, 0)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
}

func TestMarkStatus_RetryCountNeverDecreases(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	item, err := q.Enqueue(ctx, postRequest("/x", model.PriorityMedium))
	require.NoError(t, err)

	_, err = q.RecordFailure(ctx, item.ID, 2, "timeout", time.Time{})
	require.NoError(t, err)

	_, err = q.MarkStatus(ctx, item.ID, model.StatusFailed, 1)
	assert.True(t, errors.Is(err, ErrRetryCountDecrease))

	failed, err := q.MarkStatus(ctx, item.ID, model.StatusFailed, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, failed.RetryCount)

	_, err = q.RecordFailure(ctx, item.ID, 4, "again", time.Time{})
	assert.True(t, errors.Is(err, ErrInvalidTransition), "failed items are never retried")
}

func TestMarkStatus_Missing(t *testing.T) {
	q, _ := newTestQueue(t)

	_, err := q.MarkStatus(context.Background(), 99, model.StatusCompleted, 0)
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestHoldAndRelease(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	item, err := q.Enqueue(ctx, postRequest("/x", model.PriorityMedium))
	require.NoError(t, err)

	held, err := q.Hold(ctx, item.ID, "401 Unauthorized")
	require.NoError(t, err)
	assert.True(t, held.AuthHold)

	heldItems, err := q.ListHeld(ctx)
	require.NoError(t, err)
	require.Len(t, heldItems, 1)
	assert.Equal(t, item.ID, heldItems[0].ID)

	pending, err := q.ListPending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	count, err := q.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count, "held items still count as pending")

	n, err := q.ReleaseHolds(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	pending, err = q.ListPending(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	heldItems, err = q.ListHeld(ctx)
	require.NoError(t, err)
	assert.Empty(t, heldItems)
}

func TestRemoveCompletedAndClear(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	var ids []int64
	for i := 0; i < 4; i++ {
		item, err := q.Enqueue(ctx, postRequest("/x", model.PriorityMedium))
		require.NoError(t, err)
		ids = append(ids, item.ID)
	}
	_, err := q.MarkStatus(ctx, ids[0], model.StatusCompleted, 0)
	require.NoError(t, err)
	_, err = q.MarkStatus(ctx, ids[1], model.StatusCompleted, 0)
	require.NoError(t, err)
	_, err = q.MarkStatus(ctx, ids[2], model.StatusFailed, 3)
	require.NoError(t, err)

	n, err := q.RemoveCompleted(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = q.RemoveFailed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	ok, err := q.Remove(ctx, ids[3])
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = q.Enqueue(ctx, postRequest("/y", model.PriorityHigh))
	require.NoError(t, err)
	n, err = q.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	all, err := q.ListAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestEnqueue_CopiesHeaders(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	headers := map[string]string{"X-A": "1"}
	item, err := q.Enqueue(ctx, Request{TargetURL: "/x", Method: "PUT", Headers: headers})
	require.NoError(t, err)
	headers["X-A"] = "mutated"

	stored, err := q.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, "1", stored.Headers["X-A"])
}

func TestHeadersFrom(t *testing.T) {
	h := http.Header{}
	h.Add("accept", "a")
	h.Add("Accept", "b")
	h.Set("Content-Type", "application/json")

	assert.Equal(t, map[string]string{
		"Accept":       "a, b",
		"Content-Type": "application/json",
	}, HeadersFrom(h))
}

func TestSnapshot(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	snap, err := q.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, snap.QueueLength)
	assert.NotNil(t, snap.Items, "empty queue encodes as [] not null")

	_, err = q.Enqueue(ctx, postRequest("https://api.example.com/a", model.PriorityLow))
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, postRequest("https://api.example.com/b", model.PriorityHigh))
	require.NoError(t, err)

	snap, err = q.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, snap.QueueLength)
	assert.Equal(t, "https://api.example.com/a", snap.Items[0].TargetURL, "insertion order")
}
