package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/offsync/internal/model"
)

func TestInsertQueueItem_AssignsMonotonicIDs(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	var prev int64
	for i := 0; i < 5; i++ {
		id, err := s.InsertQueueItem(ctx, createTestQueueItem("/a", model.PriorityMedium, testTime(0)))
		require.NoError(t, err)
		assert.Greater(t, id, prev)
		prev = id
	}
}

func TestInsertQueueItem_Defaults(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	item := createTestQueueItem("/a", 0, testTime(0))
	item.Status = ""
	item.Headers = nil
	item.Body = nil

	id, err := s.InsertQueueItem(ctx, item)
	require.NoError(t, err)

	got, err := s.ReadQueueItem(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, got.Status)
	assert.Equal(t, model.PriorityMedium, got.Priority)
	assert.Equal(t, map[string]string{}, got.Headers)
	assert.Empty(t, got.Body)
	assert.True(t, got.NextAttemptAt.IsZero())
}

func TestInsertQueueItem_RejectsReadMethod(t *testing.T) {
	s := createTestStore(t)

	item := createTestQueueItem("/a", model.PriorityMedium, testTime(0))
	item.Method = "GET"
	_, err := s.InsertQueueItem(context.Background(), item)
	assert.Error(t, err, "schema CHECK must reject non-mutating methods")
}

func TestReadQueueItem_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	item := createTestQueueItem("https://api.example.com/orders", model.PriorityHigh, testTime(0))
	item.Description = "create order"
	item.IdempotencyKey = "019a0000-0000-7000-8000-000000000001"

	id, err := s.InsertQueueItem(ctx, item)
	require.NoError(t, err)

	got, err := s.ReadQueueItem(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, item.TargetURL, got.TargetURL)
	assert.Equal(t, item.Method, got.Method)
	assert.Equal(t, item.Headers, got.Headers)
	assert.Equal(t, item.Body, got.Body)
	assert.True(t, item.CreatedAt.Equal(got.CreatedAt))
	assert.Equal(t, model.PriorityHigh, got.Priority)
	assert.Equal(t, "create order", got.Description)
	assert.Equal(t, item.IdempotencyKey, got.IdempotencyKey)
	assert.False(t, got.AuthHold)
}

func TestReadQueueItem_Missing(t *testing.T) {
	s := createTestStore(t)

	_, err := s.ReadQueueItem(context.Background(), 42)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestReadPendingQueueItems_ReplayOrder(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	insert := func(target string, p model.Priority, at time.Duration) int64 {
		id, err := s.InsertQueueItem(ctx, createTestQueueItem(target, p, testTime(at)))
		require.NoError(t, err)
		return id
	}

	insert("low-early", model.PriorityLow, 0)
	insert("high-late", model.PriorityHigh, 3*time.Second)
	insert("medium", model.PriorityMedium, time.Second)
	insert("high-early", model.PriorityHigh, time.Second)
	// Same priority and timestamp: ID breaks the tie.
	insert("high-tie-a", model.PriorityHigh, 2*time.Second)
	insert("high-tie-b", model.PriorityHigh, 2*time.Second)

	items, err := s.ReadPendingQueueItems(ctx, testTime(time.Hour))
	require.NoError(t, err)

	var got []string
	for _, it := range items {
		got = append(got, it.TargetURL)
	}
	assert.Equal(t, []string{
		"high-early", "high-tie-a", "high-tie-b", "high-late", "medium", "low-early",
	}, got)
}

func TestReadPendingQueueItems_ExcludesHeldBackoffAndTerminal(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	now := testTime(time.Minute)

	ready := createTestQueueItem("ready", model.PriorityMedium, testTime(0))

	held := createTestQueueItem("held", model.PriorityMedium, testTime(0))
	held.AuthHold = true

	backoff := createTestQueueItem("backoff", model.PriorityMedium, testTime(0))
	backoff.NextAttemptAt = now.Add(time.Second)

	due := createTestQueueItem("due", model.PriorityMedium, testTime(0))
	due.NextAttemptAt = now

	failed := createTestQueueItem("failed", model.PriorityMedium, testTime(0))
	failed.Status = model.StatusFailed

	for _, it := range []model.QueueItem{ready, held, backoff, due, failed} {
		_, err := s.InsertQueueItem(ctx, it)
		require.NoError(t, err)
	}

	items, err := s.ReadPendingQueueItems(ctx, now)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "ready", items[0].TargetURL)
	assert.Equal(t, "due", items[1].TargetURL)

	heldItems, err := s.ReadHeldQueueItems(ctx)
	require.NoError(t, err)
	require.Len(t, heldItems, 1)
	assert.Equal(t, "held", heldItems[0].TargetURL)

	pending, err := s.CountQueueItems(ctx, model.StatusPending)
	require.NoError(t, err)
	assert.Equal(t, 4, pending)
}

func TestUpdateQueueItem(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	id, err := s.InsertQueueItem(ctx, createTestQueueItem("/a", model.PriorityMedium, testTime(0)))
	require.NoError(t, err)

	updated, err := s.UpdateQueueItem(ctx, id, func(it *model.QueueItem) error {
		it.RetryCount++
		it.LastError = "503 Service Unavailable"
		it.TargetURL = "/ignored"
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, updated.RetryCount)

	got, err := s.ReadQueueItem(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, got.RetryCount)
	assert.Equal(t, "503 Service Unavailable", got.LastError)
	assert.Equal(t, "/a", got.TargetURL, "target is immutable")
}

func TestUpdateQueueItem_CallbackErrorWritesNothing(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	id, err := s.InsertQueueItem(ctx, createTestQueueItem("/a", model.PriorityMedium, testTime(0)))
	require.NoError(t, err)

	boom := errors.New("boom")
	_, err = s.UpdateQueueItem(ctx, id, func(it *model.QueueItem) error {
		it.RetryCount = 99
		return boom
	})
	assert.True(t, errors.Is(err, boom))

	got, err := s.ReadQueueItem(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 0, got.RetryCount)
}

func TestUpdateQueueItem_Missing(t *testing.T) {
	s := createTestStore(t)

	_, err := s.UpdateQueueItem(context.Background(), 7, func(*model.QueueItem) error { return nil })
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestDeleteQueueItemsByStatus(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	for _, st := range []model.Status{model.StatusPending, model.StatusCompleted, model.StatusCompleted, model.StatusFailed} {
		it := createTestQueueItem("/a", model.PriorityMedium, testTime(0))
		it.Status = st
		_, err := s.InsertQueueItem(ctx, it)
		require.NoError(t, err)
	}

	n, err := s.DeleteQueueItemsByStatus(ctx, model.StatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	all, err := s.ReadAllQueueItems(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestDeleteQueueItem(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	id, err := s.InsertQueueItem(ctx, createTestQueueItem("/a", model.PriorityMedium, testTime(0)))
	require.NoError(t, err)

	removed, err := s.DeleteQueueItem(ctx, id)
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = s.DeleteQueueItem(ctx, id)
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestReleaseAuthHolds(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	held := createTestQueueItem("held", model.PriorityMedium, testTime(0))
	held.AuthHold = true
	held.LastError = "401 Unauthorized"
	_, err := s.InsertQueueItem(ctx, held)
	require.NoError(t, err)

	n, err := s.ReleaseAuthHolds(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	items, err := s.ReadPendingQueueItems(ctx, testTime(0))
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.False(t, items[0].AuthHold)
	assert.Empty(t, items[0].LastError)
}
