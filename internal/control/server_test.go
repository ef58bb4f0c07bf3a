package control

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/offsync/internal/engine"
	"github.com/roach88/offsync/internal/model"
	"github.com/roach88/offsync/internal/push"
	"github.com/roach88/offsync/internal/queue"
	"github.com/roach88/offsync/internal/status"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeBackend struct {
	syncCalls int
	syncErr   error
	released  int
	snapshot  status.Snapshot
	queue     queue.Snapshot
	err       error
}

func (f *fakeBackend) SyncNow(context.Context) (engine.Result, error) {
	f.syncCalls++
	if f.syncErr != nil {
		return engine.Result{}, f.syncErr
	}
	return engine.Result{Pass: int64(f.syncCalls), Processed: 1}, nil
}

func (f *fakeBackend) QueueStatus(context.Context) (queue.Snapshot, error) {
	return f.queue, f.err
}

func (f *fakeBackend) Status(context.Context) (status.Snapshot, error) {
	return f.snapshot, f.err
}

func (f *fakeBackend) Reauthenticated(context.Context) (int, error) {
	return f.released, f.err
}

func serve(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestMessages_Sync(t *testing.T) {
	b := &fakeBackend{}
	h := NewServer(b, nil, discard)

	rec := serve(t, h, "POST", "/v1/messages", `{"type":"SYNC_OFFLINE_QUEUE"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var reply SyncReply
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reply))
	assert.True(t, reply.Success)
	require.NotNil(t, reply.Result)
	assert.Equal(t, 1, reply.Result.Processed)
	assert.Equal(t, 1, b.syncCalls)

	b.syncErr = errors.New("store unavailable")
	rec = serve(t, h, "POST", "/v1/messages", `{"type":"SYNC_OFFLINE_QUEUE"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reply))
	assert.False(t, reply.Success)
	assert.Equal(t, "store unavailable", reply.Error)
}

func TestMessages_QueueStatus(t *testing.T) {
	b := &fakeBackend{queue: queue.Snapshot{
		QueueLength: 1,
		Items: []queue.Item{{
			ID:             1,
			TargetURL:      "https://api.test/orders",
			Method:         "POST",
			Headers:        map[string]string{"Content-Type": "application/json"},
			Body:           []byte(`{"a":1}`),
			CreatedAt:      time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC),
			Status:         model.StatusPending,
			Priority:       model.PriorityHigh,
			IdempotencyKey: "key-1",
		}},
	}}
	h := NewServer(b, nil, discard)

	rec := serve(t, h, "POST", "/v1/messages", `{"type":"GET_QUEUE_STATUS"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var got struct {
		QueueLength int              `json:"queueLength"`
		Items       []map[string]any `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 1, got.QueueLength)
	require.Len(t, got.Items, 1)
	assert.Equal(t, "https://api.test/orders", got.Items[0]["targetUrl"])
}

func TestMessages_BadRequests(t *testing.T) {
	h := NewServer(&fakeBackend{}, nil, discard)

	for name, body := range map[string]string{
		"unknown type": `{"type":"DO_SOMETHING"}`,
		"missing type": `{}`,
		"not json":     `nope`,
	} {
		t.Run(name, func(t *testing.T) {
			rec := serve(t, h, "POST", "/v1/messages", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), `"error"`)
		})
	}
}

func TestStatus(t *testing.T) {
	last := time.Date(2024, 1, 15, 9, 30, 0, 0, time.UTC)
	h := NewServer(&fakeBackend{snapshot: status.Snapshot{
		IsOnline:     true,
		PendingCount: 3,
		LastSyncTime: &last,
	}}, nil, discard)

	rec := serve(t, h, "GET", "/v1/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	g := goldie.New(t, goldie.WithFixtureDir("testdata/golden"), goldie.WithNameSuffix(".golden"))
	g.Assert(t, "status", rec.Body.Bytes())
}

func TestStatus_BackendError(t *testing.T) {
	h := NewServer(&fakeBackend{err: errors.New("disk full")}, nil, discard)
	rec := serve(t, h, "GET", "/v1/status", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "disk full")
}

func TestAuthRefreshed(t *testing.T) {
	h := NewServer(&fakeBackend{released: 2}, nil, discard)
	rec := serve(t, h, "POST", "/v1/auth/refreshed", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"released":2}`, rec.Body.String())
}

func TestPushRoutes(t *testing.T) {
	notifier := &push.RecordingNotifier{}
	launcher := push.NewMemoryLauncher(push.Instance{ID: "tab-1", URL: "https://app.test/inbox"})
	h := NewServer(&fakeBackend{}, push.NewDeliverer(notifier, launcher, discard), discard)

	rec := serve(t, h, "POST", "/v1/push", `{"notificationId":"n-9","title":"Hello"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"notificationId":"n-9"}`, rec.Body.String())
	require.Len(t, notifier.Shown(), 1)

	rec = serve(t, h, "POST", "/v1/push", `garbage`)
	require.Equal(t, http.StatusAccepted, rec.Code, "malformed payloads still deliver")
	assert.Equal(t, push.DefaultTitle, notifier.Shown()[1].Title)

	rec = serve(t, h, "POST", "/v1/push/interaction", `{"notification":{"url":"/inbox"}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"outcome":"focused"}`, rec.Body.String())
	assert.Equal(t, []string{"tab-1"}, launcher.Focused())
}

func TestPushRoutes_NotMountedWithoutHandler(t *testing.T) {
	h := NewServer(&fakeBackend{}, nil, discard)
	rec := serve(t, h, "POST", "/v1/push", `{}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealth(t *testing.T) {
	h := NewServer(&fakeBackend{}, nil, discard)
	rec := serve(t, h, "GET", "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, "127.0.0.1:0", NewServer(&fakeBackend{}, nil, discard), discard) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
	}
}
