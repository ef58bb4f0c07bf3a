package push

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"github.com/roach88/offsync/internal/credential"
)

func TestListener_DeliversAndReconnects(t *testing.T) {
	var (
		dials atomic.Int32
		auth  atomic.Value
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := dials.Add(1)
		auth.Store(r.Header.Get("Authorization"))
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()

		ctx := r.Context()
		if n == 1 {
			conn.Write(ctx, websocket.MessageText, []byte(`{"title":"first"}`))
			conn.Write(ctx, websocket.MessageBinary, []byte{0x01})
			conn.Write(ctx, websocket.MessageText, []byte(`not json`))
			conn.Close(websocket.StatusGoingAway, "restart")
			return
		}
		conn.Write(ctx, websocket.MessageText, []byte(`{"title":"after reconnect"}`))
		<-ctx.Done()
	}))
	defer srv.Close()

	notifier := &RecordingNotifier{}
	l := NewListener("ws"+strings.TrimPrefix(srv.URL, "http"), NewDeliverer(notifier, NewMemoryLauncher(), discard),
		WithBackoff(time.Millisecond, 5*time.Millisecond),
		WithListenerCredentials(credential.Static("push-token")),
		WithListenerLogger(discard),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	require.Eventually(t, func() bool { return len(notifier.Shown()) == 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	shown := notifier.Shown()
	assert.Equal(t, "first", shown[0].Title)
	assert.Equal(t, DefaultTitle, shown[1].Title)
	assert.Equal(t, "after reconnect", shown[2].Title)
	assert.GreaterOrEqual(t, dials.Load(), int32(2))
	assert.Equal(t, "Bearer push-token", auth.Load())
}

func TestListener_Delay(t *testing.T) {
	l := NewListener("ws://x", nil)
	want := []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
		16 * time.Second, 30 * time.Second, 30 * time.Second,
	}
	for i, w := range want {
		assert.Equal(t, w, l.delay(i), "attempt %d", i)
	}
	assert.Equal(t, 30*time.Second, l.delay(1000))
}
