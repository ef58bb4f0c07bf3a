package push

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/offsync/internal/credential"
	"github.com/roach88/offsync/internal/testutil"
)

func TestRegistrar_Lifecycle(t *testing.T) {
	ctx := context.Background()
	transport := testutil.NewScriptedTransport()
	transport.SetDefault(testutil.Respond(http.StatusCreated, ""))
	r := NewRegistrar("https://api.test/push/subscriptions", transport.Client(), credential.Static("tok"), discard)

	assert.Equal(t, StateUnregistered, r.State())
	require.ErrorIs(t, r.Renew(ctx, Subscription{Endpoint: "e"}), ErrNotSubscribed)
	require.NoError(t, r.Unsubscribe(ctx), "unsubscribe while unregistered is a no-op")
	assert.Zero(t, transport.Calls())

	sub := Subscription{
		Endpoint:   "https://push.test/abc",
		Keys:       Keys{P256dh: "BNc", Auth: "k"},
		DeviceInfo: DeviceInfo{UserAgent: "offsync/1.0", Platform: "linux"},
	}
	require.NoError(t, r.Subscribe(ctx, sub))
	assert.Equal(t, StateSubscribed, r.State())
	require.ErrorIs(t, r.Subscribe(ctx, sub), ErrAlreadySubscribed)

	renewed := Subscription{Endpoint: "https://push.test/def"}
	require.NoError(t, r.Renew(ctx, renewed))
	assert.Equal(t, StateSubscribed, r.State())
	got, ok := r.Subscription()
	require.True(t, ok)
	assert.Equal(t, renewed, got)

	require.NoError(t, r.Unsubscribe(ctx))
	assert.Equal(t, StateUnregistered, r.State())
	_, ok = r.Subscription()
	assert.False(t, ok)

	reqs := transport.Requests()
	require.Len(t, reqs, 3)
	assert.Equal(t, []string{"POST", "POST", "DELETE"}, []string{reqs[0].Method, reqs[1].Method, reqs[2].Method})
	assert.Equal(t, "Bearer tok", reqs[0].Header.Get("Authorization"))

	assert.JSONEq(t, `{
		"endpoint": "https://push.test/abc",
		"keys": {"p256dh": "BNc", "auth": "k"},
		"deviceInfo": {"userAgent": "offsync/1.0", "platform": "linux"}
	}`, string(reqs[0].Body))

	var sent Subscription
	require.NoError(t, json.Unmarshal(reqs[0].Body, &sent))
	assert.Equal(t, sub, sent)
	require.NoError(t, json.Unmarshal(reqs[2].Body, &sent))
	assert.Equal(t, renewed, sent)
}

func TestRegistrar_FailureKeepsState(t *testing.T) {
	ctx := context.Background()
	transport := testutil.NewScriptedTransport(
		testutil.Respond(http.StatusInternalServerError, ""),
		testutil.Respond(http.StatusOK, ""),
		testutil.Down(),
	)
	r := NewRegistrar("https://api.test/push", transport.Client(), nil, discard)

	require.Error(t, r.Subscribe(ctx, Subscription{Endpoint: "e"}))
	assert.Equal(t, StateUnregistered, r.State())

	require.NoError(t, r.Subscribe(ctx, Subscription{Endpoint: "e"}))
	require.Error(t, r.Unsubscribe(ctx))
	assert.Equal(t, StateSubscribed, r.State())
	assert.Empty(t, transport.Requests()[0].Header.Get("Authorization"))
}
