package testutil

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScriptedTransport_PlaysStepsInOrder(t *testing.T) {
	tr := NewScriptedTransport(Respond(201, `{"id":1}`), Down())
	client := tr.Client()

	resp, err := client.Post("https://api.example.com/a", "application/json", strings.NewReader(`{"a":1}`))
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, 201, resp.StatusCode)
	assert.Equal(t, `{"id":1}`, string(body))

	_, err = client.Get("https://api.example.com/b")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNetworkDown))

	reqs := tr.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "POST", reqs[0].Method)
	assert.Equal(t, []byte(`{"a":1}`), reqs[0].Body)
	assert.Equal(t, "https://api.example.com/b", reqs[1].URL)
}

func TestScriptedTransport_Default(t *testing.T) {
	tr := NewScriptedTransport()

	_, err := tr.RoundTrip(mustRequest(t, "GET", "https://x/"))
	assert.True(t, errors.Is(err, ErrNetworkDown), "exhausted script without default is a network failure")

	tr.SetDefault(Respond(204, ""))
	resp, err := tr.RoundTrip(mustRequest(t, "GET", "https://x/"))
	require.NoError(t, err)
	assert.Equal(t, 204, resp.StatusCode)
	assert.Equal(t, 2, tr.Calls())
}

func TestScriptedTransport_Gate(t *testing.T) {
	gate := make(chan struct{})
	tr := NewScriptedTransport(Step{Status: 200, Gate: gate})

	done := make(chan struct{})
	go func() {
		defer close(done)
		resp, err := tr.RoundTrip(mustRequest(t, "GET", "https://x/"))
		if assert.NoError(t, err) {
			resp.Body.Close()
		}
	}()

	require.Eventually(t, func() bool { return tr.Calls() == 1 }, time.Second, time.Millisecond)
	select {
	case <-done:
		t.Fatal("gated request returned before gate opened")
	default:
	}

	close(gate)
	<-done
}

func mustRequest(t *testing.T, method, url string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	require.NoError(t, err)
	return req
}
