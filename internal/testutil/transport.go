package testutil

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"sync"
)

// ErrNetworkDown is the transport error ScriptedTransport returns for Down
// steps and when its script is exhausted without a default.
var ErrNetworkDown = errors.New("network is unreachable")

// Step is one scripted outcome.
type Step struct {
	// Status and Body form the response when Err is nil.
	Status int
	Body   string
	Header http.Header

	// Err, if set, is returned instead of a response.
	Err error

	// Gate, if set, blocks the round trip until it is closed or the
	// request context ends. Used to hold a request in flight.
	Gate <-chan struct{}
}

// Down returns a Step that fails with ErrNetworkDown.
func Down() Step { return Step{Err: ErrNetworkDown} }

// Respond returns a Step with the given status and body.
func Respond(status int, body string) Step { return Step{Status: status, Body: body} }

// RecordedRequest captures what the transport saw.
type RecordedRequest struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// ScriptedTransport is an http.RoundTripper that plays back scripted
// steps in order and records every request it receives.
//
// Once the script runs out every request gets Default, or ErrNetworkDown
// when Default is unset.
//
// Thread-safety: safe for concurrent use via internal mutex.
type ScriptedTransport struct {
	mu       sync.Mutex
	steps    []Step
	fallback *Step
	requests []RecordedRequest
}

// NewScriptedTransport creates a transport that plays steps in order.
func NewScriptedTransport(steps ...Step) *ScriptedTransport {
	return &ScriptedTransport{steps: steps}
}

// Script appends steps.
func (t *ScriptedTransport) Script(steps ...Step) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.steps = append(t.steps, steps...)
}

// SetDefault sets the step used once the script is exhausted.
func (t *ScriptedTransport) SetDefault(s Step) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fallback = &s
}

// RoundTrip implements http.RoundTripper.
func (t *ScriptedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	var body []byte
	if req.Body != nil {
		var err error
		body, err = io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, err
		}
	}

	t.mu.Lock()
	t.requests = append(t.requests, RecordedRequest{
		Method: req.Method,
		URL:    req.URL.String(),
		Header: req.Header.Clone(),
		Body:   body,
	})
	var step Step
	switch {
	case len(t.steps) > 0:
		step = t.steps[0]
		t.steps = t.steps[1:]
	case t.fallback != nil:
		step = *t.fallback
	default:
		step = Down()
	}
	t.mu.Unlock()

	if step.Gate != nil {
		select {
		case <-step.Gate:
		case <-req.Context().Done():
			return nil, req.Context().Err()
		}
	}
	if step.Err != nil {
		return nil, step.Err
	}

	header := step.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	status := step.Status
	if status == 0 {
		status = http.StatusOK
	}
	return &http.Response{
		StatusCode:    status,
		Status:        http.StatusText(status),
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader([]byte(step.Body))),
		ContentLength: int64(len(step.Body)),
		Request:       req,
	}, nil
}

// Requests returns a copy of every request received, in arrival order.
func (t *ScriptedTransport) Requests() []RecordedRequest {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]RecordedRequest, len(t.requests))
	copy(out, t.requests)
	return out
}

// Calls returns the number of requests received.
func (t *ScriptedTransport) Calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.requests)
}

// Client returns an http.Client using this transport.
func (t *ScriptedTransport) Client() *http.Client {
	return &http.Client{Transport: t}
}
