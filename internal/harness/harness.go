package harness

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/roach88/offsync/internal/config"
	"github.com/roach88/offsync/internal/credential"
	"github.com/roach88/offsync/internal/engine"
	"github.com/roach88/offsync/internal/offline"
	"github.com/roach88/offsync/internal/push"
	"github.com/roach88/offsync/internal/router"
	"github.com/roach88/offsync/internal/status"
	"github.com/roach88/offsync/internal/store"
	"github.com/roach88/offsync/internal/testutil"
)

// BaseURL is the API base every scenario runs against.
const BaseURL = "https://api.test/"

// Harness executes one scenario.
type Harness struct {
	manager   *offline.Manager
	transport *testutil.ScriptedTransport
	clock     *testutil.FakeClock
	creds     *credential.Holder
	seq       *engine.Clock
	base      *url.URL
	logger    *slog.Logger

	mu     sync.Mutex
	events map[string]int
	seen   int
}

// Run executes scenario in a fresh in-memory store and returns the trace
// and any failed expectations.
//
// Execution flow:
//  1. Build an offline.Manager over fake clock and scripted transport
//  2. Apply setup
//  3. Execute flow steps, checking expect clauses
//  4. Evaluate assertions
func Run(scenario *Scenario) (*Result, error) {
	st, err := store.OpenInMemory()
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	cfg, err := scenarioConfig(scenario.Config)
	if err != nil {
		return nil, err
	}

	token := scenario.Setup.Credential
	if token == "" {
		token = "token-1"
	}
	online := true
	if scenario.Setup.Online != nil {
		online = *scenario.Setup.Online
	}

	h := &Harness{
		transport: testutil.NewScriptedTransport(),
		clock:     testutil.NewFakeClock(testutil.Epoch),
		creds:     credential.NewHolder(token),
		seq:       engine.NewClock(),
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		events:    make(map[string]int),
	}
	h.base, _ = url.Parse(BaseURL)

	h.manager, err = offline.New(st, cfg,
		offline.WithTransport(h.transport),
		offline.WithClock(h.clock),
		offline.WithLogger(h.logger),
		offline.WithCredentials(h.creds),
		offline.WithKeyGenerator(testutil.NewSequentialKeyGenerator("idem")),
		offline.WithNotifier(&push.RecordingNotifier{}),
		offline.WithLauncher(push.NewMemoryLauncher()),
		offline.WithInitialOnline(online),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build manager: %w", err)
	}
	h.manager.Subscribe(h.recordEvent)

	ctx := context.Background()
	result := NewResult()
	for i, step := range scenario.Flow {
		if err := h.executeStep(ctx, i, step, result); err != nil {
			return nil, fmt.Errorf("flow step %d: %w", i, err)
		}
	}

	actx := &AssertionContext{
		Ctx:    ctx,
		Queue:  h.manager.Queue(),
		Events: h.eventCounts(),
	}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

func scenarioConfig(sc ScenarioConfig) (config.Config, error) {
	cfg := config.Default()
	cfg.APIBaseURL = BaseURL
	cfg.Sync.ItemDelay = 0
	cfg.Sync.Interval = 0
	cfg.Connectivity.ProbePath = ""

	if sc.MaxRetries != 0 {
		cfg.Sync.MaxRetries = sc.MaxRetries
	}
	if sc.RetryBackoff != "" {
		if err := cfg.Sync.RetryBackoff.UnmarshalText([]byte(sc.RetryBackoff)); err != nil {
			return config.Config{}, fmt.Errorf("config.retry_backoff: %w", err)
		}
	}
	if sc.AuthPolicy != "" {
		cfg.Sync.AuthPolicy = sc.AuthPolicy
	}
	if sc.IdempotencyKeys != nil {
		cfg.Sync.IdempotencyKeys = *sc.IdempotencyKeys
	}
	if sc.Rules != nil {
		cfg.Routing.Rules = sc.Rules
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("scenario config: %w", err)
	}
	return cfg, nil
}

// executeStep runs one step, traces it and the requests it caused, and
// checks its expect clause. Only harness failures are returned; a step
// that misbehaves is recorded in result.
func (h *Harness) executeStep(ctx context.Context, i int, step FlowStep, result *Result) error {
	args, outcome, err := h.apply(ctx, step)
	if err != nil {
		return err
	}

	result.AddStepTrace(step.Op, args, outcome, h.seq.Next())
	for _, req := range h.newRequests() {
		result.AddRequestTrace(req, h.seq.Next())
	}

	if step.Expect != nil && !matchArgs(outcome, step.Expect) {
		result.AddError(fmt.Sprintf("flow[%d] %s: expected %v, got %v", i, step.Op, step.Expect, outcome))
	}

	h.logger.Info("flow step completed", "step", i, "op", step.Op, "outcome", outcome)
	return nil
}

func (h *Harness) apply(ctx context.Context, step FlowStep) (args, outcome map[string]any, err error) {
	m := h.manager
	switch step.Op {
	case OpWrite:
		return h.write(ctx, step)

	case OpSync:
		res, err := m.SyncNow(ctx)
		if err != nil {
			return nil, map[string]any{"error": err.Error()}, nil
		}
		return nil, syncOutcome(res), nil

	case OpSetOnline:
		m.SetOnline(*step.Online)
		return map[string]any{"online": *step.Online}, map[string]any{"online": m.Hub().IsOnline()}, nil

	case OpAdvance:
		d, _ := time.ParseDuration(step.Duration)
		h.clock.Advance(d)
		return map[string]any{"duration": step.Duration},
			map[string]any{"now": h.clock.Now().UTC().Format(time.RFC3339Nano)}, nil

	case OpRespond:
		steps := make([]testutil.Step, 0, len(step.Responses))
		script := make([]any, 0, len(step.Responses))
		for _, r := range step.Responses {
			if r.Down {
				steps = append(steps, testutil.Down())
				script = append(script, "down")
				continue
			}
			steps = append(steps, testutil.Respond(r.Status, r.Body))
			script = append(script, r.Status)
		}
		h.transport.Script(steps...)
		return map[string]any{"responses": script}, nil, nil

	case OpCredential:
		h.creds.Set(step.Token)
		return map[string]any{"token": step.Token}, nil, nil

	case OpReauthenticate:
		n, err := m.Reauthenticated(ctx)
		if err != nil {
			return nil, map[string]any{"error": err.Error()}, nil
		}
		return nil, map[string]any{"released": n}, nil

	case OpCacheSet:
		ttl, _ := time.ParseDuration(step.Duration)
		args := map[string]any{"key": step.Key, "ttl": step.Duration}
		if err := m.Cache().Set(ctx, step.Key, []byte(step.Payload), ttl); err != nil {
			return args, map[string]any{"error": err.Error()}, nil
		}
		return args, map[string]any{"stored": true}, nil

	case OpCacheGet:
		args := map[string]any{"key": step.Key}
		payload, hit, err := m.Cache().Get(ctx, step.Key)
		if err != nil {
			return args, map[string]any{"error": err.Error()}, nil
		}
		out := map[string]any{"hit": hit}
		if hit {
			out["payload"] = string(payload)
		}
		return args, out, nil

	case OpCacheSweep:
		n, err := m.Cache().Sweep(ctx)
		if err != nil {
			return nil, map[string]any{"error": err.Error()}, nil
		}
		return nil, map[string]any{"removed": n}, nil
	}
	return nil, nil, fmt.Errorf("unknown op %q", step.Op)
}

func (h *Harness) write(ctx context.Context, step FlowStep) (map[string]any, map[string]any, error) {
	ref, err := url.Parse(step.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse url: %w", err)
	}
	target := h.base.ResolveReference(ref).String()

	args := map[string]any{"method": step.Method, "url": target}
	if step.Priority != "" {
		args["priority"] = step.Priority
	}

	req, err := http.NewRequestWithContext(ctx, step.Method, target, bytes.NewReader([]byte(step.Body)))
	if err != nil {
		return nil, nil, err
	}
	if step.Body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if step.Priority != "" {
		req.Header.Set(router.HeaderPriority, step.Priority)
	}
	if step.Description != "" {
		req.Header.Set(router.HeaderDescription, step.Description)
	}

	resp, err := h.manager.HTTPClient().Do(req)
	if err != nil {
		return args, map[string]any{"error": err.Error()}, nil
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	out := map[string]any{
		"status": resp.StatusCode,
		"queued": resp.Header.Get(router.HeaderQueued) == "true",
	}
	if id := resp.Header.Get(router.HeaderQueueID); id != "" {
		out["queue_id"] = id
	}
	return args, out, nil
}

func syncOutcome(res engine.Result) map[string]any {
	return map[string]any{
		"pass":      res.Pass,
		"attempted": res.Attempted,
		"processed": res.Processed,
		"failed":    res.Failed,
		"exhausted": res.Exhausted,
		"removed":   res.Removed,
		"auth_held": res.AuthHeld,
		"purged":    res.Purged,
		"coalesced": res.Coalesced,
	}
}

// newRequests returns the requests the transport saw since the last call.
func (h *Harness) newRequests() []map[string]any {
	all := h.transport.Requests()
	fresh := all[h.seen:]
	h.seen = len(all)

	out := make([]map[string]any, 0, len(fresh))
	for _, r := range fresh {
		req := map[string]any{
			"method": r.Method,
			"url":    r.URL,
		}
		if v := r.Header.Get("Authorization"); v != "" {
			req["authorization"] = v
		}
		if v := r.Header.Get(engine.IdempotencyHeader); v != "" {
			req["idempotency_key"] = v
		}
		if len(r.Body) > 0 {
			req["body"] = string(r.Body)
		}
		out = append(out, req)
	}
	return out
}

func (h *Harness) recordEvent(e status.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events[string(e.Kind)]++
}

func (h *Harness) eventCounts() map[string]int {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string]int, len(h.events))
	for k, v := range h.events {
		out[k] = v
	}
	return out
}
