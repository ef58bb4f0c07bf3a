package engine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/offsync/internal/credential"
	"github.com/roach88/offsync/internal/model"
	"github.com/roach88/offsync/internal/queue"
	"github.com/roach88/offsync/internal/store"
)

// Defaults for engine options.
const (
	DefaultInterval  = 30 * time.Second
	DefaultItemDelay = 250 * time.Millisecond
	DefaultLeaseTTL  = 5 * time.Minute

	// LeaseName is the store lease that serializes drain passes across
	// processes.
	LeaseName = "drain"

	// IdempotencyHeader carries the item's idempotency key on replay.
	IdempotencyHeader = "Idempotency-Key"
)

// Doer sends HTTP requests. Implemented by *http.Client.
//
// The Doer must talk to the network directly. Passing a client whose
// transport is the router would re-queue failed replays.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// MetaStore holds the cross-process drain lease and the last sync time.
// Implemented by *store.Store.
type MetaStore interface {
	AcquireLease(ctx context.Context, name, owner string, ttl time.Duration, now time.Time) (bool, error)
	ReleaseLease(ctx context.Context, name, owner string) error
	SetTime(ctx context.Context, key string, t time.Time) error
}

// OnlineSource reports current connectivity. Implemented by status.Hub.
type OnlineSource interface {
	IsOnline() bool
}

// AuthHook is called after an item's replay is rejected with 401.
type AuthHook func(ctx context.Context, item queue.Item)

// Engine is the background sync scheduler.
//
// Thread-safety model:
//   - Drain, SyncNow, Trigger, OnlineChanged, Stop: safe from any goroutine
//   - Run: must be called from exactly one goroutine
type Engine struct {
	queue  *queue.Queue
	doer   Doer
	creds  credential.Source
	meta   MetaStore
	online OnlineSource

	reporter Reporter
	onAuth   AuthHook
	logger   *slog.Logger
	wall     model.Clock
	passes   *Clock
	signal   *triggerSignal
	owner    string

	retry       RetryPolicy
	authPolicy  AuthPolicy
	itemDelay   time.Duration
	interval    time.Duration
	leaseTTL    time.Duration
	baseURL     *url.URL
	idempotency bool

	draining atomic.Bool
	stopping atomic.Bool
}

// EngineOption allows configuration of engine parameters.
type EngineOption func(*Engine)

// WithMaxRetries sets how many failed attempts mark an item failed.
//
// Default: 3 (DefaultMaxRetries)
func WithMaxRetries(n int) EngineOption {
	return func(e *Engine) {
		e.retry.MaxRetries = n
	}
}

// WithRetryBackoff enables exponential backoff between attempts.
// Zero (the default) makes a failed item eligible on the next pass.
func WithRetryBackoff(d time.Duration) EngineOption {
	return func(e *Engine) {
		e.retry.Backoff = d
	}
}

// WithItemDelay sets the pause between consecutive items in a pass.
//
// Default: 250ms (DefaultItemDelay)
func WithItemDelay(d time.Duration) EngineOption {
	return func(e *Engine) {
		e.itemDelay = d
	}
}

// WithInterval sets the periodic sync interval used by Run.
// Zero disables the ticker.
//
// Default: 30s (DefaultInterval)
func WithInterval(d time.Duration) EngineOption {
	return func(e *Engine) {
		e.interval = d
	}
}

// WithClock sets the wall clock used for timestamps and backoff.
func WithClock(c model.Clock) EngineOption {
	return func(e *Engine) {
		e.wall = c
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithReporter sets where pass results are sent.
func WithReporter(r Reporter) EngineOption {
	return func(e *Engine) {
		e.reporter = r
	}
}

// WithMeta enables the cross-process lease and last-sync bookkeeping.
func WithMeta(m MetaStore) EngineOption {
	return func(e *Engine) {
		e.meta = m
	}
}

// WithLeaseTTL sets how long a drain lease is held without renewal.
// The lease is renewed before each item.
func WithLeaseTTL(d time.Duration) EngineOption {
	return func(e *Engine) {
		e.leaseTTL = d
	}
}

// WithAuthPolicy sets the 401 policy. Default: AuthHold.
func WithAuthPolicy(p AuthPolicy) EngineOption {
	return func(e *Engine) {
		e.authPolicy = p
	}
}

// WithAuthHook sets the callback fired for every 401.
func WithAuthHook(h AuthHook) EngineOption {
	return func(e *Engine) {
		e.onAuth = h
	}
}

// WithIdempotencyHeader toggles the Idempotency-Key header. Default: on.
func WithIdempotencyHeader(enabled bool) EngineOption {
	return func(e *Engine) {
		e.idempotency = enabled
	}
}

// WithOnlineSource gates periodic passes on connectivity.
// Without one, the engine assumes it is online.
func WithOnlineSource(o OnlineSource) EngineOption {
	return func(e *Engine) {
		e.online = o
	}
}

// WithBaseURL resolves relative item targets against base.
func WithBaseURL(base *url.URL) EngineOption {
	return func(e *Engine) {
		e.baseURL = base
	}
}

// WithOwner sets the lease owner id. Default: a random UUID.
func WithOwner(owner string) EngineOption {
	return func(e *Engine) {
		e.owner = owner
	}
}

// New creates an Engine draining q through doer.
// A nil creds means no credential is attached.
func New(q *queue.Queue, doer Doer, creds credential.Source, opts ...EngineOption) *Engine {
	if creds == nil {
		creds = credential.None
	}
	e := &Engine{
		queue:       q,
		doer:        doer,
		creds:       creds,
		logger:      slog.Default(),
		wall:        model.SystemClock{},
		passes:      NewClock(),
		signal:      newTriggerSignal(),
		owner:       uuid.NewString(),
		retry:       RetryPolicy{MaxRetries: DefaultMaxRetries},
		authPolicy:  AuthHold,
		itemDelay:   DefaultItemDelay,
		interval:    DefaultInterval,
		leaseTTL:    DefaultLeaseTTL,
		idempotency: true,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Passes returns the number of drain passes executed (coalesced calls
// excluded).
func (e *Engine) Passes() int64 {
	return e.passes.Current()
}

// Draining reports whether a pass is in flight in this process.
func (e *Engine) Draining() bool {
	return e.draining.Load()
}

// Trigger requests an asynchronous pass from the Run loop.
// Triggers arriving during a pass coalesce into one follow-up pass.
// Returns false after Stop.
func (e *Engine) Trigger() bool {
	return e.signal.Fire()
}

// OnlineChanged feeds connectivity transitions. Going online triggers a
// pass.
func (e *Engine) OnlineChanged(online bool) {
	if online {
		e.Trigger()
	}
}

// SyncNow runs a pass synchronously. It is the manual trigger.
func (e *Engine) SyncNow(ctx context.Context) (Result, error) {
	return e.Drain(ctx)
}

// Stop asks a running pass to stop after its current item and makes Run
// return.
func (e *Engine) Stop() {
	e.stopping.Store(true)
	e.signal.Close()
}

// Run is the scheduler loop. It drains on every trigger and, while online
// with pending items, on every interval tick.
//
// CRITICAL: Must be called from exactly ONE goroutine.
//
// Pass errors are logged and the loop continues; the next trigger or tick
// retries.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("sync engine starting",
		"interval", e.interval,
		"max_retries", e.retry.MaxRetries,
		"auth_policy", string(e.authPolicy),
	)

	var tick <-chan time.Time
	if e.interval > 0 {
		ticker := time.NewTicker(e.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	// Drain leftovers from a previous run.
	if e.isOnline() {
		e.Trigger()
	}

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("sync engine stopping: context cancelled")
			return ctx.Err()

		case _, ok := <-e.signal.Wait():
			if !ok {
				e.logger.Info("sync engine stopping: stopped")
				return nil
			}
			e.runPass(ctx, "trigger")

		case <-tick:
			if !e.isOnline() {
				continue
			}
			n, err := e.queue.PendingCount(ctx)
			if err != nil {
				e.logger.Error("pending count failed", "error", err)
				continue
			}
			if n > 0 {
				e.runPass(ctx, "interval")
			}
		}
	}
}

func (e *Engine) runPass(ctx context.Context, reason string) {
	res, err := e.Drain(ctx)
	if err != nil {
		e.logger.Error("drain pass failed", "reason", reason, "pass", res.Pass, "error", err)
		return
	}
	if res.Coalesced {
		e.logger.Debug("drain pass coalesced", "reason", reason)
	}
}

func (e *Engine) isOnline() bool {
	return e.online == nil || e.online.IsOnline()
}

// Drain runs one pass over the pending items.
//
// If a pass is already in flight, in this process or another one sharing
// the store, Drain returns a Result with Coalesced set and does nothing.
// A storage failure aborts the pass and is returned as a STORAGE
// SyncError; the partial Result, with Error set, is still reported.
// Item-level failures are recorded in Result.Errors.
func (e *Engine) Drain(ctx context.Context) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{Errors: []ItemError{}}, err
	}
	if !e.draining.CompareAndSwap(false, true) {
		return Result{Coalesced: true, Errors: []ItemError{}}, nil
	}
	defer e.draining.Store(false)

	// Bookkeeping after the loop must survive cancellation of ctx.
	post := context.WithoutCancel(ctx)

	if e.meta != nil {
		ok, err := e.meta.AcquireLease(ctx, LeaseName, e.owner, e.leaseTTL, e.wall.Now())
		if err != nil {
			return e.abort(Result{StartedAt: e.wall.Now(), Errors: []ItemError{}}, storageError(0, err))
		}
		if !ok {
			e.logger.Debug("drain lease held elsewhere")
			return Result{Coalesced: true, Errors: []ItemError{}}, nil
		}
		defer func() {
			if err := e.meta.ReleaseLease(post, LeaseName, e.owner); err != nil {
				e.logger.Warn("release drain lease failed", "error", err)
			}
		}()
	}

	res := Result{
		Pass:      e.passes.Next(),
		StartedAt: e.wall.Now(),
		Errors:    []ItemError{},
	}

	items, err := e.queue.ListPending(ctx)
	if err != nil {
		return e.abort(res, storageError(0, err))
	}

	e.logger.Info("drain pass started", "pass", res.Pass, "pending", len(items))

	for i, item := range items {
		if i > 0 {
			if err := e.pause(ctx); err != nil {
				res.Stopped = true
				break
			}
		}
		if e.stopping.Load() || ctx.Err() != nil {
			res.Stopped = true
			break
		}
		if e.meta != nil {
			// Renew so a long pass keeps the lease.
			if _, err := e.meta.AcquireLease(ctx, LeaseName, e.owner, e.leaseTTL, e.wall.Now()); err != nil {
				return e.abort(res, storageError(item.ID, err))
			}
		}

		if err := e.replay(post, item, &res); err != nil {
			return e.abort(res, err)
		}
	}

	purged, err := e.queue.RemoveCompleted(post)
	if err != nil {
		return e.abort(res, storageError(0, err))
	}
	res.Purged = purged

	res = e.finish(res)
	if e.meta != nil {
		if err := e.meta.SetTime(post, store.MetaLastSyncTime, res.FinishedAt); err != nil {
			return e.abort(res, storageError(0, err))
		}
	}

	e.logger.Info("drain pass finished",
		"pass", res.Pass,
		"attempted", res.Attempted,
		"processed", res.Processed,
		"failed", res.Failed,
		"removed", res.Removed,
		"auth_held", res.AuthHeld,
		"stopped", res.Stopped,
	)
	if e.reporter != nil {
		e.reporter.ReportSync(res)
	}
	return res, nil
}

func (e *Engine) finish(res Result) Result {
	res.FinishedAt = e.wall.Now()
	return res
}

// abort ends a pass on a storage failure. The partial result still goes
// to the reporter.
func (e *Engine) abort(res Result, err error) (Result, error) {
	res = e.finish(res)
	res.Error = err.Error()
	if e.reporter != nil {
		e.reporter.ReportSync(res)
	}
	return res, err
}

// pause waits itemDelay between items. Returns ctx.Err() if cancelled.
func (e *Engine) pause(ctx context.Context) error {
	if e.itemDelay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(e.itemDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// replay sends one item and applies its outcome to the queue.
// Returns an error only for storage failures.
func (e *Engine) replay(ctx context.Context, item queue.Item, res *Result) error {
	status, sendErr, credErr := e.send(ctx, item)

	var se *SyncError
	if credErr != nil {
		se = &SyncError{
			Code:    ErrCodeAuth,
			Message: "credential unavailable",
			ItemID:  item.ID,
			Err:     credErr,
		}
	} else {
		res.Attempted++
		se = classify(item.ID, status, sendErr)
	}

	if se == nil {
		if _, err := e.queue.MarkStatus(ctx, item.ID, model.StatusCompleted, item.RetryCount); err != nil {
			return storageError(item.ID, err)
		}
		res.Processed++
		e.logger.Debug("item replayed", "id", item.ID, "status", status)
		return nil
	}

	res.Failed++
	res.Errors = append(res.Errors, newItemError(item, se))

	switch se.Code {
	case ErrCodeAuth:
		if err := e.handleAuth(ctx, item, se, res); err != nil {
			return err
		}

	case ErrCodeClient:
		if _, err := e.queue.Remove(ctx, item.ID); err != nil {
			return storageError(item.ID, err)
		}
		res.Removed++
		e.logger.Warn("item rejected by server, removed",
			"id", item.ID,
			"method", item.Method,
			"target", item.TargetURL,
			"status", se.StatusCode,
		)

	default:
		n := item.RetryCount + 1
		exhausted, next := e.retry.Next(n, e.wall.Now())
		if exhausted {
			if _, err := e.queue.MarkStatus(ctx, item.ID, model.StatusFailed, n); err != nil {
				return storageError(item.ID, err)
			}
			res.Exhausted++
			e.logger.Warn("item failed permanently",
				"id", item.ID,
				"retries", n,
				"error", se,
			)
			return nil
		}
		if _, err := e.queue.RecordFailure(ctx, item.ID, n, se.Error(), next); err != nil {
			return storageError(item.ID, err)
		}
		e.logger.Info("item will be retried",
			"id", item.ID,
			"retries", n,
			"next_attempt", next,
			"error", se,
		)
	}
	return nil
}

func (e *Engine) handleAuth(ctx context.Context, item queue.Item, se *SyncError, res *Result) error {
	if e.authPolicy == AuthDrop {
		if _, err := e.queue.Remove(ctx, item.ID); err != nil {
			return storageError(item.ID, err)
		}
		res.Removed++
	} else {
		if _, err := e.queue.Hold(ctx, item.ID, se.Error()); err != nil {
			return storageError(item.ID, err)
		}
		res.AuthHeld++
	}
	e.logger.Warn("item needs re-authentication",
		"id", item.ID,
		"policy", string(e.authPolicy),
		"error", se,
	)
	if e.onAuth != nil {
		e.onAuth(ctx, item)
	}
	return nil
}

// send issues the item's request with the current credential.
// The request context is detached so an in-flight call is never aborted.
func (e *Engine) send(ctx context.Context, item queue.Item) (status int, sendErr, credErr error) {
	token, err := e.creds.Credential(ctx)
	if err != nil {
		return 0, nil, err
	}

	target, err := e.resolve(item.TargetURL)
	if err != nil {
		return 0, err, nil
	}

	var body io.Reader
	if len(item.Body) > 0 {
		body = bytes.NewReader(item.Body)
	}
	req, err := http.NewRequestWithContext(context.WithoutCancel(ctx), item.Method, target, body)
	if err != nil {
		return 0, err, nil
	}
	for k, v := range item.Headers {
		req.Header.Set(k, v)
	}
	if auth := credential.Bearer(token); auth != "" {
		req.Header.Set("Authorization", auth)
	} else {
		req.Header.Del("Authorization")
	}
	if e.idempotency && item.IdempotencyKey != "" {
		req.Header.Set(IdempotencyHeader, item.IdempotencyKey)
	}

	resp, err := e.doer.Do(req)
	if err != nil {
		return 0, err, nil
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))
	resp.Body.Close()
	return resp.StatusCode, nil, nil
}

func (e *Engine) resolve(target string) (string, error) {
	u, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("parse target %q: %w", target, err)
	}
	if u.IsAbs() || e.baseURL == nil {
		return u.String(), nil
	}
	return e.baseURL.ResolveReference(u).String(), nil
}
