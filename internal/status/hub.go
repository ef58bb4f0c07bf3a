// Package status is the connectivity and sync event surface the UI
// subscribes to.
package status

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/offsync/internal/engine"
	"github.com/roach88/offsync/internal/model"
	"github.com/roach88/offsync/internal/store"
)

// EventKind names an event.
type EventKind string

const (
	EventOnline       EventKind = "online"
	EventOffline      EventKind = "offline"
	EventSyncComplete EventKind = "sync.complete"
	EventSyncFailed   EventKind = "sync.failed"
	EventQueueChanged EventKind = "queue.changed"
)

// Event is delivered to subscribers.
type Event struct {
	Kind EventKind `json:"kind"`
	At   time.Time `json:"at"`

	// Result is set for sync.complete and sync.failed.
	Result *engine.Result `json:"result,omitempty"`

	// PendingCount is set for queue.changed.
	PendingCount int `json:"pendingCount,omitempty"`
}

// Snapshot is the point-in-time status.
type Snapshot struct {
	IsOnline     bool       `json:"isOnline"`
	PendingCount int        `json:"pendingCount"`
	LastSyncTime *time.Time `json:"lastSyncTime"`
}

// PendingCounter counts queue items awaiting replay.
// Implemented by *queue.Queue.
type PendingCounter interface {
	PendingCount(ctx context.Context) (int, error)
}

// TimeReader reads persisted timestamps. Implemented by *store.Store.
type TimeReader interface {
	GetTime(ctx context.Context, key string) (time.Time, error)
}

// Hub holds the online flag and fans events out to subscribers.
//
// Thread-safety: safe for concurrent use. Listeners run synchronously on
// the emitting goroutine, outside the hub lock, and a panicking listener
// does not affect the others.
type Hub struct {
	pending PendingCounter
	times   TimeReader
	clock   model.Clock
	logger  *slog.Logger

	mu        sync.Mutex
	online    bool
	listeners map[int]func(Event)
	nextID    int
}

// Option configures a Hub.
type Option func(*Hub)

// WithInitialOnline sets the starting connectivity. Default: true.
func WithInitialOnline(v bool) Option {
	return func(h *Hub) {
		h.online = v
	}
}

// WithClock sets the clock used to stamp events.
func WithClock(c model.Clock) Option {
	return func(h *Hub) {
		h.clock = c
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Hub) {
		h.logger = l
	}
}

// NewHub creates a Hub reading counts from pending and the last sync time
// from times.
func NewHub(pending PendingCounter, times TimeReader, opts ...Option) *Hub {
	h := &Hub{
		pending:   pending,
		times:     times,
		clock:     model.SystemClock{},
		logger:    slog.Default(),
		online:    true,
		listeners: make(map[int]func(Event)),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// IsOnline reports the last connectivity the platform signalled.
func (h *Hub) IsOnline() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.online
}

// SetOnline records connectivity. Subscribers are notified only when the
// value changes.
func (h *Hub) SetOnline(v bool) {
	h.mu.Lock()
	changed := h.online != v
	h.online = v
	h.mu.Unlock()
	if !changed {
		return
	}

	kind := EventOffline
	if v {
		kind = EventOnline
	}
	h.logger.Info("connectivity changed", "online", v)
	h.emit(Event{Kind: kind})
}

// Subscribe registers fn for every event. The returned function removes
// it; calling it more than once is harmless.
func (h *Hub) Subscribe(fn func(Event)) (unsubscribe func()) {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.listeners[id] = fn
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		delete(h.listeners, id)
		h.mu.Unlock()
	}
}

// OnOnlineChange registers fn for connectivity transitions only.
func (h *Hub) OnOnlineChange(fn func(online bool)) (unsubscribe func()) {
	return h.Subscribe(func(e Event) {
		switch e.Kind {
		case EventOnline:
			fn(true)
		case EventOffline:
			fn(false)
		}
	})
}

// ReportSync emits sync.complete, or sync.failed when a storage failure
// aborted the pass. Implements engine.Reporter.
func (h *Hub) ReportSync(res engine.Result) {
	kind := EventSyncComplete
	if res.Error != "" {
		kind = EventSyncFailed
	}
	h.emit(Event{Kind: kind, Result: &res})
}

// QueueChanged emits queue.changed with the current pending count.
func (h *Hub) QueueChanged(n int) {
	h.emit(Event{Kind: EventQueueChanged, PendingCount: n})
}

// Status reads the current snapshot. Counts and timestamps come from the
// store on every call.
func (h *Hub) Status(ctx context.Context) (Snapshot, error) {
	n, err := h.pending.PendingCount(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("status: %w", err)
	}
	last, err := h.times.GetTime(ctx, store.MetaLastSyncTime)
	if err != nil {
		return Snapshot{}, fmt.Errorf("status: %w", err)
	}

	snap := Snapshot{IsOnline: h.IsOnline(), PendingCount: n}
	if !last.IsZero() {
		snap.LastSyncTime = &last
	}
	return snap, nil
}

func (h *Hub) emit(e Event) {
	e.At = h.clock.Now()

	h.mu.Lock()
	fns := make([]func(Event), 0, len(h.listeners))
	for id := 0; id < h.nextID; id++ {
		if fn, ok := h.listeners[id]; ok {
			fns = append(fns, fn)
		}
	}
	h.mu.Unlock()

	for _, fn := range fns {
		h.call(fn, e)
	}
}

func (h *Hub) call(fn func(Event), e Event) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("status listener panicked", "event", e.Kind, "panic", r)
		}
	}()
	fn(e)
}
