// Package router is the edge routing layer between the application and
// the network.
//
// The Router is an http.RoundTripper: an application builds its client with
// &http.Client{Transport: router} and every call is classified.
//
//   - Reads follow the policy table: cache-first, network-first or
//     network-only.
//   - Writes go to the network first. When the caller is offline or the
//     transport fails, the write is queued and a synthesized 503 with a
//     "queued" marker is returned instead of an error.
//
// A server response, 4xx and 5xx included, is always returned as-is so a
// rejected write surfaces as a real failure.
package router

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/roach88/offsync/internal/cache"
	"github.com/roach88/offsync/internal/credential"
	"github.com/roach88/offsync/internal/model"
	"github.com/roach88/offsync/internal/queue"
)

// Headers the router reads from requests and sets on responses.
const (
	HeaderPriority    = "X-Offsync-Priority"
	HeaderDescription = "X-Offsync-Description"
	HeaderCache       = "X-Offsync-Cache"
	HeaderQueued      = "X-Offsync-Queued"
	HeaderQueueID     = "X-Offsync-Queue-Id"
)

// DefaultReadTimeout bounds network reads before falling back to cache.
const DefaultReadTimeout = 3 * time.Second

// ErrOffline is returned for a read that cannot be served while offline.
var ErrOffline = errors.New("offline and no cached response")

// OnlineSource reports current connectivity. Implemented by status.Hub.
type OnlineSource interface {
	IsOnline() bool
}

// Router routes requests between network, cache and queue.
//
// Thread-safety: safe for concurrent use.
type Router struct {
	cache  *cache.Cache
	queue  *queue.Queue
	next   http.RoundTripper
	policy Policy
	online OnlineSource
	creds  credential.Source
	base   *url.URL
	logger *slog.Logger
	clock  model.Clock

	readTimeout time.Duration
	onQueued    func(queue.Item)
	group       singleflight.Group
}

// Option configures a Router.
type Option func(*Router)

// WithTransport sets the network transport. Default: http.DefaultTransport.
func WithTransport(rt http.RoundTripper) Option {
	return func(r *Router) {
		r.next = rt
	}
}

// WithPolicy sets the read policy table.
func WithPolicy(p Policy) Option {
	return func(r *Router) {
		r.policy = p
	}
}

// WithOnline sets the connectivity source. Without one the router never
// considers itself explicitly offline.
func WithOnline(o OnlineSource) Option {
	return func(r *Router) {
		r.online = o
	}
}

// WithReadTimeout bounds network reads. Default: 3s.
func WithReadTimeout(d time.Duration) Option {
	return func(r *Router) {
		r.readTimeout = d
	}
}

// WithOnQueued sets a callback fired after a write is queued.
func WithOnQueued(fn func(queue.Item)) Option {
	return func(r *Router) {
		r.onQueued = fn
	}
}

// WithCredentials attaches the current credential to requests that carry
// no Authorization header.
func WithCredentials(s credential.Source) Option {
	return func(r *Router) {
		r.creds = s
	}
}

// WithBaseURL resolves relative targets passed to Write.
func WithBaseURL(u *url.URL) Option {
	return func(r *Router) {
		r.base = u
	}
}

// WithClock sets the clock. Only used for log context.
func WithClock(c model.Clock) Option {
	return func(r *Router) {
		r.clock = c
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) {
		r.logger = l
	}
}

// New creates a Router over c and q.
func New(c *cache.Cache, q *queue.Queue, opts ...Option) *Router {
	r := &Router{
		cache:       c,
		queue:       q,
		next:        http.DefaultTransport,
		policy:      Policy{},
		logger:      slog.Default(),
		clock:       model.SystemClock{},
		readTimeout: DefaultReadTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Client returns an http.Client routed through r.
func (r *Router) Client() *http.Client {
	return &http.Client{Transport: r}
}

// Policy returns the active policy.
func (r *Router) Policy() Policy {
	return r.policy
}

// RoundTrip implements http.RoundTripper.
func (r *Router) RoundTrip(req *http.Request) (*http.Response, error) {
	if isRead(req.Method) {
		return r.roundTripRead(req)
	}
	return r.roundTripWrite(req)
}

// offline reports whether the platform has explicitly signalled offline.
func (r *Router) offline() bool {
	return r.online != nil && !r.online.IsOnline()
}

func isRead(method string) bool {
	return model.IsReadMethod(strings.ToUpper(method))
}
