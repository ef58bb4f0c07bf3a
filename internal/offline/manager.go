// Package offline wires the cache, queue, router, sync engine, status hub
// and push delivery into one Manager.
//
// A Manager holds no global state; two Managers over two stores are fully
// independent.
package offline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/offsync/internal/cache"
	"github.com/roach88/offsync/internal/config"
	"github.com/roach88/offsync/internal/credential"
	"github.com/roach88/offsync/internal/engine"
	"github.com/roach88/offsync/internal/model"
	"github.com/roach88/offsync/internal/push"
	"github.com/roach88/offsync/internal/queue"
	"github.com/roach88/offsync/internal/router"
	"github.com/roach88/offsync/internal/status"
	"github.com/roach88/offsync/internal/store"
)

// Manager is the application-facing entry point.
//
// Thread-safety: safe for concurrent use. Run must be called at most once.
type Manager struct {
	cfg    config.Config
	store  *store.Store
	logger *slog.Logger

	cache     *cache.Cache
	queue     *queue.Queue
	hub       *status.Hub
	router    *router.Router
	engine    *engine.Engine
	deliverer *push.Deliverer
	registrar *push.Registrar
	prober    *status.Prober
	listener  *push.Listener
}

type options struct {
	transport http.RoundTripper
	clock     model.Clock
	logger    *slog.Logger
	creds     credential.Source
	keys      queue.KeyGenerator
	notifier  push.Notifier
	launcher  push.Launcher
	online    *bool
	engine    []engine.EngineOption
}

// Option configures a Manager.
type Option func(*options)

// WithTransport sets the network transport shared by every component.
// Default: http.DefaultTransport.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) {
		o.transport = rt
	}
}

// WithClock sets the wall clock shared by every component.
func WithClock(c model.Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

// WithLogger sets the logger shared by every component.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithCredentials overrides the credential source from config.
func WithCredentials(s credential.Source) Option {
	return func(o *options) {
		o.creds = s
	}
}

// WithKeyGenerator sets the idempotency key generator.
func WithKeyGenerator(g queue.KeyGenerator) Option {
	return func(o *options) {
		o.keys = g
	}
}

// WithNotifier sets how push notifications are shown.
// Default: push.LogNotifier.
func WithNotifier(n push.Notifier) Option {
	return func(o *options) {
		o.notifier = n
	}
}

// WithLauncher sets how notification clicks open the application.
// Default: push.CommandLauncher with the configured opener.
func WithLauncher(l push.Launcher) Option {
	return func(o *options) {
		o.launcher = l
	}
}

// WithInitialOnline sets the starting connectivity. Default: online.
func WithInitialOnline(v bool) Option {
	return func(o *options) {
		o.online = &v
	}
}

// WithEngineOptions appends raw engine options after the config-derived
// ones.
func WithEngineOptions(opts ...engine.EngineOption) Option {
	return func(o *options) {
		o.engine = append(o.engine, opts...)
	}
}

// New builds a Manager over st. cfg must already be validated.
func New(st *store.Store, cfg config.Config, opts ...Option) (*Manager, error) {
	o := options{
		transport: http.DefaultTransport,
		clock:     model.SystemClock{},
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.creds == nil {
		o.creds = credential.FromConfig(cfg.Credential.Env, cfg.Credential.File)
	}

	base, err := cfg.BaseURL()
	if err != nil {
		return nil, err
	}
	policy, err := cfg.RoutingPolicy()
	if err != nil {
		return nil, fmt.Errorf("routing: %w", err)
	}
	authPolicy, err := engine.ParseAuthPolicy(cfg.Sync.AuthPolicy)
	if err != nil {
		return nil, fmt.Errorf("sync: %w", err)
	}

	m := &Manager{cfg: cfg, store: st, logger: o.logger}

	m.cache = cache.New(st, cache.WithClock(o.clock), cache.WithLogger(o.logger))

	qopts := []queue.Option{queue.WithClock(o.clock), queue.WithLogger(o.logger)}
	if o.keys != nil {
		qopts = append(qopts, queue.WithKeyGenerator(o.keys))
	}
	m.queue = queue.New(st, qopts...)

	hopts := []status.Option{status.WithClock(o.clock), status.WithLogger(o.logger)}
	if o.online != nil {
		hopts = append(hopts, status.WithInitialOnline(*o.online))
	}
	m.hub = status.NewHub(m.queue, st, hopts...)

	m.router = router.New(m.cache, m.queue,
		router.WithTransport(o.transport),
		router.WithPolicy(policy),
		router.WithOnline(m.hub),
		router.WithReadTimeout(cfg.Routing.ReadTimeout.D()),
		router.WithBaseURL(base),
		router.WithCredentials(o.creds),
		router.WithClock(o.clock),
		router.WithLogger(o.logger),
		router.WithOnQueued(func(queue.Item) { m.publishQueue(context.Background()) }),
	)

	eopts := []engine.EngineOption{
		engine.WithMaxRetries(cfg.Sync.MaxRetries),
		engine.WithRetryBackoff(cfg.Sync.RetryBackoff.D()),
		engine.WithItemDelay(cfg.Sync.ItemDelay.D()),
		engine.WithInterval(cfg.Sync.Interval.D()),
		engine.WithLeaseTTL(cfg.Sync.LeaseTTL.D()),
		engine.WithIdempotencyHeader(cfg.Sync.IdempotencyKeys),
		engine.WithAuthPolicy(authPolicy),
		engine.WithAuthHook(m.authRejected),
		engine.WithMeta(st),
		engine.WithOnlineSource(m.hub),
		engine.WithReporter(reporter{m}),
		engine.WithBaseURL(base),
		engine.WithClock(o.clock),
		engine.WithLogger(o.logger),
	}
	// Replays go straight to the network, never back through the router.
	m.engine = engine.New(m.queue, &http.Client{Transport: o.transport}, o.creds, append(eopts, o.engine...)...)
	m.hub.OnOnlineChange(m.engine.OnlineChanged)

	notifier := o.notifier
	if notifier == nil {
		notifier = push.LogNotifier{Logger: o.logger}
	}
	launcher := o.launcher
	if launcher == nil {
		launcher = push.CommandLauncher{Command: cfg.Push.Opener, BaseURL: appURL(cfg, base)}
	}
	m.deliverer = push.NewDeliverer(notifier, launcher, o.logger)

	client := &http.Client{Transport: o.transport}
	if cfg.Push.SubscribeURL != "" {
		m.registrar = push.NewRegistrar(cfg.Push.SubscribeURL, client, o.creds, o.logger)
	}
	if cfg.Push.StreamURL != "" {
		m.listener = push.NewListener(cfg.Push.StreamURL, m.deliverer,
			push.WithListenerCredentials(o.creds),
			push.WithHTTPClient(client),
			push.WithListenerLogger(o.logger),
		)
	}
	if target := cfg.ProbeURL(); target != "" {
		m.prober = status.NewProber(target, m.hub,
			status.WithProbeClient(client),
			status.WithProbeInterval(cfg.Connectivity.ProbeInterval.D()),
			status.WithProbeTimeout(cfg.Connectivity.ProbeTimeout.D()),
			status.WithProbeLogger(o.logger),
		)
	}
	return m, nil
}

func appURL(cfg config.Config, base *url.URL) *url.URL {
	if cfg.Push.AppURL != "" {
		if u, err := url.Parse(cfg.Push.AppURL); err == nil {
			return u
		}
	}
	return base
}

// Get is a cached read. See router.Router.Get.
func (m *Manager) Get(ctx context.Context, key string, fetch router.FetchFunc, ttl time.Duration) ([]byte, error) {
	return m.router.Get(ctx, key, fetch, ttl)
}

// Write sends or queues a mutating request. See router.Router.Write.
func (m *Manager) Write(ctx context.Context, targetURL, method string, body []byte) (router.WriteResult, error) {
	return m.router.Write(ctx, targetURL, method, body)
}

// Status returns connectivity, pending count and last sync time.
func (m *Manager) Status(ctx context.Context) (status.Snapshot, error) {
	return m.hub.Status(ctx)
}

// Subscribe registers fn for status events.
func (m *Manager) Subscribe(fn func(status.Event)) (unsubscribe func()) {
	return m.hub.Subscribe(fn)
}

// SetOnline feeds a platform connectivity signal.
func (m *Manager) SetOnline(v bool) {
	m.hub.SetOnline(v)
}

// SyncNow runs a replay pass and waits for it.
func (m *Manager) SyncNow(ctx context.Context) (engine.Result, error) {
	return m.engine.SyncNow(ctx)
}

// QueueStatus returns every queued item.
func (m *Manager) QueueStatus(ctx context.Context) (queue.Snapshot, error) {
	return m.queue.Snapshot(ctx)
}

// Reauthenticated releases items held after a 401 and triggers a pass.
// It returns how many items were released.
func (m *Manager) Reauthenticated(ctx context.Context) (int, error) {
	n, err := m.queue.ReleaseHolds(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		m.engine.Trigger()
	}
	return n, nil
}

// HTTPClient returns a client routed through the offline layer.
func (m *Manager) HTTPClient() *http.Client {
	return m.router.Client()
}

// Run starts the sync loop, the connectivity prober and the push
// listener when configured, and blocks until ctx is done or one fails.
// Cancellation is not an error.
func (m *Manager) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer m.engine.Stop()
		return m.engine.Run(ctx)
	})
	if m.prober != nil {
		g.Go(func() error { return m.prober.Run(ctx) })
	}
	if m.listener != nil {
		g.Go(func() error { return m.listener.Run(ctx) })
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Cache returns the response cache.
func (m *Manager) Cache() *cache.Cache { return m.cache }

// Queue returns the mutation queue.
func (m *Manager) Queue() *queue.Queue { return m.queue }

// Engine returns the sync engine.
func (m *Manager) Engine() *engine.Engine { return m.engine }

// Hub returns the status hub.
func (m *Manager) Hub() *status.Hub { return m.hub }

// Router returns the routing layer.
func (m *Manager) Router() *router.Router { return m.router }

// Deliverer returns the push deliverer.
func (m *Manager) Deliverer() *push.Deliverer { return m.deliverer }

// Registrar returns the push registrar, or nil when push.subscribe_url is
// unset.
func (m *Manager) Registrar() *push.Registrar { return m.registrar }

// Listener returns the push stream listener, or nil when
// push.stream_url is unset.
func (m *Manager) Listener() *push.Listener { return m.listener }

// Prober returns the connectivity prober, or nil when probing is off.
func (m *Manager) Prober() *status.Prober { return m.prober }

func (m *Manager) publishQueue(ctx context.Context) {
	n, err := m.queue.PendingCount(ctx)
	if err != nil {
		m.logger.Warn("pending count failed", "error", err)
		return
	}
	m.hub.QueueChanged(n)
}

func (m *Manager) authRejected(_ context.Context, item queue.Item) {
	m.logger.Warn("replay rejected as unauthenticated; refresh the credential and call Reauthenticated",
		"id", item.ID,
		"target", item.TargetURL,
	)
}

// reporter forwards pass results to the hub.
type reporter struct{ m *Manager }

func (r reporter) ReportSync(res engine.Result) {
	r.m.hub.ReportSync(res)
	r.m.publishQueue(context.Background())
}
