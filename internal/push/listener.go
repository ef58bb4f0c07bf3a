package push

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"nhooyr.io/websocket"

	"github.com/roach88/offsync/internal/credential"
)

// Reconnect backoff bounds.
const (
	DefaultReconnectBase = time.Second
	DefaultReconnectMax  = 30 * time.Second
)

// stableAfter is how long a connection must last before the backoff
// resets.
const stableAfter = time.Minute

// Listener reads push messages from a websocket stream and hands each to
// a Deliverer, reconnecting with exponential backoff.
type Listener struct {
	url       string
	deliverer *Deliverer
	creds     credential.Source
	client    *http.Client
	logger    *slog.Logger

	base time.Duration
	max  time.Duration
}

// ListenerOption configures a Listener.
type ListenerOption func(*Listener)

// WithBackoff sets the reconnect delay bounds.
func WithBackoff(base, max time.Duration) ListenerOption {
	return func(l *Listener) {
		l.base = base
		l.max = max
	}
}

// WithListenerCredentials sends the current credential when dialing.
func WithListenerCredentials(s credential.Source) ListenerOption {
	return func(l *Listener) {
		l.creds = s
	}
}

// WithHTTPClient sets the client used for the websocket handshake.
func WithHTTPClient(c *http.Client) ListenerOption {
	return func(l *Listener) {
		l.client = c
	}
}

// WithListenerLogger sets the logger.
func WithListenerLogger(logger *slog.Logger) ListenerOption {
	return func(l *Listener) {
		l.logger = logger
	}
}

// NewListener creates a Listener for streamURL.
func NewListener(streamURL string, d *Deliverer, opts ...ListenerOption) *Listener {
	l := &Listener{
		url:       streamURL,
		deliverer: d,
		creds:     credential.None,
		logger:    slog.Default(),
		base:      DefaultReconnectBase,
		max:       DefaultReconnectMax,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run connects and delivers messages until ctx is done. It returns nil on
// cancellation; connection failures are retried forever.
func (l *Listener) Run(ctx context.Context) error {
	l.logger.Info("push listener starting", "url", l.url)
	attempt := 0
	for {
		started := time.Now()
		err := l.session(ctx)
		if ctx.Err() != nil {
			l.logger.Info("push listener stopped")
			return nil
		}
		if time.Since(started) > stableAfter {
			attempt = 0
		}
		delay := l.delay(attempt)
		attempt++
		l.logger.Warn("push stream disconnected",
			"error", err,
			"attempt", attempt,
			"retry_in", delay,
		)

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			l.logger.Info("push listener stopped")
			return nil
		case <-t.C:
		}
	}
}

// delay returns base * 2^attempt, capped at max.
func (l *Listener) delay(attempt int) time.Duration {
	d := l.base
	for i := 0; i < attempt && d < l.max; i++ {
		d *= 2
	}
	if d > l.max {
		d = l.max
	}
	return d
}

// session runs one connection until it fails.
func (l *Listener) session(ctx context.Context) error {
	header := http.Header{}
	token, err := l.creds.Credential(ctx)
	if err != nil {
		return err
	}
	if token != "" {
		header.Set("Authorization", credential.Bearer(token))
	}

	conn, _, err := websocket.Dial(ctx, l.url, &websocket.DialOptions{
		HTTPClient: l.client,
		HTTPHeader: header,
	})
	if err != nil {
		return err
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	conn.SetReadLimit(1 << 20)
	l.logger.Info("push stream connected", "url", l.url)

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		if typ != websocket.MessageText {
			l.logger.Warn("ignoring binary push frame", "bytes", len(data))
			continue
		}
		if _, err := l.deliverer.Deliver(ctx, data); err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			l.logger.Error("push delivery failed", "error", err)
		}
	}
}
