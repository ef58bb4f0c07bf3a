package status

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Prober defaults.
const (
	DefaultProbeInterval = 15 * time.Second
	DefaultProbeTimeout  = 5 * time.Second
)

// OnlineSetter receives probe results. Implemented by *Hub.
type OnlineSetter interface {
	SetOnline(bool)
}

// Prober infers connectivity by sending HEAD to a fixed URL.
//
// Any HTTP response, whatever its status, means the network is reachable.
// Only a transport failure or timeout counts as offline.
type Prober struct {
	target   string
	client   *http.Client
	sink     OnlineSetter
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger
}

// ProberOption configures a Prober.
type ProberOption func(*Prober)

// WithProbeClient sets the HTTP client. Default: http.DefaultClient.
func WithProbeClient(c *http.Client) ProberOption {
	return func(p *Prober) {
		p.client = c
	}
}

// WithProbeInterval sets how often Run probes.
func WithProbeInterval(d time.Duration) ProberOption {
	return func(p *Prober) {
		p.interval = d
	}
}

// WithProbeTimeout bounds a single probe.
func WithProbeTimeout(d time.Duration) ProberOption {
	return func(p *Prober) {
		p.timeout = d
	}
}

// WithProbeLogger sets the logger.
func WithProbeLogger(l *slog.Logger) ProberOption {
	return func(p *Prober) {
		p.logger = l
	}
}

// NewProber creates a Prober for target reporting to sink.
func NewProber(target string, sink OnlineSetter, opts ...ProberOption) *Prober {
	p := &Prober{
		target:   target,
		client:   http.DefaultClient,
		sink:     sink,
		interval: DefaultProbeInterval,
		timeout:  DefaultProbeTimeout,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Probe sends one request and reports the result to the sink.
// Nothing is reported when parent is cancelled mid-probe.
func (p *Prober) Probe(parent context.Context) bool {
	ctx, cancel := context.WithTimeout(parent, p.timeout)
	defer cancel()

	online := false
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.target, nil)
	if err == nil {
		var resp *http.Response
		resp, err = p.client.Do(req)
		if err == nil {
			resp.Body.Close()
			online = true
		}
	}
	if err != nil {
		if parent.Err() != nil {
			return false
		}
		p.logger.Debug("probe failed", "target", p.target, "error", err)
	}
	p.sink.SetOnline(online)
	return online
}

// Run probes immediately and then every interval until ctx is done.
func (p *Prober) Run(ctx context.Context) error {
	p.logger.Info("prober starting", "target", p.target, "interval", p.interval)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			return nil
		}
		p.Probe(ctx)
		select {
		case <-ctx.Done():
			p.logger.Info("prober stopped")
			return nil
		case <-ticker.C:
		}
	}
}
