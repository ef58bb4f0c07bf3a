package push

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/roach88/offsync/internal/credential"
)

// Registration errors.
var (
	ErrAlreadySubscribed = errors.New("push subscription already active")
	ErrNotSubscribed     = errors.New("no active push subscription")
)

// State is the subscription lifecycle state.
type State string

const (
	StateUnregistered State = "unregistered"
	StateSubscribed   State = "subscribed"
)

// Subscription is the record the push service needs to reach this client.
type Subscription struct {
	Endpoint   string     `json:"endpoint"`
	Keys       Keys       `json:"keys"`
	DeviceInfo DeviceInfo `json:"deviceInfo"`
}

// Keys are the client's message encryption keys.
type Keys struct {
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}

// DeviceInfo describes the subscribing client.
type DeviceInfo struct {
	UserAgent string `json:"userAgent"`
	Platform  string `json:"platform"`
}

// Registrar registers the client's subscription with the application
// server. The record lives in memory only.
//
// Thread-safety: safe for concurrent use; calls are serialized.
type Registrar struct {
	url    string
	client *http.Client
	creds  credential.Source
	logger *slog.Logger

	mu    sync.Mutex
	state State
	sub   Subscription
}

// NewRegistrar creates a Registrar posting to subscribeURL.
func NewRegistrar(subscribeURL string, client *http.Client, creds credential.Source, logger *slog.Logger) *Registrar {
	if client == nil {
		client = http.DefaultClient
	}
	if creds == nil {
		creds = credential.None
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registrar{
		url:    subscribeURL,
		client: client,
		creds:  creds,
		logger: logger,
		state:  StateUnregistered,
	}
}

// State returns the current state.
func (r *Registrar) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Subscription returns the active record, if any.
func (r *Registrar) Subscription() (Subscription, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sub, r.state == StateSubscribed
}

// Subscribe sends rec to the server. Allowed only from Unregistered.
func (r *Registrar) Subscribe(ctx context.Context, rec Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateSubscribed {
		return ErrAlreadySubscribed
	}
	if err := r.send(ctx, http.MethodPost, &rec); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	r.state = StateSubscribed
	r.sub = rec
	r.logger.Info("push subscribed", "endpoint", rec.Endpoint)
	return nil
}

// Renew re-sends rec, replacing the active record. The state stays
// Subscribed whether or not the server accepts it.
func (r *Registrar) Renew(ctx context.Context, rec Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateSubscribed {
		return ErrNotSubscribed
	}
	if err := r.send(ctx, http.MethodPost, &rec); err != nil {
		return fmt.Errorf("renew: %w", err)
	}
	r.sub = rec
	r.logger.Info("push subscription renewed", "endpoint", rec.Endpoint)
	return nil
}

// Unsubscribe removes the subscription. Unsubscribing while unregistered
// is a no-op.
func (r *Registrar) Unsubscribe(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateUnregistered {
		return nil
	}
	if err := r.send(ctx, http.MethodDelete, &r.sub); err != nil {
		return fmt.Errorf("unsubscribe: %w", err)
	}
	r.state = StateUnregistered
	r.sub = Subscription{}
	r.logger.Info("push unsubscribed")
	return nil
}

func (r *Registrar) send(ctx context.Context, method string, rec *Subscription) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, method, r.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	token, err := r.creds.Credential(ctx)
	if err != nil {
		return fmt.Errorf("read credential: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", credential.Bearer(token))
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("server returned %d", resp.StatusCode)
	}
	return nil
}
