package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/roach88/offsync/internal/canon"
	"github.com/roach88/offsync/internal/credential"
)

// cachedResponse is the stored form of a read response.
type cachedResponse struct {
	Status int         `json:"status"`
	Header http.Header `json:"header"`
	Body   []byte      `json:"body"`
}

func (c cachedResponse) ok() bool {
	return c.Status >= 200 && c.Status < 300
}

// response builds a fresh *http.Response for req. Every caller sharing a
// singleflight result gets its own body reader.
func (c cachedResponse) response(req *http.Request) *http.Response {
	h := c.Header.Clone()
	if h == nil {
		h = http.Header{}
	}
	return &http.Response{
		StatusCode:    c.Status,
		Status:        strconv.Itoa(c.Status) + " " + http.StatusText(c.Status),
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        h,
		Body:          io.NopCloser(bytes.NewReader(c.Body)),
		ContentLength: int64(len(c.Body)),
		Request:       req,
	}
}

// cacheKey is the logical identity of a read.
func cacheKey(req *http.Request) (string, error) {
	k, err := canon.RequestKey(req.Method, req.URL.String())
	if err != nil {
		return "", err
	}
	return "req:" + k, nil
}

func (r *Router) roundTripRead(req *http.Request) (*http.Response, error) {
	rule := r.policy.Resolve(req.Method, req.URL.String())
	if !rule.Strategy.Cached() {
		return r.send(req)
	}

	key, err := cacheKey(req)
	if err != nil {
		return nil, fmt.Errorf("route %s %s: %w", req.Method, req.URL, err)
	}
	ctx := req.Context()

	if rule.Strategy == CacheFirst {
		if cr, ok := r.lookup(ctx, key); ok {
			return r.hit(cr, req), nil
		}
		cr, err := r.fetch(req, key, rule.TTL, 0)
		if err != nil {
			return nil, err
		}
		return cr.response(req), nil
	}

	// network-first
	if r.offline() {
		if cr, ok := r.lookup(ctx, key); ok {
			return r.hit(cr, req), nil
		}
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL, ErrOffline)
	}
	cr, err := r.fetch(req, key, rule.TTL, r.readTimeout)
	if err == nil {
		return cr.response(req), nil
	}
	if ctx.Err() != nil {
		return nil, err
	}
	if cached, ok := r.lookup(ctx, key); ok {
		r.logger.Info("network read failed, serving cache",
			"url", req.URL.String(),
			"error", err,
		)
		return r.hit(cached, req), nil
	}
	return nil, err
}

// fetch performs a coalesced network read and caches 2xx results.
// A timeout of zero means no read deadline.
func (r *Router) fetch(req *http.Request, key string, ttl, timeout time.Duration) (cachedResponse, error) {
	v, err, shared := r.group.Do(key, func() (any, error) {
		// Detached from the first caller so one caller giving up does not
		// fail everyone waiting on the same key.
		ctx := context.WithoutCancel(req.Context())
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		resp, err := r.send(req.Clone(ctx))
		if err != nil {
			return cachedResponse{}, err
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return cachedResponse{}, fmt.Errorf("read body: %w", err)
		}
		cr := cachedResponse{Status: resp.StatusCode, Header: resp.Header, Body: body}
		if cr.ok() {
			r.store(ctx, key, cr, ttl)
		}
		return cr, nil
	})
	if err != nil {
		return cachedResponse{}, err
	}
	if shared {
		r.logger.Debug("read coalesced", "url", req.URL.String())
	}
	return v.(cachedResponse), nil
}

func (r *Router) lookup(ctx context.Context, key string) (cachedResponse, bool) {
	raw, ok, err := r.cache.Get(ctx, key)
	if err != nil {
		r.logger.Warn("cache read failed", "key", key, "error", err)
		return cachedResponse{}, false
	}
	if !ok {
		return cachedResponse{}, false
	}
	var cr cachedResponse
	if err := json.Unmarshal(raw, &cr); err != nil {
		r.logger.Warn("cache entry unreadable", "key", key, "error", err)
		return cachedResponse{}, false
	}
	return cr, true
}

func (r *Router) store(ctx context.Context, key string, cr cachedResponse, ttl time.Duration) {
	raw, err := json.Marshal(cr)
	if err != nil {
		r.logger.Warn("cache encode failed", "key", key, "error", err)
		return
	}
	if err := r.cache.Set(ctx, key, raw, ttl); err != nil {
		r.logger.Warn("cache write failed", "key", key, "error", err)
	}
}

func (r *Router) hit(cr cachedResponse, req *http.Request) *http.Response {
	resp := cr.response(req)
	resp.Header.Set(HeaderCache, "hit")
	return resp
}

// send forwards req to the network with the current credential attached
// when the caller set none.
func (r *Router) send(req *http.Request) (*http.Response, error) {
	if r.creds != nil && req.Header.Get("Authorization") == "" {
		token, err := r.creds.Credential(req.Context())
		if err != nil {
			return nil, fmt.Errorf("read credential: %w", err)
		}
		if token != "" {
			req = req.Clone(req.Context())
			req.Header.Set("Authorization", credential.Bearer(token))
		}
	}
	return r.next.RoundTrip(req)
}

// FetchFunc loads a value from the network.
type FetchFunc func(ctx context.Context) ([]byte, error)

// Get is the cached read used by UI code that does not speak HTTP.
//
// Offline, it serves the cache or returns ErrOffline. Online, it calls
// fetch and stores the result for ttl, falling back to the cache when
// fetch fails.
func (r *Router) Get(ctx context.Context, key string, fetch FetchFunc, ttl time.Duration) ([]byte, error) {
	if r.offline() {
		raw, ok, err := r.cache.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("get %q: %w", key, ErrOffline)
		}
		return raw, nil
	}

	v, err, _ := r.group.Do("get:"+key, func() (any, error) {
		return fetch(ctx)
	})
	if err == nil {
		raw := v.([]byte)
		if err := r.cache.Set(ctx, key, raw, ttl); err != nil {
			r.logger.Warn("cache write failed", "key", key, "error", err)
		}
		return raw, nil
	}

	raw, ok, cerr := r.cache.Get(ctx, key)
	if cerr != nil {
		return nil, errors.Join(err, cerr)
	}
	if !ok {
		return nil, err
	}
	r.logger.Info("fetch failed, serving cache", "key", key, "error", err)
	return raw, nil
}
