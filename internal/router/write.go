package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/roach88/offsync/internal/model"
	"github.com/roach88/offsync/internal/queue"
)

// QueuedMessage is the message carried by a synthesized queued response.
const QueuedMessage = "Request queued for sync when online"

// QueuedBody is the JSON body of a synthesized queued response.
type QueuedBody struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Queued  bool   `json:"queued"`
	QueueID string `json:"queueId"`
}

// WriteResult reports how a write was handled.
type WriteResult struct {
	Queued     bool   `json:"queued"`
	QueueID    int64  `json:"queueId,omitempty"`
	StatusCode int    `json:"statusCode"`
	Data       []byte `json:"data,omitempty"`
}

// RejectedError is returned by Write when the server answered with a
// non-2xx status. The write was not queued.
type RejectedError struct {
	StatusCode int
	Body       []byte
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("write rejected: status %d", e.StatusCode)
}

func (r *Router) roundTripWrite(req *http.Request) (*http.Response, error) {
	var body []byte
	if req.Body != nil {
		var err error
		body, err = io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("read request body: %w", err)
		}
	}

	if !r.offline() {
		out := req.Clone(req.Context())
		out.Body = io.NopCloser(bytes.NewReader(body))
		out.ContentLength = int64(len(body))
		resp, err := r.send(out)
		if err == nil {
			return resp, nil
		}
		if req.Context().Err() != nil {
			return nil, err
		}
		r.logger.Info("write failed, queueing",
			"method", req.Method,
			"url", req.URL.String(),
			"error", err,
		)
	}

	item, err := r.enqueue(req, body)
	if err != nil {
		return nil, err
	}
	if r.onQueued != nil {
		r.onQueued(item)
	}
	return queuedResponse(req, item.ID)
}

func (r *Router) enqueue(req *http.Request, body []byte) (queue.Item, error) {
	priority := model.PriorityMedium
	if raw := req.Header.Get(HeaderPriority); raw != "" {
		p, err := model.ParsePriority(raw)
		if err != nil {
			r.logger.Warn("ignoring bad priority header", "value", raw, "error", err)
		} else {
			priority = p
		}
	}

	headers := queue.HeadersFrom(req.Header)
	delete(headers, HeaderPriority)
	delete(headers, HeaderDescription)

	return r.queue.Enqueue(req.Context(), queue.Request{
		TargetURL:   req.URL.String(),
		Method:      req.Method,
		Headers:     headers,
		Body:        body,
		Priority:    priority,
		Description: req.Header.Get(HeaderDescription),
	})
}

func queuedResponse(req *http.Request, id int64) (*http.Response, error) {
	qid := strconv.FormatInt(id, 10)
	raw, err := json.Marshal(QueuedBody{
		Success: false,
		Message: QueuedMessage,
		Queued:  true,
		QueueID: qid,
	})
	if err != nil {
		return nil, err
	}
	cr := cachedResponse{
		Status: http.StatusServiceUnavailable,
		Header: http.Header{
			"Content-Type": {"application/json"},
			HeaderQueued:   {"true"},
			HeaderQueueID:  {qid},
		},
		Body: raw,
	}
	return cr.response(req), nil
}

// Write sends a mutating request through the router.
//
// A write that could not reach the network is queued and reported with
// Queued set; that is never an error. A server rejection returns the
// result together with a *RejectedError.
func (r *Router) Write(ctx context.Context, targetURL, method string, body []byte) (WriteResult, error) {
	if isRead(method) {
		return WriteResult{}, fmt.Errorf("write %s %s: %w", method, targetURL, queue.ErrReadMethod)
	}
	target, err := r.resolve(targetURL)
	if err != nil {
		return WriteResult{}, err
	}
	req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(body))
	if err != nil {
		return WriteResult{}, fmt.Errorf("write: %w", err)
	}
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.RoundTrip(req)
	if err != nil {
		return WriteResult{}, fmt.Errorf("write %s %s: %w", method, target, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return WriteResult{}, fmt.Errorf("write %s %s: read body: %w", method, target, err)
	}

	res := WriteResult{StatusCode: resp.StatusCode, Data: data}
	if resp.Header.Get(HeaderQueued) == "true" {
		res.Queued = true
		res.QueueID, _ = strconv.ParseInt(resp.Header.Get(HeaderQueueID), 10, 64)
		return res, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return res, &RejectedError{StatusCode: resp.StatusCode, Body: data}
	}
	return res, nil
}

func (r *Router) resolve(target string) (string, error) {
	u, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("parse target %q: %w", target, err)
	}
	if u.IsAbs() || r.base == nil {
		return u.String(), nil
	}
	return r.base.ResolveReference(u).String(), nil
}
