// Package control exposes the manual trigger channel and status over a
// local HTTP API.
//
//	POST /v1/messages          {"type":"SYNC_OFFLINE_QUEUE"} or {"type":"GET_QUEUE_STATUS"}
//	GET  /v1/status            connectivity, pending count, last sync time
//	POST /v1/push              push webhook ingress
//	POST /v1/push/interaction  notification click or dismissal
//	POST /v1/auth/refreshed    release auth-held items and sync
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/roach88/offsync/internal/engine"
	"github.com/roach88/offsync/internal/push"
	"github.com/roach88/offsync/internal/queue"
	"github.com/roach88/offsync/internal/status"
)

// Message types accepted on /v1/messages.
const (
	MessageSyncOfflineQueue = "SYNC_OFFLINE_QUEUE"
	MessageGetQueueStatus   = "GET_QUEUE_STATUS"
)

// maxBody bounds request bodies.
const maxBody = 1 << 20

// Backend is the sync system the API drives. Implemented by
// *offline.Manager.
type Backend interface {
	SyncNow(ctx context.Context) (engine.Result, error)
	QueueStatus(ctx context.Context) (queue.Snapshot, error)
	Status(ctx context.Context) (status.Snapshot, error)
	Reauthenticated(ctx context.Context) (int, error)
}

// PushHandler receives push payloads and interactions. Implemented by
// *push.Deliverer.
type PushHandler interface {
	Deliver(ctx context.Context, raw []byte) (push.Notification, error)
	HandleInteraction(ctx context.Context, in push.Interaction) (push.Outcome, error)
}

// Message is a trigger channel request.
type Message struct {
	Type string `json:"type"`
}

// SyncReply answers SYNC_OFFLINE_QUEUE.
type SyncReply struct {
	Success bool           `json:"success"`
	Result  *engine.Result `json:"result,omitempty"`
	Error   string         `json:"error,omitempty"`
}

type errorReply struct {
	Error string `json:"error"`
}

type handler struct {
	backend Backend
	push    PushHandler
	logger  *slog.Logger
}

// NewServer builds the API. The push routes are mounted only when ph is
// non-nil.
func NewServer(b Backend, ph PushHandler, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &handler{backend: b, push: ph, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/v1", func(r chi.Router) {
		r.Post("/messages", h.messages)
		r.Get("/status", h.status)
		r.Post("/auth/refreshed", h.authRefreshed)
		if ph != nil {
			r.Post("/push", h.pushMessage)
			r.Post("/push/interaction", h.pushInteraction)
		}
	})
	return r
}

func (h *handler) messages(w http.ResponseWriter, r *http.Request) {
	var m Message
	if err := decode(r, &m); err != nil {
		writeJSON(w, http.StatusBadRequest, errorReply{Error: err.Error()})
		return
	}

	switch m.Type {
	case MessageSyncOfflineQueue:
		res, err := h.backend.SyncNow(r.Context())
		if err != nil {
			h.logger.Error("manual sync failed", "error", err)
			writeJSON(w, http.StatusOK, SyncReply{Success: false, Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, SyncReply{Success: true, Result: &res})

	case MessageGetQueueStatus:
		snap, err := h.backend.QueueStatus(r.Context())
		if err != nil {
			h.fail(w, "queue status", err)
			return
		}
		writeJSON(w, http.StatusOK, snap)

	default:
		writeJSON(w, http.StatusBadRequest, errorReply{Error: fmt.Sprintf("unknown message type %q", m.Type)})
	}
}

func (h *handler) status(w http.ResponseWriter, r *http.Request) {
	snap, err := h.backend.Status(r.Context())
	if err != nil {
		h.fail(w, "status", err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *handler) authRefreshed(w http.ResponseWriter, r *http.Request) {
	n, err := h.backend.Reauthenticated(r.Context())
	if err != nil {
		h.fail(w, "reauthenticate", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"released": n})
}

func (h *handler) pushMessage(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorReply{Error: err.Error()})
		return
	}
	n, err := h.push.Deliver(r.Context(), raw)
	if err != nil {
		h.fail(w, "push deliver", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"notificationId": n.ID})
}

func (h *handler) pushInteraction(w http.ResponseWriter, r *http.Request) {
	var in push.Interaction
	if err := decode(r, &in); err != nil {
		writeJSON(w, http.StatusBadRequest, errorReply{Error: err.Error()})
		return
	}
	out, err := h.push.HandleInteraction(r.Context(), in)
	if err != nil {
		h.fail(w, "push interaction", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]push.Outcome{"outcome": out})
}

func (h *handler) fail(w http.ResponseWriter, op string, err error) {
	h.logger.Error("control request failed", "op", op, "error", err)
	writeJSON(w, http.StatusInternalServerError, errorReply{Error: err.Error()})
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// Serve runs h on addr until ctx is done, then shuts down gracefully.
func Serve(ctx context.Context, addr string, h http.Handler, logger *slog.Logger) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	logger.Info("control api listening", "addr", ln.Addr().String())

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		logger.Info("control api stopped")
		return nil
	}
}
