package model

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Priority orders queue replay. Higher values replay first.
type Priority int

const (
	PriorityLow Priority = iota + 1
	PriorityMedium
	PriorityHigh
)

// String returns the wire name of the priority.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// Valid reports whether p is one of the three defined priorities.
func (p Priority) Valid() bool {
	return p >= PriorityLow && p <= PriorityHigh
}

// ParsePriority parses "high", "medium" or "low" (case-insensitive).
// An empty string parses as medium.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high":
		return PriorityHigh, nil
	case "medium", "":
		return PriorityMedium, nil
	case "low":
		return PriorityLow, nil
	default:
		return 0, fmt.Errorf("unknown priority %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (p Priority) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("invalid priority %d", int(p))
	}
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Priority) UnmarshalText(text []byte) error {
	parsed, err := ParsePriority(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Status is the lifecycle state of a queue item.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether s is completed or failed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether an item may move from s to next.
// Terminal states never change; pending may stay pending.
func (s Status) CanTransition(next Status) bool {
	if !next.Valid() {
		return false
	}
	if s == StatusPending {
		return true
	}
	return s == next
}

// QueueItem is a durable not-yet-applied write request.
type QueueItem struct {
	ID             int64             `json:"id"`
	TargetURL      string            `json:"targetUrl"`
	Method         string            `json:"method"`
	Headers        map[string]string `json:"headers"`
	Body           []byte            `json:"body,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
	Status         Status            `json:"status"`
	RetryCount     int               `json:"retryCount"`
	Priority       Priority          `json:"priority"`
	Description    string            `json:"description,omitempty"`
	IdempotencyKey string            `json:"idempotencyKey,omitempty"`
	AuthHold       bool              `json:"authHold,omitempty"`
	NextAttemptAt  time.Time         `json:"nextAttemptAt,omitzero"`
	LastError      string            `json:"lastError,omitempty"`
}

// IsMutatingMethod reports whether method may be stored in the queue.
func IsMutatingMethod(method string) bool {
	switch strings.ToUpper(method) {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// IsReadMethod reports whether method is GET or HEAD.
func IsReadMethod(method string) bool {
	m := strings.ToUpper(method)
	return m == "" || m == http.MethodGet || m == http.MethodHead
}
