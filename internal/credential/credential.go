// Package credential supplies the current bearer credential.
//
// The credential is opaque: issuance and refresh happen elsewhere. Sources
// are read on every network send so a replayed request never carries the
// value captured when it was queued.
package credential

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
)

// Source returns the credential to attach to the next request.
// An empty string means no credential is available.
type Source interface {
	Credential(ctx context.Context) (string, error)
}

// Func adapts a function to Source.
type Func func(ctx context.Context) (string, error)

// Credential calls f.
func (f Func) Credential(ctx context.Context) (string, error) {
	return f(ctx)
}

// None is a Source with no credential.
var None Source = Static("")

// Static is a fixed credential.
type Static string

// Credential returns s.
func (s Static) Credential(context.Context) (string, error) {
	return string(s), nil
}

// Env reads the named environment variable on every call.
type Env string

// Credential returns the trimmed value of the variable.
func (e Env) Credential(context.Context) (string, error) {
	return strings.TrimSpace(os.Getenv(string(e))), nil
}

// File reads a token file on every call, so an external refresher can
// rotate it in place. A missing file means no credential.
type File string

// Credential returns the trimmed file contents.
func (f File) Credential(context.Context) (string, error) {
	data, err := os.ReadFile(string(f))
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read credential file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// Holder is a settable in-memory Source.
//
// Thread-safety: safe for concurrent use.
type Holder struct {
	mu    sync.RWMutex
	value string
}

// NewHolder creates a Holder with an initial value.
func NewHolder(value string) *Holder {
	return &Holder{value: value}
}

// Set replaces the credential.
func (h *Holder) Set(value string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.value = value
}

// Credential returns the current value.
func (h *Holder) Credential(context.Context) (string, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.value, nil
}

// FromConfig picks a Source: file wins over env; neither means None.
func FromConfig(env, file string) Source {
	switch {
	case file != "":
		return File(file)
	case env != "":
		return Env(env)
	default:
		return None
	}
}

// Bearer formats a credential as an Authorization header value.
// Returns "" for an empty credential.
func Bearer(token string) string {
	if token == "" {
		return ""
	}
	return "Bearer " + token
}
