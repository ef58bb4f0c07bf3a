package testutil

import (
	"testing"

	"github.com/roach88/offsync/internal/store"
)

// NewTestStore opens an isolated in-memory store closed at test cleanup.
func NewTestStore(t testing.TB) *store.Store {
	t.Helper()
	s, err := store.OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}
