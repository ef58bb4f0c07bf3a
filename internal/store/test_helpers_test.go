package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/offsync/internal/model"
)

// createTestStore creates a new file-backed store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// testTime returns a millisecond-aligned instant offset from a fixed base.
func testTime(offset time.Duration) time.Time {
	return time.UnixMilli(1_700_000_000_000).Add(offset)
}

// createTestQueueItem creates a pending POST item with minimal required fields.
func createTestQueueItem(target string, priority model.Priority, createdAt time.Time) model.QueueItem {
	return model.QueueItem{
		TargetURL: target,
		Method:    "POST",
		Headers:   map[string]string{"Content-Type": "application/json"},
		Body:      []byte(`{"a":1}`),
		CreatedAt: createdAt,
		Status:    model.StatusPending,
		Priority:  priority,
	}
}
