package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(path)
	assert.False(t, os.IsNotExist(err), "database file was not created")
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		require.NoError(t, err, "Open() iteration %d", i)
		s.Close()
	}

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	collections, err := s.Collections(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"cache_entries", "leases", "meta", "queue_items"}, collections)
}

func TestOpen_InvalidPath(t *testing.T) {
	_, err := Open("/nonexistent/dir/test.db")
	assert.Error(t, err)
}

func TestOpenInMemory_Isolated(t *testing.T) {
	ctx := context.Background()

	a, err := OpenInMemory()
	require.NoError(t, err)
	defer a.Close()
	b, err := OpenInMemory()
	require.NoError(t, err)
	defer b.Close()

	_, err = a.InsertQueueItem(ctx, createTestQueueItem("/a", 2, testTime(0)))
	require.NoError(t, err)

	items, err := b.ReadAllQueueItems(ctx)
	require.NoError(t, err)
	assert.Empty(t, items, "in-memory stores must not share state")
}

func TestClose_NilDB(t *testing.T) {
	s := &Store{db: nil}
	assert.NoError(t, s.Close())
}

func TestPragma_JournalMode(t *testing.T) {
	s := createTestStore(t)
	assert.NoError(t, s.verifyPragma("journal_mode", "wal"))
}

func TestPragma_BusyTimeout(t *testing.T) {
	s := createTestStore(t)
	assert.NoError(t, s.verifyPragma("busy_timeout", "5000"))
}

// Schema versioning

func TestSchema_UpgradeKeepsExistingCollections(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "test.db")

	// v1 only has the cache collection.
	v1, err := OpenVersion(path, 1)
	require.NoError(t, err)
	collections, err := v1.Collections(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"cache_entries"}, collections)

	require.NoError(t, v1.UpsertCacheEntry(ctx, testCacheEntry("k", testTime(0))))
	require.NoError(t, v1.Close())

	// Reopen at the current version: missing collections appear, data survives.
	cur, err := Open(path)
	require.NoError(t, err)
	defer cur.Close()

	version, err := cur.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, version)

	collections, err = cur.Collections(ctx)
	require.NoError(t, err)
	assert.Contains(t, collections, "queue_items")
	assert.Contains(t, collections, "meta")

	e, err := cur.ReadCacheEntry(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), e.Payload)
}

func TestSchema_OlderVersionIsIncompatible(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = OpenVersion(path, 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrIncompatibleSchema))
}

func TestSchema_UnknownVersionIsIncompatible(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	_, err := OpenVersion(path, CurrentSchemaVersion+1)
	assert.True(t, errors.Is(err, ErrIncompatibleSchema))

	_, err = OpenVersion(path, 0)
	assert.True(t, errors.Is(err, ErrIncompatibleSchema))
}

func TestClear_IndependentCollections(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	require.NoError(t, s.UpsertCacheEntry(ctx, testCacheEntry("k", testTime(0))))
	_, err := s.InsertQueueItem(ctx, createTestQueueItem("/a", 2, testTime(0)))
	require.NoError(t, err)

	n, err := s.Clear(ctx, CollectionCache)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	entries, err := s.ReadAllCacheEntries(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)

	items, err := s.ReadAllQueueItems(ctx)
	require.NoError(t, err)
	assert.Len(t, items, 1, "clearing the cache must not touch the queue")
}

func TestClear_UnknownCollection(t *testing.T) {
	s := createTestStore(t)

	_, err := s.Clear(context.Background(), "users; DROP TABLE meta")
	assert.True(t, errors.Is(err, ErrUnknownCollection))
}

func TestClear_CollectionNotInSchemaVersion(t *testing.T) {
	s, err := OpenVersion(filepath.Join(t.TempDir(), "test.db"), 1)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Clear(context.Background(), CollectionQueue)
	assert.True(t, errors.Is(err, ErrUnknownCollection))
}

func TestSplitStatements(t *testing.T) {
	script := `-- comment
CREATE TABLE a (x INTEGER);

-- another
CREATE INDEX i ON a (x);
`
	stmts := splitStatements(script)
	require.Len(t, stmts, 2)
	assert.Equal(t, "CREATE TABLE a (x INTEGER)", stmts[0])
	assert.Equal(t, "CREATE INDEX i ON a (x)", stmts[1])
}
