package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Schema version tracking:
// 1 - cache_entries
// 2 - queue_items
// 3 - meta, leases
const CurrentSchemaVersion = 3

// Collection names.
const (
	CollectionCache  = "cache_entries"
	CollectionQueue  = "queue_items"
	CollectionMeta   = "meta"
	CollectionLeases = "leases"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrIncompatibleSchema is returned when the stored schema cannot be
	// served by the requested version.
	ErrIncompatibleSchema = errors.New("incompatible schema version")

	// ErrUnknownCollection is returned for a collection that does not exist
	// at the open schema version.
	ErrUnknownCollection = errors.New("unknown collection")
)

// collectionVersion is the schema version that introduced each collection.
var collectionVersion = map[string]int{
	CollectionCache:  1,
	CollectionQueue:  2,
	CollectionMeta:   3,
	CollectionLeases: 3,
}

var migrationName = regexp.MustCompile(`^(\d{4})_[a-z_]+\.sql$`)

// Store is the durable local store.
type Store struct {
	db      *sql.DB
	version int
}

// Open creates or opens a SQLite database at path at CurrentSchemaVersion.
//
// This function is idempotent - safe to call multiple times.
func Open(path string) (*Store, error) {
	return OpenVersion(path, CurrentSchemaVersion)
}

// OpenInMemory opens a private in-memory store.
// Each call returns an isolated database.
func OpenInMemory() (*Store, error) {
	return OpenVersion(":memory:", CurrentSchemaVersion)
}

// OpenVersion opens path and migrates it to exactly version.
//
// Returns ErrIncompatibleSchema if version is unknown to this binary or is
// older than the version already stored.
func OpenVersion(path string, version int) (*Store, error) {
	if version < 1 || version > CurrentSchemaVersion {
		return nil, fmt.Errorf("%w: requested v%d, supported v1..v%d",
			ErrIncompatibleSchema, version, CurrentSchemaVersion)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time. A single connection also
	// keeps ":memory:" databases alive for the life of the Store.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := migrate(db, version); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, version: version}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SchemaVersion reads the version persisted in the database.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("get user_version: %w", err)
	}
	return v, nil
}

// Collections lists the collections present in the database, sorted.
func (s *Store) Collections(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
		ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan collection: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate collections: %w", err)
	}
	return names, nil
}

// Clear deletes every record in a collection. Other collections are untouched.
func (s *Store) Clear(ctx context.Context, collection string) (int, error) {
	if err := s.checkCollection(collection); err != nil {
		return 0, err
	}

	var n int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		// collection is validated against a fixed set above.
		res, err := tx.ExecContext(ctx, "DELETE FROM "+collection)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("clear %s: %w", collection, err)
	}
	return int(n), nil
}

func (s *Store) checkCollection(collection string) error {
	introduced, ok := collectionVersion[collection]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownCollection, collection)
	}
	if introduced > s.version {
		return fmt.Errorf("%w: %q requires schema v%d, store is v%d",
			ErrUnknownCollection, collection, introduced, s.version)
	}
	return nil
}

// withTx runs fn inside a transaction, committing on nil error.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

type migration struct {
	version int
	name    string
	sql     string
}

// loadMigrations returns the embedded migrations sorted by version.
func loadMigrations() ([]migration, error) {
	entries, err := fs.ReadDir(migrationFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}

	var out []migration
	for _, e := range entries {
		m := migrationName.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		v, err := strconv.Atoi(m[1])
		if err != nil {
			return nil, fmt.Errorf("migration %s: %w", e.Name(), err)
		}
		data, err := migrationFS.ReadFile(path.Join("migrations", e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", e.Name(), err)
		}
		out = append(out, migration{version: v, name: e.Name(), sql: string(data)})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	return out, nil
}

// migrate applies every migration above the stored user_version up to target.
// Each migration and its version bump commit in one transaction.
func migrate(db *sql.DB, target int) error {
	var current int
	if err := db.QueryRow("PRAGMA user_version").Scan(&current); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if current > target {
		return fmt.Errorf("%w: database is v%d, requested v%d",
			ErrIncompatibleSchema, current, target)
	}

	migrations, err := loadMigrations()
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.version <= current || m.version > target {
			continue
		}
		if err := applyMigration(db, m); err != nil {
			return err
		}
	}

	return nil
}

func applyMigration(db *sql.DB, m migration) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("migrate to v%d: begin: %w", m.version, err)
	}
	defer tx.Rollback()

	for _, stmt := range splitStatements(m.sql) {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("migrate to v%d (%s): %w", m.version, m.name, err)
		}
	}

	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", m.version)); err != nil {
		return fmt.Errorf("migrate to v%d: set user_version: %w", m.version, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("migrate to v%d: commit: %w", m.version, err)
	}
	return nil
}

// splitStatements splits a migration file on semicolons, dropping comments.
func splitStatements(script string) []string {
	var lines []string
	for _, line := range strings.Split(script, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "--") || trimmed == "" {
			continue
		}
		lines = append(lines, line)
	}

	var stmts []string
	for _, stmt := range strings.Split(strings.Join(lines, "\n"), ";") {
		if s := strings.TrimSpace(stmt); s != "" {
			stmts = append(stmts, s)
		}
	}
	return stmts
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
