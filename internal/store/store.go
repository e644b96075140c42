// Package store provides the local SQLite persistence for agenda items.
//
// The store is the offline-first source of truth for the CLI and the view
// model: every user change is written here first and picked up later by the
// reconciler. It runs embedded SQLite in WAL mode so readers are never
// blocked by a sync cycle writing results back.
//
// Layout:
//   - Database file: ~/.local/share/tasky/agenda.db (configurable)
//   - One table per item kind: tasks, events, reminders
//   - Each row is keyed by the item id, with `time` in UTC epoch seconds
//     and an `isDeleted` soft-delete flag
//   - sync_meta holds the reconciliation watermark
//   - conflicts records last-write-wins decisions that discarded data
//
// Rows also carry sync bookkeeping: `dirty` marks a local change not yet
// pushed, `remote_known` marks ids the server has confirmed, and `rejected`
// holds the server's message when it refused the last push.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/taskyapp/tasky/internal/agenda"
)

var (
	// ErrNotFound is returned when no visible item has the requested id.
	ErrNotFound = errors.New("item not found")

	// ErrKindConflict is returned when an id is already used by an item of
	// a different kind.
	ErrKindConflict = errors.New("id already used by another item kind")
)

// Store wraps the SQLite connection with agenda-specific operations.
type Store struct {
	conn  *sql.DB
	path  string
	locks *keyedMutex
}

// Open creates a new database connection at the specified path.
//
// The database is opened in WAL mode with a busy timeout so that reads can
// proceed while a reconciliation cycle writes. The caller MUST call Close.
//
// Example:
//
//	st, err := store.Open("agenda.db")
//	if err != nil {
//	    return err
//	}
//	defer st.Close()
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(8)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	st := &Store{
		conn:  conn,
		path:  path,
		locks: newKeyedMutex(),
	}

	pragmas := []struct {
		stmt string
		what string
	}{
		{"PRAGMA journal_mode=WAL", "enable WAL mode"},
		{"PRAGMA busy_timeout=5000", "set busy timeout"},
		{"PRAGMA synchronous=NORMAL", "set synchronous mode"},
	}
	for _, p := range pragmas {
		if _, err := st.conn.Exec(p.stmt); err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("failed to %s: %w", p.what, err)
		}
	}

	return st, nil
}

// OpenAndInit opens the database and creates the schema.
func OpenAndInit(ctx context.Context, path string) (*Store, error) {
	st, err := Open(path)
	if err != nil {
		return nil, err
	}
	if err := st.InitSchema(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// RawDB returns the underlying sql.DB connection.
func (s *Store) RawDB() *sql.DB {
	return s.conn
}

// Close checkpoints the WAL and closes the connection.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	s.conn = nil
	return nil
}

// InitSchema creates the tables if they don't exist. Safe to call
// multiple times.
func (s *Store) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		time INTEGER NOT NULL,          -- UTC epoch seconds
		remind_at INTEGER,              -- UTC epoch seconds
		updated_at INTEGER NOT NULL DEFAULT 0,  -- UTC epoch millis
		isDeleted INTEGER NOT NULL DEFAULT 0,
		dirty INTEGER NOT NULL DEFAULT 0,
		remote_known INTEGER NOT NULL DEFAULT 0,
		rejected TEXT,
		synced_at INTEGER,              -- UTC epoch millis of the sync base

		is_done INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		time INTEGER NOT NULL,
		remind_at INTEGER,
		updated_at INTEGER NOT NULL DEFAULT 0,
		isDeleted INTEGER NOT NULL DEFAULT 0,
		dirty INTEGER NOT NULL DEFAULT 0,
		remote_known INTEGER NOT NULL DEFAULT 0,
		rejected TEXT,
		synced_at INTEGER,

		to_time INTEGER NOT NULL,
		host TEXT NOT NULL DEFAULT '',
		is_creator INTEGER NOT NULL DEFAULT 0,
		is_going INTEGER NOT NULL DEFAULT 0,
		attendees TEXT,           -- JSON array
		photos TEXT,              -- JSON array
		deleted_photo_keys TEXT   -- JSON array
	);

	CREATE TABLE IF NOT EXISTS reminders (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		time INTEGER NOT NULL,
		remind_at INTEGER,
		updated_at INTEGER NOT NULL DEFAULT 0,
		isDeleted INTEGER NOT NULL DEFAULT 0,
		dirty INTEGER NOT NULL DEFAULT 0,
		remote_known INTEGER NOT NULL DEFAULT 0,
		rejected TEXT,
		synced_at INTEGER
	);

	CREATE TABLE IF NOT EXISTS sync_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS conflicts (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		item_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		resolution TEXT NOT NULL,
		local_updated_at INTEGER NOT NULL,
		remote_updated_at INTEGER NOT NULL,
		local_item TEXT,   -- agenda.Marshal envelope
		remote_item TEXT,
		detected_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_time ON tasks(isDeleted, time);
	CREATE INDEX IF NOT EXISTS idx_events_time ON events(isDeleted, time);
	CREATE INDEX IF NOT EXISTS idx_reminders_time ON reminders(isDeleted, time);

	CREATE INDEX IF NOT EXISTS idx_tasks_dirty ON tasks(dirty) WHERE dirty = 1;
	CREATE INDEX IF NOT EXISTS idx_events_dirty ON events(dirty) WHERE dirty = 1;
	CREATE INDEX IF NOT EXISTS idx_reminders_dirty ON reminders(dirty) WHERE dirty = 1;

	CREATE INDEX IF NOT EXISTS idx_conflicts_item ON conflicts(item_id);
	`

	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s.addMissingColumns(ctx)
}

// addMissingColumns upgrades tables created before a column existed.
func (s *Store) addMissingColumns(ctx context.Context) error {
	for _, t := range tableList {
		var n int
		err := s.conn.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = 'synced_at'`, t.name).Scan(&n)
		if err != nil {
			return fmt.Errorf("failed to inspect %s: %w", t.name, err)
		}
		if n > 0 {
			continue
		}
		if _, err := s.conn.ExecContext(ctx, `ALTER TABLE `+t.name+` ADD COLUMN synced_at INTEGER`); err != nil {
			return fmt.Errorf("failed to add synced_at to %s: %w", t.name, err)
		}
	}
	return nil
}

// Counts summarizes the rows in the store.
type Counts struct {
	Tasks     int
	Events    int
	Reminders int
	Deleted   int
	Pending   int
	Rejected  int
}

// Total is the number of visible items.
func (c Counts) Total() int {
	return c.Tasks + c.Events + c.Reminders
}

// Count returns row statistics for the status command.
func (s *Store) Count(ctx context.Context) (Counts, error) {
	var c Counts
	for _, t := range tableList {
		var visible, deleted, pending, rejected int
		query := `
		SELECT
			COALESCE(SUM(CASE WHEN isDeleted = 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN isDeleted = 1 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN dirty = 1 AND rejected IS NULL AND isDeleted = 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN rejected IS NOT NULL THEN 1 ELSE 0 END), 0)
		FROM ` + t.name
		err := s.conn.QueryRowContext(ctx, query).Scan(&visible, &deleted, &pending, &rejected)
		if err != nil {
			return Counts{}, fmt.Errorf("failed to count %s: %w", t.name, err)
		}
		switch t.kind {
		case agenda.KindTask:
			c.Tasks = visible
		case agenda.KindEvent:
			c.Events = visible
		case agenda.KindReminder:
			c.Reminders = visible
		}
		c.Deleted += deleted
		c.Pending += pending
		c.Rejected += rejected
	}
	return c, nil
}
