package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// OpenSQLite opens (and creates if needed) the queue database at path and
// ensures the schema exists. Paths on network filesystems are refused.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite directory: %w", err)
		}
		if err := checkQueueFilesystem(path); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection serializes writers; compare-and-swap relies on it for :memory: too.
	db.SetMaxOpenConns(1)

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON;",
		"PRAGMA busy_timeout = 5000;",
		"PRAGMA journal_mode = WAL;",
	} {
		if _, err := db.ExecContext(pctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}
	if err := BootstrapSQLite(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// BootstrapSQLite creates tables and indexes if missing.
func BootstrapSQLite(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS op_queue (
  id          TEXT PRIMARY KEY,
  parent_id   TEXT,
  position    INTEGER NOT NULL DEFAULT 0,
  revision    INTEGER NOT NULL,
  op          JSON NOT NULL,
  state       TEXT NOT NULL,
  tag         TEXT,
  not_before  TEXT,
  fail_kind   TEXT,
  last_error  TEXT,
  created_at  TEXT NOT NULL,
  updated_at  TEXT NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS op_log (
  id          TEXT NOT NULL,
  revision    INTEGER NOT NULL,
  state       TEXT NOT NULL,
  fail_kind   TEXT,
  last_error  TEXT,
  settled_at  TEXT NOT NULL,
  PRIMARY KEY (id, revision)
);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS op_queue_tag_idx ON op_queue(tag) WHERE tag IS NOT NULL;`,
		`CREATE INDEX IF NOT EXISTS op_queue_state_created_at_idx ON op_queue(state, created_at);`,
		`CREATE INDEX IF NOT EXISTS op_queue_parent_position_idx ON op_queue(parent_id, position);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
	}
	return nil
}
