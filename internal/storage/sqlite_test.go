package storage

import (
	"context"
	"path/filepath"
	"testing"
)

func TestOpenSQLiteBootstrapsTables(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "nested", "relayd.db")
	db, err := OpenSQLite(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	for _, table := range []string{"op_queue", "op_log"} {
		var name string
		if err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?;", table).Scan(&name); err != nil {
			t.Fatalf("table %q missing: %v", table, err)
		}
	}
}

func TestBootstrapSQLiteIsIdempotent(t *testing.T) {
	t.Parallel()

	db, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "relayd.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := BootstrapSQLite(context.Background(), db); err != nil {
		t.Fatalf("second bootstrap: %v", err)
	}
}

func TestTagIndexIsUniqueAmongTaggedRows(t *testing.T) {
	t.Parallel()

	db, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "relayd.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	insert := `INSERT INTO op_queue(id, revision, op, state, tag, created_at, updated_at) VALUES(?, 1, '{}', 'fresh', ?, 'now', 'now');`
	if _, err := db.Exec(insert, "a", nil); err != nil {
		t.Fatalf("insert untagged a: %v", err)
	}
	if _, err := db.Exec(insert, "b", nil); err != nil {
		t.Fatalf("insert untagged b: %v", err)
	}
	if _, err := db.Exec(insert, "c", "relayer@k"); err != nil {
		t.Fatalf("insert tagged c: %v", err)
	}
	if _, err := db.Exec(insert, "d", "relayer@k"); err == nil {
		t.Fatal("expected duplicate tag to be rejected")
	}
}

func TestOpenSQLiteRejectsEmptyPath(t *testing.T) {
	t.Parallel()

	if _, err := OpenSQLite(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty path")
	}
}
