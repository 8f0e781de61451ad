package sqlite

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"cwtail/internal/checkpoint"
	"cwtail/internal/checkpoint/checkpointtest"
	"cwtail/internal/stream"
)

func newTestBackend(t *testing.T) *Backend {
	t.Helper()
	b, err := Open(filepath.Join(t.TempDir(), "checkpoint.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b
}

func TestConformance(t *testing.T) {
	checkpointtest.TestBackend(t, func(t *testing.T) checkpoint.Backend {
		return newTestBackend(t)
	})
}

func TestMigrationsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.db")
	b, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	snap := checkpoint.Snapshot{Cursors: map[stream.ID]string{{Group: "g", Name: "s"}: "c"}}
	if err := b.Save(context.Background(), snap); err != nil {
		t.Fatalf("Save: %v", err)
	}
	b.Close()

	b2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer b2.Close()

	var n int
	if err := b2.db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&n); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	migrations, err := loadMigrations()
	if err != nil {
		t.Fatal(err)
	}
	if n != len(migrations) {
		t.Errorf("expected %d applied migrations, got %d", len(migrations), n)
	}

	got, err := b2.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Cursors[stream.ID{Group: "g", Name: "s"}] != "c" {
		t.Errorf("cursor lost across reopen: %v", got.Cursors)
	}
}

func TestPragmas(t *testing.T) {
	b := newTestBackend(t)
	var mode string
	if err := b.db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("query journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Errorf("expected journal_mode=wal, got %q", mode)
	}
}

func TestOpenRefusesNewerSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.db")
	b, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	var name, appliedAt string
	if err := b.db.QueryRow("SELECT name, applied_at FROM schema_migrations WHERE version = 1").Scan(&name, &appliedAt); err != nil {
		t.Fatalf("read migration 1: %v", err)
	}
	if name != "init" || appliedAt == "" {
		t.Errorf("migration 1 recorded as name=%q applied_at=%q", name, appliedAt)
	}
	if _, err := b.db.Exec("INSERT INTO schema_migrations (version, name, applied_at) VALUES (999, 'future', '')"); err != nil {
		t.Fatal(err)
	}
	b.Close()

	if b, err := Open(path); err == nil {
		b.Close()
		t.Fatal("opening a database from a newer build should fail")
	} else if !strings.Contains(err.Error(), "newer than this build") {
		t.Errorf("unexpected error: %v", err)
	}
}
