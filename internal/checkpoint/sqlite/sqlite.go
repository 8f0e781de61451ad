// Package sqlite stores checkpoint snapshots in a SQLite database.
//
// Each cursor is one row keyed by the composite stream key. Save replaces
// the whole set inside one transaction, so a crash leaves either the old or
// the new snapshot.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"cwtail/internal/checkpoint"
	"cwtail/internal/stream"
)

const timeFormat = time.RFC3339Nano

// Backend is a SQLite checkpoint backend.
type Backend struct {
	db   *sql.DB
	path string
}

var _ checkpoint.Backend = (*Backend)(nil)

// Open opens (or creates) the database at path and runs migrations.
func Open(path string) (*Backend, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create checkpoint directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set journal_mode: %w", err)
	}
	if err := migrate(context.Background(), db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Backend{db: db, path: path}, nil
}

// Close closes the database.
func (b *Backend) Close() error {
	return b.db.Close()
}

func (b *Backend) Load(ctx context.Context) (checkpoint.Snapshot, error) {
	var modified string
	err := b.db.QueryRowContext(ctx, "SELECT value FROM meta WHERE key = ?", checkpoint.ModifiedTimeKey).Scan(&modified)
	if err == sql.ErrNoRows {
		return checkpoint.Snapshot{}, checkpoint.ErrNotFound
	}
	if err != nil {
		return checkpoint.Snapshot{}, fmt.Errorf("query meta: %w", err)
	}

	snap := checkpoint.Snapshot{Cursors: make(map[stream.ID]string)}
	if modified != "" {
		t, err := time.Parse(timeFormat, modified)
		if err != nil {
			return checkpoint.Snapshot{}, fmt.Errorf("%w: %s: %w", checkpoint.ErrCorrupt, checkpoint.ModifiedTimeKey, err)
		}
		snap.ModifiedTime = t
	}

	rows, err := b.db.QueryContext(ctx, "SELECT stream_key, cursor FROM checkpoints")
	if err != nil {
		return checkpoint.Snapshot{}, fmt.Errorf("query checkpoints: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var key, cursor string
		if err := rows.Scan(&key, &cursor); err != nil {
			return checkpoint.Snapshot{}, fmt.Errorf("scan checkpoint: %w", err)
		}
		id, err := stream.ParseKey(key)
		if err != nil {
			return checkpoint.Snapshot{}, fmt.Errorf("%w: %w", checkpoint.ErrCorrupt, err)
		}
		snap.Cursors[id] = cursor
	}
	if err := rows.Err(); err != nil {
		return checkpoint.Snapshot{}, fmt.Errorf("iterate checkpoints: %w", err)
	}
	return snap, nil
}

func (b *Backend) Save(ctx context.Context, snap checkpoint.Snapshot) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	savedAt := time.Now().UTC().Format(timeFormat)
	if _, err := tx.ExecContext(ctx, "DELETE FROM checkpoints"); err != nil {
		return fmt.Errorf("clear checkpoints: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, "INSERT INTO checkpoints (stream_key, cursor, saved_at) VALUES (?, ?, ?)")
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()
	for id, cursor := range snap.Cursors {
		if _, err := stmt.ExecContext(ctx, id.Key(), cursor, savedAt); err != nil {
			return fmt.Errorf("insert %s: %w", id.Key(), err)
		}
	}

	modified := ""
	if !snap.ModifiedTime.IsZero() {
		modified = snap.ModifiedTime.UTC().Format(timeFormat)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO meta (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		checkpoint.ModifiedTimeKey, modified); err != nil {
		return fmt.Errorf("write meta: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
