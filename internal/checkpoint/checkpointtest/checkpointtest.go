// Package checkpointtest provides a shared conformance suite for
// checkpoint.Backend implementations. Each backend wires this suite to
// verify it satisfies the Backend contract.
package checkpointtest

import (
	"context"
	"errors"
	"testing"
	"time"

	"cwtail/internal/checkpoint"
	"cwtail/internal/stream"
)

// TestBackend runs the conformance suite. newBackend must return a fresh,
// empty backend for each sub-test.
func TestBackend(t *testing.T, newBackend func(t *testing.T) checkpoint.Backend) {
	t.Run("LoadEmpty", func(t *testing.T) {
		b := newBackend(t)
		_, err := b.Load(context.Background())
		if !errors.Is(err, checkpoint.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("SaveLoad", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		modified := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
		snap := checkpoint.Snapshot{
			ModifiedTime: modified,
			Cursors: map[stream.ID]string{
				{Group: "/aws/lambda/api", Name: "2026/10/19/[$LATEST]a"}: "f/1",
				{Group: "app", Name: "web|1"}:                             "f/2",
			},
		}
		if err := b.Save(ctx, snap); err != nil {
			t.Fatalf("Save: %v", err)
		}
		got, err := b.Load(ctx)
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		assertEqual(t, got, snap)
	})

	t.Run("SaveReplaces", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		first := checkpoint.Snapshot{
			ModifiedTime: time.Unix(100, 0).UTC(),
			Cursors: map[stream.ID]string{
				{Group: "g", Name: "a"}: "1",
				{Group: "g", Name: "b"}: "1",
			},
		}
		second := checkpoint.Snapshot{
			ModifiedTime: time.Unix(200, 0).UTC(),
			Cursors: map[stream.ID]string{
				{Group: "g", Name: "a"}: "2",
			},
		}
		if err := b.Save(ctx, first); err != nil {
			t.Fatalf("Save first: %v", err)
		}
		if err := b.Save(ctx, second); err != nil {
			t.Fatalf("Save second: %v", err)
		}
		got, err := b.Load(ctx)
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		assertEqual(t, got, second)
	})

	t.Run("SaveEmpty", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		snap := checkpoint.Snapshot{ModifiedTime: time.Unix(300, 0).UTC()}
		if err := b.Save(ctx, snap); err != nil {
			t.Fatalf("Save: %v", err)
		}
		got, err := b.Load(ctx)
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if len(got.Cursors) != 0 {
			t.Errorf("expected no cursors, got %v", got.Cursors)
		}
	})
}

func assertEqual(t *testing.T, got, want checkpoint.Snapshot) {
	t.Helper()
	if !got.ModifiedTime.Equal(want.ModifiedTime) {
		t.Errorf("ModifiedTime: got %v, want %v", got.ModifiedTime, want.ModifiedTime)
	}
	if len(got.Cursors) != len(want.Cursors) {
		t.Fatalf("cursor count: got %d, want %d (%v)", len(got.Cursors), len(want.Cursors), got.Cursors)
	}
	for id, c := range want.Cursors {
		if got.Cursors[id] != c {
			t.Errorf("cursor %v: got %q, want %q", id, got.Cursors[id], c)
		}
	}
}
