package checkpoint

import (
	"context"
	"errors"
	"testing"

	"cwtail/internal/stream"
)

type fakeObject struct {
	data     []byte
	readErr  error
	writeErr error
}

func (o *fakeObject) Read(context.Context) ([]byte, error) {
	if o.readErr != nil {
		return nil, o.readErr
	}
	if o.data == nil {
		return nil, ErrNotFound
	}
	return o.data, nil
}

func (o *fakeObject) Write(_ context.Context, data []byte) error {
	if o.writeErr != nil {
		return o.writeErr
	}
	o.data = data
	return nil
}

func (o *fakeObject) String() string { return "fake://bucket/checkpoint.json" }

func TestObjectBackend(t *testing.T) {
	ctx := context.Background()
	obj := &fakeObject{}
	b := NewObjectBackend(obj)

	if _, err := b.Load(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	snap := Snapshot{Cursors: map[stream.ID]string{{Group: "g", Name: "s"}: "c"}}
	if err := b.Save(ctx, snap); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := b.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Cursors[stream.ID{Group: "g", Name: "s"}] != "c" {
		t.Errorf("unexpected cursors: %v", got.Cursors)
	}
}

func TestObjectBackendErrors(t *testing.T) {
	ctx := context.Background()

	corrupt := NewObjectBackend(&fakeObject{data: []byte("<html>")})
	if _, err := corrupt.Load(ctx); !errors.Is(err, ErrCorrupt) {
		t.Errorf("expected ErrCorrupt, got %v", err)
	}

	denied := errors.New("access denied")
	b := NewObjectBackend(&fakeObject{readErr: denied, writeErr: denied})
	if _, err := b.Load(ctx); !errors.Is(err, denied) || errors.Is(err, ErrNotFound) {
		t.Errorf("expected wrapped read error, got %v", err)
	}
	if err := b.Save(ctx, Snapshot{}); !errors.Is(err, denied) {
		t.Errorf("expected wrapped write error, got %v", err)
	}
}
