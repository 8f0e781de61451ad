package checkpoint

import (
	"context"
	"errors"
	"fmt"
)

// Object is a single blob in a remote object store. Read returns
// ErrNotFound when the object does not exist. Write replaces the object
// atomically, which every supported store guarantees for a single PUT.
type Object interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	String() string
}

// ObjectBackend stores the encoded snapshot in one remote object.
type ObjectBackend struct {
	obj Object
}

var _ Backend = (*ObjectBackend)(nil)

// NewObjectBackend creates a Backend over obj.
func NewObjectBackend(obj Object) *ObjectBackend {
	return &ObjectBackend{obj: obj}
}

func (b *ObjectBackend) Load(ctx context.Context) (Snapshot, error) {
	data, err := b.obj.Read(ctx)
	if errors.Is(err, ErrNotFound) {
		return Snapshot{}, ErrNotFound
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("read %s: %w", b.obj, err)
	}
	snap, err := Decode(data)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%s: %w", b.obj, err)
	}
	return snap, nil
}

func (b *ObjectBackend) Save(ctx context.Context, snap Snapshot) error {
	data, err := Encode(snap)
	if err != nil {
		return err
	}
	if err := b.obj.Write(ctx, data); err != nil {
		return fmt.Errorf("write %s: %w", b.obj, err)
	}
	return nil
}
