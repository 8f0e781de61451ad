// Package gcs stores checkpoint snapshots as a single Google Cloud Storage
// object.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"cwtail/internal/checkpoint"
)

// Config selects the bucket, object and client options.
type Config struct {
	Bucket string
	Object string

	// CredentialsFile is a service account key file. Empty uses
	// application default credentials.
	CredentialsFile string

	// Endpoint overrides the storage API endpoint (emulators).
	Endpoint string
}

// Object addresses one GCS object.
type Object struct {
	handle *storage.ObjectHandle
	bucket string
	name   string
}

var _ checkpoint.Object = (*Object)(nil)

// NewClient builds a storage client from cfg.
func NewClient(ctx context.Context, cfg Config) (*storage.Client, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint), option.WithoutAuthentication())
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	return client, nil
}

// NewObject creates an Object for bucket/name.
func NewObject(client *storage.Client, bucket, name string) *Object {
	return &Object{
		handle: client.Bucket(bucket).Object(name),
		bucket: bucket,
		name:   name,
	}
}

// New returns a checkpoint backend storing the snapshot in bucket/name.
func New(client *storage.Client, bucket, name string) *checkpoint.ObjectBackend {
	return checkpoint.NewObjectBackend(NewObject(client, bucket, name))
}

func (o *Object) Read(ctx context.Context) ([]byte, error) {
	r, err := o.handle.NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
		return nil, checkpoint.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read object: %w", err)
	}
	return data, nil
}

func (o *Object) Write(ctx context.Context, data []byte) error {
	w := o.handle.NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := w.Write(data); err != nil {
		w.Close()
		return err
	}
	// The object is only committed by Close.
	return w.Close()
}

func (o *Object) String() string {
	return "gs://" + o.bucket + "/" + o.name
}
