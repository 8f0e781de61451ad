// Package azure stores checkpoint snapshots as a single Azure block blob.
package azure

import (
	"context"
	"fmt"
	"io"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"

	"cwtail/internal/checkpoint"
)

// NewClient builds a client from a storage account connection string.
func NewClient(connectionString string) (*azblob.Client, error) {
	client, err := azblob.NewClientFromConnectionString(connectionString, nil)
	if err != nil {
		return nil, fmt.Errorf("create azure blob client: %w", err)
	}
	return client, nil
}

// Object addresses one blob.
type Object struct {
	client    *azblob.Client
	container string
	blob      string
}

var _ checkpoint.Object = (*Object)(nil)

// NewObject creates an Object for container/blob.
func NewObject(client *azblob.Client, container, blob string) *Object {
	return &Object{client: client, container: container, blob: blob}
}

// New returns a checkpoint backend storing the snapshot in container/blob.
func New(client *azblob.Client, container, blob string) *checkpoint.ObjectBackend {
	return checkpoint.NewObjectBackend(NewObject(client, container, blob))
}

func (o *Object) Read(ctx context.Context) ([]byte, error) {
	resp, err := o.client.DownloadStream(ctx, o.container, o.blob, nil)
	if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
		return nil, checkpoint.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read blob: %w", err)
	}
	return data, nil
}

func (o *Object) Write(ctx context.Context, data []byte) error {
	_, err := o.client.UploadBuffer(ctx, o.container, o.blob, data, nil)
	return err
}

func (o *Object) String() string {
	return "azblob://" + o.container + "/" + o.blob
}
