package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"cwtail/internal/checkpoint"
	"cwtail/internal/checkpoint/checkpointtest"
)

// fakeClient is an in-memory bucket.
type fakeClient struct {
	mu      sync.Mutex
	objects map[string][]byte
	getErr  error
}

func newFakeClient() *fakeClient {
	return &fakeClient{objects: make(map[string][]byte)}
}

func (c *fakeClient) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return nil, c.getErr
	}
	data, ok := c.objects[*in.Bucket+"/"+*in.Key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (c *fakeClient) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.objects[*in.Bucket+"/"+*in.Key] = data
	return &s3.PutObjectOutput{}, nil
}

func TestConformance(t *testing.T) {
	checkpointtest.TestBackend(t, func(t *testing.T) checkpoint.Backend {
		return New(newFakeClient(), "bucket", "cwtail/checkpoint.json")
	})
}

func TestNotFoundByErrorCode(t *testing.T) {
	c := newFakeClient()
	c.getErr = &smithy.GenericAPIError{Code: "NotFound", Message: "not found"}
	if _, err := NewObject(c, "b", "k").Read(context.Background()); !errors.Is(err, checkpoint.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestReadErrorPassesThrough(t *testing.T) {
	c := newFakeClient()
	c.getErr = &smithy.GenericAPIError{Code: "AccessDenied", Message: "denied"}
	_, err := New(c, "b", "k").Load(context.Background())
	if err == nil || errors.Is(err, checkpoint.ErrNotFound) {
		t.Errorf("expected a non-not-found error, got %v", err)
	}
}

func TestString(t *testing.T) {
	if got := NewObject(nil, "b", "p/k.json").String(); got != "s3://b/p/k.json" {
		t.Errorf("String() = %q", got)
	}
}
