// Package s3 stores checkpoint snapshots as a single Amazon S3 object.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"cwtail/internal/checkpoint"
)

// Client is the subset of *s3.Client used here.
type Client interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Object addresses one S3 object.
type Object struct {
	client Client
	bucket string
	key    string
}

var _ checkpoint.Object = (*Object)(nil)

// NewObject creates an Object for bucket/key.
func NewObject(client Client, bucket, key string) *Object {
	return &Object{client: client, bucket: bucket, key: key}
}

// New returns a checkpoint backend storing the snapshot at bucket/key.
func New(client Client, bucket, key string) *checkpoint.ObjectBackend {
	return checkpoint.NewObjectBackend(NewObject(client, bucket, key))
}

func (o *Object) Read(ctx context.Context) ([]byte, error) {
	out, err := o.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(o.bucket),
		Key:    aws.String(o.key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, checkpoint.ErrNotFound
		}
		return nil, err
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return data, nil
}

func (o *Object) Write(ctx context.Context, data []byte) error {
	_, err := o.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(o.bucket),
		Key:           aws.String(o.key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("application/json"),
	})
	return err
}

func (o *Object) String() string {
	return "s3://" + o.bucket + "/" + o.key
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}
