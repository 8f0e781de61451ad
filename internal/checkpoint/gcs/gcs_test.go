package gcs

import (
	"context"
	"testing"
)

func TestObjectString(t *testing.T) {
	client, err := NewClient(context.Background(), Config{Endpoint: "http://127.0.0.1:1/storage/v1/"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer client.Close()

	obj := NewObject(client, "logs-state", "cwtail/checkpoint.json")
	if got := obj.String(); got != "gs://logs-state/cwtail/checkpoint.json" {
		t.Errorf("String() = %q", got)
	}
}
