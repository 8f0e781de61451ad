package azure

import "testing"

// Well-known development storage account key published for Azurite.
const azuriteConnectionString = "DefaultEndpointsProtocol=http;" +
	"AccountName=devstoreaccount1;" +
	"AccountKey=Eby8vdM02xNOcqFlqUwJPLlmEtlCDXJ1OUzFT50uSRZ6IFsuFq2UVErCz4I6tq/K1SZFPTOtr/KBHBeksoGMGw==;" +
	"BlobEndpoint=http://127.0.0.1:10000/devstoreaccount1;"

func TestNewClient(t *testing.T) {
	client, err := NewClient(azuriteConnectionString)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	obj := NewObject(client, "state", "cwtail/checkpoint.json")
	if got := obj.String(); got != "azblob://state/cwtail/checkpoint.json" {
		t.Errorf("String() = %q", got)
	}
}

func TestNewClientInvalid(t *testing.T) {
	if _, err := NewClient("not a connection string"); err == nil {
		t.Error("expected error for malformed connection string")
	}
}
