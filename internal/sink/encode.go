package sink

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"cwtail/internal/stream"
)

// Envelope is the structured form of a record sent to brokers and written
// by the file sink in json mode.
type Envelope struct {
	Group         string    `json:"group" msgpack:"group"`
	Stream        string    `json:"stream" msgpack:"stream"`
	Timestamp     time.Time `json:"timestamp" msgpack:"timestamp"`
	IngestionTime time.Time `json:"ingestion_time" msgpack:"ingestion_time"`
	Message       string    `json:"message" msgpack:"message"`
}

// NewEnvelope copies rec into an Envelope.
func NewEnvelope(rec stream.Record) Envelope {
	return Envelope{
		Group:         rec.Stream.Group,
		Stream:        rec.Stream.Name,
		Timestamp:     rec.Timestamp.UTC(),
		IngestionTime: rec.IngestionTime.UTC(),
		Message:       rec.Message,
	}
}

// Encoding names a wire format for Envelope.
type Encoding string

const (
	EncodingJSON    Encoding = "json"
	EncodingMsgpack Encoding = "msgpack"
)

// ParseEncoding validates an encoding name. Empty means JSON.
func ParseEncoding(s string) (Encoding, error) {
	switch Encoding(strings.ToLower(s)) {
	case "", EncodingJSON:
		return EncodingJSON, nil
	case EncodingMsgpack:
		return EncodingMsgpack, nil
	default:
		return "", fmt.Errorf("unsupported encoding %q (supported: json, msgpack)", s)
	}
}

// Marshal encodes rec as an Envelope.
func (e Encoding) Marshal(rec stream.Record) ([]byte, error) {
	env := NewEnvelope(rec)
	switch e {
	case EncodingMsgpack:
		return msgpack.Marshal(env)
	default:
		return json.Marshal(env)
	}
}

var slugInvalid = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify lowercases s and collapses every run of characters outside
// [a-z0-9] into a single dash, trimming dashes at both ends.
func Slugify(s string) string {
	slug := strings.Trim(slugInvalid.ReplaceAllString(strings.ToLower(s), "-"), "-")
	if slug == "" {
		return "_"
	}
	return slug
}
