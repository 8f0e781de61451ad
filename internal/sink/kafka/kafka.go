// Package kafka provides a Kafka producer sink using franz-go.
package kafka

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"strings"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/sasl"
	"github.com/twmb/franz-go/pkg/sasl/plain"
	"github.com/twmb/franz-go/pkg/sasl/scram"

	"cwtail/internal/logging"
	"cwtail/internal/sink"
	"cwtail/internal/stream"
)

// SASLConfig holds SASL authentication parameters.
type SASLConfig struct {
	Mechanism string // "plain", "scram-sha-256", "scram-sha-512"
	User      string
	Password  string //nolint:gosec // G117: config field, not a hardcoded credential
}

// Config holds Kafka sink configuration.
type Config struct {
	Name     string
	Brokers  []string
	Topic    string
	Encoding sink.Encoding
	TLS      bool
	SASL     *SASLConfig
	Logger   *slog.Logger
}

// producer is the subset of *kgo.Client used by Sink.
type producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Close()
}

// Sink produces one Kafka record per log record. The key is the composite
// stream key, so a stream's records land on one partition in order.
type Sink struct {
	cfg    Config
	client producer
	logger *slog.Logger
}

var _ sink.Sink = (*Sink)(nil)

// New connects a producer client.
func New(cfg Config) (*Sink, error) {
	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.DefaultProduceTopic(cfg.Topic),
		kgo.ClientID("cwtail"),
	}

	if cfg.TLS {
		opts = append(opts, kgo.DialTLSConfig(&tls.Config{
			MinVersion: tls.VersionTLS12,
		}))
	}

	if cfg.SASL != nil {
		mech, err := buildSASLMechanism(cfg.SASL)
		if err != nil {
			return nil, err
		}
		opts = append(opts, kgo.SASL(mech))
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("kafka client: %w", err)
	}
	s := newWithProducer(cfg, client)
	s.logger.Info("kafka sink started", "brokers", cfg.Brokers, "topic", cfg.Topic)
	return s, nil
}

func newWithProducer(cfg Config, p producer) *Sink {
	if cfg.Name == "" {
		cfg.Name = "kafka"
	}
	if cfg.Encoding == "" {
		cfg.Encoding = sink.EncodingJSON
	}
	return &Sink{
		cfg:    cfg,
		client: p,
		logger: logging.Default(cfg.Logger).With("component", "sink", "type", "kafka", "sink", cfg.Name),
	}
}

func (s *Sink) Name() string { return s.cfg.Name }

func (s *Sink) Process(ctx context.Context, rec stream.Record) error {
	value, err := s.cfg.Encoding.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	r := &kgo.Record{
		Topic:     s.cfg.Topic,
		Key:       []byte(rec.Stream.Key()),
		Value:     value,
		Timestamp: rec.Timestamp,
		Headers: []kgo.RecordHeader{
			{Key: "cwtail_group", Value: []byte(rec.Stream.Group)},
			{Key: "cwtail_stream", Value: []byte(rec.Stream.Name)},
			{Key: "content_type", Value: []byte(s.cfg.Encoding)},
		},
	}
	if err := s.client.ProduceSync(ctx, r).FirstErr(); err != nil {
		return fmt.Errorf("produce to %s: %w", s.cfg.Topic, err)
	}
	return nil
}

// Close flushes and closes the producer.
func (s *Sink) Close() error {
	s.client.Close()
	return nil
}

// buildSASLMechanism constructs the appropriate SASL mechanism.
func buildSASLMechanism(cfg *SASLConfig) (sasl.Mechanism, error) {
	switch cfg.Mechanism {
	case "plain":
		return plain.Auth{
			User: cfg.User,
			Pass: cfg.Password,
		}.AsMechanism(), nil
	case "scram-sha-256":
		return scram.Auth{
			User: cfg.User,
			Pass: cfg.Password,
		}.AsSha256Mechanism(), nil
	case "scram-sha-512":
		return scram.Auth{
			User: cfg.User,
			Pass: cfg.Password,
		}.AsSha512Mechanism(), nil
	default:
		return nil, fmt.Errorf("unsupported SASL mechanism: %q", cfg.Mechanism)
	}
}

// parseConfig validates factory params into a Config.
func parseConfig(name string, params map[string]string, logger *slog.Logger) (Config, error) {
	p := sink.Params(params)
	if len(p.List("brokers")) == 0 {
		return Config{}, fmt.Errorf("kafka sink: brokers param is required")
	}
	topic, err := p.Required("kafka", "topic")
	if err != nil {
		return Config{}, err
	}
	enc, err := sink.ParseEncoding(p["encoding"])
	if err != nil {
		return Config{}, fmt.Errorf("kafka sink: %w", err)
	}
	useTLS, err := p.Bool("tls", false)
	if err != nil {
		return Config{}, fmt.Errorf("kafka sink: %w", err)
	}

	var saslCfg *SASLConfig
	if mech := p["sasl_mechanism"]; mech != "" {
		switch strings.ToLower(mech) {
		case "plain", "scram-sha-256", "scram-sha-512":
		default:
			return Config{}, fmt.Errorf("kafka sink: unsupported sasl_mechanism %q (supported: plain, scram-sha-256, scram-sha-512)", mech)
		}
		saslCfg = &SASLConfig{
			Mechanism: strings.ToLower(mech),
			User:      p["sasl_user"],
			Password:  p["sasl_password"],
		}
	}

	return Config{
		Name:     name,
		Brokers:  p.List("brokers"),
		Topic:    topic,
		Encoding: enc,
		TLS:      useTLS,
		SASL:     saslCfg,
		Logger:   logger,
	}, nil
}

// NewFactory returns a sink.Factory for Kafka sinks. Params: brokers
// (comma separated), topic, encoding, tls, sasl_mechanism, sasl_user,
// sasl_password.
func NewFactory() sink.Factory {
	return func(name string, params map[string]string, logger *slog.Logger) (sink.Sink, error) {
		cfg, err := parseConfig(name, params, logger)
		if err != nil {
			return nil, err
		}
		return New(cfg)
	}
}
