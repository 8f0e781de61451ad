// Package mqtt publishes records to an MQTT broker using paho.
//
// Topics are "<prefix>/<slug(group)>/<slug(stream)>".
package mqtt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"cwtail/internal/logging"
	"cwtail/internal/sink"
	"cwtail/internal/stream"
)

// Config holds MQTT sink configuration.
type Config struct {
	Name        string
	Broker      string // tcp://host:1883, ssl://host:8883, ws://...
	ClientID    string
	Username    string
	Password    string //nolint:gosec // G117: config field, not a hardcoded credential
	TopicPrefix string
	QoS         byte
	Retain      bool
	Encoding    sink.Encoding
	Timeout     time.Duration
	Logger      *slog.Logger
}

// publisher is the subset of paho.Client used by Sink.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload any) paho.Token
	Disconnect(quiesce uint)
}

// Sink publishes one message per record.
type Sink struct {
	cfg    Config
	client publisher
	logger *slog.Logger
}

var _ sink.Sink = (*Sink)(nil)

// New connects to the broker. paho reconnects on its own after the first
// successful connect.
func New(cfg Config) (*Sink, error) {
	cfg = withDefaults(cfg)
	logger := logging.Default(cfg.Logger).With("component", "sink", "type", "mqtt", "sink", cfg.Name)

	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(cfg.Timeout).
		SetOrderMatters(false).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			logger.Warn("mqtt connection lost", "error", err)
		})
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username).SetPassword(cfg.Password)
	}

	client := paho.NewClient(opts)
	tok := client.Connect()
	if !tok.WaitTimeout(cfg.Timeout) {
		return nil, fmt.Errorf("mqtt connect %s: timed out after %s", cfg.Broker, cfg.Timeout)
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", cfg.Broker, err)
	}
	logger.Info("mqtt sink connected", "broker", cfg.Broker, "prefix", cfg.TopicPrefix)
	return &Sink{cfg: cfg, client: client, logger: logger}, nil
}

func withDefaults(cfg Config) Config {
	if cfg.Name == "" {
		cfg.Name = "mqtt"
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "cwtail"
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "cwtail"
	}
	if cfg.Encoding == "" {
		cfg.Encoding = sink.EncodingJSON
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return cfg
}

func (s *Sink) Name() string { return s.cfg.Name }

// Topic returns the topic a stream's records are published to.
func (s *Sink) Topic(id stream.ID) string {
	return s.cfg.TopicPrefix + "/" + sink.Slugify(id.Group) + "/" + sink.Slugify(id.Name)
}

func (s *Sink) Process(ctx context.Context, rec stream.Record) error {
	payload, err := s.cfg.Encoding.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	topic := s.Topic(rec.Stream)
	tok := s.client.Publish(topic, s.cfg.QoS, s.cfg.Retain, payload)

	timer := time.NewTimer(s.cfg.Timeout)
	defer timer.Stop()
	select {
	case <-tok.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("publish %s: timed out after %s", topic, s.cfg.Timeout)
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Close disconnects, giving in-flight messages 250ms to complete.
func (s *Sink) Close() error {
	s.client.Disconnect(250)
	return nil
}

func parseConfig(name string, params map[string]string, logger *slog.Logger) (Config, error) {
	p := sink.Params(params)
	broker, err := p.Required("mqtt", "broker")
	if err != nil {
		return Config{}, err
	}
	qos, err := p.Int("qos", 1)
	if err != nil {
		return Config{}, fmt.Errorf("mqtt sink: %w", err)
	}
	if qos < 0 || qos > 2 {
		return Config{}, errors.New("mqtt sink: qos must be 0, 1 or 2")
	}
	retain, err := p.Bool("retain", false)
	if err != nil {
		return Config{}, fmt.Errorf("mqtt sink: %w", err)
	}
	enc, err := sink.ParseEncoding(p["encoding"])
	if err != nil {
		return Config{}, fmt.Errorf("mqtt sink: %w", err)
	}
	timeout, err := p.Duration("timeout", 10*time.Second)
	if err != nil {
		return Config{}, fmt.Errorf("mqtt sink: %w", err)
	}
	return withDefaults(Config{
		Name:        name,
		Broker:      broker,
		ClientID:    p.String("client_id", ""),
		Username:    p.String("username", ""),
		Password:    p["password"],
		TopicPrefix: p.String("topic_prefix", ""),
		QoS:         byte(qos),
		Retain:      retain,
		Encoding:    enc,
		Timeout:     timeout,
		Logger:      logger,
	}), nil
}

// NewFactory returns a sink.Factory for MQTT sinks. Params: broker
// (required), client_id, username, password, topic_prefix, qos, retain,
// encoding, timeout.
func NewFactory() sink.Factory {
	return func(name string, params map[string]string, logger *slog.Logger) (sink.Sink, error) {
		cfg, err := parseConfig(name, params, logger)
		if err != nil {
			return nil, err
		}
		return New(cfg)
	}
}
