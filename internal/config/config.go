// Package config loads cwtail's configuration.
//
// Sources are layered, later ones overriding earlier ones:
//
//  1. built-in defaults (Default)
//  2. a YAML file (--config, or config.yaml in the home directory)
//  3. CWTAIL_* environment variables, "__" separating nesting levels
//     (CWTAIL_WORKER__POLL_INTERVAL=2s)
//  4. command line flags that were explicitly set
//
// Configuration is read once at startup; there is no hot reload.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// EnvPrefix prefixes every environment variable cwtail reads.
const EnvPrefix = "CWTAIL_"

// Start modes for streams without a checkpoint.
const (
	StartNow  = "now"  // events from process start on
	StartTail = "tail" // the source's most recent page
)

// Sink and checkpoint backend types understood by Validate.
var (
	SinkTypes    = []string{"file", "analytics", "kafka", "mqtt"}
	BackendTypes = []string{"file", "memory", "s3", "gcs", "azure", "sqlite"}
)

// Config is the full cwtail configuration.
type Config struct {
	// Home is the state directory. Empty means the platform default.
	Home string `koanf:"home"`

	AWS        AWSConfig        `koanf:"aws"`
	Discovery  DiscoveryConfig  `koanf:"discovery"`
	Worker     WorkerConfig     `koanf:"worker"`
	Supervisor SupervisorConfig `koanf:"supervisor"`
	Checkpoint CheckpointConfig `koanf:"checkpoint"`
	Sinks      []SinkConfig     `koanf:"sinks"`
	Log        LogConfig        `koanf:"log"`
	Metrics    MetricsConfig    `koanf:"metrics"`
}

// AWSConfig holds CloudWatch Logs connection settings. Empty values use
// the SDK default chain.
type AWSConfig struct {
	Region          string `koanf:"region"`
	Profile         string `koanf:"profile"`
	AccessKeyID     string `koanf:"access_key_id"`
	SecretAccessKey string `koanf:"secret_access_key"`
	SessionToken    string `koanf:"session_token"`
	Endpoint        string `koanf:"endpoint"`
	MaxAttempts     int    `koanf:"max_attempts"`
}

// DiscoveryConfig selects which streams are tailed.
type DiscoveryConfig struct {
	Groups   []string      `koanf:"groups"`
	Prefix   string        `koanf:"prefix"`
	Lookback int           `koanf:"lookback"`
	Interval time.Duration `koanf:"interval"`
	Include  []string      `koanf:"include"`
	Exclude  []string      `koanf:"exclude"`
	Regex    string        `koanf:"regex"`
}

// WorkerConfig tunes the per-stream polling loop.
type WorkerConfig struct {
	PollInterval time.Duration `koanf:"poll_interval"`
	MaxBackoff   time.Duration `koanf:"max_backoff"`
	PageSize     int           `koanf:"page_size"`

	// RateLimit caps fetches per second across all workers. Zero disables.
	RateLimit float64 `koanf:"rate_limit"`
	RateBurst int     `koanf:"rate_burst"`

	// Start is "now", "tail" or a lookback duration such as "1h".
	Start string `koanf:"start"`
}

// SupervisorConfig sets the supervisor cadence.
type SupervisorConfig struct {
	Interval time.Duration `koanf:"interval"`

	// StatusInterval is how often the liveness summary is logged. Zero
	// disables it.
	StatusInterval time.Duration `koanf:"status_interval"`
}

// CheckpointConfig selects and configures the snapshot backend. Fields
// apply to the backends that use them.
type CheckpointConfig struct {
	Backend  string        `koanf:"backend"`
	Interval time.Duration `koanf:"interval"`

	// Path is the file or sqlite location. Empty uses the home directory.
	Path string `koanf:"path"`

	// Bucket and Key address the s3/gcs object; Container and Key the
	// azure blob.
	Bucket    string `koanf:"bucket"`
	Container string `koanf:"container"`
	Key       string `koanf:"key"`

	Region           string `koanf:"region"`
	Endpoint         string `koanf:"endpoint"`
	CredentialsFile  string `koanf:"credentials_file"`
	ConnectionString string `koanf:"connection_string"`
}

// SinkConfig is one entry of the ordered sink list.
type SinkConfig struct {
	Type   string            `koanf:"type"`
	Name   string            `koanf:"name"`
	Params map[string]string `koanf:"params"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Format string `koanf:"format"`
	Level  string `koanf:"level"`

	// Components overrides the level per component ("worker: debug").
	Components map[string]string `koanf:"components"`
}

// MetricsConfig configures the HTTP metrics server. Empty Addr disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		Discovery: DiscoveryConfig{
			Lookback: 10,
			Interval: 10 * time.Second,
		},
		Worker: WorkerConfig{
			PollInterval: 1 * time.Second,
			MaxBackoff:   30 * time.Second,
			PageSize:     1000,
			RateLimit:    10,
			RateBurst:    10,
			Start:        StartNow,
		},
		Supervisor: SupervisorConfig{
			Interval:       10 * time.Second,
			StatusInterval: 1 * time.Minute,
		},
		Checkpoint: CheckpointConfig{
			Backend:  "file",
			Interval: 5 * time.Second,
			Key:      "cwtail/checkpoint.json",
		},
		Log: LogConfig{
			Format: "text",
			Level:  "info",
		},
	}
}

// flagKeys maps command line flag names to configuration keys. Flags not
// listed here are not configuration.
var flagKeys = map[string]string{
	"home":               "home",
	"group":              "discovery.groups",
	"prefix":             "discovery.prefix",
	"lookback":           "discovery.lookback",
	"include":            "discovery.include",
	"start":              "worker.start",
	"region":             "aws.region",
	"profile":            "aws.profile",
	"checkpoint-backend": "checkpoint.backend",
	"checkpoint-path":    "checkpoint.path",
	"log-level":          "log.level",
	"log-format":         "log.format",
	"metrics-addr":       "metrics.addr",
}

// RegisterFlags adds cwtail's configuration flags.
func RegisterFlags(flags *pflag.FlagSet) {
	flags.StringP("config", "c", "", "config file (default: <home>/config.yaml if present)")
	flags.String("home", "", "home directory (default: platform config dir)")
	flags.StringSliceP("group", "g", nil, "log group to tail (repeatable)")
	flags.String("prefix", "", "tail every log group with this name prefix")
	flags.Int("lookback", 0, "most recent streams kept per group")
	flags.StringSlice("include", nil, "stream glob to include (repeatable)")
	flags.String("start", "", `start point for streams without a checkpoint: "now", "tail" or a duration`)
	flags.String("region", "", "AWS region")
	flags.String("profile", "", "AWS shared config profile")
	flags.String("checkpoint-backend", "", "checkpoint backend: "+strings.Join(BackendTypes, ", "))
	flags.String("checkpoint-path", "", "checkpoint file or database path")
	flags.String("log-level", "", "log level: debug, info, warn, error")
	flags.String("log-format", "", "log format: text or json")
	flags.String("metrics-addr", "", "metrics and status listen address (e.g. :9090)")
}

// Load builds the configuration from the optional YAML file at path, the
// environment and the explicitly set flags (which may be nil). A
// missing file is not an error.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", envValue), nil); err != nil {
		return Config{}, fmt.Errorf("load environment: %w", err)
	}

	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, flagKey(flags)), nil); err != nil {
			return Config{}, fmt.Errorf("load flags: %w", err)
		}
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

// envListKeys are list settings given as comma separated values in the
// environment (CWTAIL_DISCOVERY__GROUPS=/ecs/api,/ecs/web).
var envListKeys = map[string]bool{
	"discovery.groups":  true,
	"discovery.include": true,
	"discovery.exclude": true,
}

// envKey turns CWTAIL_WORKER__POLL_INTERVAL into worker.poll_interval.
func envKey(s string) string {
	s = strings.TrimPrefix(s, EnvPrefix)
	return strings.ReplaceAll(strings.ToLower(s), "__", ".")
}

func envValue(name, value string) (string, any) {
	key := envKey(name)
	if !envListKeys[key] {
		return key, value
	}
	var items []string
	for item := range strings.SplitSeq(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return key, items
}

// flagKey keeps only flags the user set and renames them to their
// configuration key.
func flagKey(flags *pflag.FlagSet) func(f *pflag.Flag) (string, any) {
	return func(f *pflag.Flag) (string, any) {
		key, ok := flagKeys[f.Name]
		if !ok || !f.Changed {
			return "", nil
		}
		return key, posflag.FlagVal(flags, f)
	}
}

func (c *Config) applyDefaults() {
	if len(c.Sinks) == 0 {
		c.Sinks = []SinkConfig{{Type: "file"}}
	}
	for i := range c.Sinks {
		if c.Sinks[i].Name == "" {
			c.Sinks[i].Name = c.Sinks[i].Type
		}
	}
}

// FileExists reports whether path names an existing regular file.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
