// Package config provides configuration loading for the session coordinator.
//
// Configuration is loaded from a single YAML file specified by:
//   - CODERUN_CONFIG environment variable, or
//   - an explicit path passed to LoadFile
//
// The file is the single source of truth. Environment variables do not
// override individual values; this keeps deployments deterministic and
// auditable.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"goa.design/coderun/runtime/session/lifecycle"
)

type (
	// Config is the master configuration for the coordinator.
	Config struct {
		// Log configures structured logging output.
		Log LogConfig `yaml:"log"`

		// Mongo configures durable event storage. Leave URI empty to use
		// the in-memory store.
		Mongo MongoConfig `yaml:"mongo"`

		// Redis configures the Pulse stream mirror. Leave Addr empty to
		// disable cross-process broadcast mirroring.
		Redis RedisConfig `yaml:"redis"`

		// Lifecycle tunes spawn, inactivity, and circuit breaker behavior.
		Lifecycle LifecycleConfig `yaml:"lifecycle"`
	}

	// LogConfig configures structured logging.
	LogConfig struct {
		// Debug enables debug-level log entries. Default: false.
		Debug bool `yaml:"debug"`

		// Format selects the output format: "text" or "json".
		// Default: json.
		Format string `yaml:"format"`
	}

	// MongoConfig configures the MongoDB-backed event log.
	MongoConfig struct {
		// URI is the MongoDB connection string.
		URI string `yaml:"uri"`

		// Database is the database name. Default: coderun.
		Database string `yaml:"database"`

		// Collection is the event collection name.
		// Default: session_events.
		Collection string `yaml:"collection"`

		// Timeout bounds individual operations. Default: 5s.
		Timeout Duration `yaml:"timeout"`
	}

	// RedisConfig configures the Redis connection used for Pulse streams.
	RedisConfig struct {
		// Addr is the Redis host:port.
		Addr string `yaml:"addr"`

		// Password authenticates the connection. Optional.
		Password string `yaml:"password"`

		// DB selects the Redis database. Default: 0.
		DB int `yaml:"db"`

		// StreamMaxLen bounds entries kept per session stream.
		// Default: 1000.
		StreamMaxLen int `yaml:"stream_max_len"`
	}

	// LifecycleConfig tunes the lifecycle decision engine. Zero values fall
	// back to the engine defaults.
	LifecycleConfig struct {
		// Breaker configures the spawn circuit breaker.
		Breaker BreakerConfig `yaml:"breaker"`

		// Spawn configures sandbox spawn decisions.
		Spawn SpawnConfig `yaml:"spawn"`

		// Inactivity configures idle session handling.
		Inactivity InactivityConfig `yaml:"inactivity"`

		// HeartbeatTimeout is how long a sandbox may go silent before it is
		// considered stale. Default: 90s.
		HeartbeatTimeout Duration `yaml:"heartbeat_timeout"`
	}

	// BreakerConfig configures the spawn circuit breaker.
	BreakerConfig struct {
		// FailureThreshold is the consecutive failure count that opens the
		// breaker. Default: 3.
		FailureThreshold int `yaml:"failure_threshold"`

		// ResetWindow is how long the breaker stays open after the last
		// failure. Default: 5m.
		ResetWindow Duration `yaml:"reset_window"`
	}

	// SpawnConfig configures sandbox spawn decisions.
	SpawnConfig struct {
		// Cooldown is the minimum gap between spawn attempts. Default: 30s.
		Cooldown Duration `yaml:"cooldown"`

		// ReadyWait is the grace period granted to a ready sandbox with no
		// viewers before it may be replaced. Default: 1m.
		ReadyWait Duration `yaml:"ready_wait"`
	}

	// InactivityConfig configures idle session handling.
	InactivityConfig struct {
		// Timeout is how long a session may be idle before it times out.
		// Default: 10m.
		Timeout Duration `yaml:"timeout"`

		// Extension is how long connected viewers extend the deadline.
		// Default: 5m.
		Extension Duration `yaml:"extension"`

		// MinCheckInterval is the shortest recheck delay the engine
		// suggests. Default: 30s.
		MinCheckInterval Duration `yaml:"min_check_interval"`
	}

	// Duration wraps time.Duration with YAML support for "30s" style values.
	Duration time.Duration
)

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Default returns the default configuration. These defaults are used as a
// base before loading the config file.
func Default() *Config {
	lc := lifecycle.DefaultConfig()
	return &Config{
		Log: LogConfig{Format: "json"},
		Mongo: MongoConfig{
			Database:   "coderun",
			Collection: "session_events",
			Timeout:    Duration(5 * time.Second),
		},
		Redis: RedisConfig{StreamMaxLen: 1000},
		Lifecycle: LifecycleConfig{
			Breaker: BreakerConfig{
				FailureThreshold: lc.Breaker.Threshold,
				ResetWindow:      Duration(lc.Breaker.Window),
			},
			Spawn: SpawnConfig{
				Cooldown:  Duration(lc.Spawn.Cooldown),
				ReadyWait: Duration(lc.Spawn.ReadyWait),
			},
			Inactivity: InactivityConfig{
				Timeout:          Duration(lc.Inactivity.Timeout),
				Extension:        Duration(lc.Inactivity.Extension),
				MinCheckInterval: Duration(lc.Inactivity.MinCheckInterval),
			},
			HeartbeatTimeout: Duration(lc.HeartbeatTimeout),
		},
	}
}

// Load loads configuration from the path in the CODERUN_CONFIG environment
// variable. If the variable is unset the defaults are returned.
func Load() (*Config, error) {
	path := os.Getenv("CODERUN_CONFIG")
	if path == "" {
		return Default(), nil
	}
	return LoadFile(path)
}

// LoadFile loads configuration from a specific file path, merging over the
// defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	if c.Mongo.URI != "" && c.Mongo.Database == "" {
		errs = append(errs, fmt.Errorf("mongo.database is required when mongo.uri is set"))
	}
	if c.Lifecycle.Breaker.FailureThreshold < 0 {
		errs = append(errs, fmt.Errorf("lifecycle.breaker.failure_threshold must not be negative"))
	}
	for _, d := range []struct {
		name string
		val  Duration
	}{
		{"mongo.timeout", c.Mongo.Timeout},
		{"lifecycle.breaker.reset_window", c.Lifecycle.Breaker.ResetWindow},
		{"lifecycle.spawn.cooldown", c.Lifecycle.Spawn.Cooldown},
		{"lifecycle.spawn.ready_wait", c.Lifecycle.Spawn.ReadyWait},
		{"lifecycle.inactivity.timeout", c.Lifecycle.Inactivity.Timeout},
		{"lifecycle.inactivity.extension", c.Lifecycle.Inactivity.Extension},
		{"lifecycle.inactivity.min_check_interval", c.Lifecycle.Inactivity.MinCheckInterval},
		{"lifecycle.heartbeat_timeout", c.Lifecycle.HeartbeatTimeout},
	} {
		if d.val < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", d.name))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// LifecycleConfig converts the YAML lifecycle section into the engine's
// configuration, substituting defaults for zero values.
func (c *Config) LifecycleConfig() lifecycle.Config {
	lc := lifecycle.DefaultConfig()
	if c.Lifecycle.Breaker.FailureThreshold > 0 {
		lc.Breaker.Threshold = c.Lifecycle.Breaker.FailureThreshold
	}
	if d := c.Lifecycle.Breaker.ResetWindow.Std(); d > 0 {
		lc.Breaker.Window = d
	}
	if d := c.Lifecycle.Spawn.Cooldown.Std(); d > 0 {
		lc.Spawn.Cooldown = d
	}
	if d := c.Lifecycle.Spawn.ReadyWait.Std(); d > 0 {
		lc.Spawn.ReadyWait = d
	}
	if d := c.Lifecycle.Inactivity.Timeout.Std(); d > 0 {
		lc.Inactivity.Timeout = d
	}
	if d := c.Lifecycle.Inactivity.Extension.Std(); d > 0 {
		lc.Inactivity.Extension = d
	}
	if d := c.Lifecycle.Inactivity.MinCheckInterval.Std(); d > 0 {
		lc.Inactivity.MinCheckInterval = d
	}
	if d := c.Lifecycle.HeartbeatTimeout.Std(); d > 0 {
		lc.HeartbeatTimeout = d
	}
	return lc
}
