// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - New() builds a Config with defaults; Load layers file and env on top.
// - Durations are expressed in milliseconds (suffix _ms) so env overrides stay plain integers.
// - Validation errors wrap ErrInvalidConfig.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Persistence backends accepted by PersistenceBackend.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendS3       = "s3"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogFormat is text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP/WebSocket listen address, e.g. ":9090".
	Addr string `koanf:"addr"`

	// TickRateHz is the authoritative simulation frequency.
	TickRateHz int `koanf:"tick_rate_hz"`
	// MaxTickStepMS clamps dt after a stall so one tick never simulates a huge jump.
	MaxTickStepMS int `koanf:"max_tick_step_ms"`

	// QueueSize bounds the inbound command queue.
	QueueSize int `koanf:"queue_size"`
	// DedupeSize is how many recent command ids are remembered for idempotency.
	DedupeSize int `koanf:"dedupe_size"`
	// StationWorkers > 0 ticks stations on a partitioned worker pool; 0 ticks inline.
	StationWorkers int `koanf:"station_workers"`
	// SendBufferSize is the per-client outbound buffer; full buffers drop messages.
	SendBufferSize int `koanf:"send_buffer_size"`

	// MaxLeaderboardLimit caps GET /leaderboard?limit.
	MaxLeaderboardLimit int `koanf:"max_leaderboard_limit"`
	// LeaderboardSnapshotMS is the leaderboard snapshot refresh period.
	LeaderboardSnapshotMS int `koanf:"leaderboard_snapshot_ms"`

	// AutoStart begins a match as soon as the server is up.
	AutoStart bool `koanf:"auto_start"`
	// CatalogPath points at a YAML recipe/level catalog; empty uses the built-in one.
	CatalogPath string `koanf:"catalog_path"`
	// Level selects the level played by new matches.
	Level string `koanf:"level"`
	// DeliveryValidation is permissive or exact.
	DeliveryValidation string `koanf:"delivery_validation"`

	// TimeBonus, ComboBonus and ComboWindowMS configure delivery bonuses; zero disables them.
	TimeBonus     int `koanf:"time_bonus"`
	ComboBonus    int `koanf:"combo_bonus"`
	ComboWindowMS int `koanf:"combo_window_ms"`

	// PersistenceBackend is memory, sqlite, postgres or s3.
	PersistenceBackend string `koanf:"persistence_backend"`
	// PersistenceDSN is the sqlite file path or the postgres connection string.
	PersistenceDSN string `koanf:"persistence_dsn"`
	S3Bucket       string `koanf:"s3_bucket"`
	S3Region       string `koanf:"s3_region"`
	S3Prefix       string `koanf:"s3_prefix"`

	// KafkaBrokers is a comma separated broker list; empty disables analytics.
	KafkaBrokers    string `koanf:"kafka_brokers"`
	KafkaTopic      string `koanf:"kafka_topic"`
	AnalyticsBuffer int    `koanf:"analytics_buffer"`

	// ShutdownTimeoutMS bounds graceful shutdown.
	ShutdownTimeoutMS int `koanf:"shutdown_timeout_ms"`
}

// New creates a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:              "info",
		LogFormat:             "text",
		Addr:                  ":9090",
		TickRateHz:            20,
		MaxTickStepMS:         250,
		QueueSize:             4096,
		DedupeSize:            65_536,
		StationWorkers:        0,
		SendBufferSize:        256,
		MaxLeaderboardLimit:   100,
		LeaderboardSnapshotMS: 1000,
		AutoStart:             false,
		Level:                 "diner",
		DeliveryValidation:    "permissive",
		ComboWindowMS:         30_000,
		PersistenceBackend:    BackendMemory,
		S3Prefix:              "reciperage/",
		KafkaTopic:            "reciperage.events",
		AnalyticsBuffer:       1024,
		ShutdownTimeoutMS:     10_000,
	}
}

// TickInterval is the wall time between ticks.
func (c *Config) TickInterval() time.Duration {
	return time.Second / time.Duration(c.TickRateHz)
}

// MaxTickStep is the dt clamp.
func (c *Config) MaxTickStep() time.Duration {
	return time.Duration(c.MaxTickStepMS) * time.Millisecond
}

// ComboWindow is the delivery combo window.
func (c *Config) ComboWindow() time.Duration {
	return time.Duration(c.ComboWindowMS) * time.Millisecond
}

// LeaderboardSnapshotInterval is the leaderboard snapshot period.
func (c *Config) LeaderboardSnapshotInterval() time.Duration {
	return time.Duration(c.LeaderboardSnapshotMS) * time.Millisecond
}

// ShutdownTimeout bounds graceful shutdown.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutMS) * time.Millisecond
}

// Brokers splits KafkaBrokers into a list, dropping blanks.
func (c *Config) Brokers() []string {
	var out []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.TickRateHz <= 0 || c.TickRateHz > 1000:
		return fmt.Errorf("%w: tick_rate_hz must be in (0, 1000], got %d", ErrInvalidConfig, c.TickRateHz)
	case c.MaxTickStepMS <= 0:
		return fmt.Errorf("%w: max_tick_step_ms must be positive", ErrInvalidConfig)
	case c.QueueSize <= 0:
		return fmt.Errorf("%w: queue_size must be positive", ErrInvalidConfig)
	case c.DedupeSize <= 0:
		return fmt.Errorf("%w: dedupe_size must be positive", ErrInvalidConfig)
	case c.StationWorkers < 0:
		return fmt.Errorf("%w: station_workers must not be negative", ErrInvalidConfig)
	case c.SendBufferSize <= 0:
		return fmt.Errorf("%w: send_buffer_size must be positive", ErrInvalidConfig)
	case c.TimeBonus < 0 || c.ComboBonus < 0:
		return fmt.Errorf("%w: bonuses must not be negative", ErrInvalidConfig)
	}

	switch c.DeliveryValidation {
	case "permissive", "exact":
	default:
		return fmt.Errorf("%w: delivery_validation must be permissive or exact, got %q", ErrInvalidConfig, c.DeliveryValidation)
	}

	switch c.PersistenceBackend {
	case BackendMemory:
	case BackendSQLite, BackendPostgres:
		if c.PersistenceDSN == "" {
			return fmt.Errorf("%w: persistence_dsn is required for %s", ErrInvalidConfig, c.PersistenceBackend)
		}
	case BackendS3:
		if c.S3Bucket == "" {
			return fmt.Errorf("%w: s3_bucket is required for s3", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown persistence_backend %q", ErrInvalidConfig, c.PersistenceBackend)
	}
	return nil
}
