// Package config loads and validates bridge host configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Store and archive backends accepted by Validate.
const (
	BackendNone     = "none"
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendLocal    = "local"
	BackendGCS      = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Bridge    BridgeConfig    `mapstructure:"bridge"`
	Tracker   TrackerConfig   `mapstructure:"tracker"`
	Video     VideoConfig     `mapstructure:"video"`
	Document  DocumentConfig  `mapstructure:"document"`
	Host      HostConfig      `mapstructure:"host"`
	Relay     RelayConfig     `mapstructure:"relay"`
	Store     StoreConfig     `mapstructure:"store"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                   int `mapstructure:"port"`
	RequestTimeoutSeconds  int `mapstructure:"request_timeout_seconds"`
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// BridgeConfig tunes the content-side bridge used by the simulator.
type BridgeConfig struct {
	UserAgent     string `mapstructure:"user_agent"`
	SendTimeoutMs int    `mapstructure:"send_timeout_ms"`
}

// TrackerConfig tunes the active-time ticker shared by all content types.
type TrackerConfig struct {
	TickIntervalMs int `mapstructure:"tick_interval_ms"`
	MaxTickDeltaMs int `mapstructure:"max_tick_delta_ms"`
}

// VideoConfig holds video throttles (seconds of position) and the watch ratio.
type VideoConfig struct {
	TelemetryInterval float64 `mapstructure:"telemetry_interval"`
	PersistInterval   float64 `mapstructure:"persist_interval"`
	CompleteRatio     float64 `mapstructure:"complete_ratio"`
}

// DocumentConfig holds document throttles and coverage thresholds.
type DocumentConfig struct {
	TelemetryIntervalSec float64 `mapstructure:"telemetry_interval_sec"`
	PersistIntervalSec   float64 `mapstructure:"persist_interval_sec"`
	MinVisitedRatio      float64 `mapstructure:"min_visited_ratio"`
	MinActiveSec         int     `mapstructure:"min_active_sec"`
}

// HostConfig tunes the reference host session channel.
type HostConfig struct {
	EventRPS      float64 `mapstructure:"event_rps"`
	EventBurst    int     `mapstructure:"event_burst"`
	SendTimeoutMs int     `mapstructure:"send_timeout_ms"`
}

// RelayConfig tunes the envelope relay hub and its sinks.
type RelayConfig struct {
	BufferSize        int              `mapstructure:"buffer_size"`
	Batch             RelayBatchConfig `mapstructure:"batch"`
	SinkTimeoutMs     int              `mapstructure:"sink_timeout_ms"`
	LogEnabled        bool             `mapstructure:"log_enabled"`
	PrometheusEnabled bool             `mapstructure:"prometheus_enabled"`
	PublishTypes      []string         `mapstructure:"publish_types"`
}

// RelayBatchConfig bounds a relay batch.
type RelayBatchConfig struct {
	MaxEvents int `mapstructure:"max_events"`
	MaxWaitMs int `mapstructure:"max_wait_ms"`
}

// StoreConfig selects the checkpoint repository.
type StoreConfig struct {
	Backend         string `mapstructure:"backend"`
	DSN             string `mapstructure:"dsn"`
	SQLitePath      string `mapstructure:"sqlite_path"`
	CheckpointTable string `mapstructure:"checkpoint_table"`
	CompletionTable string `mapstructure:"completion_table"`
	MaxConns        int32  `mapstructure:"max_conns"`
}

// ArchiveConfig selects where SUSPEND snapshots are archived.
type ArchiveConfig struct {
	Backend string             `mapstructure:"backend"`
	Bucket  string             `mapstructure:"bucket"`
	Prefix  string             `mapstructure:"prefix"`
	Local   LocalArchiveConfig `mapstructure:"local"`
}

// LocalArchiveConfig configures the filesystem archive.
type LocalArchiveConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// TelemetryConfig controls OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	ServiceName    string `mapstructure:"service_name"`
	ServiceVersion string `mapstructure:"service_version"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("BRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 30)
	v.SetDefault("server.shutdown_timeout_seconds", 10)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("bridge.user_agent", "content-progress-bridge/0.1")
	v.SetDefault("bridge.send_timeout_ms", 5000)
	v.SetDefault("tracker.tick_interval_ms", 1000)
	v.SetDefault("tracker.max_tick_delta_ms", 5000)
	v.SetDefault("video.telemetry_interval", 5)
	v.SetDefault("video.persist_interval", 3)
	v.SetDefault("video.complete_ratio", 0.8)
	v.SetDefault("document.telemetry_interval_sec", 10)
	v.SetDefault("document.persist_interval_sec", 10)
	v.SetDefault("document.min_visited_ratio", 0.8)
	v.SetDefault("document.min_active_sec", 30)
	v.SetDefault("host.event_rps", 20)
	v.SetDefault("host.event_burst", 40)
	v.SetDefault("host.send_timeout_ms", 5000)
	v.SetDefault("relay.buffer_size", 1024)
	v.SetDefault("relay.batch.max_events", 200)
	v.SetDefault("relay.batch.max_wait_ms", 250)
	v.SetDefault("relay.sink_timeout_ms", 5000)
	v.SetDefault("relay.log_enabled", true)
	v.SetDefault("relay.prometheus_enabled", true)
	v.SetDefault("relay.publish_types", []string{"COMPLETE", "SUSPEND"})
	v.SetDefault("store.backend", BackendMemory)
	v.SetDefault("store.sqlite_path", "bridge.db")
	v.SetDefault("store.checkpoint_table", "progress_checkpoints")
	v.SetDefault("store.completion_table", "progress_completions")
	v.SetDefault("store.max_conns", 8)
	v.SetDefault("archive.backend", BackendNone)
	v.SetDefault("archive.prefix", "suspend")
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_name", "bridgehost")
	v.SetDefault("telemetry.service_version", "dev")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Bridge.SendTimeoutMs < 0 {
		return fmt.Errorf("bridge.send_timeout_ms must be >= 0")
	}
	if c.Video.CompleteRatio < 0 || c.Video.CompleteRatio > 1 {
		return fmt.Errorf("video.complete_ratio must be within [0, 1]")
	}
	if c.Document.MinVisitedRatio < 0 || c.Document.MinVisitedRatio > 1 {
		return fmt.Errorf("document.min_visited_ratio must be within [0, 1]")
	}
	if c.Relay.BufferSize <= 0 {
		return fmt.Errorf("relay.buffer_size must be > 0")
	}
	switch c.Store.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn must be set for the postgres backend")
		}
	case BackendSQLite:
		if c.Store.SQLitePath == "" {
			return fmt.Errorf("store.sqlite_path must be set for the sqlite backend")
		}
	default:
		return fmt.Errorf("store.backend %q is not supported", c.Store.Backend)
	}
	switch c.Archive.Backend {
	case BackendNone, BackendMemory:
	case BackendLocal:
		if c.Archive.Local.BaseDir == "" {
			return fmt.Errorf("archive.local.base_dir must be set for the local backend")
		}
	case BackendGCS:
		if c.Archive.Bucket == "" {
			return fmt.Errorf("archive.bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("archive.backend %q is not supported", c.Archive.Backend)
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	return nil
}

// RequestTimeout converts the server timeout into a duration.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

// ShutdownTimeout converts the shutdown grace period into a duration.
func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSeconds) * time.Second
}

// Millis converts a millisecond knob into a duration.
func Millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
