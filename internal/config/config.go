// Package config loads and validates relay configuration via Viper.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/itemrelay/internal/errors"
)

// EnvPrefix prefixes every environment override, e.g. ITEMRELAY_STORE_DSN.
const EnvPrefix = "ITEMRELAY"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	Store      StoreConfig      `mapstructure:"store"`
	Freshness  FreshnessConfig  `mapstructure:"freshness"`
	Validation ValidationConfig `mapstructure:"validation"`
	Delivery   DeliveryConfig   `mapstructure:"delivery"`
	Sinks      SinksConfig      `mapstructure:"sinks"`
	Progress   ProgressConfig   `mapstructure:"progress"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features and the minimum level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// PipelineConfig governs the ingest queue and worker pool.
type PipelineConfig struct {
	Workers          int `mapstructure:"workers"`
	QueueDepth       int `mapstructure:"queue_depth"`
	EnqueueTimeoutMs int `mapstructure:"enqueue_timeout_ms"`
}

// StoreConfig selects and tunes the idempotency store.
type StoreConfig struct {
	Backend            string `mapstructure:"backend"`
	DSN                string `mapstructure:"dsn"`
	Path               string `mapstructure:"path"`
	Table              string `mapstructure:"table"`
	MaxConns           int32  `mapstructure:"max_conns"`
	MinConns           int32  `mapstructure:"min_conns"`
	MaxConnLifetimeSec int    `mapstructure:"max_conn_lifetime_seconds"`
	ExpiryDays         int    `mapstructure:"expiry_days"`
}

// FreshnessConfig bounds how old an item's date may be.
type FreshnessConfig struct {
	// WindowDays has no default; nil means the value was never configured.
	WindowDays *int `mapstructure:"window_days"`
}

// ValidationConfig lists schemas and the policy applied to failing items.
type ValidationConfig struct {
	Schemas     []string `mapstructure:"schemas"`
	Drop        *bool    `mapstructure:"drop"`
	Annotate    *bool    `mapstructure:"annotate"`
	ErrorsField string   `mapstructure:"errors_field"`
}

// DeliveryConfig applies to every sink call.
type DeliveryConfig struct {
	TimeoutMs     int     `mapstructure:"timeout_ms"`
	RatePerSecond float64 `mapstructure:"rate_per_second"`
	Burst         int     `mapstructure:"burst"`
}

// SinksConfig holds per-sink settings. A sink with an empty URI (or topic or
// archive backend) is not configured.
type SinksConfig struct {
	Discord   DiscordConfig   `mapstructure:"discord"`
	Synoptic  SynopticConfig  `mapstructure:"synoptic"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	GRPC      GRPCConfig      `mapstructure:"grpc"`
	Websocket WebsocketConfig `mapstructure:"websocket"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
}

// DiscordConfig configures the chat webhook sink.
type DiscordConfig struct {
	URI     string   `mapstructure:"uri"`
	Exclude []string `mapstructure:"exclude"`
}

// SynopticConfig configures the stream ingest sink.
type SynopticConfig struct {
	URI      string   `mapstructure:"uri"`
	StreamID string   `mapstructure:"stream_id"`
	APIKey   string   `mapstructure:"api_key"`
	Exclude  []string `mapstructure:"exclude"`
}

// TelegramConfig configures the bot message sink.
type TelegramConfig struct {
	URI     string   `mapstructure:"uri"`
	Token   string   `mapstructure:"token"`
	ChatID  string   `mapstructure:"chat_id"`
	Exclude []string `mapstructure:"exclude"`
}

// GRPCConfig configures the feed aggregator sink.
type GRPCConfig struct {
	URI      string   `mapstructure:"uri"`
	Token    string   `mapstructure:"token"`
	FeedID   string   `mapstructure:"feed_id"`
	Package  string   `mapstructure:"package"`
	Insecure bool     `mapstructure:"insecure"`
	Workers  int      `mapstructure:"workers"`
	Exclude  []string `mapstructure:"exclude"`
}

// WebsocketConfig configures the persistent socket sink.
type WebsocketConfig struct {
	URI     string   `mapstructure:"uri"`
	Exclude []string `mapstructure:"exclude"`
}

// HTTPConfig configures the generic webhook sink.
type HTTPConfig struct {
	URI     string   `mapstructure:"uri"`
	Token   string   `mapstructure:"token"`
	Exclude []string `mapstructure:"exclude"`
}

// PubSubConfig configures the Pub/Sub sink.
type PubSubConfig struct {
	ProjectID string   `mapstructure:"project_id"`
	Topic     string   `mapstructure:"topic"`
	Exclude   []string `mapstructure:"exclude"`
}

// ArchiveConfig configures the blob archive sink.
type ArchiveConfig struct {
	Backend string   `mapstructure:"backend"`
	Bucket  string   `mapstructure:"bucket"`
	BaseDir string   `mapstructure:"base_dir"`
	Prefix  string   `mapstructure:"prefix"`
	Exclude []string `mapstructure:"exclude"`
}

// ProgressConfig toggles item lifecycle events.
type ProgressConfig struct {
	Enabled        bool        `mapstructure:"enabled"`
	LogEnabled     bool        `mapstructure:"log_enabled"`
	MetricsEnabled bool        `mapstructure:"metrics_enabled"`
	BufferSize     int         `mapstructure:"buffer_size"`
	Batch          BatchConfig `mapstructure:"batch"`
	SinkTimeoutMs  int         `mapstructure:"sink_timeout_ms"`
}

// BatchConfig bounds progress batches.
type BatchConfig struct {
	MaxEvents int `mapstructure:"max_events"`
	MaxWaitMs int `mapstructure:"max_wait_ms"`
}

// Keys without defaults still need explicit env bindings so Unmarshal sees
// them.
var envOnlyKeys = []string{
	"auth.api_key",
	"store.dsn",
	"store.path",
	"freshness.window_days",
	"validation.schemas",
	"validation.drop",
	"validation.annotate",
	"sinks.discord.uri",
	"sinks.synoptic.uri",
	"sinks.synoptic.stream_id",
	"sinks.synoptic.api_key",
	"sinks.telegram.uri",
	"sinks.telegram.token",
	"sinks.telegram.chat_id",
	"sinks.grpc.uri",
	"sinks.grpc.token",
	"sinks.grpc.feed_id",
	"sinks.websocket.uri",
	"sinks.http.uri",
	"sinks.http.token",
	"sinks.pubsub.project_id",
	"sinks.pubsub.topic",
	"sinks.archive.backend",
	"sinks.archive.bucket",
	"sinks.archive.base_dir",
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	for _, key := range envOnlyKeys {
		if err := v.BindEnv(key); err != nil {
			return Config{}, errors.Wrapf(err, "bind env %s", key)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, errors.Wrap(err, "read config")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "unmarshal config")
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("logging.development", true)
	v.SetDefault("pipeline.workers", 4)
	v.SetDefault("pipeline.queue_depth", 256)
	v.SetDefault("pipeline.enqueue_timeout_ms", 5000)
	v.SetDefault("store.backend", "postgres")
	v.SetDefault("store.table", "items")
	v.SetDefault("store.max_conns", 4)
	v.SetDefault("store.min_conns", 0)
	v.SetDefault("store.max_conn_lifetime_seconds", 1800)
	v.SetDefault("store.expiry_days", 0)
	v.SetDefault("validation.errors_field", "_validation")
	v.SetDefault("delivery.timeout_ms", 10000)
	v.SetDefault("delivery.rate_per_second", 0)
	v.SetDefault("delivery.burst", 1)
	v.SetDefault("sinks.discord.exclude", []string{"body"})
	v.SetDefault("sinks.synoptic.exclude", []string{})
	v.SetDefault("sinks.telegram.exclude", []string{})
	v.SetDefault("sinks.grpc.package", "feeds")
	v.SetDefault("sinks.grpc.insecure", false)
	v.SetDefault("sinks.grpc.workers", 8)
	v.SetDefault("sinks.grpc.exclude", []string{})
	v.SetDefault("sinks.websocket.exclude", []string{})
	v.SetDefault("sinks.http.exclude", []string{})
	v.SetDefault("sinks.pubsub.exclude", []string{})
	v.SetDefault("sinks.archive.prefix", "items")
	v.SetDefault("sinks.archive.exclude", []string{})
	v.SetDefault("progress.enabled", true)
	v.SetDefault("progress.log_enabled", false)
	v.SetDefault("progress.metrics_enabled", true)
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.batch.max_events", 64)
	v.SetDefault("progress.batch.max_wait_ms", 500)
	v.SetDefault("progress.sink_timeout_ms", 2000)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return errors.New("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return errors.New("auth.api_key must be set when auth is enabled")
	}
	if c.Pipeline.Workers <= 0 {
		return errors.New("pipeline.workers must be > 0")
	}
	if c.Pipeline.QueueDepth < 0 {
		return errors.New("pipeline.queue_depth must be >= 0")
	}
	if c.Freshness.WindowDays == nil {
		return errors.Missing("freshness.window_days")
	}
	if *c.Freshness.WindowDays < 0 {
		return errors.New("freshness.window_days must be >= 0")
	}
	switch c.Store.Backend {
	case "postgres":
		if c.Store.DSN == "" {
			return errors.Missing("store.dsn")
		}
	case "sqlite":
		if c.Store.Path == "" {
			return errors.Missing("store.path")
		}
	case "memory":
	default:
		return errors.Newf("store.backend must be one of postgres, sqlite, memory; got %q", c.Store.Backend)
	}
	if c.Store.ExpiryDays < 0 {
		return errors.New("store.expiry_days must be >= 0")
	}
	if c.Delivery.TimeoutMs <= 0 {
		return errors.New("delivery.timeout_ms must be > 0")
	}
	if c.Sinks.GRPC.Workers <= 0 {
		return errors.New("sinks.grpc.workers must be > 0")
	}
	return nil
}

// WindowDays returns the configured freshness window. Callers run after
// Validate, so the pointer is set.
func (c Config) WindowDays() int {
	if c.Freshness.WindowDays == nil {
		return 0
	}
	return *c.Freshness.WindowDays
}

// DropInvalid reports whether failing items are dropped. Configuring schemas
// enables dropping unless explicitly disabled.
func (v ValidationConfig) DropInvalid() bool {
	if v.Drop != nil {
		return *v.Drop
	}
	return len(v.Schemas) > 0
}

// AnnotateInvalid reports whether errors are written onto failing items.
func (v ValidationConfig) AnnotateInvalid() bool {
	if v.Annotate != nil {
		return *v.Annotate
	}
	return len(v.Schemas) > 0
}

// DeliveryTimeout returns the per-call sink timeout.
func (c Config) DeliveryTimeout() time.Duration {
	return time.Duration(c.Delivery.TimeoutMs) * time.Millisecond
}

// EnqueueTimeout returns how long the API waits for queue capacity.
func (c Config) EnqueueTimeout() time.Duration {
	return time.Duration(c.Pipeline.EnqueueTimeoutMs) * time.Millisecond
}

// MaxConnLifetime returns the Postgres connection lifetime.
func (c StoreConfig) MaxConnLifetime() time.Duration {
	return time.Duration(c.MaxConnLifetimeSec) * time.Second
}
