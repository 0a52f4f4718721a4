// Package config loads and validates scanner configuration via Viper.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Scan     ScanConfig     `mapstructure:"scan"`
	Fetcher  FetcherConfig  `mapstructure:"fetcher"`
	Parser   ParserConfig   `mapstructure:"parser"`
	DB       DBConfig       `mapstructure:"db"`
	Storage  StorageConfig  `mapstructure:"storage"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Boundary BoundaryConfig `mapstructure:"boundary"`
	Batch    BatchConfig    `mapstructure:"batch"`
	Stop     StopConfig     `mapstructure:"stop"`
}

// ServerConfig controls the HTTP status server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// ScanConfig governs the worker pool.
type ScanConfig struct {
	Concurrency          int `mapstructure:"concurrency"`
	MaxConsecutiveErrors int `mapstructure:"max_consecutive_errors"`
	ProgressEvery        int `mapstructure:"progress_every"`
	DrainTimeoutSeconds  int `mapstructure:"drain_timeout_seconds"`
}

// FetcherConfig controls the HTTP fetch layer.
type FetcherConfig struct {
	URLTemplate    string `mapstructure:"url_template"`
	UserAgent      string `mapstructure:"user_agent"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	MinDelayMs     int    `mapstructure:"min_delay_ms"`
}

// ParserConfig overrides detail-page selectors.
type ParserConfig struct {
	TitleSelector       string   `mapstructure:"title_selector"`
	PriceSelector       string   `mapstructure:"price_selector"`
	LocationSelector    string   `mapstructure:"location_selector"`
	DescriptionSelector string   `mapstructure:"description_selector"`
	AttributeSelector   string   `mapstructure:"attribute_selector"`
	NotFoundSelector    string   `mapstructure:"not_found_selector"`
	NotFoundKeywords    []string `mapstructure:"not_found_keywords"`
	DefaultCurrency     string   `mapstructure:"default_currency"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int    `mapstructure:"max_conns"`
	MinConns int    `mapstructure:"min_conns"`
}

// StorageConfig sets the raw-page archive destination. Backend is one of
// "gcs", "local", or "none".
type StorageConfig struct {
	Backend     string `mapstructure:"backend"`
	GCSBucket   string `mapstructure:"gcs_bucket"`
	LocalDir    string `mapstructure:"local_dir"`
	Prefix      string `mapstructure:"prefix"`
	ContentType string `mapstructure:"content_type"`
}

// PubSubConfig holds metadata for flush-event notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// BoundaryConfig tunes the max-ID probe.
type BoundaryConfig struct {
	SafetyCeiling int64 `mapstructure:"safety_ceiling"`
}

// BatchConfig tunes the listing batch buffer.
type BatchConfig struct {
	Size            int `mapstructure:"size"`
	ChunkLimit      int `mapstructure:"chunk_limit"`
	FlushIntervalMs int `mapstructure:"flush_interval_ms"`
}

// StopConfig tunes the end-of-catalog detection window.
type StopConfig struct {
	WindowSize     int     `mapstructure:"window_size"`
	MinConsecutive int     `mapstructure:"min_consecutive"`
	MinRate        float64 `mapstructure:"min_rate"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SEQSCAN")
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
	v.SetDefault("scan.concurrency", 10)
	v.SetDefault("scan.max_consecutive_errors", 25)
	v.SetDefault("scan.progress_every", 50)
	v.SetDefault("scan.drain_timeout_seconds", 60)
	v.SetDefault("fetcher.user_agent", "seqscan-bot/0.1")
	v.SetDefault("fetcher.timeout_seconds", 15)
	v.SetDefault("fetcher.min_delay_ms", 0)
	v.SetDefault("parser.default_currency", "USD")
	v.SetDefault("db.table", "listings")
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("storage.backend", "none")
	v.SetDefault("storage.prefix", "pages")
	v.SetDefault("storage.content_type", "text/html; charset=utf-8")
	v.SetDefault("logging.development", true)
	v.SetDefault("boundary.safety_ceiling", 1<<40)
	v.SetDefault("batch.size", 100)
	v.SetDefault("batch.chunk_limit", 500)
	v.SetDefault("batch.flush_interval_ms", 30000)
	v.SetDefault("stop.window_size", 50)
	v.SetDefault("stop.min_consecutive", 25)
	v.SetDefault("stop.min_rate", 0.9)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Scan.Concurrency <= 0 {
		return fmt.Errorf("scan.concurrency must be > 0")
	}
	if c.Scan.MaxConsecutiveErrors <= 0 {
		return fmt.Errorf("scan.max_consecutive_errors must be > 0")
	}
	if c.Fetcher.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetcher.timeout_seconds must be > 0")
	}
	if c.Batch.Size <= 0 {
		return fmt.Errorf("batch.size must be > 0")
	}
	if c.Batch.ChunkLimit <= 0 {
		return fmt.Errorf("batch.chunk_limit must be > 0")
	}
	if c.Stop.WindowSize <= 0 {
		return fmt.Errorf("stop.window_size must be > 0")
	}
	if c.Stop.MinConsecutive > c.Stop.WindowSize {
		return fmt.Errorf("stop.min_consecutive must fit within stop.window_size")
	}
	if c.Stop.MinRate < 0 || c.Stop.MinRate > 1 {
		return fmt.Errorf("stop.min_rate must be within [0, 1]")
	}
	switch c.Storage.Backend {
	case "none", "gcs", "local":
	default:
		return fmt.Errorf("storage.backend must be one of none, gcs, local")
	}
	if c.Storage.Backend == "gcs" && c.Storage.GCSBucket == "" {
		return fmt.Errorf("storage.gcs_bucket is required for the gcs backend")
	}
	if c.Storage.Backend == "local" && c.Storage.LocalDir == "" {
		return fmt.Errorf("storage.local_dir is required for the local backend")
	}
	return nil
}
