// Package config loads the processor and server configuration from YAML,
// an optional .env file and environment overrides.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"click-datastreams/internal/domain"
)

type Config struct {
	Service        ServiceConfig        `yaml:"service"`
	Pipeline       PipelineConfig       `yaml:"pipeline"`
	Processor      ProcessorConfig      `yaml:"processor"`
	Dedup          DedupConfig          `yaml:"dedup"`
	Publisher      PublisherConfig      `yaml:"publisher"`
	Bus            BusConfig            `yaml:"bus"`
	ClickHouse     ClickHouseConfig     `yaml:"clickhouse"`
	Postgres       PostgresConfig       `yaml:"postgres"`
	Archive        ArchiveConfig        `yaml:"archive"`
	Classification ClassificationConfig `yaml:"classification"`
	Risk           RiskConfig           `yaml:"risk"`
	Server         ServerConfig         `yaml:"server"`
	Hyperliquid    HyperliquidConfig    `yaml:"hyperliquid"`
	Logging        LoggingConfig        `yaml:"logging"`
}

type ServiceConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
}

// PipelineConfig holds the recognized sink/bus options.
type PipelineConfig struct {
	BatchSize         int  `yaml:"batch_size"`           // rows per store flush
	BatchTimeoutMs    int  `yaml:"batch_timeout_ms"`     // max latency before forced flush
	ConsumerCount     int  `yaml:"consumer_count"`       // parallel readers per topic
	MaxRetries        int  `yaml:"max_retries"`          // publish retry ceiling
	RetryBackoffMs    int  `yaml:"retry_backoff_ms"`     // initial backoff
	RetryMaxBackoffMs int  `yaml:"retry_max_backoff_ms"` // backoff ceiling
	AllowSmallBatches bool `yaml:"allow_small_batches"`  // permit batch_size < 10000 (tests, local runs)
}

func (p PipelineConfig) BatchTimeout() time.Duration {
	return time.Duration(p.BatchTimeoutMs) * time.Millisecond
}

func (p PipelineConfig) RetryBackoff() time.Duration {
	return time.Duration(p.RetryBackoffMs) * time.Millisecond
}

func (p PipelineConfig) RetryMaxBackoff() time.Duration {
	return time.Duration(p.RetryMaxBackoffMs) * time.Millisecond
}

type ProcessorConfig struct {
	Shards                 int           `yaml:"shards"`
	ShardBuffer            int           `yaml:"shard_buffer"`
	SlotLagWindow          int64         `yaml:"slot_lag_window"`
	StaleAfter             time.Duration `yaml:"stale_after"`
	Timeframes             []string      `yaml:"timeframes"`
	CandleGrace            time.Duration `yaml:"candle_grace"`
	TickInterval           time.Duration `yaml:"tick_interval"`
	MetricsPublishInterval time.Duration `yaml:"metrics_publish_interval"`
	ActiveVolumeMultiplier float64       `yaml:"active_volume_multiplier"`
	ShardFailureThreshold  int           `yaml:"shard_failure_threshold"`
}

// DedupConfig sizes the fingerprint window: whichever bound is hit first evicts.
type DedupConfig struct {
	WindowSize int           `yaml:"window_size"`
	WindowTTL  time.Duration `yaml:"window_ttl"`
}

type PublisherConfig struct {
	BufferSize     int           `yaml:"buffer_size"`
	PublishTimeout time.Duration `yaml:"publish_timeout"`
	BatchSize      int           `yaml:"batch_size"`
	BatchTimeout   time.Duration `yaml:"batch_timeout"`
}

type BusConfig struct {
	Driver          string        `yaml:"driver"` // "kafka" | "memory"
	Brokers         []string      `yaml:"brokers"`
	GroupID         string        `yaml:"group_id"`
	ReplayLookback  time.Duration `yaml:"replay_lookback"`
	DeadLetterTopic string        `yaml:"dead_letter_topic"`
	DeadLetterRate  float64       `yaml:"dead_letter_rate"` // records per second
}

type ClickHouseConfig struct {
	Enabled bool   `yaml:"enabled"`
	DSN     string `yaml:"dsn"`
}

type PostgresConfig struct {
	Enabled  bool   `yaml:"enabled"`
	DSN      string `yaml:"dsn"`
	MaxConns int32  `yaml:"max_conns"`
}

type ArchiveConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Bucket          string        `yaml:"bucket"`
	Region          string        `yaml:"region"`
	Endpoint        string        `yaml:"endpoint"`
	PathStyle       bool          `yaml:"path_style"`
	Prefix          string        `yaml:"prefix"`
	AccessKeyID     string        `yaml:"access_key_id"`
	SecretAccessKey string        `yaml:"secret_access_key"`
	FlushInterval   time.Duration `yaml:"flush_interval"`
	MaxRows         int           `yaml:"max_rows"`
}

type ClassificationConfig struct {
	Enabled           bool          `yaml:"enabled"`
	Interval          time.Duration `yaml:"interval"`
	SniperSlots       int64         `yaml:"sniper_slots"`
	BundlerMinWallets int           `yaml:"bundler_min_wallets"`
	FreshWindow       time.Duration `yaml:"fresh_window"`
	WhaleShare        float64       `yaml:"whale_share"`
	KOLWallets        []string      `yaml:"kol_wallets"`
}

type RiskConfig struct {
	ConcentrationThreshold float64 `yaml:"concentration_threshold"`
	DevHoldingThreshold    float64 `yaml:"dev_holding_threshold"`
	LowLiquidity           float64 `yaml:"low_liquidity"`
}

type ServerConfig struct {
	HTTPAddr    string        `yaml:"http_addr"`
	MetricsAddr string        `yaml:"metrics_addr"`
	StaleAfter  time.Duration `yaml:"stale_after"`
}

type HyperliquidConfig struct {
	WSURL string   `yaml:"ws_url"`
	Coins []string `yaml:"coins"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

// Store batch bounds for the columnar sink.
const (
	MinStoreBatchSize = 10000
	MaxStoreBatchSize = 50000
	MaxFlushInterval  = 5 * time.Second
)

// Default returns a configuration with every option set to its default.
func Default() *Config {
	return &Config{
		Service: ServiceConfig{Name: "datastreams", Environment: "development"},
		Pipeline: PipelineConfig{
			BatchSize:         MinStoreBatchSize,
			BatchTimeoutMs:    5000,
			ConsumerCount:     2,
			MaxRetries:        5,
			RetryBackoffMs:    100,
			RetryMaxBackoffMs: 10000,
		},
		Processor: ProcessorConfig{
			Shards:                 8,
			ShardBuffer:            4096,
			SlotLagWindow:          2,
			StaleAfter:             24 * time.Hour,
			CandleGrace:            30 * time.Second,
			TickInterval:           time.Second,
			MetricsPublishInterval: time.Second,
			ActiveVolumeMultiplier: 3.0,
			ShardFailureThreshold:  100,
		},
		Dedup: DedupConfig{
			WindowSize: 2_000_000,
			WindowTTL:  15 * time.Minute,
		},
		Publisher: PublisherConfig{
			BufferSize:     10000,
			PublishTimeout: 50 * time.Millisecond,
			BatchSize:      500,
			BatchTimeout:   2 * time.Millisecond,
		},
		Bus: BusConfig{
			Driver:          "kafka",
			GroupID:         "datastreams",
			ReplayLookback:  15 * time.Minute,
			DeadLetterTopic: "datastreams.dead_letter",
			DeadLetterRate:  1000,
		},
		Archive: ArchiveConfig{
			Prefix:        "ohlcv",
			FlushInterval: time.Minute,
			MaxRows:       50000,
		},
		Classification: ClassificationConfig{
			Enabled:           true,
			Interval:          24 * time.Hour,
			SniperSlots:       2,
			BundlerMinWallets: 3,
			FreshWindow:       24 * time.Hour,
			WhaleShare:        0.01,
		},
		Risk: RiskConfig{
			ConcentrationThreshold: 0.5,
			DevHoldingThreshold:    0.1,
			LowLiquidity:           1000,
		},
		Server: ServerConfig{
			HTTPAddr:    ":8080",
			MetricsAddr: ":9090",
			StaleAfter:  time.Minute,
		},
		Hyperliquid: HyperliquidConfig{
			WSURL: "wss://api.hyperliquid.xyz/ws",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// Load reads the YAML file at path on top of Default, loads .env if present,
// applies environment overrides and validates the result.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("CLICKHOUSE_DSN")); v != "" {
		cfg.ClickHouse.DSN = v
		cfg.ClickHouse.Enabled = true
	}
	if v := strings.TrimSpace(os.Getenv("POSTGRES_DSN")); v != "" {
		cfg.Postgres.DSN = v
		cfg.Postgres.Enabled = true
	}
	if v := strings.TrimSpace(os.Getenv("KAFKA_BROKERS")); v != "" {
		var brokers []string
		for _, b := range strings.Split(v, ",") {
			if b = strings.TrimSpace(b); b != "" {
				brokers = append(brokers, b)
			}
		}
		cfg.Bus.Brokers = brokers
	}
	if cfg.Archive.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			cfg.Archive.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			cfg.Archive.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			cfg.Archive.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("ARCHIVE_BUCKET"); v != "" {
			cfg.Archive.Bucket = strings.TrimSpace(v)
		}
	}
}

// Validate checks option ranges.
func (c *Config) Validate() error {
	p := c.Pipeline
	if p.BatchSize <= 0 || p.BatchSize > MaxStoreBatchSize {
		return fmt.Errorf("pipeline.batch_size must be in (0, %d]", MaxStoreBatchSize)
	}
	if p.BatchSize < MinStoreBatchSize && !p.AllowSmallBatches {
		return fmt.Errorf("pipeline.batch_size must be at least %d (set allow_small_batches to override)", MinStoreBatchSize)
	}
	if p.BatchTimeoutMs <= 0 || p.BatchTimeout() > MaxFlushInterval {
		return fmt.Errorf("pipeline.batch_timeout_ms must be in (0, %d]", MaxFlushInterval.Milliseconds())
	}
	if p.ConsumerCount <= 0 {
		return fmt.Errorf("pipeline.consumer_count must be greater than 0")
	}
	if p.MaxRetries < 0 {
		return fmt.Errorf("pipeline.max_retries must not be negative")
	}
	if p.RetryBackoffMs <= 0 || p.RetryMaxBackoffMs < p.RetryBackoffMs {
		return fmt.Errorf("pipeline.retry_backoff_ms must be positive and not exceed retry_max_backoff_ms")
	}

	if c.Processor.Shards <= 0 {
		return fmt.Errorf("processor.shards must be greater than 0")
	}
	if c.Processor.ShardBuffer <= 0 {
		return fmt.Errorf("processor.shard_buffer must be greater than 0")
	}
	if c.Processor.StaleAfter <= 0 {
		return fmt.Errorf("processor.stale_after must be greater than 0")
	}
	if c.Processor.CandleGrace < 0 {
		return fmt.Errorf("processor.candle_grace must not be negative")
	}
	if _, err := domain.ParseTimeframes(c.Processor.Timeframes); err != nil {
		return fmt.Errorf("processor.timeframes: %w", err)
	}

	if c.Dedup.WindowSize <= 0 || c.Dedup.WindowTTL <= 0 {
		return fmt.Errorf("dedup.window_size and dedup.window_ttl must be greater than 0")
	}

	if c.Publisher.BufferSize <= 0 || c.Publisher.BatchSize <= 0 {
		return fmt.Errorf("publisher.buffer_size and publisher.batch_size must be greater than 0")
	}
	if c.Publisher.PublishTimeout <= 0 {
		return fmt.Errorf("publisher.publish_timeout must be greater than 0")
	}

	switch c.Bus.Driver {
	case "kafka":
		if len(c.Bus.Brokers) == 0 {
			return fmt.Errorf("bus.brokers is required for the kafka driver")
		}
	case "memory":
	default:
		return fmt.Errorf("bus.driver must be kafka or memory, got %q", c.Bus.Driver)
	}

	if c.ClickHouse.Enabled && c.ClickHouse.DSN == "" {
		return fmt.Errorf("clickhouse.dsn is required when clickhouse is enabled")
	}
	if c.Postgres.Enabled && c.Postgres.DSN == "" {
		return fmt.Errorf("postgres.dsn is required when postgres is enabled")
	}

	if c.Archive.Enabled {
		if c.Archive.Bucket == "" {
			return fmt.Errorf("archive.bucket is required when archive is enabled")
		}
		if c.Archive.Region == "" {
			return fmt.Errorf("archive.region is required when archive is enabled")
		}
		if !isValidS3Bucket(c.Archive.Bucket) {
			return fmt.Errorf("archive.bucket '%s' is invalid", c.Archive.Bucket)
		}
	}

	if c.Classification.Enabled && c.Classification.Interval <= 0 {
		return fmt.Errorf("classification.interval must be greater than 0")
	}

	return nil
}

// TimeframeSet returns the configured candle timeframes.
func (c *Config) TimeframeSet() []domain.Timeframe {
	tfs, err := domain.ParseTimeframes(c.Processor.Timeframes)
	if err != nil {
		return domain.AllTimeframes
	}
	return tfs
}

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}
