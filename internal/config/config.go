package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Ingestion modes.
const (
	IngestModeStream = "stream"
	IngestModePoll   = "poll"
)

// maxStreamsPerConnection is the exchange's hard cap on streams in one combined connection.
const maxStreamsPerConnection = 1024

type Config struct {
	Environment string          `mapstructure:"environment"`
	LogLevel    string          `mapstructure:"log_level"`
	Server      ServerConfig    `mapstructure:"server"`
	Exchange    ExchangeConfig  `mapstructure:"exchange"`
	Ingest      IngestConfig    `mapstructure:"ingest"`
	Series      SeriesConfig    `mapstructure:"series"`
	Analysis    AnalysisConfig  `mapstructure:"analysis"`
	Tracker     TrackerConfig   `mapstructure:"tracker"`
	Warmup      WarmupConfig    `mapstructure:"warmup"`
	Storage     StorageConfig   `mapstructure:"storage"`
	Database    DatabaseConfig  `mapstructure:"database"`
	Redis       RedisConfig     `mapstructure:"redis"`
	Telegram    TelegramConfig  `mapstructure:"telegram"`
	Telemetry   TelemetryConfig `mapstructure:"telemetry"`
}

type ServerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// ExchangeConfig points at the market data venue.
type ExchangeConfig struct {
	RestURL    string `mapstructure:"rest_url"`
	StreamURL  string `mapstructure:"stream_url"`
	Timeout    int    `mapstructure:"timeout"`
	QuoteAsset string `mapstructure:"quote_asset"`
}

type IngestConfig struct {
	Mode           string   `mapstructure:"mode"`
	ChunkSize      int      `mapstructure:"chunk_size"`
	ReconnectDelay string   `mapstructure:"reconnect_delay"`
	PingPeriod     string   `mapstructure:"ping_period"`
	PollInterval   string   `mapstructure:"poll_interval"`
	Combined       bool     `mapstructure:"combined"`
	StreamSuffix   string   `mapstructure:"stream_suffix"`
	MaxInstruments int      `mapstructure:"max_instruments"`
	Symbols        []string `mapstructure:"symbols"`
}

type SeriesConfig struct {
	RetentionWindow string `mapstructure:"retention_window"`
}

type AnalysisConfig struct {
	Interval             string  `mapstructure:"interval"`
	MinDataPoints        int     `mapstructure:"min_data_points"`
	CorrelationThreshold float64 `mapstructure:"correlation_threshold"`
	ResampleInterval     string  `mapstructure:"resample_interval"`
	TopN                 int     `mapstructure:"top_n"`
	ClearAfterCycle      bool    `mapstructure:"clear_after_cycle"`
	PriceVolume          bool    `mapstructure:"price_volume"`
}

type TrackerConfig struct {
	ThresholdChange float64 `mapstructure:"threshold_change"`
	MinCorrelation  float64 `mapstructure:"min_correlation"`
	MaxHistory      int     `mapstructure:"max_history"`
}

// WarmupConfig controls the historical klines fetch run before streaming starts.
type WarmupConfig struct {
	Enabled          bool   `mapstructure:"enabled"`
	Interval         string `mapstructure:"interval"`
	Limit            int    `mapstructure:"limit"`
	ResampleInterval string `mapstructure:"resample_interval"`
	RequestDelay     string `mapstructure:"request_delay"`
	SeedBuffer       bool   `mapstructure:"seed_buffer"`
}

type StorageConfig struct {
	OutputDir string `mapstructure:"output_dir"`
}

type DatabaseConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	DBName          string `mapstructure:"dbname"`
	SSLMode         string `mapstructure:"sslmode"`
	DatabaseURL     string `mapstructure:"database_url"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime string `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime string `mapstructure:"conn_max_idle_time"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	TTL      string `mapstructure:"ttl"`
}

type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token"`
	ChatID   int64  `mapstructure:"chat_id"`
}

// Enabled reports whether change notifications can be sent.
func (t TelegramConfig) Enabled() bool {
	return t.BotToken != "" && t.ChatID != 0
}

type TelemetryConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Exporter       string `mapstructure:"exporter"`
	OTLPEndpoint   string `mapstructure:"otlp_endpoint"`
	ServiceName    string `mapstructure:"service_name"`
	ServiceVersion string `mapstructure:"service_version"`
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	// Set default values
	setDefaults()

	// Enable environment variable support
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Read config file
	if err := viper.ReadInConfig(); err != nil {
		// Config file not found, use defaults and environment variables
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	config.Environment = strings.ToLower(config.Environment)
	config.Ingest.Mode = strings.ToLower(config.Ingest.Mode)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate checks ranges and duration strings.
func (c *Config) Validate() error {
	if c.Ingest.Mode != IngestModeStream && c.Ingest.Mode != IngestModePoll {
		return fmt.Errorf("ingest mode must be %q or %q, got %q", IngestModeStream, IngestModePoll, c.Ingest.Mode)
	}
	if c.Ingest.ChunkSize < 1 || c.Ingest.ChunkSize > maxStreamsPerConnection {
		return fmt.Errorf("ingest chunk size must be between 1 and %d, got %d", maxStreamsPerConnection, c.Ingest.ChunkSize)
	}
	if c.Analysis.MinDataPoints < 2 {
		return fmt.Errorf("analysis min_data_points must be at least 2, got %d", c.Analysis.MinDataPoints)
	}
	if c.Analysis.CorrelationThreshold < 0 || c.Analysis.CorrelationThreshold > 1 {
		return fmt.Errorf("analysis correlation_threshold must be within [0, 1], got %v", c.Analysis.CorrelationThreshold)
	}
	if c.Tracker.MinCorrelation < 0 || c.Tracker.MinCorrelation > 1 {
		return fmt.Errorf("tracker min_correlation must be within [0, 1], got %v", c.Tracker.MinCorrelation)
	}
	if c.Tracker.ThresholdChange < 0 {
		return fmt.Errorf("tracker threshold_change must not be negative, got %v", c.Tracker.ThresholdChange)
	}
	if c.Tracker.MaxHistory < 1 {
		return fmt.Errorf("tracker max_history must be positive, got %d", c.Tracker.MaxHistory)
	}

	durations := map[string]string{
		"ingest.reconnect_delay":     c.Ingest.ReconnectDelay,
		"ingest.ping_period":         c.Ingest.PingPeriod,
		"ingest.poll_interval":       c.Ingest.PollInterval,
		"series.retention_window":    c.Series.RetentionWindow,
		"analysis.interval":          c.Analysis.Interval,
		"analysis.resample_interval": c.Analysis.ResampleInterval,
		"warmup.resample_interval":   c.Warmup.ResampleInterval,
		"warmup.request_delay":       c.Warmup.RequestDelay,
		"redis.ttl":                  c.Redis.TTL,
	}
	for key, value := range durations {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid %s duration: %w", key, err)
		}
	}

	if c.Warmup.Enabled || c.Warmup.SeedBuffer {
		span, err := c.Warmup.HistorySpan()
		if err != nil {
			return fmt.Errorf("invalid warmup.interval: %w", err)
		}
		// Seeded history older than the retention window is trimmed on the first cycle.
		if retention := c.Series.GetRetentionWindow(); c.Warmup.SeedBuffer && retention < span {
			return fmt.Errorf("series.retention_window %s is shorter than the seeded history %s (warmup.interval %s x warmup.limit %d)",
				retention, span, c.Warmup.Interval, c.Warmup.Limit)
		}
	}
	return nil
}

func setDefaults() {
	// Environment
	viper.SetDefault("environment", "development")
	viper.SetDefault("log_level", "info")

	// Server
	viper.SetDefault("server.enabled", true)
	viper.SetDefault("server.port", 8080)

	// Exchange
	viper.SetDefault("exchange.rest_url", "https://api.binance.com")
	viper.SetDefault("exchange.stream_url", "wss://stream.binance.com:9443")
	viper.SetDefault("exchange.timeout", 30)
	viper.SetDefault("exchange.quote_asset", "USDT")

	// Ingestion
	viper.SetDefault("ingest.mode", IngestModeStream)
	viper.SetDefault("ingest.chunk_size", 200)
	viper.SetDefault("ingest.reconnect_delay", "5s")
	viper.SetDefault("ingest.ping_period", "15s")
	viper.SetDefault("ingest.poll_interval", "30s")
	viper.SetDefault("ingest.combined", true)
	viper.SetDefault("ingest.stream_suffix", "ticker")
	viper.SetDefault("ingest.max_instruments", 100)
	viper.SetDefault("ingest.symbols", []string{})

	// Series buffer
	viper.SetDefault("series.retention_window", "2h")

	// Analysis
	viper.SetDefault("analysis.interval", "5m")
	viper.SetDefault("analysis.min_data_points", 50)
	viper.SetDefault("analysis.correlation_threshold", 0.7)
	viper.SetDefault("analysis.resample_interval", "1m")
	viper.SetDefault("analysis.top_n", 10)
	viper.SetDefault("analysis.clear_after_cycle", false)
	viper.SetDefault("analysis.price_volume", true)

	// Change tracker
	viper.SetDefault("tracker.threshold_change", 0.1)
	viper.SetDefault("tracker.min_correlation", 0.7)
	viper.SetDefault("tracker.max_history", 1000)

	// Historical warm start
	viper.SetDefault("warmup.enabled", false)
	viper.SetDefault("warmup.interval", "1h")
	viper.SetDefault("warmup.limit", 200)
	viper.SetDefault("warmup.resample_interval", "5m")
	viper.SetDefault("warmup.request_delay", "100ms")
	viper.SetDefault("warmup.seed_buffer", false)

	// Storage
	viper.SetDefault("storage.output_dir", "data")

	// Database
	viper.SetDefault("database.enabled", false)
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "postgres")
	viper.SetDefault("database.dbname", "celebrum_correlation")
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("database.database_url", "")
	viper.SetDefault("database.max_open_conns", 10)
	viper.SetDefault("database.max_idle_conns", 2)
	viper.SetDefault("database.conn_max_lifetime", "300s")
	viper.SetDefault("database.conn_max_idle_time", "60s")

	// Redis
	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.ttl", "1h")

	// Telegram
	viper.SetDefault("telegram.bot_token", "")
	viper.SetDefault("telegram.chat_id", 0)

	// Telemetry
	viper.SetDefault("telemetry.enabled", false)
	viper.SetDefault("telemetry.exporter", "stdout")
	viper.SetDefault("telemetry.otlp_endpoint", "http://localhost:4318")
	viper.SetDefault("telemetry.service_name", "celebrum-correlation")
	viper.SetDefault("telemetry.service_version", "1.0.0")
}
