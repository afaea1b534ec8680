package config

import (
	"os"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		Ingest: IngestConfig{
			Mode:           IngestModeStream,
			ChunkSize:      200,
			ReconnectDelay: "5s",
		},
		Analysis: AnalysisConfig{
			MinDataPoints:        50,
			CorrelationThreshold: 0.7,
			Interval:             "5m",
		},
		Tracker: TrackerConfig{
			ThresholdChange: 0.1,
			MinCorrelation:  0.7,
			MaxHistory:      1000,
		},
	}
}

func TestLoad_WithDefaults(t *testing.T) {
	// Clear any existing environment variables that might interfere
	os.Clearenv()
	viper.Reset()

	config, err := Load()
	require.NoError(t, err)
	require.NotNil(t, config)

	assert.Equal(t, "development", config.Environment)
	assert.Equal(t, "info", config.LogLevel)
	assert.Equal(t, 8080, config.Server.Port)
	assert.Equal(t, "https://api.binance.com", config.Exchange.RestURL)
	assert.Equal(t, "wss://stream.binance.com:9443", config.Exchange.StreamURL)
	assert.Equal(t, "USDT", config.Exchange.QuoteAsset)
	assert.Equal(t, IngestModeStream, config.Ingest.Mode)
	assert.Equal(t, 200, config.Ingest.ChunkSize)
	assert.Equal(t, 5*time.Second, config.Ingest.GetReconnectDelay())
	assert.True(t, config.Ingest.Combined)
	assert.Equal(t, "ticker", config.Ingest.StreamSuffix)
	assert.Equal(t, 100, config.Ingest.MaxInstruments)
	assert.Equal(t, 2*time.Hour, config.Series.GetRetentionWindow())
	assert.Equal(t, 5*time.Minute, config.Analysis.GetInterval())
	assert.Equal(t, 50, config.Analysis.MinDataPoints)
	assert.Equal(t, 0.7, config.Analysis.CorrelationThreshold)
	assert.Equal(t, time.Minute, config.Analysis.GetResampleInterval())
	assert.Equal(t, 10, config.Analysis.TopN)
	assert.Equal(t, 0.1, config.Tracker.ThresholdChange)
	assert.Equal(t, 0.7, config.Tracker.MinCorrelation)
	assert.Equal(t, 1000, config.Tracker.MaxHistory)
	assert.Equal(t, 200, config.Warmup.Limit)
	assert.Equal(t, "1h", config.Warmup.Interval)
	assert.Equal(t, "data", config.Storage.OutputDir)
	assert.False(t, config.Database.Enabled)
	assert.False(t, config.Redis.Enabled)
	assert.False(t, config.Telegram.Enabled())
	assert.Equal(t, "stdout", config.Telemetry.Exporter)
}

func TestLoad_WithEnvironmentVariables(t *testing.T) {
	viper.Reset()
	t.Setenv("ENVIRONMENT", "PRODUCTION")
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("SERVER_PORT", "9000")
	t.Setenv("INGEST_MODE", "POLL")
	t.Setenv("INGEST_CHUNK_SIZE", "150")
	t.Setenv("INGEST_RECONNECT_DELAY", "2s")
	t.Setenv("ANALYSIS_MIN_DATA_POINTS", "30")
	t.Setenv("ANALYSIS_CORRELATION_THRESHOLD", "0.8")
	t.Setenv("TRACKER_MAX_HISTORY", "50")
	t.Setenv("REDIS_HOST", "prod-redis.example.com")
	t.Setenv("TELEGRAM_BOT_TOKEN", "prod_bot_token")
	t.Setenv("TELEGRAM_CHAT_ID", "12345")

	config, err := Load()
	require.NoError(t, err)
	require.NotNil(t, config)

	assert.Equal(t, "production", config.Environment)
	assert.Equal(t, "error", config.LogLevel)
	assert.Equal(t, 9000, config.Server.Port)
	assert.Equal(t, IngestModePoll, config.Ingest.Mode)
	assert.Equal(t, 150, config.Ingest.ChunkSize)
	assert.Equal(t, 2*time.Second, config.Ingest.GetReconnectDelay())
	assert.Equal(t, 30, config.Analysis.MinDataPoints)
	assert.Equal(t, 0.8, config.Analysis.CorrelationThreshold)
	assert.Equal(t, 50, config.Tracker.MaxHistory)
	assert.Equal(t, "prod-redis.example.com", config.Redis.Host)
	assert.True(t, config.Telegram.Enabled())
	assert.Equal(t, int64(12345), config.Telegram.ChatID)
}

func TestLoad_InvalidValues(t *testing.T) {
	viper.Reset()
	t.Setenv("INGEST_CHUNK_SIZE", "0")

	config, err := Load()
	assert.Error(t, err)
	assert.Nil(t, config)
	assert.Contains(t, err.Error(), "chunk size")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"bad mode", func(c *Config) { c.Ingest.Mode = "carrier-pigeon" }, "ingest mode"},
		{"chunk too large", func(c *Config) { c.Ingest.ChunkSize = 5000 }, "chunk size"},
		{"min data points", func(c *Config) { c.Analysis.MinDataPoints = 1 }, "min_data_points"},
		{"threshold above one", func(c *Config) { c.Analysis.CorrelationThreshold = 1.5 }, "correlation_threshold"},
		{"min correlation negative", func(c *Config) { c.Tracker.MinCorrelation = -0.1 }, "min_correlation"},
		{"threshold change negative", func(c *Config) { c.Tracker.ThresholdChange = -1 }, "threshold_change"},
		{"history", func(c *Config) { c.Tracker.MaxHistory = 0 }, "max_history"},
		{"bad duration", func(c *Config) { c.Ingest.ReconnectDelay = "five seconds" }, "ingest.reconnect_delay"},
		{"warmup without seeding", func(c *Config) {
			c.Warmup = WarmupConfig{Enabled: true, Interval: "1h", Limit: 200}
			c.Series.RetentionWindow = "2h"
		}, ""},
		{"bad warmup interval", func(c *Config) {
			c.Warmup = WarmupConfig{Enabled: true, Interval: "1y", Limit: 200}
		}, "warmup.interval"},
		{"seeded history outlives retention", func(c *Config) {
			c.Warmup = WarmupConfig{Enabled: true, Interval: "1h", Limit: 200, SeedBuffer: true}
			c.Series.RetentionWindow = "2h"
		}, "series.retention_window"},
		{"seeded history fits retention", func(c *Config) {
			c.Warmup = WarmupConfig{Enabled: true, Interval: "1m", Limit: 120, SeedBuffer: true}
			c.Series.RetentionWindow = "2h"
		}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDurationGetters_Fallbacks(t *testing.T) {
	assert.Equal(t, 5*time.Second, IngestConfig{}.GetReconnectDelay())
	assert.Equal(t, 15*time.Second, IngestConfig{PingPeriod: "bogus"}.GetPingPeriod())
	assert.Equal(t, 30*time.Second, IngestConfig{}.GetPollInterval())
	assert.Equal(t, time.Duration(0), AnalysisConfig{ResampleInterval: "0s"}.GetResampleInterval())
	assert.Equal(t, 100*time.Millisecond, WarmupConfig{}.GetRequestDelay())
	assert.Equal(t, time.Hour, RedisConfig{}.GetTTL())
	assert.Equal(t, 30*time.Second, ExchangeConfig{}.GetTimeout())
	assert.Equal(t, 10*time.Second, ExchangeConfig{Timeout: 10}.GetTimeout())
}

func TestWarmupConfig_HistorySpan(t *testing.T) {
	tests := []struct {
		interval string
		limit    int
		want     time.Duration
	}{
		{"1m", 60, time.Hour},
		{"15m", 4, time.Hour},
		{"1h", 200, 200 * time.Hour},
		{"1d", 7, 7 * 24 * time.Hour},
		{"1w", 2, 14 * 24 * time.Hour},
		{"1M", 1, 30 * 24 * time.Hour},
	}
	for _, tt := range tests {
		t.Run(tt.interval, func(t *testing.T) {
			span, err := WarmupConfig{Interval: tt.interval, Limit: tt.limit}.HistorySpan()
			require.NoError(t, err)
			assert.Equal(t, tt.want, span)
		})
	}

	for _, bad := range []string{"", "h", "0h", "-1h", "1y", "xh"} {
		_, err := WarmupConfig{Interval: bad, Limit: 1}.HistorySpan()
		assert.Error(t, err, bad)
	}
}

func TestLoad_SeedBufferNeedsRetention(t *testing.T) {
	viper.Reset()
	t.Setenv("WARMUP_SEED_BUFFER", "true")

	config, err := Load()
	require.Error(t, err)
	assert.Nil(t, config)
	assert.Contains(t, err.Error(), "series.retention_window")

	viper.Reset()
	t.Setenv("SERIES_RETENTION_WINDOW", "200h")
	config, err = Load()
	require.NoError(t, err)
	assert.True(t, config.Warmup.SeedBuffer)
}

func TestTelegramConfig_Enabled(t *testing.T) {
	assert.False(t, TelegramConfig{BotToken: "token"}.Enabled())
	assert.False(t, TelegramConfig{ChatID: 1}.Enabled())
	assert.True(t, TelegramConfig{BotToken: "token", ChatID: 1}.Enabled())
}
