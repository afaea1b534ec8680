package main

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irfndi/celebrum-correlation/internal/config"
	"github.com/irfndi/celebrum-correlation/internal/ingest"
	"github.com/irfndi/celebrum-correlation/internal/series"
	"github.com/irfndi/celebrum-correlation/internal/services"
	"github.com/irfndi/celebrum-correlation/internal/storage"
	"github.com/irfndi/celebrum-correlation/pkg/binance"
)

func testConfig() *config.Config {
	return &config.Config{
		Environment: "test",
		LogLevel:    "warn",
		Server:      config.ServerConfig{Enabled: true, Port: 8080},
		Exchange: config.ExchangeConfig{
			RestURL:    "http://127.0.0.1:1",
			StreamURL:  "ws://127.0.0.1:1",
			QuoteAsset: "USDT",
		},
		Ingest: config.IngestConfig{
			Mode:           config.IngestModeStream,
			ChunkSize:      50,
			ReconnectDelay: "2s",
			PingPeriod:     "10s",
			PollInterval:   "15s",
			Combined:       true,
			StreamSuffix:   "miniTicker",
		},
		Series: config.SeriesConfig{RetentionWindow: "90m"},
		Analysis: config.AnalysisConfig{
			Interval:             "1m",
			MinDataPoints:        30,
			CorrelationThreshold: 0.8,
			ResampleInterval:     "1m",
			TopN:                 5,
			ClearAfterCycle:      true,
			PriceVolume:          true,
		},
		Tracker:   config.TrackerConfig{ThresholdChange: 0.05, MinCorrelation: 0.75, MaxHistory: 500},
		Warmup:    config.WarmupConfig{Interval: "1h", Limit: 100, ResampleInterval: "1h", RequestDelay: "50ms"},
		Telemetry: config.TelemetryConfig{ServiceName: "celebrum-correlation", ServiceVersion: "test"},
	}
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestEngineConfigs(t *testing.T) {
	cfg := testConfig()

	ec := engineConfig(cfg.Analysis)
	assert.Equal(t, 30, ec.MinDataPoints)
	assert.Equal(t, 0.8, ec.CorrelationThreshold)
	assert.Equal(t, time.Minute, ec.ResampleInterval)
	assert.Equal(t, 5, ec.TopN)

	wc := warmupEngineConfig(cfg)
	assert.Equal(t, time.Hour, wc.ResampleInterval)
	assert.Equal(t, ec.MinDataPoints, wc.MinDataPoints)
}

func TestTrackerAndCycleConfig(t *testing.T) {
	cfg := testConfig()

	tc := trackerConfig(cfg.Tracker)
	assert.Equal(t, services.ChangeTrackerConfig{ThresholdChange: 0.05, MinCorrelation: 0.75, MaxHistory: 500}, tc)

	cc := cycleConfig(cfg)
	assert.Equal(t, time.Minute, cc.Interval)
	assert.Equal(t, 90*time.Minute, cc.RetentionWindow)
	assert.True(t, cc.ClearAfterCycle)
	assert.True(t, cc.PriceVolume)

	ws := warmStartConfig(cfg.Warmup)
	assert.Equal(t, "1h", ws.Interval)
	assert.Equal(t, 100, ws.Limit)
	assert.Equal(t, 50*time.Millisecond, ws.RequestDelay)
}

func TestStreamConfig(t *testing.T) {
	sc := streamConfig(testConfig())
	assert.Equal(t, "ws://127.0.0.1:1", sc.BaseURL)
	assert.Equal(t, 50, sc.ChunkSize)
	assert.Equal(t, 2*time.Second, sc.ReconnectDelay)
	assert.Equal(t, 10*time.Second, sc.PingPeriod)
	assert.Equal(t, "miniTicker", sc.StreamSuffix)
	assert.Equal(t, ingest.DefaultStreamConfig().StopTimeout, sc.StopTimeout)
}

func TestNewSource(t *testing.T) {
	cfg := testConfig()
	client := binance.NewClient(&cfg.Exchange, quietLogger())
	buffer := series.NewBuffer()

	src, err := newSource(cfg, client, nil, buffer, ingest.NewWebsocketDialer(), quietLogger())
	require.NoError(t, err)
	assert.IsType(t, &ingest.StreamIngestor{}, src)
	assert.False(t, src.IsRunning())

	cfg.Ingest.Mode = config.IngestModePoll
	src, err = newSource(cfg, client, services.NewErrorRecoveryManager(quietLogger()), buffer, nil, quietLogger())
	require.NoError(t, err)
	assert.IsType(t, &ingest.RestPoller{}, src)

	cfg.Ingest.Mode = "carrier-pigeon"
	_, err = newSource(cfg, client, nil, buffer, nil, quietLogger())
	assert.ErrorContains(t, err, "unsupported ingest mode")
}

type okCheck struct{}

func (okCheck) HealthCheck(context.Context) error { return nil }

func TestHealthChecks(t *testing.T) {
	exchange := healthFunc(func(context.Context) error { return errors.New("unreachable") })

	checks := healthChecks(exchange, nil, nil)
	require.Len(t, checks, 3)
	assert.Nil(t, checks["redis"])
	assert.Nil(t, checks["postgres"])
	assert.EqualError(t, checks["exchange"].HealthCheck(context.Background()), "unreachable")

	checks = healthChecks(exchange, okCheck{}, okCheck{})
	assert.NotNil(t, checks["redis"])
	assert.NoError(t, checks["postgres"].HealthCheck(context.Background()))
}

func TestTelemetryConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Telemetry.Enabled = true
	cfg.Telemetry.Exporter = "stdout"

	tc := telemetryConfig(cfg)
	assert.True(t, tc.Enabled)
	assert.Equal(t, "stdout", tc.Exporter)
	assert.Equal(t, "test", tc.Environment)
	assert.Equal(t, "celebrum-correlation", tc.ServiceName)
	assert.Equal(t, 1.0, tc.SampleRate)
}

func TestNewLoggers(t *testing.T) {
	cfg := testConfig()

	logger, std := newLoggers(cfg)
	assert.Equal(t, logrus.WarnLevel, logger.GetLevel())
	assert.Empty(t, logger.Hooks)
	require.NotNil(t, std.Logger())
	assert.NoError(t, std.Shutdown(context.Background()))
}

func TestSinkNames(t *testing.T) {
	fs, err := storage.NewFileStore(t.TempDir(), quietLogger())
	require.NoError(t, err)
	assert.Equal(t, []string{"file"}, sinkNames([]services.Sink{fs}))
}
