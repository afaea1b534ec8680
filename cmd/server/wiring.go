package main

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/irfndi/celebrum-correlation/internal/api/handlers"
	"github.com/irfndi/celebrum-correlation/internal/config"
	"github.com/irfndi/celebrum-correlation/internal/ingest"
	"github.com/irfndi/celebrum-correlation/internal/logging"
	"github.com/irfndi/celebrum-correlation/internal/services"
	"github.com/irfndi/celebrum-correlation/internal/telemetry"
	"github.com/irfndi/celebrum-correlation/pkg/binance"
)

// healthFunc adapts a plain probe to handlers.HealthChecker.
type healthFunc func(ctx context.Context) error

func (f healthFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

func engineConfig(cfg config.AnalysisConfig) services.CorrelationEngineConfig {
	return services.CorrelationEngineConfig{
		MinDataPoints:        cfg.MinDataPoints,
		CorrelationThreshold: cfg.CorrelationThreshold,
		ResampleInterval:     cfg.GetResampleInterval(),
		TopN:                 cfg.TopN,
	}
}

// warmupEngineConfig keeps the realtime thresholds but resamples candles on
// the warm-up interval.
func warmupEngineConfig(cfg *config.Config) services.CorrelationEngineConfig {
	ec := engineConfig(cfg.Analysis)
	ec.ResampleInterval = cfg.Warmup.GetResampleInterval()
	return ec
}

func trackerConfig(cfg config.TrackerConfig) services.ChangeTrackerConfig {
	return services.ChangeTrackerConfig{
		ThresholdChange: cfg.ThresholdChange,
		MinCorrelation:  cfg.MinCorrelation,
		MaxHistory:      cfg.MaxHistory,
	}
}

func cycleConfig(cfg *config.Config) services.AnalysisCycleConfig {
	return services.AnalysisCycleConfig{
		Interval:        cfg.Analysis.GetInterval(),
		RetentionWindow: cfg.Series.GetRetentionWindow(),
		ClearAfterCycle: cfg.Analysis.ClearAfterCycle,
		PriceVolume:     cfg.Analysis.PriceVolume,
	}
}

func warmStartConfig(cfg config.WarmupConfig) services.WarmStartConfig {
	return services.WarmStartConfig{
		Interval:     cfg.Interval,
		Limit:        cfg.Limit,
		RequestDelay: cfg.GetRequestDelay(),
	}
}

func streamConfig(cfg *config.Config) ingest.StreamConfig {
	sc := ingest.DefaultStreamConfig()
	if cfg.Exchange.StreamURL != "" {
		sc.BaseURL = cfg.Exchange.StreamURL
	}
	sc.ChunkSize = cfg.Ingest.ChunkSize
	sc.ReconnectDelay = cfg.Ingest.GetReconnectDelay()
	sc.PingPeriod = cfg.Ingest.GetPingPeriod()
	sc.Combined = cfg.Ingest.Combined
	if cfg.Ingest.StreamSuffix != "" {
		sc.StreamSuffix = cfg.Ingest.StreamSuffix
	}
	return sc
}

func telemetryConfig(cfg *config.Config) *telemetry.TelemetryConfig {
	tc := telemetry.DefaultConfig()
	tc.Enabled = cfg.Telemetry.Enabled
	tc.Exporter = cfg.Telemetry.Exporter
	tc.OTLPEndpoint = cfg.Telemetry.OTLPEndpoint
	tc.ServiceName = cfg.Telemetry.ServiceName
	tc.ServiceVersion = cfg.Telemetry.ServiceVersion
	tc.Environment = cfg.Environment
	return tc
}

// newLoggers builds the component logger and the lifecycle logger. With the
// OTLP exporter enabled, component logs are forwarded through a hook.
func newLoggers(cfg *config.Config) (*logrus.Logger, *logging.StandardLogger) {
	logrusLogger := logging.NewLogrusLogger(cfg.LogLevel, cfg.Environment)
	if !cfg.Telemetry.Enabled || cfg.Telemetry.Exporter != telemetry.ExporterOTLP {
		return logrusLogger, logging.NewStandardLogger(cfg.LogLevel, cfg.Environment)
	}
	std := logging.NewStandardOTLPLogger(logging.OTLPConfig{
		Enabled:        true,
		Endpoint:       cfg.Telemetry.OTLPEndpoint,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: cfg.Telemetry.ServiceVersion,
		Environment:    cfg.Environment,
		LogLevel:       cfg.LogLevel,
	})
	logrusLogger.AddHook(logging.NewSlogHook(std.Logger(), logging.ParseLogrusLevel(cfg.LogLevel)))
	return logrusLogger, std
}

// newSource picks the ingestion variant for the configured mode.
func newSource(cfg *config.Config, client *binance.Client, recovery *services.ErrorRecoveryManager, sink ingest.Sink, dialer ingest.Dialer, logger *logrus.Logger) (ingest.Source, error) {
	switch cfg.Ingest.Mode {
	case config.IngestModeStream:
		return ingest.NewStreamIngestor(streamConfig(cfg), dialer, sink, logger), nil
	case config.IngestModePoll:
		tickers := services.NewRecoveringTickerSource(client, recovery)
		return ingest.NewRestPoller(tickers, sink, cfg.Ingest.GetPollInterval(), logger), nil
	default:
		return nil, fmt.Errorf("unsupported ingest mode %q", cfg.Ingest.Mode)
	}
}

// healthChecks lists the probed dependencies. Disabled stores map to an
// untyped nil so the handler reports them as disabled.
func healthChecks(exchange healthFunc, redisCheck, postgresCheck handlers.HealthChecker) map[string]handlers.HealthChecker {
	checks := map[string]handlers.HealthChecker{
		"exchange": exchange,
		"redis":    nil,
		"postgres": nil,
	}
	if redisCheck != nil {
		checks["redis"] = redisCheck
	}
	if postgresCheck != nil {
		checks["postgres"] = postgresCheck
	}
	return checks
}

func sinkNames(sinks []services.Sink) []string {
	names := make([]string, len(sinks))
	for i, s := range sinks {
		names[i] = s.Name()
	}
	return names
}

const shutdownTimeout = 30 * time.Second
