package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/irfndi/celebrum-correlation/internal/api"
	"github.com/irfndi/celebrum-correlation/internal/api/handlers"
	"github.com/irfndi/celebrum-correlation/internal/cache"
	"github.com/irfndi/celebrum-correlation/internal/config"
	"github.com/irfndi/celebrum-correlation/internal/database"
	"github.com/irfndi/celebrum-correlation/internal/ingest"
	"github.com/irfndi/celebrum-correlation/internal/series"
	"github.com/irfndi/celebrum-correlation/internal/services"
	"github.com/irfndi/celebrum-correlation/internal/storage"
	"github.com/irfndi/celebrum-correlation/internal/telemetry"
	"github.com/irfndi/celebrum-correlation/internal/utils"
	"github.com/irfndi/celebrum-correlation/pkg/binance"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Application failed: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// A missing .env is fine; the environment and config file still apply.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, stdLogger := newLoggers(cfg)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = stdLogger.Shutdown(ctx)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := telemetry.InitTelemetry(ctx, telemetryConfig(cfg), stdLogger.WithComponent("telemetry"))
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.WithError(err).Warn("Failed to shutdown telemetry")
		}
	}()

	// Sinks, readers and health probes. The file store is always on.
	fileStore, err := storage.NewFileStore(cfg.Storage.OutputDir, logger)
	if err != nil {
		return fmt.Errorf("failed to open output directory: %w", err)
	}
	sinks := []services.Sink{fileStore}
	readers := handlers.ReaderChain{}
	var redisCheck, postgresCheck handlers.HealthChecker
	var symbolCache services.SymbolCache

	if cfg.Redis.Enabled {
		rdb, err := database.NewRedisConnection(ctx, cfg.Redis)
		if err != nil {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}
		defer rdb.Close()
		correlationCache := cache.NewCorrelationCache(rdb.Client, cfg.Redis.GetTTL(), cfg.Tracker.MaxHistory, logger)
		sinks = append(sinks, correlationCache)
		readers = append(readers, correlationCache)
		symbolCache = cache.NewRedisSymbolCache(rdb.Client, cfg.Redis.GetTTL(), logger)
		redisCheck = rdb
	}
	readers = append(readers, fileStore)

	if cfg.Database.Enabled {
		db, err := database.NewPostgresConnection(ctx, cfg.Database)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer db.Close()
		repo := database.NewChangeRepository(database.NewTracedPool(db.Pool), logger)
		if err := repo.Migrate(ctx); err != nil {
			return err
		}
		sinks = append(sinks, repo)
		postgresCheck = db
	}

	// Change tracking resumes from the last persisted state.
	tracker := services.NewChangeTracker(trackerConfig(cfg.Tracker), logger)
	if state, err := fileStore.LoadChangeHistory(); err != nil {
		logger.WithError(err).Warn("Failed to load change history, starting empty")
	} else {
		tracker.Restore(state)
	}

	client := binance.NewClient(&cfg.Exchange, logger)
	defer func() { _ = client.Close() }()
	recovery := services.NewErrorRecoveryManager(logger)

	discovery := services.NewInstrumentDiscovery(client, symbolCache, recovery, logger)
	symbols, err := discovery.Resolve(ctx, cfg.Ingest.Symbols, cfg.Exchange.QuoteAsset, cfg.Ingest.MaxInstruments)
	if err != nil {
		return fmt.Errorf("failed to resolve instruments: %w", err)
	}

	buffer := series.NewBuffer()
	engine := services.NewCorrelationEngine(engineConfig(cfg.Analysis), logger)
	cycle := services.NewAnalysisCycle(cycleConfig(cfg), buffer, engine, tracker, sinks, logger).
		WithResourceMonitor(services.NewResourceMonitor(100, logger)).
		WithTimeouts(services.NewTimeoutManager(nil, logger))
	if cfg.Analysis.PriceVolume {
		cycle.WithPriceVolume(services.NewPriceVolumeAnalyzer(services.DefaultPriceVolumeConfig(), logger))
	}
	if cfg.Telegram.Enabled() {
		notifier, err := services.NewNotificationService(cfg.Telegram.BotToken, cfg.Telegram.ChatID, logger)
		if err != nil {
			logger.WithError(err).Warn("Telegram notifications disabled")
		} else {
			cycle.WithNotifier(notifier)
		}
	}

	if cfg.Warmup.Enabled {
		runWarmup(ctx, cfg, client, recovery, buffer, sinks, symbols, logger)
	}

	source, err := newSource(cfg, client, recovery, buffer, ingest.NewWebsocketDialer(), logger)
	if err != nil {
		return err
	}
	stdLogger.LogPipeline(cfg.Ingest.Mode, len(symbols), sinkNames(sinks))

	if err := source.Start(ctx, symbols); err != nil {
		return fmt.Errorf("failed to start ingestion: %w", err)
	}
	defer func() {
		if err := source.Stop(); err != nil {
			logger.WithError(err).Warn("Ingestion did not stop cleanly")
		}
	}()

	if err := cycle.Start(ctx); err != nil {
		return err
	}
	defer cycle.Stop()

	var srv *http.Server
	if cfg.Server.Enabled {
		router := api.NewRouter(api.Dependencies{
			ServiceName: cfg.Telemetry.ServiceName,
			Reader:      readers,
			Health:      healthChecks(client.Ping, redisCheck, postgresCheck),
			Source:      source,
			Buffer:      buffer,
			Cycle:       cycle,
			Breakers:    recovery,
			Logger:      logger,
		})
		srv = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           router,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			IdleTimeout:       15 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.WithError(err).Error("HTTP server failed")
				stop()
			}
		}()
	}

	stdLogger.LogStartup(cfg.Telemetry.ServiceName, cfg.Telemetry.ServiceVersion, cfg.Server.Port)

	<-ctx.Done()
	stdLogger.LogShutdown(cfg.Telemetry.ServiceName, "signal received")

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Error("Server forced to shutdown")
		}
	}
	return nil
}

// runWarmup fetches historical klines, writes a historical correlation pass
// and optionally seeds the live buffer. Failures only cost the warm start.
func runWarmup(
	ctx context.Context,
	cfg *config.Config,
	client *binance.Client,
	recovery *services.ErrorRecoveryManager,
	buffer *series.Buffer,
	sinks []services.Sink,
	symbols []string,
	logger *logrus.Logger,
) {
	warm := services.NewWarmStartService(warmStartConfig(cfg.Warmup), client, recovery, logger)
	history, err := warm.FetchHistory(ctx, symbols)
	if err != nil && len(history) == 0 {
		logger.WithError(err).Warn("Warm start skipped")
		return
	}

	if cfg.Warmup.SeedBuffer {
		added := services.Seed(buffer, history)
		logger.WithField("observations", added).Info("Seeded series buffer from history")
	}

	engine := services.NewCorrelationEngine(warmupEngineConfig(cfg), logger)
	historical := services.NewAnalysisCycle(services.AnalysisCycleConfig{}, nil, engine, nil, sinks, logger)
	if _, err := historical.RunHistorical(ctx, history); err != nil {
		entry := logger.WithError(err)
		if utils.IsSkip(err) {
			entry.Info("Historical correlation skipped")
		} else {
			entry.Error("Historical correlation failed")
		}
	}
}
