package services

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/irfndi/celebrum-correlation/internal/models"
	"github.com/irfndi/celebrum-correlation/internal/utils"
)

// KlineSource returns historical candles for one instrument.
type KlineSource interface {
	GetKlines(ctx context.Context, symbol, interval string, limit int) ([]models.Kline, error)
}

// SeriesSeeder accepts a batch of historical observations.
type SeriesSeeder interface {
	AppendBatch(symbol string, obs []models.Observation)
}

// WarmStartConfig controls the historical fetch run before live ingestion.
type WarmStartConfig struct {
	Interval     string
	Limit        int
	RequestDelay time.Duration
}

// DefaultWarmStartConfig returns hourly candles, 200 per instrument.
func DefaultWarmStartConfig() WarmStartConfig {
	return WarmStartConfig{
		Interval:     "1h",
		Limit:        200,
		RequestDelay: 100 * time.Millisecond,
	}
}

// WarmStartService fetches historical klines so correlation output is
// available before the live buffer has filled.
type WarmStartService struct {
	config   WarmStartConfig
	client   KlineSource
	recovery *ErrorRecoveryManager
	logger   *logrus.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewWarmStartService creates a warm start service. recovery may be nil.
func NewWarmStartService(config WarmStartConfig, client KlineSource, recovery *ErrorRecoveryManager, logger *logrus.Logger) *WarmStartService {
	defaults := DefaultWarmStartConfig()
	if config.Interval == "" {
		config.Interval = defaults.Interval
	}
	if config.Limit <= 0 {
		config.Limit = defaults.Limit
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &WarmStartService{
		config:   config,
		client:   client,
		recovery: recovery,
		logger:   logger,
		sleep:    sleepContext,
	}
}

// FetchHistory downloads klines for every symbol, one request at a time with
// the configured delay between requests. Symbols that fail are logged and
// left out; only cancellation aborts the whole fetch.
func (w *WarmStartService) FetchHistory(ctx context.Context, symbols []string) (map[string][]models.Observation, error) {
	start := time.Now()
	history := make(map[string][]models.Observation, len(symbols))
	failed := 0

	for i, symbol := range symbols {
		if i > 0 && w.config.RequestDelay > 0 {
			if err := w.sleep(ctx, w.config.RequestDelay); err != nil {
				return history, err
			}
		}

		klines, err := w.fetch(ctx, symbol)
		if err != nil {
			if ctx.Err() != nil {
				return history, ctx.Err()
			}
			failed++
			w.logger.WithFields(logrus.Fields{
				"symbol": symbol,
				"class":  utils.Classify(err).String(),
			}).WithError(err).Warn("Failed to fetch historical klines")
			continue
		}

		obs := make([]models.Observation, 0, len(klines))
		for _, k := range klines {
			o := k.Observation(symbol)
			if o.Valid() {
				obs = append(obs, o)
			}
		}
		if len(obs) > 0 {
			history[symbol] = obs
		}
	}

	w.logger.WithFields(logrus.Fields{
		"requested": len(symbols),
		"fetched":   len(history),
		"failed":    failed,
		"duration":  time.Since(start),
	}).Info("Historical fetch completed")

	if len(history) == 0 && len(symbols) > 0 {
		return history, fmt.Errorf("no historical klines fetched for %d symbols: %w", len(symbols), utils.ErrInsufficientData)
	}
	return history, nil
}

func (w *WarmStartService) fetch(ctx context.Context, symbol string) ([]models.Kline, error) {
	var klines []models.Kline
	call := func(ctx context.Context) error {
		var err error
		klines, err = w.client.GetKlines(ctx, symbol, w.config.Interval, w.config.Limit)
		return err
	}
	if w.recovery == nil {
		return klines, call(ctx)
	}
	err := w.recovery.Execute(ctx, OpKlines, call)
	return klines, err
}

// Seed appends the fetched history to the live buffer and returns the number
// of observations added.
func Seed(buffer SeriesSeeder, history map[string][]models.Observation) int {
	added := 0
	for symbol, obs := range history {
		buffer.AppendBatch(symbol, obs)
		added += len(obs)
	}
	return added
}
