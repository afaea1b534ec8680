package binance

import (
	"context"

	"github.com/irfndi/celebrum-correlation/internal/models"
)

// MarketDataClient defines the REST operations used by the pipeline
type MarketDataClient interface {
	Ping(ctx context.Context) error
	GetTradingSymbols(ctx context.Context, quoteAsset string, limit int) ([]string, error)
	GetKlines(ctx context.Context, symbol, interval string, limit int) ([]models.Kline, error)
	GetTickers24h(ctx context.Context) ([]Ticker24h, error)
	Close() error
}

// Ensure our implementation satisfies the interface
var _ MarketDataClient = (*Client)(nil)
