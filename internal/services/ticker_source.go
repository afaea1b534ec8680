package services

import (
	"context"

	"github.com/irfndi/celebrum-correlation/pkg/binance"
)

// TickerFetcher returns the 24h ticker table.
type TickerFetcher interface {
	GetTickers24h(ctx context.Context) ([]binance.Ticker24h, error)
}

// RecoveringTickerSource runs ticker requests through the tickers circuit
// breaker and retry policy. The REST poller reads through it.
type RecoveringTickerSource struct {
	client   TickerFetcher
	recovery *ErrorRecoveryManager
}

func NewRecoveringTickerSource(client TickerFetcher, recovery *ErrorRecoveryManager) *RecoveringTickerSource {
	return &RecoveringTickerSource{client: client, recovery: recovery}
}

func (s *RecoveringTickerSource) GetTickers24h(ctx context.Context) ([]binance.Ticker24h, error) {
	if s.recovery == nil {
		return s.client.GetTickers24h(ctx)
	}
	var tickers []binance.Ticker24h
	err := s.recovery.Execute(ctx, OpTickers, func(ctx context.Context) error {
		var err error
		tickers, err = s.client.GetTickers24h(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return tickers, nil
}
