package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/irfndi/celebrum-correlation/internal/utils"
)

// SymbolLister lists the tradable instruments quoted in one asset.
type SymbolLister interface {
	GetTradingSymbols(ctx context.Context, quoteAsset string, limit int) ([]string, error)
}

// SymbolCache memoizes discovered instruments.
type SymbolCache interface {
	GetOrFetch(ctx context.Context, quoteAsset string, fetch func(context.Context) ([]string, error)) ([]string, error)
}

// InstrumentDiscovery resolves the instrument universe, preferring an
// explicit list over the exchange listing.
type InstrumentDiscovery struct {
	client   SymbolLister
	cache    SymbolCache
	recovery *ErrorRecoveryManager
	logger   *logrus.Logger
	upper    cases.Caser
}

// NewInstrumentDiscovery creates a discovery service. cache and recovery may be nil.
func NewInstrumentDiscovery(client SymbolLister, cache SymbolCache, recovery *ErrorRecoveryManager, logger *logrus.Logger) *InstrumentDiscovery {
	if logger == nil {
		logger = logrus.New()
	}
	return &InstrumentDiscovery{
		client:   client,
		cache:    cache,
		recovery: recovery,
		logger:   logger,
		upper:    cases.Upper(language.Und),
	}
}

// Resolve returns configured when non-empty, normalized and deduplicated.
// Otherwise it lists up to limit instruments quoted in quoteAsset.
func (d *InstrumentDiscovery) Resolve(ctx context.Context, configured []string, quoteAsset string, limit int) ([]string, error) {
	if len(configured) > 0 {
		return d.normalize(configured, limit), nil
	}
	if d.client == nil {
		return nil, fmt.Errorf("no instruments configured and no exchange client: %w", utils.ErrFatal)
	}

	fetch := func(ctx context.Context) ([]string, error) {
		var symbols []string
		call := func(ctx context.Context) error {
			var err error
			symbols, err = d.client.GetTradingSymbols(ctx, quoteAsset, limit)
			return err
		}
		if d.recovery == nil {
			return symbols, call(ctx)
		}
		return symbols, d.recovery.Execute(ctx, OpExchangeInfo, call)
	}

	var (
		symbols []string
		err     error
	)
	if d.cache != nil {
		symbols, err = d.cache.GetOrFetch(ctx, quoteAsset, fetch)
	} else {
		symbols, err = fetch(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to discover %s instruments: %w", quoteAsset, err)
	}

	symbols = d.normalize(symbols, limit)
	d.logger.WithFields(logrus.Fields{
		"quote_asset": quoteAsset,
		"instruments": len(symbols),
	}).Info("Discovered instruments")
	return symbols, nil
}

func (d *InstrumentDiscovery) normalize(symbols []string, limit int) []string {
	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = d.upper.String(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}
