package services

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/irfndi/celebrum-correlation/internal/models"
	"github.com/irfndi/celebrum-correlation/internal/utils"
)

// CorrelationEngineConfig holds the statistical thresholds of one engine.
type CorrelationEngineConfig struct {
	MinDataPoints        int
	CorrelationThreshold float64
	ResampleInterval     time.Duration
	TopN                 int
}

// DefaultCorrelationEngineConfig returns the realtime defaults.
func DefaultCorrelationEngineConfig() CorrelationEngineConfig {
	return CorrelationEngineConfig{
		MinDataPoints:        50,
		CorrelationThreshold: 0.7,
		ResampleInterval:     time.Minute,
		TopN:                 10,
	}
}

// CorrelationEngine turns observation snapshots into a Pearson correlation
// matrix over percent returns and ranks the strongly correlated pairs.
type CorrelationEngine struct {
	config CorrelationEngineConfig
	logger *logrus.Logger
}

// NewCorrelationEngine creates an engine.
func NewCorrelationEngine(config CorrelationEngineConfig, logger *logrus.Logger) *CorrelationEngine {
	if config.MinDataPoints < 2 {
		config.MinDataPoints = 2
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &CorrelationEngine{config: config, logger: logger}
}

// Config returns the engine thresholds.
func (e *CorrelationEngine) Config() CorrelationEngineConfig {
	return e.config
}

// Compute runs one correlation pass. Fewer than two qualifying instruments is
// reported as ErrInsufficientData, a skip rather than a failure.
func (e *CorrelationEngine) Compute(series map[string][]models.Observation, now time.Time) (*models.CorrelationResult, error) {
	symbols := make([]string, 0, len(series))
	for s := range series {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	prepared := make(map[string][]models.Observation, len(series))
	candidates := make([]string, 0, len(symbols))
	var excluded []string
	for _, s := range symbols {
		obs := dedupeFirst(series[s])
		if len(obs) < 2 {
			excluded = append(excluded, s)
			continue
		}
		prepared[s] = obs
		candidates = append(candidates, s)
	}

	if len(candidates) < 2 {
		return nil, fmt.Errorf("%d instruments with at least two observations: %w", len(candidates), utils.ErrInsufficientData)
	}

	prices := alignSeries(prepared, candidates, e.config.ResampleInterval)
	returns := prices.percentReturns()

	kept := make([]int, 0, len(candidates))
	for c, col := range returns.columns {
		if validCount(col) >= e.config.MinDataPoints {
			kept = append(kept, c)
		} else {
			excluded = append(excluded, returns.symbols[c])
		}
	}
	sort.Strings(excluded)

	if len(kept) < 2 {
		return nil, fmt.Errorf("%d instruments with at least %d returns: %w", len(kept), e.config.MinDataPoints, utils.ErrInsufficientData)
	}

	included := make([]string, len(kept))
	columns := make([][]float64, len(kept))
	for i, c := range kept {
		included[i] = returns.symbols[c]
		columns[i] = returns.columns[c]
	}

	matrix := correlationMatrix(included, columns)
	high := HighCorrelations(matrix, e.config.CorrelationThreshold)

	e.logger.WithFields(logrus.Fields{
		"instruments": len(included),
		"excluded":    len(excluded),
		"rows":        returns.rows(),
		"high_pairs":  len(high),
	}).Debug("Correlation pass complete")

	return &models.CorrelationResult{
		Timestamp:        now,
		Matrix:           matrix,
		HighCorrelations: high,
		ByInstrument:     InstrumentBreakdown(matrix, e.config.CorrelationThreshold, e.config.TopN),
		Excluded:         excluded,
	}, nil
}

// correlationMatrix computes Pearson coefficients over pairwise complete rows.
// The diagonal is 1.0; undefined coefficients stay NaN.
func correlationMatrix(symbols []string, columns [][]float64) *models.CorrelationMatrix {
	n := len(symbols)
	values := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		values.SetSym(i, i, 1.0)
		for j := i + 1; j < n; j++ {
			values.SetSym(i, j, Pearson(columns[i], columns[j]))
		}
	}
	return models.NewCorrelationMatrix(symbols, values)
}

// Pearson returns the product-moment correlation of x and y over the rows
// where both are present, clamped to [-1, 1]. It is NaN with fewer than two
// complete rows or when either side has zero variance.
func Pearson(x, y []float64) float64 {
	n := len(x)
	if len(y) < n {
		n = len(y)
	}
	xs := make([]float64, 0, n)
	ys := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		if math.IsNaN(x[i]) || math.IsNaN(y[i]) {
			continue
		}
		xs = append(xs, x[i])
		ys = append(ys, y[i])
	}
	if len(xs) < 2 {
		return math.NaN()
	}
	if stat.Variance(xs, nil) == 0 || stat.Variance(ys, nil) == 0 {
		return math.NaN()
	}
	r := stat.Correlation(xs, ys, nil)
	switch {
	case math.IsNaN(r):
		return r
	case r > 1:
		return 1
	case r < -1:
		return -1
	}
	return r
}

// HighCorrelations enumerates the upper triangle and keeps pairs with
// |r| >= threshold, strongest first. Ties keep matrix order.
func HighCorrelations(m *models.CorrelationMatrix, threshold float64) []models.CorrelationPair {
	pairs := make([]models.CorrelationPair, 0)
	n := m.Size()
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			r := m.At(i, j)
			if math.IsNaN(r) || math.Abs(r) < threshold {
				continue
			}
			pairs = append(pairs, models.NewCorrelationPair(m.Symbols[i], m.Symbols[j], r))
		}
	}
	models.SortPairsByAbs(pairs)
	return pairs
}

// InstrumentBreakdown lists, for each instrument, every defined counterpart,
// the ones above threshold and the topN strongest.
func InstrumentBreakdown(m *models.CorrelationMatrix, threshold float64, topN int) map[string]models.InstrumentCorrelations {
	out := make(map[string]models.InstrumentCorrelations, m.Size())
	for i, symbol := range m.Symbols {
		all := make([]models.CorrelationPair, 0, m.Size()-1)
		for j, other := range m.Symbols {
			if i == j {
				continue
			}
			r := m.At(i, j)
			if math.IsNaN(r) {
				continue
			}
			all = append(all, models.NewCorrelationPair(symbol, other, r))
		}
		models.SortPairsByAbs(all)

		high := make([]models.CorrelationPair, 0)
		for _, p := range all {
			if p.AbsCorrelation >= threshold {
				high = append(high, p)
			}
		}
		top := all
		if topN > 0 && len(top) > topN {
			top = top[:topN]
		}
		out[symbol] = models.InstrumentCorrelations{
			Symbol: symbol,
			All:    all,
			High:   high,
			Top:    append([]models.CorrelationPair(nil), top...),
		}
	}
	return out
}
