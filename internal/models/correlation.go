package models

import (
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/mat"
)

// PairKeySeparator joins the two instruments of a canonical pair key.
const PairKeySeparator = "|"

// PairKey returns the canonical, order-independent key for two instruments.
func PairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + PairKeySeparator + b
}

// CorrelationPair represents the correlation between two instruments in canonical order.
type CorrelationPair struct {
	Coin1          string  `json:"coin1"`
	Coin2          string  `json:"coin2"`
	Correlation    float64 `json:"correlation"`
	AbsCorrelation float64 `json:"abs_correlation"`
}

// NewCorrelationPair builds a pair with Coin1 < Coin2.
func NewCorrelationPair(a, b string, correlation float64) CorrelationPair {
	if b < a {
		a, b = b, a
	}
	return CorrelationPair{
		Coin1:          a,
		Coin2:          b,
		Correlation:    correlation,
		AbsCorrelation: math.Abs(correlation),
	}
}

// Key returns the canonical pair key.
func (p CorrelationPair) Key() string {
	return PairKey(p.Coin1, p.Coin2)
}

// Other returns the counterpart of symbol in the pair.
func (p CorrelationPair) Other(symbol string) string {
	if p.Coin1 == symbol {
		return p.Coin2
	}
	return p.Coin1
}

// Snapshot maps canonical pair keys to the pair state known at one cycle.
type Snapshot map[string]CorrelationPair

// CorrelationMatrix is a symmetric instrument by instrument matrix of Pearson coefficients.
// Cells may hold NaN where the coefficient is undefined.
type CorrelationMatrix struct {
	Symbols []string
	index   map[string]int
	values  *mat.SymDense
}

// NewCorrelationMatrix wraps values for the given, already ordered, symbols.
func NewCorrelationMatrix(symbols []string, values *mat.SymDense) *CorrelationMatrix {
	index := make(map[string]int, len(symbols))
	for i, s := range symbols {
		index[s] = i
	}
	return &CorrelationMatrix{Symbols: symbols, index: index, values: values}
}

// Size returns the number of instruments in the matrix.
func (m *CorrelationMatrix) Size() int {
	if m == nil {
		return 0
	}
	return len(m.Symbols)
}

// At returns the coefficient at row i and column j.
func (m *CorrelationMatrix) At(i, j int) float64 {
	return m.values.At(i, j)
}

// Get returns the coefficient for two instruments and whether both are present.
func (m *CorrelationMatrix) Get(a, b string) (float64, bool) {
	if m == nil {
		return math.NaN(), false
	}
	i, ok := m.index[a]
	if !ok {
		return math.NaN(), false
	}
	j, ok := m.index[b]
	if !ok {
		return math.NaN(), false
	}
	return m.values.At(i, j), true
}

// Rows returns the matrix as a dense row-major slice copy.
func (m *CorrelationMatrix) Rows() [][]float64 {
	n := m.Size()
	rows := make([][]float64, n)
	for i := 0; i < n; i++ {
		rows[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			rows[i][j] = m.values.At(i, j)
		}
	}
	return rows
}

// InstrumentCorrelations lists the counterparts of one instrument.
type InstrumentCorrelations struct {
	Symbol string            `json:"symbol"`
	All    []CorrelationPair `json:"all_correlations"`
	High   []CorrelationPair `json:"high_correlations"`
	Top    []CorrelationPair `json:"top_correlations"`
}

// CorrelationResult is the output of one correlation computation.
type CorrelationResult struct {
	Timestamp        time.Time                         `json:"timestamp"`
	Matrix           *CorrelationMatrix                `json:"-"`
	HighCorrelations []CorrelationPair                 `json:"high_correlations"`
	ByInstrument     map[string]InstrumentCorrelations `json:"coin_correlations"`
	Excluded         []string                          `json:"excluded,omitempty"`
}

// SortPairsByAbs sorts pairs by absolute correlation, highest first, keeping ties in place.
func SortPairsByAbs(pairs []CorrelationPair) {
	sort.SliceStable(pairs, func(i, j int) bool {
		return pairs[i].AbsCorrelation > pairs[j].AbsCorrelation
	})
}

// CorrelationReport is the persisted snapshot consumed by the reporting surface.
type CorrelationReport struct {
	Timestamp        time.Time         `json:"timestamp"`
	HighCorrelations []CorrelationPair `json:"high_correlations"`
	TotalPairs       int               `json:"total_pairs"`
}

// NewCorrelationReport builds the persisted form of a result.
func NewCorrelationReport(result *CorrelationResult) CorrelationReport {
	high := result.HighCorrelations
	if high == nil {
		high = []CorrelationPair{}
	}
	return CorrelationReport{
		Timestamp:        result.Timestamp,
		HighCorrelations: high,
		TotalPairs:       len(high),
	}
}
