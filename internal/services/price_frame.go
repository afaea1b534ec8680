package services

import (
	"math"
	"sort"
	"time"

	"github.com/irfndi/celebrum-correlation/internal/models"
)

// priceFrame is a column-major table of values aligned on a shared time index.
// Missing cells hold NaN.
type priceFrame struct {
	index   []int64
	symbols []string
	columns [][]float64
}

func (f *priceFrame) rows() int {
	return len(f.index)
}

// dedupeFirst sorts observations by timestamp and keeps the first arrival for
// each duplicated timestamp.
func dedupeFirst(obs []models.Observation) []models.Observation {
	out := make([]models.Observation, 0, len(obs))
	seen := make(map[int64]struct{}, len(obs))
	for _, o := range obs {
		key := o.Timestamp.UnixNano()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, o)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// bucketOf floors ts to a multiple of interval since the epoch.
func bucketOf(ts time.Time, interval time.Duration) int64 {
	n := ts.UnixNano()
	step := int64(interval)
	b := n - n%step
	if n < 0 && n%step != 0 {
		b -= step
	}
	return b
}

// alignSeries builds the wide price table.
//
// With interval == 0 the row index is the union of all observation timestamps.
// With interval > 0 the row index is the contiguous bucket grid between the
// first and last bucket and each cell takes the last price inside its bucket.
// Gaps are then forward filled and leading gaps take the instrument's first
// raw price, which yields the same table as filling the raw union first and
// resampling afterwards.
func alignSeries(series map[string][]models.Observation, symbols []string, interval time.Duration) *priceFrame {
	keyOf := func(ts time.Time) int64 { return ts.UnixNano() }
	if interval > 0 {
		keyOf = func(ts time.Time) int64 { return bucketOf(ts, interval) }
	}

	cells := make([]map[int64]float64, len(symbols))
	first := make([]float64, len(symbols))
	keys := make(map[int64]struct{})
	for c, s := range symbols {
		cells[c] = make(map[int64]float64, len(series[s]))
		first[c] = math.NaN()
		var firstAt time.Time
		for _, o := range series[s] {
			if math.IsNaN(first[c]) || o.Timestamp.Before(firstAt) {
				first[c], firstAt = o.Price, o.Timestamp
			}
			k := keyOf(o.Timestamp)
			// Observations are time ordered, so later writes keep the bucket's last value.
			cells[c][k] = o.Price
			keys[k] = struct{}{}
		}
	}

	var index []int64
	if interval > 0 && len(keys) > 0 {
		lo, hi := int64(math.MaxInt64), int64(math.MinInt64)
		for k := range keys {
			if k < lo {
				lo = k
			}
			if k > hi {
				hi = k
			}
		}
		step := int64(interval)
		index = make([]int64, 0, (hi-lo)/step+1)
		for k := lo; k <= hi; k += step {
			index = append(index, k)
		}
	} else {
		index = make([]int64, 0, len(keys))
		for k := range keys {
			index = append(index, k)
		}
		sort.Slice(index, func(i, j int) bool { return index[i] < index[j] })
	}

	frame := &priceFrame{
		index:   index,
		symbols: symbols,
		columns: make([][]float64, len(symbols)),
	}
	for c := range symbols {
		col := make([]float64, len(index))
		for r, k := range index {
			if v, ok := cells[c][k]; ok {
				col[r] = v
			} else {
				col[r] = math.NaN()
			}
		}
		fillForwardBackward(col, first[c])
		frame.columns[c] = col
	}
	frame.dropEmptyRows()
	return frame
}

// fillForwardBackward carries the last value over gaps and fills the leading
// gap with lead.
func fillForwardBackward(col []float64, lead float64) {
	last := lead
	seen := false
	for i, v := range col {
		switch {
		case !math.IsNaN(v):
			last, seen = v, true
		case seen:
			col[i] = last
		default:
			col[i] = lead
		}
	}
}

// dropEmptyRows removes rows where every column is NaN.
func (f *priceFrame) dropEmptyRows() {
	keep := make([]int, 0, len(f.index))
	for r := range f.index {
		for c := range f.columns {
			if !math.IsNaN(f.columns[c][r]) {
				keep = append(keep, r)
				break
			}
		}
	}
	if len(keep) == len(f.index) {
		return
	}
	index := make([]int64, len(keep))
	for i, r := range keep {
		index[i] = f.index[r]
	}
	for c, col := range f.columns {
		kept := make([]float64, len(keep))
		for i, r := range keep {
			kept[i] = col[r]
		}
		f.columns[c] = kept
	}
	f.index = index
}

// percentReturns converts prices to percent changes between consecutive rows
// and drops the leading row.
func (f *priceFrame) percentReturns() *priceFrame {
	if f.rows() < 2 {
		return &priceFrame{symbols: f.symbols, columns: make([][]float64, len(f.symbols))}
	}
	out := &priceFrame{
		index:   append([]int64(nil), f.index[1:]...),
		symbols: f.symbols,
		columns: make([][]float64, len(f.columns)),
	}
	for c, col := range f.columns {
		ret := make([]float64, len(col)-1)
		for i := 1; i < len(col); i++ {
			ret[i-1] = percentChange(col[i-1], col[i])
		}
		out.columns[c] = ret
	}
	return out
}

func percentChange(prev, cur float64) float64 {
	if math.IsNaN(prev) || math.IsNaN(cur) || prev == 0 {
		return math.NaN()
	}
	return (cur - prev) / prev * 100
}

func validCount(col []float64) int {
	n := 0
	for _, v := range col {
		if !math.IsNaN(v) {
			n++
		}
	}
	return n
}

// Resample re-indexes one instrument's observations onto a fixed grid, taking
// the last price in each bucket and forward filling empty buckets.
func Resample(obs []models.Observation, interval time.Duration) []models.Observation {
	if len(obs) == 0 || interval <= 0 {
		return obs
	}
	obs = dedupeFirst(obs)
	symbol := obs[0].Symbol
	frame := alignSeries(map[string][]models.Observation{symbol: obs}, []string{symbol}, interval)

	out := make([]models.Observation, 0, frame.rows())
	for r, k := range frame.index {
		out = append(out, models.Observation{
			Symbol:    symbol,
			Timestamp: time.Unix(0, k).UTC(),
			Price:     frame.columns[0][r],
		})
	}
	return out
}
