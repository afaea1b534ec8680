// Package series holds the rolling per-instrument observation store shared by
// the ingestion workers (writers) and the analysis cycle (reader).
package series

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/irfndi/celebrum-correlation/internal/models"
)

// Buffer stores recent observations per instrument.
//
// The symbol map is guarded by an RWMutex that is only write-locked when a new
// instrument appears. Each instrument series has its own mutex, so appends to
// different instruments never contend on the same lock.
type Buffer struct {
	mu     sync.RWMutex
	series map[string]*timeSeries
	now    func() time.Time

	appended atomic.Int64
	trimmed  atomic.Int64
}

type timeSeries struct {
	mu   sync.Mutex
	data []models.Observation
}

// Stats is a point-in-time view of the buffer counters.
type Stats struct {
	Instruments  int   `json:"instruments"`
	Observations int   `json:"observations"`
	Appended     int64 `json:"appended"`
	Trimmed      int64 `json:"trimmed"`
}

// NewBuffer creates an empty buffer.
func NewBuffer() *Buffer {
	return &Buffer{
		series: make(map[string]*timeSeries),
		now:    time.Now,
	}
}

// WithClock overrides the time source used by Trim.
func (b *Buffer) WithClock(now func() time.Time) *Buffer {
	b.now = now
	return b
}

func (b *Buffer) get(symbol string) *timeSeries {
	b.mu.RLock()
	ts, ok := b.series[symbol]
	b.mu.RUnlock()
	if ok {
		return ts
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if ts, ok = b.series[symbol]; !ok {
		ts = &timeSeries{data: make([]models.Observation, 0, 64)}
		b.series[symbol] = ts
	}
	return ts
}

// Append adds an observation to the end of the instrument's series.
func (b *Buffer) Append(symbol string, obs models.Observation) {
	if obs.Symbol == "" {
		obs.Symbol = symbol
	}
	ts := b.get(symbol)
	ts.mu.Lock()
	ts.data = append(ts.data, obs)
	ts.mu.Unlock()
	b.appended.Add(1)
}

// AppendBatch appends observations for one instrument under a single lock.
func (b *Buffer) AppendBatch(symbol string, obs []models.Observation) {
	if len(obs) == 0 {
		return
	}
	ts := b.get(symbol)
	ts.mu.Lock()
	ts.data = append(ts.data, obs...)
	ts.mu.Unlock()
	b.appended.Add(int64(len(obs)))
}

// Snapshot returns a copy of the instrument's series in arrival order.
func (b *Buffer) Snapshot(symbol string) []models.Observation {
	b.mu.RLock()
	ts, ok := b.series[symbol]
	b.mu.RUnlock()
	if !ok {
		return nil
	}

	ts.mu.Lock()
	defer ts.mu.Unlock()
	out := make([]models.Observation, len(ts.data))
	copy(out, ts.data)
	return out
}

// SnapshotAll copies every non-empty series. Each series is copied under its
// own lock, so the result is consistent per instrument but not across them.
func (b *Buffer) SnapshotAll() map[string][]models.Observation {
	symbols := b.Symbols()
	out := make(map[string][]models.Observation, len(symbols))
	for _, s := range symbols {
		if data := b.Snapshot(s); len(data) > 0 {
			out[s] = data
		}
	}
	return out
}

// Symbols returns the known instruments in sorted order.
func (b *Buffer) Symbols() []string {
	b.mu.RLock()
	symbols := make([]string, 0, len(b.series))
	for s := range b.series {
		symbols = append(symbols, s)
	}
	b.mu.RUnlock()
	sort.Strings(symbols)
	return symbols
}

// Len returns the number of observations held for symbol.
func (b *Buffer) Len(symbol string) int {
	b.mu.RLock()
	ts, ok := b.series[symbol]
	b.mu.RUnlock()
	if !ok {
		return 0
	}
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return len(ts.data)
}

// Trim drops observations older than now minus window and returns how many were removed.
func (b *Buffer) Trim(window time.Duration) int {
	if window <= 0 {
		return 0
	}
	cutoff := b.now().Add(-window)

	b.mu.RLock()
	all := make([]*timeSeries, 0, len(b.series))
	for _, ts := range b.series {
		all = append(all, ts)
	}
	b.mu.RUnlock()

	removed := 0
	for _, ts := range all {
		ts.mu.Lock()
		// Series are in arrival order, so the first point inside the window marks the cut.
		idx := sort.Search(len(ts.data), func(i int) bool {
			return !ts.data[i].Timestamp.Before(cutoff)
		})
		if idx > 0 {
			kept := make([]models.Observation, len(ts.data)-idx, cap(ts.data))
			copy(kept, ts.data[idx:])
			ts.data = kept
			removed += idx
		}
		ts.mu.Unlock()
	}

	b.trimmed.Add(int64(removed))
	return removed
}

// Clear resets every series.
func (b *Buffer) Clear() {
	b.mu.Lock()
	b.series = make(map[string]*timeSeries)
	b.mu.Unlock()
}

// Stats returns buffer counters.
func (b *Buffer) Stats() Stats {
	symbols := b.Symbols()
	total := 0
	for _, s := range symbols {
		total += b.Len(s)
	}
	return Stats{
		Instruments:  len(symbols),
		Observations: total,
		Appended:     b.appended.Load(),
		Trimmed:      b.trimmed.Load(),
	}
}
