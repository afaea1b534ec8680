package services

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/irfndi/celebrum-correlation/internal/models"
)

// ChangeTrackerConfig holds the change significance thresholds.
type ChangeTrackerConfig struct {
	ThresholdChange float64
	MinCorrelation  float64
	MaxHistory      int
}

// DefaultChangeTrackerConfig returns the tracker defaults.
func DefaultChangeTrackerConfig() ChangeTrackerConfig {
	return ChangeTrackerConfig{
		ThresholdChange: 0.1,
		MinCorrelation:  0.7,
		MaxHistory:      1000,
	}
}

// ChangeTracker diffs each high-correlation snapshot against the previous one.
// It is owned by the analysis goroutine and is not safe for concurrent use.
type ChangeTracker struct {
	config   ChangeTrackerConfig
	previous models.Snapshot
	history  []models.ChangeRecord
	logger   *logrus.Logger
}

// NewChangeTracker creates a tracker with an empty baseline.
func NewChangeTracker(config ChangeTrackerConfig, logger *logrus.Logger) *ChangeTracker {
	if config.MaxHistory <= 0 {
		config.MaxHistory = DefaultChangeTrackerConfig().MaxHistory
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &ChangeTracker{
		config:   config,
		previous: models.Snapshot{},
		logger:   logger,
	}
}

// Classify labels the move from prevAbs to curAbs. It is only meaningful once
// the change has been judged significant.
func Classify(prevAbs, curAbs, minCorrelation float64) models.ChangeType {
	prevHigh := prevAbs >= minCorrelation
	curHigh := curAbs >= minCorrelation
	switch {
	case prevHigh && !curHigh:
		return models.ChangeHighToLow
	case !prevHigh && curHigh:
		return models.ChangeLowToHigh
	case prevHigh && curHigh && curAbs < prevAbs:
		return models.ChangeDecreased
	case prevHigh && curHigh:
		return models.ChangeIncreased
	default:
		return models.ChangeChanged
	}
}

// StatusText returns the human readable status of a change, embedding the
// absolute strengths for moves between two observed values.
func StatusText(t models.ChangeType, prevAbs, curAbs float64) string {
	switch t {
	case models.ChangeNewHigh:
		return "New high correlation"
	case models.ChangeLostHigh:
		return "High correlation lost"
	case models.ChangeHighToLow:
		return fmt.Sprintf("HIGH (%.3f) → LOW (%.3f)", prevAbs, curAbs)
	case models.ChangeLowToHigh:
		return fmt.Sprintf("LOW (%.3f) → HIGH (%.3f)", prevAbs, curAbs)
	case models.ChangeIncreased:
		return fmt.Sprintf("INCREASED (%.3f → %.3f)", prevAbs, curAbs)
	case models.ChangeDecreased:
		return fmt.Sprintf("DECREASED (%.3f → %.3f)", prevAbs, curAbs)
	default:
		return fmt.Sprintf("CHANGED (%.3f → %.3f)", prevAbs, curAbs)
	}
}

// Detect compares current against the retained baseline, appends the emitted
// records to the capped history and replaces the baseline.
func (t *ChangeTracker) Detect(current []models.CorrelationPair, now time.Time) []models.ChangeRecord {
	currentDict := make(models.Snapshot, len(current))
	for _, p := range current {
		if p.AbsCorrelation >= t.config.MinCorrelation {
			currentDict[p.Key()] = p
		}
	}

	changes := make([]models.ChangeRecord, 0)

	for _, key := range sortedKeys(currentDict) {
		cur := currentDict[key]
		prev, ok := t.previous[key]
		if !ok {
			changes = append(changes, t.record(now, nil, &cur, models.ChangeNewHigh))
			continue
		}
		absChange := math.Abs(cur.AbsCorrelation - prev.AbsCorrelation)
		if absChange >= t.config.ThresholdChange {
			kind := Classify(prev.AbsCorrelation, cur.AbsCorrelation, t.config.MinCorrelation)
			changes = append(changes, t.record(now, &prev, &cur, kind))
		}
	}

	for _, key := range sortedKeys(t.previous) {
		prev := t.previous[key]
		if _, ok := currentDict[key]; ok {
			continue
		}
		if prev.AbsCorrelation >= t.config.MinCorrelation {
			changes = append(changes, t.record(now, &prev, nil, models.ChangeLostHigh))
		}
	}

	t.history = append(t.history, changes...)
	if over := len(t.history) - t.config.MaxHistory; over > 0 {
		t.history = append([]models.ChangeRecord(nil), t.history[over:]...)
	}
	t.previous = currentDict

	if len(changes) > 0 {
		t.logger.WithFields(logrus.Fields{
			"changes": len(changes),
			"tracked": len(currentDict),
			"history": len(t.history),
		}).Info("Correlation changes detected")
	}
	return changes
}

func (t *ChangeTracker) record(now time.Time, prev, cur *models.CorrelationPair, kind models.ChangeType) models.ChangeRecord {
	var prevAbs, curAbs float64
	if prev != nil {
		prevAbs = prev.AbsCorrelation
	}
	if cur != nil {
		curAbs = cur.AbsCorrelation
	}
	r := models.ChangeRecord{
		Timestamp:  now,
		ChangeType: kind,
		Status:     StatusText(kind, prevAbs, curAbs),
	}
	switch {
	case cur != nil:
		r.Coin1, r.Coin2 = cur.Coin1, cur.Coin2
	case prev != nil:
		r.Coin1, r.Coin2 = prev.Coin1, prev.Coin2
	}
	if prev != nil {
		r.PreviousCorrelation = round4(prev.Correlation)
		r.PreviousAbsCorrelation = round4(prev.AbsCorrelation)
	}
	if cur != nil {
		r.CurrentCorrelation = round4(cur.Correlation)
		r.CurrentAbsCorrelation = round4(cur.AbsCorrelation)
	}
	switch {
	case prev != nil && cur != nil:
		r.ChangeAmount = round4(cur.Correlation - prev.Correlation)
		r.AbsChangeAmount = round4(math.Abs(cur.AbsCorrelation - prev.AbsCorrelation))
	case prev != nil:
		// A lost pair moved by its whole previous strength.
		r.AbsChangeAmount = round4(prev.AbsCorrelation)
	}
	return r
}

// round4 rounds to four decimals half away from zero.
func round4(v float64) *float64 {
	r := decimal.NewFromFloat(v).Round(4).InexactFloat64()
	return &r
}

func sortedKeys(s models.Snapshot) []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// History returns a copy of the change history, oldest first.
func (t *ChangeTracker) History() []models.ChangeRecord {
	return append([]models.ChangeRecord(nil), t.history...)
}

// RecentChanges returns up to limit records, newest first.
func (t *ChangeTracker) RecentChanges(limit int) []models.ChangeRecord {
	return models.NewestFirst(t.history, limit)
}

// Previous returns a copy of the retained baseline.
func (t *ChangeTracker) Previous() models.Snapshot {
	out := make(models.Snapshot, len(t.previous))
	for k, v := range t.previous {
		out[k] = v
	}
	return out
}

// State returns the persistable tracker state.
func (t *ChangeTracker) State() models.ChangeHistory {
	return models.ChangeHistory{
		ChangesHistory:   t.History(),
		LastCorrelations: t.Previous(),
	}
}

// Restore loads a previously persisted state, applying the history cap.
func (t *ChangeTracker) Restore(state models.ChangeHistory) {
	history := state.ChangesHistory
	if over := len(history) - t.config.MaxHistory; over > 0 {
		history = history[over:]
	}
	t.history = append([]models.ChangeRecord(nil), history...)
	t.previous = make(models.Snapshot, len(state.LastCorrelations))
	for _, v := range state.LastCorrelations {
		t.previous[models.PairKey(v.Coin1, v.Coin2)] = v
	}
}
