package models

import (
	"sort"
	"time"
)

// ChangeType classifies how a pair's correlation moved between two cycles.
type ChangeType string

const (
	ChangeNewHigh   ChangeType = "NEW_HIGH_CORRELATION"
	ChangeLostHigh  ChangeType = "LOST_HIGH_CORRELATION"
	ChangeHighToLow ChangeType = "HIGH_TO_LOW"
	ChangeLowToHigh ChangeType = "LOW_TO_HIGH"
	ChangeIncreased ChangeType = "INCREASED"
	ChangeDecreased ChangeType = "DECREASED"
	ChangeChanged   ChangeType = "CHANGED"
)

// ChangeRecord is one entry of the correlation change history.
// Nil values mean the pair had no state on that side of the transition.
type ChangeRecord struct {
	Timestamp              time.Time  `json:"timestamp" db:"timestamp"`
	Coin1                  string     `json:"coin1" db:"coin1"`
	Coin2                  string     `json:"coin2" db:"coin2"`
	PreviousCorrelation    *float64   `json:"previous_correlation" db:"previous_correlation"`
	PreviousAbsCorrelation *float64   `json:"previous_abs_correlation" db:"previous_abs_correlation"`
	CurrentCorrelation     *float64   `json:"current_correlation" db:"current_correlation"`
	CurrentAbsCorrelation  *float64   `json:"current_abs_correlation" db:"current_abs_correlation"`
	ChangeAmount           *float64   `json:"change_amount" db:"change_amount"`
	AbsChangeAmount        *float64   `json:"abs_change_amount" db:"abs_change_amount"`
	ChangeType             ChangeType `json:"change_type" db:"change_type"`
	Status                 string     `json:"status" db:"status"`
}

// Key returns the canonical pair key of the record.
func (r ChangeRecord) Key() string {
	return PairKey(r.Coin1, r.Coin2)
}

// ChangeHistory is the persisted tracker state.
type ChangeHistory struct {
	ChangesHistory   []ChangeRecord `json:"changes_history"`
	LastCorrelations Snapshot       `json:"last_correlations"`
}

// NewestFirst returns a copy of records ordered newest first, truncated to
// limit when limit > 0. Records sharing a timestamp keep their order.
func NewestFirst(records []ChangeRecord, limit int) []ChangeRecord {
	out := append([]ChangeRecord(nil), records...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
