package models

import "time"

// Output prefixes for persisted correlation artifacts.
const (
	PrefixRealtime   = "realtime"
	PrefixHistorical = "historical"
)

// AnalysisOutput is everything one analysis cycle hands to the persistence sinks.
type AnalysisOutput struct {
	CycleID     string
	Prefix      string
	Timestamp   time.Time
	Result      *CorrelationResult
	Changes     []ChangeRecord
	State       *ChangeHistory
	PriceVolume *PriceVolumeReport
}

// Report returns the persisted snapshot view of the result.
func (o *AnalysisOutput) Report() CorrelationReport {
	if o.Result == nil {
		return CorrelationReport{Timestamp: o.Timestamp, HighCorrelations: []CorrelationPair{}}
	}
	return NewCorrelationReport(o.Result)
}
