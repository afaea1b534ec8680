package models

import "time"

// PriceVolumeStats describes how an instrument's volume reacts to its price moves.
type PriceVolumeStats struct {
	Symbol                 string  `json:"symbol"`
	DataPoints             int     `json:"data_points"`
	PriceVolumeCorrelation float64 `json:"price_volume_correlation"`
	PriceUpMoves           int     `json:"price_up_moves"`
	PriceDownMoves         int     `json:"price_down_moves"`
	StableMoves            int     `json:"stable_moves"`
	VolumeUpOnPriceUp      float64 `json:"volume_up_on_price_up_pct"`
	VolumeUpOnPriceDown    float64 `json:"volume_up_on_price_down_pct"`
	AvgVolumeChange        float64 `json:"avg_volume_change"`
}

// SuddenMoveStats counts price moves beyond one threshold and the volume reaction.
type SuddenMoveStats struct {
	ThresholdPct      float64 `json:"threshold_pct"`
	UpMoves           int     `json:"up_moves"`
	DownMoves         int     `json:"down_moves"`
	VolumeUpOnUpPct   float64 `json:"volume_up_on_up_pct"`
	VolumeUpOnDownPct float64 `json:"volume_up_on_down_pct"`
	AvgVolumeSurge    float64 `json:"avg_volume_surge"`
}

// SuddenMoveReport groups sudden-move stats for one instrument.
type SuddenMoveReport struct {
	Symbol     string            `json:"symbol"`
	DataPoints int               `json:"data_points"`
	Thresholds []SuddenMoveStats `json:"thresholds"`
}

// PriceVolumeReport is the persisted result of one price/volume analysis.
type PriceVolumeReport struct {
	Timestamp   time.Time          `json:"timestamp"`
	Instruments []PriceVolumeStats `json:"instruments"`
	SuddenMoves []SuddenMoveReport `json:"sudden_moves"`
}
