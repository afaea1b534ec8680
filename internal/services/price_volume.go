package services

import (
	"math"
	"sort"
	"time"

	"github.com/cinar/indicator/v2/helper"
	"github.com/cinar/indicator/v2/trend"
	"github.com/sirupsen/logrus"

	"github.com/irfndi/celebrum-correlation/internal/models"
)

// PriceVolumeConfig configures the price/volume analyzer.
type PriceVolumeConfig struct {
	MinDataPoints       int
	SuddenMinDataPoints int
	Thresholds          []float64
	ResampleInterval    time.Duration
	BaselinePeriod      int
}

// DefaultPriceVolumeConfig returns the analyzer defaults.
func DefaultPriceVolumeConfig() PriceVolumeConfig {
	return PriceVolumeConfig{
		MinDataPoints:       10,
		SuddenMinDataPoints: 20,
		Thresholds:          []float64{1, 2, 5, 10},
		ResampleInterval:    time.Minute,
		BaselinePeriod:      10,
	}
}

// PriceVolumeAnalyzer measures how volume reacts to price moves per instrument.
type PriceVolumeAnalyzer struct {
	config PriceVolumeConfig
	logger *logrus.Logger
}

// NewPriceVolumeAnalyzer creates an analyzer.
func NewPriceVolumeAnalyzer(config PriceVolumeConfig, logger *logrus.Logger) *PriceVolumeAnalyzer {
	defaults := DefaultPriceVolumeConfig()
	if config.MinDataPoints < 2 {
		config.MinDataPoints = defaults.MinDataPoints
	}
	if config.SuddenMinDataPoints < 2 {
		config.SuddenMinDataPoints = defaults.SuddenMinDataPoints
	}
	if len(config.Thresholds) == 0 {
		config.Thresholds = defaults.Thresholds
	}
	if config.BaselinePeriod <= 0 {
		config.BaselinePeriod = defaults.BaselinePeriod
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &PriceVolumeAnalyzer{config: config, logger: logger}
}

// moves holds aligned percent changes of price and volume.
type moves struct {
	price  []float64
	volume []float64
}

func computeMoves(obs []models.Observation) moves {
	var m moves
	for i := 1; i < len(obs); i++ {
		p := percentChange(obs[i-1].Price, obs[i].Price)
		v := percentChange(obs[i-1].Volume, obs[i].Volume)
		if math.IsNaN(p) || math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		m.price = append(m.price, p)
		m.volume = append(m.volume, v)
	}
	return m
}

// Analyze builds the price/volume report for every instrument with enough data.
func (a *PriceVolumeAnalyzer) Analyze(series map[string][]models.Observation, now time.Time) *models.PriceVolumeReport {
	symbols := make([]string, 0, len(series))
	for s := range series {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	report := &models.PriceVolumeReport{
		Timestamp:   now,
		Instruments: make([]models.PriceVolumeStats, 0),
		SuddenMoves: make([]models.SuddenMoveReport, 0),
	}
	for _, s := range symbols {
		obs := dedupeFirst(series[s])
		if stats, ok := a.instrumentStats(s, obs); ok {
			report.Instruments = append(report.Instruments, stats)
		}
		if sudden, ok := a.suddenMoves(s, resampleLast(obs, a.config.ResampleInterval)); ok {
			report.SuddenMoves = append(report.SuddenMoves, sudden)
		}
	}

	a.logger.WithFields(logrus.Fields{
		"instruments":  len(report.Instruments),
		"sudden_moves": len(report.SuddenMoves),
	}).Debug("Price/volume analysis complete")
	return report
}

func (a *PriceVolumeAnalyzer) instrumentStats(symbol string, obs []models.Observation) (models.PriceVolumeStats, bool) {
	if len(obs) < a.config.MinDataPoints {
		return models.PriceVolumeStats{}, false
	}
	m := computeMoves(obs)
	if len(m.price) < a.config.MinDataPoints {
		return models.PriceVolumeStats{}, false
	}
	r := Pearson(m.price, m.volume)
	if math.IsNaN(r) {
		return models.PriceVolumeStats{}, false
	}

	stats := models.PriceVolumeStats{
		Symbol:                 symbol,
		DataPoints:             len(m.price),
		PriceVolumeCorrelation: *round4(r),
		AvgVolumeChange:        *round4(mean(m.volume)),
	}
	var volUpOnUp, volUpOnDown int
	for i, p := range m.price {
		switch {
		case p > 0:
			stats.PriceUpMoves++
			if m.volume[i] > 0 {
				volUpOnUp++
			}
		case p < 0:
			stats.PriceDownMoves++
			if m.volume[i] > 0 {
				volUpOnDown++
			}
		default:
			stats.StableMoves++
		}
	}
	stats.VolumeUpOnPriceUp = share(volUpOnUp, stats.PriceUpMoves)
	stats.VolumeUpOnPriceDown = share(volUpOnDown, stats.PriceDownMoves)
	return stats, true
}

// suddenMoves counts moves beyond each threshold. AvgVolumeSurge is the mean
// volume change on those moves above its rolling SMA baseline.
func (a *PriceVolumeAnalyzer) suddenMoves(symbol string, obs []models.Observation) (models.SuddenMoveReport, bool) {
	m := computeMoves(obs)
	if len(m.price) < a.config.SuddenMinDataPoints {
		return models.SuddenMoveReport{}, false
	}
	baseline := VolumeBaseline(m.volume, a.config.BaselinePeriod)

	report := models.SuddenMoveReport{
		Symbol:     symbol,
		DataPoints: len(m.price),
		Thresholds: make([]models.SuddenMoveStats, 0, len(a.config.Thresholds)),
	}
	for _, threshold := range a.config.Thresholds {
		limit := math.Abs(threshold)
		st := models.SuddenMoveStats{ThresholdPct: threshold}
		var volUpOnUp, volUpOnDown int
		var surges []float64
		for i, p := range m.price {
			switch {
			case p >= limit:
				st.UpMoves++
				if m.volume[i] > 0 {
					volUpOnUp++
				}
			case p <= -limit:
				st.DownMoves++
				if m.volume[i] > 0 {
					volUpOnDown++
				}
			default:
				continue
			}
			if !math.IsNaN(baseline[i]) {
				surges = append(surges, m.volume[i]-baseline[i])
			}
		}
		st.VolumeUpOnUpPct = share(volUpOnUp, st.UpMoves)
		st.VolumeUpOnDownPct = share(volUpOnDown, st.DownMoves)
		if len(surges) > 0 {
			st.AvgVolumeSurge = *round4(mean(surges))
		}
		report.Thresholds = append(report.Thresholds, st)
	}
	return report, true
}

// VolumeBaseline returns the simple moving average of values aligned to the
// input; the first period-1 entries are NaN.
func VolumeBaseline(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	for i := range out {
		out[i] = math.NaN()
	}
	if period <= 0 || len(values) < period {
		return out
	}
	sma := trend.NewSmaWithPeriod[float64](period)
	result := helper.ChanToSlice(sma.Compute(helper.SliceToChan(values)))
	offset := len(values) - len(result)
	for i, v := range result {
		out[offset+i] = v
	}
	return out
}

// resampleLast keeps the last observation of each bucket and forward fills
// empty buckets, carrying both price and volume.
func resampleLast(obs []models.Observation, interval time.Duration) []models.Observation {
	if len(obs) == 0 || interval <= 0 {
		return obs
	}
	step := int64(interval)
	first := bucketOf(obs[0].Timestamp, interval)
	last := bucketOf(obs[len(obs)-1].Timestamp, interval)

	byBucket := make(map[int64]models.Observation, len(obs))
	for _, o := range obs {
		byBucket[bucketOf(o.Timestamp, interval)] = o
	}

	out := make([]models.Observation, 0, (last-first)/step+1)
	var prev models.Observation
	for k := first; k <= last; k += step {
		o, ok := byBucket[k]
		if !ok {
			o = prev
		}
		o.Timestamp = time.Unix(0, k).UTC()
		out = append(out, o)
		prev = o
	}
	return out
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func share(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return *round4(float64(part) / float64(total) * 100)
}
