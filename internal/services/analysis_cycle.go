package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/irfndi/celebrum-correlation/internal/models"
	"github.com/irfndi/celebrum-correlation/internal/utils"
)

const tracerName = "github.com/irfndi/celebrum-correlation/internal/services"

// ErrCycleRunning is returned by Start on a running cycle.
var ErrCycleRunning = errors.New("analysis cycle already running")

// Sink persists the output of one analysis cycle.
type Sink interface {
	Name() string
	Persist(ctx context.Context, out *models.AnalysisOutput) error
}

// SeriesSource is the part of the series buffer the cycle reads.
type SeriesSource interface {
	Trim(window time.Duration) int
	SnapshotAll() map[string][]models.Observation
	Clear()
}

// AnalysisCycleConfig controls the analysis loop.
type AnalysisCycleConfig struct {
	Interval        time.Duration
	RetentionWindow time.Duration
	ClearAfterCycle bool
	PriceVolume     bool
}

// CycleStats holds the loop counters.
type CycleStats struct {
	Cycles          int64     `json:"cycles"`
	Skipped         int64     `json:"skipped"`
	PersistFailures int64     `json:"persist_failures"`
	LastCycleID     string    `json:"last_cycle_id,omitempty"`
	LastCycleAt     time.Time `json:"last_cycle_at,omitempty"`
}

// AnalysisCycle runs trim, snapshot, correlation, change detection,
// persistence and notification on a fixed interval.
type AnalysisCycle struct {
	config   AnalysisCycleConfig
	buffer   SeriesSource
	engine   *CorrelationEngine
	tracker  *ChangeTracker
	analyzer *PriceVolumeAnalyzer
	sinks    []Sink
	notifier Notifier
	monitor  *ResourceMonitor
	timeouts *TimeoutManager
	logger   *logrus.Logger
	tracer   trace.Tracer
	now      func() time.Time

	// serializes cycles so tracker state has a single writer
	runMu sync.Mutex

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	cycles          atomic.Int64
	skipped         atomic.Int64
	persistFailures atomic.Int64
	lastMu          sync.RWMutex
	lastCycleID     string
	lastCycleAt     time.Time
}

// NewAnalysisCycle wires the analysis pipeline. The analyzer, notifier and
// monitor are optional.
func NewAnalysisCycle(
	config AnalysisCycleConfig,
	buffer SeriesSource,
	engine *CorrelationEngine,
	tracker *ChangeTracker,
	sinks []Sink,
	logger *logrus.Logger,
) *AnalysisCycle {
	if config.Interval <= 0 {
		config.Interval = 5 * time.Minute
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &AnalysisCycle{
		config:  config,
		buffer:  buffer,
		engine:  engine,
		tracker: tracker,
		sinks:   sinks,
		logger:  logger,
		tracer:  otel.Tracer(tracerName),
		now:     time.Now,
	}
}

// WithPriceVolume enables the price/volume report on every cycle.
func (c *AnalysisCycle) WithPriceVolume(analyzer *PriceVolumeAnalyzer) *AnalysisCycle {
	c.analyzer = analyzer
	return c
}

// WithNotifier sends detected changes after persistence.
func (c *AnalysisCycle) WithNotifier(notifier Notifier) *AnalysisCycle {
	c.notifier = notifier
	return c
}

// WithResourceMonitor records host usage after every cycle.
func (c *AnalysisCycle) WithResourceMonitor(monitor *ResourceMonitor) *AnalysisCycle {
	c.monitor = monitor
	return c
}

// WithTimeouts bounds every sink write by the sink's deadline.
func (c *AnalysisCycle) WithTimeouts(timeouts *TimeoutManager) *AnalysisCycle {
	c.timeouts = timeouts
	return c
}

// Start runs the loop until Stop or ctx is cancelled. The first cycle runs
// after one full interval so the buffer has time to fill.
func (c *AnalysisCycle) Start(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return ErrCycleRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.logger.WithFields(logrus.Fields{
		"interval": c.config.Interval,
		"sinks":    len(c.sinks),
	}).Info("Starting analysis cycle")

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.config.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !c.running.Load() {
					return
				}
				c.runLogged(ctx)
			}
		}
	}()
	return nil
}

// Stop ends the loop and waits for an in-flight cycle to finish.
func (c *AnalysisCycle) Stop() {
	if !c.running.CompareAndSwap(true, false) {
		return
	}
	c.cancel()
	c.wg.Wait()
	c.logger.Info("Analysis cycle stopped")
}

// IsRunning reports whether the loop is active.
func (c *AnalysisCycle) IsRunning() bool {
	return c.running.Load()
}

func (c *AnalysisCycle) runLogged(ctx context.Context) {
	if _, err := c.RunOnce(ctx); err != nil {
		entry := c.logger.WithError(err)
		if utils.IsSkip(err) {
			entry.Info("Analysis cycle skipped")
		} else {
			entry.Error("Analysis cycle failed")
		}
	}
}

// RunOnce executes a single cycle. ErrInsufficientData means nothing was
// computed and the tracker was left untouched.
func (c *AnalysisCycle) RunOnce(ctx context.Context) (*models.AnalysisOutput, error) {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	started := c.now()
	cycleID := uuid.NewString()
	ctx, span := c.tracer.Start(ctx, "analysis.cycle", trace.WithAttributes(
		attribute.String("cycle.id", cycleID),
	))
	defer span.End()

	if c.config.RetentionWindow > 0 {
		if dropped := c.buffer.Trim(c.config.RetentionWindow); dropped > 0 {
			c.logger.WithField("dropped", dropped).Debug("Trimmed series buffer")
		}
	}

	series := c.buffer.SnapshotAll()
	observations := 0
	for _, obs := range series {
		observations += len(obs)
	}
	span.SetAttributes(
		attribute.Int("cycle.instruments", len(series)),
		attribute.Int("cycle.observations", observations),
	)

	result, err := c.engine.Compute(series, started)
	if err != nil {
		if utils.IsSkip(err) {
			c.skipped.Add(1)
			span.SetAttributes(attribute.Bool("cycle.skipped", true))
		} else {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return nil, fmt.Errorf("cycle %s: %w", cycleID, err)
	}

	changes := c.tracker.Detect(result.HighCorrelations, started)
	state := c.tracker.State()

	out := &models.AnalysisOutput{
		CycleID:   cycleID,
		Prefix:    models.PrefixRealtime,
		Timestamp: started,
		Result:    result,
		Changes:   changes,
		State:     &state,
	}
	if c.config.PriceVolume && c.analyzer != nil {
		out.PriceVolume = c.analyzer.Analyze(series, started)
	}

	persisted := c.persist(ctx, out)

	if c.notifier != nil && len(changes) > 0 {
		if err := c.notifier.NotifyChanges(ctx, changes); err != nil {
			c.logger.WithError(err).Warn("Failed to send change notification")
		}
	}

	if c.config.ClearAfterCycle {
		c.buffer.Clear()
	}

	took := c.now().Sub(started)
	c.cycles.Add(1)
	c.lastMu.Lock()
	c.lastCycleID = cycleID
	c.lastCycleAt = started
	c.lastMu.Unlock()

	span.SetAttributes(
		attribute.Int("cycle.high_pairs", len(result.HighCorrelations)),
		attribute.Int("cycle.changes", len(changes)),
	)

	fields := logrus.Fields{
		"cycle_id":    cycleID,
		"instruments": result.Matrix.Size(),
		"excluded":    len(result.Excluded),
		"high_pairs":  len(result.HighCorrelations),
		"changes":     len(changes),
		"persisted":   persisted,
		"duration":    took,
	}
	if c.monitor != nil {
		snap := c.monitor.Record(ctx, len(series), observations, took)
		fields["cpu_usage"] = snap.CPUUsage
		fields["heap_alloc_mb"] = snap.HeapAllocMB
	}
	c.logger.WithFields(fields).Info("Analysis cycle complete")

	return out, nil
}

// RunHistorical computes a one-off correlation pass over series and persists
// it with the historical prefix. Tracker state is not touched.
func (c *AnalysisCycle) RunHistorical(ctx context.Context, series map[string][]models.Observation) (*models.AnalysisOutput, error) {
	ctx, span := c.tracer.Start(ctx, "analysis.historical")
	defer span.End()

	now := c.now()
	result, err := c.engine.Compute(series, now)
	if err != nil {
		return nil, fmt.Errorf("historical analysis: %w", err)
	}

	out := &models.AnalysisOutput{
		CycleID:   uuid.NewString(),
		Prefix:    models.PrefixHistorical,
		Timestamp: now,
		Result:    result,
	}
	c.persist(ctx, out)
	return out, nil
}

// persist hands out to every sink and reports success per sink. A failing
// sink is logged and never stops the others.
func (c *AnalysisCycle) persist(ctx context.Context, out *models.AnalysisOutput) map[string]bool {
	results := make(map[string]bool, len(c.sinks))
	for _, sink := range c.sinks {
		var err error
		if c.timeouts != nil {
			err = c.timeouts.ExecuteWithTimeout(ctx, sink.Name(), out.CycleID, func(ctx context.Context) error {
				return sink.Persist(ctx, out)
			})
		} else {
			err = sink.Persist(ctx, out)
		}
		results[sink.Name()] = err == nil
		if err != nil {
			c.persistFailures.Add(1)
			c.logger.WithFields(logrus.Fields{
				"sink":     sink.Name(),
				"cycle_id": out.CycleID,
				"class":    utils.Classify(err).String(),
			}).WithError(err).Error("Failed to persist analysis output")
		}
	}
	return results
}

// Stats returns the loop counters.
func (c *AnalysisCycle) Stats() CycleStats {
	c.lastMu.RLock()
	defer c.lastMu.RUnlock()
	return CycleStats{
		Cycles:          c.cycles.Load(),
		Skipped:         c.skipped.Load(),
		PersistFailures: c.persistFailures.Load(),
		LastCycleID:     c.lastCycleID,
		LastCycleAt:     c.lastCycleAt,
	}
}
