// Package ingest keeps observations flowing from the exchange into the series buffer.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/irfndi/celebrum-correlation/internal/models"
)

// ErrAlreadyRunning is returned by Start on a running ingestor.
var ErrAlreadyRunning = errors.New("ingestor already running")

// Sink receives parsed observations.
type Sink interface {
	Append(symbol string, obs models.Observation)
}

// WorkerState is the lifecycle state of one chunk worker.
type WorkerState int32

const (
	StateDisconnected WorkerState = iota
	StateConnecting
	StateStreaming
	StateReconnectWait
	StateStopped
)

func (s WorkerState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateReconnectWait:
		return "reconnect_wait"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// StreamConfig holds the stream ingestion settings.
type StreamConfig struct {
	BaseURL        string
	ChunkSize      int
	ReconnectDelay time.Duration
	PingPeriod     time.Duration
	Combined       bool
	StreamSuffix   string
	StopTimeout    time.Duration
}

// DefaultStreamConfig returns the exchange defaults.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		BaseURL:        "wss://stream.binance.com:9443",
		ChunkSize:      200,
		ReconnectDelay: 5 * time.Second,
		PingPeriod:     15 * time.Second,
		Combined:       true,
		StreamSuffix:   "ticker",
		StopTimeout:    5 * time.Second,
	}
}

// Stats holds ingestion counters.
type Stats struct {
	Workers         int   `json:"workers"`
	OpenConnections int64 `json:"open_connections"`
	Messages        int64 `json:"messages"`
	Accepted        int64 `json:"accepted"`
	Rejected        int64 `json:"rejected"`
	Reconnects      int64 `json:"reconnects"`
	DialFailures    int64 `json:"dial_failures"`
}

type counters struct {
	open         atomic.Int64
	messages     atomic.Int64
	accepted     atomic.Int64
	rejected     atomic.Int64
	reconnects   atomic.Int64
	dialFailures atomic.Int64
}

// StreamIngestor runs one worker per chunk of symbols. Each worker reconnects
// after a fixed delay for as long as the ingestor is running.
type StreamIngestor struct {
	cfg    StreamConfig
	dialer Dialer
	sink   Sink
	logger *logrus.Logger

	running atomic.Bool
	wg      sync.WaitGroup

	mu      sync.Mutex
	cancel  context.CancelFunc
	workers []*worker

	stats counters

	// OnStateChange, when set before Start, observes every worker transition.
	OnStateChange func(worker int, state WorkerState)
}

// NewStreamIngestor creates an ingestor writing into sink.
func NewStreamIngestor(cfg StreamConfig, dialer Dialer, sink Sink, logger *logrus.Logger) *StreamIngestor {
	defaults := DefaultStreamConfig()
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = defaults.ChunkSize
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = defaults.ReconnectDelay
	}
	if cfg.StreamSuffix == "" {
		cfg.StreamSuffix = defaults.StreamSuffix
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = defaults.StopTimeout
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaults.BaseURL
	}
	if dialer == nil {
		dialer = NewWebsocketDialer()
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &StreamIngestor{cfg: cfg, dialer: dialer, sink: sink, logger: logger}
}

// Start partitions symbols into chunks and launches one worker per chunk.
func (s *StreamIngestor) Start(ctx context.Context, symbols []string) error {
	if len(symbols) == 0 {
		return fmt.Errorf("no symbols to subscribe")
	}
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	// Held until every worker is launched so a concurrent Stop sees the
	// cancel func and the full worker set.
	s.mu.Lock()
	defer s.mu.Unlock()

	kind := FrameBare
	if s.cfg.Combined {
		kind = FrameEnvelope
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	chunks := Chunk(symbols, s.cfg.ChunkSize)
	workers := make([]*worker, 0, len(chunks))
	for i, chunk := range chunks {
		decoder, err := NewDecoder(kind)
		if err != nil {
			cancel()
			s.running.Store(false)
			return err
		}
		workers = append(workers, &worker{
			id:      i,
			symbols: chunk,
			url:     StreamURL(s.cfg.BaseURL, chunk, s.cfg.StreamSuffix, s.cfg.Combined),
			decoder: decoder,
			owner:   s,
			logger: s.logger.WithFields(logrus.Fields{
				"component": "stream_ingestor",
				"worker":    i,
				"symbols":   len(chunk),
			}),
		})
	}

	s.workers = workers

	s.logger.WithFields(logrus.Fields{
		"symbols":    len(symbols),
		"chunk_size": s.cfg.ChunkSize,
		"workers":    len(workers),
		"frame_kind": kind.String(),
	}).Info("Starting stream ingestor")

	for _, w := range workers {
		s.wg.Add(1)
		go func(w *worker) {
			defer s.wg.Done()
			w.run(ctx)
		}(w)
	}
	return nil
}

// Stop flips the running flag, closes every open connection and waits a
// bounded time for workers to exit.
func (s *StreamIngestor) Stop() error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	s.logger.Info("Stopping stream ingestor")

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	for _, w := range s.workers {
		w.closeConn()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Stream ingestor stopped")
		return nil
	case <-time.After(s.cfg.StopTimeout):
		s.logger.Warn("Timeout waiting for stream workers to exit")
		return fmt.Errorf("stream workers did not exit within %s", s.cfg.StopTimeout)
	}
}

// IsRunning reports whether the ingestor is running.
func (s *StreamIngestor) IsRunning() bool {
	return s.running.Load()
}

// ChunkSizes returns the number of symbols handled by each worker.
func (s *StreamIngestor) ChunkSizes() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	sizes := make([]int, len(s.workers))
	for i, w := range s.workers {
		sizes[i] = len(w.symbols)
	}
	return sizes
}

// WorkerStates returns the current state of each worker.
func (s *StreamIngestor) WorkerStates() []WorkerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	states := make([]WorkerState, len(s.workers))
	for i, w := range s.workers {
		states[i] = WorkerState(w.state.Load())
	}
	return states
}

// Stats returns a snapshot of the ingestion counters.
func (s *StreamIngestor) Stats() Stats {
	s.mu.Lock()
	workers := len(s.workers)
	s.mu.Unlock()
	return Stats{
		Workers:         workers,
		OpenConnections: s.stats.open.Load(),
		Messages:        s.stats.messages.Load(),
		Accepted:        s.stats.accepted.Load(),
		Rejected:        s.stats.rejected.Load(),
		Reconnects:      s.stats.reconnects.Load(),
		DialFailures:    s.stats.dialFailures.Load(),
	}
}

type worker struct {
	id      int
	symbols []string
	url     string
	decoder Decoder
	owner   *StreamIngestor
	logger  *logrus.Entry

	state atomic.Int32

	connMu sync.Mutex
	conn   Conn
}

func (w *worker) setState(state WorkerState) {
	w.state.Store(int32(state))
	if hook := w.owner.OnStateChange; hook != nil {
		hook(w.id, state)
	}
}

func (w *worker) setConn(conn Conn) {
	w.connMu.Lock()
	w.conn = conn
	w.connMu.Unlock()
}

// closeConn closes the current connection, unblocking a pending read.
func (w *worker) closeConn() {
	w.connMu.Lock()
	conn := w.conn
	w.conn = nil
	w.connMu.Unlock()
	if conn != nil {
		if err := conn.Close(); err != nil {
			w.logger.WithError(err).Debug("Error closing feed connection")
		}
		w.owner.stats.open.Add(-1)
	}
}

func (w *worker) run(ctx context.Context) {
	defer w.setState(StateStopped)

	for w.owner.running.Load() && ctx.Err() == nil {
		w.setState(StateConnecting)
		conn, err := w.owner.dialer.Dial(ctx, w.url)
		if err != nil {
			w.owner.stats.dialFailures.Add(1)
			w.logger.WithError(err).Warn("Feed connection failed")
		} else {
			w.setConn(conn)
			w.owner.stats.open.Add(1)
			// Stop may have run between Dial and setConn.
			if !w.owner.running.Load() {
				w.closeConn()
				return
			}
			w.setState(StateStreaming)
			w.logger.Info("Feed connection established")

			err = w.stream(ctx, conn)
			w.closeConn()
			if w.owner.running.Load() {
				w.logger.WithError(err).Warn("Feed connection closed")
			}
		}

		if !w.owner.running.Load() {
			return
		}

		w.setState(StateReconnectWait)
		w.owner.stats.reconnects.Add(1)
		timer := time.NewTimer(w.owner.cfg.ReconnectDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// stream reads frames until the connection fails. Malformed frames are skipped.
func (w *worker) stream(ctx context.Context, conn Conn) error {
	pingCtx, stopPing := context.WithCancel(ctx)
	defer stopPing()
	if period := w.owner.cfg.PingPeriod; period > 0 {
		go w.pingLoop(pingCtx, conn, period)
	}

	for {
		data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		w.owner.stats.messages.Add(1)

		obs, err := w.decoder.Decode(data, time.Now())
		if err != nil {
			w.owner.stats.rejected.Add(1)
			w.logger.WithError(err).Debug("Skipping feed message")
			continue
		}
		w.owner.sink.Append(obs.Symbol, obs)
		w.owner.stats.accepted.Add(1)
	}
}

func (w *worker) pingLoop(ctx context.Context, conn Conn, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.Ping(); err != nil {
				w.logger.WithError(err).Debug("Ping failed")
			}
		}
	}
}
