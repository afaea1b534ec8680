package storage

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/sirupsen/logrus"

	"github.com/irfndi/celebrum-correlation/internal/models"
	"github.com/irfndi/celebrum-correlation/internal/utils"
)

// File names of the persisted artifacts.
const (
	correlationsSuffix     = "_correlations.json"
	matrixSuffix           = "_correlation_matrix.csv"
	coinCorrelationsSuffix = "_coin_correlations.json"
	ChangeHistoryFile      = "correlation_changes_history.json"
	PriceVolumeFile        = "price_volume_analysis.json"
	SuddenMovesFile        = "sudden_price_volume_analysis.json"
)

// FileStore persists analysis artifacts as JSON and CSV files in one directory.
// Every file is written to a temporary sibling and renamed into place so
// readers never observe a partial write.
type FileStore struct {
	dir    string
	logger *logrus.Logger
	mu     sync.Mutex
}

// NewFileStore creates the output directory if needed.
func NewFileStore(dir string, logger *logrus.Logger) (*FileStore, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory %s: %v: %w", dir, err, utils.ErrFatal)
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &FileStore{dir: dir, logger: logger}, nil
}

// Dir returns the output directory.
func (s *FileStore) Dir() string {
	return s.dir
}

// Name identifies the sink in logs.
func (s *FileStore) Name() string {
	return "file"
}

// Persist writes every artifact present in out.
func (s *FileStore) Persist(ctx context.Context, out *models.AnalysisOutput) error {
	if out.Result != nil {
		if err := s.SaveCorrelations(out.Prefix, out.Result); err != nil {
			return err
		}
	}
	if out.State != nil {
		if err := s.SaveChangeHistory(*out.State); err != nil {
			return err
		}
	}
	if out.PriceVolume != nil {
		if err := s.SavePriceVolume(out.PriceVolume); err != nil {
			return err
		}
	}
	return nil
}

// SaveCorrelations writes the snapshot, the matrix and the per-instrument breakdown.
func (s *FileStore) SaveCorrelations(prefix string, result *models.CorrelationResult) error {
	if prefix == "" {
		prefix = models.PrefixRealtime
	}
	if err := s.writeJSON(prefix+correlationsSuffix, models.NewCorrelationReport(result)); err != nil {
		return err
	}
	if err := s.writeMatrix(prefix+matrixSuffix, result.Matrix); err != nil {
		return err
	}
	if err := s.writeJSON(prefix+coinCorrelationsSuffix, result.ByInstrument); err != nil {
		return err
	}

	s.logger.WithFields(logrus.Fields{
		"prefix":     prefix,
		"high_pairs": len(result.HighCorrelations),
		"matrix":     result.Matrix.Size(),
	}).Debug("Saved correlation artifacts")
	return nil
}

// SaveChangeHistory writes the tracker state.
func (s *FileStore) SaveChangeHistory(state models.ChangeHistory) error {
	if state.ChangesHistory == nil {
		state.ChangesHistory = []models.ChangeRecord{}
	}
	if state.LastCorrelations == nil {
		state.LastCorrelations = models.Snapshot{}
	}
	return s.writeJSON(ChangeHistoryFile, state)
}

// LoadChangeHistory reads the tracker state. A missing file yields an empty state.
func (s *FileStore) LoadChangeHistory() (models.ChangeHistory, error) {
	var state models.ChangeHistory
	err := s.readJSON(ChangeHistoryFile, &state)
	if errors.Is(err, utils.ErrNotFound) {
		return models.ChangeHistory{LastCorrelations: models.Snapshot{}}, nil
	}
	if err != nil {
		return models.ChangeHistory{}, err
	}
	if state.LastCorrelations == nil {
		state.LastCorrelations = models.Snapshot{}
	}
	return state, nil
}

// SavePriceVolume writes the price/volume and sudden move reports.
func (s *FileStore) SavePriceVolume(report *models.PriceVolumeReport) error {
	if err := s.writeJSON(PriceVolumeFile, struct {
		Timestamp   time.Time                 `json:"timestamp"`
		Instruments []models.PriceVolumeStats `json:"instruments"`
	}{report.Timestamp, report.Instruments}); err != nil {
		return err
	}
	return s.writeJSON(SuddenMovesFile, struct {
		Timestamp   time.Time                 `json:"timestamp"`
		SuddenMoves []models.SuddenMoveReport `json:"sudden_moves"`
	}{report.Timestamp, report.SuddenMoves})
}

// LatestReport reads the realtime snapshot.
func (s *FileStore) LatestReport(ctx context.Context) (*models.CorrelationReport, error) {
	var report models.CorrelationReport
	if err := s.readJSON(models.PrefixRealtime+correlationsSuffix, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// InstrumentCorrelations reads one instrument's breakdown from the realtime artifacts.
func (s *FileStore) InstrumentCorrelations(ctx context.Context, symbol string) (*models.InstrumentCorrelations, error) {
	var all map[string]models.InstrumentCorrelations
	if err := s.readJSON(models.PrefixRealtime+coinCorrelationsSuffix, &all); err != nil {
		return nil, err
	}
	ic, ok := all[symbol]
	if !ok {
		return nil, fmt.Errorf("instrument %s: %w", symbol, utils.ErrNotFound)
	}
	return &ic, nil
}

// RecentChanges reads the persisted history, newest first.
func (s *FileStore) RecentChanges(ctx context.Context, limit int) ([]models.ChangeRecord, error) {
	state, err := s.LoadChangeHistory()
	if err != nil {
		return nil, err
	}
	return models.NewestFirst(state.ChangesHistory, limit), nil
}

// ReadMatrix parses a persisted matrix CSV back into symbols and rows.
// Empty cells are NaN.
func (s *FileStore) ReadMatrix(prefix string) ([]string, [][]float64, error) {
	f, err := os.Open(filepath.Join(s.dir, prefix+matrixSuffix))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil, fmt.Errorf("%s matrix: %w", prefix, utils.ErrNotFound)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open matrix: %v: %w", err, utils.ErrPersistence)
	}
	defer func() { _ = f.Close() }()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse matrix: %v: %w", err, utils.ErrMalformedInput)
	}
	if len(records) == 0 {
		return []string{}, [][]float64{}, nil
	}
	symbols := records[0][1:]
	rows := make([][]float64, 0, len(records)-1)
	for _, rec := range records[1:] {
		row := make([]float64, len(rec)-1)
		for i, cell := range rec[1:] {
			if cell == "" {
				row[i] = math.NaN()
				continue
			}
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return nil, nil, fmt.Errorf("matrix cell %q: %v: %w", cell, err, utils.ErrMalformedInput)
			}
			row[i] = v
		}
		rows = append(rows, row)
	}
	return symbols, rows, nil
}

func (s *FileStore) writeMatrix(name string, m *models.CorrelationMatrix) error {
	if m == nil {
		m = models.NewCorrelationMatrix([]string{}, nil)
	}
	return s.writeAtomic(name, func(f *os.File) error {
		w := csv.NewWriter(f)
		header := append([]string{""}, m.Symbols...)
		if err := w.Write(header); err != nil {
			return err
		}
		for i, row := range m.Rows() {
			rec := make([]string, 0, len(row)+1)
			rec = append(rec, m.Symbols[i])
			for _, v := range row {
				if math.IsNaN(v) {
					rec = append(rec, "")
					continue
				}
				rec = append(rec, strconv.FormatFloat(v, 'f', -1, 64))
			}
			if err := w.Write(rec); err != nil {
				return err
			}
		}
		w.Flush()
		return w.Error()
	})
}

func (s *FileStore) writeJSON(name string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %v: %w", name, err, utils.ErrPersistence)
	}
	return s.writeAtomic(name, func(f *os.File) error {
		_, err := f.Write(data)
		return err
	})
}

func (s *FileStore) writeAtomic(name string, write func(*os.File) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(s.dir, "."+name+".*")
	if err != nil {
		return fmt.Errorf("failed to create %s: %v: %w", name, err, utils.ErrPersistence)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := write(tmp); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write %s: %v: %w", name, err, utils.ErrPersistence)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %v: %w", name, err, utils.ErrPersistence)
	}
	if err := os.Rename(tmpName, filepath.Join(s.dir, name)); err != nil {
		return fmt.Errorf("failed to rename %s: %v: %w", name, err, utils.ErrPersistence)
	}
	return nil
}

func (s *FileStore) readJSON(name string, v interface{}) error {
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%s: %w", name, utils.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %v: %w", name, err, utils.ErrPersistence)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode %s: %v: %w", name, err, utils.ErrMalformedInput)
	}
	return nil
}
