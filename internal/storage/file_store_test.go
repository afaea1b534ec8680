package storage

import (
	"context"
	"io"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/irfndi/celebrum-correlation/internal/models"
	"github.com/irfndi/celebrum-correlation/internal/utils"
)

var testNow = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	store, err := NewFileStore(t.TempDir(), logger)
	require.NoError(t, err)
	return store
}

func sampleResult() *models.CorrelationResult {
	symbols := []string{"AUSDT", "BUSDT", "CUSDT"}
	values := mat.NewSymDense(3, []float64{
		1, 0.9, math.NaN(),
		0.9, 1, -0.2,
		math.NaN(), -0.2, 1,
	})
	pair := models.NewCorrelationPair("AUSDT", "BUSDT", 0.9)
	return &models.CorrelationResult{
		Timestamp:        testNow,
		Matrix:           models.NewCorrelationMatrix(symbols, values),
		HighCorrelations: []models.CorrelationPair{pair},
		ByInstrument: map[string]models.InstrumentCorrelations{
			"AUSDT": {Symbol: "AUSDT", All: []models.CorrelationPair{pair}, High: []models.CorrelationPair{pair}, Top: []models.CorrelationPair{pair}},
		},
	}
}

func TestFileStore_CorrelationArtifacts(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.SaveCorrelations(models.PrefixRealtime, sampleResult()))

	for _, name := range []string{"realtime_correlations.json", "realtime_correlation_matrix.csv", "realtime_coin_correlations.json"} {
		_, err := os.Stat(filepath.Join(store.Dir(), name))
		assert.NoError(t, err, name)
	}

	report, err := store.LatestReport(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.TotalPairs)
	assert.True(t, testNow.Equal(report.Timestamp))
	assert.Equal(t, "AUSDT", report.HighCorrelations[0].Coin1)
	assert.Equal(t, 0.9, report.HighCorrelations[0].AbsCorrelation)

	ic, err := store.InstrumentCorrelations(context.Background(), "AUSDT")
	require.NoError(t, err)
	assert.Len(t, ic.Top, 1)

	_, err = store.InstrumentCorrelations(context.Background(), "ZZZ")
	assert.ErrorIs(t, err, utils.ErrNotFound)
}

func TestFileStore_MatrixCSVRoundTrip(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.SaveCorrelations("historical", sampleResult()))

	symbols, rows, err := store.ReadMatrix("historical")
	require.NoError(t, err)
	assert.Equal(t, []string{"AUSDT", "BUSDT", "CUSDT"}, symbols)
	require.Len(t, rows, 3)
	assert.Equal(t, 1.0, rows[0][0])
	assert.Equal(t, 0.9, rows[1][0])
	assert.Equal(t, -0.2, rows[2][1])
	assert.True(t, math.IsNaN(rows[0][2]))

	raw, err := os.ReadFile(filepath.Join(store.Dir(), "historical_correlation_matrix.csv"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), ",AUSDT,BUSDT,CUSDT\n")
	assert.Contains(t, string(raw), "AUSDT,1,0.9,\n")

	_, _, err = store.ReadMatrix("missing")
	assert.ErrorIs(t, err, utils.ErrNotFound)
}

func TestFileStore_ChangeHistoryRoundTrip(t *testing.T) {
	store := newTestStore(t)

	empty, err := store.LoadChangeHistory()
	require.NoError(t, err)
	assert.Empty(t, empty.ChangesHistory)
	assert.NotNil(t, empty.LastCorrelations)

	cur := 0.85
	older := models.ChangeRecord{Timestamp: testNow, Coin1: "A", Coin2: "B", CurrentCorrelation: &cur, ChangeType: models.ChangeNewHigh, Status: "New high correlation"}
	newer := older
	newer.Timestamp = testNow.Add(time.Minute)
	newer.Coin2 = "C"
	state := models.ChangeHistory{
		ChangesHistory:   []models.ChangeRecord{older, newer},
		LastCorrelations: models.Snapshot{"A|B": models.NewCorrelationPair("A", "B", 0.85)},
	}
	require.NoError(t, store.SaveChangeHistory(state))

	loaded, err := store.LoadChangeHistory()
	require.NoError(t, err)
	require.Len(t, loaded.ChangesHistory, 2)
	assert.Nil(t, loaded.ChangesHistory[0].PreviousCorrelation)
	assert.Equal(t, 0.85, *loaded.ChangesHistory[0].CurrentCorrelation)
	assert.Equal(t, state.LastCorrelations, loaded.LastCorrelations)

	recent, err := store.RecentChanges(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "C", recent[0].Coin2)
}

func TestFileStore_PersistWritesEverything(t *testing.T) {
	store := newTestStore(t)
	out := &models.AnalysisOutput{
		Prefix:    models.PrefixRealtime,
		Timestamp: testNow,
		Result:    sampleResult(),
		State:     &models.ChangeHistory{},
		PriceVolume: &models.PriceVolumeReport{
			Timestamp:   testNow,
			Instruments: []models.PriceVolumeStats{{Symbol: "AUSDT", DataPoints: 12}},
			SuddenMoves: []models.SuddenMoveReport{},
		},
	}
	require.NoError(t, store.Persist(context.Background(), out))

	for _, name := range []string{ChangeHistoryFile, PriceVolumeFile, SuddenMovesFile, "realtime_correlations.json"} {
		_, err := os.Stat(filepath.Join(store.Dir(), name))
		assert.NoError(t, err, name)
	}

	entries, err := os.ReadDir(store.Dir())
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotEqual(t, '.', rune(e.Name()[0]), "temporary file left behind: %s", e.Name())
	}
}

func TestFileStore_CorruptFileIsMalformed(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, os.WriteFile(filepath.Join(store.Dir(), ChangeHistoryFile), []byte("{not json"), 0o644))

	_, err := store.LoadChangeHistory()
	assert.ErrorIs(t, err, utils.ErrMalformedInput)

	_, err = store.LatestReport(context.Background())
	assert.ErrorIs(t, err, utils.ErrNotFound)
}
