package api

import (
	"context"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/irfndi/celebrum-correlation/internal/api/handlers"
	"github.com/irfndi/celebrum-correlation/internal/models"
	"github.com/irfndi/celebrum-correlation/internal/series"
	"github.com/irfndi/celebrum-correlation/internal/storage"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRouter(t *testing.T) (*gin.Engine, *storage.FileStore) {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	store, err := storage.NewFileStore(t.TempDir(), logger)
	require.NoError(t, err)

	router := NewRouter(Dependencies{
		ServiceName: "correlation-test",
		Reader:      handlers.ReaderChain{store},
		Health:      map[string]handlers.HealthChecker{"redis": nil},
		Buffer:      series.NewBuffer(),
		Logger:      logger,
	})
	return router, store
}

func get(router http.Handler, target string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
	return w
}

func TestRoutes_BeforeFirstCycle(t *testing.T) {
	router, _ := newTestRouter(t)

	assert.Equal(t, http.StatusOK, get(router, "/health").Code)
	assert.Equal(t, http.StatusNotFound, get(router, "/api/v1/correlations").Code)
	assert.Equal(t, http.StatusNotFound, get(router, "/api/v1/correlations/BTCUSDT").Code)

	w := get(router, "/api/v1/changes")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":0`)

	assert.Equal(t, http.StatusOK, get(router, "/api/v1/ingest/stats").Code)
}

func TestRoutes_ServePersistedOutput(t *testing.T) {
	router, store := newTestRouter(t)
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	pair := models.NewCorrelationPair("AUSDT", "BUSDT", 0.91)
	values := mat.NewSymDense(2, []float64{1, 0.91, 0.91, 1})
	result := &models.CorrelationResult{
		Timestamp:        now,
		Matrix:           models.NewCorrelationMatrix([]string{"AUSDT", "BUSDT"}, values),
		HighCorrelations: []models.CorrelationPair{pair},
		ByInstrument: map[string]models.InstrumentCorrelations{
			"AUSDT": {Symbol: "AUSDT", All: []models.CorrelationPair{pair}, High: []models.CorrelationPair{pair}, Top: []models.CorrelationPair{pair}},
		},
	}
	cur := 0.91
	state := models.ChangeHistory{
		ChangesHistory: []models.ChangeRecord{{
			Timestamp: now, Coin1: "AUSDT", Coin2: "BUSDT",
			CurrentCorrelation: &cur, CurrentAbsCorrelation: &cur,
			ChangeType: models.ChangeNewHigh, Status: "New high correlation",
		}},
		LastCorrelations: models.Snapshot{pair.Key(): pair},
	}
	require.NoError(t, store.Persist(context.Background(), &models.AnalysisOutput{
		Prefix: models.PrefixRealtime, Timestamp: now, Result: result, State: &state,
	}))

	w := get(router, "/api/v1/correlations")
	require.Equal(t, http.StatusOK, w.Code)
	var report models.CorrelationReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Equal(t, 1, report.TotalPairs)
	assert.False(t, math.IsNaN(report.HighCorrelations[0].Correlation))

	w = get(router, "/api/v1/correlations/ausdt")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"BUSDT"`)

	w = get(router, "/api/v1/changes?limit=10")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"NEW_HIGH_CORRELATION"`)
	assert.Contains(t, w.Body.String(), `"count":1`)
}
