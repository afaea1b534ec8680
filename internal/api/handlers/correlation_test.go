package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/irfndi/celebrum-correlation/internal/models"
	"github.com/irfndi/celebrum-correlation/internal/utils"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type MockCorrelationReader struct {
	mock.Mock
}

func (m *MockCorrelationReader) LatestReport(ctx context.Context) (*models.CorrelationReport, error) {
	args := m.Called(ctx)
	report, _ := args.Get(0).(*models.CorrelationReport)
	return report, args.Error(1)
}

func (m *MockCorrelationReader) InstrumentCorrelations(ctx context.Context, symbol string) (*models.InstrumentCorrelations, error) {
	args := m.Called(ctx, symbol)
	ic, _ := args.Get(0).(*models.InstrumentCorrelations)
	return ic, args.Error(1)
}

func (m *MockCorrelationReader) RecentChanges(ctx context.Context, limit int) ([]models.ChangeRecord, error) {
	args := m.Called(ctx, limit)
	changes, _ := args.Get(0).([]models.ChangeRecord)
	return changes, args.Error(1)
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newCorrelationRouter(reader CorrelationReader) *gin.Engine {
	h := NewCorrelationHandler(reader, quietLogger())
	router := gin.New()
	router.GET("/correlations", h.GetLatest)
	router.GET("/correlations/:symbol", h.GetInstrument)
	router.GET("/changes", h.GetChanges)
	return router
}

func serve(router http.Handler, target string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
	return w
}

var testNow = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func TestCorrelationHandler_GetLatest(t *testing.T) {
	reader := new(MockCorrelationReader)
	pair := models.NewCorrelationPair("BUSDT", "AUSDT", -0.82)
	reader.On("LatestReport", mock.Anything).Return(&models.CorrelationReport{
		Timestamp:        testNow,
		HighCorrelations: []models.CorrelationPair{pair},
		TotalPairs:       1,
	}, nil)

	w := serve(newCorrelationRouter(reader), "/correlations")
	require.Equal(t, http.StatusOK, w.Code)

	var body models.CorrelationReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 1, body.TotalPairs)
	require.Len(t, body.HighCorrelations, 1)
	assert.Equal(t, "AUSDT", body.HighCorrelations[0].Coin1)
	assert.Equal(t, 0.82, body.HighCorrelations[0].AbsCorrelation)
}

func TestCorrelationHandler_Errors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"not found", utils.ErrNotFound, http.StatusNotFound},
		{"backend down", errors.New("connection refused"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader := new(MockCorrelationReader)
			reader.On("LatestReport", mock.Anything).Return(nil, tt.err)
			w := serve(newCorrelationRouter(reader), "/correlations")
			assert.Equal(t, tt.status, w.Code)
		})
	}
}

func TestCorrelationHandler_GetInstrument(t *testing.T) {
	reader := new(MockCorrelationReader)
	reader.On("InstrumentCorrelations", mock.Anything, "BTCUSDT").Return(&models.InstrumentCorrelations{Symbol: "BTCUSDT"}, nil)
	reader.On("InstrumentCorrelations", mock.Anything, "NOPEUSDT").Return(nil, utils.ErrNotFound)
	router := newCorrelationRouter(reader)

	w := serve(router, "/correlations/btcusdt")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"symbol":"BTCUSDT"`)

	w = serve(router, "/correlations/NOPEUSDT")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCorrelationHandler_GetChanges(t *testing.T) {
	reader := new(MockCorrelationReader)
	reader.On("RecentChanges", mock.Anything, 50).Return([]models.ChangeRecord{
		{Timestamp: testNow, Coin1: "AUSDT", Coin2: "BUSDT", ChangeType: models.ChangeNewHigh},
	}, nil)
	reader.On("RecentChanges", mock.Anything, 5).Return(nil, utils.ErrNotFound)
	reader.On("RecentChanges", mock.Anything, maxChangesLimit).Return([]models.ChangeRecord{}, nil)
	router := newCorrelationRouter(reader)

	w := serve(router, "/changes")
	require.Equal(t, http.StatusOK, w.Code)
	var body ChangesResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Count)
	assert.Equal(t, models.ChangeNewHigh, body.Changes[0].ChangeType)

	// nothing persisted yet is an empty list, not an error
	w = serve(router, "/changes?limit=5")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"changes":[]`)

	w = serve(router, "/changes?limit=999999")
	assert.Equal(t, http.StatusOK, w.Code)

	for _, bad := range []string{"0", "-3", "ten"} {
		w = serve(router, "/changes?limit="+bad)
		assert.Equal(t, http.StatusBadRequest, w.Code, bad)
	}
	reader.AssertExpectations(t)
}

func TestReaderChain(t *testing.T) {
	cache := new(MockCorrelationReader)
	files := new(MockCorrelationReader)
	report := &models.CorrelationReport{Timestamp: testNow, TotalPairs: 3}
	changes := []models.ChangeRecord{{Coin1: "AUSDT", Coin2: "BUSDT"}}

	cache.On("LatestReport", mock.Anything).Return(nil, utils.ErrNotFound)
	files.On("LatestReport", mock.Anything).Return(report, nil)
	cache.On("RecentChanges", mock.Anything, 10).Return([]models.ChangeRecord{}, nil)
	files.On("RecentChanges", mock.Anything, 10).Return(changes, nil)
	cache.On("InstrumentCorrelations", mock.Anything, "XUSDT").Return(nil, errors.New("redis down"))
	files.On("InstrumentCorrelations", mock.Anything, "XUSDT").Return(nil, utils.ErrNotFound)

	chain := ReaderChain{cache, files}

	got, err := chain.LatestReport(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, got.TotalPairs)

	gotChanges, err := chain.RecentChanges(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, changes, gotChanges)

	_, err = chain.InstrumentCorrelations(context.Background(), "XUSDT")
	assert.ErrorIs(t, err, utils.ErrNotFound)

	_, err = ReaderChain{}.LatestReport(context.Background())
	assert.ErrorIs(t, err, utils.ErrNotFound)
}
