package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irfndi/celebrum-correlation/internal/ingest"
	"github.com/irfndi/celebrum-correlation/internal/series"
	"github.com/irfndi/celebrum-correlation/internal/services"
)

type stubSource struct {
	stats ingest.Stats
}

func (s *stubSource) Start(context.Context, []string) error { return nil }
func (s *stubSource) Stop() error                           { return nil }
func (s *stubSource) IsRunning() bool                       { return true }
func (s *stubSource) Stats() ingest.Stats                   { return s.stats }

type stubCycle struct{}

func (stubCycle) Stats() services.CycleStats {
	return services.CycleStats{Cycles: 4, Skipped: 1}
}

func TestIngestHandler_GetStats(t *testing.T) {
	buf := series.NewBuffer()
	source := &stubSource{stats: ingest.Stats{Workers: 3, Accepted: 120, Rejected: 2}}
	h := NewIngestHandler(source, buf, stubCycle{}, nil)

	router := gin.New()
	router.GET("/stats", h.GetStats)
	w := serve(router, "/stats")
	require.Equal(t, http.StatusOK, w.Code)

	var body IngestStatsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.True(t, body.Running)
	assert.Equal(t, 3, body.Ingest.Workers)
	assert.Equal(t, int64(120), body.Ingest.Accepted)
	require.NotNil(t, body.Analysis)
	assert.Equal(t, int64(4), body.Analysis.Cycles)
	assert.Nil(t, body.Breakers)
}
