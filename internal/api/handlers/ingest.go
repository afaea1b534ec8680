package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/irfndi/celebrum-correlation/internal/ingest"
	"github.com/irfndi/celebrum-correlation/internal/series"
	"github.com/irfndi/celebrum-correlation/internal/services"
)

// BufferStats reports series buffer counters.
type BufferStats interface {
	Stats() series.Stats
}

// CycleStats reports analysis loop counters.
type CycleStats interface {
	Stats() services.CycleStats
}

// BreakerStatus reports the exchange circuit breakers.
type BreakerStatus interface {
	GetCircuitBreakerStatus() map[string]services.CircuitBreakerStatus
}

type IngestHandler struct {
	source   ingest.Source
	buffer   BufferStats
	cycle    CycleStats
	breakers BreakerStatus
}

type IngestStatsResponse struct {
	Running   bool                                     `json:"running"`
	Ingest    ingest.Stats                             `json:"ingest"`
	Buffer    series.Stats                             `json:"buffer"`
	Analysis  *services.CycleStats                     `json:"analysis,omitempty"`
	Breakers  map[string]services.CircuitBreakerStatus `json:"circuit_breakers,omitempty"`
	Timestamp time.Time                                `json:"timestamp"`
}

// NewIngestHandler creates the stats handler. cycle and breakers may be nil.
func NewIngestHandler(source ingest.Source, buffer BufferStats, cycle CycleStats, breakers BreakerStatus) *IngestHandler {
	return &IngestHandler{source: source, buffer: buffer, cycle: cycle, breakers: breakers}
}

// GetStats returns ingestion, buffer and analysis counters.
func (h *IngestHandler) GetStats(c *gin.Context) {
	resp := IngestStatsResponse{Timestamp: time.Now()}
	if h.source != nil {
		resp.Running = h.source.IsRunning()
		resp.Ingest = h.source.Stats()
	}
	if h.buffer != nil {
		resp.Buffer = h.buffer.Stats()
	}
	if h.cycle != nil {
		stats := h.cycle.Stats()
		resp.Analysis = &stats
	}
	if h.breakers != nil {
		resp.Breakers = h.breakers.GetCircuitBreakerStatus()
	}
	c.JSON(http.StatusOK, resp)
}
