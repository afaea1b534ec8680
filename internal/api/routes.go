package api

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/irfndi/celebrum-correlation/internal/api/handlers"
	"github.com/irfndi/celebrum-correlation/internal/ingest"
)

// Dependencies carries everything the read API serves from.
type Dependencies struct {
	ServiceName string
	Reader      handlers.CorrelationReader
	Health      map[string]handlers.HealthChecker
	Source      ingest.Source
	Buffer      handlers.BufferStats
	Cycle       handlers.CycleStats
	Breakers    handlers.BreakerStatus
	Logger      *logrus.Logger
}

// NewRouter builds a gin engine with recovery, request logging and tracing.
func NewRouter(deps Dependencies) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(deps.Logger))
	if deps.ServiceName != "" {
		router.Use(otelgin.Middleware(deps.ServiceName))
	}
	SetupRoutes(router, deps)
	return router
}

func SetupRoutes(router *gin.Engine, deps Dependencies) {
	healthHandler := handlers.NewHealthHandler(deps.Health)
	correlationHandler := handlers.NewCorrelationHandler(deps.Reader, deps.Logger)
	ingestHandler := handlers.NewIngestHandler(deps.Source, deps.Buffer, deps.Cycle, deps.Breakers)

	router.GET("/health", healthHandler.HealthCheck)
	router.GET("/live", healthHandler.LivenessCheck)

	v1 := router.Group("/api/v1")
	{
		correlations := v1.Group("/correlations")
		{
			correlations.GET("", correlationHandler.GetLatest)
			correlations.GET("/:symbol", correlationHandler.GetInstrument)
		}

		v1.GET("/changes", correlationHandler.GetChanges)
		v1.GET("/ingest/stats", ingestHandler.GetStats)
	}
}
