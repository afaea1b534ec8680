package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/irfndi/celebrum-correlation/internal/models"
	"github.com/irfndi/celebrum-correlation/internal/utils"
)

const (
	defaultChangesLimit = 50
	maxChangesLimit     = 1000
)

// CorrelationReader serves persisted analysis output.
type CorrelationReader interface {
	LatestReport(ctx context.Context) (*models.CorrelationReport, error)
	InstrumentCorrelations(ctx context.Context, symbol string) (*models.InstrumentCorrelations, error)
	RecentChanges(ctx context.Context, limit int) ([]models.ChangeRecord, error)
}

type CorrelationHandler struct {
	reader CorrelationReader
	logger *logrus.Logger
}

type ChangesResponse struct {
	Changes   []models.ChangeRecord `json:"changes"`
	Count     int                   `json:"count"`
	Timestamp time.Time             `json:"timestamp"`
}

func NewCorrelationHandler(reader CorrelationReader, logger *logrus.Logger) *CorrelationHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &CorrelationHandler{reader: reader, logger: logger}
}

// GetLatest returns the latest persisted correlation snapshot.
func (h *CorrelationHandler) GetLatest(c *gin.Context) {
	report, err := h.reader.LatestReport(c.Request.Context())
	if err != nil {
		h.respondError(c, err, "No correlation snapshot available yet")
		return
	}
	c.JSON(http.StatusOK, report)
}

// GetInstrument returns the correlation breakdown of one instrument.
func (h *CorrelationHandler) GetInstrument(c *gin.Context) {
	symbol := strings.ToUpper(strings.TrimSpace(c.Param("symbol")))
	if symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol parameter is required"})
		return
	}

	ic, err := h.reader.InstrumentCorrelations(c.Request.Context(), symbol)
	if err != nil {
		h.respondError(c, err, "No correlations for "+symbol)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"symbol":       symbol,
		"correlations": ic,
	})
}

// GetChanges returns the most recent correlation changes, newest first.
func (h *CorrelationHandler) GetChanges(c *gin.Context) {
	limit := defaultChangesLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		if n > maxChangesLimit {
			n = maxChangesLimit
		}
		limit = n
	}

	changes, err := h.reader.RecentChanges(c.Request.Context(), limit)
	if err != nil && !errors.Is(err, utils.ErrNotFound) {
		h.respondError(c, err, "")
		return
	}
	if changes == nil {
		changes = []models.ChangeRecord{}
	}
	c.JSON(http.StatusOK, ChangesResponse{
		Changes:   changes,
		Count:     len(changes),
		Timestamp: time.Now(),
	})
}

func (h *CorrelationHandler) respondError(c *gin.Context, err error, notFound string) {
	if errors.Is(err, utils.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": notFound})
		return
	}
	h.logger.WithFields(logrus.Fields{
		"path":  c.FullPath(),
		"class": utils.Classify(err).String(),
	}).WithError(err).Error("Failed to read correlation data")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read correlation data"})
}

// ReaderChain tries each reader in order. Later readers are only consulted
// when an earlier one fails, so a cold cache falls back to the files.
type ReaderChain []CorrelationReader

func (rc ReaderChain) LatestReport(ctx context.Context) (*models.CorrelationReport, error) {
	var lastErr error = utils.ErrNotFound
	for _, r := range rc {
		report, err := r.LatestReport(ctx)
		if err == nil {
			return report, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func (rc ReaderChain) InstrumentCorrelations(ctx context.Context, symbol string) (*models.InstrumentCorrelations, error) {
	var lastErr error = utils.ErrNotFound
	for _, r := range rc {
		ic, err := r.InstrumentCorrelations(ctx, symbol)
		if err == nil {
			return ic, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func (rc ReaderChain) RecentChanges(ctx context.Context, limit int) ([]models.ChangeRecord, error) {
	var lastErr error = utils.ErrNotFound
	for _, r := range rc {
		changes, err := r.RecentChanges(ctx, limit)
		if err == nil && len(changes) > 0 {
			return changes, nil
		}
		if err != nil {
			lastErr = err
		}
	}
	return nil, lastErr
}
