package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/irfndi/celebrum-correlation/internal/utils"
)

// TimeoutConfig holds the deadline applied to each persistence sink.
type TimeoutConfig struct {
	File     time.Duration
	Redis    time.Duration
	Postgres time.Duration
	Default  time.Duration
}

// DefaultTimeoutConfig returns default timeout configuration
func DefaultTimeoutConfig() *TimeoutConfig {
	return &TimeoutConfig{
		File:     10 * time.Second,
		Redis:    2 * time.Second,
		Postgres: 5 * time.Second,
		Default:  10 * time.Second,
	}
}

// TimeoutManager bounds sink operations so one hung store cannot stall an
// analysis cycle.
type TimeoutManager struct {
	config         *TimeoutConfig
	logger         *logrus.Logger
	activeContexts map[string]context.CancelFunc
	mu             sync.RWMutex
}

// NewTimeoutManager creates a new timeout manager
func NewTimeoutManager(config *TimeoutConfig, logger *logrus.Logger) *TimeoutManager {
	if config == nil {
		config = DefaultTimeoutConfig()
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &TimeoutManager{
		config:         config,
		logger:         logger,
		activeContexts: make(map[string]context.CancelFunc),
	}
}

// TimeoutFor returns the deadline for the named sink.
func (tm *TimeoutManager) TimeoutFor(sink string) time.Duration {
	var d time.Duration
	switch sink {
	case "file":
		d = tm.config.File
	case "redis":
		d = tm.config.Redis
	case "postgres":
		d = tm.config.Postgres
	}
	if d <= 0 {
		d = tm.config.Default
	}
	if d <= 0 {
		d = 10 * time.Second
	}
	return d
}

// ExecuteWithTimeout runs operation under the sink's deadline. The operation
// keeps running in the background after a timeout; its context is cancelled
// so well-behaved stores return promptly. A timeout is reported as transient.
func (tm *TimeoutManager) ExecuteWithTimeout(ctx context.Context, sink, operationID string, operation func(ctx context.Context) error) error {
	timeout := tm.TimeoutFor(sink)
	opCtx, cancel := context.WithTimeout(ctx, timeout)
	key := sink + ":" + operationID

	tm.mu.Lock()
	tm.activeContexts[key] = cancel
	tm.mu.Unlock()
	defer tm.complete(key)

	start := time.Now()
	done := make(chan error, 1)
	go func() {
		done <- operation(opCtx)
	}()

	select {
	case err := <-done:
		tm.logger.WithFields(logrus.Fields{
			"sink":         sink,
			"operation_id": operationID,
			"duration":     time.Since(start),
			"success":      err == nil,
		}).Debug("Operation completed")
		return err
	case <-opCtx.Done():
		err := opCtx.Err()
		if errors.Is(err, context.DeadlineExceeded) {
			tm.logger.WithFields(logrus.Fields{
				"sink":         sink,
				"operation_id": operationID,
				"timeout":      timeout,
			}).Warn("Operation timed out")
			return fmt.Errorf("%s timed out after %s: %w", sink, timeout, utils.ErrTransient)
		}
		return err
	}
}

func (tm *TimeoutManager) complete(key string) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if cancel, ok := tm.activeContexts[key]; ok {
		cancel()
		delete(tm.activeContexts, key)
	}
}

// CancelAllOperations cancels every in-flight operation.
func (tm *TimeoutManager) CancelAllOperations() {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	for key, cancel := range tm.activeContexts {
		cancel()
		delete(tm.activeContexts, key)
	}
}

// GetActiveOperationCount returns the number of in-flight operations.
func (tm *TimeoutManager) GetActiveOperationCount() int {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return len(tm.activeContexts)
}
