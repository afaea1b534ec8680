package services

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/irfndi/celebrum-correlation/internal/utils"
)

// Operation names registered by default.
const (
	OpExchangeInfo = "exchange_info"
	OpKlines       = "klines"
	OpTickers      = "tickers"
)

// RetryPolicy defines retry behavior for failed operations
type RetryPolicy struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	JitterEnabled bool
}

// DefaultRetryPolicy is used for operations without a registered policy.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxRetries:    3,
		InitialDelay:  500 * time.Millisecond,
		MaxDelay:      10 * time.Second,
		BackoffFactor: 2.0,
		JitterEnabled: true,
	}
}

// DefaultRetryPolicies returns the retry policies for exchange REST calls.
// Klines are fetched in bulk during warm-up and back off harder on rate limits.
func DefaultRetryPolicies() map[string]*RetryPolicy {
	return map[string]*RetryPolicy{
		OpExchangeInfo: DefaultRetryPolicy(),
		OpKlines: {
			MaxRetries:    4,
			InitialDelay:  time.Second,
			MaxDelay:      30 * time.Second,
			BackoffFactor: 2.0,
			JitterEnabled: true,
		},
		OpTickers: {
			MaxRetries:    2,
			InitialDelay:  250 * time.Millisecond,
			MaxDelay:      2 * time.Second,
			BackoffFactor: 2.0,
		},
	}
}

// ErrorRecoveryManager combines a circuit breaker and a retry policy per
// named operation. Only transient errors are retried.
type ErrorRecoveryManager struct {
	logger          *logrus.Logger
	circuitBreakers map[string]*CircuitBreaker
	retryPolicies   map[string]*RetryPolicy
	mu              sync.RWMutex
	sleep           func(ctx context.Context, d time.Duration) error
}

// NewErrorRecoveryManager creates a manager with the default exchange policies registered.
func NewErrorRecoveryManager(logger *logrus.Logger) *ErrorRecoveryManager {
	if logger == nil {
		logger = logrus.New()
	}
	erm := &ErrorRecoveryManager{
		logger:          logger,
		circuitBreakers: make(map[string]*CircuitBreaker),
		retryPolicies:   DefaultRetryPolicies(),
		sleep:           sleepContext,
	}
	for _, op := range []string{OpExchangeInfo, OpKlines, OpTickers} {
		erm.circuitBreakers[op] = NewCircuitBreaker(op, DefaultCircuitBreakerConfig(), logger)
	}
	return erm
}

// RegisterCircuitBreaker replaces the breaker guarding an operation.
func (erm *ErrorRecoveryManager) RegisterCircuitBreaker(name string, config CircuitBreakerConfig) {
	erm.mu.Lock()
	defer erm.mu.Unlock()
	erm.circuitBreakers[name] = NewCircuitBreaker(name, config, erm.logger)
}

// RegisterRetryPolicy registers a retry policy for a specific operation
func (erm *ErrorRecoveryManager) RegisterRetryPolicy(name string, policy *RetryPolicy) {
	erm.mu.Lock()
	defer erm.mu.Unlock()
	erm.retryPolicies[name] = policy
}

// CircuitBreaker returns the breaker for name, or nil.
func (erm *ErrorRecoveryManager) CircuitBreaker(name string) *CircuitBreaker {
	erm.mu.RLock()
	defer erm.mu.RUnlock()
	return erm.circuitBreakers[name]
}

// Execute runs operation through the operation's circuit breaker, retrying
// transient failures with exponential backoff until the policy is exhausted
// or ctx is done.
func (erm *ErrorRecoveryManager) Execute(ctx context.Context, operationName string, operation func(context.Context) error) error {
	erm.mu.RLock()
	cb := erm.circuitBreakers[operationName]
	policy := erm.retryPolicies[operationName]
	erm.mu.RUnlock()
	if policy == nil {
		policy = DefaultRetryPolicy()
	}

	run := operation
	if cb != nil {
		run = func(ctx context.Context) error { return cb.Execute(ctx, operation) }
	}

	start := time.Now()
	delay := policy.InitialDelay
	var lastErr error
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := run(ctx)
		if err == nil {
			if attempt > 0 {
				erm.logger.WithFields(logrus.Fields{
					"operation": operationName,
					"attempts":  attempt + 1,
					"duration":  time.Since(start),
				}).Info("Operation recovered after retry")
			}
			return nil
		}
		lastErr = err

		if !errors.Is(err, utils.ErrTransient) || attempt == policy.MaxRetries {
			break
		}

		wait := erm.calculateDelay(delay, policy)
		erm.logger.WithFields(logrus.Fields{
			"operation": operationName,
			"attempt":   attempt + 1,
			"error":     err.Error(),
			"delay":     wait,
		}).Warn("Operation failed, retrying")

		if err := erm.sleep(ctx, wait); err != nil {
			return err
		}
		delay = time.Duration(float64(delay) * policy.BackoffFactor)
		if delay > policy.MaxDelay {
			delay = policy.MaxDelay
		}
	}

	erm.logger.WithFields(logrus.Fields{
		"operation": operationName,
		"duration":  time.Since(start),
		"error":     lastErr.Error(),
	}).Error("Operation failed")
	return lastErr
}

// calculateDelay adds up to +/-12.5% jitter when enabled.
func (erm *ErrorRecoveryManager) calculateDelay(baseDelay time.Duration, policy *RetryPolicy) time.Duration {
	if !policy.JitterEnabled || baseDelay <= 0 {
		return baseDelay
	}
	jitter := time.Duration(float64(baseDelay) * 0.25 * (rand.Float64() - 0.5))
	return baseDelay + jitter
}

// GetCircuitBreakerStatus returns the state and counters of every breaker.
func (erm *ErrorRecoveryManager) GetCircuitBreakerStatus() map[string]CircuitBreakerStatus {
	erm.mu.RLock()
	defer erm.mu.RUnlock()

	status := make(map[string]CircuitBreakerStatus, len(erm.circuitBreakers))
	for name, cb := range erm.circuitBreakers {
		status[name] = CircuitBreakerStatus{
			State: cb.GetState().String(),
			Stats: cb.GetStats(),
		}
	}
	return status
}

// CircuitBreakerStatus is the reported view of one breaker.
type CircuitBreakerStatus struct {
	State string              `json:"state"`
	Stats CircuitBreakerStats `json:"stats"`
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
