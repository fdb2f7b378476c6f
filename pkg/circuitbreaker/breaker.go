package circuitbreaker

import (
	"sync"
	"time"

	"github.com/speedrun-hq/speedrun-batcher/pkg/logger"
	"github.com/speedrun-hq/speedrun-batcher/pkg/metrics"
)

// Config holds circuit breaker settings shared by every route
type Config struct {
	Enabled       bool
	Threshold     int
	FailureWindow time.Duration
	ResetTimeout  time.Duration
}

// CircuitBreaker stops venue calls for a route after repeated failures
type CircuitBreaker struct {
	route         string
	enabled       bool
	failureCount  int
	failureWindow time.Duration
	failThreshold int
	resetTimeout  time.Duration
	lastFailure   time.Time
	tripped       bool
	tripTime      time.Time
	logger        logger.Logger
	now           func() time.Time
	mu            sync.Mutex
}

// State is a snapshot of a breaker
type State struct {
	Route         string        `json:"route"`
	Enabled       bool          `json:"enabled"`
	Open          bool          `json:"open"`
	FailureCount  int           `json:"failure_count"`
	FailThreshold int           `json:"fail_threshold"`
	FailureWindow time.Duration `json:"failure_window"`
	LastFailure   time.Time     `json:"last_failure"`
	TripTime      time.Time     `json:"trip_time"`
}

// NewCircuitBreaker creates a new circuit breaker for route
func NewCircuitBreaker(route string, cfg Config, log logger.Logger) *CircuitBreaker {
	return &CircuitBreaker{
		route:         route,
		enabled:       cfg.Enabled,
		failThreshold: cfg.Threshold,
		failureWindow: cfg.FailureWindow,
		resetTimeout:  cfg.ResetTimeout,
		logger:        log,
		now:           time.Now,
	}
}

// RecordFailure records a failure and trips the circuit if threshold is reached
func (cb *CircuitBreaker) RecordFailure() bool {
	if !cb.enabled {
		return false
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()

	// If the circuit is already tripped, check if it's time to try again
	if cb.tripped {
		if now.Sub(cb.tripTime) > cb.resetTimeout {
			cb.logger.Notice("Circuit breaker for route %s: attempting to reset after timeout", cb.route)
			cb.close()
		} else {
			return true
		}
	}

	// Reset failure count if outside window
	if now.Sub(cb.lastFailure) > cb.failureWindow {
		cb.failureCount = 0
	}

	cb.failureCount++
	cb.lastFailure = now

	if cb.failureCount >= cb.failThreshold {
		cb.tripped = true
		cb.tripTime = now
		metrics.CircuitOpen.WithLabelValues(cb.route).Set(1)
		cb.logger.Error("Circuit breaker for route %s tripped: %d failures in window", cb.route, cb.failureCount)
		return true
	}

	return false
}

// RecordSuccess clears the failure count after a successful venue call
func (cb *CircuitBreaker) RecordSuccess() {
	if !cb.enabled {
		return
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if !cb.tripped {
		cb.failureCount = 0
	}
}

// IsOpen returns true if the circuit is open (tripped)
func (cb *CircuitBreaker) IsOpen() bool {
	if !cb.enabled {
		return false
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	// If tripped but reset timeout has passed, try again
	if cb.tripped && cb.now().Sub(cb.tripTime) > cb.resetTimeout {
		cb.logger.Notice("Circuit breaker for route %s: reset timeout elapsed, allowing traffic", cb.route)
		cb.close()
		return false
	}

	return cb.tripped
}

// Reset manually resets the circuit breaker
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.close()
}

// close must be called with mu held
func (cb *CircuitBreaker) close() {
	cb.tripped = false
	cb.failureCount = 0
	metrics.CircuitOpen.WithLabelValues(cb.route).Set(0)
}

// GetState returns the current state of the circuit breaker
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return State{
		Route:         cb.route,
		Enabled:       cb.enabled,
		Open:          cb.enabled && cb.tripped,
		FailureCount:  cb.failureCount,
		FailThreshold: cb.failThreshold,
		FailureWindow: cb.failureWindow,
		LastFailure:   cb.lastFailure,
		TripTime:      cb.tripTime,
	}
}

// IsEnabled returns true if the circuit breaker is enabled
func (cb *CircuitBreaker) IsEnabled() bool {
	return cb.enabled
}
