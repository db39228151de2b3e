// Package resilience implements the circuit breaker, classified retry
// handler, and endpoint rate limiter used to guard every exchange call.
// It is a direct Go port of original_source/core/error_handling/
// circuit_breaker.py and error_handler.py, keeping the same parameter
// names and defaults so operators moving between the two systems see
// identical behavior.
package resilience

import (
	"fmt"
	"sync"
	"time"
)

// CircuitState mirrors the Python CircuitState enum.
type CircuitState string

const (
	StateClosed   CircuitState = "CLOSED"
	StateOpen     CircuitState = "OPEN"
	StateHalfOpen CircuitState = "HALF_OPEN"
)

// OpenError is returned by Call/CheckAvailability when the breaker is open.
type OpenError struct {
	Name    string
	RetryIn time.Duration
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit breaker %q is open, retry after %.1fs", e.Name, e.RetryIn.Seconds())
}

// Stats is a snapshot of breaker counters, equivalent to get_stats().
type Stats struct {
	Name                string
	State               CircuitState
	FailureCount        int
	SuccessCount        int
	TotalCalls          int
	TotalFailures        int
	TotalSuccesses       int
	HalfOpenCalls       int
	LastFailureTime     time.Time
	LastStateChangeTime time.Time
}

// CircuitBreaker guards a single named dependency (an exchange endpoint
// class, e.g. "exchange_orders"). Zero value is not usable; use NewCircuitBreaker.
type CircuitBreaker struct {
	mu sync.Mutex

	name              string
	failureThreshold  int
	recoveryTimeout   time.Duration
	halfOpenMaxCalls  int

	state               CircuitState
	failureCount        int
	successCount        int
	halfOpenCalls       int
	totalCalls          int
	totalFailures       int
	totalSuccesses      int
	lastFailureTime     time.Time
	lastStateChangeTime time.Time
}

// NewCircuitBreaker mirrors CircuitBreaker.__init__(failure_threshold=5,
// recovery_timeout=60, half_open_max_calls=3, name="default").
func NewCircuitBreaker(name string, failureThreshold int, recoveryTimeout time.Duration, halfOpenMaxCalls int) *CircuitBreaker {
	if name == "" {
		name = "default"
	}
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if recoveryTimeout <= 0 {
		recoveryTimeout = 60 * time.Second
	}
	if halfOpenMaxCalls <= 0 {
		halfOpenMaxCalls = 3
	}
	return &CircuitBreaker{
		name:                name,
		failureThreshold:    failureThreshold,
		recoveryTimeout:     recoveryTimeout,
		halfOpenMaxCalls:    halfOpenMaxCalls,
		state:               StateClosed,
		lastStateChangeTime: time.Now(),
	}
}

// CheckAvailability raises OpenError if the breaker should block the call,
// and transitions CLOSED/OPEN/HALF_OPEN state exactly like
// check_availability() + _should_attempt_reset() in the original.
func (cb *CircuitBreaker) CheckAvailability() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.checkAvailabilityLocked()
}

func (cb *CircuitBreaker) checkAvailabilityLocked() error {
	switch cb.state {
	case StateOpen:
		if cb.shouldAttemptResetLocked() {
			cb.transitionToLocked(StateHalfOpen)
			return nil
		}
		remaining := cb.recoveryTimeout - time.Since(cb.lastStateChangeTime)
		if remaining < 0 {
			remaining = 0
		}
		return &OpenError{Name: cb.name, RetryIn: remaining}
	case StateHalfOpen:
		if cb.halfOpenCalls >= cb.halfOpenMaxCalls {
			return &OpenError{Name: cb.name, RetryIn: cb.recoveryTimeout}
		}
		return nil
	default: // CLOSED
		return nil
	}
}

func (cb *CircuitBreaker) shouldAttemptResetLocked() bool {
	return time.Since(cb.lastStateChangeTime) >= cb.recoveryTimeout
}

func (cb *CircuitBreaker) transitionToLocked(newState CircuitState) {
	cb.state = newState
	cb.lastStateChangeTime = time.Now()
	switch newState {
	case StateHalfOpen:
		cb.halfOpenCalls = 0
		cb.successCount = 0
	case StateClosed:
		cb.failureCount = 0
		cb.halfOpenCalls = 0
	case StateOpen:
		cb.halfOpenCalls = 0
	}
}

// RecordSuccess mirrors record_success(): in HALF_OPEN, enough consecutive
// successes close the breaker; in CLOSED it just resets the failure streak.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.totalCalls++
	cb.totalSuccesses++
	switch cb.state {
	case StateHalfOpen:
		cb.successCount++
		cb.halfOpenCalls++
		if cb.successCount >= cb.halfOpenMaxCalls {
			cb.transitionToLocked(StateClosed)
		}
	case StateClosed:
		cb.failureCount = 0
	}
}

// RecordFailure mirrors record_failure(): in HALF_OPEN any failure reopens
// immediately; in CLOSED the threshold trips the breaker open.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.totalCalls++
	cb.totalFailures++
	cb.lastFailureTime = time.Now()
	switch cb.state {
	case StateHalfOpen:
		cb.transitionToLocked(StateOpen)
	case StateClosed:
		cb.failureCount++
		if cb.failureCount >= cb.failureThreshold {
			cb.transitionToLocked(StateOpen)
		}
	}
}

// Call executes fn guarded by the breaker, equivalent to __aenter__/__aexit__
// wrapping an async block in the original.
func (cb *CircuitBreaker) Call(fn func() error) error {
	if err := cb.CheckAvailability(); err != nil {
		return err
	}
	err := fn()
	if err != nil {
		cb.RecordFailure()
		return err
	}
	cb.RecordSuccess()
	return nil
}

// Reset forces the breaker back to CLOSED, clearing all counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.failureCount = 0
	cb.successCount = 0
	cb.halfOpenCalls = 0
	cb.lastStateChangeTime = time.Now()
}

// State returns the current state for inspection (metrics, status WS).
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// GetStats mirrors get_stats().
func (cb *CircuitBreaker) GetStats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return Stats{
		Name:                cb.name,
		State:               cb.state,
		FailureCount:        cb.failureCount,
		SuccessCount:        cb.successCount,
		TotalCalls:          cb.totalCalls,
		TotalFailures:       cb.totalFailures,
		TotalSuccesses:      cb.totalSuccesses,
		HalfOpenCalls:       cb.halfOpenCalls,
		LastFailureTime:     cb.lastFailureTime,
		LastStateChangeTime: cb.lastStateChangeTime,
	}
}
