package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorHandler_RetriesRetriableThenSucceeds(t *testing.T) {
	h := NewErrorHandler()
	attempts := 0
	cfg := RetryConfig{MaxRetries: 3, BackoffBase: time.Millisecond, BackoffMax: 10 * time.Millisecond, BackoffFactor: 2, Jitter: false}

	err := h.Execute("test-op", func() error {
		attempts++
		if attempts < 3 {
			return errors.New("connection reset by peer")
		}
		return nil
	}, cfg)

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestErrorHandler_NonRetriableFailsImmediately(t *testing.T) {
	h := NewErrorHandler()
	attempts := 0
	cfg := DefaultRetryConfig()

	err := h.Execute("test-op", func() error {
		attempts++
		return errors.New("APIError(code=-2015): Invalid API-key")
	}, cfg)

	assert.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestErrorHandler_ExecuteWithBreaker_IgnoredCategoryCountsAsSuccess(t *testing.T) {
	h := NewErrorHandler()
	cfg := DefaultRetryConfig()

	err := h.ExecuteWithBreaker("exchange_orders", func() error {
		return errors.New("APIError(code=-2019): Margin is insufficient")
	}, cfg)

	assert.Error(t, err)
	cb := h.Breaker("exchange_orders")
	assert.Equal(t, StateClosed, cb.State())
	stats := cb.GetStats()
	assert.Equal(t, 1, stats.TotalSuccesses)
	assert.Equal(t, 0, stats.TotalFailures)
}

func TestErrorHandler_ExecuteWithBreaker_OpensBreakerOnRepeatedFailure(t *testing.T) {
	h := NewErrorHandler()
	cfg := RetryConfig{MaxRetries: 0, BackoffBase: time.Millisecond, BackoffMax: time.Millisecond, BackoffFactor: 1, Jitter: false}

	cb := h.Breaker("exchange_orders")
	for i := 0; i < 5; i++ {
		_ = h.ExecuteWithBreaker("exchange_orders", func() error {
			return errors.New("connection reset by peer")
		}, cfg)
	}
	assert.Equal(t, StateOpen, cb.State())
}

func TestErrorHandler_ShutdownModeBypassesBreakerCheck(t *testing.T) {
	h := NewErrorHandler()
	h.SetShutdownMode(true)
	cb := h.Breaker("exchange_orders")
	cb.transitionToLocked(StateOpen)

	called := false
	err := h.ExecuteWithBreaker("exchange_orders", func() error {
		called = true
		return nil
	}, DefaultRetryConfig())

	require.NoError(t, err)
	assert.True(t, called)
}
