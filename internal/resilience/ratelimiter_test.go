package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBinanceRateLimiter_AllowsBurstUpToCapacity(t *testing.T) {
	rl := NewBinanceRateLimiter(5, 1, 40, 5)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, rl.Acquire(ctx, EndpointOrders))
	}
}

func TestBinanceRateLimiter_ThrottlesBeyondCapacity(t *testing.T) {
	rl := NewBinanceRateLimiter(2, 1, 40, 5)
	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, rl.Acquire(ctx, EndpointOrders))
	}
	assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)
}

func TestBinanceRateLimiter_UnknownEndpointFallsBackToDefault(t *testing.T) {
	rl := NewBinanceRateLimiter(5, 1, 40, 5)
	require.NoError(t, rl.Acquire(context.Background(), EndpointClass("nonsense")))
}

func TestBinanceRateLimiter_ContextCancelAborts(t *testing.T) {
	rl := NewBinanceRateLimiter(1, 1, 40, 5)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, rl.Acquire(ctx, EndpointAccount))
	cancel()
	err := rl.Acquire(ctx, EndpointAccount)
	assert.Error(t, err)
}
