package resilience

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// EndpointClass selects which token bucket an API call draws from,
// mirroring exchanges/rate_limiter.py's endpoint_type argument.
type EndpointClass string

const (
	EndpointOrders     EndpointClass = "orders"
	EndpointAccount    EndpointClass = "account"
	EndpointMarketData EndpointClass = "market_data"
	EndpointDefault    EndpointClass = "default"
)

// tokenBucket is a minimal per-second token bucket, the Go equivalent of
// wrapping aiolimiter.AsyncLimiter(rate, 1.0) per endpoint class.
type tokenBucket struct {
	mu       sync.Mutex
	rate     float64 // tokens per second
	capacity float64
	tokens   float64
	last     time.Time
}

func newTokenBucket(ratePerSecond float64) *tokenBucket {
	return &tokenBucket{
		rate:     ratePerSecond,
		capacity: ratePerSecond,
		tokens:   ratePerSecond,
		last:     time.Now(),
	}
}

func (b *tokenBucket) wait(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		b.mu.Lock()
		now := time.Now()
		elapsed := now.Sub(b.last).Seconds()
		b.tokens += elapsed * b.rate
		if b.tokens > b.capacity {
			b.tokens = b.capacity
		}
		b.last = now
		if b.tokens >= 1.0 {
			b.tokens -= 1.0
			b.mu.Unlock()
			return nil
		}
		wait := time.Duration((1.0 - b.tokens) / b.rate * float64(time.Second))
		b.mu.Unlock()

		if now.Add(wait).After(deadline) {
			return fmt.Errorf("rate limiter: timed out waiting for token")
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// BinanceRateLimiter is the Go port of rate_limiter.py's BinanceRateLimiter:
// Binance-calibrated per-endpoint-class token buckets (orders 5/s, account
// 1/s, market_data 40/s, default 5/s).
type BinanceRateLimiter struct {
	buckets map[EndpointClass]*tokenBucket
	timeout time.Duration
}

// NewBinanceRateLimiter builds the limiter with the original's defaults.
// A zero value for any rate falls back to that default.
func NewBinanceRateLimiter(ordersPerSecond, accountPerSecond, marketDataPerSecond, defaultPerSecond float64) *BinanceRateLimiter {
	if ordersPerSecond <= 0 {
		ordersPerSecond = 5
	}
	if accountPerSecond <= 0 {
		accountPerSecond = 1
	}
	if marketDataPerSecond <= 0 {
		marketDataPerSecond = 40
	}
	if defaultPerSecond <= 0 {
		defaultPerSecond = 5
	}
	return &BinanceRateLimiter{
		buckets: map[EndpointClass]*tokenBucket{
			EndpointOrders:     newTokenBucket(ordersPerSecond),
			EndpointAccount:    newTokenBucket(accountPerSecond),
			EndpointMarketData: newTokenBucket(marketDataPerSecond),
			EndpointDefault:    newTokenBucket(defaultPerSecond),
		},
		timeout: 45 * time.Second, // spec.md §4.14 default safety timeout
	}
}

// SetTimeout overrides the default 45s safety timeout.
func (r *BinanceRateLimiter) SetTimeout(d time.Duration) {
	if d > 0 {
		r.timeout = d
	}
}

// Acquire blocks until a token for endpoint is available, or returns a
// non-retriable timeout error after the safety window elapses — mirroring
// acquire(endpoint_type, timeout=60.0) raising TimeoutError on starvation.
func (r *BinanceRateLimiter) Acquire(ctx context.Context, endpoint EndpointClass) error {
	bucket, ok := r.buckets[endpoint]
	if !ok {
		bucket = r.buckets[EndpointDefault]
	}
	return bucket.wait(ctx, r.timeout)
}
