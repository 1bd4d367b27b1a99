// ratelimit.go implements token-bucket rate limiting for the Bybit v5 API.
//
// Bybit enforces per-endpoint limits measured in requests per second, with
// short burst allowances. This file provides a smooth token-bucket
// implementation that refills continuously rather than in fixed windows.
//
// Three buckets are maintained:
//   - Order:  10 burst / 10 per sec (POST /v5/order/create)
//   - Cancel: 10 burst / 10 per sec (POST /v5/order/cancel)
//   - Market: 50 burst / 20 per sec (public market-data reads)
package exchange

import (
	"context"
	"sync"
	"time"
)

// TokenBucket implements a token-bucket rate limiter with continuous refill.
// Callers block in Wait() until a token is available or the context is cancelled.
type TokenBucket struct {
	mu       sync.Mutex
	tokens   float64   // current available tokens (fractional allowed)
	capacity float64   // maximum burst size
	rate     float64   // tokens refilled per second
	lastTime time.Time // last time tokens were calculated
}

// NewTokenBucket creates a rate limiter with the given capacity and refill rate.
func NewTokenBucket(capacity, ratePerSecond float64) *TokenBucket {
	return &TokenBucket{
		tokens:   capacity,
		capacity: capacity,
		rate:     ratePerSecond,
		lastTime: time.Now(),
	}
}

// Wait blocks until a token is available or ctx is cancelled.
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		tb.mu.Lock()
		now := time.Now()
		elapsed := now.Sub(tb.lastTime).Seconds()
		tb.tokens += elapsed * tb.rate
		if tb.tokens > tb.capacity {
			tb.tokens = tb.capacity
		}
		tb.lastTime = now

		if tb.tokens >= 1 {
			tb.tokens--
			tb.mu.Unlock()
			return nil
		}

		// Calculate wait time for next token
		wait := time.Duration((1 - tb.tokens) / tb.rate * float64(time.Second))
		tb.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
			// retry
		}
	}
}

// RateLimiter groups token buckets by Bybit API endpoint category.
// Each request must call the appropriate bucket's Wait() before going out.
type RateLimiter struct {
	Order  *TokenBucket // POST /v5/order/create
	Cancel *TokenBucket // POST /v5/order/cancel
	Market *TokenBucket // GET /v5/market/* public reads
}

// NewRateLimiter creates rate limiters tuned to Bybit's per-second limits
// for options accounts.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		Order:  NewTokenBucket(10, 10),
		Cancel: NewTokenBucket(10, 10),
		Market: NewTokenBucket(50, 20),
	}
}
