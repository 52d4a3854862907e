// ratelimit.go implements token-bucket rate limiting for the exchange API.
//
// The exchange enforces per-category limits on trading endpoints. Buckets
// refill continuously rather than in window-sized bursts, which keeps a busy
// cycle from slamming into a hard limit right after a window rollover.
//
// Three buckets are maintained:
//   - Place:  10 burst / 2 per sec  — wager placement
//   - Cancel: 10 burst / 2 per sec  — single and bulk cancels
//   - Read:   30 burst / 10 per sec — metadata, market trees, wager histories
package exchange

import (
	"context"
	"sync"
	"time"
)

// TokenBucket is a rate limiter with continuous refill. Callers block in
// Wait() until a token is available or the context is cancelled.
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

// RateLimiter groups token buckets by exchange endpoint category. Each
// request must call the appropriate bucket's Wait() before going out.
type RateLimiter struct {
	Place  *TokenBucket // POST /wagers
	Cancel *TokenBucket // DELETE /wagers/{id}, POST /wagers/cancel
	Read   *TokenBucket // GET everything else
}

// NewRateLimiter creates rate limiters for the exchange's endpoint categories.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		Place:  NewTokenBucket(10, 2),
		Cancel: NewTokenBucket(10, 2),
		Read:   NewTokenBucket(30, 10),
	}
}
