package ratelimiter

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimiter throttles copy operations with a token bucket.
//
// It wraps golang.org/x/time/rate. Each copy consumes one token; tokens refill
// at the configured rate and the bucket holds up to burst tokens, so a fan-out
// over a large folder starts with a burst and then settles to the sustained
// rate.
//
// A nil *RateLimiter is valid and never throttles. All methods are safe for
// concurrent use.
type RateLimiter struct {
	limiter *rate.Limiter
}

// New creates a limiter allowing perSecond sustained operations with the
// given burst capacity.
//
// Special cases:
//   - perSecond = 0: returns nil (unlimited)
//   - burst = 0: burst defaults to perSecond
//
// Example:
//
//	// 50 copies/s sustained, up to 100 at once
//	limiter := New(50, 100)
func New(perSecond, burst uint) *RateLimiter {
	if perSecond == 0 {
		return nil
	}
	if burst == 0 {
		burst = perSecond
	}

	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(perSecond), int(burst)),
	}
}

// Wait blocks until a token is available or ctx is done.
//
// Returns the context error if ctx is cancelled first.
func (r *RateLimiter) Wait(ctx context.Context) error {
	if r == nil {
		return ctx.Err()
	}
	return r.limiter.Wait(ctx)
}

// Allow consumes a token if one is available, without waiting.
func (r *RateLimiter) Allow() bool {
	if r == nil {
		return true
	}
	return r.limiter.Allow()
}

// Limited reports whether the limiter actually throttles.
func (r *RateLimiter) Limited() bool {
	return r != nil
}

// Tokens returns the current number of available tokens (may be fractional).
// Useful for tests and debugging only; the value changes concurrently.
func (r *RateLimiter) Tokens() float64 {
	if r == nil {
		return float64(rate.Inf)
	}
	return r.limiter.Tokens()
}
