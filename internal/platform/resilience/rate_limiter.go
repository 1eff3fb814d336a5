package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrRateLimited is returned by Wait when no token can be had before ctx's deadline
var ErrRateLimited = errors.New("rate limit: no token before deadline")

// RateLimiter is a token bucket shared by all callers of one dependency
type RateLimiter struct {
	mu          sync.Mutex
	rate        float64 // tokens per second
	burst       float64
	tokens      float64
	lastRefill  time.Time
	pausedUntil time.Time
}

// NewRateLimiter creates a limiter allowing rate requests per second with the given burst
func NewRateLimiter(rate float64, burst int) *RateLimiter {
	if rate <= 0 {
		rate = 10
	}
	if burst <= 0 {
		burst = max(1, int(rate))
	}
	return &RateLimiter{
		rate:       rate,
		burst:      float64(burst),
		tokens:     float64(burst),
		lastRefill: time.Now(),
	}
}

// NewRateLimiterFromRPM creates a rate limiter from requests per minute
func NewRateLimiterFromRPM(requestsPerMinute int, burst int) *RateLimiter {
	return NewRateLimiter(float64(requestsPerMinute)/60.0, burst)
}

// Allow takes a token if one is available
func (rl *RateLimiter) Allow() bool {
	_, ok := rl.reserve(time.Now())
	return ok
}

// Wait blocks until a token is available or ctx is done. When ctx has a
// deadline that falls before the next token, it fails at once with ErrRateLimited.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	for {
		now := time.Now()
		wait, ok := rl.reserve(now)
		if ok {
			return nil
		}
		if deadline, has := ctx.Deadline(); has && now.Add(wait).After(deadline) {
			return ErrRateLimited
		}

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// PauseUntil withholds tokens until t, typically a provider's Retry-After.
func (rl *RateLimiter) PauseUntil(t time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if t.After(rl.pausedUntil) {
		rl.pausedUntil = t
		rl.tokens = 0
		rl.lastRefill = t
	}
}

// reserve takes a token, or reports how long until one may be available
func (rl *RateLimiter) reserve(now time.Time) (time.Duration, bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if now.Before(rl.pausedUntil) {
		return rl.pausedUntil.Sub(now), false
	}

	rl.tokens += now.Sub(rl.lastRefill).Seconds() * rl.rate
	if rl.tokens > rl.burst {
		rl.tokens = rl.burst
	}
	rl.lastRefill = now

	if rl.tokens >= 1 {
		rl.tokens--
		return 0, true
	}

	wait := time.Duration((1 - rl.tokens) / rl.rate * float64(time.Second))
	return max(wait, 5*time.Millisecond), false
}
