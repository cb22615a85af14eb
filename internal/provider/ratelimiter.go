package provider

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is a per-minute token budget shared by every backend call.
// The bucket starts full and earns one token every minute/perMinute.
type RateLimiter struct {
	mu       sync.Mutex
	tokens   int
	burst    int
	every    time.Duration
	lastTick time.Time
	now      func() time.Time
}

// NewRateLimiter returns nil when perMinute <= 0. A nil limiter never blocks.
func NewRateLimiter(perMinute int) *RateLimiter {
	if perMinute <= 0 {
		return nil
	}
	return &RateLimiter{
		tokens:   perMinute,
		burst:    perMinute,
		every:    time.Minute / time.Duration(perMinute),
		lastTick: time.Now(),
		now:      time.Now,
	}
}

// Wait takes a token, sleeping until the next one is earned when the budget
// is spent.
func (r *RateLimiter) Wait(ctx context.Context) error {
	if r == nil {
		return nil
	}
	for {
		delay := r.take()
		if delay == 0 {
			return nil
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Available reports the tokens left in the current budget.
func (r *RateLimiter) Available() int {
	if r == nil {
		return -1
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.earn()
	return r.tokens
}

// take consumes a token and returns 0, or returns how long until one is due.
func (r *RateLimiter) take() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.earn()
	if r.tokens > 0 {
		r.tokens--
		return 0
	}
	return r.every - r.now().Sub(r.lastTick)
}

func (r *RateLimiter) earn() {
	earned := int(r.now().Sub(r.lastTick) / r.every)
	if earned <= 0 {
		return
	}
	r.lastTick = r.lastTick.Add(time.Duration(earned) * r.every)
	r.tokens = min(r.tokens+earned, r.burst)
}
