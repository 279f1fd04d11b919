package gatekeeper

import "time"

// tokenBucket rate-limits outbound orders. Refill is computed lazily from
// elapsed time on each check; there is no background ticking goroutine.
type tokenBucket struct {
	capacity   float64
	tokens     float64
	refillRate float64 // tokens per second
	lastRefill time.Time
	now        func() time.Time
}

func newTokenBucket(capacity int, refillPerSec float64, now func() time.Time) *tokenBucket {
	return &tokenBucket{
		capacity:   float64(capacity),
		tokens:     float64(capacity),
		refillRate: refillPerSec,
		lastRefill: now(),
		now:        now,
	}
}

func (tb *tokenBucket) refill() {
	now := tb.now()
	elapsed := now.Sub(tb.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	tb.tokens += elapsed * tb.refillRate
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
	tb.lastRefill = now
}

// take withdraws one token if available.
func (tb *tokenBucket) take() bool {
	tb.refill()
	if tb.tokens < 1 {
		return false
	}
	tb.tokens--
	return true
}
