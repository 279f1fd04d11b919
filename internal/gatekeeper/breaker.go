package gatekeeper

import "time"

// circuitBreaker opens after repeated dispatch failures inside a rolling
// window, then blocks dispatch attempts until the cooldown elapses.
type circuitBreaker struct {
	threshold int
	window    time.Duration
	cooldown  time.Duration
	now       func() time.Time

	failures  []time.Time
	openUntil time.Time
}

func newCircuitBreaker(threshold int, window, cooldown time.Duration, now func() time.Time) *circuitBreaker {
	return &circuitBreaker{
		threshold: threshold,
		window:    window,
		cooldown:  cooldown,
		now:       now,
	}
}

// state returns whether dispatch may proceed. Crossing the cooldown boundary
// closes the breaker again (half-open: the next attempt is allowed through).
func (cb *circuitBreaker) allow() (ok bool, reopened bool) {
	if cb.openUntil.IsZero() {
		return true, false
	}
	if cb.now().Before(cb.openUntil) {
		return false, false
	}
	cb.openUntil = time.Time{}
	cb.failures = nil
	return true, true
}

// recordFailure registers a dispatch failure and returns true if the breaker
// just opened.
func (cb *circuitBreaker) recordFailure() bool {
	now := cb.now()
	cutoff := now.Add(-cb.window)
	kept := cb.failures[:0]
	for _, t := range cb.failures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	cb.failures = append(kept, now)
	if len(cb.failures) >= cb.threshold {
		cb.openUntil = now.Add(cb.cooldown)
		cb.failures = nil
		return true
	}
	return false
}

// recordSuccess clears the consecutive-failure history.
func (cb *circuitBreaker) recordSuccess() {
	cb.failures = nil
}

func (cb *circuitBreaker) isOpen() bool {
	return !cb.openUntil.IsZero() && cb.now().Before(cb.openUntil)
}
