package gatekeeper

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestBreaker() (*circuitBreaker, *fakeClock) {
	clk := &fakeClock{t: time.Unix(0, 0)}
	return newCircuitBreaker(5, time.Minute, 30*time.Second, clk.now), clk
}

func TestBreakerOpensAtThreshold(t *testing.T) {
	cb, _ := newTestBreaker()

	for i := 0; i < 4; i++ {
		assert.False(t, cb.recordFailure())
		assert.False(t, cb.isOpen())
	}
	assert.True(t, cb.recordFailure(), "fifth failure opens the breaker")
	assert.True(t, cb.isOpen())

	ok, _ := cb.allow()
	assert.False(t, ok)
}

func TestBreakerRollingWindow(t *testing.T) {
	cb, clk := newTestBreaker()

	for i := 0; i < 4; i++ {
		cb.recordFailure()
	}
	clk.advance(61 * time.Second)
	assert.False(t, cb.recordFailure(), "stale failures fall out of the window")
	assert.False(t, cb.isOpen())
}

func TestBreakerHalfOpenAfterCooldown(t *testing.T) {
	cb, clk := newTestBreaker()

	for i := 0; i < 5; i++ {
		cb.recordFailure()
	}
	ok, reopened := cb.allow()
	assert.False(t, ok)
	assert.False(t, reopened)

	clk.advance(31 * time.Second)
	ok, reopened = cb.allow()
	assert.True(t, ok)
	assert.True(t, reopened, "first allow past cooldown reports the transition")

	ok, reopened = cb.allow()
	assert.True(t, ok)
	assert.False(t, reopened)
}

func TestBreakerSuccessClearsHistory(t *testing.T) {
	cb, _ := newTestBreaker()

	for i := 0; i < 4; i++ {
		cb.recordFailure()
	}
	cb.recordSuccess()
	assert.False(t, cb.recordFailure(), "history restarts after a success")
}
