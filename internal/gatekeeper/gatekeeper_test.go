package gatekeeper

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradealgo-live/internal/broker/sim"
	"tradealgo-live/internal/metrics"
	"tradealgo-live/internal/store"
	"tradealgo-live/internal/types"
)

type fakeClock struct {
	t time.Time
}

func (f *fakeClock) now() time.Time          { return f.t }
func (f *fakeClock) advance(d time.Duration) { f.t = f.t.Add(d) }

func gateConfig() *store.Config {
	cfg := &store.Config{}
	cfg.Risk.CapitalBase = 100000
	cfg.Risk.MaxDailyLossPct = 2.0
	cfg.Risk.MarketableBufferPct = 0.25
	cfg.Risk.MinTick = 0.05
	cfg.RateLimit.Capacity = 5
	cfg.RateLimit.RefillPerSec = 5
	cfg.RateLimit.QueueSize = 64
	cfg.Breaker.FailureThreshold = 5
	cfg.Breaker.WindowSeconds = 60
	cfg.Breaker.CooldownSeconds = 30
	cfg.Orders.AckTimeoutSeconds = 10
	return cfg
}

func newTestGate(t *testing.T, cfg *store.Config) (*Gatekeeper, *sim.Broker, *fakeClock) {
	t.Setenv("TRADER_LOG_DIR", t.TempDir())
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	brk := sim.New()
	g := New(cfg, brk, nil, clk.now)
	return g, brk, clk
}

func mkIntent(symbol string, side types.Side, n int) types.OrderIntent {
	return types.OrderIntent{
		ID:          fmt.Sprintf("intent-%s-%d", symbol, n),
		Symbol:      symbol,
		Side:        side,
		Qty:         10,
		PriceHint:   100,
		Strategy:    "ema_alignment",
		WindowStart: int64(n * 60),
	}
}

func drainAcks(g *Gatekeeper, brk *sim.Broker) {
	ctx := context.Background()
	for {
		select {
		case ack := <-brk.Acks():
			g.OnAck(ctx, ack)
		default:
			return
		}
	}
}

func TestSubmitDispatchesWithinBurstCapacity(t *testing.T) {
	ctx := context.Background()
	g, _, _ := newTestGate(t, gateConfig())

	dispatched, queued := 0, 0
	for i := 0; i < 100; i++ {
		v := g.Submit(ctx, mkIntent("RELIANCE", types.SideBuy, i))
		if v.Dispatched {
			dispatched++
		}
		if v.Queued {
			queued++
		}
	}
	assert.Equal(t, 5, dispatched, "burst capacity bounds instant dispatch")
	assert.Equal(t, 64, queued, "overflow fills the pending queue")
	assert.Equal(t, queued, g.PendingDepth())
}

func TestDrainPendingRefillsFIFO(t *testing.T) {
	ctx := context.Background()
	g, brk, clk := newTestGate(t, gateConfig())

	for i := 0; i < 8; i++ {
		g.Submit(ctx, mkIntent("RELIANCE", types.SideBuy, i))
	}
	require.Equal(t, 3, g.PendingDepth())
	drainAcks(g, brk)

	// One second refills the full burst; the queue drains oldest first.
	clk.advance(time.Second)
	g.DrainPending(ctx)
	assert.Equal(t, 0, g.PendingDepth())
}

func TestQueueFullRejects(t *testing.T) {
	ctx := context.Background()
	cfg := gateConfig()
	cfg.RateLimit.QueueSize = 3
	g, _, _ := newTestGate(t, cfg)

	var rejected int
	for i := 0; i < 20; i++ {
		v := g.Submit(ctx, mkIntent("TCS", types.SideBuy, i))
		if v.Reason == ReasonQueueFull {
			rejected++
		}
	}
	assert.Equal(t, 3, g.PendingDepth())
	assert.Equal(t, 20-5-3, rejected)
}

func TestDuplicateIntentDispatchesOnce(t *testing.T) {
	ctx := context.Background()
	g, _, _ := newTestGate(t, gateConfig())

	intent := mkIntent("INFY", types.SideBuy, 1)
	v1 := g.Submit(ctx, intent)
	require.True(t, v1.Dispatched)

	// Same strategy, symbol and window: a retry or replay, not a new signal.
	dup := intent
	dup.ID = "different-uuid"
	v2 := g.Submit(ctx, dup)
	assert.False(t, v2.Dispatched)
	assert.Equal(t, ReasonDuplicate, v2.Reason)
}

func TestMarketableLimitPricing(t *testing.T) {
	g, _, _ := newTestGate(t, gateConfig())

	// 0.25% of 100 is 0.25, already on the 0.05 grid.
	assert.InDelta(t, 100.25, g.marketableLimit(types.SideBuy, 100), 1e-9)
	assert.InDelta(t, 99.75, g.marketableLimit(types.SideSell, 100), 1e-9)

	// 123.4 * 1.0025 = 123.7085, rounded to the nearest 0.05 tick.
	assert.InDelta(t, 123.70, g.marketableLimit(types.SideBuy, 123.4), 1e-9)
}

func TestKillSwitchEngagesAtThresholdAndSticks(t *testing.T) {
	ctx := context.Background()
	g, brk, _ := newTestGate(t, gateConfig())

	// Open a long: 100 shares at 100.25 (marketable limit over hint 100).
	intent := mkIntent("RELIANCE", types.SideBuy, 1)
	intent.Qty = 100
	require.True(t, g.Submit(ctx, intent).Dispatched)
	drainAcks(g, brk)
	require.Equal(t, 100, g.PositionQty("RELIANCE"))

	// Mark down to exactly the 2% capital loss: 100 * (100.25 - 80.25) = 2000.
	g.UpdateMark("RELIANCE", 80.25)
	v := g.Submit(ctx, mkIntent("RELIANCE", types.SideBuy, 2))
	assert.Equal(t, ReasonRiskHalt, v.Reason)
	assert.True(t, g.KillSwitchEngaged())

	// Price recovers to a 1% loss; the switch must not disengage.
	g.UpdateMark("RELIANCE", 90.25)
	v = g.Submit(ctx, mkIntent("RELIANCE", types.SideBuy, 3))
	assert.Equal(t, ReasonKillSwitch, v.Reason)
	assert.True(t, g.KillSwitchEngaged())

	// Only an explicit reset reopens the session.
	g.ResetSession(ctx)
	assert.False(t, g.KillSwitchEngaged())
	v = g.Submit(ctx, mkIntent("RELIANCE", types.SideBuy, 4))
	assert.True(t, v.Dispatched)
}

func TestKillSwitchClearsPendingQueue(t *testing.T) {
	ctx := context.Background()
	g, brk, _ := newTestGate(t, gateConfig())

	intent := mkIntent("RELIANCE", types.SideBuy, 1)
	intent.Qty = 100
	require.True(t, g.Submit(ctx, intent).Dispatched)
	drainAcks(g, brk)

	// Exhaust the bucket so later intents queue up.
	for i := 2; i < 10; i++ {
		g.Submit(ctx, mkIntent("TCS", types.SideBuy, i))
	}
	require.Positive(t, g.PendingDepth())

	g.UpdateMark("RELIANCE", 70)
	g.Submit(ctx, mkIntent("RELIANCE", types.SideBuy, 20))
	require.True(t, g.KillSwitchEngaged())

	g.DrainPending(ctx)
	assert.Equal(t, 0, g.PendingDepth(), "halt empties the queue instead of dispatching it later")
}

func TestCircuitBreakerOpensAndRecovers(t *testing.T) {
	ctx := context.Background()
	g, brk, clk := newTestGate(t, gateConfig())

	brk.FailNext(5)
	for i := 0; i < 5; i++ {
		v := g.Submit(ctx, mkIntent("SBIN", types.SideBuy, i))
		assert.Equal(t, ReasonDispatchFailed, v.Reason)
	}

	// Five failures inside the window opened the breaker.
	v := g.Submit(ctx, mkIntent("SBIN", types.SideBuy, 10))
	assert.Equal(t, ReasonBreakerOpen, v.Reason)

	// Cooldown has not elapsed yet.
	clk.advance(29 * time.Second)
	v = g.Submit(ctx, mkIntent("SBIN", types.SideBuy, 11))
	assert.Equal(t, ReasonBreakerOpen, v.Reason)

	// Past the cooldown the next attempt goes through.
	clk.advance(2 * time.Second)
	v = g.Submit(ctx, mkIntent("SBIN", types.SideBuy, 12))
	assert.True(t, v.Dispatched)
}

func TestBreakerFailuresOutsideWindowDoNotOpen(t *testing.T) {
	ctx := context.Background()
	g, brk, clk := newTestGate(t, gateConfig())

	for i := 0; i < 4; i++ {
		brk.FailNext(1)
		v := g.Submit(ctx, mkIntent("LT", types.SideBuy, i))
		require.Equal(t, ReasonDispatchFailed, v.Reason)
	}
	// The rolling window forgets these four failures.
	clk.advance(61 * time.Second)
	brk.FailNext(1)
	v := g.Submit(ctx, mkIntent("LT", types.SideBuy, 10))
	require.Equal(t, ReasonDispatchFailed, v.Reason)

	v = g.Submit(ctx, mkIntent("LT", types.SideBuy, 11))
	assert.True(t, v.Dispatched, "breaker must not open on stale failures")
}

func TestDrainPendingWithOpenBreakerDoesNotInflateRejections(t *testing.T) {
	ctx := context.Background()
	g, _, clk := newTestGate(t, gateConfig())

	g.pending = append(g.pending, mkIntent("RELIANCE", types.SideBuy, 1))
	g.breaker.openUntil = clk.t.Add(30 * time.Second)

	before := testutil.ToFloat64(metrics.RejectionsTotal.WithLabelValues(ReasonBreakerOpen))
	for i := 0; i < 5; i++ {
		g.DrainPending(ctx)
	}
	after := testutil.ToFloat64(metrics.RejectionsTotal.WithLabelValues(ReasonBreakerOpen))
	assert.Equal(t, before, after, "flush ticks against an open breaker are not new rejections")
	assert.Equal(t, 1, g.PendingDepth(), "queued intent survives until the breaker closes")
}

func TestAckFlowUpdatesPositionsAndCallback(t *testing.T) {
	ctx := context.Background()
	cfg := gateConfig()
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	brk := sim.New()

	var fills []string
	g := New(cfg, brk, func(symbol string, side types.Side, qty int) {
		fills = append(fills, fmt.Sprintf("%s %s %d", symbol, side, qty))
	}, clk.now)

	intent := mkIntent("RELIANCE", types.SideBuy, 1)
	v := g.Submit(ctx, intent)
	require.True(t, v.Dispatched)
	drainAcks(g, brk)

	assert.Equal(t, 10, g.PositionQty("RELIANCE"))
	require.Len(t, fills, 1)
	assert.Equal(t, "RELIANCE BUY 10", fills[0])

	o, ok := g.OrderSnapshot(v.OrderID)
	require.True(t, ok)
	assert.Equal(t, OrderStateFilled, o.State)
	assert.Equal(t, 10, o.FilledQty)
}

func TestAckTimeoutExpiresAndCancels(t *testing.T) {
	ctx := context.Background()
	g, brk, clk := newTestGate(t, gateConfig())

	brk.SetSilent(true)
	v := g.Submit(ctx, mkIntent("WIPRO", types.SideBuy, 1))
	require.True(t, v.Dispatched)

	clk.advance(9 * time.Second)
	g.CheckTimeouts(ctx)
	assert.Empty(t, brk.Cancelled(), "timeout has not elapsed")

	clk.advance(2 * time.Second)
	g.CheckTimeouts(ctx)
	require.Equal(t, []string{v.OrderID}, brk.Cancelled())

	o, ok := g.OrderSnapshot(v.OrderID)
	require.True(t, ok)
	assert.Equal(t, OrderStateExpired, o.State)

	// A straggler fill after expiry is ignored; the state is terminal.
	g.OnAck(ctx, types.Ack{OrderID: v.OrderID, Status: types.AckFilled, FilledQty: 10, AvgPrice: 100})
	assert.Equal(t, 0, g.PositionQty("WIPRO"))
}

func TestRejectionDoesNotRetry(t *testing.T) {
	ctx := context.Background()
	g, brk, _ := newTestGate(t, gateConfig())

	brk.SetSilent(true)
	v := g.Submit(ctx, mkIntent("ITC", types.SideBuy, 1))
	require.True(t, v.Dispatched)

	g.OnAck(ctx, types.Ack{OrderID: v.OrderID, Status: types.AckRejected, Message: "margin"})
	o, ok := g.OrderSnapshot(v.OrderID)
	require.True(t, ok)
	assert.Equal(t, OrderStateRejected, o.State)
	assert.Equal(t, 0, g.PositionQty("ITC"))
}

func TestPartialFillsPreserveAverageEntry(t *testing.T) {
	ctx := context.Background()
	g, brk, _ := newTestGate(t, gateConfig())

	brk.SetSilent(true)
	intent := mkIntent("RELIANCE", types.SideBuy, 1)
	intent.Qty = 20
	v := g.Submit(ctx, intent)
	require.True(t, v.Dispatched)

	// 10 @ 100, then the closing lot at 110; the broker reports the
	// cumulative average 105 on the terminal ack.
	g.OnAck(ctx, types.Ack{OrderID: v.OrderID, Status: types.AckPartFilled, FilledQty: 10, AvgPrice: 100})
	g.OnAck(ctx, types.Ack{OrderID: v.OrderID, Status: types.AckFilled, FilledQty: 20, AvgPrice: 105})

	require.Equal(t, 20, g.PositionQty("RELIANCE"))
	assert.InDelta(t, 105.0, g.risk.positions["RELIANCE"].avg, 1e-9)
}

func TestSellFillRealizesPnL(t *testing.T) {
	ctx := context.Background()
	g, brk, _ := newTestGate(t, gateConfig())

	buy := mkIntent("RELIANCE", types.SideBuy, 1)
	buy.Qty = 20
	require.True(t, g.Submit(ctx, buy).Dispatched)
	drainAcks(g, brk)
	require.Equal(t, 20, g.PositionQty("RELIANCE"))

	sell := mkIntent("RELIANCE", types.SideSell, 2)
	sell.Qty = 20
	sell.PriceHint = 110
	require.True(t, g.Submit(ctx, sell).Dispatched)
	drainAcks(g, brk)

	assert.Equal(t, 0, g.PositionQty("RELIANCE"))
}
