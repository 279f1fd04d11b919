package gatekeeper

import (
	"context"
	"fmt"
	"math"
	"time"

	"tradealgo-live/internal/interfaces"
	"tradealgo-live/internal/logger"
	"tradealgo-live/internal/metrics"
	"tradealgo-live/internal/store"
	"tradealgo-live/internal/tradelog"
	"tradealgo-live/internal/types"
)

// Rejection reasons recorded when a pipeline stage short-circuits.
const (
	ReasonDuplicate      = "duplicate_intent"
	ReasonKillSwitch     = "kill_switch"
	ReasonBreakerOpen    = "breaker_open"
	ReasonRiskHalt       = "risk_halt"
	ReasonQueueFull      = "queue_full"
	ReasonDispatchFailed = "dispatch_failed"
)

// Gatekeeper is the only component permitted to talk to the broker. Every
// intent runs through the same staged pipeline: kill switch, circuit
// breaker, mark-to-market guard, rate limit, price conversion, dispatch.
//
// All methods must be called from a single goroutine; the engine serializes
// intents, acks, marks and timer ticks onto it. That one gate makes the kill
// switch and token bucket race-free without fine-grained locking.
type Gatekeeper struct {
	broker interfaces.Broker

	bucket  *tokenBucket
	breaker *circuitBreaker
	risk    *riskState
	orders  *lifecycle

	pending   []types.OrderIntent
	queueSize int
	seen      map[string]struct{}

	maxLossRatio float64 // fraction of capital base
	bufferPct    float64
	minTick      float64
	ackTimeout   time.Duration

	onFill func(symbol string, side types.Side, qty int)
	now    func() time.Time
}

var _ interfaces.Gatekeeper = (*Gatekeeper)(nil)

// New builds a gatekeeper. onFill is invoked for every confirmed fill so the
// evaluator's position view stays in sync; clock overrides time.Now in tests.
func New(cfg *store.Config, brk interfaces.Broker, onFill func(string, types.Side, int), clock func() time.Time) *Gatekeeper {
	if clock == nil {
		clock = time.Now
	}
	if onFill == nil {
		onFill = func(string, types.Side, int) {}
	}
	return &Gatekeeper{
		broker:       brk,
		bucket:       newTokenBucket(cfg.RateLimit.Capacity, cfg.RateLimit.RefillPerSec, clock),
		breaker:      newCircuitBreaker(cfg.Breaker.FailureThreshold, time.Duration(cfg.Breaker.WindowSeconds)*time.Second, time.Duration(cfg.Breaker.CooldownSeconds)*time.Second, clock),
		risk:         newRiskState(cfg.Risk.CapitalBase),
		orders:       newLifecycle(clock),
		queueSize:    cfg.RateLimit.QueueSize,
		seen:         make(map[string]struct{}),
		maxLossRatio: cfg.Risk.MaxDailyLossPct / 100.0,
		bufferPct:    cfg.Risk.MarketableBufferPct / 100.0,
		minTick:      cfg.Risk.MinTick,
		ackTimeout:   time.Duration(cfg.Orders.AckTimeoutSeconds) * time.Second,
		onFill:       onFill,
		now:          clock,
	}
}

// Submit runs the risk pipeline for one intent.
func (g *Gatekeeper) Submit(ctx context.Context, intent types.OrderIntent) interfaces.Verdict {
	key := intentKey(intent)
	if _, dup := g.seen[key]; dup {
		metrics.RejectionsTotal.WithLabelValues(ReasonDuplicate).Inc()
		logger.Debug(ctx, "Discarded duplicate intent", "symbol", intent.Symbol, "strategy", intent.Strategy, "window_start", intent.WindowStart)
		return interfaces.Verdict{Reason: ReasonDuplicate}
	}
	g.seen[key] = struct{}{}

	if v, rejected := g.gate(ctx, intent); rejected {
		metrics.RejectionsTotal.WithLabelValues(v.Reason).Inc()
		logger.Risk(ctx, intent.Symbol, "INTENT_REJECTED", "reason", v.Reason, "strategy", intent.Strategy)
		return v
	}

	// Rate limit. Queued intents go out strictly before new ones, so a new
	// intent joins the queue whenever it is non-empty.
	if len(g.pending) > 0 || !g.bucket.take() {
		if len(g.pending) >= g.queueSize {
			metrics.RejectionsTotal.WithLabelValues(ReasonQueueFull).Inc()
			logger.Risk(ctx, intent.Symbol, "INTENT_QUEUE_FULL", "strategy", intent.Strategy, "depth", len(g.pending))
			return interfaces.Verdict{Reason: ReasonQueueFull}
		}
		g.pending = append(g.pending, intent)
		metrics.PendingDepth.Set(float64(len(g.pending)))
		logger.Debug(ctx, "Intent queued for rate limit", "symbol", intent.Symbol, "depth", len(g.pending))
		return interfaces.Verdict{Queued: true}
	}

	return g.dispatch(ctx, intent)
}

// gate runs the stages that precede rate limiting: kill switch, circuit
// breaker and the mark-to-market guard. It records no rejection counters;
// Submit owns those, so a drain retry of a queued head is never re-counted.
func (g *Gatekeeper) gate(ctx context.Context, intent types.OrderIntent) (interfaces.Verdict, bool) {
	if g.risk.killSwitch {
		return interfaces.Verdict{Reason: ReasonKillSwitch}, true
	}

	ok, reopened := g.breaker.allow()
	if !ok {
		return interfaces.Verdict{Reason: ReasonBreakerOpen}, true
	}
	if reopened {
		logger.Info(ctx, "Circuit breaker cooldown elapsed, resuming dispatch", "symbol", intent.Symbol)
	}

	if ratio := g.risk.lossRatio(); ratio >= g.maxLossRatio {
		g.risk.killSwitch = true
		logger.Risk(ctx, intent.Symbol, "KILL_SWITCH_ENGAGED",
			"loss_ratio", ratio,
			"threshold", g.maxLossRatio,
			"realized_pnl", g.risk.realizedPnL,
			"unrealized_pnl", g.risk.unrealizedPnL(),
		)
		return interfaces.Verdict{Reason: ReasonRiskHalt}, true
	}
	return interfaces.Verdict{}, false
}

// dispatch converts the intent to a bounded limit order and sends it.
func (g *Gatekeeper) dispatch(ctx context.Context, intent types.OrderIntent) interfaces.Verdict {
	price := g.marketableLimit(intent.Side, intent.PriceHint)
	resp, err := g.broker.PlaceOrder(ctx, types.OrderReq{
		Symbol: intent.Symbol,
		Side:   intent.Side,
		Qty:    intent.Qty,
		Price:  price,
		Tag:    intent.Strategy,
	})
	if err != nil {
		metrics.RejectionsTotal.WithLabelValues(ReasonDispatchFailed).Inc()
		logger.ErrorWithErr(ctx, "Order dispatch failed", err, "symbol", intent.Symbol, "qty", intent.Qty)
		if g.breaker.recordFailure() {
			logger.Risk(ctx, intent.Symbol, "BREAKER_OPENED", "open_until", g.breaker.openUntil)
		}
		return interfaces.Verdict{Reason: ReasonDispatchFailed}
	}

	g.breaker.recordSuccess()
	g.orders.submitted(resp.OrderID, intent, price)

	metrics.OrdersTotal.WithLabelValues(intent.Symbol, string(intent.Side)).Inc()
	if !intent.TickReceived.IsZero() {
		metrics.DispatchLatency.Observe(g.now().Sub(intent.TickReceived).Seconds())
	}
	logger.Dispatch(ctx, intent.Symbol, string(intent.Side), intent.Qty, price, resp.OrderID, "strategy", intent.Strategy)
	_ = tradelog.Append(tradelog.Entry{
		Symbol:   intent.Symbol,
		Side:     string(intent.Side),
		Qty:      intent.Qty,
		Price:    price,
		OrderID:  resp.OrderID,
		Strategy: intent.Strategy,
		Event:    "DISPATCH",
	})
	return interfaces.Verdict{Dispatched: true, OrderID: resp.OrderID}
}

// DrainPending retries queued intents as tokens become available, preserving
// FIFO order. Called from the engine's flush tick.
func (g *Gatekeeper) DrainPending(ctx context.Context) {
	for len(g.pending) > 0 {
		head := g.pending[0]
		if v, rejected := g.gate(ctx, head); rejected {
			if v.Reason == ReasonKillSwitch || v.Reason == ReasonRiskHalt {
				// Session is halted; nothing queued may ever dispatch.
				g.pending = nil
				metrics.PendingDepth.Set(0)
			}
			return
		}
		if !g.bucket.take() {
			return
		}
		g.pending = g.pending[1:]
		metrics.PendingDepth.Set(float64(len(g.pending)))
		g.dispatch(ctx, head)
	}
}

// OnAck applies a broker acknowledgement or fill to the order lifecycle and
// the risk state.
func (g *Gatekeeper) OnAck(ctx context.Context, ack types.Ack) {
	o, delta, err := g.orders.applyAck(ack)
	if err != nil {
		logger.Debug(ctx, "Ignored acknowledgement", "order_id", ack.OrderID, "status", string(ack.Status), "error", err)
		return
	}

	if delta != nil {
		realized := g.risk.applyFill(delta.Symbol, delta.Side, delta.Qty, delta.Price)
		g.onFill(delta.Symbol, delta.Side, delta.Qty)
		logger.Info(ctx, "Fill applied",
			"symbol", delta.Symbol,
			"side", string(delta.Side),
			"qty", delta.Qty,
			"price", delta.Price,
			"order_id", ack.OrderID,
			"state", o.State.String(),
			"realized_pnl", realized,
			"session_realized_pnl", g.risk.realizedPnL,
		)
		_ = tradelog.Append(tradelog.Entry{
			Symbol:   delta.Symbol,
			Side:     string(delta.Side),
			Qty:      delta.Qty,
			Price:    delta.Price,
			OrderID:  ack.OrderID,
			Strategy: o.Strategy,
			Event:    "FILL",
		})
	}

	if ack.Status == types.AckRejected {
		// Recorded, never retried automatically; resubmission is a human or
		// strategy decision.
		logger.Risk(ctx, o.Symbol, "ORDER_REJECTED_BY_BROKER", "order_id", ack.OrderID, "message", ack.Message)
	}
}

// CheckTimeouts expires silent orders and actively cancels them.
func (g *Gatekeeper) CheckTimeouts(ctx context.Context) {
	for _, o := range g.orders.expire(g.ackTimeout) {
		logger.Warn(ctx, "Order expired without acknowledgement, cancelling",
			"order_id", o.OrderID,
			"symbol", o.Symbol,
			"submitted_at", o.SubmittedAt,
			"timeout", g.ackTimeout,
		)
		if err := g.broker.CancelOrder(ctx, o.OrderID); err != nil {
			logger.ErrorWithErr(ctx, "Cancel of expired order failed", err, "order_id", o.OrderID)
		}
	}
}

// UpdateMark records the latest price used for unrealized P&L.
func (g *Gatekeeper) UpdateMark(symbol string, price float64) {
	g.risk.setMark(symbol, price)
}

// ResetSession is the explicit external reset of a risk halt. The kill
// switch never auto-clears.
func (g *Gatekeeper) ResetSession(ctx context.Context) {
	g.risk.resetSession()
	g.breaker.openUntil = time.Time{}
	g.breaker.failures = nil
	logger.Warn(ctx, "Risk session reset", "event", "SESSION_RESET")
}

// PendingDepth returns the number of queued intents awaiting tokens.
func (g *Gatekeeper) PendingDepth() int {
	return len(g.pending)
}

// KillSwitchEngaged reports whether the session is halted.
func (g *Gatekeeper) KillSwitchEngaged() bool {
	return g.risk.killSwitch
}

// PositionQty returns the confirmed position for an instrument.
func (g *Gatekeeper) PositionQty(symbol string) int {
	return g.risk.positionQty(symbol)
}

// OrderSnapshot returns the lifecycle view of a dispatched order.
func (g *Gatekeeper) OrderSnapshot(orderID string) (Order, bool) {
	o, ok := g.orders.get(orderID)
	if !ok {
		return Order{}, false
	}
	return *o, true
}

// marketableLimit converts a market-style intent into a bounded limit price:
// buys pay up at most the buffer, sells give up at most the buffer.
func (g *Gatekeeper) marketableLimit(side types.Side, hint float64) float64 {
	var price float64
	if side == types.SideBuy {
		price = hint * (1 + g.bufferPct)
	} else {
		price = hint * (1 - g.bufferPct)
	}
	return roundToTick(price, g.minTick)
}

func roundToTick(x, tick float64) float64 {
	if tick <= 0 {
		return x
	}
	return math.Round(x/tick) * tick
}

func intentKey(intent types.OrderIntent) string {
	return fmt.Sprintf("%s|%s|%d", intent.Strategy, intent.Symbol, intent.WindowStart)
}
