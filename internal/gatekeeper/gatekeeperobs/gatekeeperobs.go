package gatekeeperobs

import (
	"context"
	"time"

	"tradealgo-live/internal/interfaces"
	"tradealgo-live/internal/logger"
	"tradealgo-live/internal/trace"
	"tradealgo-live/internal/types"
)

type observableGatekeeper struct {
	gate interfaces.Gatekeeper
}

var _ interfaces.Gatekeeper = (*observableGatekeeper)(nil)

func Wrap(gate interfaces.Gatekeeper) interfaces.Gatekeeper {
	return &observableGatekeeper{
		gate: gate,
	}
}

func (og *observableGatekeeper) Submit(ctx context.Context, intent types.OrderIntent) interfaces.Verdict {
	ctx, span := trace.StartSpan(ctx, "gatekeeper.Submit")
	defer span.End()

	start := time.Now()

	verdict := og.gate.Submit(ctx, intent)

	if verdict.Dispatched {
		logger.InfoSkip(ctx, 1, "Intent dispatched",
			"symbol", intent.Symbol,
			"side", intent.Side,
			"qty", intent.Qty,
			"strategy", intent.Strategy,
			"order_id", verdict.OrderID,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	} else if verdict.Queued {
		logger.InfoSkip(ctx, 1, "Intent queued",
			"symbol", intent.Symbol,
			"strategy", intent.Strategy,
		)
	} else {
		logger.WarnSkip(ctx, 1, "Intent rejected",
			"symbol", intent.Symbol,
			"strategy", intent.Strategy,
			"reason", verdict.Reason,
		)
	}

	return verdict
}

func (og *observableGatekeeper) OnAck(ctx context.Context, ack types.Ack) {
	ctx, span := trace.StartSpan(ctx, "gatekeeper.OnAck")
	defer span.End()

	og.gate.OnAck(ctx, ack)
}

func (og *observableGatekeeper) UpdateMark(symbol string, price float64) {
	og.gate.UpdateMark(symbol, price)
}

func (og *observableGatekeeper) CheckTimeouts(ctx context.Context) {
	og.gate.CheckTimeouts(ctx)
}

func (og *observableGatekeeper) DrainPending(ctx context.Context) {
	og.gate.DrainPending(ctx)
}

func (og *observableGatekeeper) PendingDepth() int {
	return og.gate.PendingDepth()
}

func (og *observableGatekeeper) ResetSession(ctx context.Context) {
	ctx, span := trace.StartSpan(ctx, "gatekeeper.ResetSession")
	defer span.End()

	logger.WarnSkip(ctx, 1, "Session reset requested")
	og.gate.ResetSession(ctx)
}
