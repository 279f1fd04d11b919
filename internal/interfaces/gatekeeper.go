package interfaces

import (
	"context"

	"tradealgo-live/internal/types"
)

// Gatekeeper is the sole path to the broker. Submit runs the full risk
// pipeline for one intent; Verdict records the outcome and, on rejection,
// the stage that short-circuited.
type Gatekeeper interface {
	Submit(ctx context.Context, intent types.OrderIntent) Verdict
	OnAck(ctx context.Context, ack types.Ack)
	UpdateMark(symbol string, price float64)
	CheckTimeouts(ctx context.Context)
	DrainPending(ctx context.Context)
	PendingDepth() int
	ResetSession(ctx context.Context)
}

type Verdict struct {
	Dispatched bool
	Queued     bool
	OrderID    string
	Reason     string
}
