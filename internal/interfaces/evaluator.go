package interfaces

import (
	"context"

	"tradealgo-live/internal/types"
)

// Evaluator turns a closed candle into at most one order intent per
// instrument. OnFill keeps the evaluator's position view in sync so exit
// rules can fire.
type Evaluator interface {
	OnCandleClose(ctx context.Context, c types.Candle) *types.OrderIntent
	OnFill(symbol string, side types.Side, qty int)
}
