package interfaces

import (
	"context"

	"tradealgo-live/internal/types"
)

// Broker is the outbound order collaborator. Acks delivers asynchronous
// acknowledgements and fills for orders placed through PlaceOrder.
type Broker interface {
	PlaceOrder(ctx context.Context, req types.OrderReq) (types.OrderResp, error)
	CancelOrder(ctx context.Context, orderID string) error
	Acks() <-chan types.Ack
	Close(ctx context.Context)
}
