package gatekeeper

import (
	"errors"
	"time"

	"tradealgo-live/internal/types"
)

var (
	ErrUnknownOrder      = errors.New("order not found")
	ErrInvalidTransition = errors.New("invalid order state transition")
)

// OrderState tracks the lifecycle of a dispatched order.
type OrderState uint8

const (
	OrderStateCreated OrderState = iota
	OrderStateSubmitted
	OrderStateAcked
	OrderStatePartFilled
	OrderStateFilled
	OrderStateRejected
	OrderStateCancelled
	OrderStateExpired
)

func (s OrderState) String() string {
	switch s {
	case OrderStateCreated:
		return "CREATED"
	case OrderStateSubmitted:
		return "SUBMITTED"
	case OrderStateAcked:
		return "ACKED"
	case OrderStatePartFilled:
		return "PARTIALLY_FILLED"
	case OrderStateFilled:
		return "FILLED"
	case OrderStateRejected:
		return "REJECTED"
	case OrderStateCancelled:
		return "CANCELLED"
	case OrderStateExpired:
		return "EXPIRED"
	default:
		return "UNKNOWN"
	}
}

func isTerminal(state OrderState) bool {
	switch state {
	case OrderStateFilled, OrderStateRejected, OrderStateCancelled, OrderStateExpired:
		return true
	default:
		return false
	}
}

// Order holds the gatekeeper's view of a dispatched order.
type Order struct {
	OrderID     string
	IntentID    string
	Strategy    string
	Symbol      string
	Side        types.Side
	Qty         int
	FilledQty   int
	AvgPrice    float64
	LimitPrice  float64
	State       OrderState
	SubmittedAt time.Time
}

// fillDelta is the incremental fill extracted from a cumulative ack.
type fillDelta struct {
	Symbol string
	Side   types.Side
	Qty    int
	Price  float64
}

// lifecycle applies broker acknowledgements to dispatched orders. The core
// never invents fill events; only acks drive transitions.
type lifecycle struct {
	orders map[string]*Order
	now    func() time.Time
}

func newLifecycle(now func() time.Time) *lifecycle {
	return &lifecycle{orders: make(map[string]*Order), now: now}
}

func (lc *lifecycle) submitted(orderID string, intent types.OrderIntent, limitPrice float64) *Order {
	o := &Order{
		OrderID:     orderID,
		IntentID:    intent.ID,
		Strategy:    intent.Strategy,
		Symbol:      intent.Symbol,
		Side:        intent.Side,
		Qty:         intent.Qty,
		LimitPrice:  limitPrice,
		State:       OrderStateSubmitted,
		SubmittedAt: lc.now(),
	}
	lc.orders[orderID] = o
	return o
}

func (lc *lifecycle) get(orderID string) (*Order, bool) {
	o, ok := lc.orders[orderID]
	return o, ok
}

// applyAck transitions an order from a broker acknowledgement and returns
// the incremental fill, if any.
func (lc *lifecycle) applyAck(ack types.Ack) (*Order, *fillDelta, error) {
	o, ok := lc.orders[ack.OrderID]
	if !ok {
		return nil, nil, ErrUnknownOrder
	}
	if isTerminal(o.State) {
		return o, nil, ErrInvalidTransition
	}

	var delta *fillDelta
	if ack.FilledQty > o.FilledQty {
		qty := ack.FilledQty - o.FilledQty
		// AvgPrice on the ack is cumulative; the new lot's own price is the
		// notional difference spread over the incremental quantity.
		price := ack.AvgPrice
		if o.FilledQty > 0 {
			price = (float64(ack.FilledQty)*ack.AvgPrice - float64(o.FilledQty)*o.AvgPrice) / float64(qty)
		}
		delta = &fillDelta{
			Symbol: o.Symbol,
			Side:   o.Side,
			Qty:    qty,
			Price:  price,
		}
		o.FilledQty = ack.FilledQty
		o.AvgPrice = ack.AvgPrice
	}

	switch ack.Status {
	case types.AckAcked:
		o.State = OrderStateAcked
	case types.AckPartFilled:
		o.State = OrderStatePartFilled
	case types.AckFilled:
		o.State = OrderStateFilled
	case types.AckRejected:
		o.State = OrderStateRejected
	case types.AckCancelled:
		o.State = OrderStateCancelled
	default:
		return o, delta, ErrInvalidTransition
	}
	return o, delta, nil
}

// expire scans for orders stuck in Submitted/Acked past the timeout, marks
// them Expired and returns them so the gatekeeper can issue cancels. The
// timeout, not an exception, is the mechanism for a non-responsive broker.
func (lc *lifecycle) expire(timeout time.Duration) []*Order {
	var expired []*Order
	deadline := lc.now().Add(-timeout)
	for _, o := range lc.orders {
		if isTerminal(o.State) {
			continue
		}
		if o.State == OrderStatePartFilled {
			// Partial fills keep the order working; only silent orders expire.
			continue
		}
		if o.SubmittedAt.Before(deadline) {
			o.State = OrderStateExpired
			expired = append(expired, o)
		}
	}
	return expired
}
