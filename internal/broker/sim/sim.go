package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"tradealgo-live/internal/interfaces"
	"tradealgo-live/internal/types"
)

var ErrTransport = errors.New("simulated transport failure")

// Broker is a deterministic in-process broker used in DRY_RUN mode and in
// tests. Orders fill immediately at their limit price unless the broker is
// configured to fail or stay silent.
type Broker struct {
	mu       sync.Mutex
	seq      int
	acks     chan types.Ack
	failures int  // PlaceOrder calls that fail before succeeding again
	silent   bool // accept orders but never acknowledge them
	cancels  []string
}

var _ interfaces.Broker = (*Broker)(nil)

func New() *Broker {
	return &Broker{acks: make(chan types.Ack, 256)}
}

// FailNext makes the next n PlaceOrder calls return a transport error.
func (b *Broker) FailNext(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = n
}

// SetSilent stops the broker from acknowledging accepted orders.
func (b *Broker) SetSilent(silent bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.silent = silent
}

// Cancelled returns the order IDs cancelled so far.
func (b *Broker) Cancelled() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.cancels))
	copy(out, b.cancels)
	return out
}

func (b *Broker) PlaceOrder(ctx context.Context, req types.OrderReq) (types.OrderResp, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failures > 0 {
		b.failures--
		return types.OrderResp{}, ErrTransport
	}
	b.seq++
	id := fmt.Sprintf("SIM-%06d", b.seq)
	if !b.silent {
		b.push(types.Ack{OrderID: id, Status: types.AckAcked})
		b.push(types.Ack{OrderID: id, Status: types.AckFilled, FilledQty: req.Qty, AvgPrice: req.Price})
	}
	return types.OrderResp{OrderID: id, Status: "OPEN"}, nil
}

func (b *Broker) CancelOrder(ctx context.Context, orderID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cancels = append(b.cancels, orderID)
	return nil
}

func (b *Broker) Acks() <-chan types.Ack {
	return b.acks
}

func (b *Broker) Close(ctx context.Context) {}

// push drops acknowledgements when nobody is draining; the sim buffer is
// generous and tests always drain.
func (b *Broker) push(ack types.Ack) {
	select {
	case b.acks <- ack:
	default:
	}
}
