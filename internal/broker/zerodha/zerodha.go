package zerodha

import (
	"context"
	"fmt"

	kiteconnect "github.com/zerodha/gokiteconnect/v4"
	kiteticker "github.com/zerodha/gokiteconnect/v4/ticker"

	"tradealgo-live/internal/interfaces"
	"tradealgo-live/internal/logger"
	"tradealgo-live/internal/types"
)

type Params struct {
	APIKey      string
	AccessToken string
	Exchange    string
	Product     string // MIS for intraday
}

// Broker submits bounded limit orders through Kite Connect and streams order
// updates back as acknowledgements over a dedicated ticker connection.
type Broker struct {
	p      Params
	kc     *kiteconnect.Client
	ticker *kiteticker.Ticker
	acks   chan types.Ack
}

var _ interfaces.Broker = (*Broker)(nil)

func New(p Params) *Broker {
	if p.Product == "" {
		p.Product = kiteconnect.ProductMIS
	}
	kc := kiteconnect.New(p.APIKey)
	kc.SetAccessToken(p.AccessToken)

	b := &Broker{
		p:    p,
		kc:   kc,
		acks: make(chan types.Ack, 256),
	}
	b.ticker = kiteticker.New(p.APIKey, p.AccessToken)
	b.ticker.OnOrderUpdate(b.onOrderUpdate)
	b.ticker.OnError(func(err error) {
		logger.ErrorWithErr(context.Background(), "Order update stream error", err)
	})
	go b.ticker.Serve()
	return b
}

func (b *Broker) PlaceOrder(ctx context.Context, req types.OrderReq) (types.OrderResp, error) {
	params := kiteconnect.OrderParams{
		Exchange:        b.p.Exchange,
		Tradingsymbol:   req.Symbol,
		Product:         b.p.Product,
		OrderType:       kiteconnect.OrderTypeLimit,
		TransactionType: string(req.Side),
		Quantity:        req.Qty,
		Price:           req.Price,
		Validity:        kiteconnect.ValidityDay,
		Tag:             req.Tag,
	}
	resp, err := b.kc.PlaceOrder(kiteconnect.VarietyRegular, params)
	if err != nil {
		return types.OrderResp{}, fmt.Errorf("kite place order: %w", err)
	}
	return types.OrderResp{OrderID: resp.OrderID, Status: "OPEN"}, nil
}

func (b *Broker) CancelOrder(ctx context.Context, orderID string) error {
	if _, err := b.kc.CancelOrder(kiteconnect.VarietyRegular, orderID, nil); err != nil {
		return fmt.Errorf("kite cancel order: %w", err)
	}
	return nil
}

func (b *Broker) Acks() <-chan types.Ack {
	return b.acks
}

func (b *Broker) Close(ctx context.Context) {
	if b.ticker != nil {
		b.ticker.Stop()
	}
}

// onOrderUpdate maps Kite order updates onto the ack contract. FilledQty is
// cumulative, matching what the lifecycle expects.
func (b *Broker) onOrderUpdate(order kiteconnect.Order) {
	ack := types.Ack{
		OrderID:   order.OrderID,
		FilledQty: int(order.FilledQuantity),
		AvgPrice:  order.AveragePrice,
		Message:   order.StatusMessage,
	}
	switch order.Status {
	case "COMPLETE":
		ack.Status = types.AckFilled
	case "REJECTED":
		ack.Status = types.AckRejected
	case "CANCELLED":
		ack.Status = types.AckCancelled
	case "OPEN":
		if ack.FilledQty > 0 {
			ack.Status = types.AckPartFilled
		} else {
			ack.Status = types.AckAcked
		}
	default:
		return
	}
	select {
	case b.acks <- ack:
	default:
		logger.Warn(context.Background(), "Ack buffer full, dropping order update", "order_id", ack.OrderID)
	}
}
