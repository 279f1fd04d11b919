package types

import "time"

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Tick is a single normalized price update. Immutable once ingested.
type Tick struct {
	Symbol   string
	Ts       int64 // exchange timestamp, unix seconds
	Price    float64
	Volume   float64
	Seq      uint64
	Received time.Time // local arrival time, drives latency accounting
}

// Candle is an OHLCV aggregate over [WindowStart, WindowEnd).
type Candle struct {
	Symbol      string
	WindowStart int64
	WindowEnd   int64
	Open        float64
	High        float64
	Low         float64
	Close       float64
	Vol         float64
	TickCount   int
	Synthetic   bool      // gap forward-fill, zero volume
	ClosedAt    time.Time // arrival time of the event that closed the window
}

// OrderIntent is produced by the evaluator and consumed exactly once by the
// gatekeeper. Never mutated after creation.
type OrderIntent struct {
	ID           string
	Symbol       string
	Side         Side
	Qty          int
	PriceHint    float64
	Strategy     string
	WindowStart  int64 // originating candle
	TickReceived time.Time
}

type OrderReq struct {
	Symbol string
	Side   Side
	Qty    int
	Price  float64
	Tag    string
}

type OrderResp struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

type AckStatus string

const (
	AckAcked      AckStatus = "ACKED"
	AckPartFilled AckStatus = "PARTIAL"
	AckFilled     AckStatus = "FILLED"
	AckRejected   AckStatus = "REJECTED"
	AckCancelled  AckStatus = "CANCELLED"
)

// Ack is an asynchronous acknowledgement or fill from the broker.
type Ack struct {
	OrderID   string
	Status    AckStatus
	FilledQty int
	AvgPrice  float64
	Message   string
}
