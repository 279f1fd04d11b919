package gatekeeper

import "tradealgo-live/internal/types"

// position is the gatekeeper's authoritative view of an open position,
// updated only on confirmed fills.
type position struct {
	qty int
	avg float64
}

// riskState is the single process-wide risk record. It is mutated only by
// the gatekeeper inside its serialization scope.
type riskState struct {
	capitalBase float64
	realizedPnL float64
	killSwitch  bool

	positions map[string]*position
	marks     map[string]float64
}

func newRiskState(capitalBase float64) *riskState {
	return &riskState{
		capitalBase: capitalBase,
		positions:   make(map[string]*position),
		marks:       make(map[string]float64),
	}
}

// applyFill folds a fill into positions and returns the realized P&L delta
// (non-zero only when a sell reduces an open long).
func (rs *riskState) applyFill(symbol string, side types.Side, qty int, price float64) float64 {
	rs.marks[symbol] = price
	p := rs.positions[symbol]
	if side == types.SideBuy {
		if p == nil {
			rs.positions[symbol] = &position{qty: qty, avg: price}
			return 0
		}
		total := p.avg*float64(p.qty) + price*float64(qty)
		p.qty += qty
		p.avg = total / float64(p.qty)
		return 0
	}
	if p == nil || p.qty <= 0 {
		return 0
	}
	if qty > p.qty {
		qty = p.qty
	}
	realized := (price - p.avg) * float64(qty)
	p.qty -= qty
	if p.qty == 0 {
		delete(rs.positions, symbol)
	}
	rs.realizedPnL += realized
	return realized
}

func (rs *riskState) setMark(symbol string, price float64) {
	rs.marks[symbol] = price
}

func (rs *riskState) unrealizedPnL() float64 {
	total := 0.0
	for symbol, p := range rs.positions {
		mark, ok := rs.marks[symbol]
		if !ok {
			continue
		}
		total += (mark - p.avg) * float64(p.qty)
	}
	return total
}

// lossRatio returns the current daily loss as a positive fraction of the
// capital base; profitable sessions return 0.
func (rs *riskState) lossRatio() float64 {
	pnl := rs.realizedPnL + rs.unrealizedPnL()
	if pnl >= 0 {
		return 0
	}
	return -pnl / rs.capitalBase
}

func (rs *riskState) positionQty(symbol string) int {
	if p := rs.positions[symbol]; p != nil {
		return p.qty
	}
	return 0
}

// resetSession clears the kill switch and the daily P&L. Open positions and
// marks survive a reset.
func (rs *riskState) resetSession() {
	rs.killSwitch = false
	rs.realizedPnL = 0
}
