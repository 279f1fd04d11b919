package gatekeeper

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"tradealgo-live/internal/types"
)

func TestRiskStateAveragePrice(t *testing.T) {
	rs := newRiskState(100000)

	rs.applyFill("RELIANCE", types.SideBuy, 10, 100)
	rs.applyFill("RELIANCE", types.SideBuy, 10, 110)
	assert.Equal(t, 20, rs.positionQty("RELIANCE"))
	assert.InDelta(t, 105, rs.positions["RELIANCE"].avg, 1e-9)
}

func TestRiskStateRealizedOnSell(t *testing.T) {
	rs := newRiskState(100000)

	rs.applyFill("RELIANCE", types.SideBuy, 10, 100)
	realized := rs.applyFill("RELIANCE", types.SideSell, 4, 110)
	assert.InDelta(t, 40, realized, 1e-9)
	assert.InDelta(t, 40, rs.realizedPnL, 1e-9)
	assert.Equal(t, 6, rs.positionQty("RELIANCE"))

	// Over-sell clamps to the open quantity.
	realized = rs.applyFill("RELIANCE", types.SideSell, 100, 90)
	assert.InDelta(t, -60, realized, 1e-9)
	assert.Equal(t, 0, rs.positionQty("RELIANCE"))
}

func TestRiskStateSellWithNoPosition(t *testing.T) {
	rs := newRiskState(100000)
	assert.Zero(t, rs.applyFill("TCS", types.SideSell, 10, 50))
	assert.Zero(t, rs.realizedPnL)
}

func TestRiskStateLossRatioCombinesRealizedAndUnrealized(t *testing.T) {
	rs := newRiskState(100000)

	rs.applyFill("A", types.SideBuy, 10, 100)
	rs.applyFill("A", types.SideSell, 10, 50) // realized -500
	rs.applyFill("B", types.SideBuy, 100, 100)
	rs.setMark("B", 85) // unrealized -1500

	assert.InDelta(t, 0.02, rs.lossRatio(), 1e-9)
}

func TestRiskStateLossRatioZeroWhenProfitable(t *testing.T) {
	rs := newRiskState(100000)
	rs.applyFill("A", types.SideBuy, 10, 100)
	rs.setMark("A", 150)
	assert.Zero(t, rs.lossRatio())
}

func TestRiskStateUnmarkedPositionIgnored(t *testing.T) {
	rs := newRiskState(100000)
	rs.positions["A"] = &position{qty: 10, avg: 100}
	assert.Zero(t, rs.unrealizedPnL(), "no mark means no contribution")
}

func TestRiskStateResetKeepsPositions(t *testing.T) {
	rs := newRiskState(100000)
	rs.applyFill("A", types.SideBuy, 10, 100)
	rs.applyFill("A", types.SideSell, 10, 50)
	rs.killSwitch = true

	rs.resetSession()
	assert.False(t, rs.killSwitch)
	assert.Zero(t, rs.realizedPnL)
	assert.Equal(t, 0, rs.positionQty("A"))

	rs.applyFill("B", types.SideBuy, 5, 10)
	rs.resetSession()
	assert.Equal(t, 5, rs.positionQty("B"), "open positions survive a session reset")
}
