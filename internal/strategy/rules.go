package strategy

import (
	"math"

	"tradealgo-live/internal/ta"
	"tradealgo-live/internal/types"
)

// Trend is the higher-timeframe context signal.
type Trend int

const (
	TrendFlat Trend = 0
	TrendUp   Trend = 1
	TrendDown Trend = -1
)

// ruleInput is everything a rule may look at. Rules are pure functions of
// this value; two identical inputs always produce the same signal.
type ruleInput struct {
	candle   types.Candle
	closes   []float64
	highs    []float64
	lows     []float64
	vols     []float64
	htfTrend Trend
	position int

	emaFast       int
	emaSlow       int
	rsiPeriod     int
	rsiOversold   float64
	rsiOverbought float64
}

type signal struct {
	side   types.Side
	reason string
}

type rule func(in ruleInput) *signal

var rules = map[string]rule{
	"ema_alignment":  emaAlignment,
	"vwap_trend":     vwapTrend,
	"mean_reversion": meanReversion,
}

// emaAlignment buys when the fast EMA is above the slow EMA with price above
// both, and flattens an open long when the alignment inverts.
func emaAlignment(in ruleInput) *signal {
	fast := ta.EMA(in.closes, in.emaFast)
	slow := ta.EMA(in.closes, in.emaSlow)
	if math.IsNaN(fast) || math.IsNaN(slow) {
		return nil
	}
	px := in.candle.Close
	if in.position == 0 && fast > slow && px > fast {
		return &signal{side: types.SideBuy, reason: "ema fast above slow, price above fast"}
	}
	if in.position > 0 && fast < slow {
		return &signal{side: types.SideSell, reason: "ema alignment inverted"}
	}
	return nil
}

// vwapTrend trades pullbacks around the session VWAP in the direction of the
// higher-timeframe trend.
func vwapTrend(in ruleInput) *signal {
	vwap := ta.VWAP(in.highs, in.lows, in.closes, in.vols)
	if math.IsNaN(vwap) {
		return nil
	}
	px := in.candle.Close
	if in.position == 0 && px > vwap && in.htfTrend == TrendUp {
		return &signal{side: types.SideBuy, reason: "price above vwap with trend up"}
	}
	if in.position > 0 && px < vwap {
		return &signal{side: types.SideSell, reason: "price lost vwap"}
	}
	return nil
}

// meanReversion buys oversold RSI readings unless the higher-timeframe trend
// is down, and exits on overbought readings.
func meanReversion(in ruleInput) *signal {
	rsi := ta.RSI(in.closes, in.rsiPeriod)
	if math.IsNaN(rsi) {
		return nil
	}
	if in.position == 0 && rsi < in.rsiOversold && in.htfTrend != TrendDown {
		return &signal{side: types.SideBuy, reason: "rsi oversold"}
	}
	if in.position > 0 && rsi > in.rsiOverbought {
		return &signal{side: types.SideSell, reason: "rsi overbought"}
	}
	return nil
}
