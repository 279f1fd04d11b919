package strategy

import (
	"tradealgo-live/internal/ta"
	"tradealgo-live/internal/types"
)

// candleRing is a bounded rolling history of closed candles, oldest first.
type candleRing struct {
	candles []types.Candle
	maxSize int
}

func newCandleRing(maxSize int) *candleRing {
	return &candleRing{
		candles: make([]types.Candle, 0, maxSize),
		maxSize: maxSize,
	}
}

func (r *candleRing) push(c types.Candle) {
	r.candles = append(r.candles, c)
	if len(r.candles) > r.maxSize {
		r.candles = r.candles[1:]
	}
}

func (r *candleRing) len() int { return len(r.candles) }

func (r *candleRing) series() (closes, highs, lows, vols []float64) {
	n := len(r.candles)
	closes = make([]float64, n)
	highs = make([]float64, n)
	lows = make([]float64, n)
	vols = make([]float64, n)
	for i, c := range r.candles {
		closes[i] = c.Close
		highs[i] = c.High
		lows[i] = c.Low
		vols[i] = c.Vol
	}
	return
}

// htfState folds base-timeframe closes into coarser candles and derives a
// trend signal from EMA alignment on the coarser closes.
type htfState struct {
	window  int64
	emaFast int
	emaSlow int

	curStart int64
	curClose float64
	haveCur  bool
	closes   []float64
}

func newHTFState(windowSeconds int64, emaFast, emaSlow int) *htfState {
	return &htfState{window: windowSeconds, emaFast: emaFast, emaSlow: emaSlow}
}

func (h *htfState) update(c types.Candle) {
	start := c.WindowStart - c.WindowStart%h.window
	if h.haveCur && start != h.curStart {
		h.closes = append(h.closes, h.curClose)
		if len(h.closes) > h.emaSlow*4 {
			h.closes = h.closes[1:]
		}
		h.haveCur = false
	}
	if !h.haveCur {
		h.curStart = start
		h.haveCur = true
	}
	h.curClose = c.Close
}

func (h *htfState) trend() Trend {
	if len(h.closes) < h.emaSlow {
		return TrendFlat
	}
	fast := ta.EMA(h.closes, h.emaFast)
	slow := ta.EMA(h.closes, h.emaSlow)
	switch {
	case fast > slow:
		return TrendUp
	case fast < slow:
		return TrendDown
	default:
		return TrendFlat
	}
}
