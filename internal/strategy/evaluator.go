package strategy

import (
	"context"
	"math"
	"sync"

	"github.com/google/uuid"

	"tradealgo-live/internal/logger"
	"tradealgo-live/internal/metrics"
	"tradealgo-live/internal/store"
	"tradealgo-live/internal/types"
)

// Evaluator runs the configured entry rules on each candle close. Decisions
// are a pure function of the candle history, the higher-timeframe trend and
// the fill-derived position view; replaying the same candle and fill
// sequence reproduces the same intents. Candles for one instrument must
// arrive in window order; the engine's worker sharding guarantees that.
type Evaluator struct {
	cfg        *store.Config
	precedence []string

	mu   sync.RWMutex
	inst map[string]*instrumentState

	posMu     sync.RWMutex
	positions map[string]int
}

// instrumentState is owned by the single worker its instrument hashes to.
type instrumentState struct {
	ring *candleRing
	htf  *htfState
}

func New(cfg *store.Config) *Evaluator {
	e := &Evaluator{
		cfg:        cfg,
		precedence: cfg.Strategy.Precedence,
		inst:       make(map[string]*instrumentState),
		positions:  make(map[string]int),
	}
	for _, symbol := range cfg.Universe {
		e.inst[symbol] = e.newInstrumentState()
	}
	return e
}

func (e *Evaluator) newInstrumentState() *instrumentState {
	return &instrumentState{
		ring: newCandleRing(e.cfg.Candle.HistorySize),
		htf:  newHTFState(int64(e.cfg.Strategy.HTFWindowSeconds), e.cfg.Strategy.EMAFast, e.cfg.Strategy.EMASlow),
	}
}

func (e *Evaluator) state(symbol string) *instrumentState {
	e.mu.RLock()
	st := e.inst[symbol]
	e.mu.RUnlock()
	if st != nil {
		return st
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if st = e.inst[symbol]; st == nil {
		st = e.newInstrumentState()
		e.inst[symbol] = st
	}
	return st
}

// OnCandleClose evaluates the configured rules in precedence order and
// returns at most one order intent.
func (e *Evaluator) OnCandleClose(ctx context.Context, c types.Candle) *types.OrderIntent {
	st := e.state(c.Symbol)
	st.ring.push(c)
	st.htf.update(c)

	closes, highs, lows, vols := st.ring.series()
	in := ruleInput{
		candle:        c,
		closes:        closes,
		highs:         highs,
		lows:          lows,
		vols:          vols,
		htfTrend:      st.htf.trend(),
		position:      e.position(c.Symbol),
		emaFast:       e.cfg.Strategy.EMAFast,
		emaSlow:       e.cfg.Strategy.EMASlow,
		rsiPeriod:     e.cfg.Strategy.RSIPeriod,
		rsiOversold:   e.cfg.Strategy.RSIOversold,
		rsiOverbought: e.cfg.Strategy.RSIOverbought,
	}

	for _, name := range e.precedence {
		r := rules[name]
		if r == nil {
			continue
		}
		sig := r(in)
		if sig == nil {
			continue
		}
		qty := e.sizeOrder(sig.side, c.Close, in.position)
		if qty <= 0 {
			logger.Debug(ctx, "Signal fired but sized to zero", "symbol", c.Symbol, "strategy", name, "price", c.Close)
			return nil
		}
		intent := &types.OrderIntent{
			ID:           uuid.NewString(),
			Symbol:       c.Symbol,
			Side:         sig.side,
			Qty:          qty,
			PriceHint:    c.Close,
			Strategy:     name,
			WindowStart:  c.WindowStart,
			TickReceived: c.ClosedAt,
		}
		metrics.IntentsTotal.WithLabelValues(c.Symbol, name).Inc()
		logger.Intent(ctx, c.Symbol, string(sig.side), name, qty, c.Close, "reason", sig.reason)
		return intent
	}
	return nil
}

// sizeOrder applies fixed-percentage sizing for entries and flattens the
// whole position for exits.
func (e *Evaluator) sizeOrder(side types.Side, price float64, position int) int {
	if side == types.SideSell {
		return position
	}
	if price <= 0 {
		return 0
	}
	budget := e.cfg.Risk.CapitalBase * e.cfg.Risk.PerTradeRiskPct / 100.0
	return int(math.Floor(budget / price))
}

// OnFill updates the evaluator's position view from confirmed fills.
func (e *Evaluator) OnFill(symbol string, side types.Side, qty int) {
	e.posMu.Lock()
	defer e.posMu.Unlock()
	if side == types.SideBuy {
		e.positions[symbol] += qty
	} else {
		e.positions[symbol] -= qty
		if e.positions[symbol] < 0 {
			e.positions[symbol] = 0
		}
	}
}

func (e *Evaluator) position(symbol string) int {
	e.posMu.RLock()
	defer e.posMu.RUnlock()
	return e.positions[symbol]
}
