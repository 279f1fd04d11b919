package strategy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradealgo-live/internal/store"
	"tradealgo-live/internal/types"
)

func testConfig() *store.Config {
	cfg := &store.Config{}
	cfg.Mode = "DRY_RUN"
	cfg.Universe = []string{"RELIANCE"}
	cfg.Candle.WindowSeconds = 60
	cfg.Candle.HistorySize = 200
	cfg.Strategy.Precedence = []string{"ema_alignment", "vwap_trend", "mean_reversion"}
	cfg.Strategy.EMAFast = 3
	cfg.Strategy.EMASlow = 5
	cfg.Strategy.RSIPeriod = 14
	cfg.Strategy.RSIOversold = 30
	cfg.Strategy.RSIOverbought = 70
	cfg.Strategy.HTFWindowSeconds = 300
	cfg.Strategy.Workers = 1
	cfg.Risk.CapitalBase = 100000
	cfg.Risk.PerTradeRiskPct = 2.0
	return cfg
}

func mkCandle(symbol string, ws int64, close float64) types.Candle {
	return types.Candle{
		Symbol:      symbol,
		WindowStart: ws,
		WindowEnd:   ws + 60,
		Open:        close,
		High:        close + 0.5,
		Low:         close - 0.5,
		Close:       close,
		Vol:         1000,
		TickCount:   10,
		ClosedAt:    time.Unix(ws+60, 0),
	}
}

// feedRising pushes a strictly rising close series long enough for the fast
// EMA to pull above the slow one.
func feedRising(e *Evaluator, symbol string, n int) *types.OrderIntent {
	ctx := context.Background()
	var intent *types.OrderIntent
	for i := 0; i < n; i++ {
		c := mkCandle(symbol, int64(i*60), 100+float64(i))
		if got := e.OnCandleClose(ctx, c); got != nil && intent == nil {
			intent = got
		}
	}
	return intent
}

func TestEvaluatorEmaAlignmentBuy(t *testing.T) {
	e := New(testConfig())
	intent := feedRising(e, "RELIANCE", 10)
	require.NotNil(t, intent)
	assert.Equal(t, types.SideBuy, intent.Side)
	assert.Equal(t, "ema_alignment", intent.Strategy)
	assert.Equal(t, "RELIANCE", intent.Symbol)
	assert.Positive(t, intent.Qty)
	assert.NotEmpty(t, intent.ID)
}

func TestEvaluatorDeterministicReplay(t *testing.T) {
	run := func() []types.OrderIntent {
		e := New(testConfig())
		ctx := context.Background()
		closes := []float64{100, 101, 102, 103, 104, 105, 104, 103, 102, 101, 100, 99}
		var out []types.OrderIntent
		for i, px := range closes {
			c := mkCandle("RELIANCE", int64(i*60), px)
			if intent := e.OnCandleClose(ctx, c); intent != nil {
				e.OnFill(intent.Symbol, intent.Side, intent.Qty)
				out = append(out, *intent)
			}
		}
		return out
	}

	a, b := run(), run()
	require.Equal(t, len(a), len(b))
	for i := range a {
		// Intent IDs are random; everything decision-relevant must replay.
		assert.Equal(t, a[i].Symbol, b[i].Symbol)
		assert.Equal(t, a[i].Side, b[i].Side)
		assert.Equal(t, a[i].Qty, b[i].Qty)
		assert.Equal(t, a[i].Strategy, b[i].Strategy)
		assert.Equal(t, a[i].WindowStart, b[i].WindowStart)
	}
}

func TestEvaluatorAtMostOneIntentPerCandle(t *testing.T) {
	e := New(testConfig())
	ctx := context.Background()
	fired := 0
	for i := 0; i < 50; i++ {
		c := mkCandle("RELIANCE", int64(i*60), 100+float64(i))
		intent := e.OnCandleClose(ctx, c)
		if intent != nil {
			fired++
			// Position stays flat, so on a rising series both ema_alignment
			// and vwap_trend can be eligible; precedence must pick the first.
			assert.Equal(t, "ema_alignment", intent.Strategy)
		}
	}
	assert.Positive(t, fired)
}

func TestEvaluatorSizing(t *testing.T) {
	e := New(testConfig())
	// 2% of 100000 = 2000 budget; at price 104+ the entry rounds down.
	intent := feedRising(e, "RELIANCE", 10)
	require.NotNil(t, intent)
	expected := int(2000.0 / intent.PriceHint)
	assert.Equal(t, expected, intent.Qty)
}

func TestEvaluatorExitFlattensPosition(t *testing.T) {
	e := New(testConfig())
	ctx := context.Background()

	intent := feedRising(e, "RELIANCE", 10)
	require.NotNil(t, intent)
	require.Equal(t, types.SideBuy, intent.Side)
	e.OnFill("RELIANCE", types.SideBuy, intent.Qty)

	// Collapse the series so the fast EMA drops below the slow one.
	var exit *types.OrderIntent
	for i := 10; i < 25 && exit == nil; i++ {
		c := mkCandle("RELIANCE", int64(i*60), 110-float64(i-9)*3)
		exit = e.OnCandleClose(ctx, c)
	}
	require.NotNil(t, exit)
	assert.Equal(t, types.SideSell, exit.Side)
	assert.Equal(t, intent.Qty, exit.Qty, "exit must flatten the whole position")
}

func TestEvaluatorSellWithoutPositionSizesToZero(t *testing.T) {
	e := New(testConfig())
	ctx := context.Background()

	// Rising then collapsing without ever filling the buy: the exit signal
	// sizes to zero and no intent is emitted.
	for i := 0; i < 10; i++ {
		e.OnCandleClose(ctx, mkCandle("RELIANCE", int64(i*60), 100+float64(i)))
	}
	for i := 10; i < 25; i++ {
		c := mkCandle("RELIANCE", int64(i*60), 110-float64(i-9)*3)
		intent := e.OnCandleClose(ctx, c)
		if intent != nil {
			assert.Equal(t, types.SideBuy, intent.Side, "no sell may fire without a position")
		}
	}
}

func TestEvaluatorPositionView(t *testing.T) {
	e := New(testConfig())
	e.OnFill("RELIANCE", types.SideBuy, 10)
	assert.Equal(t, 10, e.position("RELIANCE"))
	e.OnFill("RELIANCE", types.SideSell, 4)
	assert.Equal(t, 6, e.position("RELIANCE"))
	e.OnFill("RELIANCE", types.SideSell, 100)
	assert.Equal(t, 0, e.position("RELIANCE"), "position view clamps at flat")
}

func TestEvaluatorUnknownSymbolLazyInit(t *testing.T) {
	e := New(testConfig())
	c := mkCandle("TCS", 0, 50)
	assert.NotPanics(t, func() { e.OnCandleClose(context.Background(), c) })
}
