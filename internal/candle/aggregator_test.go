package candle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradealgo-live/internal/types"
)

func tick(symbol string, ts int64, seq uint64, price, vol float64) types.Tick {
	return types.Tick{Symbol: symbol, Ts: ts, Seq: seq, Price: price, Volume: vol, Received: time.Unix(ts, 0)}
}

func TestAggregatorOHLC(t *testing.T) {
	ctx := context.Background()
	a := NewAggregator(60, 5, 12)

	base := int64(600)
	prices := []float64{100, 101, 99, 102}
	for i, p := range prices {
		out := a.Ingest(ctx, tick("RELIANCE", base+int64(i*10), uint64(i+1), p, 10))
		assert.Empty(t, out, "no candle may close inside the window")
	}

	// First tick of the next window closes the previous one.
	out := a.Ingest(ctx, tick("RELIANCE", base+60, 5, 103, 10))
	require.Len(t, out, 1)
	c := out[0]
	assert.Equal(t, "RELIANCE", c.Symbol)
	assert.Equal(t, int64(600), c.WindowStart)
	assert.Equal(t, int64(660), c.WindowEnd)
	assert.Equal(t, 100.0, c.Open)
	assert.Equal(t, 102.0, c.High)
	assert.Equal(t, 99.0, c.Low)
	assert.Equal(t, 102.0, c.Close)
	assert.Equal(t, 40.0, c.Vol)
	assert.Equal(t, 4, c.TickCount)
	assert.False(t, c.Synthetic)
}

func TestAggregatorFirstTickEmitsNothing(t *testing.T) {
	a := NewAggregator(60, 5, 12)
	out := a.Ingest(context.Background(), tick("TCS", 615, 1, 50, 1))
	assert.Empty(t, out)
}

func TestAggregatorDropsOutOfOrderAndDuplicates(t *testing.T) {
	ctx := context.Background()
	a := NewAggregator(60, 5, 12)

	require.Empty(t, a.Ingest(ctx, tick("INFY", 100, 5, 10, 1)))
	assert.Empty(t, a.Ingest(ctx, tick("INFY", 99, 6, 11, 1)), "older timestamp must be dropped")
	assert.Empty(t, a.Ingest(ctx, tick("INFY", 100, 5, 12, 1)), "same ts and seq must be dropped")
	assert.Empty(t, a.Ingest(ctx, tick("INFY", 100, 4, 12, 1)), "same ts with lower seq must be dropped")

	// A same-ts tick with a higher seq is legitimate.
	assert.Empty(t, a.Ingest(ctx, tick("INFY", 100, 6, 12, 1)))
	out := a.Ingest(ctx, tick("INFY", 120, 7, 13, 1))
	require.Len(t, out, 1)
	assert.Equal(t, 12.0, out[0].Close, "dropped ticks must not touch the candle")
}

func TestAggregatorGapForwardFill(t *testing.T) {
	ctx := context.Background()
	a := NewAggregator(60, 5, 12)

	require.Empty(t, a.Ingest(ctx, tick("HDFCBANK", 30, 1, 200, 5)))

	// Next tick lands three windows later: close w0, synthesize w1 and w2.
	out := a.Ingest(ctx, tick("HDFCBANK", 190, 2, 210, 5))
	require.Len(t, out, 3)

	assert.Equal(t, int64(0), out[0].WindowStart)
	assert.False(t, out[0].Synthetic)
	assert.Equal(t, 200.0, out[0].Close)

	for i, c := range out[1:] {
		assert.True(t, c.Synthetic, "gap candle %d must be synthetic", i)
		assert.Equal(t, 200.0, c.Open)
		assert.Equal(t, 200.0, c.Close)
		assert.Equal(t, 0.0, c.Vol)
		assert.Equal(t, 0, c.TickCount)
	}
	assert.Equal(t, int64(60), out[1].WindowStart)
	assert.Equal(t, int64(120), out[2].WindowStart)
}

func TestAggregatorGapFillBounded(t *testing.T) {
	ctx := context.Background()
	a := NewAggregator(60, 5, 3)

	require.Empty(t, a.Ingest(ctx, tick("SBIN", 30, 1, 500, 5)))

	// A ten-window gap must produce the real close plus at most three fills.
	out := a.Ingest(ctx, tick("SBIN", 630, 2, 510, 5))
	require.Len(t, out, 4)
	assert.False(t, out[0].Synthetic)
	for _, c := range out[1:] {
		assert.True(t, c.Synthetic)
	}
}

func TestAggregatorWindowsStrictlyIncreasing(t *testing.T) {
	ctx := context.Background()
	a := NewAggregator(60, 5, 12)

	var all []types.Candle
	ts := int64(0)
	for i := 0; i < 50; i++ {
		ts += 37 // crosses window boundaries irregularly
		all = append(all, a.Ingest(ctx, tick("ITC", ts, uint64(i+1), 100+float64(i%7), 1))...)
	}
	require.NotEmpty(t, all)
	for i := 1; i < len(all); i++ {
		assert.Equal(t, all[i-1].WindowEnd, all[i].WindowStart,
			"candle %d must start exactly where the previous ended", i)
	}
}

func TestAggregatorForceCloseAfterGrace(t *testing.T) {
	ctx := context.Background()
	a := NewAggregator(60, 5, 12)

	require.Empty(t, a.Ingest(ctx, tick("WIPRO", 30, 1, 400, 2)))

	// Wall clock inside the grace period: nothing closes.
	assert.Empty(t, a.ForceClose(ctx, time.Unix(62, 0)))
	assert.Empty(t, a.ForceClose(ctx, time.Unix(64, 0)))

	out := a.ForceClose(ctx, time.Unix(65, 0))
	require.Len(t, out, 1)
	assert.Equal(t, int64(0), out[0].WindowStart)
	assert.Equal(t, 400.0, out[0].Close)
	assert.False(t, out[0].Synthetic)

	// Still silent: the timer keeps forward-filling flat candles.
	out = a.ForceClose(ctx, time.Unix(125, 0))
	require.Len(t, out, 1)
	assert.True(t, out[0].Synthetic)
	assert.Equal(t, int64(60), out[0].WindowStart)
	assert.Equal(t, 400.0, out[0].Close)
}

func TestAggregatorLateTickAfterTimerClose(t *testing.T) {
	ctx := context.Background()
	a := NewAggregator(60, 5, 12)

	require.Empty(t, a.Ingest(ctx, tick("LT", 30, 1, 300, 2)))
	require.Len(t, a.ForceClose(ctx, time.Unix(65, 0)), 1)

	// A tick belonging to the already-closed window must never reopen it.
	out := a.Ingest(ctx, tick("LT", 55, 2, 999, 2))
	assert.Empty(t, out)

	// The next in-window tick starts a fresh candle untouched by the late one.
	require.Empty(t, a.Ingest(ctx, tick("LT", 70, 3, 301, 2)))
	out = a.Ingest(ctx, tick("LT", 130, 4, 302, 2))
	require.Len(t, out, 1)
	assert.Equal(t, 301.0, out[0].Close)
}

func TestAggregatorFlushClosesInProgress(t *testing.T) {
	ctx := context.Background()
	a := NewAggregator(60, 5, 12)

	require.Empty(t, a.Ingest(ctx, tick("RELIANCE", 10, 1, 100, 1)))
	require.Empty(t, a.Ingest(ctx, tick("TCS", 12, 1, 50, 1)))

	out := a.Flush(ctx, time.Unix(20, 0))
	assert.Len(t, out, 2)

	assert.Empty(t, a.Flush(ctx, time.Unix(21, 0)), "flush must be idempotent")
}

func TestAggregatorPerInstrumentIsolation(t *testing.T) {
	ctx := context.Background()
	a := NewAggregator(60, 5, 12)

	require.Empty(t, a.Ingest(ctx, tick("A", 10, 1, 100, 1)))
	require.Empty(t, a.Ingest(ctx, tick("B", 10, 1, 999, 1)))

	out := a.Ingest(ctx, tick("A", 70, 2, 101, 1))
	require.Len(t, out, 1)
	assert.Equal(t, "A", out[0].Symbol)
	assert.Equal(t, 100.0, out[0].Close)
}
