package candle

import (
	"context"
	"time"

	"tradealgo-live/internal/logger"
	"tradealgo-live/internal/metrics"
	"tradealgo-live/internal/types"
)

// Aggregator buckets ticks into fixed-duration candles per instrument and
// emits each candle exactly once when its window closes. All methods must be
// called from a single goroutine; the engine owns that serialization.
type Aggregator struct {
	window  int64 // seconds
	grace   int64 // seconds past window end before a timer close
	maxFill int   // cap on consecutive synthetic forward-fills

	builders map[string]*builder
}

// builder tracks the single in-progress candle for one instrument.
type builder struct {
	cur       *types.Candle
	lastTs    int64
	lastSeq   uint64
	lastClose float64
	haveClose bool
	nextStart int64 // start of the next expected window once cur is closed
	fillRun   int   // consecutive synthetic candles emitted without a real tick
}

func NewAggregator(windowSeconds, graceSeconds, maxForwardFill int) *Aggregator {
	return &Aggregator{
		window:   int64(windowSeconds),
		grace:    int64(graceSeconds),
		maxFill:  maxForwardFill,
		builders: make(map[string]*builder),
	}
}

func (a *Aggregator) windowStart(ts int64) int64 {
	return ts - ts%a.window
}

// Ingest processes one tick and returns zero or more closed candles in
// strictly chronological order for the tick's instrument.
func (a *Aggregator) Ingest(ctx context.Context, tick types.Tick) []types.Candle {
	metrics.TicksTotal.WithLabelValues(tick.Symbol).Inc()

	b := a.builders[tick.Symbol]
	if b == nil {
		b = &builder{}
		a.builders[tick.Symbol] = b
	}

	if b.cur != nil || b.nextStart > 0 {
		if tick.Ts < b.lastTs {
			metrics.TicksDroppedTotal.WithLabelValues(tick.Symbol, "out_of_order").Inc()
			logger.Debug(ctx, "Dropped out-of-order tick", "symbol", tick.Symbol, "ts", tick.Ts, "last_ts", b.lastTs)
			return nil
		}
		if tick.Ts == b.lastTs && tick.Seq <= b.lastSeq {
			metrics.TicksDroppedTotal.WithLabelValues(tick.Symbol, "duplicate").Inc()
			logger.Debug(ctx, "Dropped duplicate tick", "symbol", tick.Symbol, "ts", tick.Ts, "seq", tick.Seq)
			return nil
		}
	}

	var closed []types.Candle

	if b.cur == nil && b.nextStart == 0 {
		// Very first tick for this instrument opens window 1, emits nothing.
		b.open(tick, a.windowStart(tick.Ts), a.window)
		b.touch(tick)
		return nil
	}

	if b.cur != nil {
		if tick.Ts < b.cur.WindowStart {
			metrics.TicksDroppedTotal.WithLabelValues(tick.Symbol, "late").Inc()
			return nil
		}
		if tick.Ts < b.cur.WindowEnd {
			b.update(tick)
			b.touch(tick)
			return nil
		}
		closed = append(closed, b.close(tick.Received))
		metrics.CandlesClosedTotal.WithLabelValues(tick.Symbol, "tick").Inc()
	}

	ws := a.windowStart(tick.Ts)
	if ws < b.nextStart {
		// Window already closed by the grace timer; never rewrite it.
		metrics.TicksDroppedTotal.WithLabelValues(tick.Symbol, "late").Inc()
		b.touch(tick)
		return closed
	}

	closed = append(closed, a.fillGaps(ctx, b, tick.Symbol, ws, tick.Received)...)
	b.open(tick, ws, a.window)
	b.fillRun = 0
	b.touch(tick)
	return closed
}

// fillGaps synthesizes flat zero-volume candles for fully elapsed windows
// strictly between nextStart and target, bounded by maxFill.
func (a *Aggregator) fillGaps(ctx context.Context, b *builder, symbol string, target int64, arrival time.Time) []types.Candle {
	if !b.haveClose || b.nextStart == 0 {
		b.nextStart = target
		return nil
	}
	gaps := (target - b.nextStart) / a.window
	if gaps <= 0 {
		return nil
	}
	budget := int64(a.maxFill - b.fillRun)
	if budget < 0 {
		budget = 0
	}
	if gaps > budget {
		logger.Warn(ctx, "Feed gap exceeds forward-fill budget, skipping ahead",
			"symbol", symbol, "gap_windows", gaps, "filled", budget)
		metrics.TicksDroppedTotal.WithLabelValues(symbol, "gap_skipped").Inc()
		gaps = budget
	}
	out := make([]types.Candle, 0, gaps)
	for i := int64(0); i < gaps; i++ {
		out = append(out, a.synthetic(b, symbol, arrival))
		metrics.CandlesClosedTotal.WithLabelValues(symbol, "gapfill").Inc()
	}
	b.nextStart = target
	return out
}

func (a *Aggregator) synthetic(b *builder, symbol string, arrival time.Time) types.Candle {
	c := types.Candle{
		Symbol:      symbol,
		WindowStart: b.nextStart,
		WindowEnd:   b.nextStart + a.window,
		Open:        b.lastClose,
		High:        b.lastClose,
		Low:         b.lastClose,
		Close:       b.lastClose,
		Synthetic:   true,
		ClosedAt:    arrival,
	}
	b.nextStart += a.window
	b.fillRun++
	return c
}

// ForceClose closes candles whose grace period has elapsed without a tick;
// a stalled feed therefore cannot stall candle emission indefinitely. While
// the feed stays silent it keeps forward-filling flat candles up to the
// configured bound.
func (a *Aggregator) ForceClose(ctx context.Context, now time.Time) []types.Candle {
	var closed []types.Candle
	nowTs := now.Unix()
	for symbol, b := range a.builders {
		if b.cur != nil && nowTs >= b.cur.WindowEnd+a.grace {
			closed = append(closed, b.close(now))
			metrics.CandlesClosedTotal.WithLabelValues(symbol, "timer").Inc()
		}
		for b.cur == nil && b.haveClose && b.fillRun < a.maxFill &&
			b.nextStart > 0 && nowTs >= b.nextStart+a.window+a.grace {
			closed = append(closed, a.synthetic(b, symbol, now))
			metrics.CandlesClosedTotal.WithLabelValues(symbol, "timer").Inc()
		}
	}
	return closed
}

// Flush closes every in-progress candle immediately. Used on shutdown to
// drain in-flight candles to closure.
func (a *Aggregator) Flush(ctx context.Context, now time.Time) []types.Candle {
	var closed []types.Candle
	for symbol, b := range a.builders {
		if b.cur != nil {
			closed = append(closed, b.close(now))
			metrics.CandlesClosedTotal.WithLabelValues(symbol, "timer").Inc()
		}
	}
	return closed
}

func (b *builder) open(tick types.Tick, ws, window int64) {
	b.cur = &types.Candle{
		Symbol:      tick.Symbol,
		WindowStart: ws,
		WindowEnd:   ws + window,
		Open:        tick.Price,
		High:        tick.Price,
		Low:         tick.Price,
		Close:       tick.Price,
		Vol:         tick.Volume,
		TickCount:   1,
	}
}

func (b *builder) update(tick types.Tick) {
	c := b.cur
	if tick.Price > c.High {
		c.High = tick.Price
	}
	if tick.Price < c.Low {
		c.Low = tick.Price
	}
	c.Close = tick.Price
	c.Vol += tick.Volume
	c.TickCount++
}

func (b *builder) close(arrival time.Time) types.Candle {
	c := *b.cur
	c.ClosedAt = arrival
	b.lastClose = c.Close
	b.haveClose = true
	b.nextStart = c.WindowEnd
	b.cur = nil
	return c
}

func (b *builder) touch(tick types.Tick) {
	b.lastTs = tick.Ts
	b.lastSeq = tick.Seq
}
