package engine

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"tradealgo-live/internal/candle"
	"tradealgo-live/internal/interfaces"
	"tradealgo-live/internal/logger"
	"tradealgo-live/internal/metrics"
	"tradealgo-live/internal/store"
	"tradealgo-live/internal/types"
)

// Engine owns the live pipeline: feed -> aggregator -> evaluators ->
// gatekeeper -> broker. Each stage runs on its own goroutines and talks
// over channels. Candles are sharded to evaluator workers on a symbol
// hash so every instrument is evaluated in order, and all gatekeeper
// state is touched from exactly one goroutine.
type Engine struct {
	cfg   *store.Config
	feed  interfaces.Feed
	agg   *candle.Aggregator
	eval  interfaces.Evaluator
	gate  interfaces.Gatekeeper
	acks  <-chan types.Ack
	start time.Time
}

func New(cfg *store.Config, feed interfaces.Feed, agg *candle.Aggregator, eval interfaces.Evaluator, gate interfaces.Gatekeeper, acks <-chan types.Ack) *Engine {
	return &Engine{cfg: cfg, feed: feed, agg: agg, eval: eval, gate: gate, acks: acks, start: time.Now()}
}

// Run blocks until ctx is cancelled, then drains every stage in pipeline
// order before returning.
func (e *Engine) Run(ctx context.Context) error {
	ticks := make(chan types.Tick, e.cfg.Engine.TickBuffer)
	intents := make(chan types.OrderIntent, e.cfg.Engine.IntentBuffer)
	marks := make(chan types.Candle, e.cfg.Engine.CandleBuffer)

	workers := e.cfg.Strategy.Workers
	workerCh := make([]chan types.Candle, workers)
	for i := range workerCh {
		workerCh[i] = make(chan types.Candle, e.cfg.Engine.CandleBuffer)
	}

	feedCtx, stopFeed := context.WithCancel(context.WithoutCancel(ctx))
	defer stopFeed()

	// The feed's tick callback may fire on the SDK's goroutine even after
	// the feed loop returns, so the ticks channel is never closed; the
	// aggregator is told to drain via feedDone instead.
	feedDone := make(chan struct{})

	var feedWG, aggWG, evalWG, gateWG sync.WaitGroup

	feedWG.Add(1)
	go func() {
		defer feedWG.Done()
		if err := e.feed.Run(feedCtx, ticks); err != nil && feedCtx.Err() == nil {
			logger.ErrorWithErr(ctx, "Feed terminated", err)
		}
	}()

	aggWG.Add(1)
	go func() {
		defer aggWG.Done()
		e.aggregatorLoop(ctx, ticks, feedDone, workerCh, marks)
	}()

	for i := 0; i < workers; i++ {
		evalWG.Add(1)
		go func(in <-chan types.Candle) {
			defer evalWG.Done()
			for c := range in {
				if intent := e.eval.OnCandleClose(ctx, c); intent != nil {
					e.offerIntent(ctx, intents, *intent)
				}
			}
		}(workerCh[i])
	}

	gateWG.Add(1)
	go func() {
		defer gateWG.Done()
		e.gatekeeperLoop(ctx, intents, marks)
	}()

	e.heartbeatLoop(ctx)

	// Shutdown: stop the feed first so nothing new enters, then let each
	// stage drain into the next before that next stage's input closes.
	logger.Info(ctx, "Shutting down pipeline")
	stopFeed()
	feedWG.Wait()
	close(feedDone)
	aggWG.Wait()
	for i := range workerCh {
		close(workerCh[i])
	}
	evalWG.Wait()
	close(intents)
	close(marks)
	gateWG.Wait()

	logger.Info(ctx, "Pipeline drained", "uptime", time.Since(e.start).Round(time.Second))
	return nil
}

// aggregatorLoop consumes raw ticks, closes candles on window boundaries
// and on the grace timer, and fans closed candles out to the evaluator
// shard for the symbol plus the gatekeeper mark channel.
func (e *Engine) aggregatorLoop(ctx context.Context, ticks <-chan types.Tick, done <-chan struct{}, workerCh []chan types.Candle, marks chan<- types.Candle) {
	timer := time.NewTicker(time.Second)
	defer timer.Stop()

	forward := func(cs []types.Candle) {
		for _, c := range cs {
			e.offerCandle(ctx, workerCh[shard(c.Symbol, len(workerCh))], c)
			select {
			case marks <- c:
			default:
				// A stalled gatekeeper must not stall candle close; it
				// catches up on the next mark for this symbol.
			}
		}
	}

	for {
		select {
		case t := <-ticks:
			forward(e.agg.Ingest(ctx, t))
		case <-done:
			// Feed has stopped; drain whatever it buffered, then close out
			// the in-progress candles.
			for {
				select {
				case t := <-ticks:
					forward(e.agg.Ingest(ctx, t))
				default:
					forward(e.agg.Flush(ctx, time.Now()))
					return
				}
			}
		case <-timer.C:
			forward(e.agg.ForceClose(ctx, time.Now()))
		}
	}
}

// offerCandle hands a closed candle to an evaluator shard, shedding that
// shard's oldest queued candle when full. Candle close must never stall on a
// slow evaluator.
func (e *Engine) offerCandle(ctx context.Context, ch chan types.Candle, c types.Candle) {
	for {
		select {
		case ch <- c:
			return
		default:
		}
		select {
		case shed := <-ch:
			metrics.CandlesShedTotal.Inc()
			logger.Warn(ctx, "Candle shed under evaluator backpressure", "symbol", shed.Symbol, "window_start", shed.WindowStart)
		default:
		}
	}
}

// offerIntent pushes an intent onto the gatekeeper queue, shedding the
// oldest queued intent when full. A signal from several candles ago is
// worth less than a fresh one.
func (e *Engine) offerIntent(ctx context.Context, intents chan types.OrderIntent, intent types.OrderIntent) {
	for {
		select {
		case intents <- intent:
			return
		default:
		}
		select {
		case shed := <-intents:
			metrics.IntentsShedTotal.Inc()
			logger.Warn(ctx, "Intent shed under backpressure", "symbol", shed.Symbol, "strategy", shed.Strategy, "intent_id", shed.ID)
		default:
		}
	}
}

// gatekeeperLoop is the only goroutine that touches gatekeeper state.
func (e *Engine) gatekeeperLoop(ctx context.Context, intents <-chan types.OrderIntent, marks <-chan types.Candle) {
	flush := time.NewTicker(time.Second)
	defer flush.Stop()

	acks := e.acks
	for intents != nil || marks != nil {
		select {
		case intent, ok := <-intents:
			if !ok {
				intents = nil
				continue
			}
			e.gate.Submit(ctx, intent)
			metrics.PendingDepth.Set(float64(e.gate.PendingDepth()))
		case c, ok := <-marks:
			if !ok {
				marks = nil
				continue
			}
			e.gate.UpdateMark(c.Symbol, c.Close)
		case ack, ok := <-acks:
			if !ok {
				acks = nil
				continue
			}
			e.gate.OnAck(ctx, ack)
		case <-flush.C:
			e.gate.CheckTimeouts(ctx)
			e.gate.DrainPending(ctx)
			metrics.PendingDepth.Set(float64(e.gate.PendingDepth()))
		}
	}
	// Queued intents get one last shot at dispatch before exit.
	e.gate.DrainPending(ctx)
	e.gate.CheckTimeouts(ctx)
	metrics.PendingDepth.Set(float64(e.gate.PendingDepth()))
}

// heartbeatLoop blocks until ctx is done, emitting a liveness beat.
func (e *Engine) heartbeatLoop(ctx context.Context) {
	hb := time.NewTicker(time.Duration(e.cfg.Engine.HeartbeatSeconds) * time.Second)
	defer hb.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-hb.C:
			healthy := e.feed.Healthy()
			if healthy {
				metrics.Heartbeat.SetToCurrentTime()
			}
			logger.Info(ctx, "Heartbeat", "feed_healthy", healthy, "uptime", time.Since(e.start).Round(time.Second))
		}
	}
}

func shard(symbol string, n int) int {
	h := fnv.New32a()
	h.Write([]byte(symbol))
	return int(h.Sum32() % uint32(n))
}
