package feed

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zerodha/gokiteconnect/v4/models"
	kiteticker "github.com/zerodha/gokiteconnect/v4/ticker"

	"tradealgo-live/internal/interfaces"
	"tradealgo-live/internal/logger"
	"tradealgo-live/internal/metrics"
	"tradealgo-live/internal/types"
)

// KiteFeed streams live ticks from the Zerodha websocket, normalizes them
// and forwards to the aggregator channel. It reconnects forever with capped
// exponential backoff; connection loss is recovered locally and never
// surfaced as a fatal condition.
type KiteFeed struct {
	apiKey      string
	accessToken string
	tokens      map[uint32]string // instrument token -> symbol

	ticker  *kiteticker.Ticker
	backoff Backoff

	out chan<- types.Tick

	connected  atomic.Bool
	lastTickNs atomic.Int64

	mu   sync.Mutex
	seq  map[uint32]uint64  // per-instrument sequence assigned on arrival
	vols map[uint32]float64 // last cumulative day volume, for deltas

	noReconnect chan struct{}
}

var _ interfaces.Feed = (*KiteFeed)(nil)

func NewKiteFeed(apiKey, accessToken string, tokens map[uint32]string) *KiteFeed {
	return &KiteFeed{
		apiKey:      apiKey,
		accessToken: accessToken,
		tokens:      tokens,
		backoff:     DefaultBackoff(),
		seq:         make(map[uint32]uint64),
		vols:        make(map[uint32]float64),
		noReconnect: make(chan struct{}, 1),
	}
}

func (f *KiteFeed) Run(ctx context.Context, out chan<- types.Tick) error {
	f.out = out
	attempt := 0
	for {
		f.serveOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		attempt++
		wait := f.backoff.Next(attempt)
		logger.Warn(ctx, "Feed disconnected, reconnecting", "attempt", attempt, "wait", wait)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// serveOnce runs one ticker session until it gives up reconnecting on its
// own or the context is cancelled.
func (f *KiteFeed) serveOnce(ctx context.Context) {
	t := kiteticker.New(f.apiKey, f.accessToken)
	f.ticker = t

	t.OnConnect(func() {
		f.connected.Store(true)
		tokens := make([]uint32, 0, len(f.tokens))
		for tok := range f.tokens {
			tokens = append(tokens, tok)
		}
		if err := t.Subscribe(tokens); err != nil {
			logger.ErrorWithErr(ctx, "Feed subscribe failed", err)
			return
		}
		if err := t.SetMode(kiteticker.ModeFull, tokens); err != nil {
			logger.ErrorWithErr(ctx, "Feed set mode failed", err)
			return
		}
		logger.Info(ctx, "Feed connected", "instruments", len(tokens))
	})
	t.OnError(func(err error) {
		logger.ErrorWithErr(ctx, "Feed error", err)
	})
	t.OnClose(func(code int, reason string) {
		f.connected.Store(false)
		logger.Warn(ctx, "Feed closed", "code", code, "reason", reason)
	})
	t.OnReconnect(func(attempt int, delay time.Duration) {
		logger.Info(ctx, "Feed reconnecting", "attempt", attempt, "delay", delay)
	})
	t.OnNoReconnect(func(attempt int) {
		f.connected.Store(false)
		select {
		case f.noReconnect <- struct{}{}:
		default:
		}
	})
	t.OnTick(f.onTick)

	go t.Serve()
	select {
	case <-ctx.Done():
		t.Stop()
	case <-f.noReconnect:
		t.Stop()
	}
	f.connected.Store(false)
}

func (f *KiteFeed) onTick(kt models.Tick) {
	symbol, ok := f.tokens[kt.InstrumentToken]
	if !ok {
		return
	}
	f.lastTickNs.Store(time.Now().UnixNano())

	f.mu.Lock()
	f.seq[kt.InstrumentToken]++
	seq := f.seq[kt.InstrumentToken]
	cum := float64(kt.VolumeTraded)
	vol := cum - f.vols[kt.InstrumentToken]
	if vol < 0 {
		vol = 0
	}
	f.vols[kt.InstrumentToken] = cum
	f.mu.Unlock()

	tick := types.Tick{
		Symbol:   symbol,
		Ts:       kt.Timestamp.Time.Unix(),
		Price:    kt.LastPrice,
		Volume:   vol,
		Seq:      seq,
		Received: time.Now(),
	}

	// The feed loop may block only on feed I/O; a slow consumer sheds ticks
	// here instead of stalling ingestion.
	select {
	case f.out <- tick:
	default:
		metrics.TicksDroppedTotal.WithLabelValues(symbol, "backpressure").Inc()
	}
}

func (f *KiteFeed) Healthy() bool {
	if !f.connected.Load() {
		return false
	}
	last := f.lastTickNs.Load()
	if last == 0 {
		return f.connected.Load()
	}
	return time.Since(time.Unix(0, last)) < 30*time.Second
}
