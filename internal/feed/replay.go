package feed

import (
	"context"
	"math"
	"math/rand"
	"sync/atomic"
	"time"

	"tradealgo-live/internal/interfaces"
	"tradealgo-live/internal/logger"
	"tradealgo-live/internal/types"
)

// ReplayFeed generates a synthetic tick stream for dry runs. Each symbol
// follows a random walk around its base price, emitted at a fixed interval
// with compressed timestamps so candles close quickly.
type ReplayFeed struct {
	symbols  map[string]float64 // symbol -> base price
	interval time.Duration
	// TimeScale stretches emitted tick timestamps: with scale 60 one wall
	// second of replay covers one minute of market time.
	TimeScale int64

	running atomic.Bool
	seq     map[string]uint64
	rng     *rand.Rand
}

var _ interfaces.Feed = (*ReplayFeed)(nil)

func NewReplayFeed(symbols map[string]float64, interval time.Duration, seed int64) *ReplayFeed {
	return &ReplayFeed{
		symbols:   symbols,
		interval:  interval,
		TimeScale: 1,
		seq:       make(map[string]uint64),
		rng:       rand.New(rand.NewSource(seed)),
	}
}

func (f *ReplayFeed) Run(ctx context.Context, out chan<- types.Tick) error {
	f.running.Store(true)
	defer f.running.Store(false)

	logger.Info(ctx, "Replay feed started", "symbols", len(f.symbols), "interval", f.interval)

	prices := make(map[string]float64, len(f.symbols))
	for sym, base := range f.symbols {
		prices[sym] = base
	}

	start := time.Now().Unix()
	elapsed := int64(0)

	t := time.NewTicker(f.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
		elapsed++
		ts := start + elapsed*f.TimeScale
		for sym := range f.symbols {
			step := prices[sym] * 0.0005 * f.rng.NormFloat64()
			prices[sym] = math.Max(0.05, prices[sym]+step)
			f.seq[sym]++
			tick := types.Tick{
				Symbol:   sym,
				Ts:       ts,
				Price:    prices[sym],
				Volume:   float64(100 + f.rng.Intn(900)),
				Seq:      f.seq[sym],
				Received: time.Now(),
			}
			select {
			case out <- tick:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func (f *ReplayFeed) Healthy() bool {
	return f.running.Load()
}
