package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	kiteconnect "github.com/zerodha/gokiteconnect/v4"

	"tradealgo-live/internal/broker/brokerobs"
	"tradealgo-live/internal/broker/sim"
	"tradealgo-live/internal/broker/zerodha"
	"tradealgo-live/internal/candle"
	"tradealgo-live/internal/eod"
	"tradealgo-live/internal/eod/eodobs"
	"tradealgo-live/internal/feed"
	"tradealgo-live/internal/gatekeeper"
	"tradealgo-live/internal/gatekeeper/gatekeeperobs"
	"tradealgo-live/internal/interfaces"
	"tradealgo-live/internal/logger"
	"tradealgo-live/internal/store"
	"tradealgo-live/internal/strategy"
	"tradealgo-live/internal/trace"
	"tradealgo-live/internal/tradelog"
)

// initializeSystem initializes environment, logger and tracer.
func initializeSystem() error {
	_ = godotenv.Load()

	if err := logger.Init(); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	if err := trace.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize tracer: %v\n", err)
	}

	initializeEOD()

	return nil
}

// initializeEOD wraps the default session summarizer with observability.
func initializeEOD() {
	eod.SetDefaultSummarizer(eodobs.Wrap(eod.NewSummarizer()))
}

// loadConfig loads and returns the configuration
func loadConfig(ctx context.Context) (*store.Config, error) {
	cfg, err := store.LoadConfig("config.yaml")
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to load config", err)
		return nil, err
	}
	return cfg, nil
}

// compressOldLogs compresses old tradelog files if retention is configured
func compressOldLogs(ctx context.Context) {
	if v := os.Getenv("TRADER_LOG_RETENTION_DAYS"); v != "" {
		var n int
		fmt.Sscanf(v, "%d", &n)
		if err := tradelog.CompressOlder(n); err != nil {
			logger.Warn(ctx, "Failed to compress old logs", "error", err)
		}
	}
}

// initializeBroker selects the order-path backend for the configured mode
// and wraps it with observability middleware.
func initializeBroker(ctx context.Context, cfg *store.Config) interfaces.Broker {
	if cfg.Mode == "DRY_RUN" {
		logger.Warn(ctx, "Running in DRY_RUN mode - orders will be simulated")
		return brokerobs.Wrap(sim.New())
	}

	brk := zerodha.New(zerodha.Params{
		APIKey:      os.Getenv("KITE_API_KEY"),
		AccessToken: os.Getenv("KITE_ACCESS_TOKEN"),
		Exchange:    cfg.Exchange,
	})
	logger.Info(ctx, "Using LIVE Zerodha order routing", "exchange", cfg.Exchange)
	return brokerobs.Wrap(brk)
}

// initializeFeed selects the tick source for the configured mode.
func initializeFeed(ctx context.Context, cfg *store.Config) (interfaces.Feed, error) {
	if cfg.Mode == "DRY_RUN" {
		bases := make(map[string]float64, len(cfg.Universe))
		for _, sym := range cfg.Universe {
			bases[sym] = 1000
		}
		f := feed.NewReplayFeed(bases, 200*time.Millisecond, time.Now().UnixNano())
		f.TimeScale = int64(cfg.Candle.WindowSeconds) / 10
		logger.Info(ctx, "Using synthetic replay feed", "symbols", len(bases))
		return f, nil
	}

	kc := kiteconnect.New(os.Getenv("KITE_API_KEY"))
	kc.SetAccessToken(os.Getenv("KITE_ACCESS_TOKEN"))
	tokens, err := feed.ResolveTokens(ctx, kc, cfg.Exchange, cfg.Universe)
	if err != nil {
		return nil, err
	}
	return feed.NewKiteFeed(os.Getenv("KITE_API_KEY"), os.Getenv("KITE_ACCESS_TOKEN"), tokens), nil
}

func initializeEvaluator(cfg *store.Config) *strategy.Evaluator {
	return strategy.New(cfg)
}

// initializeGatekeeper wires the evaluator's position view into the fill
// callback and wraps the gate with observability middleware.
func initializeGatekeeper(cfg *store.Config, brk interfaces.Broker, eval *strategy.Evaluator) interfaces.Gatekeeper {
	gate := gatekeeper.New(cfg, brk, eval.OnFill, nil)
	return gatekeeperobs.Wrap(gate)
}

func initializeAggregator(cfg *store.Config) *candle.Aggregator {
	return candle.NewAggregator(cfg.Candle.WindowSeconds, cfg.Candle.GraceSeconds, cfg.Candle.MaxForwardFill)
}
