package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"tradealgo-live/internal/engine"
	"tradealgo-live/internal/eod"
	"tradealgo-live/internal/logger"
	"tradealgo-live/internal/metrics"
	"tradealgo-live/internal/trace"
)

func must(err error) {
	if err != nil {
		log.Fatal(err)
	}
}

func main() {
	must(initializeSystem())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(ctx)
	must(err)

	compressOldLogs(ctx)

	srv := metrics.Serve(cfg.Engine.MetricsAddr)
	logger.Info(ctx, "Metrics listening", "addr", cfg.Engine.MetricsAddr)

	brk := initializeBroker(ctx, cfg)
	feed, err := initializeFeed(ctx, cfg)
	must(err)

	eval := initializeEvaluator(cfg)
	gate := initializeGatekeeper(cfg, brk, eval)
	agg := initializeAggregator(cfg)

	eng := engine.New(cfg, feed, agg, eval, gate, brk.Acks())

	go eodLoop(ctx)

	logger.Info(ctx, "Trader started", "mode", cfg.Mode, "universe", cfg.Universe, "window_seconds", cfg.Candle.WindowSeconds)
	if err := eng.Run(ctx); err != nil {
		logger.ErrorWithErr(ctx, "Pipeline exited with error", err)
	}

	brk.Close(context.Background())

	if p, err := eod.SummarizeToday(); err == nil && p != "" {
		logger.Info(context.Background(), "Session summary written on shutdown", "csv_path", p)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	_ = trace.Shutdown(shutdownCtx)

	logger.Info(context.Background(), "Trader stopped")
}

// eodLoop writes the session summary once after market close.
func eodLoop(ctx context.Context) {
	t := time.NewTicker(60 * time.Second)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if ok, _ := eod.ShouldRunNow(); ok {
				_, _ = eod.SummarizeToday()
			}
		}
	}
}
