package eodobs

import (
	"context"
	"time"

	"tradealgo-live/internal/interfaces"
	"tradealgo-live/internal/logger"
	"tradealgo-live/internal/trace"
)

type observableEodSummarizer struct {
	summarizer interfaces.EodSummarizer
}

var _ interfaces.EodSummarizer = (*observableEodSummarizer)(nil)

func Wrap(summarizer interfaces.EodSummarizer) interfaces.EodSummarizer {
	return &observableEodSummarizer{
		summarizer: summarizer,
	}
}

func (oes *observableEodSummarizer) SummarizeDay(t time.Time) (string, error) {
	ctx, span := trace.StartSpan(context.Background(), "eod.SummarizeDay")
	defer span.End()

	csvPath, err := oes.summarizer.SummarizeDay(t)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Session summary failed", err, "date", t.Format("2006-01-02"))
		return "", err
	}
	if csvPath == "" {
		logger.InfoSkip(ctx, 1, "No fills to summarize", "date", t.Format("2006-01-02"))
		return "", nil
	}
	logger.InfoSkip(ctx, 1, "Session summary written", "date", t.Format("2006-01-02"), "csv_path", csvPath)
	return csvPath, nil
}

func (oes *observableEodSummarizer) SummarizeToday() (string, error) {
	ctx, span := trace.StartSpan(context.Background(), "eod.SummarizeToday")
	defer span.End()

	csvPath, err := oes.summarizer.SummarizeToday()
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Session summary failed", err)
		return "", err
	}
	if csvPath != "" {
		logger.InfoSkip(ctx, 1, "Session summary written", "csv_path", csvPath)
	}
	return csvPath, nil
}

func (oes *observableEodSummarizer) ShouldRunNow() (bool, string) {
	return oes.summarizer.ShouldRunNow()
}
