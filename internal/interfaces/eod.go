package interfaces

import "time"

// EodSummarizer turns the day's trade log into a per-symbol CSV summary
// after market close.
type EodSummarizer interface {
	SummarizeDay(t time.Time) (csvPath string, err error)
	SummarizeToday() (csvPath string, err error)
	ShouldRunNow() (shouldRun bool, csvPath string)
}
