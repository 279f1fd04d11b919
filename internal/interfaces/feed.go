package interfaces

import (
	"context"

	"tradealgo-live/internal/types"
)

// Feed streams normalized ticks into out until the context is cancelled.
// Run must recover from connection loss on its own; it returns only on
// cancellation or an unrecoverable setup error.
type Feed interface {
	Run(ctx context.Context, out chan<- types.Tick) error
	Healthy() bool
}
