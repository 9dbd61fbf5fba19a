// Package guardrails holds cross cutting safety helpers for ingest runs
package guardrails

import (
	"context"
	"time"
)

// Timeouts is an optional budget bundle for a single hour of work.
// Zero values mean no extra timeout at that level
type Timeouts struct {
	// Hour is the overall time budget for one attempt at one slot
	Hour time.Duration

	// Fetch caps opening the remote or cached stream
	Fetch time.Duration

	// Read caps the gzip ndjson read, distill and stage step
	Read time.Duration

	// Finalize caps merging one date into its partition
	Finalize time.Duration
}

// WithHour returns a context limited by the hour budget without extending any parent deadline
func WithHour(parent context.Context, t Timeouts) (context.Context, context.CancelFunc) {
	return withChildTimeout(parent, t.Hour)
}

// ForFetch bounds the fetch phase by Fetch and any remaining parent budget
func ForFetch(parent context.Context, t Timeouts) (context.Context, context.CancelFunc) {
	return withChildTimeout(parent, t.Fetch)
}

// ForRead bounds the read phase by Read and any remaining parent budget
func ForRead(parent context.Context, t Timeouts) (context.Context, context.CancelFunc) {
	return withChildTimeout(parent, t.Read)
}

// ForFinalize bounds a partition merge
func ForFinalize(parent context.Context, t Timeouts) (context.Context, context.CancelFunc) {
	return withChildTimeout(parent, t.Finalize)
}

// Remaining returns the time until the deadline on ctx or zero when none is set or already expired
func Remaining(ctx context.Context) time.Duration {
	if dl, ok := ctx.Deadline(); ok {
		if d := time.Until(dl); d > 0 {
			return d
		}
	}
	return 0
}

// withChildTimeout takes the tighter of d and the parent remainder; d <= 0 only adds cancelation
func withChildTimeout(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(parent)
	}
	if rem := Remaining(parent); rem > 0 && rem < d {
		return context.WithTimeout(parent, rem)
	}
	return context.WithTimeout(parent, d)
}
