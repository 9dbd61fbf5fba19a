package domain

import (
	"context"
	"io"
	"iter"
	"time"

	"ghstrata/internal/adapters/columnar"
	"ghstrata/internal/adapters/staging"
	"ghstrata/internal/core/events"
)

// RunnerPort is what the CLI drives
type RunnerPort interface {
	RunRange(ctx context.Context, start, end time.Time) (*Report, error)
	RunHours(ctx context.Context, hours []time.Time) (*Report, error)
	Info(ctx context.Context) (Info, error)
	Reset(ctx context.Context, date *time.Time) error
}

// IndexStore persists one DayIndex per date
type IndexStore interface {
	// Load returns the stored index, or a fresh all pending one when none exists.
	// Unreadable or inconsistent state is a Corrupt error, never a fresh index
	Load(ctx context.Context, date time.Time) (*DayIndex, error)

	// Save replaces the stored index atomically
	Save(ctx context.Context, idx *DayIndex) error

	// Dates lists every date with a stored index, ascending
	Dates(ctx context.Context) ([]time.Time, error)

	// Remove deletes the stored index of date
	Remove(ctx context.Context, date time.Time) error
}

// Fetcher returns the gzip stream of one hour
type Fetcher interface {
	Fetch(ctx context.Context, hr HourRef) (io.ReadCloser, error)
}

// Evicter is implemented by caching fetchers that can forget an unreadable copy
type Evicter interface {
	Evict(hr HourRef) error
}

// HourSink receives the records of one hour attempt
type HourSink = staging.Sink

// Stager is the bounded memory day accumulator
type Stager interface {
	// BeginHour starts a fresh attempt for hour, dropping anything staged by an earlier attempt
	BeginHour(ctx context.Context, date time.Time, hour int) (HourSink, error)

	// Records yields the staged records of date in key order, first staged copy of an id wins
	Records(ctx context.Context, date time.Time) iter.Seq2[events.Record, error]

	// Count returns the number of staged records of date
	Count(ctx context.Context, date time.Time) (int, error)

	// Drop discards the staging area of date
	Drop(ctx context.Context, date time.Time) error

	// Dates lists dates with staged data
	Dates(ctx context.Context) ([]time.Time, error)
}

// MergeStats describes one partition merge
type MergeStats = columnar.MergeStats

// Partition is one day file of the archive
type Partition = columnar.Partition

// Archive is the partitioned columnar store
type Archive interface {
	// Merge folds src (key ordered) into the partition of date; existing rows win on equal ids
	Merge(ctx context.Context, date time.Time, src iter.Seq2[events.Record, error]) (MergeStats, error)

	// PartitionPath returns the file of date
	PartitionPath(date time.Time) string

	// Partitions lists every partition file, ascending by date
	Partitions(ctx context.Context) ([]Partition, error)

	// RemovePartition deletes the file of date, or every partition when date is nil
	RemovePartition(ctx context.Context, date *time.Time) error
}
