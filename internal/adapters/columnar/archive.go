// Package columnar is the partitioned parquet archive of distilled events.
// One file per UTC day at <root>/archive/year=YYYY/month=MM/day=DD/events.parquet,
// rows sorted by event id, zstd compressed.
package columnar

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	perr "ghstrata/internal/platform/errors"
)

const (
	fileName = "events.parquet"

	// DefaultRowGroupRows bounds the rows per row group, and so the granularity of statistics pruning
	DefaultRowGroupRows = 64 * 1024
)

// MergeStats describes one partition merge
type MergeStats struct {
	Existing   int  // rows in the partition before the merge
	Added      int  // staged rows that were new
	Duplicates int  // staged rows whose id was already present
	Rows       int  // rows in the partition after the merge
	Unchanged  bool // nothing was added and the file was left untouched
}

// Partition is one day file of the archive
type Partition struct {
	Date time.Time
	Path string
	Size int64
}

// Archive reads and writes day partitions under one root
type Archive struct {
	root         string
	rowGroupRows int
}

// Option configures an Archive
type Option func(*Archive)

// WithRowGroupRows sets the number of rows written per row group
func WithRowGroupRows(n int) Option {
	return func(a *Archive) {
		if n > 0 {
			a.rowGroupRows = n
		}
	}
}

// New returns an archive rooted at <datasetRoot>/archive
func New(datasetRoot string, opts ...Option) *Archive {
	a := &Archive{root: filepath.Join(datasetRoot, "archive"), rowGroupRows: DefaultRowGroupRows}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Root returns the archive directory
func (a *Archive) Root() string { return a.root }

func day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// PartitionPath returns the file of date
func (a *Archive) PartitionPath(date time.Time) string {
	d := day(date)
	return filepath.Join(a.root,
		d.Format("year=2006"),
		d.Format("month=01"),
		d.Format("day=02"),
		fileName)
}

// parsePartitionDir maps "year=YYYY/month=MM/day=DD" back to a date
func parsePartitionDir(rel string) (time.Time, bool) {
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) != 3 {
		return time.Time{}, false
	}
	var vals [3]string
	for i, key := range []string{"year=", "month=", "day="} {
		v, ok := strings.CutPrefix(parts[i], key)
		if !ok {
			return time.Time{}, false
		}
		vals[i] = v
	}
	t, err := time.Parse(time.DateOnly, vals[0]+"-"+vals[1]+"-"+vals[2])
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Partitions lists every partition file, ascending by date
func (a *Archive) Partitions(ctx context.Context) ([]Partition, error) {
	var out []Partition
	err := filepath.WalkDir(a.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return fs.SkipAll
			}
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() || d.Name() != fileName {
			return nil
		}
		rel, err := filepath.Rel(a.root, filepath.Dir(p))
		if err != nil {
			return err
		}
		date, ok := parsePartitionDir(rel)
		if !ok {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		out = append(out, Partition{Date: date, Path: p, Size: info.Size()})
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, perr.Wrapf(err, perr.ErrorCodeStorage, "columnar: list %s", a.root)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

// PartitionsBetween lists partitions whose day intersects [start, end]. A zero bound is open
func (a *Archive) PartitionsBetween(ctx context.Context, start, end time.Time) ([]Partition, error) {
	all, err := a.Partitions(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, p := range all {
		if !start.IsZero() && p.Date.Before(day(start)) {
			continue
		}
		if !end.IsZero() && p.Date.After(day(end)) {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// RemovePartition deletes the file of date, or the whole archive when date is nil
func (a *Archive) RemovePartition(ctx context.Context, date *time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if date == nil {
		if err := os.RemoveAll(a.root); err != nil {
			return perr.Wrapf(err, perr.ErrorCodeStorage, "columnar: remove %s", a.root)
		}
		return nil
	}
	path := a.PartitionPath(*date)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return perr.Wrapf(err, perr.ErrorCodeStorage, "columnar: remove %s", path)
	}
	for dir := filepath.Dir(path); len(dir) > len(a.root); dir = filepath.Dir(dir) {
		if os.Remove(dir) != nil {
			break
		}
	}
	return nil
}
