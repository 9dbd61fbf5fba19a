package columnar

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/format"

	perr "ghstrata/internal/platform/errors"
)

// TimeColumn is the column whose row group statistics drive pruning
const TimeColumn = "created_at_ms"

// Window is a half open time range [From, To); a zero bound is open
type Window struct {
	From time.Time
	To   time.Time
}

func (w Window) fromMS() int64 {
	if w.From.IsZero() {
		return minInt64
	}
	return w.From.UnixMilli()
}

func (w Window) toMS() int64 {
	if w.To.IsZero() {
		return maxInt64
	}
	return w.To.UnixMilli()
}

const (
	minInt64 = -1 << 63
	maxInt64 = 1<<63 - 1
)

// Contains reports whether a created_at_ms value lies inside w
func (w Window) Contains(ms int64) bool { return ms >= w.fromMS() && ms < w.toMS() }

// overlaps reports whether [lo, hi] intersects w
func (w Window) overlaps(lo, hi int64) bool { return hi >= w.fromMS() && lo < w.toMS() }

// ScanStats counts what a scan touched
type ScanStats struct {
	RowGroups int
	Pruned    int
	Rows      int64
}

// openFile opens a parquet file; a missing file yields nil
func openFile(path string) (*os.File, *parquet.File, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, nil
		}
		return nil, nil, perr.Wrapf(err, perr.ErrorCodeStorage, "columnar: open %s", path)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, nil, perr.Wrapf(err, perr.ErrorCodeStorage, "columnar: stat %s", path)
	}
	pf, err := parquet.OpenFile(f, info.Size())
	if err != nil {
		_ = f.Close()
		return nil, nil, perr.Wrapf(err, perr.ErrorCodeCorrupt, "columnar: %s is not a parquet file", path)
	}
	return f, pf, nil
}

// rowSource reads a whole file row by row, one row group at a time
type rowSource[T any] struct {
	f       *os.File
	groups  []parquet.RowGroup
	gi      int
	r       *parquet.GenericReader[T]
	buf     []T
	pos, n  int
	numRows int64
	path    string
}

func openRows[T any](path string) (*rowSource[T], error) {
	f, pf, err := openFile(path)
	if err != nil || f == nil {
		return nil, err
	}
	return &rowSource[T]{
		f:       f,
		groups:  pf.RowGroups(),
		buf:     make([]T, readBatch),
		numRows: pf.NumRows(),
		path:    path,
	}, nil
}

func (s *rowSource[T]) next() (T, bool, error) {
	var zero T
	for s.pos >= s.n {
		if s.r == nil {
			if s.gi >= len(s.groups) {
				return zero, false, nil
			}
			s.r = parquet.NewGenericRowGroupReader[T](s.groups[s.gi])
			s.gi++
		}
		n, err := s.r.Read(s.buf)
		s.pos, s.n = 0, n
		if err != nil {
			_ = s.r.Close()
			s.r = nil
			if !errors.Is(err, io.EOF) {
				return zero, false, perr.Wrapf(err, perr.ErrorCodeCorrupt, "columnar: read %s", s.path)
			}
		}
	}
	row := s.buf[s.pos]
	s.pos++
	return row, true, nil
}

func (s *rowSource[T]) Close() error {
	if s.r != nil {
		_ = s.r.Close()
	}
	return s.f.Close()
}

// Scan reads the rows of one partition into T, a projection of the archive schema.
// Row groups whose created_at statistics fall outside w are skipped without decoding.
// Rows are handed to fn in batches; fn must not retain the slice.
func Scan[T any](ctx context.Context, path string, w Window, fn func(rows []T) error) (ScanStats, error) {
	var st ScanStats
	f, pf, err := openFile(path)
	if err != nil || f == nil {
		return st, err
	}
	defer f.Close()

	meta := pf.Metadata()
	groups := pf.RowGroups()
	buf := make([]T, readBatch)
	for i, rg := range groups {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		st.RowGroups++
		if i < len(meta.RowGroups) {
			if lo, hi, ok := int64Bounds(meta.RowGroups[i], TimeColumn); ok && !w.overlaps(lo, hi) {
				st.Pruned++
				continue
			}
		}
		r := parquet.NewGenericRowGroupReader[T](rg)
		for {
			n, err := r.Read(buf)
			if n > 0 {
				st.Rows += int64(n)
				if ferr := fn(buf[:n]); ferr != nil {
					_ = r.Close()
					return st, ferr
				}
			}
			if err != nil {
				_ = r.Close()
				if errors.Is(err, io.EOF) {
					break
				}
				return st, perr.Wrapf(err, perr.ErrorCodeCorrupt, "columnar: read %s", path)
			}
		}
	}
	return st, nil
}

// int64Bounds returns the min/max statistics of an INT64 column chunk
func int64Bounds(rg format.RowGroup, column string) (lo, hi int64, ok bool) {
	for _, cc := range rg.Columns {
		md := cc.MetaData
		if len(md.PathInSchema) != 1 || md.PathInSchema[0] != column {
			continue
		}
		minV, maxV := md.Statistics.MinValue, md.Statistics.MaxValue
		if len(minV) != 8 || len(maxV) != 8 {
			minV, maxV = md.Statistics.Min, md.Statistics.Max
		}
		if len(minV) != 8 || len(maxV) != 8 {
			return 0, 0, false
		}
		return int64(binary.LittleEndian.Uint64(minV)), int64(binary.LittleEndian.Uint64(maxV)), true
	}
	return 0, 0, false
}
