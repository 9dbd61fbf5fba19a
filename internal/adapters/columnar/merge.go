package columnar

import (
	"context"
	"iter"
	"os"
	"path/filepath"
	"time"

	"github.com/parquet-go/parquet-go"

	"ghstrata/internal/core/events"
	perr "ghstrata/internal/platform/errors"
	"ghstrata/internal/platform/logger"
)

const (
	readBatch  = 1024
	writeBatch = 1024
	ctxEvery   = 4096
)

// Merge folds src into the partition of date.
// src must be ordered by events.SortKey. Rows already in the partition win on equal ids,
// repeated ids inside src keep their first copy. The result is written to a temp file and
// renamed over the partition; when src adds nothing the partition is left byte for byte as it was.
func (a *Archive) Merge(ctx context.Context, date time.Time, src iter.Seq2[events.Record, error]) (MergeStats, error) {
	var st MergeStats
	path := a.PartitionPath(date)
	log := logger.C(ctx).With().Str("component", "columnar").Str("partition", path).Logger()

	next, stop := iter.Pull2(src)
	defer stop()

	var (
		b       events.Record
		bok     bool
		seenB   bool
		lastSrc string
	)
	advanceB := func() error {
		for {
			r, err, ok := next()
			if !ok {
				bok = false
				return nil
			}
			if err != nil {
				return err
			}
			k := r.Key()
			if seenB {
				if k < lastSrc {
					return perr.InvalidArgf("columnar: staged rows out of order (%s after %s)", r.EventID, lastSrc)
				}
				if k == lastSrc {
					st.Duplicates++
					continue
				}
			}
			b, bok, seenB, lastSrc = r, true, true, k
			return nil
		}
	}
	if err := advanceB(); err != nil {
		return st, err
	}

	existing, err := openRows[events.Record](path)
	if err != nil {
		return st, err
	}
	if existing != nil {
		defer existing.Close()
	}
	if !bok {
		if existing != nil {
			st.Existing = int(existing.numRows)
			st.Rows = st.Existing
		}
		st.Unchanged = true
		return st, nil
	}

	pw, err := a.createPart(path)
	if err != nil {
		return st, err
	}
	defer pw.discard()

	var (
		cur     events.Record
		aok     bool
		seenA   bool
		lastOld string
	)
	advanceA := func() error {
		if existing == nil {
			aok = false
			return nil
		}
		for {
			r, ok, err := existing.next()
			if err != nil {
				return err
			}
			if !ok {
				aok = false
				return nil
			}
			k := r.Key()
			if seenA {
				if k < lastOld {
					return perr.Corruptf("columnar: %s is not sorted by event id", path)
				}
				if k == lastOld {
					continue
				}
			}
			cur, aok, seenA, lastOld = r, true, true, k
			return nil
		}
	}
	if err := advanceA(); err != nil {
		return st, err
	}

	for n := 0; aok || bok; n++ {
		if n%ctxEvery == 0 {
			if err := ctx.Err(); err != nil {
				return st, err
			}
		}
		if aok && (!bok || cur.Key() <= b.Key()) {
			if bok && cur.Key() == b.Key() {
				st.Duplicates++
				if err := advanceB(); err != nil {
					return st, err
				}
			}
			if err := pw.add(cur); err != nil {
				return st, err
			}
			st.Existing++
			if err := advanceA(); err != nil {
				return st, err
			}
			continue
		}
		if err := pw.add(b); err != nil {
			return st, err
		}
		st.Added++
		if err := advanceB(); err != nil {
			return st, err
		}
	}
	st.Rows = st.Existing + st.Added

	if st.Added == 0 {
		st.Unchanged = true
		log.Debug().Int("duplicates", st.Duplicates).Msg("columnar: merge added nothing, keeping partition")
		return st, nil
	}
	if err := pw.commit(path); err != nil {
		return st, err
	}
	log.Info().
		Int("existing", st.Existing).
		Int("added", st.Added).
		Int("duplicates", st.Duplicates).
		Int("rows", st.Rows).
		Msg("columnar: partition written")
	return st, nil
}

// partWriter streams rows into a temp file next to the partition
type partWriter struct {
	f         *os.File
	w         *parquet.GenericWriter[events.Record]
	buf       []events.Record
	inGroup   int
	groupRows int
	done      bool
}

func (a *Archive) createPart(path string) (*partWriter, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeStorage, "columnar: mkdir %s", dir)
	}
	f, err := os.CreateTemp(dir, ".events-*.tmp")
	if err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeStorage, "columnar: create temp in %s", dir)
	}
	return &partWriter{
		f:         f,
		w:         parquet.NewGenericWriter[events.Record](f, parquet.Compression(&parquet.Zstd)),
		buf:       make([]events.Record, 0, min(writeBatch, a.rowGroupRows)),
		groupRows: a.rowGroupRows,
	}, nil
}

func (p *partWriter) add(r events.Record) error {
	p.buf = append(p.buf, r)
	if len(p.buf) == cap(p.buf) || p.inGroup+len(p.buf) == p.groupRows {
		return p.flush()
	}
	return nil
}

func (p *partWriter) flush() error {
	if len(p.buf) > 0 {
		if _, err := p.w.Write(p.buf); err != nil {
			return perr.Wrap(err, perr.ErrorCodeStorage, "columnar: write rows")
		}
		p.inGroup += len(p.buf)
		p.buf = p.buf[:0]
	}
	if p.inGroup >= p.groupRows {
		if err := p.w.Flush(); err != nil {
			return perr.Wrap(err, perr.ErrorCodeStorage, "columnar: flush row group")
		}
		p.inGroup = 0
	}
	return nil
}

// commit closes the writer, fsyncs and renames the temp file over path
func (p *partWriter) commit(path string) error {
	if err := p.flush(); err != nil {
		return err
	}
	if err := p.w.Close(); err != nil {
		return perr.Wrap(err, perr.ErrorCodeStorage, "columnar: close writer")
	}
	if err := p.f.Sync(); err != nil {
		return perr.Wrap(err, perr.ErrorCodeStorage, "columnar: sync")
	}
	if err := p.f.Close(); err != nil {
		return perr.Wrap(err, perr.ErrorCodeStorage, "columnar: close")
	}
	if err := os.Rename(p.f.Name(), path); err != nil {
		return perr.Wrapf(err, perr.ErrorCodeStorage, "columnar: rename into %s", path)
	}
	p.done = true
	if d, err := os.Open(filepath.Dir(path)); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}

// discard removes the temp file unless commit succeeded
func (p *partWriter) discard() {
	if p.done {
		return
	}
	_ = p.f.Close()
	_ = os.Remove(p.f.Name())
}
