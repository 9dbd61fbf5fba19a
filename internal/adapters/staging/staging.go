// Package staging is the on-disk day accumulator between hourly fetches and the columnar partition.
// One bbolt file per date, one bucket per hour, records keyed by events.SortKey so a cursor walk
// is already in archive order.
package staging

import (
	"bytes"
	"container/heap"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"ghstrata/internal/core/events"
	perr "ghstrata/internal/platform/errors"
)

// DefaultBatch is the number of records written per bbolt transaction
const DefaultBatch = 5000

const fileExt = ".db"

// Sink receives the records of one hour attempt
type Sink interface {
	Put(rec events.Record) error
	Commit() error
	Abort() error
}

// Store keeps one open bbolt handle per staged date
type Store struct {
	dir   string
	batch int

	mu  sync.Mutex
	dbs map[string]*bolt.DB
}

// New returns a store rooted at <datasetRoot>/staging
func New(datasetRoot string, batch int) *Store {
	if batch <= 0 {
		batch = DefaultBatch
	}
	return &Store{
		dir:   filepath.Join(datasetRoot, "staging"),
		batch: batch,
		dbs:   map[string]*bolt.DB{},
	}
}

func dateKey(t time.Time) string { return t.UTC().Format(time.DateOnly) }

func bucketName(hour int) []byte { return fmt.Appendf(nil, "hour-%02d", hour) }

// Path returns the staging file of date
func (s *Store) Path(date time.Time) string { return filepath.Join(s.dir, dateKey(date)+fileExt) }

// open returns the shared handle of date; with create false a missing file yields nil
func (s *Store) open(date time.Time, create bool) (*bolt.DB, error) {
	key := dateKey(date)
	s.mu.Lock()
	defer s.mu.Unlock()
	if db, ok := s.dbs[key]; ok {
		return db, nil
	}
	path := s.Path(date)
	if !create {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return nil, nil
		}
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeStorage, "staging: mkdir %s", s.dir)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeStorage, "staging: open %s", path)
	}
	s.dbs[key] = db
	return db, nil
}

// BeginHour clears whatever an earlier attempt staged for hour and returns a fresh sink
func (s *Store) BeginHour(ctx context.Context, date time.Time, hour int) (Sink, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	db, err := s.open(date, true)
	if err != nil {
		return nil, err
	}
	name := bucketName(hour)
	err = db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(name); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
			return err
		}
		_, err := tx.CreateBucket(name)
		return err
	})
	if err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeStorage, "staging: reset %s/%s", dateKey(date), name)
	}
	return &hourSink{db: db, bucket: name, batch: s.batch}, nil
}

type kv struct{ k, v []byte }

// hourSink buffers puts and writes them in batches; the first copy of a key wins
type hourSink struct {
	db     *bolt.DB
	bucket []byte
	batch  int
	buf    []kv
	done   bool
}

func (h *hourSink) Put(rec events.Record) error {
	if h.done {
		return perr.Storagef("staging: put after commit or abort")
	}
	v, err := json.Marshal(rec)
	if err != nil {
		return perr.Wrap(err, perr.ErrorCodeJSON, "staging: encode record")
	}
	h.buf = append(h.buf, kv{k: []byte(rec.Key()), v: v})
	if len(h.buf) >= h.batch {
		return h.flush()
	}
	return nil
}

func (h *hourSink) flush() error {
	if len(h.buf) == 0 {
		return nil
	}
	err := h.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(h.bucket)
		if b == nil {
			return bolt.ErrBucketNotFound
		}
		for _, e := range h.buf {
			if b.Get(e.k) != nil {
				continue
			}
			if err := b.Put(e.k, e.v); err != nil {
				return err
			}
		}
		return nil
	})
	h.buf = h.buf[:0]
	if err != nil {
		return perr.Wrapf(err, perr.ErrorCodeStorage, "staging: write %s", h.bucket)
	}
	return nil
}

// Commit flushes the remaining buffer; the hour is durable once Commit returns
func (h *hourSink) Commit() error {
	if h.done {
		return nil
	}
	err := h.flush()
	h.done = true
	return err
}

// Abort discards everything staged by this attempt
func (h *hourSink) Abort() error {
	if h.done {
		return nil
	}
	h.done = true
	h.buf = nil
	err := h.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(h.bucket); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
			return err
		}
		return nil
	})
	if err != nil {
		return perr.Wrapf(err, perr.ErrorCodeStorage, "staging: abort %s", h.bucket)
	}
	return nil
}

// Records yields the staged records of date in key order.
// Hour buckets are merged with a heap of cursors; on equal keys the lowest hour wins
// and later copies are skipped. Memory is one record per hour bucket
func (s *Store) Records(ctx context.Context, date time.Time) iter.Seq2[events.Record, error] {
	return func(yield func(events.Record, error) bool) {
		db, err := s.open(date, false)
		if err != nil {
			yield(events.Record{}, err)
			return
		}
		if db == nil {
			return
		}
		stopped := false
		err = db.View(func(tx *bolt.Tx) error {
			h := &cursorHeap{}
			err := tx.ForEach(func(name []byte, b *bolt.Bucket) error {
				c := b.Cursor()
				if k, v := c.First(); k != nil {
					h.items = append(h.items, &cursorItem{name: string(name), c: c, k: k, v: v})
				}
				return nil
			})
			if err != nil {
				return err
			}
			heap.Init(h)

			var last []byte
			seen := false
			for h.Len() > 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
				top := h.items[0]
				if !seen || !bytes.Equal(top.k, last) {
					seen = true
					last = append(last[:0], top.k...)
					var rec events.Record
					if err := json.Unmarshal(top.v, &rec); err != nil {
						return perr.Wrapf(err, perr.ErrorCodeCorrupt, "staging: decode %s/%s", top.name, top.k)
					}
					if !yield(rec, nil) {
						stopped = true
						return nil
					}
				}
				if k, v := top.c.Next(); k != nil {
					top.k, top.v = k, v
					heap.Fix(h, 0)
				} else {
					heap.Pop(h)
				}
			}
			return nil
		})
		if err != nil && !stopped {
			if perr.CodeOf(err) == perr.ErrorCodeUnknown && ctx.Err() == nil {
				err = perr.Wrapf(err, perr.ErrorCodeStorage, "staging: read %s", dateKey(date))
			}
			yield(events.Record{}, err)
		}
	}
}

// Count returns the number of staged records of date, duplicates across hours included
func (s *Store) Count(ctx context.Context, date time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	db, err := s.open(date, false)
	if err != nil || db == nil {
		return 0, err
	}
	n := 0
	err = db.View(func(tx *bolt.Tx) error {
		return tx.ForEach(func(_ []byte, b *bolt.Bucket) error {
			n += b.Stats().KeyN
			return nil
		})
	})
	if err != nil {
		return 0, perr.Wrapf(err, perr.ErrorCodeStorage, "staging: count %s", dateKey(date))
	}
	return n, nil
}

// Drop closes and deletes the staging file of date
func (s *Store) Drop(ctx context.Context, date time.Time) error {
	key := dateKey(date)
	s.mu.Lock()
	defer s.mu.Unlock()
	if db, ok := s.dbs[key]; ok {
		delete(s.dbs, key)
		if err := db.Close(); err != nil {
			return perr.Wrapf(err, perr.ErrorCodeStorage, "staging: close %s", key)
		}
	}
	if err := os.Remove(s.Path(date)); err != nil && !os.IsNotExist(err) {
		return perr.Wrapf(err, perr.ErrorCodeStorage, "staging: remove %s", key)
	}
	return nil
}

// Dates lists dates that have a staging file
func (s *Store) Dates(ctx context.Context) ([]time.Time, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, perr.Wrapf(err, perr.ErrorCodeStorage, "staging: list %s", s.dir)
	}
	var out []time.Time
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, fileExt) {
			continue
		}
		t, err := time.Parse(time.DateOnly, strings.TrimSuffix(name, fileExt))
		if err != nil {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

// Close closes every open handle
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var first error
	for k, db := range s.dbs {
		if err := db.Close(); err != nil && first == nil {
			first = err
		}
		delete(s.dbs, k)
	}
	return first
}

type cursorItem struct {
	name string
	c    *bolt.Cursor
	k, v []byte
}

// cursorHeap orders cursors by current key, then bucket name so earlier hours win ties
type cursorHeap struct{ items []*cursorItem }

func (h *cursorHeap) Len() int { return len(h.items) }
func (h *cursorHeap) Less(i, j int) bool {
	if c := bytes.Compare(h.items[i].k, h.items[j].k); c != 0 {
		return c < 0
	}
	return h.items[i].name < h.items[j].name
}
func (h *cursorHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *cursorHeap) Push(x any)   { h.items = append(h.items, x.(*cursorItem)) }
func (h *cursorHeap) Pop() any {
	old := h.items
	n := len(old)
	it := old[n-1]
	h.items = old[:n-1]
	return it
}
