// Package index stores one JSON DayIndex per date under <root>/index/YYYY/MM/DD/index.json
package index

import (
	"bytes"
	"context"
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	perr "ghstrata/internal/platform/errors"
	"ghstrata/internal/platform/logger"
	"ghstrata/internal/services/ingest/domain"
)

const fileName = "index.json"

// FileStore implements domain.IndexStore on the local filesystem
// Writes go to a temp file in the same directory, are fsynced and renamed over the old file,
// so an interrupted save leaves the previous index in place
type FileStore struct {
	root string
	mu   sync.Mutex // serializes saves against directory pruning in Remove
}

// New returns a store rooted at <datasetRoot>/index
func New(datasetRoot string) *FileStore {
	return &FileStore{root: filepath.Join(datasetRoot, "index")}
}

// Path returns the index file of date
func (s *FileStore) Path(date time.Time) string {
	d := domain.DateOf(date)
	return filepath.Join(s.root,
		strconv.Itoa(d.Year()),
		twoDigits(int(d.Month())),
		twoDigits(d.Day()),
		fileName)
}

// wireIndex is the on-disk shape: hours keyed "0".."23" plus the derived counts
type wireIndex struct {
	Date  string                     `json:"date"`
	Hours map[string]domain.HourSlot `json:"hours"`
	domain.DayCounts
}

// Load returns the stored index of date or a fresh pending one when the file does not exist
func (s *FileStore) Load(ctx context.Context, date time.Time) (*domain.DayIndex, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := s.Path(date)
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return domain.NewDayIndex(date), nil
		}
		return nil, perr.Wrapf(err, perr.ErrorCodeStorage, "index: read %s", path)
	}
	idx, err := decode(b, domain.DateOf(date))
	if err != nil {
		return nil, perr.WithOp(perr.Wrapf(err, perr.ErrorCodeCorrupt, "index: %s is corrupt", path), "index.load")
	}
	return idx, nil
}

// decode parses and validates an index file
func decode(b []byte, want time.Time) (*domain.DayIndex, error) {
	if len(bytes.TrimSpace(b)) == 0 {
		return nil, perr.Corruptf("empty file")
	}
	var w wireIndex
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&w); err != nil {
		return nil, perr.Wrap(err, perr.ErrorCodeJSON, "decode")
	}

	date, err := time.Parse(time.DateOnly, w.Date)
	if err != nil {
		return nil, perr.Corruptf("bad date %q", w.Date)
	}
	if !date.Equal(want) {
		return nil, perr.Corruptf("date %s does not match location %s", w.Date, domain.DateKey(want))
	}
	if len(w.Hours) != domain.HoursPerDay {
		return nil, perr.Corruptf("expected %d hours, found %d", domain.HoursPerDay, len(w.Hours))
	}

	idx := &domain.DayIndex{Date: date}
	for k, slot := range w.Hours {
		h, err := strconv.Atoi(k)
		if err != nil || h < 0 || h >= domain.HoursPerDay || strconv.Itoa(h) != k {
			return nil, perr.Corruptf("bad hour key %q", k)
		}
		if !slot.Status.Valid() {
			return nil, perr.Corruptf("hour %d: unknown status %q", h, slot.Status)
		}
		if slot.Attempts < 0 || (slot.Status != domain.StatusPending && slot.Attempts == 0) {
			return nil, perr.Corruptf("hour %d: status %s with %d attempts", h, slot.Status, slot.Attempts)
		}
		idx.Hours[h] = slot
	}
	if got := idx.Counts(); got != w.DayCounts {
		return nil, perr.Corruptf("derived counts %+v disagree with slots %+v", w.DayCounts, got)
	}
	return idx, nil
}

// encode renders idx deterministically
func encode(idx *domain.DayIndex) ([]byte, error) {
	w := wireIndex{
		Date:      domain.DateKey(idx.Date),
		Hours:     make(map[string]domain.HourSlot, domain.HoursPerDay),
		DayCounts: idx.Counts(),
	}
	for h, slot := range idx.Hours {
		w.Hours[strconv.Itoa(h)] = slot
	}
	b, err := json.MarshalIndent(w, "", "  ")
	if err != nil {
		return nil, perr.Wrap(err, perr.ErrorCodeJSON, "index: encode")
	}
	return append(b, '\n'), nil
}

// Save writes idx atomically
func (s *FileStore) Save(ctx context.Context, idx *domain.DayIndex) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := encode(idx)
	if err != nil {
		return err
	}
	path := s.Path(idx.Date)
	s.mu.Lock()
	err = writeAtomic(path, b)
	s.mu.Unlock()
	if err != nil {
		return perr.Wrapf(err, perr.ErrorCodeStorage, "index: save %s", path)
	}
	logger.C(ctx).Debug().Str("date", domain.DateKey(idx.Date)).Str("path", path).Msg("index: saved")
	return nil
}

// writeAtomic writes b to a temp sibling, fsyncs and renames it over path
func writeAtomic(path string, b []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, "."+fileName+"-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer func() { _ = os.Remove(tmp) }()

	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return err
	}
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}

// Dates lists every date with an index file
func (s *FileStore) Dates(ctx context.Context) ([]time.Time, error) {
	var out []time.Time
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
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
		rel, err := filepath.Rel(s.root, filepath.Dir(p))
		if err != nil {
			return err
		}
		t, err := time.Parse("2006/01/02", filepath.ToSlash(rel))
		if err != nil {
			logger.Named("index").Warn().Str("path", p).Msg("index: ignoring file outside the date layout")
			return nil
		}
		out = append(out, t)
		return nil
	})
	if err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeStorage, "index: list %s", s.root)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

// Remove deletes the index of date and prunes empty parent directories
func (s *FileStore) Remove(ctx context.Context, date time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.Path(date)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return perr.Wrapf(err, perr.ErrorCodeStorage, "index: remove %s", path)
	}
	for dir := filepath.Dir(path); dir != s.root && len(dir) > len(s.root); dir = filepath.Dir(dir) {
		if err := os.Remove(dir); err != nil {
			break // not empty
		}
	}
	return nil
}

func twoDigits(n int) string {
	if n < 10 {
		return "0" + strconv.Itoa(n)
	}
	return strconv.Itoa(n)
}
