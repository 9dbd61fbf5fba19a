package gharchive

import (
	"cmp"
	"context"
	"encoding/json"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	perr "ghstrata/internal/platform/errors"
	"ghstrata/internal/platform/logger"
)

const sweepEvery = 10 * time.Minute

// HourCache keeps downloaded hours on disk as <dir>/<date>/<hour>.json.gz with
// a .meta sidecar holding the validators of the response. Hours younger than
// the revalidation window are checked with a conditional GET before reuse,
// since GH Archive may still rewrite them
type HourCache struct {
	dir    string
	remote *HTTPFetcher

	revalidate time.Duration
	maxAge     time.Duration
	maxBytes   int64

	lastSweep    atomic.Int64
	hits, misses atomic.Int64
}

type sidecar struct {
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	Size         int64     `json:"size"`
	FetchedAt    time.Time `json:"fetched_at"`
	CheckedAt    time.Time `json:"checked_at"`
}

// CacheOption configures an HourCache
type CacheOption func(*HourCache)

// WithRevalidate rechecks cached hours that started less than d ago
func WithRevalidate(d time.Duration) CacheOption {
	return func(c *HourCache) { c.revalidate = d }
}

// WithRetention drops hours older than maxAge, then the oldest hours until the
// cache fits maxBytes. Zero disables a limit
func WithRetention(maxAge time.Duration, maxBytes int64) CacheOption {
	return func(c *HourCache) { c.maxAge, c.maxBytes = maxAge, maxBytes }
}

// NewHourCache wraps remote, a default HTTPFetcher when nil
func NewHourCache(dir string, remote *HTTPFetcher, opts ...CacheOption) (*HourCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeStorage, "gharchive: create cache dir %s", dir)
	}
	if remote == nil {
		remote = NewHTTPFetcher("", 0)
	}
	c := &HourCache{dir: dir, remote: remote}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Stats returns cache hits and misses since construction
func (c *HourCache) Stats() (hits, misses int64) { return c.hits.Load(), c.misses.Load() }

func (c *HourCache) path(hour HourRef) string {
	return filepath.Join(c.dir, hour.Date().Format(time.DateOnly), strconv.Itoa(hour.Hour)+".json.gz")
}

// Fetch serves hour from disk when possible, downloading it otherwise
func (c *HourCache) Fetch(ctx context.Context, hour HourRef) (io.ReadCloser, error) {
	defer c.maybeSweep()
	data := c.path(hour)

	if fi, err := os.Stat(data); err != nil || !fi.Mode().IsRegular() {
		c.misses.Add(1)
		return c.download(ctx, hour, data, nil)
	}

	if c.revalidate > 0 && time.Since(hour.Time()) <= c.revalidate {
		prev, _ := readSidecar(data + ".meta")
		rc, err := c.download(ctx, hour, data, prev)
		switch {
		case err == nil && rc != nil:
			c.misses.Add(1)
			return rc, nil
		case err != nil:
			logger.Named("gharchive").Debug().Err(err).Str("hour", hour.String()).
				Msg("gharchive: revalidation failed, serving cached copy")
		}
	}

	f, err := os.Open(data)
	if err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeStorage, "gharchive: open cached %s", data)
	}
	c.hits.Add(1)
	return f, nil
}

// download fetches hour into data. With prev set the request is conditional
// and a 304 yields (nil, nil) after touching the sidecar
func (c *HourCache) download(ctx context.Context, hour HourRef, data string, prev *sidecar) (io.ReadCloser, error) {
	hdr := http.Header{}
	if prev != nil {
		if prev.ETag != "" {
			hdr.Set("If-None-Match", prev.ETag)
		}
		if prev.LastModified != "" {
			hdr.Set("If-Modified-Since", prev.LastModified)
		}
	}
	resp, err := c.remote.get(ctx, hour, hdr)
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode == http.StatusNotModified && prev != nil:
		_ = resp.Body.Close()
		prev.CheckedAt = time.Now().UTC()
		c.saveSidecar(data+".meta", prev)
		return nil, nil
	case resp.StatusCode != http.StatusOK:
		return nil, drain(resp, c.remote.URL(hour))
	}
	defer resp.Body.Close()

	n, err := writeAtomic(data, resp.Body)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	c.saveSidecar(data+".meta", &sidecar{
		ETag:         strings.TrimSpace(resp.Header.Get("ETag")),
		LastModified: strings.TrimSpace(resp.Header.Get("Last-Modified")),
		Size:         n,
		FetchedAt:    now,
		CheckedAt:    now,
	})

	f, err := os.Open(data)
	if err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeStorage, "gharchive: open cached %s", data)
	}
	return f, nil
}

// writeAtomic streams body next to path then renames it into place. A body cut
// short is transient; the partial file never becomes visible
func writeAtomic(path string, body io.Reader) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, perr.Wrapf(err, perr.ErrorCodeStorage, "gharchive: mkdir %s", filepath.Dir(path))
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.part")
	if err != nil {
		return 0, perr.Wrapf(err, perr.ErrorCodeStorage, "gharchive: create temp for %s", path)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	n, err := io.Copy(tmp, body)
	if cerr := tmp.Close(); err == nil && cerr != nil {
		return 0, perr.Wrapf(cerr, perr.ErrorCodeStorage, "gharchive: close %s", tmp.Name())
	}
	if err != nil {
		return 0, perr.Transient(err, "gharchive: download body")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return 0, perr.Wrapf(err, perr.ErrorCodeStorage, "gharchive: rename into %s", path)
	}
	return n, nil
}

func readSidecar(path string) (*sidecar, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m sidecar
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeJSON, "gharchive: decode %s", path)
	}
	return &m, nil
}

// saveSidecar is best effort; a lost sidecar only costs an unconditional GET
func (c *HourCache) saveSidecar(path string, m *sidecar) {
	b, err := json.Marshal(m)
	if err == nil {
		_, err = writeAtomic(path, strings.NewReader(string(b)))
	}
	if err != nil {
		logger.Named("gharchive").Warn().Err(err).Str("path", path).Msg("gharchive: save cache sidecar")
	}
}

// Evict forgets the cached copy of hour, used when it turns out unreadable
func (c *HourCache) Evict(hour HourRef) error {
	data := c.path(hour)
	for _, p := range []string{data, data + ".meta"} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return perr.Wrapf(err, perr.ErrorCodeStorage, "gharchive: evict %s", p)
		}
	}
	return nil
}

func (c *HourCache) maybeSweep() {
	if c.maxAge <= 0 && c.maxBytes <= 0 {
		return
	}
	now := time.Now().Unix()
	last := c.lastSweep.Load()
	if last != 0 && now-last < int64(sweepEvery/time.Second) {
		return
	}
	if !c.lastSweep.CompareAndSwap(last, now) {
		return
	}
	if err := c.sweep(time.Now()); err != nil {
		logger.Named("gharchive").Warn().Err(err).Str("dir", c.dir).Msg("gharchive: cache retention")
	}
}

type cachedHour struct {
	path string
	at   time.Time
	size int64
}

// sweep applies retention relative to now
func (c *HourCache) sweep(now time.Time) error {
	var kept []cachedHour
	var total int64
	err := filepath.WalkDir(c.dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(p, ".json.gz") {
			return err
		}
		at, ok := hourFromPath(p)
		if !ok {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return nil
		}
		if c.maxAge > 0 && at.Before(now.Add(-c.maxAge)) {
			removeHour(p)
			return nil
		}
		kept = append(kept, cachedHour{path: p, at: at, size: fi.Size()})
		total += fi.Size()
		return nil
	})
	if err != nil || c.maxBytes <= 0 {
		return err
	}

	slices.SortFunc(kept, func(a, b cachedHour) int { return cmp.Compare(a.at.Unix(), b.at.Unix()) })
	for _, h := range kept {
		if total <= c.maxBytes {
			break
		}
		removeHour(h.path)
		total -= h.size
	}
	return nil
}

func removeHour(p string) {
	_ = os.Remove(p)
	_ = os.Remove(p + ".meta")
}

// hourFromPath reads the hour back from <date>/<hour>.json.gz
func hourFromPath(p string) (time.Time, bool) {
	day, err := time.Parse(time.DateOnly, filepath.Base(filepath.Dir(p)))
	if err != nil {
		return time.Time{}, false
	}
	h, err := strconv.Atoi(strings.TrimSuffix(filepath.Base(p), ".json.gz"))
	if err != nil || h < 0 || h > 23 {
		return time.Time{}, false
	}
	return day.Add(time.Duration(h) * time.Hour), true
}
