package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ghstrata/internal/adapters/columnar"
	"ghstrata/internal/adapters/staging"
	"ghstrata/internal/core/events"
	perr "ghstrata/internal/platform/errors"
	kit "ghstrata/internal/platform/testkit"
	"ghstrata/internal/services/ingest/domain"
	"ghstrata/internal/services/ingest/index"
)

var (
	day1 = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	day2 = day1.AddDate(0, 0, 1)
)

// fakeFetcher serves gzip bodies per hour; queued errors are returned first
type fakeFetcher struct {
	mu      sync.Mutex
	bodies  map[string][]byte
	errs    map[string][]error
	calls   map[string]int
	evicted map[string]int
	block   bool
}

func newFake() *fakeFetcher {
	return &fakeFetcher{
		bodies:  map[string][]byte{},
		errs:    map[string][]error{},
		calls:   map[string]int{},
		evicted: map[string]int{},
	}
}

func (f *fakeFetcher) Fetch(ctx context.Context, hr domain.HourRef) (io.ReadCloser, error) {
	f.mu.Lock()
	key := hr.String()
	f.calls[key]++
	block := f.block
	var err error
	if q := f.errs[key]; len(q) > 0 {
		err, f.errs[key] = q[0], q[1:]
	}
	body, ok := f.bodies[key]
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, perr.Transient(ctx.Err(), "fetch")
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, perr.NotFoundf("no archive for %s", key)
	}
	return io.NopCloser(bytes.NewReader(body)), nil
}

func (f *fakeFetcher) Evict(hr domain.HourRef) error {
	f.mu.Lock()
	f.evicted[hr.String()]++
	f.mu.Unlock()
	return nil
}

func (f *fakeFetcher) serve(t *testing.T, hour time.Time, lines ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bodies[hourRef(hour).String()] = kit.GzipLines(t, lines...)
}

func (f *fakeFetcher) fail(hour time.Time, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := hourRef(hour).String()
	f.errs[key] = append(f.errs[key], errs...)
}

func (f *fakeFetcher) callsFor(hour time.Time) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[hourRef(hour).String()]
}

func hourRef(t time.Time) domain.HourRef {
	u := t.UTC()
	return domain.HourRef{Year: u.Year(), Month: int(u.Month()), Day: u.Day(), Hour: u.Hour()}
}

func watch(id int, at time.Time) string {
	return fmt.Sprintf(`{"id":"%d","type":"WatchEvent","actor":{"id":5,"login":"alice"},"repo":{"id":7,"name":"o/r"},"payload":{"action":"started"},"created_at":%q}`,
		id, at.Format(time.RFC3339))
}

type harness struct {
	root    string
	fetch   *fakeFetcher
	archive *columnar.Archive
	stage   *staging.Store
	index   *index.FileStore
	svc     *Service
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	root := t.TempDir()
	h := &harness{
		root:    root,
		fetch:   newFake(),
		archive: columnar.New(root),
		stage:   staging.New(root, 2),
		index:   index.New(root),
	}
	t.Cleanup(func() { _ = h.stage.Close() })
	cfg.Root = root
	if cfg.RetryBase == 0 {
		cfg.RetryBase = time.Millisecond
	}
	h.svc = New(h.index, h.stage, h.archive, h.fetch, cfg)
	h.svc.Now = func() time.Time { return day2.AddDate(0, 0, 7) }
	return h
}

func (h *harness) rows(t *testing.T, date time.Time) []string {
	t.Helper()
	var ids []string
	_, err := columnar.Scan(context.Background(), h.archive.PartitionPath(date), columnar.Window{}, func(rs []events.Record) error {
		for _, r := range rs {
			ids = append(ids, r.EventID)
		}
		return nil
	})
	require.NoError(t, err)
	return ids
}

func (h *harness) slot(t *testing.T, hour time.Time) domain.HourSlot {
	t.Helper()
	idx, err := h.index.Load(context.Background(), hour)
	require.NoError(t, err)
	return idx.Hours[hour.Hour()]
}

func TestRunRangeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{Workers: 3, MaxRetries: 2})
	h0, h2 := day1, day1.Add(2*time.Hour)
	h.fetch.serve(t, h0, watch(30, h0), watch(10, h0), `{"broken`, `{"id":"99","type":"SomethingEvent"}`)
	h.fetch.serve(t, h2, watch(20, h2))

	rep, err := h.svc.RunRange(ctx, h0, h2)
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Requested)
	assert.Equal(t, 2, rep.Succeeded)
	assert.Equal(t, 1, rep.NotFound)
	assert.False(t, rep.Partial())
	assert.Equal(t, 3, rep.Events.Distilled)
	assert.Equal(t, 1, rep.Events.Filtered)
	assert.Equal(t, 1, rep.Events.Malformed)
	require.Len(t, rep.Partitions, 1)
	assert.Equal(t, 3, rep.Partitions[0].Added)
	assert.Equal(t, []string{"10", "20", "30"}, h.rows(t, day1))

	assert.Equal(t, domain.StatusNotFound, h.slot(t, day1.Add(time.Hour)).Status)
	_, err = os.Stat(h.stage.Path(day1))
	assert.True(t, os.IsNotExist(err), "staging dropped after finalize")

	before := kit.Snapshot(t, h.root)
	rep, err = h.svc.RunRange(ctx, h0, h2)
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Skipped)
	assert.Zero(t, rep.Succeeded+rep.NotFound+rep.Failed)
	assert.Equal(t, 1, h.fetch.callsFor(h0), "resolved slots are never refetched")
	assert.Equal(t, 1, h.fetch.callsFor(day1.Add(time.Hour)))
	assert.Equal(t, before, kit.Snapshot(t, h.root), "rerun leaves the dataset byte identical")
}

func TestTransientFailuresAreRetried(t *testing.T) {
	h := newHarness(t, Config{Workers: 2, MaxRetries: 3})
	h.fetch.serve(t, day1, watch(1, day1))
	h.fetch.fail(day1, perr.Unavailablef("503"), perr.Unavailablef("503"))

	rep, err := h.svc.RunHours(context.Background(), []time.Time{day1})
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Succeeded)
	slot := h.slot(t, day1)
	assert.Equal(t, domain.StatusSuccess, slot.Status)
	assert.Equal(t, 3, slot.Attempts, "every attempt is persisted")
	assert.Empty(t, slot.Err)
}

func TestBackoffStaysWithinBounds(t *testing.T) {
	cases := []struct {
		base time.Duration
		i    int
		lo   time.Duration
		hi   time.Duration
	}{
		{500 * time.Millisecond, 0, 250 * time.Millisecond, 500 * time.Millisecond},
		{500 * time.Millisecond, 3, 2 * time.Second, 4 * time.Second},
		{500 * time.Millisecond, 6, maxBackoff / 2, maxBackoff},
		{500 * time.Millisecond, 36, maxBackoff / 2, maxBackoff},
		{500 * time.Millisecond, 49, maxBackoff / 2, maxBackoff},
		{1 << 61, 2, maxBackoff / 2, maxBackoff},
		{time.Nanosecond, 63, maxBackoff / 2, maxBackoff},
		{0, 1, maxBackoff / 2, maxBackoff},
	}
	for _, c := range cases {
		for range 20 {
			d := backoff(c.base, c.i)
			assert.GreaterOrEqual(t, d, c.lo, "base=%v i=%d", c.base, c.i)
			assert.LessOrEqual(t, d, c.hi, "base=%v i=%d", c.base, c.i)
		}
	}
}

func TestPartialDayIsDurableAndCompletedLater(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{Workers: 2, MaxRetries: 2})
	h0, h1 := day1, day1.Add(time.Hour)
	h.fetch.serve(t, h0, watch(1, h0), watch(3, h0))
	h.fetch.serve(t, h1, watch(2, h1))
	h.fetch.fail(h1, perr.Unavailablef("503"), perr.Unavailablef("503"))

	rep, err := h.svc.RunRange(ctx, h0, h1)
	require.NoError(t, err)
	assert.True(t, rep.Partial())
	require.Len(t, rep.FailedSlots, 1)
	assert.Equal(t, "2024-01-02/01", rep.FailedSlots[0].String())
	assert.Equal(t, domain.StatusError, h.slot(t, h1).Status)
	assert.Equal(t, []string{"1", "3"}, h.rows(t, day1), "successful hours are finalized")

	rep, err = h.svc.RunRange(ctx, h0, h1)
	require.NoError(t, err)
	assert.False(t, rep.Partial())
	assert.Equal(t, 1, rep.Skipped)
	assert.Equal(t, 1, rep.Succeeded)
	require.Len(t, rep.Partitions, 1)
	assert.Equal(t, 2, rep.Partitions[0].Existing)
	assert.Equal(t, 1, rep.Partitions[0].Added)
	assert.Equal(t, []string{"1", "2", "3"}, h.rows(t, day1))
	assert.Equal(t, 3, h.slot(t, h1).Attempts)
}

func TestNonRetryableFailureStopsEarly(t *testing.T) {
	h := newHarness(t, Config{MaxRetries: 5})
	h.fetch.fail(day1, perr.Upstreamf("418"))
	rep, err := h.svc.RunHours(context.Background(), []time.Time{day1})
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Failed)
	assert.Equal(t, 1, h.fetch.callsFor(day1))
}

func TestUnreadableBodyIsEvicted(t *testing.T) {
	h := newHarness(t, Config{MaxRetries: 2})
	h.fetch.mu.Lock()
	h.fetch.bodies[hourRef(day1).String()] = []byte("<html>not gzip</html>")
	h.fetch.mu.Unlock()

	rep, err := h.svc.RunHours(context.Background(), []time.Time{day1})
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Failed)
	assert.Equal(t, 2, h.fetch.callsFor(day1))
	assert.Equal(t, 2, h.fetch.evicted[hourRef(day1).String()])
}

func TestDuplicatesAcrossHoursAreStoredOnce(t *testing.T) {
	h := newHarness(t, Config{Workers: 4})
	h0, h1 := day1, day1.Add(time.Hour)
	h.fetch.serve(t, h0, watch(5, h0), watch(6, h0))
	h.fetch.serve(t, h1, watch(6, h1), watch(7, h1))

	rep, err := h.svc.RunRange(context.Background(), h0, h1)
	require.NoError(t, err)
	require.Len(t, rep.Partitions, 1)
	assert.Equal(t, 4, rep.Partitions[0].Staged)
	assert.Equal(t, []string{"5", "6", "7"}, h.rows(t, day1))
}

func TestCorruptIndexAbortsOnlyItsDate(t *testing.T) {
	h := newHarness(t, Config{Workers: 2})
	kit.MustWriteFile(t, h.index.Path(day1), []byte("{garbage"))
	h.fetch.serve(t, day1, watch(1, day1))
	h.fetch.serve(t, day2, watch(2, day2))

	rep, err := h.svc.RunHours(context.Background(), []time.Time{day1, day2})
	require.NoError(t, err)
	require.Len(t, rep.FailedDates, 1)
	assert.Equal(t, "2024-01-02", rep.FailedDates[0].Date)
	assert.True(t, rep.Partial())
	assert.Zero(t, h.fetch.callsFor(day1), "no network access for a corrupt date")
	assert.Equal(t, 1, rep.Succeeded)
	assert.Equal(t, []string{"2"}, h.rows(t, day2))
	assert.Equal(t, "{garbage", string(kit.MustReadFile(t, h.index.Path(day1))))
}

func TestCancellationRecordsNothing(t *testing.T) {
	h := newHarness(t, Config{Workers: 2, MaxRetries: 3})
	h.fetch.block = true
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	rep, err := h.svc.RunRange(ctx, day1, day1.Add(3*time.Hour))
	require.NoError(t, err)
	assert.True(t, rep.Canceled)
	assert.True(t, rep.Partial())
	_, err = os.Stat(h.index.Path(day1))
	assert.True(t, os.IsNotExist(err), "interrupted attempts leave slots pending and unsaved")
	_, err = os.Stat(h.archive.PartitionPath(day1))
	assert.True(t, os.IsNotExist(err))
}

func TestHoursThatHaveNotEndedAreDeferred(t *testing.T) {
	h := newHarness(t, Config{})
	now := day1.Add(5*time.Hour + 30*time.Minute)
	h.svc.Now = func() time.Time { return now }
	h.fetch.serve(t, day1.Add(4*time.Hour), watch(1, day1.Add(4*time.Hour)))

	rep, err := h.svc.RunRange(context.Background(), day1.Add(4*time.Hour), day1.Add(6*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Requested)
	assert.Equal(t, 2, rep.Deferred)
	assert.Equal(t, 1, rep.Succeeded)
	assert.Zero(t, h.fetch.callsFor(day1.Add(5*time.Hour)))
}

func TestForceRefetchesResolvedSlots(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{})
	h.fetch.serve(t, day1, watch(1, day1))
	_, err := h.svc.RunHours(ctx, []time.Time{day1})
	require.NoError(t, err)

	h.svc.Cfg.Force = true
	rep, err := h.svc.RunHours(ctx, []time.Time{day1})
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Succeeded)
	assert.Equal(t, 2, h.fetch.callsFor(day1))
	require.Len(t, rep.Partitions, 1)
	assert.True(t, rep.Partitions[0].Unchanged)
	assert.Equal(t, []string{"1"}, h.rows(t, day1))
}

func TestLeftoverStagingIsFinalized(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{})
	h.fetch.serve(t, day1, watch(1, day1))
	_, err := h.svc.RunHours(ctx, []time.Time{day1})
	require.NoError(t, err)

	// a crash after staging but before finalize leaves a bucket behind
	sink, err := h.stage.BeginHour(ctx, day1, 0)
	require.NoError(t, err)
	require.NoError(t, sink.Put(events.Record{EventID: "2", Type: "WatchEvent", RepoID: 7, RepoName: "o/r", ActorID: 5, CreatedAtMS: day1.UnixMilli()}))
	require.NoError(t, sink.Commit())

	rep, err := h.svc.RunHours(ctx, []time.Time{day1})
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Skipped)
	require.Len(t, rep.Partitions, 1)
	assert.Equal(t, 1, rep.Partitions[0].Added)
	assert.Equal(t, []string{"1", "2"}, h.rows(t, day1))
}

func TestRangeValidation(t *testing.T) {
	h := newHarness(t, Config{MaxRangeHours: 24})
	_, err := h.svc.RunRange(context.Background(), day2, day1)
	assert.True(t, perr.IsCode(err, perr.ErrorCodeInvalidArgument))
	_, err = h.svc.RunRange(context.Background(), day1, day2.Add(time.Hour))
	assert.True(t, perr.IsCode(err, perr.ErrorCodeInvalidArgument))
}

func TestInfoAndReset(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{Workers: 2})
	h.fetch.serve(t, day1.Add(3*time.Hour), watch(1, day1.Add(3*time.Hour)))
	h.fetch.serve(t, day2.Add(5*time.Hour), watch(2, day2.Add(5*time.Hour)))
	_, err := h.svc.RunRange(ctx, day1, day2.Add(23*time.Hour))
	require.NoError(t, err)

	info, err := h.svc.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, info.Days)
	assert.Equal(t, 2, info.Partitions)
	assert.Equal(t, 48, info.HoursTotal)
	assert.Equal(t, 2, info.HoursFound)
	assert.Equal(t, 46, info.HoursAbsent)
	assert.InDelta(t, 100*2.0/48, info.Coverage, 1e-9)
	assert.True(t, info.First.Equal(day1.Add(3*time.Hour)))
	assert.True(t, info.Last.Equal(day2.Add(5*time.Hour)))
	assert.Positive(t, info.SizeBytes)
	assert.Empty(t, info.Staged)

	require.NoError(t, h.svc.Reset(ctx, &day1))
	info, err = h.svc.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, info.Days)
	assert.Equal(t, 1, info.Partitions)

	require.NoError(t, h.svc.Reset(ctx, nil))
	info, err = h.svc.Info(ctx)
	require.NoError(t, err)
	assert.Zero(t, info.Days)
	assert.Zero(t, info.Partitions)
	entries, _ := os.ReadDir(filepath.Join(h.root, "archive"))
	assert.Empty(t, entries)
}

func TestInfoListsCorruptDates(t *testing.T) {
	h := newHarness(t, Config{})
	kit.MustWriteFile(t, h.index.Path(day1), []byte(strings.Repeat("x", 4)))
	info, err := h.svc.Info(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-01-02"}, info.Corrupt)
}
