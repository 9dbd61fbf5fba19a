// Package service drives resumable ingestion: hour slots are resolved against the day index,
// fetched with retries by a bounded worker pool, distilled into staging and finalized into
// day partitions once every requested hour of the date has been attempted
package service

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"ghstrata/internal/adapters/ingest/extract"
	"ghstrata/internal/adapters/ingest/gharchive"
	perr "ghstrata/internal/platform/errors"
	"ghstrata/internal/platform/logger"
	"ghstrata/internal/platform/metrics"
	"ghstrata/internal/services/ingest/domain"
	"ghstrata/internal/services/ingest/guardrails"
)

// Config holds configuration options for the ingest service
type Config struct {
	// Concurrency
	Workers int // parallel hour slots; <=0 -> 1

	// Slot-level retry
	MaxRetries int           // attempts per slot; <=0 -> 1
	RetryBase  time.Duration // base backoff; <=0 -> 500ms

	// Timeouts applied via guardrails
	FetchTimeout    time.Duration
	ReadTimeout     time.Duration
	FinalizeTimeout time.Duration

	// Range guard
	MaxRangeHours int // 0 = unlimited

	// Force re-fetches slots already resolved as success or not_found
	Force bool

	// Root is the dataset directory, used for size accounting in Info
	Root string
}

// Service implements domain.RunnerPort
type Service struct {
	Index   domain.IndexStore
	Stage   domain.Stager
	Archive domain.Archive
	Fetch   domain.Fetcher
	Cfg     Config

	// Now is the clock; hours that have not ended yet are deferred
	Now func() time.Time

	locks *guardrails.DateLocks
}

// New constructs the ingest service
func New(idx domain.IndexStore, stage domain.Stager, archive domain.Archive, f domain.Fetcher, cfg Config) *Service {
	if idx == nil || stage == nil || archive == nil || f == nil {
		panic("ingest.Service requires index, staging, archive and fetcher")
	}
	return &Service{
		Index:   idx,
		Stage:   stage,
		Archive: archive,
		Fetch:   f,
		Cfg:     cfg,
		Now:     time.Now,
		locks:   guardrails.NewDateLocks(),
	}
}

// RunRange processes every hour in [start, end], both truncated to the hour
func (s *Service) RunRange(ctx context.Context, start, end time.Time) (*domain.Report, error) {
	start = start.UTC().Truncate(time.Hour)
	end = end.UTC().Truncate(time.Hour)
	if end.Before(start) {
		return nil, perr.InvalidArgf("ingest: end %s before start %s", end.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	n := int(end.Sub(start)/time.Hour) + 1
	if s.Cfg.MaxRangeHours > 0 && n > s.Cfg.MaxRangeHours {
		return nil, perr.InvalidArgf("ingest: range of %d hours exceeds the limit of %d", n, s.Cfg.MaxRangeHours)
	}
	hours := make([]time.Time, 0, n)
	for h := start; !h.After(end); h = h.Add(time.Hour) {
		hours = append(hours, h)
	}
	return s.RunHours(ctx, hours)
}

// dayRun is the per-date state of one run
type dayRun struct {
	date    time.Time
	idx     *domain.DayIndex
	pending int  // slots of this date not yet terminal in this run
	broken  bool // index could not be saved; no finalize
}

type job struct {
	day  *dayRun
	hour int
}

// run is the mutable state shared by the workers of one RunHours call
type run struct {
	s      *Service
	mu     sync.Mutex
	report *domain.Report
}

// RunHours processes an explicit list of hours
func (s *Service) RunHours(ctx context.Context, hours []time.Time) (*domain.Report, error) {
	runID := uuid.NewString()
	ctx = logger.WithRun(ctx, runID, "ingest")
	log := logger.C(ctx)
	began := time.Now()

	r := &run{s: s, report: &domain.Report{RunID: runID}}
	rep := r.report

	now := s.Now().UTC()
	byDate := map[time.Time][]int{}
	seen := map[time.Time]bool{}
	for _, h := range hours {
		h = h.UTC().Truncate(time.Hour)
		if seen[h] {
			continue
		}
		seen[h] = true
		if h.Add(time.Hour).After(now) {
			rep.Deferred++
			continue
		}
		d := domain.DateOf(h)
		byDate[d] = append(byDate[d], h.Hour())
	}
	rep.Requested = len(seen)
	if rep.Deferred > 0 {
		log.Warn().Int("hours", rep.Deferred).Msg("ingest: deferring hours that have not ended yet")
	}

	dates := make([]time.Time, 0, len(byDate))
	for d := range byDate {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	// Plan: consult the index before any network access
	var jobs []job
	var idle []*dayRun
	for _, d := range dates {
		if err := ctx.Err(); err != nil {
			break
		}
		hs := byDate[d]
		sort.Ints(hs)
		idx, err := s.loadIndex(ctx, d)
		if err != nil {
			log.Error().Err(err).Str("date", domain.DateKey(d)).Msg("ingest: skipping date")
			rep.FailedDates = append(rep.FailedDates, domain.DateFailure{Date: domain.DateKey(d), Err: err.Error()})
			continue
		}
		dr := &dayRun{date: d, idx: idx}
		for _, h := range hs {
			if idx.Hours[h].Status.Resolved() && !s.Cfg.Force {
				rep.Skipped++
				continue
			}
			dr.pending++
			jobs = append(jobs, job{day: dr, hour: h})
		}
		if dr.pending == 0 {
			idle = append(idle, dr)
		}
	}
	log.Info().
		Int("requested", rep.Requested).
		Int("skipped", rep.Skipped).
		Int("to_fetch", len(jobs)).
		Int("dates", len(dates)).
		Msg("ingest: run planned")

	// Dates with nothing left to fetch still get leftover staging merged
	for _, dr := range idle {
		if ctx.Err() != nil {
			break
		}
		r.finalize(ctx, dr)
	}

	r.drain(ctx, jobs)

	if ctx.Err() != nil {
		rep.Canceled = true
		log.Warn().Msg("ingest: run canceled, unfinished slots stay pending")
	}
	sort.Slice(rep.FailedSlots, func(i, j int) bool {
		if rep.FailedSlots[i].Date != rep.FailedSlots[j].Date {
			return rep.FailedSlots[i].Date < rep.FailedSlots[j].Date
		}
		return rep.FailedSlots[i].Hour < rep.FailedSlots[j].Hour
	})
	sort.Slice(rep.Partitions, func(i, j int) bool { return rep.Partitions[i].Date < rep.Partitions[j].Date })
	rep.Elapsed = time.Since(began)

	log.Info().
		Int("succeeded", rep.Succeeded).
		Int("not_found", rep.NotFound).
		Int("failed", rep.Failed).
		Int("skipped", rep.Skipped).
		Int("failed_dates", len(rep.FailedDates)).
		Int("distilled", rep.Events.Distilled).
		Dur("elapsed", rep.Elapsed).
		Msg("ingest: run finished")
	for _, fs := range rep.FailedSlots {
		log.Warn().Str("slot", fs.String()).Str("err", fs.Err).Msg("ingest: slot unresolved")
	}
	return rep, nil
}

func (s *Service) loadIndex(ctx context.Context, d time.Time) (*domain.DayIndex, error) {
	var idx *domain.DayIndex
	err := s.locks.With(ctx, d, func(ctx context.Context) error {
		var err error
		idx, err = s.Index.Load(ctx, d)
		return err
	})
	return idx, err
}

// drain runs jobs on a bounded pool; a date is finalized by whichever worker finishes its last slot
func (r *run) drain(ctx context.Context, jobs []job) {
	if len(jobs) == 0 {
		return
	}
	w := min(max(r.s.Cfg.Workers, 1), len(jobs))
	ch := make(chan job)
	var wg sync.WaitGroup
	for range w {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range ch {
				done := r.runSlot(ctx, j)
				if !done {
					continue
				}
				r.mu.Lock()
				j.day.pending--
				last := j.day.pending == 0 && !j.day.broken
				r.mu.Unlock()
				if last {
					r.finalize(ctx, j.day)
				}
			}
		}()
	}
feed:
	for _, j := range jobs {
		select {
		case <-ctx.Done():
			break feed
		case ch <- j:
		}
	}
	close(ch)
	wg.Wait()
}

// runSlot attempts one slot with retries. It returns false when the slot was interrupted by
// cancellation and so is not terminal for this run
func (r *run) runSlot(ctx context.Context, j job) bool {
	s := r.s
	hr := gharchive.NewHourRef(j.day.date.Add(time.Duration(j.hour) * time.Hour))
	log := logger.C(ctx).With().Str("hour", hr.String()).Logger()

	r.mu.Lock()
	broken := j.day.broken
	r.mu.Unlock()
	if broken {
		r.slotFailed(j, perr.Storagef("ingest: index of %s could not be saved", domain.DateKey(j.day.date)))
		return true
	}

	attempts := max(s.Cfg.MaxRetries, 1)
	base := s.Cfg.RetryBase
	if base <= 0 {
		base = 500 * time.Millisecond
	}

	for i := range attempts {
		a, err := s.attempt(ctx, j.day.date, j.hour, hr)
		if err != nil && ctx.Err() != nil {
			log.Debug().Err(err).Msg("ingest: attempt interrupted, nothing recorded")
			return false
		}
		if serr := r.persist(ctx, j.day, a); serr != nil {
			r.slotFailed(j, serr)
			return true
		}
		switch a.Status {
		case domain.StatusSuccess:
			r.slotSucceeded(a.Stats)
			log.Debug().Int("distilled", a.Stats.Distilled).Int("attempt", i+1).Msg("ingest: hour done")
			return true
		case domain.StatusNotFound:
			r.slotNotFound()
			log.Info().Msg("ingest: hour absent upstream")
			return true
		}

		if !perr.IsRetryable(err) || i == attempts-1 {
			log.Warn().Err(err).Int("attempts", i+1).Msg("ingest: hour failed")
			r.slotFailed(j, err)
			return true
		}
		sleep := backoff(base, i)
		log.Debug().Err(err).Dur("backoff", sleep).Int("attempt", i+1).Msg("ingest: retrying hour")
		if sleepCtx(ctx, sleep) != nil {
			return false
		}
	}
	return false
}

// attempt fetches, distills and stages one hour. The returned Attempt is what the slot records;
// err carries the cause of a non-success status
func (s *Service) attempt(ctx context.Context, date time.Time, hour int, hr domain.HourRef) (domain.Attempt, error) {
	tos := guardrails.Timeouts{Fetch: s.Cfg.FetchTimeout, Read: s.Cfg.ReadTimeout}
	a := domain.Attempt{Hour: hour}
	started := time.Now()
	defer func() { metrics.FetchDuration.Observe(time.Since(started).Seconds()) }()

	hrCtx, hrCancel := guardrails.WithHour(ctx, tos)
	defer hrCancel()

	fetchCtx, fetchCancel := guardrails.ForFetch(hrCtx, tos)
	rc, err := s.Fetch.Fetch(fetchCtx, hr)
	fetchCancel()
	if err != nil {
		a.At = s.Now()
		if perr.IsCode(err, perr.ErrorCodeNotFound) {
			a.Status = domain.StatusNotFound
			return a, nil
		}
		a.Status, a.Err = domain.StatusError, err
		return a, err
	}

	stats, err := s.stageHour(hrCtx, tos, date, hour, rc)
	a.At = s.Now()
	if err != nil {
		if ev, ok := s.Fetch.(domain.Evicter); ok && ctx.Err() == nil {
			if eerr := ev.Evict(hr); eerr != nil {
				logger.C(ctx).Warn().Err(eerr).Str("hour", hr.String()).Msg("ingest: cache evict failed")
			}
		}
		a.Status, a.Err = domain.StatusError, err
		return a, err
	}
	a.Status, a.Stats = domain.StatusSuccess, stats
	return a, nil
}

// stageHour streams rc through distillation into a fresh staging bucket for hour.
// Any failure aborts the bucket so only complete hours reach finalize
func (s *Service) stageHour(ctx context.Context, tos guardrails.Timeouts, date time.Time, hour int, rc io.ReadCloser) (st domain.HourStats, retErr error) {
	rd, err := gharchive.NewReader(rc)
	if err != nil {
		_ = rc.Close()
		return st, err
	}
	defer func() {
		if cerr := rd.Close(); cerr != nil && retErr == nil {
			retErr = perr.Transient(cerr, "ingest: close hour stream")
		}
	}()

	readCtx, readCancel := guardrails.ForRead(ctx, tos)
	defer readCancel()

	sink, err := s.Stage.BeginHour(readCtx, date, hour)
	if err != nil {
		return st, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = sink.Abort()
		}
	}()

	outcomes := [3]int{}
	for n := 0; ; n++ {
		if n%1024 == 0 {
			if err := readCtx.Err(); err != nil {
				return st, err
			}
		}
		env, err := rd.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return st, perr.Transient(err, "ingest: read hour stream")
		}
		rec, out := extract.Distill(env)
		outcomes[out]++
		if out != extract.Kept {
			continue
		}
		if err := sink.Put(rec); err != nil {
			return st, err
		}
	}
	if err := sink.Commit(); err != nil {
		return st, err
	}
	committed = true

	parsed, malformed, _ := rd.Stats()
	st = domain.HourStats{
		Parsed:    parsed,
		Malformed: malformed,
		Distilled: outcomes[extract.Kept],
		Filtered:  outcomes[extract.Filtered],
		Dropped:   outcomes[extract.Violation],
	}
	metrics.EventsTotal.WithLabelValues(extract.Kept.String()).Add(float64(st.Distilled))
	metrics.EventsTotal.WithLabelValues(extract.Filtered.String()).Add(float64(st.Filtered))
	metrics.EventsTotal.WithLabelValues(extract.Violation.String()).Add(float64(st.Dropped))
	metrics.EventsTotal.WithLabelValues("malformed").Add(float64(st.Malformed))
	return st, nil
}

// persist applies a to the day index and saves it. A completed attempt is saved even when the
// run is being canceled
func (r *run) persist(ctx context.Context, d *dayRun, a domain.Attempt) error {
	saveCtx := context.WithoutCancel(ctx)
	err := r.s.locks.With(saveCtx, d.date, func(ctx context.Context) error {
		d.idx.Record(a)
		return r.s.Index.Save(ctx, d.idx)
	})
	if err != nil {
		r.mu.Lock()
		if !d.broken {
			d.broken = true
			r.report.FailedDates = append(r.report.FailedDates, domain.DateFailure{Date: domain.DateKey(d.date), Err: err.Error()})
		}
		r.mu.Unlock()
		logger.C(ctx).Error().Err(err).Str("date", domain.DateKey(d.date)).Msg("ingest: index save failed")
	}
	return err
}

func (r *run) slotSucceeded(st domain.HourStats) {
	metrics.SlotsTotal.WithLabelValues(string(domain.StatusSuccess)).Inc()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.report.Succeeded++
	r.report.Events.Parsed += st.Parsed
	r.report.Events.Malformed += st.Malformed
	r.report.Events.Distilled += st.Distilled
	r.report.Events.Filtered += st.Filtered
	r.report.Events.Dropped += st.Dropped
}

func (r *run) slotNotFound() {
	metrics.SlotsTotal.WithLabelValues(string(domain.StatusNotFound)).Inc()
	r.mu.Lock()
	r.report.NotFound++
	r.mu.Unlock()
}

func (r *run) slotFailed(j job, err error) {
	metrics.SlotsTotal.WithLabelValues(string(domain.StatusError)).Inc()
	ref := domain.SlotRef{Date: domain.DateKey(j.day.date), Hour: j.hour}
	if err != nil {
		ref.Err = err.Error()
	}
	r.mu.Lock()
	r.report.Failed++
	r.report.FailedSlots = append(r.report.FailedSlots, ref)
	r.mu.Unlock()
}

// finalize merges the staged hours of a date into its partition and drops the staging file.
// A failed merge keeps staging for the next run
func (r *run) finalize(ctx context.Context, d *dayRun) {
	s := r.s
	key := domain.DateKey(d.date)
	log := logger.C(ctx).With().Str("date", key).Logger()
	tos := guardrails.Timeouts{Finalize: s.Cfg.FinalizeTimeout}

	var res *domain.PartitionResult
	err := s.locks.With(ctx, d.date, func(ctx context.Context) error {
		fctx, cancel := guardrails.ForFinalize(ctx, tos)
		defer cancel()

		staged, err := s.Stage.Count(fctx, d.date)
		if err != nil {
			return err
		}
		if staged == 0 {
			return s.Stage.Drop(fctx, d.date)
		}
		ms, err := s.Archive.Merge(fctx, d.date, s.Stage.Records(fctx, d.date))
		if err != nil {
			return err
		}
		if err := s.Stage.Drop(fctx, d.date); err != nil {
			return err
		}
		res = &domain.PartitionResult{
			Date:       key,
			Path:       s.Archive.PartitionPath(d.date),
			Staged:     staged,
			Existing:   ms.Existing,
			Added:      ms.Added,
			Duplicates: ms.Duplicates,
			Rows:       ms.Rows,
			Unchanged:  ms.Unchanged,
		}
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			log.Warn().Err(err).Msg("ingest: finalize interrupted, staging kept")
			return
		}
		log.Error().Err(err).Msg("ingest: finalize failed, staging kept")
		r.mu.Lock()
		r.report.FailedDates = append(r.report.FailedDates, domain.DateFailure{Date: key, Err: err.Error()})
		r.mu.Unlock()
		return
	}
	if res == nil {
		return
	}
	if !res.Unchanged {
		metrics.PartitionsFinalized.Inc()
	}
	log.Info().
		Int("staged", res.Staged).
		Int("added", res.Added).
		Int("rows", res.Rows).
		Bool("unchanged", res.Unchanged).
		Msg("ingest: partition finalized")
	r.mu.Lock()
	r.report.Partitions = append(r.report.Partitions, *res)
	r.mu.Unlock()
}

const maxBackoff = 30 * time.Second

// backoff is the wait before retry i: base doubled per retry, capped at maxBackoff, with the
// upper half jittered
func backoff(base time.Duration, i int) time.Duration {
	d := maxBackoff
	if base > 0 && base < maxBackoff && i < 32 {
		if c := base << i; c > 0 && c < maxBackoff {
			d = c
		}
	}
	return d/2 + time.Duration(rand.Int63n(int64(d/2)+1))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
