// Package provider builds lazy scan plans over the partitioned archive.
// A plan only records its steps; partitions are read when Materialize runs.
package provider

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"ghstrata/internal/adapters/columnar"
	"ghstrata/internal/platform/logger"
	pmetrics "ghstrata/internal/platform/metrics"
	"ghstrata/internal/services/analysis/domain"
)

// Event is the column projection analysis reads; payload_type is never decoded
type Event struct {
	EventID     string `parquet:"event_id"`
	Type        string `parquet:"event_type"`
	RepoID      int64  `parquet:"repo_id"`
	RepoName    string `parquet:"repo_name"`
	ActorID     int64  `parquet:"actor_id"`
	ActorLogin  string `parquet:"actor_login"`
	CreatedAtMS int64  `parquet:"created_at_ms"`
	Action      string `parquet:"action"`
	PushSize    int64  `parquet:"push_size"`
	RefType     string `parquet:"ref_type"`
}

// CreatedAt returns the event time in UTC
func (e *Event) CreatedAt() time.Time { return time.UnixMilli(e.CreatedAtMS).UTC() }

// Source lists the partitions overlapping a date range
type Source interface {
	PartitionsBetween(ctx context.Context, start, end time.Time) ([]columnar.Partition, error)
}

// Predicate keeps an event when it returns true
type Predicate func(e *Event) bool

type filter struct {
	name string
	keep Predicate
}

// Plan is an immutable description of a scan; every builder method returns a new plan
type Plan struct {
	src     Source
	workers int
	window  columnar.Window
	filters []filter
	dedup   bool
}

// Scan starts a plan over every partition of src
func Scan(src Source) *Plan {
	return &Plan{src: src, workers: runtime.GOMAXPROCS(0)}
}

func (p *Plan) clone() *Plan {
	c := *p
	c.filters = append([]filter(nil), p.filters...)
	return &c
}

// Workers bounds the number of partitions read concurrently
func (p *Plan) Workers(n int) *Plan {
	c := p.clone()
	if n > 0 {
		c.workers = n
	}
	return c
}

// Between restricts the plan to events in [from, to); a zero bound is open.
// Whole partitions outside the range are never opened and row groups are pruned by their statistics
func (p *Plan) Between(from, to time.Time) *Plan {
	c := p.clone()
	c.window = columnar.Window{From: from, To: to}
	return c
}

// Where adds a named filter
func (p *Plan) Where(name string, keep Predicate) *Plan {
	c := p.clone()
	c.filters = append(c.filters, filter{name: name, keep: keep})
	return c
}

// Dedup drops repeated event ids. Partitions are id sorted so repeats inside one are adjacent;
// ids created within EdgeMargin of a midnight are also checked against the neighbouring partition
func (p *Plan) Dedup() *Plan {
	c := p.clone()
	c.dedup = true
	return c
}

// Explain lists the steps of the plan in execution order
func (p *Plan) Explain() []string {
	out := []string{"scan archive"}
	if !p.window.From.IsZero() || !p.window.To.IsZero() {
		out = append(out, fmt.Sprintf("between %s and %s", fmtBound(p.window.From), fmtBound(p.window.To)))
	}
	if p.dedup {
		out = append(out, "dedup event_id")
	}
	for _, f := range p.filters {
		out = append(out, "where "+f.name)
	}
	return out
}

func fmtBound(t time.Time) string {
	if t.IsZero() {
		return "open"
	}
	return t.UTC().Format(time.RFC3339)
}

// Reducer folds events into one accumulator per key.
// Fold runs on a worker private map; Merge combines two workers' accumulators of the same key
// and must be commutative for the result to be deterministic
type Reducer[K comparable, A any] struct {
	Key   func(e *Event) (K, bool)
	Fold  func(acc *A, e *Event)
	Merge func(dst *A, src *A)
}

// Grouped is a plan ending in a group by
type Grouped[K comparable, A any] struct {
	plan *Plan
	red  Reducer[K, A]
}

// GroupReduce ends the plan with a keyed reduction
func GroupReduce[K comparable, A any](p *Plan, r Reducer[K, A]) *Grouped[K, A] {
	return &Grouped[K, A]{plan: p.clone(), red: r}
}

// Explain lists the steps including the reduction
func (g *Grouped[K, A]) Explain() []string {
	return append(g.plan.Explain(), "group and reduce")
}

// Materialize executes the plan. Partitions are read by a bounded pool of workers,
// each reducing into its own map; the maps are merged once every worker is done
func (g *Grouped[K, A]) Materialize(ctx context.Context) (map[K]*A, domain.ScanStats, error) {
	var st domain.ScanStats
	p := g.plan
	log := logger.C(ctx).With().Str("component", "provider").Logger()

	parts, err := p.src.PartitionsBetween(ctx, day(p.window.From), lastDay(p.window.To))
	if err != nil {
		return nil, st, err
	}
	st.Partitions = len(parts)
	log.Debug().Int("partitions", len(parts)).Strs("plan", g.Explain()).Msg("provider: materialize")

	workers := min(max(p.workers, 1), max(len(parts), 1))
	results := make([]map[K]*A, workers)
	stats := make([]domain.ScanStats, workers)
	next := make(chan int)
	var edges *edgeSet
	if p.dedup {
		edges = newEdgeSet(parts, EdgeMargin)
	}

	eg, ectx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		defer close(next)
		for i := range parts {
			select {
			case next <- i:
			case <-ectx.Done():
				return ectx.Err()
			}
		}
		return nil
	})
	for w := 0; w < workers; w++ {
		results[w] = map[K]*A{}
		eg.Go(func() error {
			for i := range next {
				start := day(parts[i].Date).UnixMilli()
				if err := g.scanPartition(ectx, parts[i].Path, start, edges, results[w], &stats[w]); err != nil {
					return err
				}
				edges.done(start)
				pmetrics.PartitionsScanned.Inc()
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, st, err
	}

	out := results[0]
	for w := 1; w < workers; w++ {
		for k, a := range results[w] {
			if dst, ok := out[k]; ok {
				g.red.Merge(dst, a)
			} else {
				out[k] = a
			}
		}
	}
	for _, s := range stats {
		st.RowGroups += s.RowGroups
		st.Pruned += s.Pruned
		st.Rows += s.Rows
		st.Duplicates += s.Duplicates
		st.Matched += s.Matched
	}
	pmetrics.RowGroupsPruned.Add(float64(st.Pruned))
	log.Debug().Int("groups", len(out)).Int64("rows", st.Rows).Int("pruned", st.Pruned).Msg("provider: materialized")
	return out, st, nil
}

func (g *Grouped[K, A]) scanPartition(ctx context.Context, path string, start int64, edges *edgeSet, acc map[K]*A, st *domain.ScanStats) error {
	p := g.plan
	var lastID string
	cs, err := columnar.Scan(ctx, path, p.window, func(rows []Event) error {
	row:
		for i := range rows {
			e := &rows[i]
			if p.dedup {
				if e.EventID == lastID && lastID != "" {
					st.Duplicates++
					continue
				}
				lastID = e.EventID
				if b, ok := edges.boundary(start, e.CreatedAtMS); ok && edges.seen(b, e.EventID) {
					st.Duplicates++
					continue
				}
			}
			if !p.window.Contains(e.CreatedAtMS) {
				continue
			}
			for _, f := range p.filters {
				if !f.keep(e) {
					continue row
				}
			}
			k, ok := g.red.Key(e)
			if !ok {
				continue
			}
			st.Matched++
			a, found := acc[k]
			if !found {
				a = new(A)
				acc[k] = a
			}
			g.red.Fold(a, e)
		}
		return nil
	})
	st.RowGroups += cs.RowGroups
	st.Pruned += cs.Pruned
	st.Rows += cs.Rows
	return err
}

func day(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// lastDay maps an exclusive upper bound to the last partition date it can touch
func lastDay(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return day(t.Add(-time.Millisecond))
}
