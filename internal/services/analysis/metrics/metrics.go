// Package metrics reduces the archive to one metric vector per repository
package metrics

import (
	"context"
	"math"
	"sort"
	"time"

	"ghstrata/internal/core/events"
	"ghstrata/internal/core/normalize"
	"ghstrata/internal/core/strata"
	perr "ghstrata/internal/platform/errors"
	"ghstrata/internal/platform/logger"
	"ghstrata/internal/services/analysis/domain"
	"ghstrata/internal/services/analysis/provider"
)

const msPerDay = int64(24 * time.Hour / time.Millisecond)

// Options controls one aggregation
type Options struct {
	Window      domain.Window
	Workers     int
	IncludeBots bool
}

// Result is the materialized aggregation
type Result struct {
	Repos        []domain.RepoMetrics // ascending repo id
	Deficiencies []domain.Deficiency
	Scan         domain.ScanStats
}

// Popularity reports whether e is a popularity signal: stars, forks and published releases
func Popularity(e *provider.Event) bool {
	switch events.Type(e.Type) {
	case events.Watch:
		return e.Action == "started"
	case events.Fork:
		return true
	case events.Release:
		return e.Action == "published"
	}
	return false
}

// Engagement reports whether e is a community engagement signal
func Engagement(e *provider.Event) bool {
	switch events.Type(e.Type) {
	case events.Issues:
		return e.Action == "opened" || e.Action == "reopened"
	case events.IssueComment:
		return e.Action == "created"
	}
	return false
}

// Collaboration reports whether e is a code collaboration signal
func Collaboration(e *provider.Event) bool {
	switch events.Type(e.Type) {
	case events.PullRequest:
		return e.Action == "opened" || e.Action == "reopened" || e.Action == "synchronize"
	case events.PullRequestReview:
		return e.Action == "submitted" || e.Action == "created"
	case events.PullRequestReviewComment, events.CommitComment:
		return e.Action == "created"
	}
	return false
}

// Volume returns the work volume carried by e, the commit count of a push
func Volume(e *provider.Event) float64 {
	if events.Type(e.Type) == events.Push && e.PushSize > 0 {
		return float64(e.PushSize)
	}
	return 0
}

// IsBot reports whether login follows the bot account convention
func IsBot(login string) bool { return normalize.IsBot(login) }

// acc is the per repository running state
type acc struct {
	name        string
	nameAt      int64
	first, last int64
	cum         [4]float64
}

func (a *acc) add(e *provider.Event) {
	if a.first == 0 || e.CreatedAtMS < a.first {
		a.first = e.CreatedAtMS
	}
	if e.CreatedAtMS > a.last {
		a.last = e.CreatedAtMS
	}
	// latest name wins, ties go to the smaller name so merges stay order free
	if e.CreatedAtMS > a.nameAt || (e.CreatedAtMS == a.nameAt && (a.name == "" || e.RepoName < a.name)) {
		a.name, a.nameAt = e.RepoName, e.CreatedAtMS
	}
	if Popularity(e) {
		a.cum[0]++
	}
	if Engagement(e) {
		a.cum[1]++
	}
	if Collaboration(e) {
		a.cum[2]++
	}
	a.cum[3] += Volume(e)
}

func (a *acc) merge(b *acc) {
	if b.first != 0 && (a.first == 0 || b.first < a.first) {
		a.first = b.first
	}
	a.last = max(a.last, b.last)
	if b.nameAt > a.nameAt || (b.nameAt == a.nameAt && b.name != "" && (a.name == "" || b.name < a.name)) {
		a.name, a.nameAt = b.name, b.nameAt
	}
	for i := range a.cum {
		a.cum[i] += b.cum[i]
	}
}

var byRepo = provider.Reducer[int64, acc]{
	Key:   func(e *provider.Event) (int64, bool) { return e.RepoID, true },
	Fold:  func(a *acc, e *provider.Event) { a.add(e) },
	Merge: func(dst, src *acc) { dst.merge(src) },
}

// Plan returns the lazy aggregation plan for opts
func Plan(src provider.Source, opts Options) *provider.Grouped[int64, acc] {
	p := provider.Scan(src).Workers(opts.Workers).Between(opts.Window.Start, opts.Window.End).Dedup()
	if !opts.IncludeBots {
		p = p.Where("actor is not a bot", func(e *provider.Event) bool { return !IsBot(e.ActorLogin) })
	}
	return provider.GroupReduce(p, byRepo)
}

// Aggregate materializes the plan and derives the eight metrics of each repository.
// Age runs from the first event to the window end, or to the last event when the window is open,
// in whole days with a floor of one. A corpus without any event is an EmptyCorpus error
func Aggregate(ctx context.Context, src provider.Source, opts Options) (Result, error) {
	var res Result
	groups, st, err := Plan(src, opts).Materialize(ctx)
	res.Scan = st
	if err != nil {
		return res, err
	}
	if len(groups) == 0 {
		return res, perr.EmptyCorpusf("metrics: no events between %s and %s", bound(opts.Window.Start), bound(opts.Window.End))
	}

	end := int64(0)
	if !opts.Window.End.IsZero() {
		end = opts.Window.End.UnixMilli()
	}

	ids := make([]int64, 0, len(groups))
	for id := range groups {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	res.Repos = make([]domain.RepoMetrics, 0, len(ids))
	for _, id := range ids {
		a := groups[id]
		if id == 0 {
			res.Deficiencies = append(res.Deficiencies, domain.Deficiency{RepoID: 0, Reason: "events without a repository id"})
			continue
		}
		to := end
		if to == 0 {
			to = a.last
		}
		age := max((to-a.first)/msPerDay, 1)

		var v strata.Vector
		for i, c := range a.cum {
			v[i] = c
			v[i+4] = c / float64(age)
		}
		if bad, ok := nonFinite(v); ok {
			res.Deficiencies = append(res.Deficiencies, domain.Deficiency{RepoID: id, Reason: bad.String() + " is not finite"})
			continue
		}
		res.Repos = append(res.Repos, domain.RepoMetrics{
			RepoID:   id,
			RepoName: a.name,
			First:    time.UnixMilli(a.first).UTC(),
			Last:     time.UnixMilli(a.last).UTC(),
			AgeDays:  age,
			Vector:   v,
		})
	}

	logger.C(ctx).Info().
		Int("repositories", len(res.Repos)).
		Int("deficiencies", len(res.Deficiencies)).
		Int64("rows", st.Rows).
		Int64("duplicates", st.Duplicates).
		Msg("metrics: aggregated")
	return res, nil
}

func nonFinite(v strata.Vector) (strata.Metric, bool) {
	for i, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return strata.Metric(i), true
		}
	}
	return 0, false
}

func bound(t time.Time) string {
	if t.IsZero() {
		return "open"
	}
	return t.UTC().Format(time.RFC3339)
}
