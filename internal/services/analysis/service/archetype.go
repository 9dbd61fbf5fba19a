package service

import (
	"context"
	"sort"
	"strings"

	"ghstrata/internal/core/events"
	"ghstrata/internal/core/strata"
	perr "ghstrata/internal/platform/errors"
	"ghstrata/internal/platform/logger"
	"ghstrata/internal/services/analysis/domain"
	"ghstrata/internal/services/analysis/metrics"
	"ghstrata/internal/services/analysis/profiles"
	"ghstrata/internal/services/analysis/provider"
)

// CoreWorkflow reports whether e belongs to the development workflow exported in event logs
func CoreWorkflow(e *provider.Event) bool {
	switch events.Type(e.Type) {
	case events.Push:
		return true
	case events.Issues:
		return e.Action == "opened" || e.Action == "reopened" || e.Action == "edited"
	case events.PullRequest:
		switch e.Action {
		case "opened", "reopened", "edited", "synchronize", "closed":
			return true
		}
	case events.IssueComment, events.PullRequestReviewComment:
		return e.Action == "created" || e.Action == "edited"
	case events.CommitComment, events.PullRequestReview:
		return e.Action == "created"
	case events.Create:
		return e.RefType == "branch"
	}
	return false
}

// Activity names the step e represents in an event log
func Activity(e *provider.Event) string {
	switch {
	case events.Type(e.Type) == events.Create && e.RefType != "":
		return e.Type + "/" + e.RefType
	case e.Action != "":
		return e.Type + "/" + e.Action
	}
	return e.Type
}

// Sample picks, for every combination of the categories p constrains, the matching
// repository with the highest sampling metric. Ties go to the lower repository id.
// The result is ordered by combination label
func Sample(p profiles.Profile, cs []domain.Classified) []domain.Classified {
	ms := p.Metrics()
	best := map[string]domain.Classified{}
	for _, c := range cs {
		if !p.Matches(c.Archetype) {
			continue
		}
		parts := make([]string, len(ms))
		for i, m := range ms {
			parts[i] = m.String() + "=" + c.Archetype[m].String()
		}
		key := strings.Join(parts, ",")
		cur, ok := best[key]
		if !ok || better(c, cur, p.SamplingMetric) {
			best[key] = c
		}
	}
	keys := make([]string, 0, len(best))
	for k := range best {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]domain.Classified, len(keys))
	for i, k := range keys {
		out[i] = best[k]
	}
	return out
}

func better(a, b domain.Classified, m strata.Metric) bool {
	if a.Vector[m] != b.Vector[m] {
		return a.Vector[m] > b.Vector[m]
	}
	return a.RepoID < b.RepoID
}

type logAcc struct {
	events []domain.LogEvent
}

var byCase = provider.Reducer[int64, logAcc]{
	Key: func(e *provider.Event) (int64, bool) { return e.RepoID, true },
	Fold: func(a *logAcc, e *provider.Event) {
		a.events = append(a.events, domain.LogEvent{
			CaseID:    e.RepoID,
			Activity:  Activity(e),
			Actor:     e.ActorLogin,
			Timestamp: e.CreatedAt(),
			EventID:   e.EventID,
		})
	},
	Merge: func(dst, src *logAcc) { dst.events = append(dst.events, src.events...) },
}

// EventLogs loads the core workflow log of every repository in ids, each ordered by time then event id
func (s *Service) EventLogs(ctx context.Context, ids []int64) (map[int64][]domain.LogEvent, domain.ScanStats, error) {
	want := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	p := provider.Scan(s.Src).
		Workers(s.Cfg.Workers).
		Between(s.Cfg.Window.Start, s.Cfg.Window.End).
		Dedup().
		Where("sampled repository", func(e *provider.Event) bool {
			_, ok := want[e.RepoID]
			return ok
		}).
		Where("core workflow", CoreWorkflow)
	if !s.Cfg.IncludeBots {
		p = p.Where("actor is not a bot", func(e *provider.Event) bool { return !metrics.IsBot(e.ActorLogin) })
	}
	groups, st, err := provider.GroupReduce(p, byCase).Materialize(ctx)
	if err != nil {
		return nil, st, err
	}
	out := make(map[int64][]domain.LogEvent, len(groups))
	for id, a := range groups {
		evs := a.events
		sort.Slice(evs, func(i, j int) bool {
			if !evs[i].Timestamp.Equal(evs[j].Timestamp) {
				return evs[i].Timestamp.Before(evs[j].Timestamp)
			}
			return evs[i].EventID < evs[j].EventID
		})
		out[id] = evs
	}
	return out, st, nil
}

// Archetype samples representative repositories of the named profile from the last full run,
// exports their core workflow logs and mines them when a miner is configured
func (s *Service) Archetype(ctx context.Context, name string) (*domain.Report, error) {
	ctx, rep, started := s.begin(ctx, "archetype "+name)
	log := logger.C(ctx)

	prof, err := s.Catalog.Get(name)
	if err != nil {
		return rep, err
	}
	rows, err := s.Out.ReadStratified()
	if err != nil {
		return rep, err
	}
	cs := make([]domain.Classified, 0, len(rows))
	for _, r := range rows {
		c, ok := r.Classified()
		if !ok {
			rep.Deficiencies = append(rep.Deficiencies, domain.Deficiency{RepoID: r.RepoID, Reason: "unreadable categories in " + r.Label})
			continue
		}
		cs = append(cs, c)
	}
	rep.Repositories = len(cs)

	sampled := Sample(prof, cs)
	ids := make([]int64, len(sampled))
	for i, c := range sampled {
		ids[i] = c.RepoID
	}
	rep.Sampled = map[string][]int64{name: ids}
	rep.Strata = len(sampled)
	if len(sampled) == 0 {
		rep.Warnings = append(rep.Warnings, "no repository matches profile "+name)
		log.Warn().Str("profile", name).Msg("analysis: empty archetype")
		return rep, s.finish(ctx, rep, started)
	}

	logs, st, err := s.EventLogs(ctx, ids)
	rep.Scan = st
	if err != nil {
		return rep, err
	}
	if err := s.Out.ClearEventLogs(name); err != nil {
		return rep, err
	}

	for _, c := range sampled {
		if err := ctx.Err(); err != nil {
			return rep, perr.Wrap(err, perr.ErrorCodeUnavailable, "analysis: archetype canceled")
		}
		el := domain.EventLog{RepoID: c.RepoID, RepoName: c.RepoName, Profile: name, Events: logs[c.RepoID]}
		if len(el.Events) == 0 {
			rep.Warnings = append(rep.Warnings, "repository "+c.RepoName+" has no core workflow events in the window")
		}
		path, err := s.Out.EventLog(el)
		if err != nil {
			return rep, err
		}
		rep.Artifacts = append(rep.Artifacts, path)

		if s.Miner == nil {
			continue
		}
		model, err := s.Miner.Mine(ctx, el)
		if err != nil {
			log.Warn().Err(err).Int64("repo_id", c.RepoID).Msg("analysis: mining failed")
			rep.Deficiencies = append(rep.Deficiencies, domain.Deficiency{RepoID: c.RepoID, Reason: "mining failed: " + err.Error()})
			continue
		}
		path, err = s.Out.FlowModel(el, model)
		if err != nil {
			return rep, err
		}
		rep.Artifacts = append(rep.Artifacts, path)
	}

	log.Info().Str("profile", name).Int("sampled", len(sampled)).Msg("analysis: archetype exported")
	return rep, s.finish(ctx, rep, started)
}
