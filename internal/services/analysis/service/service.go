// Package service runs the analysis commands: full stratification, archetype sampling and the summary
package service

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"ghstrata/internal/core/strata"
	perr "ghstrata/internal/platform/errors"
	"ghstrata/internal/platform/logger"
	pmetrics "ghstrata/internal/platform/metrics"
	"ghstrata/internal/services/analysis/domain"
	"ghstrata/internal/services/analysis/metrics"
	"ghstrata/internal/services/analysis/profiles"
	"ghstrata/internal/services/analysis/provider"
	"ghstrata/internal/services/analysis/report"
)

// Config holds the per run knobs
type Config struct {
	Window      domain.Window
	Workers     int
	IncludeBots bool
	Strata      strata.Config
}

// Publisher mirrors a classified run somewhere outside the output directory
type Publisher interface {
	Publish(ctx context.Context, runID string, rows []domain.Classified) (int, error)
}

// Service implements domain.RunnerPort
type Service struct {
	Src     provider.Source
	Out     *report.Writer
	Catalog *profiles.Set
	Cfg     Config

	// Miner and Publisher are optional
	Miner     domain.Miner
	Publisher Publisher

	Now func() time.Time
}

// New constructs the analysis service
func New(src provider.Source, out *report.Writer, set *profiles.Set, cfg Config) *Service {
	if src == nil || out == nil || set == nil {
		panic("analysis.Service requires a source, a writer and profiles")
	}
	return &Service{Src: src, Out: out, Catalog: set, Cfg: cfg, Now: time.Now}
}

func (s *Service) begin(ctx context.Context, command string) (context.Context, *domain.Report, time.Time) {
	runID := uuid.NewString()
	ctx = logger.WithRun(ctx, runID, "analyze")
	rep := &domain.Report{RunID: runID, Command: command, Window: s.Cfg.Window, Artifacts: []string{}}
	logger.C(ctx).Info().
		Str("command", command).
		Time("start", s.Cfg.Window.Start).
		Time("end", s.Cfg.Window.End).
		Msg("analysis: run started")
	return ctx, rep, s.Now()
}

// finish writes the run report and logs the outcome
func (s *Service) finish(ctx context.Context, rep *domain.Report, started time.Time) error {
	rep.Duration = s.Now().Sub(started)
	path, err := s.Out.RunReport(rep)
	if err != nil {
		return err
	}
	rep.Artifacts = append(rep.Artifacts, path)
	logger.C(ctx).Info().
		Int("repositories", rep.Repositories).
		Int("strata", rep.Strata).
		Int("deficiencies", len(rep.Deficiencies)).
		Strs("warnings", rep.Warnings).
		Dur("took", rep.Duration).
		Msg("analysis: run finished")
	return nil
}

// Full aggregates the archive, derives thresholds, classifies every repository and writes the artifacts.
// An archive without events in the window yields an empty report and an EmptyCorpus error
func (s *Service) Full(ctx context.Context) (*domain.Report, error) {
	ctx, rep, started := s.begin(ctx, "full")

	if err := s.Cfg.Strata.Validate(); err != nil {
		return rep, err
	}

	res, err := metrics.Aggregate(ctx, s.Src, metrics.Options{
		Window:      s.Cfg.Window,
		Workers:     s.Cfg.Workers,
		IncludeBots: s.Cfg.IncludeBots,
	})
	rep.Scan = res.Scan
	if err != nil {
		if perr.IsCode(err, perr.ErrorCodeEmptyCorpus) {
			pmetrics.Repositories.Set(0)
			pmetrics.Deficiencies.Set(0)
			rep.Warnings = append(rep.Warnings, err.Error())
			if ferr := s.finish(ctx, rep, started); ferr != nil {
				return rep, ferr
			}
		}
		return rep, err
	}
	rep.Deficiencies = res.Deficiencies

	var col strata.Collector
	for _, r := range res.Repos {
		col.Add(r.Vector)
	}
	set, warnings, err := col.Compute(s.Cfg.Strata)
	if err != nil {
		return rep, err
	}
	rep.Warnings = append(rep.Warnings, warnings...)

	classified := make([]domain.Classified, len(res.Repos))
	rows := make([]report.StratifiedRow, len(res.Repos))
	for i, r := range res.Repos {
		classified[i] = domain.Classified{RepoMetrics: r, Archetype: strata.Classify(r.Vector, set)}
		rows[i] = report.NewStratifiedRow(classified[i])
	}
	dist := Distribution(classified)
	rep.Repositories = len(classified)
	rep.Strata = len(dist)

	if err := s.write(rep, func() ([]string, error) {
		p, err := s.Out.Thresholds(rep.RunID, s.Cfg.Window, set, warnings)
		return []string{p}, err
	}); err != nil {
		return rep, err
	}
	if err := s.write(rep, func() ([]string, error) {
		p, err := s.Out.MetricsRaw(res.Repos)
		return []string{p}, err
	}); err != nil {
		return rep, err
	}
	if err := s.write(rep, func() ([]string, error) { return s.Out.Stratified(rows) }); err != nil {
		return rep, err
	}
	if err := s.write(rep, func() ([]string, error) {
		p, err := s.Out.Distribution(dist)
		return []string{p}, err
	}); err != nil {
		return rep, err
	}

	if s.Publisher != nil {
		n, err := s.Publisher.Publish(ctx, rep.RunID, classified)
		rep.Published = n
		if err != nil {
			return rep, perr.WithOp(err, "publish")
		}
	}

	pmetrics.Repositories.Set(float64(rep.Repositories))
	pmetrics.Deficiencies.Set(float64(len(rep.Deficiencies)))

	if len(dist) > 0 {
		logger.C(ctx).Info().
			Str("top_label", dist[0].Label).
			Float64("top_percent", dist[0].Percent).
			Msg("analysis: strata distribution")
	}
	return rep, s.finish(ctx, rep, started)
}

func (s *Service) write(rep *domain.Report, fn func() ([]string, error)) error {
	paths, err := fn()
	if err != nil {
		return err
	}
	rep.Artifacts = append(rep.Artifacts, paths...)
	return nil
}

// Distribution counts repositories per label, largest stratum first then by label
func Distribution(cs []domain.Classified) []domain.Stratum {
	counts := map[string]int{}
	for _, c := range cs {
		counts[c.Archetype.Label()]++
	}
	return strataOf(counts, len(cs))
}

func strataOf(counts map[string]int, total int) []domain.Stratum {
	out := make([]domain.Stratum, 0, len(counts))
	for label, n := range counts {
		out = append(out, domain.Stratum{Label: label, Repos: n, Percent: 100 * float64(n) / float64(total)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Repos != out[j].Repos {
			return out[i].Repos > out[j].Repos
		}
		return out[i].Label < out[j].Label
	})
	return out
}

// Profiles lists the archetype profile names
func (s *Service) Profiles() []string { return s.Catalog.Names() }
