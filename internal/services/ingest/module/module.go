// Package module wires the ingest service from configuration
package module

import (
	"ghstrata/internal/adapters/columnar"
	"ghstrata/internal/adapters/ingest/gharchive"
	"ghstrata/internal/adapters/staging"
	"ghstrata/internal/modkit"
	"ghstrata/internal/services/ingest/domain"
	"ghstrata/internal/services/ingest/index"
	"ghstrata/internal/services/ingest/service"
)

// Ports defines the ingest module ports
type Ports struct {
	Runner domain.RunnerPort
}

// Module implements the ingest module
type Module struct {
	deps  modkit.Deps
	opts  Options
	stage *staging.Store
	ports Ports
}

// New constructs the ingest module from deps.Cfg overridden by fns
func New(deps modkit.Deps, fns ...func(*Options)) (*Module, error) {
	opts := FromConfig(deps.Cfg)
	for _, fn := range fns {
		fn(&opts)
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	httpF := gharchive.NewHTTPFetcher(opts.BaseURL, 0)
	var fetch domain.Fetcher = httpF
	if opts.CacheDir != "" {
		cf, err := gharchive.NewHourCache(opts.CacheDir, httpF,
			gharchive.WithRevalidate(opts.RefreshRecent),
			gharchive.WithRetention(opts.RetainMaxAge, opts.RetainMaxBytes),
		)
		if err != nil {
			return nil, err
		}
		fetch = cf
	}

	stage := staging.New(opts.DatasetDir, opts.StageBatch)
	svc := service.New(
		index.New(opts.DatasetDir),
		stage,
		columnar.New(opts.DatasetDir, columnar.WithRowGroupRows(opts.RowGroupRows)),
		fetch,
		service.Config{
			Workers:         opts.Workers,
			MaxRetries:      opts.MaxRetries,
			RetryBase:       opts.RetryBase,
			FetchTimeout:    opts.FetchTimeout,
			ReadTimeout:     opts.ReadTimeout,
			FinalizeTimeout: opts.FinalizeTimeout,
			MaxRangeHours:   opts.MaxRangeHours,
			Root:            opts.DatasetDir,
		},
	)

	deps.Log.Debug().
		Str("dataset", opts.DatasetDir).
		Str("base_url", opts.BaseURL).
		Str("cache", opts.CacheDir).
		Int("workers", opts.Workers).
		Msg("ingest: module ready")

	return &Module{deps: deps, opts: opts, stage: stage, ports: Ports{Runner: svc}}, nil
}

// SetForce toggles re-fetching of resolved slots
func (m *Module) SetForce(force bool) {
	if s, ok := m.ports.Runner.(*service.Service); ok {
		s.Cfg.Force = force
	}
}

// Options returns the effective options
func (m *Module) Options() Options { return m.opts }

// Close releases staging handles
func (m *Module) Close() error { return m.stage.Close() }

// Name returns the module name
func (m *Module) Name() string { return "ingest" }

// Ports returns the module ports
func (m *Module) Ports() any { return m.ports }
