// Package module wires the analysis service from configuration
package module

import (
	"ghstrata/internal/adapters/columnar"
	"ghstrata/internal/core/strata"
	"ghstrata/internal/modkit"
	"ghstrata/internal/services/analysis/domain"
	"ghstrata/internal/services/analysis/profiles"
	"ghstrata/internal/services/analysis/publish"
	"ghstrata/internal/services/analysis/report"
	"ghstrata/internal/services/analysis/service"
)

// Ports defines the analysis module ports
type Ports struct {
	Runner domain.RunnerPort
}

// Module implements the analysis module
type Module struct {
	deps  modkit.Deps
	opts  Options
	svc   *service.Service
	ports Ports
}

// New constructs the analysis module from deps.Cfg overridden by fns.
// Runs are published to clickhouse when deps.CH is set
func New(deps modkit.Deps, fns ...func(*Options)) (*Module, error) {
	opts := FromConfig(deps.Cfg)
	for _, fn := range fns {
		fn(&opts)
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	set, err := profiles.Load(opts.ProfilesFile)
	if err != nil {
		return nil, err
	}

	svc := service.New(
		columnar.New(opts.DatasetDir),
		report.NewWriter(opts.OutputDir),
		set,
		service.Config{
			Window:      domain.Window{Start: opts.Start, End: opts.End},
			Workers:     opts.Workers,
			IncludeBots: opts.IncludeBots,
			Strata:      strata.Config{Quantiles: opts.Quantiles, GiantFactor: opts.GiantFactor},
		},
	)
	if deps.Publishes() {
		svc.Publisher = publish.New(deps.CH, opts.PublishBatch)
	}

	deps.Log.Debug().
		Str("dataset", opts.DatasetDir).
		Str("output", opts.OutputDir).
		Floats64("quantiles", opts.Quantiles).
		Bool("publish", svc.Publisher != nil).
		Strs("profiles", set.Names()).
		Msg("analysis: module ready")

	return &Module{deps: deps, opts: opts, svc: svc, ports: Ports{Runner: svc}}, nil
}

// SetMiner hands exported event logs to m
func (m *Module) SetMiner(miner domain.Miner) { m.svc.Miner = miner }

// Options returns the effective options
func (m *Module) Options() Options { return m.opts }

// Close is a no op; the clickhouse connection belongs to the caller
func (m *Module) Close() error { return nil }

// Name returns the module name
func (m *Module) Name() string { return "analysis" }

// Ports returns the module ports
func (m *Module) Ports() any { return m.ports }
