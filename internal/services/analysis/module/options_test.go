package module

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ghstrata/internal/core/strata"
	"ghstrata/internal/modkit"
	"ghstrata/internal/platform/config"
	perr "ghstrata/internal/platform/errors"
	"ghstrata/internal/platform/store"
	"ghstrata/internal/services/analysis/domain"
	"ghstrata/internal/services/analysis/service"
)

func TestFromConfigDefaults(t *testing.T) {
	for _, k := range []string{"GHSTRATA_OUTPUT_DIR", "GHSTRATA_ANALYSIS_QUANTILES", "GHSTRATA_ANALYSIS_START", "GHSTRATA_ANALYSIS_END"} {
		t.Setenv(k, "")
	}
	o := FromConfig(config.New())
	assert.Equal(t, "./out", o.OutputDir)
	assert.Equal(t, strata.DefaultQuantiles, o.Quantiles)
	assert.True(t, o.Start.IsZero())
	assert.True(t, o.End.IsZero())
	require.NoError(t, o.Validate())
}

func TestFromConfigWindow(t *testing.T) {
	t.Setenv("GHSTRATA_ANALYSIS_START", "2024-01-01")
	t.Setenv("GHSTRATA_ANALYSIS_END", "2024-01-31")
	t.Setenv("GHSTRATA_ANALYSIS_QUANTILES", "0.25,0.75")
	t.Setenv("GHSTRATA_ANALYSIS_INCLUDE_BOTS", "true")

	o := FromConfig(config.New())
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), o.Start)
	assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), o.End, "a bare end date is inclusive")
	assert.Equal(t, []float64{0.25, 0.75}, o.Quantiles)
	assert.True(t, o.IncludeBots)

	t.Setenv("GHSTRATA_ANALYSIS_END", "2024-01-31T12:00:00Z")
	o = FromConfig(config.New())
	assert.Equal(t, time.Date(2024, 1, 31, 12, 0, 0, 0, time.UTC), o.End)
}

func TestValidateRejects(t *testing.T) {
	base := FromConfig(config.New())
	cases := map[string]func(*Options){
		"quantile out of range": func(o *Options) { o.Quantiles = []float64{0.5, 1.5} },
		"quantiles unordered":   func(o *Options) { o.Quantiles = []float64{0.9, 0.5} },
		"too many quantiles":    func(o *Options) { o.Quantiles = []float64{0.1, 0.2, 0.3, 0.4} },
		"negative giant":        func(o *Options) { o.GiantFactor = -2 },
		"empty window":          func(o *Options) { o.Start, o.End = time.Unix(100, 0), time.Unix(100, 0) },
		"no output":             func(o *Options) { o.OutputDir = "" },
	}
	for name, mut := range cases {
		o := base
		o.Quantiles = append([]float64(nil), base.Quantiles...)
		mut(&o)
		assert.Error(t, o.Validate(), name)
	}

	o := base
	o.OutputDir = ""
	assert.True(t, perr.IsCode(o.Validate(), perr.ErrorCodeValidation))
}

type nopCH struct{}

func (nopCH) Exec(context.Context, string, ...any) error { return nil }
func (nopCH) Insert(context.Context, string, [][]any) error { return nil }
func (nopCH) Query(context.Context, string, ...any) (store.Rows, error) { return nil, nil }
func (nopCH) Close() error { return nil }

func TestNewWiresRunner(t *testing.T) {
	m, err := New(modkit.Deps{Cfg: config.New()}, func(o *Options) {
		o.DatasetDir = t.TempDir()
		o.OutputDir = t.TempDir()
	})
	require.NoError(t, err)
	assert.Equal(t, "analysis", m.Name())
	assert.NoError(t, m.Close())

	r, ok := modkit.PortsOf[domain.RunnerPort](m)
	require.True(t, ok)
	assert.Contains(t, r.Profiles(), "giant-collaborative-popular")
	assert.Nil(t, r.(*service.Service).Publisher)

	m, err = New(modkit.Deps{Cfg: config.New(), CH: nopCH{}}, func(o *Options) {
		o.DatasetDir = t.TempDir()
		o.OutputDir = t.TempDir()
	})
	require.NoError(t, err)
	assert.NotNil(t, m.svc.Publisher)
}

func TestNewRejectsMissingProfilesFile(t *testing.T) {
	_, err := New(modkit.Deps{Cfg: config.New()}, func(o *Options) {
		o.DatasetDir = t.TempDir()
		o.OutputDir = t.TempDir()
		o.ProfilesFile = "/does/not/exist.yaml"
	})
	require.Error(t, err)
	assert.True(t, perr.IsCode(err, perr.ErrorCodeInvalidArgument))
}
