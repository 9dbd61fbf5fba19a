package module

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ghstrata/internal/adapters/ingest/gharchive"
	"ghstrata/internal/modkit"
	"ghstrata/internal/platform/config"
	perr "ghstrata/internal/platform/errors"
	"ghstrata/internal/services/ingest/domain"
)

func TestFromConfigDefaults(t *testing.T) {
	t.Setenv("GHSTRATA_DATASET_DIR", "")
	t.Setenv("GHSTRATA_INGEST_WORKERS", "")
	t.Setenv("GHSTRATA_INGEST_BASE_URL", "")

	o := FromConfig(config.New())
	assert.Equal(t, "./dataset", o.DatasetDir)
	assert.Equal(t, 4, o.Workers)
	assert.Equal(t, 3, o.MaxRetries)
	assert.Equal(t, gharchive.DefaultBaseURL, o.BaseURL)
	assert.Empty(t, o.CacheDir)
	require.NoError(t, o.Validate())
}

func TestFromConfigOverrides(t *testing.T) {
	t.Setenv("GHSTRATA_DATASET_DIR", "/data/gh")
	t.Setenv("GHSTRATA_INGEST_WORKERS", "12")
	t.Setenv("GHSTRATA_INGEST_RETRIES", "5")
	t.Setenv("GHSTRATA_INGEST_RETAIN_MAX_DAYS", "2")
	t.Setenv("GHSTRATA_INGEST_FETCH_TIMEOUT", "30s")
	t.Setenv("GHSTRATA_INGEST_BASE_URL", "http://mirror.local/archive/")

	o := FromConfig(config.New())
	assert.Equal(t, "/data/gh", o.DatasetDir)
	assert.Equal(t, 12, o.Workers)
	assert.Equal(t, 5, o.MaxRetries)
	assert.Equal(t, 48*time.Hour, o.RetainMaxAge)
	assert.Equal(t, 30*time.Second, o.FetchTimeout)
	assert.Equal(t, "http://mirror.local/archive", o.BaseURL)
}

func TestValidateRejectsZeroWorkers(t *testing.T) {
	o := FromConfig(config.New())
	o.Workers = 0
	err := o.Validate()
	require.Error(t, err)
	assert.True(t, perr.IsCode(err, perr.ErrorCodeValidation))
}

func TestNewWiresRunner(t *testing.T) {
	dir := t.TempDir()
	m, err := New(modkit.Deps{Cfg: config.New()}, func(o *Options) {
		o.DatasetDir = dir
		o.CacheDir = t.TempDir()
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	assert.Equal(t, "ingest", m.Name())
	r, ok := modkit.PortsOf[domain.RunnerPort](m)
	require.True(t, ok)
	require.NotNil(t, r)
}

func TestNewRejectsInvalidOptions(t *testing.T) {
	_, err := New(modkit.Deps{Cfg: config.New()}, func(o *Options) { o.BaseURL = "" })
	require.Error(t, err)
}
