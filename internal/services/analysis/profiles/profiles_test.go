package profiles

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ghstrata/internal/core/strata"
	perr "ghstrata/internal/platform/errors"
)

func arch(cats map[strata.Metric]strata.Category) strata.Archetype {
	var a strata.Archetype
	for m, c := range cats {
		a[m] = c
	}
	return a
}

func TestBuiltinProfiles(t *testing.T) {
	s := Builtin()
	assert.Equal(t, []string{
		"giant-collaborative-popular",
		"giant-collaborative-unpopular",
		"giant-popular-noncollaborative",
	}, s.Names())

	p, err := s.Get("giant-popular-noncollaborative")
	require.NoError(t, err)
	assert.Equal(t, strata.CollaborationCum, p.SamplingMetric)
	assert.Equal(t, []strata.Metric{strata.PopularityNorm, strata.EngagementNorm, strata.CollaborationNorm, strata.VolumeNorm}, p.Metrics())

	hit := arch(map[strata.Metric]strata.Category{
		strata.PopularityNorm:    strata.Giant,
		strata.EngagementNorm:    strata.Low,
		strata.CollaborationNorm: strata.Zero,
		strata.VolumeNorm:        strata.Low,
		strata.PopularityCum:     strata.High, // unconstrained
	})
	assert.True(t, p.Matches(hit))

	miss := hit
	miss[strata.VolumeNorm] = strata.Medium
	assert.False(t, p.Matches(miss))
}

func TestGetUnknown(t *testing.T) {
	_, err := Builtin().Get("nope")
	require.Error(t, err)
	assert.True(t, perr.IsCode(err, perr.ErrorCodeNotFound))
}

func TestLoadOverridesAndExtends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
profiles:
  - name: giant-collaborative-popular
    sampling_metric: volume_cum
    match:
      popularity_cum: [High, Giant]
  - name: quiet
    match:
      volume_norm: [Zero]
`), 0o644))

	s, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, s.Names(), 4)

	p, err := s.Get("giant-collaborative-popular")
	require.NoError(t, err)
	assert.Equal(t, strata.VolumeCum, p.SamplingMetric)
	assert.Equal(t, []strata.Metric{strata.PopularityCum}, p.Metrics())

	q, err := s.Get("quiet")
	require.NoError(t, err)
	assert.Equal(t, strata.CollaborationCum, q.SamplingMetric)
	assert.True(t, q.Matches(strata.Archetype{}))
}

func TestParseRejectsBadDocuments(t *testing.T) {
	bad := map[string]string{
		"unknown metric":   "profiles:\n  - name: x\n    match:\n      stars: [Zero]\n",
		"unknown category": "profiles:\n  - name: x\n    match:\n      volume_cum: [Huge]\n",
		"empty match":      "profiles:\n  - name: x\n",
		"missing name":     "profiles:\n  - match:\n      volume_cum: [Zero]\n",
		"unknown field":    "profiles:\n  - name: x\n    color: red\n    match:\n      volume_cum: [Zero]\n",
		"duplicate":        "profiles:\n  - name: x\n    match: {volume_cum: [Zero]}\n  - name: x\n    match: {volume_cum: [Low]}\n",
		"sampling metric":  "profiles:\n  - name: x\n    sampling_metric: stars\n    match: {volume_cum: [Zero]}\n",
	}
	for name, doc := range bad {
		_, err := Parse([]byte(doc))
		assert.Error(t, err, name)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	s, err := Load("")
	require.NoError(t, err)
	assert.Len(t, s.Names(), 3)
}
