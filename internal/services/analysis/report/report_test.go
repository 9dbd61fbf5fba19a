package report

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ghstrata/internal/core/strata"
	perr "ghstrata/internal/platform/errors"
	"ghstrata/internal/services/analysis/domain"
)

var first = time.Date(2024, 1, 2, 3, 0, 0, 0, time.UTC)

func classified(id int64, pop float64, cat strata.Category) domain.Classified {
	var v strata.Vector
	v[strata.PopularityCum] = pop
	v[strata.PopularityNorm] = pop / 10
	var a strata.Archetype
	a[strata.PopularityCum] = cat
	a[strata.PopularityNorm] = cat
	return domain.Classified{
		RepoMetrics: domain.RepoMetrics{RepoID: id, RepoName: "o/r", First: first, Last: first.Add(time.Hour), AgeDays: 10, Vector: v},
		Archetype:   a,
	}
}

func TestStratifiedRoundTrip(t *testing.T) {
	w := NewWriter(t.TempDir())
	in := []StratifiedRow{NewStratifiedRow(classified(1, 5, strata.Low)), NewStratifiedRow(classified(2, 500, strata.High))}

	paths, err := w.Stratified(in)
	require.NoError(t, err)
	require.Len(t, paths, 2)

	out, err := w.ReadStratified()
	require.NoError(t, err)
	require.Equal(t, in, out)

	c, ok := out[1].Classified()
	require.True(t, ok)
	assert.Equal(t, strata.High, c.Archetype[strata.PopularityCum])
	assert.Equal(t, 500.0, c.Vector[strata.PopularityCum])
	assert.Equal(t, first, c.First)
	assert.Equal(t, "High|Zero|Zero|Zero|High|Zero|Zero|Zero", out[1].Label)

	csvBytes, err := os.ReadFile(paths[1])
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(csvBytes)), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "repo_id,repo_name,first_event,last_event,age_days,popularity_cum,"))
	assert.True(t, strings.HasSuffix(lines[0], ",volume_norm_cat,label"))
	assert.True(t, strings.HasPrefix(lines[1], "1,o/r,2024-01-02T03:00:00Z,2024-01-02T04:00:00Z,10,5,0,0,0,0.5,"))
}

func TestReadStratifiedMissing(t *testing.T) {
	_, err := NewWriter(t.TempDir()).ReadStratified()
	require.Error(t, err)
	assert.True(t, perr.IsCode(err, perr.ErrorCodeNotFound))
}

func TestClassifiedRejectsUnknownCategory(t *testing.T) {
	r := NewStratifiedRow(classified(1, 5, strata.Low))
	r.VolumeCumCat = "Huge"
	_, ok := r.Classified()
	assert.False(t, ok)
}

func TestThresholdsRoundTrip(t *testing.T) {
	w := NewWriter(t.TempDir())
	var set strata.ThresholdSet
	set.Quantiles = []float64{0.5, 0.9, 0.99}
	set.Metrics[strata.VolumeCum] = strata.Boundaries{Cuts: []float64{1, 2, 3}, Giant: 9, Min: 1, Max: 9, N: 4}

	path, err := w.Thresholds("run-1", domain.Window{Start: first}, set, []string{"warn"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(w.Dir(), ThresholdsFile), path)

	got, err := ReadThresholds(path)
	require.NoError(t, err)
	assert.Equal(t, set.Quantiles, got.Quantiles)
	assert.Equal(t, set.Metrics[strata.VolumeCum], got.Metrics[strata.VolumeCum])
}

func TestDistributionAndSummaryCSV(t *testing.T) {
	w := NewWriter(t.TempDir())
	p, err := w.Distribution([]domain.Stratum{{Label: "a", Repos: 2, Percent: 66.666}, {Label: "b", Repos: 1, Percent: 33.333}})
	require.NoError(t, err)
	b, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, "label,repositories,percent\na,2,66.67\nb,1,33.33\n", string(b))

	p, err = w.Summary([]SummaryRow{{Section: "metric", Key: "volume_cum", Count: 3, Mean: 2, Median: 2, P90: 3, Max: 3}})
	require.NoError(t, err)
	b, err = os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, "section,key,count,mean,median,p90,max,percent\nmetric,volume_cum,3,2,2,3,3,0.00\n", string(b))
}

func TestEventLogRoundTrip(t *testing.T) {
	w := NewWriter(t.TempDir())
	log := domain.EventLog{RepoID: 7, Profile: "giant", Events: []domain.LogEvent{
		{CaseID: 7, Activity: "PushEvent", Actor: "a", Timestamp: first, EventID: "1"},
		{CaseID: 7, Activity: "PullRequestEvent/opened", Actor: "b, c", Timestamp: first.Add(time.Minute), EventID: "2"},
	}}
	path, err := w.EventLog(log)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(w.Dir(), EventLogDir, "giant", "7.csv"), path)

	got, err := ReadEventLog(path)
	require.NoError(t, err)
	assert.Equal(t, log.RepoID, got.RepoID)
	assert.Equal(t, "giant", got.Profile)
	assert.Equal(t, log.Events, got.Events)

	_, err = w.FlowModel(log, domain.FlowModel{
		Activities: []string{"PushEvent", "PullRequestEvent/opened"},
		Edges:      map[[2]string]int{{"PushEvent", "PullRequestEvent/opened"}: 1},
	})
	require.NoError(t, err)

	logs, err := w.EventLogs()
	require.NoError(t, err)
	assert.Equal(t, map[string][]string{"giant": {path}}, logs)
}

func TestWritesLeaveNoTempFiles(t *testing.T) {
	w := NewWriter(t.TempDir())
	_, err := w.MetricsRaw([]domain.RepoMetrics{classified(1, 1, strata.Low).RepoMetrics})
	require.NoError(t, err)
	_, err = w.RunReport(&domain.Report{RunID: "x"})
	require.NoError(t, err)

	entries, err := os.ReadDir(w.Dir())
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{MetricsRawFile, RunReportFile}, names)
}
