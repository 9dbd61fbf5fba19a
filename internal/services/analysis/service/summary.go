package service

import (
	"context"
	"path/filepath"
	"sort"
	"strings"

	"github.com/montanaflynn/stats"

	"ghstrata/internal/core/strata"
	"ghstrata/internal/services/analysis/domain"
	"ghstrata/internal/services/analysis/report"
)

// Summary describes the last full run and the exported event logs in quantitative_summary.csv:
// per metric distribution, per stratum share and per sampled log actor concentration
func (s *Service) Summary(ctx context.Context) (*domain.Report, error) {
	ctx, rep, started := s.begin(ctx, "summary")

	rows, err := s.Out.ReadStratified()
	if err != nil {
		return rep, err
	}
	rep.Repositories = len(rows)

	var out []report.SummaryRow
	out = append(out, MetricRows(rows)...)

	counts := map[string]int{}
	for _, r := range rows {
		counts[r.Label]++
	}
	dist := strataOf(counts, len(rows))
	rep.Strata = len(dist)
	for _, d := range dist {
		out = append(out, report.SummaryRow{Section: "stratum", Key: d.Label, Count: d.Repos, Percent: d.Percent})
	}

	logs, err := s.Out.EventLogs()
	if err != nil {
		return rep, err
	}
	profilesSeen := make([]string, 0, len(logs))
	for p := range logs {
		profilesSeen = append(profilesSeen, p)
	}
	sort.Strings(profilesSeen)
	for _, p := range profilesSeen {
		for _, path := range logs[p] {
			el, err := report.ReadEventLog(path)
			if err != nil {
				rep.Warnings = append(rep.Warnings, err.Error())
				continue
			}
			key := p + "/" + strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
			out = append(out, SampleRow(key, el))
		}
	}

	path, err := s.Out.Summary(out)
	if err != nil {
		return rep, err
	}
	rep.Artifacts = append(rep.Artifacts, path)
	return rep, s.finish(ctx, rep, started)
}

// MetricRows computes count, mean, median, p90 and max of every metric over the stratified rows
func MetricRows(rows []report.StratifiedRow) []report.SummaryRow {
	cols := make([]stats.Float64Data, strata.NumMetrics)
	for _, r := range rows {
		for i, v := range r.Vector() {
			cols[i] = append(cols[i], v)
		}
	}
	out := make([]report.SummaryRow, 0, strata.NumMetrics)
	for _, m := range strata.Metrics() {
		out = append(out, describe("metric", m.String(), cols[m]))
	}
	return out
}

// SampleRow summarizes one event log: Count is events, Mean/Median/P90 are events per actor,
// Max is the busiest actor and Percent that actor's share of the log
func SampleRow(key string, el domain.EventLog) report.SummaryRow {
	perActor := map[string]float64{}
	for _, e := range el.Events {
		perActor[e.Actor]++
	}
	data := make(stats.Float64Data, 0, len(perActor))
	for _, n := range perActor {
		data = append(data, n)
	}
	row := describe("sample", key, data)
	row.Count = len(el.Events)
	if row.Count > 0 {
		row.Percent = 100 * row.Max / float64(row.Count)
	}
	return row
}

func describe(section, key string, data stats.Float64Data) report.SummaryRow {
	row := report.SummaryRow{Section: section, Key: key, Count: len(data)}
	if len(data) == 0 {
		return row
	}
	row.Mean, _ = stats.Mean(data)
	row.Median, _ = stats.Median(data)
	row.Max, _ = stats.Max(data)
	if p, err := stats.Percentile(data, 90); err == nil {
		row.P90 = p
	} else {
		// too few samples to interpolate
		row.P90 = row.Max
	}
	return row
}
