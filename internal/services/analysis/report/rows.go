// Package report writes analysis artifacts to the output directory
package report

import (
	"strconv"
	"time"

	"ghstrata/internal/core/strata"
	"ghstrata/internal/services/analysis/domain"
)

// MetricsRow is one line of metrics_raw.parquet
type MetricsRow struct {
	RepoID            int64   `parquet:"repo_id"`
	RepoName          string  `parquet:"repo_name"`
	FirstEventMS      int64   `parquet:"first_event_ms"`
	LastEventMS       int64   `parquet:"last_event_ms"`
	AgeDays           int64   `parquet:"age_days"`
	PopularityCum     float64 `parquet:"popularity_cum"`
	EngagementCum     float64 `parquet:"engagement_cum"`
	CollaborationCum  float64 `parquet:"collaboration_cum"`
	VolumeCum         float64 `parquet:"volume_cum"`
	PopularityNorm    float64 `parquet:"popularity_norm"`
	EngagementNorm    float64 `parquet:"engagement_norm"`
	CollaborationNorm float64 `parquet:"collaboration_norm"`
	VolumeNorm        float64 `parquet:"volume_norm"`
}

// StratifiedRow is one line of repositories_stratified.{parquet,csv}
type StratifiedRow struct {
	RepoID               int64   `parquet:"repo_id"`
	RepoName             string  `parquet:"repo_name"`
	FirstEventMS         int64   `parquet:"first_event_ms"`
	LastEventMS          int64   `parquet:"last_event_ms"`
	AgeDays              int64   `parquet:"age_days"`
	PopularityCum        float64 `parquet:"popularity_cum"`
	EngagementCum        float64 `parquet:"engagement_cum"`
	CollaborationCum     float64 `parquet:"collaboration_cum"`
	VolumeCum            float64 `parquet:"volume_cum"`
	PopularityNorm       float64 `parquet:"popularity_norm"`
	EngagementNorm       float64 `parquet:"engagement_norm"`
	CollaborationNorm    float64 `parquet:"collaboration_norm"`
	VolumeNorm           float64 `parquet:"volume_norm"`
	PopularityCumCat     string  `parquet:"popularity_cum_cat,dict"`
	EngagementCumCat     string  `parquet:"engagement_cum_cat,dict"`
	CollaborationCumCat  string  `parquet:"collaboration_cum_cat,dict"`
	VolumeCumCat         string  `parquet:"volume_cum_cat,dict"`
	PopularityNormCat    string  `parquet:"popularity_norm_cat,dict"`
	EngagementNormCat    string  `parquet:"engagement_norm_cat,dict"`
	CollaborationNormCat string  `parquet:"collaboration_norm_cat,dict"`
	VolumeNormCat        string  `parquet:"volume_norm_cat,dict"`
	Label                string  `parquet:"label,dict"`
}

// NewMetricsRow flattens m
func NewMetricsRow(m domain.RepoMetrics) MetricsRow {
	v := m.Vector
	return MetricsRow{
		RepoID:            m.RepoID,
		RepoName:          m.RepoName,
		FirstEventMS:      m.First.UnixMilli(),
		LastEventMS:       m.Last.UnixMilli(),
		AgeDays:           m.AgeDays,
		PopularityCum:     v[strata.PopularityCum],
		EngagementCum:     v[strata.EngagementCum],
		CollaborationCum:  v[strata.CollaborationCum],
		VolumeCum:         v[strata.VolumeCum],
		PopularityNorm:    v[strata.PopularityNorm],
		EngagementNorm:    v[strata.EngagementNorm],
		CollaborationNorm: v[strata.CollaborationNorm],
		VolumeNorm:        v[strata.VolumeNorm],
	}
}

// NewStratifiedRow flattens c
func NewStratifiedRow(c domain.Classified) StratifiedRow {
	m := NewMetricsRow(c.RepoMetrics)
	a := c.Archetype
	return StratifiedRow{
		RepoID:               m.RepoID,
		RepoName:             m.RepoName,
		FirstEventMS:         m.FirstEventMS,
		LastEventMS:          m.LastEventMS,
		AgeDays:              m.AgeDays,
		PopularityCum:        m.PopularityCum,
		EngagementCum:        m.EngagementCum,
		CollaborationCum:     m.CollaborationCum,
		VolumeCum:            m.VolumeCum,
		PopularityNorm:       m.PopularityNorm,
		EngagementNorm:       m.EngagementNorm,
		CollaborationNorm:    m.CollaborationNorm,
		VolumeNorm:           m.VolumeNorm,
		PopularityCumCat:     a[strata.PopularityCum].String(),
		EngagementCumCat:     a[strata.EngagementCum].String(),
		CollaborationCumCat:  a[strata.CollaborationCum].String(),
		VolumeCumCat:         a[strata.VolumeCum].String(),
		PopularityNormCat:    a[strata.PopularityNorm].String(),
		EngagementNormCat:    a[strata.EngagementNorm].String(),
		CollaborationNormCat: a[strata.CollaborationNorm].String(),
		VolumeNormCat:        a[strata.VolumeNorm].String(),
		Label:                a.Label(),
	}
}

// Vector rebuilds the metric vector
func (r StratifiedRow) Vector() strata.Vector {
	return strata.Vector{
		r.PopularityCum, r.EngagementCum, r.CollaborationCum, r.VolumeCum,
		r.PopularityNorm, r.EngagementNorm, r.CollaborationNorm, r.VolumeNorm,
	}
}

func (r StratifiedRow) cats() [strata.NumMetrics]string {
	return [strata.NumMetrics]string{
		r.PopularityCumCat, r.EngagementCumCat, r.CollaborationCumCat, r.VolumeCumCat,
		r.PopularityNormCat, r.EngagementNormCat, r.CollaborationNormCat, r.VolumeNormCat,
	}
}

// Classified parses the row back; an unknown category label is reported with ok false
func (r StratifiedRow) Classified() (domain.Classified, bool) {
	c := domain.Classified{RepoMetrics: domain.RepoMetrics{
		RepoID:   r.RepoID,
		RepoName: r.RepoName,
		First:    time.UnixMilli(r.FirstEventMS).UTC(),
		Last:     time.UnixMilli(r.LastEventMS).UTC(),
		AgeDays:  r.AgeDays,
		Vector:   r.Vector(),
	}}
	for i, s := range r.cats() {
		cat, ok := strata.ParseCategory(s)
		if !ok {
			return c, false
		}
		c.Archetype[i] = cat
	}
	return c, true
}

func stratifiedHeader() []string {
	h := []string{"repo_id", "repo_name", "first_event", "last_event", "age_days"}
	for _, m := range strata.Metrics() {
		h = append(h, m.String())
	}
	for _, m := range strata.Metrics() {
		h = append(h, m.String()+"_cat")
	}
	return append(h, "label")
}

func (r StratifiedRow) record() []string {
	out := []string{
		strconv.FormatInt(r.RepoID, 10),
		r.RepoName,
		time.UnixMilli(r.FirstEventMS).UTC().Format(time.RFC3339),
		time.UnixMilli(r.LastEventMS).UTC().Format(time.RFC3339),
		strconv.FormatInt(r.AgeDays, 10),
	}
	for _, v := range r.Vector() {
		out = append(out, formatFloat(v))
	}
	c := r.cats()
	out = append(out, c[:]...)
	return append(out, r.Label)
}

func formatFloat(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
