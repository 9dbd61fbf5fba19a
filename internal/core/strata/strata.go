// Package strata turns per repository metric vectors into quantile thresholds
// and discrete archetype labels
package strata

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Metric indexes one of the eight dimensions of a Vector
type Metric int

// Cumulative metrics first, then the same four divided by age in days
const (
	PopularityCum Metric = iota
	EngagementCum
	CollaborationCum
	VolumeCum
	PopularityNorm
	EngagementNorm
	CollaborationNorm
	VolumeNorm

	NumMetrics
)

var metricNames = [NumMetrics]string{
	"popularity_cum",
	"engagement_cum",
	"collaboration_cum",
	"volume_cum",
	"popularity_norm",
	"engagement_norm",
	"collaboration_norm",
	"volume_norm",
}

// String returns the column name of the metric
func (m Metric) String() string {
	if m < 0 || m >= NumMetrics {
		return fmt.Sprintf("metric(%d)", int(m))
	}
	return metricNames[m]
}

// Normalized returns the age normalized counterpart of a cumulative metric, or m itself
func (m Metric) Normalized() Metric {
	if m < PopularityNorm {
		return m + PopularityNorm
	}
	return m
}

// Metrics returns every metric in column order
func Metrics() []Metric {
	out := make([]Metric, NumMetrics)
	for i := range out {
		out[i] = Metric(i)
	}
	return out
}

// ParseMetric resolves a column name
func ParseMetric(s string) (Metric, bool) {
	for i, n := range metricNames {
		if n == s {
			return Metric(i), true
		}
	}
	return 0, false
}

// Vector holds one value per metric
type Vector [NumMetrics]float64

// Category is a bin of a metric distribution
type Category uint8

// Bins in ascending order
const (
	Zero Category = iota
	Low
	Medium
	High
	Giant
)

var categoryNames = [...]string{"Zero", "Low", "Medium", "High", "Giant"}

// String returns the category label
func (c Category) String() string {
	if int(c) < len(categoryNames) {
		return categoryNames[c]
	}
	return fmt.Sprintf("category(%d)", uint8(c))
}

// ParseCategory resolves a label, case sensitive
func ParseCategory(s string) (Category, bool) {
	for i, n := range categoryNames {
		if n == s {
			return Category(i), true
		}
	}
	return 0, false
}

// MarshalText writes the label
func (c Category) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

// UnmarshalText reads a label
func (c *Category) UnmarshalText(b []byte) error {
	v, ok := ParseCategory(string(b))
	if !ok {
		return fmt.Errorf("strata: unknown category %q", string(b))
	}
	*c = v
	return nil
}

// Archetype is one category per metric
type Archetype [NumMetrics]Category

// Label joins the categories in metric order with "|"
func (a Archetype) Label() string {
	parts := make([]string, NumMetrics)
	for i, c := range a {
		parts[i] = c.String()
	}
	return strings.Join(parts, "|")
}

// Boundaries are the cut points of one metric
// Cuts holds one value per configured quantile; Giant is the lower edge of the top bin
type Boundaries struct {
	Cuts  []float64 `json:"cuts"`
	Giant float64   `json:"giant"`
	Min   float64   `json:"min"`
	Max   float64   `json:"max"`
	N     int       `json:"n"`
	Empty bool      `json:"empty,omitempty"`
}

// ThresholdSet is the immutable per run result of Compute
type ThresholdSet struct {
	Quantiles   []float64
	GiantFactor float64
	Metrics     [NumMetrics]Boundaries
}

// thresholdJSON is the persisted shape, keyed by metric name
type thresholdJSON struct {
	Quantiles   []float64             `json:"quantiles"`
	GiantFactor float64               `json:"giant_factor"`
	Metrics     map[string]Boundaries `json:"metrics"`
}

// MarshalJSON writes metrics keyed by column name
func (s ThresholdSet) MarshalJSON() ([]byte, error) {
	out := thresholdJSON{Quantiles: s.Quantiles, GiantFactor: s.GiantFactor, Metrics: map[string]Boundaries{}}
	for i, b := range s.Metrics {
		out.Metrics[Metric(i).String()] = b
	}
	return json.Marshal(out)
}

// UnmarshalJSON reads the shape written by MarshalJSON
func (s *ThresholdSet) UnmarshalJSON(b []byte) error {
	var in thresholdJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	s.Quantiles = in.Quantiles
	s.GiantFactor = in.GiantFactor
	for name, bd := range in.Metrics {
		m, ok := ParseMetric(name)
		if !ok {
			return fmt.Errorf("strata: unknown metric %q", name)
		}
		s.Metrics[m] = bd
	}
	return nil
}

// Bin places v against b
// [0,p50) Zero, [p50,p90) Low, [p90,p99) Medium, [p99,giant) High, [giant,inf) Giant
// Non positive values are always Zero; a metric without positive values puts everything in Zero.
// Giant needs a cutoff above the last quantile, a degenerate distribution tops out at High
func (b Boundaries) Bin(v float64) Category {
	if v <= 0 || b.Empty || len(b.Cuts) == 0 {
		return Zero
	}
	if v >= b.Giant && b.Giant > b.Cuts[len(b.Cuts)-1] {
		return Giant
	}
	cat := Zero
	for i, cut := range b.Cuts {
		if v < cut {
			break
		}
		cat = Category(min(i+1, int(High)))
	}
	return cat
}

// Classify maps a vector to its archetype under set
// Pure: identical vectors under the same set always get the same archetype
func Classify(v Vector, set ThresholdSet) Archetype {
	var a Archetype
	for i := range v {
		a[i] = set.Metrics[i].Bin(v[i])
	}
	return a
}
