package strata

import (
	"math"

	"github.com/montanaflynn/stats"

	perr "ghstrata/internal/platform/errors"
)

// DefaultQuantiles are the p50/p90/p99 cut points
var DefaultQuantiles = []float64{0.5, 0.9, 0.99}

// Config controls threshold computation
// GiantFactor > 1 puts the Giant edge at last cut × factor; otherwise Giant starts at the maximum
type Config struct {
	Quantiles   []float64
	GiantFactor float64
}

// Validate checks quantiles are strictly increasing inside (0,1)
func (c Config) Validate() error {
	if len(c.Quantiles) == 0 {
		return perr.InvalidArgf("strata: no quantiles configured")
	}
	if len(c.Quantiles) > int(High) {
		return perr.InvalidArgf("strata: at most %d quantiles, got %d", int(High), len(c.Quantiles))
	}
	prev := 0.0
	for _, q := range c.Quantiles {
		if q <= prev || q >= 1 || math.IsNaN(q) {
			return perr.InvalidArgf("strata: quantiles must be strictly increasing in (0,1), got %v", c.Quantiles)
		}
		prev = q
	}
	if c.GiantFactor < 0 || math.IsNaN(c.GiantFactor) || math.IsInf(c.GiantFactor, 0) {
		return perr.InvalidArgf("strata: giant factor must be finite and non negative, got %v", c.GiantFactor)
	}
	return nil
}

// Collector gathers the strictly positive values of every metric
// Memory is bounded by the number of repositories, never by events
type Collector struct {
	values [NumMetrics][]float64
	n      int
}

// Add records one repository vector; non finite values are ignored
func (c *Collector) Add(v Vector) {
	c.n++
	for i, x := range v {
		if x > 0 && !math.IsInf(x, 0) {
			c.values[i] = append(c.values[i], x)
		}
	}
}

// Len returns the number of vectors added
func (c *Collector) Len() int { return c.n }

// Compute returns the threshold set and one warning per metric without positive values
// The result only depends on the multiset of values, never on insertion order
func (c *Collector) Compute(cfg Config) (ThresholdSet, []string, error) {
	if err := cfg.Validate(); err != nil {
		return ThresholdSet{}, nil, err
	}
	set := ThresholdSet{
		Quantiles:   append([]float64(nil), cfg.Quantiles...),
		GiantFactor: cfg.GiantFactor,
	}
	var warnings []string
	for i := range set.Metrics {
		b := boundaries(c.values[i], cfg)
		if b.Empty {
			warnings = append(warnings, Metric(i).String()+": no positive values, every repository is Zero")
		}
		set.Metrics[i] = b
	}
	return set, warnings, nil
}

func boundaries(data stats.Float64Data, cfg Config) Boundaries {
	b := Boundaries{Cuts: make([]float64, len(cfg.Quantiles)), N: len(data)}
	if len(data) == 0 {
		b.Empty = true
		return b
	}
	b.Min, _ = stats.Min(data)
	b.Max, _ = stats.Max(data)

	for i, q := range cfg.Quantiles {
		p, err := stats.Percentile(data, q*100)
		if err != nil || math.IsNaN(p) {
			// too few samples to interpolate at this rank
			p = b.Min
		}
		if i > 0 && p < b.Cuts[i-1] {
			p = b.Cuts[i-1]
		}
		b.Cuts[i] = p
	}

	last := b.Cuts[len(b.Cuts)-1]
	if cfg.GiantFactor > 1 {
		b.Giant = last * cfg.GiantFactor
	} else {
		b.Giant = b.Max
	}
	return b
}
