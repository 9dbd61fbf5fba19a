package module

import (
	"time"

	"ghstrata/internal/core/strata"
	"ghstrata/internal/platform/config"
	perr "ghstrata/internal/platform/errors"
)

// Options holds configuration options for the analysis module
type Options struct {
	DatasetDir string `validate:"required"`
	OutputDir  string `validate:"required"`

	// Start and End bound the analysis; zero is open. End is exclusive,
	// a date without a time of day covers that whole day
	Start time.Time
	End   time.Time

	Quantiles   []float64 `validate:"min=1,max=3,dive,quantile"`
	GiantFactor float64   `validate:"gte=0"`
	Workers     int       `validate:"gte=0,max=256"`
	IncludeBots bool

	// ProfilesFile extends and overrides the built in archetype profiles
	ProfilesFile string

	PublishBatch int `validate:"gte=0"`

	// MetricsFile receives a prometheus textfile at the end of a run when set
	MetricsFile string
}

// FromConfig reads GHSTRATA_DATASET_DIR, GHSTRATA_OUTPUT_DIR and the GHSTRATA_ANALYSIS_ knobs
func FromConfig(cfg config.Conf) Options {
	root := cfg.Prefix("GHSTRATA_")
	an := root.Prefix("ANALYSIS_")
	end := an.MayTime("END")
	if !end.IsZero() && end.Equal(end.Truncate(24*time.Hour)) {
		end = end.AddDate(0, 0, 1)
	}
	return Options{
		DatasetDir:   root.MayString("DATASET_DIR", "./dataset"),
		OutputDir:    root.MayString("OUTPUT_DIR", "./out"),
		Start:        an.MayTime("START"),
		End:          end,
		Quantiles:    an.MayFloats("QUANTILES", strata.DefaultQuantiles),
		GiantFactor:  an.MayFloat64("GIANT_FACTOR", 0),
		Workers:      an.MayInt("WORKERS", 0),
		IncludeBots:  an.MayBool("INCLUDE_BOTS", false),
		ProfilesFile: an.MayString("PROFILES_FILE", ""),
		PublishBatch: an.MayInt("PUBLISH_BATCH", 0),
		MetricsFile:  an.MayString("METRICS_FILE", ""),
	}
}

// Validate checks the struct tags and the window
func (o Options) Validate() error {
	if err := config.Validate(o); err != nil {
		return err
	}
	if !o.Start.IsZero() && !o.End.IsZero() && !o.End.After(o.Start) {
		return perr.WithField(perr.Newf(perr.ErrorCodeValidation, "invalid options: end %s is not after start %s",
			o.End.Format(time.RFC3339), o.Start.Format(time.RFC3339)), "End")
	}
	return strata.Config{Quantiles: o.Quantiles, GiantFactor: o.GiantFactor}.Validate()
}
