package module

import (
	"time"

	"ghstrata/internal/adapters/ingest/gharchive"
	"ghstrata/internal/platform/config"
)

// Options holds configuration options for the ingest module
type Options struct {
	DatasetDir string `validate:"required"`

	Workers       int           `validate:"min=1,max=256"`
	MaxRetries    int           `validate:"min=1,max=50"`
	RetryBase     time.Duration `validate:"gte=0"`
	MaxRangeHours int           `validate:"gte=0"`

	FetchTimeout    time.Duration `validate:"gte=0"`
	ReadTimeout     time.Duration `validate:"gte=0"`
	FinalizeTimeout time.Duration `validate:"gte=0"`

	BaseURL string `validate:"required,url"`

	// Raw hour cache; empty CacheDir fetches straight from BaseURL
	CacheDir       string
	RefreshRecent  time.Duration `validate:"gte=0"`
	RetainMaxAge   time.Duration `validate:"gte=0"`
	RetainMaxBytes int64         `validate:"gte=0"`

	StageBatch   int `validate:"gte=0"`
	RowGroupRows int `validate:"gte=0"`

	// MetricsFile receives a prometheus textfile at the end of a run when set
	MetricsFile string
}

// FromConfig reads GHSTRATA_DATASET_DIR and the GHSTRATA_INGEST_ knobs
func FromConfig(cfg config.Conf) Options {
	root := cfg.Prefix("GHSTRATA_")
	in := root.Prefix("INGEST_")
	return Options{
		DatasetDir:      root.MayString("DATASET_DIR", "./dataset"),
		Workers:         in.MayInt("WORKERS", 4),
		MaxRetries:      in.MayInt("RETRIES", 3),
		RetryBase:       in.MayDuration("RETRY_BASE", 500*time.Millisecond),
		MaxRangeHours:   in.MayInt("MAX_RANGE_HOURS", 0),
		FetchTimeout:    in.MayDuration("FETCH_TIMEOUT", 10*time.Minute),
		ReadTimeout:     in.MayDuration("READ_TIMEOUT", 10*time.Minute),
		FinalizeTimeout: in.MayDuration("FINALIZE_TIMEOUT", 0),
		BaseURL:         in.MayURL("BASE_URL", gharchive.DefaultBaseURL),
		CacheDir:        in.MayString("CACHE_DIR", ""),
		RefreshRecent:   in.MayDuration("REFRESH_RECENT", 0),
		RetainMaxAge:    time.Duration(in.MayInt("RETAIN_MAX_DAYS", 0)) * 24 * time.Hour,
		RetainMaxBytes:  in.MayInt64("RETAIN_MAX_BYTES", 0),
		StageBatch:      in.MayInt("BATCH", 0),
		RowGroupRows:    in.MayInt("ROW_GROUP_ROWS", 0),
		MetricsFile:     in.MayString("METRICS_FILE", ""),
	}
}

// Validate checks the struct tags
func (o Options) Validate() error { return config.Validate(o) }
