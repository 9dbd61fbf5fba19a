// Package metrics holds the process-wide prometheus collectors for ingest and analysis runs.
// Runs are batch jobs, so collectors are exported as a node-exporter textfile at the end of a run
// instead of being scraped.
package metrics

import (
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// Registry is the dedicated registry all collectors below are attached to
	Registry = prometheus.NewRegistry()

	// Ingest metrics
	SlotsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ghstrata_ingest_slots_total",
			Help: "Hour slot resolutions by final status",
		},
		[]string{"status"},
	)

	EventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ghstrata_ingest_events_total",
			Help: "Raw events seen during distillation by outcome",
		},
		[]string{"outcome"},
	)

	FetchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ghstrata_ingest_fetch_duration_seconds",
			Help:    "Time spent fetching and distilling one hour slot",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		},
	)

	PartitionsFinalized = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ghstrata_ingest_partitions_finalized_total",
			Help: "Day partitions written or merged",
		},
	)

	// Analysis metrics
	PartitionsScanned = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ghstrata_analysis_partitions_scanned_total",
			Help: "Columnar partitions opened by the query plan",
		},
	)

	RowGroupsPruned = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ghstrata_analysis_row_groups_pruned_total",
			Help: "Row groups skipped using column statistics",
		},
	)

	Repositories = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ghstrata_analysis_repositories",
			Help: "Repositories with a metric vector in the last analysis run",
		},
	)

	Deficiencies = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ghstrata_analysis_deficiencies",
			Help: "Repositories reported as unclassifiable in the last analysis run",
		},
	)
)

func init() {
	Registry.MustRegister(
		SlotsTotal,
		EventsTotal,
		FetchDuration,
		PartitionsFinalized,
		PartitionsScanned,
		RowGroupsPruned,
		Repositories,
		Deficiencies,
	)
}

// WriteTextfile writes the current state of Registry in the text exposition format.
// The write is atomic so a collector never reads a partial file. Empty path is a no-op.
func WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return prometheus.WriteToTextfile(path, Registry)
}
