// Package domain holds the types shared by the analysis packages
package domain

import (
	"context"
	"time"

	"ghstrata/internal/core/strata"
)

// RepoMetrics is the metric vector of one repository
type RepoMetrics struct {
	RepoID   int64
	RepoName string
	First    time.Time
	Last     time.Time
	AgeDays  int64
	Vector   strata.Vector
}

// Classified is a repository with its archetype
type Classified struct {
	RepoMetrics
	Archetype strata.Archetype
}

// Deficiency is a repository that could not be classified
type Deficiency struct {
	RepoID int64  `json:"repo_id"`
	Reason string `json:"reason"`
}

// Window bounds an analysis run; zero values are open
type Window struct {
	Start time.Time `json:"start,omitzero"`
	End   time.Time `json:"end,omitzero"`
}

// ScanStats sums what the plan touched
type ScanStats struct {
	Partitions int   `json:"partitions"`
	RowGroups  int   `json:"row_groups"`
	Pruned     int   `json:"row_groups_pruned"`
	Rows       int64 `json:"rows"`
	Duplicates int64 `json:"duplicates"`
	Matched    int64 `json:"matched"`
}

// Stratum is one label with its share of the corpus
type Stratum struct {
	Label   string
	Repos   int
	Percent float64
}

// Report is the outcome of one analysis command
type Report struct {
	RunID        string             `json:"run_id"`
	Command      string             `json:"command"`
	Window       Window             `json:"window"`
	Scan         ScanStats          `json:"scan"`
	Repositories int                `json:"repositories"`
	Strata       int                `json:"strata"`
	Deficiencies []Deficiency       `json:"deficiencies,omitempty"`
	Warnings     []string           `json:"warnings,omitempty"`
	Artifacts    []string           `json:"artifacts"`
	Sampled      map[string][]int64 `json:"sampled,omitempty"`
	Published    int                `json:"published,omitempty"`
	Duration     time.Duration      `json:"duration"`
}

// Partial reports whether some repositories were left unclassified
func (r *Report) Partial() bool { return len(r.Deficiencies) > 0 }

// LogEvent is one row of a repository event log handed to a Miner
type LogEvent struct {
	CaseID    int64     // repository id
	Activity  string    // event type, suffixed with the action when present
	Actor     string
	Timestamp time.Time
	EventID   string
}

// EventLog is the time ordered core workflow log of one repository
type EventLog struct {
	RepoID   int64
	RepoName string
	Profile  string
	Events   []LogEvent
}

// FlowModel is whatever a miner derives from a log
// Nodes and Edges are enough for the summary; Raw carries the miner specific model
type FlowModel struct {
	Activities []string
	Edges      map[[2]string]int
	Raw        any
}

// Miner discovers a process model from an event log
type Miner interface {
	Mine(ctx context.Context, log EventLog) (FlowModel, error)
}

// RunnerPort is what the CLI drives
type RunnerPort interface {
	Full(ctx context.Context) (*Report, error)
	Archetype(ctx context.Context, name string) (*Report, error)
	Summary(ctx context.Context) (*Report, error)
	Profiles() []string
}
