package report

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/parquet-go/parquet-go"

	"ghstrata/internal/core/strata"
	perr "ghstrata/internal/platform/errors"
	"ghstrata/internal/services/analysis/domain"
)

// Artifact file names inside the output directory
const (
	ThresholdsFile    = "stratification_thresholds.json"
	MetricsRawFile    = "metrics_raw.parquet"
	StratifiedParquet = "repositories_stratified.parquet"
	StratifiedCSV     = "repositories_stratified.csv"
	DistributionFile  = "group_distribution.csv"
	SummaryFile       = "quantitative_summary.csv"
	RunReportFile     = "run_report.json"
	EventLogDir       = "event_logs"
	eventLogSuffix    = ".csv"
	flowModelSuffix   = ".model.json"
)

// Writer places artifacts under one directory; every file is written to a temp name and renamed
type Writer struct {
	dir string
}

// NewWriter returns a writer rooted at dir
func NewWriter(dir string) *Writer { return &Writer{dir: dir} }

// Dir returns the output directory
func (w *Writer) Dir() string { return w.dir }

// Path returns the location of name inside the output directory
func (w *Writer) Path(name string) string { return filepath.Join(w.dir, name) }

func writeFile(path string, fill func(io.Writer) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return perr.Wrapf(err, perr.ErrorCodeStorage, "report: mkdir for %s", path)
	}
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return perr.Wrapf(err, perr.ErrorCodeStorage, "report: create temp for %s", path)
	}
	tmp := f.Name()
	defer os.Remove(tmp)

	bw := bufio.NewWriter(f)
	if err := fill(bw); err != nil {
		_ = f.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		_ = f.Close()
		return perr.Wrapf(err, perr.ErrorCodeStorage, "report: write %s", path)
	}
	if err := f.Close(); err != nil {
		return perr.Wrapf(err, perr.ErrorCodeStorage, "report: close %s", path)
	}
	if err := os.Rename(tmp, path); err != nil {
		return perr.Wrapf(err, perr.ErrorCodeStorage, "report: rename %s", path)
	}
	return nil
}

func writeJSON(path string, v any) error {
	return writeFile(path, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(v); err != nil {
			return perr.Wrapf(err, perr.ErrorCodeJSON, "report: encode %s", path)
		}
		return nil
	})
}

func writeParquet[T any](path string, rows []T) error {
	return writeFile(path, func(w io.Writer) error {
		pw := parquet.NewGenericWriter[T](w, parquet.Compression(&parquet.Zstd))
		if _, err := pw.Write(rows); err != nil {
			return perr.Wrapf(err, perr.ErrorCodeStorage, "report: parquet rows for %s", path)
		}
		if err := pw.Close(); err != nil {
			return perr.Wrapf(err, perr.ErrorCodeStorage, "report: parquet footer for %s", path)
		}
		return nil
	})
}

func writeCSV(path string, header []string, rows func(emit func([]string) error) error) error {
	return writeFile(path, func(w io.Writer) error {
		cw := csv.NewWriter(w)
		if err := cw.Write(header); err != nil {
			return perr.Wrapf(err, perr.ErrorCodeStorage, "report: csv header for %s", path)
		}
		if err := rows(cw.Write); err != nil {
			return perr.Wrapf(err, perr.ErrorCodeStorage, "report: csv rows for %s", path)
		}
		cw.Flush()
		return cw.Error()
	})
}

// thresholdsDoc is the persisted threshold artifact
type thresholdsDoc struct {
	RunID       string              `json:"run_id"`
	GeneratedAt time.Time           `json:"generated_at"`
	Window      domain.Window       `json:"window"`
	Thresholds  strata.ThresholdSet `json:"thresholds"`
	Warnings    []string            `json:"warnings,omitempty"`
}

// Thresholds writes stratification_thresholds.json
func (w *Writer) Thresholds(runID string, win domain.Window, set strata.ThresholdSet, warnings []string) (string, error) {
	path := w.Path(ThresholdsFile)
	return path, writeJSON(path, thresholdsDoc{
		RunID:       runID,
		GeneratedAt: time.Now().UTC(),
		Window:      win,
		Thresholds:  set,
		Warnings:    warnings,
	})
}

// ReadThresholds loads a threshold artifact
func ReadThresholds(path string) (strata.ThresholdSet, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return strata.ThresholdSet{}, perr.Wrapf(err, perr.ErrorCodeNotFound, "report: read %s", path)
	}
	var doc thresholdsDoc
	if err := json.Unmarshal(b, &doc); err != nil {
		return strata.ThresholdSet{}, perr.Wrapf(err, perr.ErrorCodeCorrupt, "report: decode %s", path)
	}
	return doc.Thresholds, nil
}

// MetricsRaw writes metrics_raw.parquet
func (w *Writer) MetricsRaw(repos []domain.RepoMetrics) (string, error) {
	rows := make([]MetricsRow, len(repos))
	for i, r := range repos {
		rows[i] = NewMetricsRow(r)
	}
	path := w.Path(MetricsRawFile)
	return path, writeParquet(path, rows)
}

// Stratified writes repositories_stratified.parquet and .csv
func (w *Writer) Stratified(rows []StratifiedRow) ([]string, error) {
	pq, cs := w.Path(StratifiedParquet), w.Path(StratifiedCSV)
	if err := writeParquet(pq, rows); err != nil {
		return nil, err
	}
	err := writeCSV(cs, stratifiedHeader(), func(emit func([]string) error) error {
		for _, r := range rows {
			if err := emit(r.record()); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return []string{pq, cs}, nil
}

// ReadStratified loads repositories_stratified.parquet from the output directory
func (w *Writer) ReadStratified() ([]StratifiedRow, error) {
	path := w.Path(StratifiedParquet)
	if _, err := os.Stat(path); err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeNotFound, "report: %s (run the full analysis first)", path)
	}
	rows, err := parquet.ReadFile[StratifiedRow](path)
	if err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeCorrupt, "report: read %s", path)
	}
	return rows, nil
}

// Distribution writes group_distribution.csv
func (w *Writer) Distribution(dist []domain.Stratum) (string, error) {
	path := w.Path(DistributionFile)
	return path, writeCSV(path, []string{"label", "repositories", "percent"}, func(emit func([]string) error) error {
		for _, s := range dist {
			if err := emit([]string{s.Label, strconv.Itoa(s.Repos), strconv.FormatFloat(s.Percent, 'f', 2, 64)}); err != nil {
				return err
			}
		}
		return nil
	})
}

// SummaryRow is one line of quantitative_summary.csv.
// Sections: "metric" (per metric distribution), "stratum" (per label), "sample" (per sampled event log)
type SummaryRow struct {
	Section string
	Key     string
	Count   int
	Mean    float64
	Median  float64
	P90     float64
	Max     float64
	Percent float64
}

// Summary writes quantitative_summary.csv
func (w *Writer) Summary(rows []SummaryRow) (string, error) {
	path := w.Path(SummaryFile)
	header := []string{"section", "key", "count", "mean", "median", "p90", "max", "percent"}
	return path, writeCSV(path, header, func(emit func([]string) error) error {
		for _, r := range rows {
			rec := []string{
				r.Section, r.Key, strconv.Itoa(r.Count),
				formatFloat(r.Mean), formatFloat(r.Median), formatFloat(r.P90), formatFloat(r.Max),
				strconv.FormatFloat(r.Percent, 'f', 2, 64),
			}
			if err := emit(rec); err != nil {
				return err
			}
		}
		return nil
	})
}

// RunReport writes run_report.json
func (w *Writer) RunReport(r *domain.Report) (string, error) {
	path := w.Path(RunReportFile)
	return path, writeJSON(path, r)
}

func (w *Writer) logPath(profile string, repoID int64, suffix string) string {
	return filepath.Join(w.dir, EventLogDir, profile, strconv.FormatInt(repoID, 10)+suffix)
}

var eventLogHeader = []string{"case_id", "activity", "actor", "timestamp", "event_id"}

// EventLog writes event_logs/<profile>/<repo id>.csv
func (w *Writer) EventLog(log domain.EventLog) (string, error) {
	path := w.logPath(log.Profile, log.RepoID, eventLogSuffix)
	return path, writeCSV(path, eventLogHeader, func(emit func([]string) error) error {
		for _, e := range log.Events {
			rec := []string{strconv.FormatInt(e.CaseID, 10), e.Activity, e.Actor, e.Timestamp.UTC().Format(time.RFC3339), e.EventID}
			if err := emit(rec); err != nil {
				return err
			}
		}
		return nil
	})
}

// flowModelDoc is the JSON shape of a mined model
type flowModelDoc struct {
	RepoID     int64          `json:"repo_id"`
	Profile    string         `json:"profile"`
	Activities []string       `json:"activities"`
	Edges      []flowModelArc `json:"edges"`
}

type flowModelArc struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Count int    `json:"count"`
}

// FlowModel writes event_logs/<profile>/<repo id>.model.json next to the log it was mined from
func (w *Writer) FlowModel(log domain.EventLog, m domain.FlowModel) (string, error) {
	doc := flowModelDoc{RepoID: log.RepoID, Profile: log.Profile, Activities: m.Activities, Edges: []flowModelArc{}}
	for k, n := range m.Edges {
		doc.Edges = append(doc.Edges, flowModelArc{From: k[0], To: k[1], Count: n})
	}
	sortArcs(doc.Edges)
	path := w.logPath(log.Profile, log.RepoID, flowModelSuffix)
	return path, writeJSON(path, doc)
}

func sortArcs(arcs []flowModelArc) {
	sort.Slice(arcs, func(i, j int) bool {
		if arcs[i].Count != arcs[j].Count {
			return arcs[i].Count > arcs[j].Count
		}
		if arcs[i].From != arcs[j].From {
			return arcs[i].From < arcs[j].From
		}
		return arcs[i].To < arcs[j].To
	})
}

// ClearEventLogs removes the logs and models of one profile
func (w *Writer) ClearEventLogs(profile string) error {
	dir := filepath.Join(w.dir, EventLogDir, profile)
	if err := os.RemoveAll(dir); err != nil {
		return perr.Wrapf(err, perr.ErrorCodeStorage, "report: clear %s", dir)
	}
	return nil
}

// EventLogs lists the written logs as profile -> files
func (w *Writer) EventLogs() (map[string][]string, error) {
	root := filepath.Join(w.dir, EventLogDir)
	out := map[string][]string{}
	profiles, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return out, nil
		}
		return nil, perr.Wrapf(err, perr.ErrorCodeStorage, "report: list %s", root)
	}
	for _, p := range profiles {
		if !p.IsDir() {
			continue
		}
		files, err := filepath.Glob(filepath.Join(root, p.Name(), "*"+eventLogSuffix))
		if err != nil {
			return nil, perr.Wrapf(err, perr.ErrorCodeStorage, "report: glob %s", p.Name())
		}
		out[p.Name()] = files
	}
	return out, nil
}

// ReadEventLog parses a log written by EventLog
func ReadEventLog(path string) (domain.EventLog, error) {
	var log domain.EventLog
	f, err := os.Open(path)
	if err != nil {
		return log, perr.Wrapf(err, perr.ErrorCodeNotFound, "report: open %s", path)
	}
	defer f.Close()

	log.Profile = filepath.Base(filepath.Dir(path))
	r := csv.NewReader(bufio.NewReader(f))
	r.FieldsPerRecord = len(eventLogHeader)
	recs, err := r.ReadAll()
	if err != nil {
		return log, perr.Wrapf(err, perr.ErrorCodeCorrupt, "report: parse %s", path)
	}
	for i, rec := range recs {
		if i == 0 {
			continue
		}
		id, err := strconv.ParseInt(rec[0], 10, 64)
		if err != nil {
			return log, perr.Corruptf("report: %s line %d: bad case id %q", path, i+1, rec[0])
		}
		ts, err := time.Parse(time.RFC3339, rec[3])
		if err != nil {
			return log, perr.Corruptf("report: %s line %d: bad timestamp %q", path, i+1, rec[3])
		}
		log.RepoID = id
		log.Events = append(log.Events, domain.LogEvent{CaseID: id, Activity: rec[1], Actor: rec[2], Timestamp: ts, EventID: rec[4]})
	}
	return log, nil
}
