// Package domain holds the data model and ports of the ingestion pipeline
package domain

import (
	"fmt"
	"time"

	"ghstrata/internal/adapters/ingest/gharchive"
)

// HourRef re-exports the hour reference used by the fetcher
type HourRef = gharchive.HourRef

// HoursPerDay is the number of slots in a DayIndex
const HoursPerDay = 24

// Status is the resolution state of an hour slot
type Status string

// Slot states. success and not_found are resolved and skipped on later runs;
// error stays eligible for another attempt
const (
	StatusPending  Status = "pending"
	StatusSuccess  Status = "success"
	StatusNotFound Status = "not_found"
	StatusError    Status = "error"
)

// Valid reports whether s is one of the four known states
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusSuccess, StatusNotFound, StatusError:
		return true
	}
	return false
}

// Resolved reports whether the slot must not be fetched again without force
func (s Status) Resolved() bool { return s == StatusSuccess || s == StatusNotFound }

// HourSlot is the durable state of one hour of one day
type HourSlot struct {
	Status          Status    `json:"status"`
	Attempts        int       `json:"attempts"`
	LastAttemptTime time.Time `json:"last_attempt_time,omitzero"`
	Parsed          int       `json:"parsed,omitempty"`
	Malformed       int       `json:"malformed,omitempty"`
	Distilled       int       `json:"distilled,omitempty"`
	Filtered        int       `json:"filtered,omitempty"`
	Dropped         int       `json:"dropped,omitempty"`
	Err             string    `json:"err,omitempty"`
}

// DayIndex owns the 24 slots of a date
type DayIndex struct {
	Date  time.Time // midnight UTC
	Hours [HoursPerDay]HourSlot
}

// NewDayIndex returns an index with every slot pending
func NewDayIndex(date time.Time) *DayIndex {
	d := &DayIndex{Date: DateOf(date)}
	for i := range d.Hours {
		d.Hours[i].Status = StatusPending
	}
	return d
}

// DayCounts are the derived day level aggregates
type DayCounts struct {
	HoursSucceeded  int `json:"hours_succeeded"`
	HoursNotFound   int `json:"hours_not_found"`
	HoursError      int `json:"hours_error"`
	HoursPending    int `json:"hours_pending"`
	EventsParsed    int `json:"events_parsed"`
	EventsDistilled int `json:"events_distilled"`
	EventsFiltered  int `json:"events_filtered"`
	EventsDropped   int `json:"events_dropped"`
}

// Counts derives the aggregates from the slots
func (d *DayIndex) Counts() DayCounts {
	var c DayCounts
	for _, h := range d.Hours {
		switch h.Status {
		case StatusSuccess:
			c.HoursSucceeded++
		case StatusNotFound:
			c.HoursNotFound++
		case StatusError:
			c.HoursError++
		default:
			c.HoursPending++
		}
		c.EventsParsed += h.Parsed
		c.EventsDistilled += h.Distilled
		c.EventsFiltered += h.Filtered
		c.EventsDropped += h.Dropped
	}
	return c
}

// HourStats are the counters of one successful read
type HourStats struct {
	Parsed    int
	Malformed int
	Distilled int
	Filtered  int
	Dropped   int
}

// Attempt is the outcome of one fetch attempt, applied by DayIndex.Record
type Attempt struct {
	Hour   int
	At     time.Time
	Status Status
	Stats  HourStats
	Err    error
}

// Record applies an attempt to its slot
func (d *DayIndex) Record(a Attempt) {
	s := &d.Hours[a.Hour]
	s.Status = a.Status
	s.Attempts++
	s.LastAttemptTime = a.At.UTC()
	s.Parsed = a.Stats.Parsed
	s.Malformed = a.Stats.Malformed
	s.Distilled = a.Stats.Distilled
	s.Filtered = a.Stats.Filtered
	s.Dropped = a.Stats.Dropped
	s.Err = ""
	if a.Err != nil {
		s.Err = a.Err.Error()
	}
}

// Reset puts a slot back to pending, used by forced re-fetches of unresolved state
func (d *DayIndex) Reset(hour int) { d.Hours[hour] = HourSlot{Status: StatusPending} }

// DateOf truncates t to midnight UTC
func DateOf(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// DateKey formats a date as YYYY-MM-DD
func DateKey(t time.Time) string { return t.UTC().Format(time.DateOnly) }

// SlotRef names an hour slot in reports
type SlotRef struct {
	Date string `json:"date"`
	Hour int    `json:"hour"`
	Err  string `json:"err,omitempty"`
}

// String returns date/hour
func (s SlotRef) String() string { return fmt.Sprintf("%s/%02d", s.Date, s.Hour) }

// DateFailure is a date that could not be processed (corrupt index or failed finalize)
type DateFailure struct {
	Date string `json:"date"`
	Err  string `json:"err"`
}

// PartitionResult summarizes one finalize
type PartitionResult struct {
	Date       string `json:"date"`
	Path       string `json:"path"`
	Staged     int    `json:"staged"`
	Existing   int    `json:"existing"`
	Added      int    `json:"added"`
	Duplicates int    `json:"duplicates"`
	Rows       int    `json:"rows"`
	Unchanged  bool   `json:"unchanged,omitempty"`
}

// Report is the end of run summary
type Report struct {
	RunID       string            `json:"run_id"`
	Requested   int               `json:"requested"`
	Deferred    int               `json:"deferred,omitempty"`
	Skipped     int               `json:"skipped"`
	Succeeded   int               `json:"succeeded"`
	NotFound    int               `json:"not_found"`
	Failed      int               `json:"failed"`
	Events      HourStats         `json:"events"`
	FailedSlots []SlotRef         `json:"failed_slots,omitempty"`
	FailedDates []DateFailure     `json:"failed_dates,omitempty"`
	Partitions  []PartitionResult `json:"partitions,omitempty"`
	Canceled    bool              `json:"canceled,omitempty"`
	Elapsed     time.Duration     `json:"elapsed"`
}

// Partial reports whether anything was left unresolved
func (r *Report) Partial() bool {
	return len(r.FailedSlots) > 0 || len(r.FailedDates) > 0 || r.Canceled
}

// Info describes the dataset on disk
type Info struct {
	Root        string    `json:"root"`
	SizeBytes   int64     `json:"size_bytes"`
	Days        int       `json:"days"`
	Partitions  int       `json:"partitions"`
	First       time.Time `json:"first,omitzero"`
	Last        time.Time `json:"last,omitzero"`
	HoursTotal  int       `json:"hours_total"`
	HoursFound  int       `json:"hours_found"`
	HoursAbsent int       `json:"hours_absent"`
	HoursError  int       `json:"hours_error"`
	Coverage    float64   `json:"coverage"`
	Staged      []string  `json:"staged,omitempty"`
	Corrupt     []string  `json:"corrupt,omitempty"`
}
