package gharchive

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// HourRef identifies a GH Archive hour (UTC).
type HourRef struct {
	Year  int
	Month int
	Day   int
	Hour  int
}

// NewHourRef creates an HourRef from a time.Time, converting to UTC
func NewHourRef(t time.Time) HourRef {
	ut := t.UTC()
	return HourRef{Year: ut.Year(), Month: int(ut.Month()), Day: ut.Day(), Hour: ut.Hour()}
}

// String returns the string representation of the HourRef in GH Archive format
func (h HourRef) String() string {
	// Matches GH Archive naming: YYYY-MM-DD-H.json.gz
	return fmtHour(h.Year, h.Month, h.Day, h.Hour)
}

// Time returns the start of the hour in UTC
func (h HourRef) Time() time.Time {
	return time.Date(h.Year, time.Month(h.Month), h.Day, h.Hour, 0, 0, 0, time.UTC)
}

// Date returns midnight UTC of the hour's day
func (h HourRef) Date() time.Time {
	return time.Date(h.Year, time.Month(h.Month), h.Day, 0, 0, 0, 0, time.UTC)
}

// fmtHour formats the hour in GH Archive format: YYYY-MM-DD-H
func fmtHour(y, m, d, h int) string {
	return fmt.Sprintf("%04d-%02d-%02d-%d", y, m, d, h)
}

// EventEnvelope is the outer event format GH Archive stores per line.
// Payload stays raw for type-specific decode; Raw keeps the whole line for legacy shapes.
type EventEnvelope struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Actor     Actor           `json:"actor"`
	Repo      Repo            `json:"repo"`
	Payload   json.RawMessage `json:"payload"`
	Public    bool            `json:"public"`
	CreatedAt Timestamp       `json:"created_at"`

	Raw json.RawMessage `json:"-"`
}

// Actor is the user who triggered the event
type Actor struct {
	ID    int64  `json:"id"`
	Login string `json:"login"`
}

// UnmarshalJSON accepts both the modern object form and the pre-2015 bare login string
func (a *Actor) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var login string
		if err := json.Unmarshal(b, &login); err != nil {
			return err
		}
		*a = Actor{Login: login}
		return nil
	}
	type plain Actor
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*a = Actor(p)
	return nil
}

// Repo is the repository the event occurred in
type Repo struct {
	ID   int64  `json:"id"`
	Name string `json:"name"` // owner/name
}

// Timestamp is created_at, tolerant of the legacy "2012/03/10 12:00:00 -0800" layout
type Timestamp struct{ time.Time }

var legacyLayouts = []string{
	time.RFC3339Nano,
	"2006/01/02 15:04:05 -0700",
	"2006-01-02 15:04:05 -0700",
}

// UnmarshalJSON parses any known layout; unparseable values leave the zero time
func (t *Timestamp) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return nil
	}
	s = strings.TrimSpace(s)
	for _, layout := range legacyLayouts {
		if v, err := time.Parse(layout, s); err == nil {
			t.Time = v.UTC()
			return nil
		}
	}
	return nil
}

// MarshalJSON writes RFC3339 or null
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339))
}
