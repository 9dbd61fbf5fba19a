// Package extract distills GH Archive envelopes into the compact event record
// stored in the columnar archive
package extract

import (
	"encoding/json"
	"strings"

	"ghstrata/internal/adapters/ingest/gharchive"
	"ghstrata/internal/core/events"
)

// Outcome classifies what happened to one envelope
type Outcome uint8

const (
	// Kept means the record belongs in the archive
	Kept Outcome = iota

	// Filtered means the event type is outside the admitted set; dropped silently
	Filtered

	// Violation means a required field is missing; dropped and counted
	Violation
)

// String returns the outcome label used in logs and metrics
func (o Outcome) String() string {
	switch o {
	case Kept:
		return "distilled"
	case Filtered:
		return "filtered"
	default:
		return "dropped"
	}
}

// payload holds the few type-specific fields we keep; everything else stays in the raw line
type payload struct {
	Action  string            `json:"action"`
	Size    *int64            `json:"size"`
	Commits []json.RawMessage `json:"commits"`
	RefType string            `json:"ref_type"`
}

// Distill projects env onto events.Record
// Legacy envelopes get synthetic ids before the required field check
func Distill(env gharchive.EventEnvelope) (events.Record, Outcome) {
	if !events.Admitted(env.Type) {
		return events.Record{}, Filtered
	}

	env.FillSyntheticIDs()

	repoName := strings.TrimSpace(env.Repo.Name)
	if repoName == "" || env.Actor.ID == 0 || env.CreatedAt.IsZero() || env.ID == "" {
		return events.Record{}, Violation
	}

	rec := events.Record{
		EventID:     env.ID,
		Type:        env.Type,
		PayloadType: events.PayloadType(env.Type),
		RepoID:      env.Repo.ID,
		RepoName:    repoName,
		ActorID:     env.Actor.ID,
		ActorLogin:  env.Actor.Login,
		CreatedAtMS: env.CreatedAt.UnixMilli(),
	}

	var p payload
	if len(env.Payload) > 0 && json.Unmarshal(env.Payload, &p) == nil {
		rec.Action = p.Action
		switch events.Type(env.Type) {
		case events.Push:
			if p.Size != nil {
				rec.PushSize = *p.Size
			} else {
				rec.PushSize = int64(len(p.Commits))
			}
		case events.Create, events.Delete:
			rec.RefType = p.RefType
		}
	}
	return rec, Kept
}
