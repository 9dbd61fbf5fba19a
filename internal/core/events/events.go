// Package events defines the distilled event record stored in the columnar archive
// and the closed set of event types it admits
package events

import (
	"sort"
	"strings"
	"time"
)

// Type is a GH Archive event type name, e.g. "PushEvent"
type Type string

// Admitted event types. Anything else is filtered during distillation
const (
	CommitComment            Type = "CommitCommentEvent"
	Create                   Type = "CreateEvent"
	Delete                   Type = "DeleteEvent"
	Fork                     Type = "ForkEvent"
	Gollum                   Type = "GollumEvent"
	IssueComment             Type = "IssueCommentEvent"
	Issues                   Type = "IssuesEvent"
	Member                   Type = "MemberEvent"
	Public                   Type = "PublicEvent"
	PullRequest              Type = "PullRequestEvent"
	PullRequestReview        Type = "PullRequestReviewEvent"
	PullRequestReviewComment Type = "PullRequestReviewCommentEvent"
	Push                     Type = "PushEvent"
	Release                  Type = "ReleaseEvent"
	Sponsorship              Type = "SponsorshipEvent"
	Watch                    Type = "WatchEvent"
	WorkflowDispatch         Type = "WorkflowDispatchEvent"
	WorkflowJob              Type = "WorkflowJobEvent"
	WorkflowRun              Type = "WorkflowRunEvent"
)

// payloadTypes maps each admitted event type to its short payload family name
var payloadTypes = map[Type]string{
	CommitComment:            "CommitComment",
	Create:                   "Create",
	Delete:                   "Delete",
	Fork:                     "Fork",
	Gollum:                   "Gollum",
	IssueComment:             "IssueComment",
	Issues:                   "Issue",
	Member:                   "Member",
	Public:                   "Public",
	PullRequest:              "PullRequest",
	PullRequestReview:        "PullRequestReview",
	PullRequestReviewComment: "PullRequestReviewComment",
	Push:                     "Push",
	Release:                  "Release",
	Sponsorship:              "Sponsorship",
	Watch:                    "Watch",
	WorkflowDispatch:         "WorkflowDispatch",
	WorkflowJob:              "WorkflowJob",
	WorkflowRun:              "WorkflowRun",
}

// Admitted reports whether t is part of the distilled schema
func Admitted(t string) bool {
	_, ok := payloadTypes[Type(t)]
	return ok
}

// PayloadType returns the payload family for t, or "" when t is not admitted
func PayloadType(t string) string { return payloadTypes[Type(t)] }

// AdmittedTypes returns the admitted types in a stable order
func AdmittedTypes() []Type {
	out := make([]Type, 0, len(payloadTypes))
	for t := range payloadTypes {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Record is one distilled event. It is immutable once staged
type Record struct {
	EventID     string `json:"id" parquet:"event_id"`
	Type        string `json:"type" parquet:"event_type,dict"`
	PayloadType string `json:"payload_type" parquet:"payload_type,dict"`
	RepoID      int64  `json:"repo_id" parquet:"repo_id"`
	RepoName    string `json:"repo_name" parquet:"repo_name"`
	ActorID     int64  `json:"actor_id" parquet:"actor_id"`
	ActorLogin  string `json:"actor_login" parquet:"actor_login"`
	CreatedAtMS int64  `json:"created_at_ms" parquet:"created_at_ms"`
	Action      string `json:"action,omitempty" parquet:"action,dict"`
	PushSize    int64  `json:"push_size,omitempty" parquet:"push_size"`
	RefType     string `json:"ref_type,omitempty" parquet:"ref_type,dict"`
}

// CreatedAt returns the event time in UTC
func (r Record) CreatedAt() time.Time { return time.UnixMilli(r.CreatedAtMS).UTC() }

// Key returns the ordering key of the record, see SortKey
func (r Record) Key() string { return SortKey(r.EventID) }

// SortKey maps an event id to a key whose byte order is the event id order.
// Numeric ids (all modern events) compare numerically by left padding to 20 digits.
// Synthetic ids for legacy events sort after every numeric id.
func SortKey(id string) string {
	if id == "" {
		return ""
	}
	for i := 0; i < len(id); i++ {
		if id[i] < '0' || id[i] > '9' {
			return "~" + id
		}
	}
	if len(id) >= 20 {
		return id
	}
	return strings.Repeat("0", 20-len(id)) + id
}
