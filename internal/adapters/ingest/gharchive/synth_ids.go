package gharchive

import (
	"encoding/binary"
	"encoding/json"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"ghstrata/internal/core/normalize"
)

// Pre-2015 lines carry no actor.id or repo.id and the oldest no event id at
// all. Missing ids are derived from name based UUIDs: events keep the UUID text,
// actors and repos get its first 8 bytes as a negative int64 so they can never
// meet a real GitHub id

var (
	eventSpace = uuid.MustParse("7b0b9c56-4a51-5d4f-9a0e-3f0e5d1c2a11")
	actorSpace = uuid.NewSHA1(eventSpace, []byte("actor"))
	repoSpace  = uuid.NewSHA1(eventSpace, []byte("repo"))
)

// SyntheticActorID is the id used for a legacy login, 0 for an empty one
func SyntheticActorID(login string) int64 {
	return negativeID(actorSpace, normalize.Login(login))
}

// SyntheticRepoIDFromName is the id used for a legacy "owner/repo", 0 for an empty one
func SyntheticRepoIDFromName(fullName string) int64 {
	return negativeID(repoSpace, CanonRepoName(fullName))
}

// SyntheticEventID names a line without an id by its bytes
func SyntheticEventID(raw []byte) string {
	return uuid.NewSHA1(eventSpace, raw).String()
}

func negativeID(space uuid.UUID, key string) int64 {
	if key == "" {
		return 0
	}
	u := uuid.NewSHA1(space, []byte(key))
	v := int64(binary.BigEndian.Uint64(u[:8]) >> 1)
	if v == 0 {
		v = 1
	}
	return -v
}

// FillSyntheticIDs fills whichever of actor, repo and event id is missing,
// falling back to the legacy actor_attributes and repository fields for names.
// It reports whether anything was filled
func (e *EventEnvelope) FillSyntheticIDs() bool {
	var hints *legacyHints
	hint := func() *legacyHints {
		if hints == nil {
			hints = sniffLegacy(e.Raw)
		}
		return hints
	}

	filled := false
	if e.Actor.ID == 0 {
		login := normalize.Login(e.Actor.Login)
		if login == "" {
			login = hint().login
		}
		if login != "" {
			e.Actor.Login, e.Actor.ID = login, SyntheticActorID(login)
			filled = true
		}
	}
	if e.Repo.ID == 0 {
		name := CanonRepoName(e.Repo.Name)
		if name == "" {
			name = hint().repo
		}
		if name != "" {
			e.Repo.Name, e.Repo.ID = name, SyntheticRepoIDFromName(name)
			filled = true
		}
	}
	if e.ID == "" && len(e.Raw) > 0 {
		e.ID = SyntheticEventID(e.Raw)
		filled = true
	}
	return filled
}

// CanonRepoName folds a repo reference to "owner/repo". URLs, scp style git
// remotes and API paths are accepted; only the last two path segments count
func CanonRepoName(s string) string {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "://") {
		if u, err := url.Parse(s); err == nil {
			s = u.Path
		}
	} else if at, colon := strings.IndexByte(s, '@'), strings.LastIndexByte(s, ':'); at >= 0 && colon > at {
		s = s[colon+1:]
	}

	s = normalize.RepoName(s)
	parts := strings.Split(s, "/")
	if n := len(parts); n > 2 {
		return parts[n-2] + "/" + parts[n-1]
	}
	return s
}

type legacyHints struct{ login, repo string }

// sniffLegacy reads names from the pre-2015 line shape, where actor may be a
// bare login and repository.owner a string or an object
func sniffLegacy(raw []byte) *legacyHints {
	h := &legacyHints{}
	if len(raw) == 0 {
		return h
	}
	var line struct {
		Actor      json.RawMessage `json:"actor"`
		Attributes struct {
			Login string `json:"login"`
		} `json:"actor_attributes"`
		Repository struct {
			Name  string          `json:"name"`
			Owner json.RawMessage `json:"owner"`
			URL   string          `json:"url"`
		} `json:"repository"`
	}
	if json.Unmarshal(raw, &line) != nil {
		return h
	}

	h.login = normalize.Login(line.Attributes.Login)
	if h.login == "" {
		var s string
		if json.Unmarshal(line.Actor, &s) == nil {
			h.login = normalize.Login(s)
		}
	}

	owner := ownerName(line.Repository.Owner)
	if name := strings.TrimSpace(line.Repository.Name); owner != "" && name != "" {
		h.repo = CanonRepoName(owner + "/" + name)
	} else if line.Repository.URL != "" {
		h.repo = CanonRepoName(line.Repository.URL)
	}
	return h
}

func ownerName(raw json.RawMessage) string {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return strings.TrimSpace(s)
	}
	var o struct{ Login, Name string }
	if json.Unmarshal(raw, &o) == nil {
		if o.Login != "" {
			return strings.TrimSpace(o.Login)
		}
		return strings.TrimSpace(o.Name)
	}
	return ""
}
