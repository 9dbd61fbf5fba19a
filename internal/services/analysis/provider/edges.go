package provider

import (
	"sync"
	"time"

	"ghstrata/internal/adapters/columnar"
)

// EdgeMargin is how close to midnight an event must be created for its id to be shared with
// the neighbouring partition. An hour file holds events created shortly before it starts,
// so the same event can land in the last hour of one day and the first hour of the next
const EdgeMargin = 2 * time.Hour

const msPerDay = int64(24 * time.Hour / time.Millisecond)

// edgeSet remembers event ids created near a midnight shared by two scanned partitions.
// A midnight's ids are dropped once both of its partitions have been read
type edgeSet struct {
	mu     sync.Mutex
	margin int64
	bounds map[int64]*edgeIDs
}

type edgeIDs struct {
	ids     map[string]struct{}
	pending int
}

func newEdgeSet(parts []columnar.Partition, margin time.Duration) *edgeSet {
	s := &edgeSet{margin: margin.Milliseconds(), bounds: map[int64]*edgeIDs{}}
	for _, p := range parts {
		start := day(p.Date).UnixMilli()
		for _, b := range [2]int64{start, start + msPerDay} {
			e, ok := s.bounds[b]
			if !ok {
				e = &edgeIDs{ids: map[string]struct{}{}}
				s.bounds[b] = e
			}
			e.pending++
		}
	}
	for b, e := range s.bounds {
		if e.pending < 2 {
			delete(s.bounds, b)
		}
	}
	return s
}

// boundary returns the midnight an event created at ms sits next to, for the partition
// starting at start. Events created before the partition began belong to its first midnight
func (s *edgeSet) boundary(start, ms int64) (int64, bool) {
	switch {
	case s == nil:
		return 0, false
	case ms < start+s.margin:
		return start, true
	case ms >= start+msPerDay-s.margin:
		return start + msPerDay, true
	}
	return 0, false
}

// seen records id at midnight b and reports whether the other partition recorded it first
func (s *edgeSet) seen(b int64, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.bounds[b]
	if e == nil {
		return false
	}
	if _, ok := e.ids[id]; ok {
		return true
	}
	e.ids[id] = struct{}{}
	return false
}

// done releases the midnights of the partition starting at start
func (s *edgeSet) done(start int64) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range [2]int64{start, start + msPerDay} {
		if e := s.bounds[b]; e != nil {
			if e.pending--; e.pending == 0 {
				delete(s.bounds, b)
			}
		}
	}
}
