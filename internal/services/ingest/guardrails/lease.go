package guardrails

import (
	"context"
	"sync"
	"time"
)

// DateLocks hands out one lease per date so index read-modify-write, staging and finalize of a
// date never interleave. Dates are independent. Entries are dropped once nobody holds or waits
type DateLocks struct {
	mu    sync.Mutex
	slots map[string]*dateSlot
}

type dateSlot struct {
	ch   chan struct{}
	refs int
}

// NewDateLocks returns an empty lock table
func NewDateLocks() *DateLocks { return &DateLocks{slots: map[string]*dateSlot{}} }

func (l *DateLocks) acquire(key string) *dateSlot {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.slots[key]
	if !ok {
		s = &dateSlot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	return s
}

func (l *DateLocks) release(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if s := l.slots[key]; s != nil {
		s.refs--
		if s.refs == 0 {
			delete(l.slots, key)
		}
	}
}

// With runs do while holding the lease of date. Waiting honors ctx
func (l *DateLocks) With(ctx context.Context, date time.Time, do func(context.Context) error) error {
	key := date.UTC().Format(time.DateOnly)
	s := l.acquire(key)
	defer l.release(key)

	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-s.ch }()
	return do(ctx)
}
