// Package store opens the optional backends a command may write to. Today that
// is clickhouse, used to publish stratification runs
package store

import (
	"context"
	"errors"
	"fmt"

	"ghstrata/internal/platform/logger"
	"ghstrata/internal/platform/store/ch"
)

// Store holds the opened backends; a nil field means the backend is disabled
type Store struct {
	Log logger.Logger
	CH  Clickhouse
}

// Rows is a result set cursor
type Rows = ch.Rows

// Clickhouse is the subset of the client the services use
type Clickhouse interface {
	Exec(ctx context.Context, sql string, args ...any) error
	// Insert sends rows as one batch in table column order
	Insert(ctx context.Context, table string, rows [][]any) error
	Query(ctx context.Context, sql string, args ...any) (Rows, error)
	Close() error
}

// Pinger is implemented by backends that can report readiness
type Pinger interface{ Ping(context.Context) error }

var (
	_ Clickhouse = (*ch.CH)(nil)
	_ Pinger     = (*ch.CH)(nil)
)

// Open applies opts then dials every backend enabled in cfg that an option did
// not already provide
func Open(ctx context.Context, cfg Config, opts ...Option) (*Store, error) {
	s := &Store{}
	for _, o := range opts {
		if err := o(s); err != nil {
			return nil, err
		}
	}

	if cfg.CH.Enabled && s.CH == nil {
		c, err := openCH(ctx, cfg, s.Log)
		if err != nil {
			return nil, err
		}
		s.CH = c
	}
	return s, nil
}

// Guard pings every open backend that supports it
func (s *Store) Guard(ctx context.Context) error {
	if s == nil {
		return errors.New("nil store")
	}
	if s.CH == nil {
		return nil
	}
	p, ok := s.CH.(Pinger)
	if !ok {
		return nil
	}
	if err := p.Ping(ctx); err != nil {
		return fmt.Errorf("ch: %w", err)
	}
	return nil
}

// Close releases every open backend
func (s *Store) Close(_ context.Context) error {
	if s == nil || s.CH == nil {
		return nil
	}
	return s.CH.Close()
}
