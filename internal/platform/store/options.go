package store

import (
	perr "ghstrata/internal/platform/errors"
	"ghstrata/internal/platform/logger"
)

// Option adjusts a Store before backends are opened
type Option func(*Store) error

// WithLogger names the logger handed to backend clients
func WithLogger(log logger.Logger) Option {
	return func(s *Store) error {
		s.Log = log.With().Str("component", "store").Logger()
		return nil
	}
}

// WithClickhouse installs an already connected seam; Open then skips dialing
func WithClickhouse(ch Clickhouse) Option {
	return func(s *Store) error {
		if ch == nil {
			return perr.InvalidArgf("store: nil clickhouse seam")
		}
		s.CH = ch
		return nil
	}
}
