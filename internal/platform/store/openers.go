package store

import (
	"context"
	"errors"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"

	"ghstrata/internal/core/version"
	perr "ghstrata/internal/platform/errors"
	"ghstrata/internal/platform/logger"
	"ghstrata/internal/platform/store/ch"
)

const (
	defaultAttempts    = 6
	defaultPingTimeout = 3 * time.Second
	backoffStart       = 150 * time.Millisecond
	backoffCeiling     = 2 * time.Second
)

// openCH returns the client once a ping succeeds. A server exception, such as
// bad credentials or an unknown database, stops the loop early
func openCH(ctx context.Context, cfg Config, log logger.Logger) (*ch.CH, error) {
	c, err := ch.Open(ctx, ch.Config{URL: cfg.CH.URL, Role: cfg.AppName, Build: version.Info()})
	if err != nil {
		return nil, err
	}

	attempts := cfg.CH.ConnectRetries
	if attempts <= 0 {
		attempts = defaultAttempts
	}
	timeout := cfg.CH.PingTimeout
	if timeout <= 0 {
		timeout = defaultPingTimeout
	}

	wait := backoffStart
	var last error
	for i := 1; i <= attempts; i++ {
		pctx, cancel := context.WithTimeout(ctx, timeout)
		last = c.Ping(pctx)
		cancel()
		if last == nil {
			log.Debug().Int("attempt", i).Str("role", cfg.AppName).Msg("store: clickhouse ready")
			return c, nil
		}
		log.Warn().Err(last).Int("attempt", i).Msg("store: clickhouse not ready")
		var ex *clickhouse.Exception
		if i == attempts || errors.As(last, &ex) {
			break
		}
		select {
		case <-ctx.Done():
			_ = c.Close()
			return nil, ctx.Err()
		case <-time.After(wait):
		}
		wait = min(wait*2, backoffCeiling)
	}

	_ = c.Close()
	return nil, perr.Wrapf(last, perr.ErrorCodeUnavailable, "clickhouse ping failed after %d attempts", attempts)
}
