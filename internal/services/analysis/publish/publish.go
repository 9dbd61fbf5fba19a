// Package publish mirrors a stratification run into ClickHouse
package publish

import (
	"context"
	"time"

	perr "ghstrata/internal/platform/errors"
	"ghstrata/internal/platform/store"
	"ghstrata/internal/services/analysis/domain"
)

// Table holds one row per (run, repository)
const Table = "repository_strata"

// DefaultBatch is the insert batch size
const DefaultBatch = 5000

const ddl = `CREATE TABLE IF NOT EXISTS ` + Table + ` (
	run_id             String,
	published_at       DateTime64(3, 'UTC'),
	repo_id            Int64,
	repo_name          String,
	first_event        DateTime64(3, 'UTC'),
	last_event         DateTime64(3, 'UTC'),
	age_days           Int64,
	popularity_cum     Float64,
	engagement_cum     Float64,
	collaboration_cum  Float64,
	volume_cum         Float64,
	popularity_norm    Float64,
	engagement_norm    Float64,
	collaboration_norm Float64,
	volume_norm        Float64,
	label              LowCardinality(String)
) ENGINE = ReplacingMergeTree(published_at)
ORDER BY (run_id, repo_id)`

// Publisher writes classified repositories through the clickhouse seam
type Publisher struct {
	ch    store.Clickhouse
	batch int
	now   func() time.Time
}

// New returns a publisher; batch <= 0 means DefaultBatch
func New(ch store.Clickhouse, batch int) *Publisher {
	if batch <= 0 {
		batch = DefaultBatch
	}
	return &Publisher{ch: ch, batch: batch, now: time.Now}
}

// Ensure creates the table when missing
func (p *Publisher) Ensure(ctx context.Context) error {
	if err := p.ch.Exec(ctx, ddl); err != nil {
		return perr.Wrap(err, perr.ErrorCodeUpstream, "publish: create table")
	}
	return nil
}

// Publish inserts rows for runID in batches and returns how many were sent.
// Re-publishing the same run replaces rows on merge
func (p *Publisher) Publish(ctx context.Context, runID string, rows []domain.Classified) (int, error) {
	if err := p.Ensure(ctx); err != nil {
		return 0, err
	}
	at := p.now().UTC()
	sent := 0
	for len(rows) > 0 {
		n := min(p.batch, len(rows))
		batch := make([][]any, n)
		for i, c := range rows[:n] {
			batch[i] = row(runID, at, c)
		}
		if err := p.ch.Insert(ctx, Table, batch); err != nil {
			return sent, perr.Wrapf(err, perr.ErrorCodeUpstream, "publish: insert after %d rows", sent)
		}
		sent += n
		rows = rows[n:]
	}
	return sent, nil
}

// Count returns the rows stored for runID
func (p *Publisher) Count(ctx context.Context, runID string) (uint64, error) {
	rs, err := p.ch.Query(ctx, "SELECT count() FROM "+Table+" FINAL WHERE run_id = ?", runID)
	if err != nil {
		return 0, perr.Wrap(err, perr.ErrorCodeUpstream, "publish: count")
	}
	defer rs.Close()
	var n uint64
	if rs.Next() {
		if err := rs.Scan(&n); err != nil {
			return 0, perr.Wrap(err, perr.ErrorCodeUpstream, "publish: scan count")
		}
	}
	return n, rs.Err()
}

func row(runID string, at time.Time, c domain.Classified) []any {
	v := c.Vector
	out := []any{runID, at, c.RepoID, c.RepoName, c.First, c.Last, c.AgeDays}
	for _, x := range v {
		out = append(out, x)
	}
	return append(out, c.Archetype.Label())
}
