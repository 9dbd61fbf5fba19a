package publish

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ghstrata/internal/core/strata"
	perr "ghstrata/internal/platform/errors"
	"ghstrata/internal/platform/store"
	"ghstrata/internal/services/analysis/domain"
)

type recorder struct {
	execs     []string
	inserts   [][][]any
	failAfter int
}

func (r *recorder) Exec(_ context.Context, sql string, _ ...any) error {
	r.execs = append(r.execs, sql)
	return nil
}

func (r *recorder) Insert(_ context.Context, table string, rows [][]any) error {
	if table != Table {
		return errors.New("wrong table " + table)
	}
	if r.failAfter > 0 && len(r.inserts) == r.failAfter {
		return errors.New("connection reset")
	}
	r.inserts = append(r.inserts, rows)
	return nil
}

func (r *recorder) Query(context.Context, string, ...any) (store.Rows, error) {
	return nil, errors.New("not used")
}

func (r *recorder) Close() error { return nil }

func repos(n int) []domain.Classified {
	out := make([]domain.Classified, n)
	for i := range out {
		out[i].RepoID = int64(i + 1)
		out[i].RepoName = "o/r"
		out[i].Vector[strata.VolumeCum] = float64(i)
		out[i].Archetype[strata.VolumeCum] = strata.Low
	}
	return out
}

func TestPublishBatches(t *testing.T) {
	rec := &recorder{}
	p := New(rec, 2)
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return at }

	n, err := p.Publish(context.Background(), "run-1", repos(5))
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	require.Len(t, rec.execs, 1)
	assert.True(t, strings.HasPrefix(rec.execs[0], "CREATE TABLE IF NOT EXISTS "+Table))
	require.Len(t, rec.inserts, 3)
	assert.Len(t, rec.inserts[0], 2)
	assert.Len(t, rec.inserts[2], 1)

	first := rec.inserts[0][0]
	require.Len(t, first, 7+int(strata.NumMetrics)+1)
	assert.Equal(t, "run-1", first[0])
	assert.Equal(t, at, first[1])
	assert.EqualValues(t, 1, first[2])
	assert.Equal(t, "Zero|Zero|Zero|Low|Zero|Zero|Zero|Zero", first[len(first)-1])
}

func TestPublishReportsPartialProgress(t *testing.T) {
	rec := &recorder{failAfter: 1}
	n, err := New(rec, 2).Publish(context.Background(), "run-1", repos(5))
	require.Error(t, err)
	assert.Equal(t, 2, n)
	assert.True(t, perr.IsCode(err, perr.ErrorCodeUpstream))
}

func TestPublishNothing(t *testing.T) {
	rec := &recorder{}
	n, err := New(rec, 0).Publish(context.Background(), "run-1", nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, rec.inserts)
}
