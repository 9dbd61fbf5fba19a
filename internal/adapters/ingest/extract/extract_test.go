package extract

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ghstrata/internal/adapters/ingest/gharchive"
)

func decode(t *testing.T, line string) gharchive.EventEnvelope {
	t.Helper()
	var env gharchive.EventEnvelope
	require.NoError(t, json.Unmarshal([]byte(line), &env))
	env.Raw = json.RawMessage(line)
	return env
}

func TestDistillPush(t *testing.T) {
	env := decode(t, `{"id":"42","type":"PushEvent","actor":{"id":7,"login":"octo"},`+
		`"repo":{"id":9,"name":"o/r"},"payload":{"size":3,"commits":[{},{}]},"created_at":"2024-01-02T03:04:05Z"}`)

	rec, out := Distill(env)
	require.Equal(t, Kept, out)
	assert.Equal(t, "42", rec.EventID)
	assert.Equal(t, "Push", rec.PayloadType)
	assert.Equal(t, int64(9), rec.RepoID)
	assert.Equal(t, int64(7), rec.ActorID)
	assert.Equal(t, int64(3), rec.PushSize)
	assert.Equal(t, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC).UnixMilli(), rec.CreatedAtMS)
}

func TestDistillPushWithoutSizeCountsCommits(t *testing.T) {
	env := decode(t, `{"id":"1","type":"PushEvent","actor":{"id":7},"repo":{"id":9,"name":"o/r"},`+
		`"payload":{"commits":[{},{}]},"created_at":"2024-01-02T03:04:05Z"}`)
	rec, out := Distill(env)
	require.Equal(t, Kept, out)
	assert.Equal(t, int64(2), rec.PushSize)
}

func TestDistillActionAndRefType(t *testing.T) {
	env := decode(t, `{"id":"2","type":"CreateEvent","actor":{"id":1},"repo":{"id":2,"name":"o/r"},`+
		`"payload":{"ref_type":"tag"},"created_at":"2024-01-02T03:04:05Z"}`)
	rec, out := Distill(env)
	require.Equal(t, Kept, out)
	assert.Equal(t, "tag", rec.RefType)

	env = decode(t, `{"id":"3","type":"IssuesEvent","actor":{"id":1},"repo":{"id":2,"name":"o/r"},`+
		`"payload":{"action":"opened"},"created_at":"2024-01-02T03:04:05Z"}`)
	rec, out = Distill(env)
	require.Equal(t, Kept, out)
	assert.Equal(t, "opened", rec.Action)
	assert.Empty(t, rec.RefType)
}

func TestDistillFiltersUnknownTypes(t *testing.T) {
	env := decode(t, `{"id":"4","type":"FollowEvent","actor":{"id":1},"repo":{"id":2,"name":"o/r"},"created_at":"2024-01-02T03:04:05Z"}`)
	_, out := Distill(env)
	assert.Equal(t, Filtered, out)
	assert.Equal(t, "filtered", out.String())
}

func TestDistillSchemaViolations(t *testing.T) {
	lines := []string{
		`{"id":"5","type":"WatchEvent","actor":{"id":1},"repo":{"id":2},"created_at":"2024-01-02T03:04:05Z"}`,
		`{"id":"6","type":"WatchEvent","repo":{"id":2,"name":"o/r"},"created_at":"2024-01-02T03:04:05Z"}`,
		`{"id":"7","type":"WatchEvent","actor":{"id":1},"repo":{"id":2,"name":"o/r"}}`,
		`{"id":"8","type":"WatchEvent","actor":{"id":1},"repo":{"id":2,"name":"o/r"},"created_at":"yesterday"}`,
	}
	for _, l := range lines {
		_, out := Distill(decode(t, l))
		assert.Equal(t, Violation, out, l)
	}
	assert.Equal(t, "dropped", Violation.String())
}

func TestDistillLegacyEvent(t *testing.T) {
	env := decode(t, `{"type":"WatchEvent","actor":"Octo","repository":{"name":"Repo","owner":"Owner"},`+
		`"payload":{"action":"started"},"created_at":"2012/03/10 12:00:00 -0800"}`)
	rec, out := Distill(env)
	require.Equal(t, Kept, out)
	assert.Equal(t, gharchive.SyntheticActorID("octo"), rec.ActorID)
	assert.Equal(t, "owner/repo", rec.RepoName)
	assert.Negative(t, rec.RepoID)
	assert.NotEmpty(t, rec.EventID)
	assert.Equal(t, "started", rec.Action)
}
