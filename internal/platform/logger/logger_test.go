package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kit "ghstrata/internal/platform/testkit"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"trace":   zerolog.TraceLevel,
		"DEBUG":   zerolog.DebugLevel,
		"warn":    zerolog.WarnLevel,
		"warning": zerolog.WarnLevel,
		" error ": zerolog.ErrorLevel,
		"":        zerolog.InfoLevel,
		"loud":    zerolog.InfoLevel,
	}
	for in, want := range cases {
		assert.Equal(t, want, parseLevel(in), in)
	}
}

func TestBuildJSON(t *testing.T) {
	var buf bytes.Buffer
	l := build(Options{
		Level:        "debug",
		Format:       "json",
		Service:      "strata-analyze",
		Writer:       &buf,
		StaticFields: map[string]string{"dataset": "/data"},
	})
	l.Debug().Int("repos", 3).Msg("aggregated")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "strata-analyze", line["service"])
	assert.Equal(t, "/data", line["dataset"])
	assert.Equal(t, "dev", line["version"])
	assert.EqualValues(t, 3, line["repos"])
	assert.Equal(t, "aggregated", line["message"])
}

func TestBuildFiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	l := build(Options{Level: "warn", Format: "json", Writer: &buf})
	l.Info().Msg("hidden")
	assert.Empty(t, buf.String())
}

func TestInitAndRunScopedLoggers(t *testing.T) {
	var buf bytes.Buffer
	Init(Options{Level: "info", Format: "console", Service: "strata-ingest", Writer: &buf})

	Named("index").Info().Msg("named-msg")
	ctx := WithRun(context.Background(), "run-123", "ingest")
	assert.Equal(t, "run-123", RunID(ctx))
	C(ctx).Info().Msg("ctx-msg")
	C(context.Background()).Info().Msg("bare-msg")

	out := buf.String()
	if out == "" {
		// another test in the package initialised the root logger first
		t.Skip("root logger already initialised")
	}
	kit.MustContain(t, out, "named-msg")
	kit.MustContain(t, out, "index")
	kit.MustContain(t, out, "run-123")
	kit.MustContain(t, out, "ingest")
	kit.MustContain(t, out, "strata-ingest")
	assert.Equal(t, 3, strings.Count(out, "\n"))
}

func TestFromEnv(t *testing.T) {
	for _, k := range []string{"LEVEL", "FORMAT", "SERVICE", "COMPONENT", "CALLER", "SAMPLE_EVERY"} {
		t.Setenv("GHSTRATA_LOG_"+k, "")
	}
	t.Setenv("LOG_LEVEL", "WARN")
	t.Setenv("LOG_FORMAT", "json")
	t.Setenv("GHSTRATA_LOG_SERVICE", "strata-analyze")
	t.Setenv("LOG_SERVICE", "ignored")
	t.Setenv("LOG_CALLER", "yes")
	t.Setenv("LOG_SAMPLE_EVERY", "5")

	opt := FromEnv()
	assert.Equal(t, "warn", opt.Level)
	assert.Equal(t, "json", opt.Format)
	assert.Equal(t, "strata-analyze", opt.Service)
	assert.True(t, opt.WithCaller)
	assert.Equal(t, 5, opt.SampleEvery)
}

func TestWithRunEmpty(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, ctx, WithRun(ctx, "", ""))
	assert.Empty(t, RunID(ctx))
	assert.Same(t, Get(), C(ctx))
}
