// Package logger owns the process zerolog logger and the run scoped child
// loggers that tag every line of an ingest or analysis run
package logger

import (
	"context"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/pkgerrors"

	"ghstrata/internal/core/version"
	"ghstrata/internal/platform/config/raw"
)

// Logger is the project-wide logging type
type Logger = zerolog.Logger

// Options configures the root logger
type Options struct {
	Level     string
	Format    string // console or json
	Service   string
	Component string
	// Writer defaults to stderr; stdout carries command output
	Writer       io.Writer
	WithCaller   bool
	SampleEvery  int
	StaticFields map[string]string
}

// FromEnv reads GHSTRATA_LOG_* falling back to LOG_*
func FromEnv() Options {
	env := raw.New("GHSTRATA_LOG_", "LOG_")
	return Options{
		Level:       strings.ToLower(env.String("LEVEL", "info")),
		Format:      strings.ToLower(env.String("FORMAT", "console")),
		Service:     env.String("SERVICE", ""),
		Component:   env.String("COMPONENT", ""),
		WithCaller:  env.Bool("CALLER", false),
		SampleEvery: env.Int("SAMPLE_EVERY", 0),
	}
}

var (
	once sync.Once
	root atomic.Pointer[zerolog.Logger]
)

// Get returns the root logger, building it from the environment on first use
func Get() *Logger {
	if l := root.Load(); l != nil {
		return l
	}
	Init(FromEnv())
	return root.Load()
}

// Init builds the root logger. Only the first call has any effect
func Init(opt Options) {
	once.Do(func() {
		zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack
		zerolog.TimeFieldFormat = time.RFC3339Nano
		l := build(opt)
		root.Store(&l)
	})
}

func build(opt Options) zerolog.Logger {
	w := opt.Writer
	if w == nil {
		w = os.Stderr
	}
	if opt.Format != "json" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	b := version.Info()
	c := zerolog.New(w).Level(parseLevel(opt.Level)).With().Timestamp().
		Str("version", b.Version).
		Str("commit", b.Commit)
	if opt.Service != "" {
		c = c.Str("service", opt.Service)
	}
	if opt.Component != "" {
		c = c.Str("component", opt.Component)
	}
	for k, v := range opt.StaticFields {
		c = c.Str(k, v)
	}
	if opt.WithCaller {
		c = c.Caller()
	}

	l := c.Logger()
	if opt.SampleEvery > 1 {
		l = l.Sample(&zerolog.BasicSampler{N: uint32(opt.SampleEvery)})
	}
	return l
}

// parseLevel maps unknown or empty names to info
func parseLevel(s string) zerolog.Level {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "warning" {
		s = "warn"
	}
	lvl, err := zerolog.ParseLevel(s)
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

type runKey struct{}

type run struct{ id, stage string }

// WithRun tags ctx with a run id and its stage (ingest, analyze, archetype)
func WithRun(ctx context.Context, runID, stage string) context.Context {
	if runID == "" && stage == "" {
		return ctx
	}
	return context.WithValue(ctx, runKey{}, run{id: runID, stage: stage})
}

// RunID returns the id stored by WithRun or ""
func RunID(ctx context.Context) string {
	r, _ := ctx.Value(runKey{}).(run)
	return r.id
}

// C returns the root logger carrying the run fields of ctx
func C(ctx context.Context) *Logger {
	r, ok := ctx.Value(runKey{}).(run)
	if !ok {
		return Get()
	}
	c := Get().With()
	if r.id != "" {
		c = c.Str("run_id", r.id)
	}
	if r.stage != "" {
		c = c.Str("stage", r.stage)
	}
	l := c.Logger()
	return &l
}

// Named returns a child logger with a component field
func Named(component string) *Logger {
	if component == "" {
		return Get()
	}
	l := Get().With().Str("component", component).Logger()
	return &l
}
