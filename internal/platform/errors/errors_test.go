package errors

import (
	"bytes"
	"context"
	stderrs "errors"
	"fmt"
	"io"
	"net"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestCodeNames(t *testing.T) {
	cases := []struct {
		code ErrorCode
		want string
	}{
		{ErrorCodeNotFound, "not_found"},
		{ErrorCodeCorrupt, "corrupt"},
		{ErrorCodeUnavailable, "unavailable"},
		{ErrorCodeEmptyCorpus, "empty_corpus"},
		{ErrorCodeUnknown, "unknown"},
		{9999, "code(9999)"},
	}
	for _, c := range cases {
		if got := c.code.String(); got != c.want {
			t.Fatalf("String(%d) = %q, want %q", c.code, got, c.want)
		}
	}
}

func TestErrorTypeAndMethods(t *testing.T) {
	// nil *Error should render "<nil>"
	var e *Error
	if e.Error() != "<nil>" {
		t.Fatalf("nil *Error render = %q, want <nil>", e.Error())
	}

	e1 := New(ErrorCodeValidation, "bad stuff")
	if CodeOf(e1) != ErrorCodeValidation {
		t.Fatalf("CodeOf(New) = %v", CodeOf(e1))
	}
	e2 := Newf(ErrorCodeJSON, "bad json %d", 12)
	if got := e2.Error(); got != "bad json 12" {
		t.Fatalf("Newf().Error = %q", got)
	}

	src := stderrs.New("root")
	e3 := Wrap(src, ErrorCodeStorage, "rename failed")
	if u := stderrs.Unwrap(e3); u == nil || u.Error() != "root" {
		t.Fatalf("Wrap did not keep orig")
	}
	if CodeOf(e3) != ErrorCodeStorage {
		t.Fatalf("CodeOf(Wrap) = %v", CodeOf(e3))
	}
	e4 := Wrapf(src, ErrorCodeCorrupt, "index %s", "2024-01-01")
	if want := "index 2024-01-01: root"; e4.Error() != want {
		t.Fatalf("Wrapf().Error = %q, want %q", e4.Error(), want)
	}

	if got, ok := As(e4); !ok || got.Code() != ErrorCodeCorrupt {
		t.Fatalf("As() failed for our error")
	}
	if _, ok := As(src); ok {
		t.Fatalf("As() true for foreign error")
	}

	// copy-on-write mutators
	e5 := Wrap(src, ErrorCodeInvalidArgument, "oops")
	e6 := WithField(e5, "hours")
	e7 := WithOp(e6, "parse")
	if fe, ok := As(e6); !ok || fe.Field() != "hours" {
		t.Fatalf("WithField failed")
	}
	if oe, ok := As(e7); !ok || oe.Op() != "parse" {
		t.Fatalf("WithOp failed")
	}
	if fe0, _ := As(e5); fe0.Field() != "" || fe0.Op() != "" {
		t.Fatalf("copy-on-write mutated original")
	}
	if WithField(src, "x") != src {
		t.Fatalf("WithField should pass foreign errors through")
	}

	if !IsCode(NotFoundf("x"), ErrorCodeNotFound) ||
		!IsCode(InvalidArgf("x"), ErrorCodeInvalidArgument) ||
		!IsCode(Corruptf("x"), ErrorCodeCorrupt) ||
		!IsCode(Storagef("x"), ErrorCodeStorage) ||
		!IsCode(Upstreamf("x"), ErrorCodeUpstream) ||
		!IsCode(EmptyCorpusf("x"), ErrorCodeEmptyCorpus) ||
		!IsCode(Unavailablef("x"), ErrorCodeUnavailable) {
		t.Fatalf("sugar helpers code mismatch")
	}
}

func TestMarshalZerologObject(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf)
	err := WithOp(WithField(Newf(ErrorCodeValidation, "bad quantile"), "Quantiles"), "options")
	e, _ := As(err)
	log.Error().EmbedObject(e).Msg("x")

	out := buf.String()
	for _, want := range []string{`"code":"validation"`, `"op":"options"`, `"field":"Quantiles"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %s in %s", want, out)
		}
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"unavailable", Unavailablef("503"), true},
		{"rate limited", New(ErrorCodeTooManyRequests, "429"), true},
		{"not found", NotFoundf("404"), false},
		{"corrupt", Corruptf("bad index"), false},
		{"upstream 4xx", Upstreamf("403"), false},
		{"canceled", fmt.Errorf("fetch: %w", context.Canceled), false},
		{"deadline", fmt.Errorf("fetch: %w", context.DeadlineExceeded), true},
		{"short body", io.ErrUnexpectedEOF, true},
		{"net timeout", timeoutErr{}, true},
		{"op error", &net.OpError{Op: "dial", Err: stderrs.New("refused")}, true},
		{"plain", stderrs.New("boom"), false},
	}
	for _, c := range cases {
		if got := Retryable(c.err); got != c.want {
			t.Fatalf("%s: Retryable = %v, want %v", c.name, got, c.want)
		}
	}
}

func TestTransient(t *testing.T) {
	if Transient(nil, "x") != nil {
		t.Fatalf("Transient(nil) should be nil")
	}
	nf := NotFoundf("gone")
	if Transient(nf, "x") != nf {
		t.Fatalf("Transient should keep coded errors")
	}
	if !IsCode(Transient(stderrs.New("reset"), "fetch"), ErrorCodeUnavailable) {
		t.Fatalf("Transient should code foreign errors as unavailable")
	}
}

func TestExitCode(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, ExitOK},
		{ErrPartial, ExitPartial},
		{fmt.Errorf("ingest: %w", ErrPartial), ExitPartial},
		{Corruptf("bad index"), ExitFatal},
		{stderrs.New("boom"), ExitFatal},
	}
	for _, c := range cases {
		if got := ExitCode(c.err); got != c.want {
			t.Fatalf("ExitCode(%v) = %d, want %d", c.err, got, c.want)
		}
	}
}
