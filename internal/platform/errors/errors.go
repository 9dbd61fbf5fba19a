// Package errors is the coded error type shared by ingest and analysis.
// Import it as perr
package errors

import (
	stderrs "errors"
	"fmt"

	"github.com/rs/zerolog"
)

// ErrorCode classifies a failure. Names are written into run reports, so
// existing values never change meaning
type ErrorCode uint16

const (
	ErrorCodeUnknown ErrorCode = iota
	// ErrorCodeUnavailable is a transient failure worth retrying
	ErrorCodeUnavailable
	ErrorCodeTooManyRequests
	ErrorCodeInvalidArgument
	// ErrorCodeValidation is an options or config check that failed
	ErrorCodeValidation
	ErrorCodeJSON
	// ErrorCodeNotFound includes upstream 404s
	ErrorCodeNotFound
	// ErrorCodeCorrupt is on-disk state that is unreadable or self-inconsistent
	ErrorCodeCorrupt
	// ErrorCodeStorage covers the filesystem, staging and columnar files
	ErrorCodeStorage
	// ErrorCodeEmptyCorpus means no repository qualified for analysis
	ErrorCodeEmptyCorpus
	// ErrorCodeUpstream is a remote answer that retrying will not change
	ErrorCodeUpstream
)

type retryClass uint8

const (
	retryInspect retryClass = iota
	retryYes
	retryNo
)

type codeInfo struct {
	name  string
	retry retryClass
}

var codes = [...]codeInfo{
	ErrorCodeUnknown:         {"unknown", retryInspect},
	ErrorCodeUnavailable:     {"unavailable", retryYes},
	ErrorCodeTooManyRequests: {"too_many_requests", retryYes},
	ErrorCodeInvalidArgument: {"invalid_argument", retryNo},
	ErrorCodeValidation:      {"validation", retryNo},
	ErrorCodeJSON:            {"json", retryInspect},
	ErrorCodeNotFound:        {"not_found", retryNo},
	ErrorCodeCorrupt:         {"corrupt", retryNo},
	ErrorCodeStorage:         {"storage", retryInspect},
	ErrorCodeEmptyCorpus:     {"empty_corpus", retryNo},
	ErrorCodeUpstream:        {"upstream", retryNo},
}

func (c ErrorCode) info() (codeInfo, bool) {
	if int(c) < len(codes) {
		return codes[c], true
	}
	return codeInfo{}, false
}

func (c ErrorCode) String() string {
	if i, ok := c.info(); ok {
		return i.name
	}
	return fmt.Sprintf("code(%d)", uint16(c))
}

// Error carries a code plus optional field (for validation) and op (the step
// that failed) around a wrapped cause
type Error struct {
	orig  error
	msg   string
	code  ErrorCode
	field string
	op    string
}

func (e *Error) Error() string {
	switch {
	case e == nil:
		return "<nil>"
	case e.orig == nil:
		return e.msg
	}
	return e.msg + ": " + e.orig.Error()
}

func (e *Error) Unwrap() error { return e.orig }

func (e *Error) Code() ErrorCode { return e.code }

// Field names the offending option or column, if any
func (e *Error) Field() string { return e.field }

// Op names the step that failed, if set
func (e *Error) Op() string { return e.op }

// MarshalZerologObject adds code, op and field to a log event
func (e *Error) MarshalZerologObject(ev *zerolog.Event) {
	ev.Str("code", e.code.String())
	if e.op != "" {
		ev.Str("op", e.op)
	}
	if e.field != "" {
		ev.Str("field", e.field)
	}
}

// As returns the outermost *Error in err's chain
func As(err error) (*Error, bool) {
	var e *Error
	if stderrs.As(err, &e) {
		return e, true
	}
	return nil, false
}

// CodeOf returns the code of err, Unknown for foreign errors
func CodeOf(err error) ErrorCode {
	if e, ok := As(err); ok {
		return e.code
	}
	return ErrorCodeUnknown
}

func IsCode(err error, code ErrorCode) bool { return CodeOf(err) == code }

// WithField returns a copy of err tagged with field. Foreign errors pass through
func WithField(err error, field string) error {
	return with(err, func(c *Error) { c.field = field })
}

// WithOp returns a copy of err tagged with op. Foreign errors pass through
func WithOp(err error, op string) error {
	return with(err, func(c *Error) { c.op = op })
}

func with(err error, set func(*Error)) error {
	e, ok := As(err)
	if !ok {
		return err
	}
	c := *e
	set(&c)
	return &c
}

func New(code ErrorCode, msg string) error { return &Error{code: code, msg: msg} }

func Newf(code ErrorCode, format string, a ...any) error {
	return &Error{code: code, msg: fmt.Sprintf(format, a...)}
}

// Wrap codes orig; the message is prefixed to orig's text
func Wrap(orig error, code ErrorCode, msg string) error {
	return &Error{code: code, msg: msg, orig: orig}
}

func Wrapf(orig error, code ErrorCode, format string, a ...any) error {
	return &Error{code: code, msg: fmt.Sprintf(format, a...), orig: orig}
}

func NotFoundf(format string, a ...any) error    { return Newf(ErrorCodeNotFound, format, a...) }
func InvalidArgf(format string, a ...any) error  { return Newf(ErrorCodeInvalidArgument, format, a...) }
func Corruptf(format string, a ...any) error     { return Newf(ErrorCodeCorrupt, format, a...) }
func Storagef(format string, a ...any) error     { return Newf(ErrorCodeStorage, format, a...) }
func Unavailablef(format string, a ...any) error { return Newf(ErrorCodeUnavailable, format, a...) }
func Upstreamf(format string, a ...any) error    { return Newf(ErrorCodeUpstream, format, a...) }
func EmptyCorpusf(format string, a ...any) error { return Newf(ErrorCodeEmptyCorpus, format, a...) }
