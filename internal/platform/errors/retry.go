package errors

// Retry classification for transient fetch and storage failures

import (
	"context"
	stderrs "errors"
	"io"
	"net"
	"syscall"
)

// IsRetryable reports whether err is worth another attempt within the same run
// Context cancellation is never retryable; deadline overruns of a child context are
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if stderrs.Is(err, context.Canceled) {
		return false
	}
	if info, ok := CodeOf(err).info(); ok {
		switch info.retry {
		case retryYes:
			return true
		case retryNo:
			return false
		}
	}

	if stderrs.Is(err, context.DeadlineExceeded) ||
		stderrs.Is(err, io.ErrUnexpectedEOF) ||
		stderrs.Is(err, syscall.ECONNRESET) ||
		stderrs.Is(err, syscall.ECONNREFUSED) ||
		stderrs.Is(err, syscall.EPIPE) {
		return true
	}

	var ne net.Error
	if stderrs.As(err, &ne) && ne.Timeout() {
		return true
	}
	var oe *net.OpError
	return stderrs.As(err, &oe)
}

// Retryable reports whether the error is retryable
func Retryable(err error) bool { return IsRetryable(err) }

// Transient wraps a low level failure as Unavailable unless it already carries a code
func Transient(err error, msg string) error {
	if err == nil {
		return nil
	}
	if _, ok := As(err); ok {
		return err
	}
	return Wrap(err, ErrorCodeUnavailable, msg)
}
