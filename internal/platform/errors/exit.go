package errors

// Process exit codes shared by the command line tools

import stderrs "errors"

// Exit codes
const (
	ExitOK      = 0
	ExitFatal   = 1
	ExitPartial = 2
)

// ErrPartial marks a run that finished with unresolved work (failed slots, deficient repositories)
var ErrPartial = stderrs.New("run finished with unresolved work")

// ExitCode maps a command error to the process exit code
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case stderrs.Is(err, ErrPartial):
		return ExitPartial
	}
	return ExitFatal
}
