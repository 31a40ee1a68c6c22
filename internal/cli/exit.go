package cli

import (
	"errors"

	"github.com/tpodg/staticnet/internal/server"
	"github.com/tpodg/staticnet/internal/task"
)

// Process exit codes.
const (
	ExitOK             = 0
	ExitUsage          = 1
	ExitConnection     = 2
	ExitAborted        = 3
	ExitConnectionLost = 4
	ExitCancelled      = 5
	// ExitNotConverged is returned by status when the host differs from
	// the configured target state.
	ExitNotConverged = 6
)

// ExitError carries the process exit code for err.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string { return e.Err.Error() }

func (e *ExitError) Unwrap() error { return e.Err }

// ExitCode maps err to a process exit code. Connection errors that were
// not wrapped explicitly still map to ExitConnection.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	var connErr *server.ConnectionError
	if errors.As(err, &connErr) {
		return ExitConnection
	}
	return ExitUsage
}

// statusExitCode maps a sequence status to its exit code.
func statusExitCode(status task.Status) int {
	switch status.Kind {
	case task.Complete:
		return ExitOK
	case task.AbortedAt:
		return ExitAborted
	case task.ConnectionLost:
		return ExitConnectionLost
	case task.Cancelled:
		return ExitCancelled
	default:
		return ExitUsage
	}
}
