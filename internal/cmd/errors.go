package cmd

import (
	"fmt"

	"github.com/xdg/opsgate/internal/backend"
	"github.com/xdg/opsgate/internal/dispatch"
)

// Exit codes for run commands that did not execute cleanly. A command that
// ran and exited non-zero passes its own exit code through instead.
const (
	exitFailure      = 1
	exitRejected     = 2
	exitNotConfirmed = 3
)

// ExitCodeError asks main to exit with Code without printing anything more.
type ExitCodeError struct {
	Code int
}

// NewExitCodeError returns an ExitCodeError for code.
func NewExitCodeError(code int) *ExitCodeError {
	return &ExitCodeError{Code: code}
}

func (e *ExitCodeError) Error() string {
	return fmt.Sprintf("exit code %d", e.Code)
}

// exitCodeFor maps a reply to the process exit code of a run command.
func exitCodeFor(r dispatch.Reply) int {
	switch r.Outcome {
	case dispatch.OutcomeExecuted:
		if r.Result == nil {
			return 0
		}
		switch {
		case r.Result.Status != backend.StatusCompleted:
			return exitFailure
		case r.Result.ExitCode != 0:
			return r.Result.ExitCode
		case r.Result.HTTPStatus >= 400:
			return exitFailure
		}
		return 0
	case dispatch.OutcomeBlocked, dispatch.OutcomeNotAuthorized, dispatch.OutcomeInvalid:
		return exitRejected
	case dispatch.OutcomeCancelled, dispatch.OutcomeExpired:
		return exitNotConfirmed
	default:
		return exitFailure
	}
}
