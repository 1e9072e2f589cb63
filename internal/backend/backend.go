// Package backend executes confirmed commands. Each command kind has its own
// Backend; all of them share one contract: Execute returns within the given
// timeout plus a small bounded overhead, buffers the full output, never
// retries, and reports every failure inside the Result instead of returning
// an error or panicking.
package backend

import (
	"context"
	"errors"
	"time"

	"github.com/xdg/opsgate/internal/command"
)

// Timeouts that govern execution. They are distinct from the confirmation
// timeout, which only bounds how long a request waits for the operator.
const (
	// DefaultCommandTimeout bounds local and remote command execution.
	DefaultCommandTimeout = 10 * time.Second

	// SSHConnectTimeout bounds TCP connect plus SSH handshake and
	// authentication, independent of the command timeout.
	SSHConnectTimeout = 5 * time.Second

	// HTTPTimeout bounds a whole HTTP exchange including reading the body.
	HTTPTimeout = 10 * time.Second
)

// NoOutput replaces empty command output so replies are never blank.
const NoOutput = "[no output]"

// Status constants for Result.Status.
const (
	StatusCompleted = "completed"
	StatusTimeout   = "timeout"
	StatusError     = "error"
)

// Failure classes carried in Result.Err.
var (
	ErrTimeout    = errors.New("timed out")
	ErrConnection = errors.New("connection failed")
	ErrExecution  = errors.New("execution failed")
)

// Backend executes one kind of command.
type Backend interface {
	Execute(ctx context.Context, params command.Params, timeout time.Duration) Result
}

// Result is the outcome of a single backend invocation.
type Result struct {
	// Status is one of StatusCompleted, StatusTimeout, StatusError.
	Status string

	// Output is the captured output (combined stdout and stderr for
	// commands, the response body for HTTP).
	Output string

	// Error is a human-readable failure description. Empty on success.
	Error string

	// ExitCode is the process exit status for shell and SSH commands.
	ExitCode int

	// HTTPStatus is the response status code for HTTP requests.
	HTTPStatus int

	// Err classifies the failure for errors.Is checks. Nil on success.
	Err error
}

// Succeeded reports whether the backend ran to completion with exit code 0.
func (r Result) Succeeded() bool {
	return r.Status == StatusCompleted && r.ExitCode == 0
}

// Set maps each command kind to its backend.
type Set map[command.Kind]Backend

// DefaultSet returns the production backends. hostKeys verifies SSH host keys.
func DefaultSet(hostKeys HostKeyCallback) Set {
	return Set{
		command.KindShell:    NewLocalProcess(),
		command.KindSSH:      NewRemoteShell(hostKeys),
		command.KindHTTPGet:  NewHTTP(methodGet),
		command.KindHTTPPost: NewHTTP(methodPost),
	}
}

func timeoutResult(output string, cause error) Result {
	r := Result{
		Status:   StatusTimeout,
		Output:   output,
		Error:    "timed out",
		ExitCode: -1,
		Err:      ErrTimeout,
	}
	if cause != nil {
		r.Error = cause.Error()
	}
	return r
}

func errorResult(class, cause error) Result {
	return Result{
		Status:   StatusError,
		Error:    cause.Error(),
		ExitCode: -1,
		Err:      errors.Join(class, cause),
	}
}

// withTimeout derives a context bounded by timeout; a non-positive timeout
// leaves ctx unchanged.
func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout > 0 {
		return context.WithTimeout(ctx, timeout)
	}
	return context.WithCancel(ctx)
}
