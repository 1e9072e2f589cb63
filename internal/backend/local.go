package backend

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"runtime"
	"time"

	"github.com/xdg/opsgate/internal/command"
)

// defaultWaitDelay is how long Wait keeps reading output after the process
// was killed. Grandchildren that inherited the pipes would otherwise keep
// Wait blocked long past the timeout.
const defaultWaitDelay = 500 * time.Millisecond

// LocalProcess runs commands through the local shell.
type LocalProcess struct {
	waitDelay time.Duration
}

// NewLocalProcess creates a LocalProcess backend.
func NewLocalProcess() *LocalProcess {
	return &LocalProcess{waitDelay: defaultWaitDelay}
}

// Execute runs params["command"] with "sh -c" and captures stdout and stderr
// into one buffer. When the timeout elapses the whole process group is killed
// and a StatusTimeout result with Error "timed out" is returned.
func (b *LocalProcess) Execute(ctx context.Context, params command.Params, timeout time.Duration) Result {
	ctx, cancel := withTimeout(ctx, timeout)
	defer cancel()

	cmd := buildShellCommand(ctx, params.Get(command.ParamCommand))
	configureProcessGroup(cmd)
	cmd.WaitDelay = b.waitDelay

	// The same writer for both streams makes exec share one pipe, so
	// writes are serialized and ordering matches what a terminal shows.
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	err := cmd.Run()

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return timeoutResult(output.String(), nil)
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return errorResult(ErrExecution, context.Canceled)
	}

	text := output.String()
	if text == "" {
		text = NoOutput
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return Result{
				Status:   StatusCompleted,
				Output:   text,
				ExitCode: exitErr.ExitCode(),
			}
		}
		return errorResult(ErrExecution, err)
	}

	return Result{
		Status: StatusCompleted,
		Output: text,
	}
}

func buildShellCommand(ctx context.Context, commandText string) *exec.Cmd {
	if runtime.GOOS == "windows" {
		return exec.CommandContext(ctx, "cmd", "/C", commandText)
	}
	return exec.CommandContext(ctx, "sh", "-c", commandText) //nolint:gosec // G204: operator-confirmed command
}
