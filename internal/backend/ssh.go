package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/xdg/opsgate/internal/command"
)

// HostKeyCallback verifies SSH server host keys.
type HostKeyCallback = ssh.HostKeyCallback

// defaultSSHPort is used when the host parameter carries no port.
const defaultSSHPort = "22"

// sessionCloseGrace bounds how long Execute waits for the remote session
// goroutine to return after the client was closed on timeout.
const sessionCloseGrace = time.Second

// HostKeys returns a host key callback backed by the known_hosts file at
// path. An empty path accepts any host key; insecure reports whether that
// fallback is in effect so callers can warn about it.
func HostKeys(path string) (cb HostKeyCallback, insecure bool, err error) {
	if path == "" {
		return ssh.InsecureIgnoreHostKey(), true, nil //nolint:gosec // G106: explicit operator opt-out, warned at startup
	}
	cb, err = knownhosts.New(path)
	if err != nil {
		return nil, false, fmt.Errorf("load known_hosts %s: %w", path, err)
	}
	return cb, false, nil
}

// RemoteShell runs commands on a remote host over SSH with password
// authentication.
type RemoteShell struct {
	connectTimeout time.Duration
	hostKeys       HostKeyCallback
}

// NewRemoteShell creates a RemoteShell backend. A nil hostKeys accepts any
// host key.
func NewRemoteShell(hostKeys HostKeyCallback) *RemoteShell {
	if hostKeys == nil {
		hostKeys = ssh.InsecureIgnoreHostKey() //nolint:gosec // G106: see HostKeys
	}
	return &RemoteShell{
		connectTimeout: SSHConnectTimeout,
		hostKeys:       hostKeys,
	}
}

// Execute connects to params["host"], runs params["command"], and returns
// stdout followed by stderr. The SSH client is closed on every path.
func (b *RemoteShell) Execute(ctx context.Context, params command.Params, timeout time.Duration) Result {
	ctx, cancel := withTimeout(ctx, timeout)
	defer cancel()

	addr := hostAddr(params.Get(command.ParamHost))
	client, err := b.dial(ctx, addr, params.Get(command.ParamUsername), params.Get(command.ParamPassword))
	if err != nil {
		return errorResult(ErrConnection, err)
	}
	defer func() { _ = client.Close() }()

	session, err := client.NewSession()
	if err != nil {
		return errorResult(ErrConnection, fmt.Errorf("open session: %w", err))
	}
	defer func() { _ = session.Close() }()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() {
		done <- session.Run(params.Get(command.ParamCommand))
	}()

	select {
	case runErr := <-done:
		return sessionResult(stdout.String()+stderr.String(), runErr)
	case <-ctx.Done():
		// Closing the client unblocks Run; wait briefly so the session
		// goroutine is gone before the deferred closes run.
		_ = client.Close()
		select {
		case <-done:
		case <-time.After(sessionCloseGrace):
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return timeoutResult("", nil)
		}
		return errorResult(ErrExecution, ctx.Err())
	}
}

func sessionResult(output string, runErr error) Result {
	if output == "" {
		output = NoOutput
	}
	if runErr == nil {
		return Result{Status: StatusCompleted, Output: output}
	}
	var exitErr *ssh.ExitError
	if errors.As(runErr, &exitErr) {
		return Result{Status: StatusCompleted, Output: output, ExitCode: exitErr.ExitStatus()}
	}
	r := errorResult(ErrExecution, runErr)
	r.Output = output
	return r
}

// dial connects and authenticates. The connect timeout covers the TCP dial,
// the handshake, and authentication.
func (b *RemoteShell) dial(ctx context.Context, addr, user, password string) (*ssh.Client, error) {
	dialer := net.Dialer{Timeout: b.connectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	deadline := time.Now().Add(b.connectTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := conn.SetDeadline(deadline); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("set deadline: %w", err)
	}

	config := &ssh.ClientConfig{
		User: user,
		Auth: []ssh.AuthMethod{
			ssh.Password(password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = password
				}
				return answers, nil
			}),
		},
		HostKeyCallback: b.hostKeys,
		Timeout:         b.connectTimeout,
	}

	c, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := conn.SetDeadline(time.Time{}); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("clear deadline: %w", err)
	}
	return ssh.NewClient(c, chans, reqs), nil
}

// hostAddr appends the default SSH port unless host already has one.
func hostAddr(host string) string {
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}
	host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	return net.JoinHostPort(host, defaultSSHPort)
}
