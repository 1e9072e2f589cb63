// Package dispatch runs privileged commands through the full pipeline:
// authorization, validation, safety filtering, auditing, confirmation,
// execution, and output rendering.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xdg/opsgate/internal/audit"
	"github.com/xdg/opsgate/internal/backend"
	"github.com/xdg/opsgate/internal/clog"
	"github.com/xdg/opsgate/internal/command"
	"github.com/xdg/opsgate/internal/gate"
	"github.com/xdg/opsgate/internal/safety"
	"github.com/xdg/opsgate/internal/sanitize"
)

// Reply texts shown to the operator.
const (
	MsgAccessDenied = "Access denied."
	MsgBlocked      = "Blocked command detected."
	MsgCancelled    = "Command cancelled."
	MsgExpired      = "Confirmation timed out; command cancelled."
	MsgTimedOut     = "Command timed out."
	MsgNotForYou    = "This is not for you."
)

// Outcome classifies how a request ended.
type Outcome string

// Request outcomes. Every submitted request ends in exactly one of them.
const (
	OutcomeExecuted      Outcome = "executed"
	OutcomeBlocked       Outcome = "blocked"
	OutcomeNotAuthorized Outcome = "not_authorized"
	OutcomeCancelled     Outcome = "cancelled"
	OutcomeExpired       Outcome = "expired"
	OutcomeInvalid       Outcome = "invalid"
	OutcomeFailed        Outcome = "failed"
)

// Dispatch errors carried in Reply.Err.
var (
	ErrBlocked       = errors.New("blocked by safety filter")
	ErrNotAuthorized = errors.New("requester is not the operator")
	ErrCancelled     = errors.New("confirmation cancelled")
	ErrExpired       = errors.New("confirmation expired")
)

// Reply is the single response produced for a submitted request.
type Reply struct {
	Text     string
	Private  bool
	Outcome  Outcome
	Warnings []string

	// Result is the backend result for OutcomeExecuted, nil otherwise.
	Result *backend.Result

	// Err is set for every outcome except a successful execution.
	Err error
}

// Presenter shows a confirmation prompt to the requester. Present must not
// wait for the decision; the decision arrives through the gate.
type Presenter interface {
	Present(ctx context.Context, p *gate.Pending) error
}

// PresenterFunc adapts a function to Presenter.
type PresenterFunc func(ctx context.Context, p *gate.Pending) error

// Present calls f.
func (f PresenterFunc) Present(ctx context.Context, p *gate.Pending) error {
	return f(ctx, p)
}

// Options configure a Dispatcher. Zero values select defaults.
type Options struct {
	// OperatorID is the only identity allowed to submit commands. Empty
	// allows any identity.
	OperatorID string

	Filter    *safety.Filter
	Gate      *gate.Gate
	Backends  backend.Set
	Audit     *audit.Logger
	Presenter Presenter

	// MaxOutput bounds rendered output in characters.
	MaxOutput int

	// CommandTimeout bounds shell and SSH execution.
	CommandTimeout time.Duration
}

// Dispatcher owns the request pipeline. It is safe for concurrent use;
// requests are independent of each other.
type Dispatcher struct {
	operatorID     string
	filter         atomic.Pointer[safety.Filter]
	gate           *gate.Gate
	backends       backend.Set
	audit          *audit.Logger
	maxOutput      int
	commandTimeout time.Duration

	mu        sync.RWMutex
	presenter Presenter
}

// New creates a Dispatcher.
func New(opts Options) *Dispatcher {
	d := &Dispatcher{
		operatorID:     opts.OperatorID,
		gate:           opts.Gate,
		backends:       opts.Backends,
		audit:          opts.Audit,
		maxOutput:      opts.MaxOutput,
		commandTimeout: opts.CommandTimeout,
		presenter:      opts.Presenter,
	}
	if d.gate == nil {
		d.gate = gate.New()
	}
	if d.backends == nil {
		d.backends = backend.DefaultSet(nil)
	}
	if d.maxOutput <= 0 {
		d.maxOutput = sanitize.DefaultMaxLength
	}
	if d.commandTimeout <= 0 {
		d.commandTimeout = backend.DefaultCommandTimeout
	}
	filter := opts.Filter
	if filter == nil {
		filter = safety.NewFilter(safety.DefaultDenylist)
	}
	d.filter.Store(filter)
	return d
}

// Gate returns the confirmation gate requests wait on.
func (d *Dispatcher) Gate() *gate.Gate {
	return d.gate
}

// OperatorID returns the configured operator identity.
func (d *Dispatcher) OperatorID() string {
	return d.operatorID
}

// Filter returns the active safety filter.
func (d *Dispatcher) Filter() *safety.Filter {
	return d.filter.Load()
}

// SetFilter swaps the safety filter. In-flight requests keep the filter they
// were checked with.
func (d *Dispatcher) SetFilter(f *safety.Filter) {
	if f == nil {
		f = safety.NewFilter(safety.DefaultDenylist)
	}
	d.filter.Store(f)
}

// SetPresenter sets the confirmation presenter.
func (d *Dispatcher) SetPresenter(p Presenter) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.presenter = p
}

func (d *Dispatcher) currentPresenter() Presenter {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.presenter
}

// Shell submits a local shell command.
func (d *Dispatcher) Shell(ctx context.Context, requesterID, contextID, cmd string) Reply {
	return d.Submit(ctx, command.NewRequest(command.KindShell,
		command.Params{command.ParamCommand: cmd}, requesterID, contextID))
}

// SSH submits a remote command. The password is used for this request only.
func (d *Dispatcher) SSH(ctx context.Context, requesterID, contextID, host, username, password, cmd string) Reply {
	return d.Submit(ctx, command.NewRequest(command.KindSSH, command.Params{
		command.ParamHost:     host,
		command.ParamUsername: username,
		command.ParamPassword: password,
		command.ParamCommand:  cmd,
	}, requesterID, contextID))
}

// HTTPGet submits an HTTP GET request.
func (d *Dispatcher) HTTPGet(ctx context.Context, requesterID, contextID, url string) Reply {
	return d.Submit(ctx, command.NewRequest(command.KindHTTPGet,
		command.Params{command.ParamURL: url}, requesterID, contextID))
}

// HTTPPost submits an HTTP POST request with body sent verbatim.
func (d *Dispatcher) HTTPPost(ctx context.Context, requesterID, contextID, url, body string) Reply {
	return d.Submit(ctx, command.NewRequest(command.KindHTTPPost,
		command.Params{command.ParamURL: url, command.ParamBody: body}, requesterID, contextID))
}

// Submit runs req through the pipeline and blocks until it reaches a
// terminal outcome. It returns exactly one Reply.
func (d *Dispatcher) Submit(ctx context.Context, req command.Request) Reply {
	if d.operatorID != "" && req.RequesterID != d.operatorID {
		clog.Warn("dispatch: %s request from %q denied: not the operator", req.Kind, req.RequesterID)
		return Reply{Text: MsgAccessDenied, Private: true, Outcome: OutcomeNotAuthorized, Err: ErrNotAuthorized}
	}

	if err := req.Validate(); err != nil {
		return Reply{Text: "Invalid command: " + err.Error(), Private: true, Outcome: OutcomeInvalid, Err: err}
	}

	description := req.Description()
	if req.Kind == command.KindShell {
		cmd := req.Params.Get(command.ParamCommand)
		if v := d.Filter().Check(cmd); v.Blocked {
			clog.Warn("dispatch: shell command from %q blocked (matched %q)", req.RequesterID, v.Token)
			return Reply{
				Text:    MsgBlocked,
				Private: true,
				Outcome: OutcomeBlocked,
				Err:     fmt.Errorf("%w: matched %q", ErrBlocked, v.Token),
			}
		}
		if hints := safety.Hints(cmd); len(hints) > 0 {
			description += "\nNote: " + strings.Join(hints, "; ")
		}
	}

	var warnings []string
	if err := d.audit.Record(req); err != nil {
		clog.Error("dispatch: audit %s request from %q: %v", req.Kind, req.RequesterID, err)
		warnings = append(warnings, "Audit log write failed: "+err.Error())
	}

	// The gate only needs the kind and target; it never sees the password.
	pending, err := d.gate.Open(req.WithoutSecrets(), description)
	if err != nil {
		clog.Error("dispatch: open confirmation: %v", err)
		return Reply{Text: "Could not request confirmation.", Private: true, Outcome: OutcomeFailed, Warnings: warnings, Err: err}
	}

	presenter := d.currentPresenter()
	if presenter == nil {
		_ = pending.Signal(req.RequesterID, gate.Cancel)
		err := errors.New("no confirmation presenter configured")
		return Reply{Text: "Could not request confirmation.", Private: true, Outcome: OutcomeFailed, Warnings: warnings, Err: err}
	}
	if err := presenter.Present(ctx, pending); err != nil {
		_ = pending.Signal(req.RequesterID, gate.Cancel)
		clog.Error("dispatch: present confirmation %s: %v", pending.ID, err)
		return Reply{Text: "Could not request confirmation.", Private: true, Outcome: OutcomeFailed, Warnings: warnings, Err: err}
	}

	clog.Debug("dispatch: awaiting confirmation %s for %s on %s", pending.ID, req.Kind, req.Target())
	switch pending.Wait(ctx) {
	case gate.Confirmed:
	case gate.Expired:
		clog.Info("dispatch: confirmation %s expired", pending.ID)
		return Reply{Text: MsgExpired, Private: true, Outcome: OutcomeExpired, Warnings: warnings, Err: ErrExpired}
	default:
		clog.Info("dispatch: confirmation %s cancelled", pending.ID)
		return Reply{Text: MsgCancelled, Private: true, Outcome: OutcomeCancelled, Warnings: warnings, Err: ErrCancelled}
	}

	b, ok := d.backends[req.Kind]
	if !ok {
		err := fmt.Errorf("no backend for %s", req.Kind)
		return Reply{Text: "Error:\n" + d.codeBlock(err.Error()), Private: true, Outcome: OutcomeFailed, Warnings: warnings, Err: err}
	}

	clog.Info("dispatch: executing %s on %s for %q", req.Kind, req.Target(), req.RequesterID)
	start := time.Now()
	result := b.Execute(ctx, req.Params, d.timeoutFor(req.Kind))
	req = req.WithoutSecrets()
	clog.Info("dispatch: %s on %s finished: status=%s exit=%d http=%d duration=%s",
		req.Kind, req.Target(), result.Status, result.ExitCode, result.HTTPStatus, time.Since(start).Round(time.Millisecond))

	return Reply{
		Text:     d.render(req.Kind, result),
		Private:  true,
		Outcome:  OutcomeExecuted,
		Warnings: warnings,
		Result:   &result,
		Err:      result.Err,
	}
}

func (d *Dispatcher) timeoutFor(kind command.Kind) time.Duration {
	switch kind {
	case command.KindHTTPGet, command.KindHTTPPost:
		return backend.HTTPTimeout
	default:
		return d.commandTimeout
	}
}

// render formats a backend result as reply text with bounded output.
func (d *Dispatcher) render(kind command.Kind, r backend.Result) string {
	switch kind {
	case command.KindShell:
		switch r.Status {
		case backend.StatusTimeout:
			return MsgTimedOut
		case backend.StatusError:
			return "Error:\n" + d.codeBlock(r.Error)
		}
		return d.codeBlock(r.Output)
	case command.KindSSH:
		if r.Status != backend.StatusCompleted {
			return "SSH Error:\n" + d.codeBlock(r.Error)
		}
		return d.codeBlock(r.Output)
	case command.KindHTTPGet, command.KindHTTPPost:
		if r.Status != backend.StatusCompleted {
			label := "HTTP GET Error:\n"
			if kind == command.KindHTTPPost {
				label = "HTTP POST Error:\n"
			}
			return label + d.codeBlock(r.Error)
		}
		return fmt.Sprintf("Status: %d\n%s", r.HTTPStatus, d.codeBlock(r.Output))
	default:
		return d.codeBlock(r.Output)
	}
}

func (d *Dispatcher) codeBlock(text string) string {
	return "```\n" + sanitize.Bound(text, d.maxOutput) + "\n```"
}
