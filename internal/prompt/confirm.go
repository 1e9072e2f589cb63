package prompt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/xdg/opsgate/internal/clog"
	"github.com/xdg/opsgate/internal/gate"
)

// Confirmer presents gate confirmations on a terminal. It implements the
// dispatcher's presenter: Present returns at once and the answer reaches the
// gate from a background goroutine.
type Confirmer struct {
	Prompter YesNoPrompter
	Out      io.Writer

	// AutoConfirm confirms every prompt without asking.
	AutoConfirm bool
}

// NewConfirmer creates a Confirmer that asks p and writes notices to out.
func NewConfirmer(p YesNoPrompter, out io.Writer) *Confirmer {
	return &Confirmer{Prompter: p, Out: out}
}

// Present shows the confirmation and signals the operator's answer. Anything
// but an explicit yes cancels. An answer that arrives after the gate has
// resolved is ignored.
func (c *Confirmer) Present(_ context.Context, p *gate.Pending) error {
	if c.AutoConfirm {
		_, _ = fmt.Fprintf(c.Out, "%s\nConfirmed (--yes).\n", p.Description)
		return p.Signal(p.RequesterID, gate.Confirm)
	}
	if c.Prompter == nil {
		return errors.New("no prompter configured")
	}

	question := fmt.Sprintf("%s\nConfirm within %s? [y/N]: ", p.Description, p.Timeout.Round(time.Second))
	go func() {
		yes, err := c.Prompter.PromptYesNo(question, false)
		if err != nil {
			clog.Warn("prompt: confirmation %s: %v", p.ID, err)
		}
		d := gate.Cancel
		if err == nil && yes {
			d = gate.Confirm
		}
		if err := p.Signal(p.RequesterID, d); err != nil && !errors.Is(err, gate.ErrResolved) {
			clog.Warn("prompt: signal confirmation %s: %v", p.ID, err)
		}
	}()
	return nil
}
