// Package gate holds privileged actions until the operator who requested them
// confirms or cancels. Each pending confirmation is bound to its requester,
// resolves exactly once, and expires on its own if nobody answers.
package gate

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xdg/opsgate/internal/command"
)

// DefaultTimeout is how long a pending confirmation waits for a decision.
const DefaultTimeout = 15 * time.Second

// State is the lifecycle state of a pending confirmation.
type State string

// Pending confirmation states. Created is the only non-terminal state.
const (
	Created   State = "created"
	Confirmed State = "confirmed"
	Cancelled State = "cancelled"
	Expired   State = "expired"
)

// Terminal reports whether s is a final state.
func (s State) Terminal() bool {
	return s == Confirmed || s == Cancelled || s == Expired
}

// Decision is the operator's answer to a confirmation prompt.
type Decision int

// Decisions a requester can signal.
const (
	Confirm Decision = iota
	Cancel
)

func (d Decision) String() string {
	switch d {
	case Confirm:
		return "confirm"
	case Cancel:
		return "cancel"
	default:
		return fmt.Sprintf("decision(%d)", int(d))
	}
}

// Signal errors.
var (
	ErrWrongIdentity = errors.New("signal from a user other than the requester")
	ErrResolved      = errors.New("confirmation already resolved")
	ErrNotFound      = errors.New("confirmation not found")
)

// Pending is a confirmation awaiting the requester's decision.
type Pending struct {
	ID          string
	Request     command.Request
	RequesterID string
	Description string
	CreatedAt   time.Time
	Timeout     time.Duration

	mu        sync.Mutex
	state     State
	done      chan struct{}
	timer     *time.Timer
	onResolve func(*Pending)
}

// State returns the current state.
func (p *Pending) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// ExpiresAt returns when the pending confirmation expires.
func (p *Pending) ExpiresAt() time.Time {
	return p.CreatedAt.Add(p.Timeout)
}

// Done returns a channel that is closed once the pending is resolved.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Signal applies the requester's decision. A signal from any other identity
// returns ErrWrongIdentity and leaves the state untouched. Only the first
// valid signal takes effect; later ones return ErrResolved.
func (p *Pending) Signal(identity string, d Decision) error {
	if identity != p.RequesterID {
		return ErrWrongIdentity
	}
	var target State
	switch d {
	case Confirm:
		target = Confirmed
	case Cancel:
		target = Cancelled
	default:
		return fmt.Errorf("unknown decision %v", d)
	}
	if !p.resolve(target) {
		return ErrResolved
	}
	return nil
}

// Wait blocks until the pending reaches a terminal state and returns it. If
// ctx is done first, the pending is resolved as Cancelled so it never stays
// open without a waiter.
func (p *Pending) Wait(ctx context.Context) State {
	select {
	case <-p.done:
	case <-ctx.Done():
		p.resolve(Cancelled)
	}
	return p.State()
}

// Snapshot returns a copy safe to hand to a UI. Request parameters are left
// out so passwords never leave the dispatcher.
func (p *Pending) Snapshot() Snapshot {
	return Snapshot{
		ID:          p.ID,
		Kind:        p.Request.Kind,
		Target:      p.Request.Target(),
		RequesterID: p.RequesterID,
		ContextID:   p.Request.ContextID,
		Description: p.Description,
		CreatedAt:   p.CreatedAt,
		ExpiresAt:   p.ExpiresAt(),
		State:       p.State(),
	}
}

// resolve moves the pending from Created to s. It reports false when the
// pending was already resolved.
func (p *Pending) resolve(s State) bool {
	p.mu.Lock()
	if p.state != Created {
		p.mu.Unlock()
		return false
	}
	p.state = s
	if p.timer != nil {
		p.timer.Stop()
	}
	close(p.done)
	onResolve := p.onResolve
	p.mu.Unlock()

	if onResolve != nil {
		onResolve(p)
	}
	return true
}

// Snapshot is a read-only view of a pending confirmation.
type Snapshot struct {
	ID          string       `json:"id"`
	Kind        command.Kind `json:"kind"`
	Target      string       `json:"target"`
	RequesterID string       `json:"requester"`
	ContextID   string       `json:"context"`
	Description string       `json:"description"`
	CreatedAt   time.Time    `json:"created_at"`
	ExpiresAt   time.Time    `json:"expires_at"`
	State       State        `json:"state"`
}

// Gate tracks pending confirmations.
type Gate struct {
	mu      sync.RWMutex
	pending map[string]*Pending
	timeout time.Duration
	events  *EventHub
	now     func() time.Time
}

// New creates a gate with DefaultTimeout.
func New() *Gate {
	return NewWithTimeout(DefaultTimeout)
}

// NewWithTimeout creates a gate whose confirmations expire after timeout.
func NewWithTimeout(timeout time.Duration) *Gate {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Gate{
		pending: make(map[string]*Pending),
		timeout: timeout,
		now:     time.Now,
	}
}

// SetEventHub sets the hub that receives pending-added and pending-removed
// events.
func (g *Gate) SetEventHub(hub *EventHub) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.events = hub
}

// Timeout returns the confirmation timeout.
func (g *Gate) Timeout() time.Duration {
	return g.timeout
}

// Open registers a pending confirmation for req and starts its expiry timer.
func (g *Gate) Open(req command.Request, description string) (*Pending, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return nil, fmt.Errorf("generate confirmation id: %w", err)
	}

	p := &Pending{
		ID:          id.String(),
		Request:     req,
		RequesterID: req.RequesterID,
		Description: description,
		CreatedAt:   g.now(),
		Timeout:     g.timeout,
		state:       Created,
		done:        make(chan struct{}),
		onResolve:   g.remove,
	}

	// The timer is armed and the added event sent under the gate lock, so
	// the matching removal can never be observed first.
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pending[p.ID] = p
	p.mu.Lock()
	p.timer = time.AfterFunc(g.timeout, func() { p.resolve(Expired) })
	p.mu.Unlock()
	if g.events != nil {
		g.events.BroadcastPendingAdded(p.Snapshot())
	}
	return p, nil
}

// Get returns the pending confirmation with the given ID.
func (g *Gate) Get(id string) (*Pending, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	p, ok := g.pending[id]
	return p, ok
}

// Signal routes a decision to the pending confirmation with the given ID.
func (g *Gate) Signal(id, identity string, d Decision) error {
	p, ok := g.Get(id)
	if !ok {
		return ErrNotFound
	}
	return p.Signal(identity, d)
}

// List returns snapshots of all pending confirmations, oldest first.
func (g *Gate) List() []Snapshot {
	g.mu.RLock()
	pending := make([]*Pending, 0, len(g.pending))
	for _, p := range g.pending {
		pending = append(pending, p)
	}
	g.mu.RUnlock()

	result := make([]Snapshot, 0, len(pending))
	for _, p := range pending {
		result = append(result, p.Snapshot())
	}
	sortSnapshots(result)
	return result
}

// Len returns the number of pending confirmations.
func (g *Gate) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.pending)
}

// remove drops a resolved pending and announces it.
func (g *Gate) remove(p *Pending) {
	g.mu.Lock()
	_, ok := g.pending[p.ID]
	delete(g.pending, p.ID)
	events := g.events
	g.mu.Unlock()

	if ok && events != nil {
		events.BroadcastPendingRemoved(p.Snapshot())
	}
}

func sortSnapshots(s []Snapshot) {
	slices.SortFunc(s, func(a, b Snapshot) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
}
