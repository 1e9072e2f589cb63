package gate

import "sync"

// EventType identifies a gate event.
type EventType string

const (
	// EventPendingAdded is sent when a confirmation is opened.
	EventPendingAdded EventType = "pending-added"
	// EventPendingRemoved is sent when a confirmation is confirmed,
	// cancelled, or expires.
	EventPendingRemoved EventType = "pending-removed"
)

// Event describes a change in the set of pending confirmations.
type Event struct {
	Type EventType

	// Pending is the confirmation as of the event. For removals its State
	// is the terminal state.
	Pending Snapshot

	ID    string
	State State
}

// EventHub fans gate events out to subscribers. Slow subscribers miss events
// rather than blocking the gate. It is safe for concurrent use.
type EventHub struct {
	mu       sync.RWMutex
	clients  map[chan Event]struct{}
	bufSize  int
	shutdown bool
}

// NewEventHub creates an event hub.
func NewEventHub() *EventHub {
	return &EventHub{
		clients: make(map[chan Event]struct{}),
		bufSize: 16,
	}
}

// Subscribe registers a subscriber. The caller must Unsubscribe when done.
// Returns nil after Close.
func (h *EventHub) Subscribe() chan Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.shutdown {
		return nil
	}
	ch := make(chan Event, h.bufSize)
	h.clients[ch] = struct{}{}
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (h *EventHub) Unsubscribe(ch chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[ch]; ok {
		delete(h.clients, ch)
		close(ch)
	}
}

// Broadcast delivers event to every subscriber with room in its buffer.
func (h *EventHub) Broadcast(event Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.clients {
		select {
		case ch <- event:
		default:
		}
	}
}

// Close closes every subscriber channel and rejects new subscriptions.
func (h *EventHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.shutdown = true
	for ch := range h.clients {
		close(ch)
		delete(h.clients, ch)
	}
}

// ClientCount returns the number of subscribers.
func (h *EventHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// BroadcastPendingAdded announces a new pending confirmation.
func (h *EventHub) BroadcastPendingAdded(s Snapshot) {
	h.Broadcast(Event{Type: EventPendingAdded, Pending: s, ID: s.ID, State: s.State})
}

// BroadcastPendingRemoved announces that a confirmation was resolved.
func (h *EventHub) BroadcastPendingRemoved(s Snapshot) {
	h.Broadcast(Event{Type: EventPendingRemoved, Pending: s, ID: s.ID, State: s.State})
}
