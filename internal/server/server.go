// Package server is the chat frontend: a websocket chat channel plus a JSON
// HTTP API through which the operator submits commands and answers
// confirmation prompts.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/xdg/opsgate/internal/clog"
	"github.com/xdg/opsgate/internal/dispatch"
	"github.com/xdg/opsgate/internal/gate"
)

// DefaultAddr is the default listen address. It is loopback only; expose it
// through a TLS-terminating proxy or configure TLS to use it remotely.
const DefaultAddr = "127.0.0.1:8790"

// Server serves the chat channel and JSON API and presents confirmation
// prompts to connected clients.
type Server struct {
	// Addr is the address to listen on.
	Addr string

	// AllowedOrigins lists browser origins allowed to open the websocket.
	// Entries may be exact origins, "*", or "scheme://host:*" for any port.
	AllowedOrigins []string

	// TLSCert and TLSKey enable TLS when both are set.
	TLSCert string
	TLSKey  string

	dispatcher *dispatch.Dispatcher
	lookup     UserLookup
	events     *gate.EventHub
	upgrader   websocket.Upgrader

	clientsMu sync.RWMutex
	clients   map[*client]struct{}

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	running  bool
}

// New creates a server in front of d. It registers itself as d's presenter
// and subscribes to d's gate events.
func New(d *dispatch.Dispatcher, lookup UserLookup) *Server {
	s := &Server{
		Addr:       DefaultAddr,
		dispatcher: d,
		lookup:     lookup,
		events:     gate.NewEventHub(),
		clients:    make(map[*client]struct{}),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	d.Gate().SetEventHub(s.events)
	d.SetPresenter(s)

	events := s.events.Subscribe()
	go s.forwardEvents(events)
	return s
}

// Handler returns the HTTP handler with all routes behind authentication.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /commands/{kind}", s.handleCommand)
	mux.HandleFunc("GET /pending", s.handlePending)
	mux.HandleFunc("POST /confirm/{id}", s.handleConfirm)
	mux.HandleFunc("POST /cancel/{id}", s.handleCancel)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	return AuthMiddleware(s.lookup)(mux)
}

// Start listens on Addr and serves in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.New("server already running")
	}

	listener, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.Addr, err)
	}

	s.listener = listener
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 30 * time.Second,
		ErrorLog:          clog.StdLogger(clog.LevelWarn),
	}
	s.running = true

	tlsEnabled := s.TLSCert != "" && s.TLSKey != ""
	go func() {
		var err error
		if tlsEnabled {
			err = s.server.ServeTLS(listener, s.TLSCert, s.TLSKey)
		} else {
			err = s.server.Serve(listener)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			clog.Error("server: %v", err)
		}
	}()

	scheme := "http"
	if tlsEnabled {
		scheme = "https"
	}
	clog.Info("server: listening on %s://%s", scheme, listener.Addr())
	if !tlsEnabled && !isLoopback(listener.Addr()) {
		clog.Warn("server: listening on a non-loopback address without TLS; SSH passwords travel in clear text")
	}
	return nil
}

// Stop disconnects websocket clients and shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	s.Close()

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false
	return s.server.Shutdown(ctx)
}

// Close stops event forwarding and disconnects all websocket clients.
func (s *Server) Close() {
	s.events.Close()

	s.clientsMu.Lock()
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.clientsMu.Unlock()

	for _, c := range clients {
		c.close()
	}
}

// ListenAddr returns the address the server is listening on, or "" when
// not running.
func (s *Server) ListenAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Present sends a confirm message to every websocket connection of the
// requester. Clients without a websocket find the prompt at GET /pending.
func (s *Server) Present(_ context.Context, p *gate.Pending) error {
	msg := serverMessage{
		Type:        msgConfirm,
		ID:          p.ID,
		Description: p.Description,
		Requester:   p.RequesterID,
		Kind:        string(p.Request.Kind),
		Target:      p.Request.Target(),
		ExpiresAt:   p.ExpiresAt().UTC().Format(time.RFC3339),
	}
	n := s.sendToUser(p.RequesterID, msg)
	clog.Debug("server: presented confirmation %s to %d connection(s)", p.ID, n)
	return nil
}

// forwardEvents turns gate removals into resolved messages for the requester.
func (s *Server) forwardEvents(events chan gate.Event) {
	if events == nil {
		return
	}
	for ev := range events {
		if ev.Type != gate.EventPendingRemoved {
			continue
		}
		s.sendToUser(ev.Pending.RequesterID, serverMessage{
			Type:  msgResolved,
			ID:    ev.ID,
			State: string(ev.State),
		})
	}
}

func (s *Server) register(c *client) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	s.clients[c] = struct{}{}
}

func (s *Server) unregister(c *client) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	delete(s.clients, c)
}

// ClientCount returns the number of connected websocket clients.
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// sendToUser delivers msg to every connection of userID and reports how
// many connections accepted it.
func (s *Server) sendToUser(userID string, msg serverMessage) int {
	return s.sendWhere(msg, func(c *client) bool { return c.userID == userID })
}

func (s *Server) sendWhere(msg serverMessage, match func(*client) bool) int {
	data, err := json.Marshal(msg)
	if err != nil {
		clog.Error("server: encode %s message: %v", msg.Type, err)
		return 0
	}

	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	n := 0
	for c := range s.clients {
		if match(c) && c.sendRaw(data) {
			n++
		}
	}
	return n
}

// checkOrigin accepts requests without an Origin header (non-browser
// clients) and browser requests from an allowed origin.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, a := range s.AllowedOrigins {
		a = strings.TrimSpace(a)
		if a == "*" || a == origin {
			return true
		}
		if strings.HasSuffix(a, ":*") {
			prefix := strings.TrimSuffix(a, "*")
			if port, ok := strings.CutPrefix(origin, prefix); ok && isNumeric(port) {
				return true
			}
		}
	}
	clog.Warn("server: rejected websocket origin %q", origin)
	return false
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func isLoopback(addr net.Addr) bool {
	tcp, ok := addr.(*net.TCPAddr)
	return ok && tcp.IP.IsLoopback()
}
