package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/xdg/opsgate/internal/clog"
	"github.com/xdg/opsgate/internal/command"
	"github.com/xdg/opsgate/internal/gate"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 64
)

// Client message types.
const (
	msgCommand = "command"
	msgPing    = "ping"
)

// Server message types. msgConfirm and msgCancel are also client types.
const (
	msgConfirm  = "confirm"
	msgCancel   = "cancel"
	msgReply    = "reply"
	msgResolved = "resolved"
	msgNotice   = "notice"
)

// clientMessage is a JSON message sent by a chat client.
type clientMessage struct {
	Type   string            `json:"type"`
	Kind   string            `json:"kind,omitempty"`
	Params map[string]string `json:"params,omitempty"`
	ID     string            `json:"id,omitempty"`
}

// serverMessage is a JSON message sent to chat clients.
type serverMessage struct {
	Type        string   `json:"type"`
	ID          string   `json:"id,omitempty"`
	Description string   `json:"description,omitempty"`
	Requester   string   `json:"requester,omitempty"`
	Kind        string   `json:"kind,omitempty"`
	Target      string   `json:"target,omitempty"`
	ExpiresAt   string   `json:"expires_at,omitempty"`
	Text        string   `json:"text,omitempty"`
	Outcome     string   `json:"outcome,omitempty"`
	Private     bool     `json:"private,omitempty"`
	State       string   `json:"state,omitempty"`
	Warnings    []string `json:"warnings,omitempty"`
}

// client is one websocket chat connection.
type client struct {
	srv       *Server
	conn      *websocket.Conn
	userID    string
	contextID string
	send      chan []byte

	// ctx is cancelled when the connection goes away, which cancels any
	// confirmation still waiting on it.
	ctx    context.Context
	cancel context.CancelFunc

	done      chan struct{}
	closeOnce sync.Once
}

// handleWebSocket upgrades the request and runs the chat connection.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		clog.Warn("server: websocket upgrade failed: %v", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &client{
		srv:       s,
		conn:      conn,
		userID:    id.UserID,
		contextID: id.ContextID,
		send:      make(chan []byte, sendBuffer),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	s.register(c)
	clog.Info("server: chat client connected (user %q, context %q)", c.userID, c.contextID)

	go c.writePump()
	go c.readPump()
}

// close stops the write pump and cancels in-flight requests. It is safe to
// call more than once.
func (c *client) close() {
	c.closeOnce.Do(func() {
		c.cancel()
		close(c.done)
	})
}

// sendRaw queues an encoded message. It never blocks; a client that stops
// reading loses messages.
func (c *client) sendRaw(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		clog.Warn("server: dropping message for slow client (user %q)", c.userID)
		return false
	}
}

func (c *client) sendMessage(msg serverMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		clog.Error("server: encode %s message: %v", msg.Type, err)
		return
	}
	c.sendRaw(data)
}

func (c *client) notice(text string) {
	c.sendMessage(serverMessage{Type: msgNotice, Text: text})
}

// readPump reads chat messages until the connection fails.
func (c *client) readPump() {
	defer func() {
		c.srv.unregister(c)
		c.close()
		_ = c.conn.Close()
		clog.Info("server: chat client disconnected (user %q)", c.userID)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				clog.Warn("server: websocket error: %v", err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			c.notice("Binary messages are not supported.")
			continue
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.notice("Invalid message: " + err.Error())
			continue
		}
		c.handle(msg)
	}
}

func (c *client) handle(msg clientMessage) {
	switch msg.Type {
	case msgCommand:
		kind, err := command.ParseKind(msg.Kind)
		if err != nil {
			c.notice(err.Error())
			return
		}
		req := command.NewRequest(kind, msg.Params, c.userID, c.contextID)
		// Each command waits for its confirmation in its own goroutine so
		// this connection keeps reading confirm and cancel messages.
		go c.run(req)

	case msgConfirm:
		c.signal(msg.ID, gate.Confirm)

	case msgCancel:
		c.signal(msg.ID, gate.Cancel)

	case msgPing:

	default:
		c.notice("Unknown message type " + msg.Type + ".")
	}
}

// run submits req and sends the reply to this connection only. Every
// reply is ephemeral to its requester.
func (c *client) run(req command.Request) {
	reply := c.srv.dispatcher.Submit(c.ctx, req)
	c.sendMessage(serverMessage{
		Type:     msgReply,
		Text:     reply.Text,
		Outcome:  string(reply.Outcome),
		Private:  reply.Private,
		Warnings: reply.Warnings,
	})
}

func (c *client) signal(id string, d gate.Decision) {
	if err := c.srv.dispatcher.Gate().Signal(id, c.userID, d); err != nil {
		c.notice(signalErrorText(err))
	}
}

// writePump writes queued messages and keeps the connection alive with pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
