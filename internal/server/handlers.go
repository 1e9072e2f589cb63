package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/xdg/opsgate/internal/command"
	"github.com/xdg/opsgate/internal/dispatch"
	"github.com/xdg/opsgate/internal/gate"
)

// maxRequestBody caps JSON request bodies.
const maxRequestBody = 64 * 1024

// commandRequest is the body of POST /commands/{kind}.
type commandRequest struct {
	Params map[string]string `json:"params"`
}

// replyResponse is the body returned for a submitted command.
type replyResponse struct {
	Outcome  dispatch.Outcome `json:"outcome"`
	Text     string           `json:"text"`
	Private  bool             `json:"private"`
	Warnings []string         `json:"warnings,omitempty"`
}

// signalResponse is the body returned by POST /confirm/{id} and
// POST /cancel/{id}.
type signalResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// handleCommand submits a command and blocks until it reaches a terminal
// outcome. Confirmation happens out of band through the websocket or the
// confirm endpoint.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())

	kind, err := command.ParseKind(r.PathValue("kind"))
	if err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}

	var body commandRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	req := command.NewRequest(kind, body.Params, id.UserID, id.ContextID)
	reply := s.dispatcher.Submit(r.Context(), req)

	status := http.StatusOK
	switch reply.Outcome {
	case dispatch.OutcomeNotAuthorized:
		status = http.StatusForbidden
	case dispatch.OutcomeInvalid:
		status = http.StatusBadRequest
	case dispatch.OutcomeFailed:
		status = http.StatusInternalServerError
	}
	s.writeJSON(w, status, replyFor(reply))
}

// handlePending lists the caller's pending confirmations.
func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())

	mine := []gate.Snapshot{}
	for _, p := range s.dispatcher.Gate().List() {
		if p.RequesterID == id.UserID {
			mine = append(mine, p)
		}
	}
	s.writeJSON(w, http.StatusOK, mine)
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	s.handleSignal(w, r, gate.Confirm)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	s.handleSignal(w, r, gate.Cancel)
}

func (s *Server) handleSignal(w http.ResponseWriter, r *http.Request, d gate.Decision) {
	id, _ := IdentityFrom(r.Context())
	pendingID := r.PathValue("id")

	err := s.dispatcher.Gate().Signal(pendingID, id.UserID, d)
	if err != nil {
		s.writeError(w, signalStatus(err), signalErrorText(err))
		return
	}

	status := string(gate.Confirmed)
	if d == gate.Cancel {
		status = string(gate.Cancelled)
	}
	s.writeJSON(w, http.StatusOK, signalResponse{ID: pendingID, Status: status})
}

func signalStatus(err error) int {
	switch {
	case errors.Is(err, gate.ErrWrongIdentity):
		return http.StatusForbidden
	case errors.Is(err, gate.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, gate.ErrResolved):
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

// signalErrorText is the operator-facing text for a rejected signal.
func signalErrorText(err error) string {
	switch {
	case errors.Is(err, gate.ErrWrongIdentity):
		return dispatch.MsgNotForYou
	case errors.Is(err, gate.ErrNotFound):
		return "Confirmation not found or already resolved."
	case errors.Is(err, gate.ErrResolved):
		return "Confirmation already resolved."
	default:
		return err.Error()
	}
}

func replyFor(r dispatch.Reply) replyResponse {
	return replyResponse{
		Outcome:  r.Outcome,
		Text:     r.Text,
		Private:  r.Private,
		Warnings: r.Warnings,
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, errorResponse{Error: message})
}
