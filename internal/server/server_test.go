package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/xdg/opsgate/internal/audit"
	"github.com/xdg/opsgate/internal/backend"
	"github.com/xdg/opsgate/internal/clog"
	"github.com/xdg/opsgate/internal/command"
	"github.com/xdg/opsgate/internal/dispatch"
	"github.com/xdg/opsgate/internal/gate"
	"github.com/xdg/opsgate/internal/token"
)

const (
	operatorID    = "111111111111111111"
	operatorToken = "operator-token"
	otherID       = "222222222222222222"
	otherToken    = "other-token"
)

func TestMain(m *testing.M) {
	clog.Discard()
	m.Run()
}

// syncBuffer is a bytes.Buffer safe for concurrent use.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type stubBackend struct {
	mu    sync.Mutex
	calls int
}

func (b *stubBackend) Execute(_ context.Context, _ command.Params, _ time.Duration) backend.Result {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	return backend.Result{Status: backend.StatusCompleted, Output: "ok"}
}

func (b *stubBackend) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

type testEnv struct {
	srv      *Server
	ts       *httptest.Server
	backend  *stubBackend
	auditLog *syncBuffer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{backend: &stubBackend{}, auditLog: &syncBuffer{}}

	set := backend.Set{}
	for _, k := range command.Kinds() {
		set[k] = env.backend
	}
	d := dispatch.New(dispatch.Options{
		OperatorID: operatorID,
		Backends:   set,
		Audit:      audit.NewLogger(env.auditLog),
	})
	tokens := token.NewRegistry(map[string]string{operatorToken: operatorID, otherToken: otherID})

	env.srv = New(d, tokens.Lookup)
	env.ts = httptest.NewServer(env.srv.Handler())
	t.Cleanup(func() {
		env.srv.Close()
		env.ts.Close()
	})
	return env
}

func (env *testEnv) do(t *testing.T, method, path, tok, body string) (int, string) {
	t.Helper()
	req, err := http.NewRequest(method, env.ts.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest() error: %v", err)
	}
	if tok != "" {
		req.Header.Set(TokenHeader, tok)
	}
	req.Header.Set(ContextHeader, "42")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s error: %v", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()
	data, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(data)
}

// waitPending polls until the operator has exactly one pending confirmation.
func (env *testEnv) waitPending(t *testing.T) gate.Snapshot {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		status, body := env.do(t, http.MethodGet, "/pending", operatorToken, "")
		if status != http.StatusOK {
			t.Fatalf("GET /pending: status %d", status)
		}
		var list []gate.Snapshot
		if err := json.Unmarshal([]byte(body), &list); err != nil {
			t.Fatalf("decode /pending: %v", err)
		}
		if len(list) == 1 {
			return list[0]
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("timed out waiting for a pending confirmation")
	return gate.Snapshot{}
}

type commandResult struct {
	status int
	reply  replyResponse
}

// submitAsync posts a command in the background.
func (env *testEnv) submitAsync(t *testing.T, kind, params string) <-chan commandResult {
	t.Helper()
	ch := make(chan commandResult, 1)
	go func() {
		req, _ := http.NewRequest(http.MethodPost, env.ts.URL+"/commands/"+kind, strings.NewReader(`{"params":`+params+`}`))
		req.Header.Set(TokenHeader, operatorToken)
		req.Header.Set(ContextHeader, "42")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			ch <- commandResult{}
			return
		}
		defer func() { _ = resp.Body.Close() }()
		var r replyResponse
		_ = json.NewDecoder(resp.Body).Decode(&r)
		ch <- commandResult{status: resp.StatusCode, reply: r}
	}()
	return ch
}

func awaitResult(t *testing.T, ch <-chan commandResult) commandResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for command reply")
		return commandResult{}
	}
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t)

	for _, tok := range []string{"", "bogus"} {
		status, _ := env.do(t, http.MethodGet, "/pending", tok, "")
		if status != http.StatusUnauthorized {
			t.Errorf("token %q: status %d, want 401", tok, status)
		}
	}
}

func TestCommandNotOperator(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.do(t, http.MethodPost, "/commands/shell", otherToken, `{"params":{"command":"echo hi"}}`)

	if status != http.StatusForbidden {
		t.Errorf("status: got %d, want 403", status)
	}
	if !strings.Contains(body, dispatch.MsgAccessDenied) {
		t.Errorf("body: %s", body)
	}
	if env.auditLog.String() != "" {
		t.Error("denied request must not be audited")
	}
}

func TestCommandUnknownKind(t *testing.T) {
	env := newTestEnv(t)
	status, _ := env.do(t, http.MethodPost, "/commands/telnet", operatorToken, `{"params":{}}`)
	if status != http.StatusNotFound {
		t.Errorf("status: got %d, want 404", status)
	}
}

func TestCommandBadBody(t *testing.T) {
	env := newTestEnv(t)
	for _, body := range []string{"not json", `{"params":{},"extra":1}`} {
		status, _ := env.do(t, http.MethodPost, "/commands/shell", operatorToken, body)
		if status != http.StatusBadRequest {
			t.Errorf("body %q: status %d, want 400", body, status)
		}
	}
}

func TestCommandInvalidParams(t *testing.T) {
	env := newTestEnv(t)
	status, body := env.do(t, http.MethodPost, "/commands/http-get", operatorToken, `{"params":{"url":"ftp://example.com"}}`)
	if status != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", status)
	}
	if !strings.Contains(body, string(dispatch.OutcomeInvalid)) {
		t.Errorf("body: %s", body)
	}
}

func TestCommandBlocked(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.do(t, http.MethodPost, "/commands/shell", operatorToken, `{"params":{"command":"sudo reboot"}}`)

	if status != http.StatusOK {
		t.Errorf("status: got %d, want 200", status)
	}
	var r replyResponse
	if err := json.Unmarshal([]byte(body), &r); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if r.Outcome != dispatch.OutcomeBlocked || r.Text != dispatch.MsgBlocked {
		t.Errorf("reply: %+v", r)
	}
	if env.backend.count() != 0 {
		t.Error("blocked command must not execute")
	}
}

func TestCommandConfirmFlow(t *testing.T) {
	env := newTestEnv(t)

	result := env.submitAsync(t, "shell", `{"command":"echo hi"}`)
	p := env.waitPending(t)

	if p.Kind != command.KindShell || p.Target != command.LocalTarget || p.ContextID != "42" {
		t.Errorf("pending: %+v", p)
	}

	// Nobody else sees or answers the operator's confirmation.
	if _, body := env.do(t, http.MethodGet, "/pending", otherToken, ""); strings.TrimSpace(body) != "[]" {
		t.Errorf("other user's /pending: %s", body)
	}
	status, body := env.do(t, http.MethodPost, "/confirm/"+p.ID, otherToken, "")
	if status != http.StatusForbidden || !strings.Contains(body, dispatch.MsgNotForYou) {
		t.Errorf("wrong identity confirm: %d %s", status, body)
	}

	status, _ = env.do(t, http.MethodPost, "/confirm/"+p.ID, operatorToken, "")
	if status != http.StatusOK {
		t.Fatalf("confirm: status %d", status)
	}

	r := awaitResult(t, result)
	if r.status != http.StatusOK || r.reply.Outcome != dispatch.OutcomeExecuted {
		t.Fatalf("reply: %d %+v", r.status, r.reply)
	}
	if r.reply.Text != "```\nok\n```" || !r.reply.Private {
		t.Errorf("reply: %+v", r.reply)
	}
	if env.backend.count() != 1 {
		t.Errorf("backend calls: got %d, want 1", env.backend.count())
	}
	if !strings.Contains(env.auditLog.String(), "User: "+operatorID+" | Guild: 42 | Command: shell | Target: local") {
		t.Errorf("audit: %q", env.auditLog.String())
	}

	// A second confirm finds nothing.
	if status, _ := env.do(t, http.MethodPost, "/confirm/"+p.ID, operatorToken, ""); status != http.StatusNotFound {
		t.Errorf("second confirm: status %d, want 404", status)
	}
}

func TestCommandCancelFlow(t *testing.T) {
	env := newTestEnv(t)

	result := env.submitAsync(t, "http_get", `{"url":"https://example.com/"}`)
	p := env.waitPending(t)

	if status, _ := env.do(t, http.MethodPost, "/cancel/"+p.ID, operatorToken, ""); status != http.StatusOK {
		t.Fatalf("cancel: status %d", status)
	}

	r := awaitResult(t, result)
	if r.reply.Outcome != dispatch.OutcomeCancelled || r.reply.Text != dispatch.MsgCancelled {
		t.Errorf("reply: %+v", r.reply)
	}
	if env.backend.count() != 0 {
		t.Error("cancelled command must not execute")
	}
}

func TestSignalUnknown(t *testing.T) {
	env := newTestEnv(t)
	if status, _ := env.do(t, http.MethodPost, "/confirm/nope", operatorToken, ""); status != http.StatusNotFound {
		t.Errorf("status: got %d, want 404", status)
	}
}

func TestSignalStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{gate.ErrWrongIdentity, http.StatusForbidden},
		{gate.ErrNotFound, http.StatusNotFound},
		{gate.ErrResolved, http.StatusConflict},
		{io.EOF, http.StatusBadRequest},
	}
	for _, tt := range tests {
		if got := signalStatus(tt.err); got != tt.want {
			t.Errorf("signalStatus(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestCheckOrigin(t *testing.T) {
	s := &Server{AllowedOrigins: []string{"https://ops.example.com", "http://localhost:*"}}

	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"https://ops.example.com", true},
		{"http://localhost:3000", true},
		{"http://localhost:", false},
		{"http://localhost:30x0", false},
		{"https://evil.example.com", false},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		if tt.origin != "" {
			r.Header.Set("Origin", tt.origin)
		}
		if got := s.checkOrigin(r); got != tt.want {
			t.Errorf("checkOrigin(%q) = %v, want %v", tt.origin, got, tt.want)
		}
	}

	empty := &Server{}
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Header.Set("Origin", "https://ops.example.com")
	if empty.checkOrigin(r) {
		t.Error("no allowed origins should reject browser origins")
	}
}

func TestStartStop(t *testing.T) {
	d := dispatch.New(dispatch.Options{OperatorID: operatorID})
	s := New(d, token.NewRegistry(nil).Lookup)
	s.Addr = "127.0.0.1:0"

	if err := s.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if s.ListenAddr() == "" {
		t.Error("ListenAddr should be set while running")
	}
	if err := s.Start(); err == nil {
		t.Error("second Start should fail")
	}

	resp, err := http.Get("http://" + s.ListenAddr() + "/pending")
	if err != nil {
		t.Fatalf("GET error: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status: got %d, want 401", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Errorf("Stop() error: %v", err)
	}
	if err := s.Stop(ctx); err != nil {
		t.Errorf("second Stop() error: %v", err)
	}
}
