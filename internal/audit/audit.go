// Package audit records privileged command attempts in an append-only log.
// Each entry is a single line:
//
//	[2024-01-15 14:32:05] User: 42 | Guild: 7 | Command: shell | Target: local
//
// Entries are never rewritten or removed by opsgate.
package audit

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/xdg/opsgate/internal/command"
)

// TimestampLayout is the UTC timestamp format used in audit lines.
const TimestampLayout = "2006-01-02 15:04:05"

// ErrWrite is returned (wrapped) when an entry could not be persisted.
var ErrWrite = errors.New("audit write failed")

// Entry is one audit record.
type Entry struct {
	// Timestamp is when the request was accepted. It is always written in UTC.
	Timestamp time.Time

	// UserID is the requester identity.
	UserID string

	// ContextID correlates the entry with the chat context (guild/channel).
	ContextID string

	// Kind is the command kind (shell, ssh, http_get, http_post).
	Kind command.Kind

	// Target is the command target: "local", a host, or a URL.
	// It must never contain secrets.
	Target string
}

// EntryFor builds the audit entry for an accepted request.
func EntryFor(req command.Request, now time.Time) *Entry {
	return &Entry{
		Timestamp: now,
		UserID:    req.RequesterID,
		ContextID: req.ContextID,
		Kind:      req.Kind,
		Target:    req.Target(),
	}
}

// Format returns the entry as a single line without the trailing newline.
// Line breaks inside fields are escaped so one entry always occupies one line.
func (e *Entry) Format() string {
	var b strings.Builder
	b.WriteString("[")
	b.WriteString(e.Timestamp.UTC().Format(TimestampLayout))
	b.WriteString("] User: ")
	b.WriteString(oneLine(e.UserID))
	b.WriteString(" | Guild: ")
	b.WriteString(oneLine(e.ContextID))
	b.WriteString(" | Command: ")
	b.WriteString(oneLine(string(e.Kind)))
	b.WriteString(" | Target: ")
	b.WriteString(oneLine(e.Target))
	return b.String()
}

var lineEscaper = strings.NewReplacer("\r", `\r`, "\n", `\n`)

func oneLine(s string) string {
	return lineEscaper.Replace(s)
}

// Logger appends audit entries to a writer. Appends are serialized so
// concurrent requests never interleave partial lines.
type Logger struct {
	mu  sync.Mutex
	w   io.Writer
	now func() time.Time
}

// NewLogger creates a logger writing to w.
func NewLogger(w io.Writer) *Logger {
	return &Logger{w: w, now: time.Now}
}

// NewFileLogger creates a logger that appends to the file at path. The file
// is opened in append mode for every entry and its parent directory is
// created on demand, so the log may be rotated or removed externally.
func NewFileLogger(path string) *Logger {
	return NewLogger(&appendFile{path: path})
}

// Log writes one entry as a single Write call.
// A nil logger or nil writer discards the entry.
func (l *Logger) Log(e *Entry) error {
	if l == nil || l.w == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	line := e.Format() + "\n"
	if _, err := l.w.Write([]byte(line)); err != nil {
		return fmt.Errorf("%w: %w", ErrWrite, err)
	}
	return nil
}

// Record logs an entry for an accepted request, stamped with the current time.
func (l *Logger) Record(req command.Request) error {
	if l == nil {
		return nil
	}
	return l.Log(EntryFor(req, l.now()))
}

// appendFile is an io.Writer that opens path in append mode for every write.
type appendFile struct {
	path string
}

func (a *appendFile) Write(p []byte) (int, error) {
	if err := os.MkdirAll(filepath.Dir(a.path), 0o750); err != nil {
		return 0, fmt.Errorf("create audit log directory: %w", err)
	}
	f, err := os.OpenFile(a.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640) //nolint:gosec // G304: path is operator configuration
	if err != nil {
		return 0, fmt.Errorf("open audit log: %w", err)
	}
	n, writeErr := f.Write(p)
	closeErr := f.Close()
	if writeErr != nil {
		return n, fmt.Errorf("write audit log: %w", writeErr)
	}
	if closeErr != nil {
		return n, fmt.Errorf("close audit log: %w", closeErr)
	}
	return n, nil
}

// Tail returns up to n of the most recent lines from the audit log at path.
// A missing file yields no lines.
func Tail(path string, n int) ([]string, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is operator configuration
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read audit log: %w", err)
	}
	text := strings.TrimSuffix(string(data), "\n")
	if text == "" {
		return nil, nil
	}
	lines := strings.Split(text, "\n")
	if n > 0 && len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines, nil
}
