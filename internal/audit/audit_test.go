package audit

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/xdg/opsgate/internal/command"
)

// Fixed timestamp for deterministic testing
var testTime = time.Date(2024, 1, 15, 14, 32, 5, 0, time.UTC)

func TestEntryFormat(t *testing.T) {
	tests := []struct {
		name  string
		entry Entry
		want  string
	}{
		{
			name:  "shell",
			entry: Entry{Timestamp: testTime, UserID: "123", ContextID: "456", Kind: command.KindShell, Target: "local"},
			want:  "[2024-01-15 14:32:05] User: 123 | Guild: 456 | Command: shell | Target: local",
		},
		{
			name:  "ssh",
			entry: Entry{Timestamp: testTime, UserID: "123", ContextID: "0", Kind: command.KindSSH, Target: "db1.internal"},
			want:  "[2024-01-15 14:32:05] User: 123 | Guild: 0 | Command: ssh | Target: db1.internal",
		},
		{
			name:  "http post",
			entry: Entry{Timestamp: testTime, UserID: "9", ContextID: "1", Kind: command.KindHTTPPost, Target: "https://example.com/hook"},
			want:  "[2024-01-15 14:32:05] User: 9 | Guild: 1 | Command: http_post | Target: https://example.com/hook",
		},
		{
			name:  "newline in target stays on one line",
			entry: Entry{Timestamp: testTime, UserID: "1", ContextID: "2", Kind: command.KindSSH, Target: "host\nforged"},
			want:  `[2024-01-15 14:32:05] User: 1 | Guild: 2 | Command: ssh | Target: host\nforged`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.entry.Format(); got != tt.want {
				t.Errorf("Format() =\n  got:  %q\n  want: %q", got, tt.want)
			}
		})
	}
}

func TestEntryFormat_ConvertsToUTC(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	e := Entry{Timestamp: time.Date(2024, 1, 15, 16, 32, 5, 0, loc), UserID: "1", ContextID: "2", Kind: command.KindShell, Target: "local"}

	if got := e.Format(); !strings.HasPrefix(got, "[2024-01-15 14:32:05]") {
		t.Errorf("Format() = %q, want UTC timestamp", got)
	}
}

func TestEntryFor_NeverRecordsPassword(t *testing.T) {
	req := command.NewRequest(command.KindSSH, command.Params{
		command.ParamHost:     "10.0.0.9",
		command.ParamUsername: "root",
		command.ParamPassword: "hunter2",
		command.ParamCommand:  "uptime",
	}, "123", "456")

	line := EntryFor(req, testTime).Format()
	if strings.Contains(line, "hunter2") {
		t.Errorf("audit line leaked password: %s", line)
	}
	if !strings.HasSuffix(line, "Target: 10.0.0.9") {
		t.Errorf("audit line = %q, want host target", line)
	}
}

func TestLogger_Record(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf)
	logger.now = func() time.Time { return testTime }

	req := command.NewRequest(command.KindShell, command.Params{command.ParamCommand: "echo hello"}, "123", "456")
	if err := logger.Record(req); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	want := "[2024-01-15 14:32:05] User: 123 | Guild: 456 | Command: shell | Target: local\n"
	if got := buf.String(); got != want {
		t.Errorf("Record() wrote:\n  got:  %q\n  want: %q", got, want)
	}
}

func TestLogger_NilLogger(t *testing.T) {
	var logger *Logger

	if err := logger.Log(&Entry{Timestamp: testTime}); err != nil {
		t.Errorf("nil logger should return nil error, got %v", err)
	}
	if err := logger.Record(command.Request{}); err != nil {
		t.Errorf("nil logger Record should return nil error, got %v", err)
	}
}

func TestLogger_NilWriter(t *testing.T) {
	logger := &Logger{w: nil}

	if err := logger.Log(&Entry{Timestamp: testTime}); err != nil {
		t.Errorf("nil writer should return nil error, got %v", err)
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestLogger_WriteFailureWrapsErrWrite(t *testing.T) {
	logger := NewLogger(failingWriter{})

	err := logger.Log(&Entry{Timestamp: testTime})
	if !errors.Is(err, ErrWrite) {
		t.Fatalf("Log() error = %v, want ErrWrite", err)
	}
	if !strings.Contains(err.Error(), "disk full") {
		t.Errorf("Log() error = %v, want underlying cause", err)
	}
}

func TestFileLogger_CreatesParentAndAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "nested", "audit.log")
	logger := NewFileLogger(path)
	logger.now = func() time.Time { return testTime }

	for i := 0; i < 2; i++ {
		req := command.NewRequest(command.KindHTTPGet, command.Params{command.ParamURL: fmt.Sprintf("http://example.com/%d", i)}, "1", "2")
		if err := logger.Record(req); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	lines := strings.Split(strings.TrimSuffix(string(content), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), content)
	}
	if !strings.HasSuffix(lines[0], "Target: http://example.com/0") || !strings.HasSuffix(lines[1], "Target: http://example.com/1") {
		t.Errorf("unexpected file contents: %q", content)
	}
}

func TestFileLogger_UnwritablePath(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "not-a-dir")
	if err := os.WriteFile(blocker, []byte("x"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	logger := NewFileLogger(filepath.Join(blocker, "audit.log"))
	err := logger.Record(command.NewRequest(command.KindShell, command.Params{command.ParamCommand: "id"}, "1", "2"))
	if !errors.Is(err, ErrWrite) {
		t.Fatalf("Record() error = %v, want ErrWrite", err)
	}
}

var linePattern = regexp.MustCompile(`^\[\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}\] User: u\d+ \| Guild: g \| Command: shell \| Target: local$`)

func TestFileLogger_ConcurrentAppendsDoNotInterleave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	logger := NewFileLogger(path)

	const workers = 50
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := command.NewRequest(command.KindShell, command.Params{command.ParamCommand: "true"}, fmt.Sprintf("u%d", i), "g")
			if err := logger.Record(req); err != nil {
				t.Errorf("Record() error = %v", err)
			}
		}(i)
	}
	wg.Wait()

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	lines := strings.Split(strings.TrimSuffix(string(content), "\n"), "\n")
	if len(lines) != workers {
		t.Fatalf("expected %d lines, got %d", workers, len(lines))
	}
	for i, line := range lines {
		if !linePattern.MatchString(line) {
			t.Errorf("line %d malformed: %q", i, line)
		}
	}
}

func TestTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")

	lines, err := Tail(path, 5)
	if err != nil || lines != nil {
		t.Fatalf("Tail() on missing file = %v, %v; want nil, nil", lines, err)
	}

	var content strings.Builder
	for i := 0; i < 10; i++ {
		fmt.Fprintf(&content, "line %d\n", i)
	}
	if err := os.WriteFile(path, []byte(content.String()), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	lines, err = Tail(path, 3)
	if err != nil {
		t.Fatalf("Tail() error = %v", err)
	}
	want := []string{"line 7", "line 8", "line 9"}
	if strings.Join(lines, ",") != strings.Join(want, ",") {
		t.Errorf("Tail() = %v, want %v", lines, want)
	}

	all, err := Tail(path, 0)
	if err != nil {
		t.Fatalf("Tail() error = %v", err)
	}
	if len(all) != 10 {
		t.Errorf("Tail(0) returned %d lines, want 10", len(all))
	}
}
