package clog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Logger writes leveled, single-line entries to a file and to stderr.
type Logger struct {
	mu         sync.Mutex
	level      Level
	fileWriter io.Writer // entries at or above level
	errWriter  io.Writer // warn and error outside daemon mode
	daemonMode bool
	now        func() time.Time
}

// NewLogger returns a logger at LevelInfo that echoes warnings to stderr
// and has no file output.
func NewLogger() *Logger {
	return &Logger{
		level:     LevelInfo,
		errWriter: os.Stderr,
		now:       time.Now,
	}
}

// SetLevel sets the minimum level written.
func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// SetFileOutput sets the file writer. Nil disables file logging.
func (l *Logger) SetFileOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fileWriter = w
}

// SetErrOutput sets the writer for the stderr echo. Nil disables it.
func (l *Logger) SetErrOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errWriter = w
}

// SetDaemonMode turns the stderr echo off (true) or on (false).
func (l *Logger) SetDaemonMode(daemon bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.daemonMode = daemon
}

// Debug logs a debug message.
func (l *Logger) Debug(format string, args ...any) {
	l.log(LevelDebug, format, args...)
}

// Info logs an informational message.
func (l *Logger) Info(format string, args ...any) {
	l.log(LevelInfo, format, args...)
}

// Warn logs a warning message.
func (l *Logger) Warn(format string, args ...any) {
	l.log(LevelWarn, format, args...)
}

// Error logs an error message.
func (l *Logger) Error(format string, args ...any) {
	l.log(LevelError, format, args...)
}

// entryEscaper keeps one entry per line.
var entryEscaper = strings.NewReplacer("\r\n", `\n`, "\n", `\n`, "\r", `\r`)

func (l *Logger) log(level Level, format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if level < l.level {
		return
	}

	msg := entryEscaper.Replace(strings.TrimRight(fmt.Sprintf(format, args...), "\r\n"))

	if l.fileWriter != nil {
		line := l.now().UTC().Format(time.RFC3339) + " [" + level.String() + "] " + msg + "\n"
		_, _ = io.WriteString(l.fileWriter, line)
	}
	if !l.daemonMode && l.errWriter != nil && level >= LevelWarn {
		_, _ = io.WriteString(l.errWriter, "["+level.String()+"] "+msg+"\n")
	}
}

// closeFile closes the file writer if it is closable and detaches it, so
// later entries are not written to a closed file.
func (l *Logger) closeFile() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	closer, ok := l.fileWriter.(io.Closer)
	l.fileWriter = nil
	if !ok {
		return nil
	}
	return closer.Close()
}

// OpenLogFile opens path for appending, creating parent directories.
func OpenLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640) //nolint:gosec // G304: path is operator configuration
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return f, nil
}
