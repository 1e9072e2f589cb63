package clog

import (
	"io"
	"log"
	"strings"
)

// std is the global logger used by the package-level functions.
var std = NewLogger()

// Configure sets the global level and daemon mode and, when logPath is not
// empty, replaces the log file. A previously configured file is closed.
func Configure(logPath string, level Level, daemonMode bool) error {
	std.SetLevel(level)
	std.SetDaemonMode(daemonMode)

	if logPath == "" {
		return nil
	}
	f, err := OpenLogFile(logPath)
	if err != nil {
		return err
	}
	_ = std.closeFile()
	std.SetFileOutput(f)
	return nil
}

// Debug logs a debug message using the global logger.
func Debug(format string, args ...any) {
	std.Debug(format, args...)
}

// Info logs an informational message using the global logger.
func Info(format string, args ...any) {
	std.Info(format, args...)
}

// Warn logs a warning message using the global logger.
func Warn(format string, args ...any) {
	std.Warn(format, args...)
}

// Error logs an error message using the global logger.
func Error(format string, args ...any) {
	std.Error(format, args...)
}

// Close closes the global log file. Later entries skip file output until
// Configure is called again.
func Close() error {
	return std.closeFile()
}

// Reset restores the default global logger.
func Reset() {
	std = NewLogger()
}

// Discard silences the global logger. Tests call it from TestMain.
func Discard() {
	std.SetFileOutput(io.Discard)
	std.SetErrOutput(io.Discard)
}

// ReplaceGlobal installs l as the global logger and returns the previous one.
func ReplaceGlobal(l *Logger) *Logger {
	old := std
	std = l
	return old
}

// StdLogger returns a *log.Logger that writes to clog at level, for
// http.Server.ErrorLog.
func StdLogger(level Level) *log.Logger {
	return log.New(levelWriter(level), "", 0)
}

type levelWriter Level

func (w levelWriter) Write(p []byte) (int, error) {
	std.log(Level(w), "%s", strings.TrimRight(string(p), "\n"))
	return len(p), nil
}
