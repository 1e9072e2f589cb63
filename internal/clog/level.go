// Package clog provides leveled operational logging for opsgate.
// This is distinct from the audit log (see internal/audit), which records
// every accepted command for review.
//
// Entries go to the log file at or above the configured level. Warn and
// Error are also echoed to stderr unless the logger runs in daemon mode
// (opsgate serve). Each entry is a single line; embedded newlines from
// backend errors or remote output are escaped.
package clog

import (
	"fmt"
	"strings"
)

// Level represents the severity of a log message.
type Level int

const (
	// LevelDebug is for verbose diagnostic information (--debug).
	LevelDebug Level = iota
	// LevelInfo is for normal operational events.
	LevelInfo
	// LevelWarn is for unexpected conditions that don't prevent operation.
	LevelWarn
	// LevelError is for failures that affect functionality.
	LevelError
)

// LevelNames lists the accepted spellings of log.level.
var LevelNames = []string{"debug", "info", "warn", "error"}

// String returns the uppercase name of the level.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel parses a log.level value, ignoring case. The empty string
// means LevelInfo.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("invalid log level %q, must be one of: %s", s, strings.Join(LevelNames, ", "))
	}
}
