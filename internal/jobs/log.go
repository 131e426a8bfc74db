package jobs

import (
	"strings"
	"time"
)

// Level is the severity of a log entry
type Level string

const (
	// LevelDebug is used for verbose diagnostic entries
	LevelDebug Level = "debug"
	// LevelInfo is the default level
	LevelInfo Level = "info"
	// LevelWarn is used for recoverable problems
	LevelWarn Level = "warn"
	// LevelError is used for failures
	LevelError Level = "error"
)

// ParseLevel normalizes a raw level. Unknown values map to info.
func ParseLevel(raw string) Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error", "err", "fatal", "critical":
		return LevelError
	default:
		return LevelInfo
	}
}

// LogEntry is a single line of job output. Entries are never mutated once created.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     Level     `json:"level"`
	Message   string    `json:"message"`
}

// Update is one message received on a job's push channel
type Update struct {
	Status   Status `json:"status"`
	Progress int    `json:"progress"`
	Message  string `json:"message"`

	// Level and Timestamp are optional; the receiver fills them in when absent
	Level     string     `json:"level,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}
