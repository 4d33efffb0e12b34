package light

import (
	"context"
	"time"
)

// State is the light state as tracked by the engine.
type State int

const (
	StateOff State = iota
	StateOn
	StateTransitioning
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateOff:
		return "off"
	case StateOn:
		return "on"
	case StateTransitioning:
		return "transitioning"
	default:
		return "unknown"
	}
}

// Command sources.
const (
	SourceAuto   = "auto"
	SourceManual = "manual"
	SourceLegacy = "legacy"
	SourceStop   = "stop"
)

// Command is one brightness change sent to a backend.
type Command struct {
	ID         string    `json:"id"`
	Brightness int       `json:"brightness"`
	DurationMS int       `json:"duration_ms"`
	Source     string    `json:"source"`
	IssuedAt   time.Time `json:"issued_at"`
}

// BackendStatus is what a backend reports about itself.
type BackendStatus struct {
	Mode       string `json:"mode"`
	Connected  bool   `json:"connected"`
	Brightness int    `json:"brightness"`
	LastError  string `json:"last_error,omitempty"`
}

// Backend delivers commands to a physical or simulated light. Send is
// fire-and-forget: a nil error means the command was handed off, not that
// the light confirmed it.
type Backend interface {
	Send(ctx context.Context, cmd Command) error
	Status() BackendStatus
	Mode() string
	Close() error
}

// Logger is the logging interface used by the light package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

func clampBrightness(b int) int {
	if b < 0 {
		return 0
	}
	if b > 100 {
		return 100
	}
	return b
}
