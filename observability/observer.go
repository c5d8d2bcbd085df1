// Package observability provides event-based instrumentation for the flow
// engine. Subsystems emit typed events; observers route them to logging,
// tracing, or metrics. Level values align with OpenTelemetry severity
// numbers so events forward to OTel collectors without translation.
package observability

import (
	"context"
	"log/slog"
	"time"
)

// Level is event severity on the OTel SeverityNumber scale.
type Level int

const (
	LevelVerbose Level = 5  // OTel DEBUG range
	LevelInfo    Level = 9  // OTel INFO range
	LevelWarning Level = 13 // OTel WARN range
	LevelError   Level = 17 // OTel ERROR range
)

// String returns the OTel severity text for the level.
func (l Level) String() string {
	switch {
	case l <= 4:
		return "TRACE"
	case l <= 8:
		return "DEBUG"
	case l <= 12:
		return "INFO"
	case l <= 16:
		return "WARN"
	case l <= 20:
		return "ERROR"
	default:
		return "FATAL"
	}
}

// SlogLevel maps the level to the corresponding slog.Level.
func (l Level) SlogLevel() slog.Level {
	switch {
	case l <= 8:
		return slog.LevelDebug
	case l <= 12:
		return slog.LevelInfo
	case l <= 16:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

// EventType identifies the kind of event. Each subsystem defines its own
// constants ("flow.dispatch.start", "flow.provider.retry", ...).
type EventType string

// Event is one observability record: what happened, how severe, when,
// where, and any structured attributes.
type Event struct {
	Type      EventType
	Level     Level
	Timestamp time.Time
	Source    string
	Data      map[string]any
}

// Observer receives events from subsystems. Implementations must be safe
// for concurrent use and must not block the dispatch path.
type Observer interface {
	OnEvent(ctx context.Context, event Event)
}
