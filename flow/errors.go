package flow

import (
	"errors"
	"fmt"
)

// Stage names the dispatch phase in which a failure occurred, so callers
// can tell "your input was too large" from "the provider is unavailable"
// from "history could not be persisted".
type Stage string

const (
	StageLoad     Stage = "load"
	StageTrim     Stage = "trim"
	StageDispatch Stage = "dispatch"
	StageAppend   Stage = "append"
)

// Sentinel errors.
var (
	// ErrConfiguration indicates an invalid flow configuration. Raised at
	// construction, before any dispatch.
	ErrConfiguration = errors.New("invalid flow configuration")

	// ErrRetriesExhausted indicates the transient retry budget ran out.
	ErrRetriesExhausted = errors.New("provider retries exhausted")
)

// DispatchError wraps a failure with the stage it occurred in and the
// conversation it affected.
type DispatchError struct {
	Stage          Stage
	ConversationID string
	Err            error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch failed at %s stage (conversation %s): %v", e.Stage, e.ConversationID, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// StageOf returns the failing stage recorded in err, or an empty Stage
// when err carries none.
func StageOf(err error) Stage {
	var de *DispatchError
	if errors.As(err, &de) {
		return de.Stage
	}
	return ""
}
