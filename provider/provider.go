// Package provider wraps model-serving backends behind a uniform completion
// contract. Each variant owns its transport and auth and translates the
// canonical message sequence into its wire format.
//
// Failures are classified: a TransientError (rate limit, timeout,
// 5xx-equivalent) may be retried by the dispatcher; a FatalError (auth
// failure, malformed request, context-limit violation reported by the
// backend) is surfaced immediately.
package provider

import (
	"context"

	"github.com/modelflow/modelflow/core/chat"
)

// Provider executes completion calls against one backend.
// Implementations must be safe for concurrent use.
type Provider interface {
	// ID returns the stable provider identifier.
	ID() string
	// ContextLimit returns the maximum tokens the backend accepts in one
	// request (prompt plus reserved completion space).
	ContextLimit() int
	// TokenizerID names the tokenizer whose counts match this backend.
	TokenizerID() string
	// Complete issues a completion call with the given message sequence
	// and generation parameters.
	Complete(ctx context.Context, messages []chat.Message, params chat.GenerationParams) (*chat.CompletionResult, error)
}
