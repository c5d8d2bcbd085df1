// Package store provides durable conversation history storage behind a
// minimal contract: ordered reads and appends. The dispatcher assumes
// at-least-once durability of Append and strict preservation of insertion
// order on Load. Retention and deletion policy belong to the backend, not
// the core.
package store

import (
	"context"
	"errors"

	"github.com/modelflow/modelflow/core/chat"
)

// Sentinel errors for store operations.
var (
	// ErrUnavailable indicates the backend cannot serve the request. The
	// core surfaces it immediately and never buffers writes.
	ErrUnavailable = errors.New("conversation store unavailable")

	// ErrNotFound indicates an unknown conversation id on a read that
	// requires one to exist.
	ErrNotFound = errors.New("conversation not found")
)

// Store persists conversation history. Implementations must be safe for
// concurrent use and must assign monotonically increasing Seq values per
// conversation on Append.
type Store interface {
	// Load returns the full ordered message history for a conversation.
	// An unknown conversation yields an empty history, not an error; a
	// conversation exists from its first append.
	Load(ctx context.Context, conversationID string) ([]chat.Message, error)

	// Append persists one message at the end of a conversation and
	// returns the stored copy with its assigned Seq.
	Append(ctx context.Context, conversationID string, msg chat.Message) (chat.Message, error)
}
