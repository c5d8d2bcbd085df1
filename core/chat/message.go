// Package chat defines the conversation data model shared by every
// subsystem: messages, roles, generation parameters, and completion results.
//
// Messages are immutable once created. A conversation is an append-only,
// ordered sequence of messages; ordering is carried by the Seq field, which
// the store assigns monotonically per conversation.
package chat

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies the sender of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether the role is one of the recognized values.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// Message is a single turn in a conversation. ID is a UUIDv7 assigned at
// creation; Seq is the monotonic position within the conversation, assigned
// by the store on append (zero until persisted).
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Seq       int64     `json:"seq"`
	CreatedAt time.Time `json:"created_at"`
}

// NewMessage creates a Message with the given role and content. The message
// receives a fresh UUIDv7 identifier and a creation timestamp.
func NewMessage(role Role, content string) Message {
	return Message{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
}

// GenerationParams carries sampling parameters for a completion call.
// Keys are passed through to the provider opaquely (temperature, max_tokens,
// top_p, stop, and anything else the backend understands).
type GenerationParams map[string]any

// Clone returns a shallow copy so callers can mutate their params without
// affecting an in-flight dispatch.
func (p GenerationParams) Clone() GenerationParams {
	if len(p) == 0 {
		return nil
	}
	out := make(GenerationParams, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Usage reports token consumption for a single completion call, as counted
// by the provider.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// CompletionResult is a provider's answer to a completion call: the
// assistant text plus accounting metadata. Message derives from it when the
// dispatcher appends the reply to the conversation.
type CompletionResult struct {
	Content      string `json:"content"`
	ProviderID   string `json:"provider_id"`
	Model        string `json:"model,omitempty"`
	FinishReason string `json:"finish_reason,omitempty"`
	Usage        Usage  `json:"usage"`
}
