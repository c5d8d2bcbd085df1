package store

import (
	"context"
	"sync"

	"github.com/modelflow/modelflow/core/chat"
)

type memStore struct {
	mu            sync.RWMutex
	conversations map[string][]chat.Message
}

// NewMemStore creates an ephemeral in-memory Store. History lives for the
// process lifetime only; useful for tests and stateless deployments.
func NewMemStore() Store {
	return &memStore{conversations: make(map[string][]chat.Message)}
}

func (s *memStore) Load(_ context.Context, conversationID string) ([]chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.conversations[conversationID]
	out := make([]chat.Message, len(history))
	copy(out, history)
	return out, nil
}

func (s *memStore) Append(_ context.Context, conversationID string, msg chat.Message) (chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	history := s.conversations[conversationID]
	msg.Seq = int64(len(history)) + 1
	s.conversations[conversationID] = append(history, msg)
	return msg, nil
}
