package store

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/modelflow/modelflow/core/chat"
)

type fileStore struct {
	root string
	mu   sync.Mutex
}

// NewFileStore creates a Store that keeps one JSON-lines file per
// conversation under root. Appends are flushed and synced before they are
// acknowledged.
func NewFileStore(root string) (Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("%w: creating %s: %v", ErrUnavailable, root, err)
	}
	return &fileStore{root: root}, nil
}

func (s *fileStore) path(conversationID string) string {
	// Conversation ids become file names; escape path separators so an id
	// can never reach outside root.
	safe := strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(conversationID)
	return filepath.Join(s.root, safe+".jsonl")
}

func (s *fileStore) Load(_ context.Context, conversationID string) ([]chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path(conversationID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: open %s: %v", ErrUnavailable, conversationID, err)
	}
	defer f.Close()

	var history []chat.Message
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var msg chat.Message
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			return nil, fmt.Errorf("%w: corrupt record in %s: %v", ErrUnavailable, conversationID, err)
		}
		history = append(history, msg)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrUnavailable, conversationID, err)
	}
	return history, nil
}

func (s *fileStore) Append(_ context.Context, conversationID string, msg chat.Message) (chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Seq continues from the last persisted record.
	last, err := s.lastSeq(conversationID)
	if err != nil {
		return chat.Message{}, err
	}
	msg.Seq = last + 1

	data, err := json.Marshal(msg)
	if err != nil {
		return chat.Message{}, fmt.Errorf("%w: encode message: %v", ErrUnavailable, err)
	}

	f, err := os.OpenFile(s.path(conversationID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return chat.Message{}, fmt.Errorf("%w: open %s: %v", ErrUnavailable, conversationID, err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return chat.Message{}, fmt.Errorf("%w: append %s: %v", ErrUnavailable, conversationID, err)
	}
	if err := f.Sync(); err != nil {
		return chat.Message{}, fmt.Errorf("%w: sync %s: %v", ErrUnavailable, conversationID, err)
	}
	return msg, nil
}

func (s *fileStore) lastSeq(conversationID string) (int64, error) {
	f, err := os.Open(s.path(conversationID))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: open %s: %v", ErrUnavailable, conversationID, err)
	}
	defer f.Close()

	var last int64
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var msg chat.Message
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			continue
		}
		if msg.Seq > last {
			last = msg.Seq
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("%w: read %s: %v", ErrUnavailable, conversationID, err)
	}
	return last, nil
}
