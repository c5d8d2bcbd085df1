package contextwindow

import (
	"fmt"

	"github.com/modelflow/modelflow/core/chat"
	"github.com/modelflow/modelflow/tokenizer"
)

// perMessageOverhead is the wire framing cost a chat backend charges per
// message beyond its text (role markers and separators).
const perMessageOverhead = 3

// Option configures a Manager.
type Option func(*Manager)

// WithStrictOversize makes Trim return ErrMessageTooLarge when the most
// recent message alone exceeds the available budget. The default keeps that
// message anyway: a single message is the minimal useful unit, and dropping
// everything would leave the provider with no prompt at all.
func WithStrictOversize() Option {
	return func(m *Manager) { m.strictOversize = true }
}

// WithMessageOverhead overrides the per-message framing cost added to each
// message's text token count.
func WithMessageOverhead(n int) Option {
	return func(m *Manager) { m.overhead = n }
}

// Manager produces the largest budget-fitting contiguous suffix of a
// conversation's history, preserving a pinned system prefix. Token counts
// are memoized per (message, tokenizer) so unchanged history is never
// re-tokenized across dispatches. Safe for concurrent use; multiple
// managers in one process do not interfere.
type Manager struct {
	tok            tokenizer.Tokenizer
	cache          *countCache
	overhead       int
	strictOversize bool
}

// NewManager creates a Manager that measures history with tok.
func NewManager(tok tokenizer.Tokenizer, opts ...Option) *Manager {
	m := &Manager{
		tok:      tok,
		cache:    newCountCache(),
		overhead: perMessageOverhead,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// TokenizerID returns the id of the tokenizer backing this manager.
func (m *Manager) TokenizerID() string {
	return m.tok.ID()
}

// MessageTokens returns the token cost of one message: its content count
// plus the per-message framing overhead. Memoized by message id.
func (m *Manager) MessageTokens(msg chat.Message) (int, error) {
	key := countKey{messageID: msg.ID, tokenizerID: m.tok.ID()}
	if n, ok := m.cache.get(key); ok {
		return n, nil
	}

	n, err := m.tok.Count(msg.Content)
	if err != nil {
		return 0, fmt.Errorf("counting message %s: %w", msg.ID, err)
	}
	n += m.overhead

	if msg.ID != "" {
		m.cache.put(key, n)
	}
	return n, nil
}

// Trim selects the pinned prefix (the first message, when system-role) plus
// the largest contiguous suffix of the remaining history whose total token
// count fits budget. Messages are never reordered and never split.
//
// When even the most recent message exceeds the budget on its own, it is
// still retained, unless the manager was built with WithStrictOversize, in
// which case ErrMessageTooLarge is returned.
func (m *Manager) Trim(history []chat.Message, budget Budget) ([]chat.Message, error) {
	if err := budget.Validate(); err != nil {
		return nil, err
	}

	var pinned []chat.Message
	rest := history
	if len(history) > 0 && history[0].Role == chat.RoleSystem {
		pinned = history[:1]
		rest = history[1:]
	}

	pinnedTokens := 0
	if len(pinned) > 0 {
		n, err := m.MessageTokens(pinned[0])
		if err != nil {
			return nil, err
		}
		pinnedTokens = n
	}

	remaining := budget.available(pinnedTokens)
	if remaining < 0 {
		return nil, fmt.Errorf("%w: pinned prefix is %d tokens, budget leaves %d",
			ErrMessageTooLarge, pinnedTokens, budget.ContextLimit-budget.TokenOffset)
	}

	if len(rest) == 0 {
		return append([]chat.Message(nil), pinned...), nil
	}

	// Walk newest to oldest, accumulating until the next candidate would
	// overflow. start ends up at the first retained message.
	start := len(rest)
	used := 0
	for i := len(rest) - 1; i >= 0; i-- {
		n, err := m.MessageTokens(rest[i])
		if err != nil {
			return nil, err
		}
		if used+n > remaining {
			break
		}
		used += n
		start = i
	}

	if start == len(rest) {
		// Not even the newest message fits.
		if m.strictOversize {
			newest := rest[len(rest)-1]
			n, _ := m.MessageTokens(newest)
			return nil, fmt.Errorf("%w: message %s is %d tokens, %d available",
				ErrMessageTooLarge, newest.ID, n, remaining)
		}
		start = len(rest) - 1
	}

	out := make([]chat.Message, 0, len(pinned)+len(rest)-start)
	out = append(out, pinned...)
	out = append(out, rest[start:]...)
	return out, nil
}

// CachedCounts reports how many (message, tokenizer) counts are memoized.
// Exposed for observability.
func (m *Manager) CachedCounts() int {
	return m.cache.len()
}
