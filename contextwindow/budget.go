// Package contextwindow computes how much conversation history fits a
// provider's context limit after reserving space for the anticipated
// completion, and produces the trimmed, ordered message sequence.
package contextwindow

import (
	"errors"
	"fmt"
)

// DefaultTokenOffset is the headroom reserved for the anticipated
// completion when configuration does not specify one.
const DefaultTokenOffset = 16

// Sentinel errors.
var (
	// ErrInvalidBudget indicates a budget whose reserved offset leaves no
	// room for any history. A configuration error: raised at construction,
	// never at dispatch time.
	ErrInvalidBudget = errors.New("token offset must be smaller than context limit")

	// ErrMessageTooLarge indicates a message whose own token count exceeds
	// the entire available budget. The message is never split silently.
	ErrMessageTooLarge = errors.New("message exceeds available token budget")
)

// Budget describes the token envelope for one dispatch: the provider's
// context limit and the headroom reserved for the completion.
type Budget struct {
	ContextLimit int
	TokenOffset  int
}

// NewBudget creates a validated Budget. A zero offset selects
// DefaultTokenOffset.
func NewBudget(contextLimit, tokenOffset int) (Budget, error) {
	if tokenOffset == 0 {
		tokenOffset = DefaultTokenOffset
	}
	b := Budget{ContextLimit: contextLimit, TokenOffset: tokenOffset}
	if err := b.Validate(); err != nil {
		return Budget{}, err
	}
	return b, nil
}

// Validate checks the budget invariants.
func (b Budget) Validate() error {
	if b.ContextLimit <= 0 {
		return fmt.Errorf("%w: context limit %d", ErrInvalidBudget, b.ContextLimit)
	}
	if b.TokenOffset < 0 {
		return fmt.Errorf("%w: negative token offset %d", ErrInvalidBudget, b.TokenOffset)
	}
	if b.TokenOffset >= b.ContextLimit {
		return fmt.Errorf("%w: offset %d, limit %d", ErrInvalidBudget, b.TokenOffset, b.ContextLimit)
	}
	return nil
}

// available returns the history budget after reserving the completion
// headroom and the pinned prefix.
func (b Budget) available(pinnedTokens int) int {
	return b.ContextLimit - b.TokenOffset - pinnedTokens
}
