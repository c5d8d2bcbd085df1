// Package tokenizer wraps concrete tokenizer implementations behind a
// uniform counting and encoding contract. Every implementation must be
// deterministic for a given text and tokenizer version; the context window
// manager memoizes counts and relies on their stability.
package tokenizer

import "errors"

// Sentinel errors for tokenizer construction and use.
var (
	// ErrTokenization indicates input that the tokenizer cannot encode.
	// Fatal for the triggering message only; the dispatcher surfaces it to
	// the caller rather than silently dropping the message.
	ErrTokenization = errors.New("tokenization failed")

	// ErrUnknownTokenizer indicates a tokenizer id with no registered variant.
	ErrUnknownTokenizer = errors.New("unknown tokenizer")
)

// Tokenizer counts and encodes text for one tokenizer family and version.
// Implementations must be safe for concurrent use.
type Tokenizer interface {
	// ID returns the stable tokenizer identifier used for memoization keys.
	ID() string
	// Count returns the number of tokens in text.
	Count(text string) (int, error)
	// Encode returns the token ids for text. Used only when a single
	// message must be split, never during normal trimming.
	Encode(text string) ([]int, error)
}

// A Counter is the subset of Tokenizer needed by components that never
// split text.
type Counter interface {
	ID() string
	Count(text string) (int, error)
}
