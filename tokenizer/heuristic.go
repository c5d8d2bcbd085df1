package tokenizer

import (
	"fmt"
	"unicode"
	"unicode/utf8"
)

// heuristicTokenizer estimates tokens without a vocabulary. Words and runs
// of punctuation each count as one token, with long words charged one extra
// token per four runes beyond the first four. Deterministic for a given
// text, which is all the memo cache requires.
//
// Used with local model backends where the exact vocabulary is not
// available on the client side.
type heuristicTokenizer struct{}

// NewHeuristic creates a vocabulary-free estimating Tokenizer.
func NewHeuristic() Tokenizer {
	return heuristicTokenizer{}
}

func (heuristicTokenizer) ID() string {
	return "heuristic:v1"
}

func (t heuristicTokenizer) Count(text string) (int, error) {
	if !utf8.ValidString(text) {
		return 0, fmt.Errorf("%w: invalid UTF-8 input", ErrTokenization)
	}

	count := 0
	wordLen := 0
	flush := func() {
		if wordLen == 0 {
			return
		}
		count++
		if wordLen > 4 {
			count += (wordLen - 1) / 4
		}
		wordLen = 0
	}

	for _, r := range text {
		switch {
		case unicode.IsSpace(r):
			flush()
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			wordLen++
		default:
			flush()
			count++
		}
	}
	flush()

	return count, nil
}

// Encode assigns synthetic ids: one id per estimated token. The ids carry
// no vocabulary meaning; they exist so oversized messages can be measured
// and truncated proportionally.
func (t heuristicTokenizer) Encode(text string) ([]int, error) {
	n, err := t.Count(text)
	if err != nil {
		return nil, err
	}
	ids := make([]int, n)
	for i := range ids {
		ids[i] = i
	}
	return ids, nil
}
