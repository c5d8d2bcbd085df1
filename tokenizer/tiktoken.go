package tokenizer

import (
	"fmt"

	tiktoken "github.com/pkoukk/tiktoken-go"
)

// bpeTokenizer adapts a tiktoken BPE encoding. The id is "bpe:" plus the
// encoding name, so counts memoized under one encoding never leak into
// another.
type bpeTokenizer struct {
	id  string
	enc *tiktoken.Tiktoken
}

// NewBPE creates a Tokenizer backed by the named tiktoken encoding
// (cl100k_base, o200k_base, ...).
func NewBPE(encoding string) (Tokenizer, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("%w: encoding %q: %v", ErrUnknownTokenizer, encoding, err)
	}
	return &bpeTokenizer{id: "bpe:" + encoding, enc: enc}, nil
}

// NewBPEForModel creates a Tokenizer using the encoding registered for the
// given model name.
func NewBPEForModel(model string) (Tokenizer, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		return nil, fmt.Errorf("%w: model %q: %v", ErrUnknownTokenizer, model, err)
	}
	return &bpeTokenizer{id: "bpe:model:" + model, enc: enc}, nil
}

func (t *bpeTokenizer) ID() string {
	return t.id
}

func (t *bpeTokenizer) Count(text string) (int, error) {
	ids, err := t.Encode(text)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

func (t *bpeTokenizer) Encode(text string) ([]int, error) {
	return t.enc.Encode(text, nil, nil), nil
}
