package tokenizer

import (
	"fmt"
	"strings"
)

// Kind selects a tokenizer family. The set is sealed: configuration can
// only name one of these variants, keeping selection exhaustively checkable.
type Kind string

const (
	KindBPE       Kind = "bpe"
	KindHeuristic Kind = "heuristic"
)

// Config holds tokenizer initialization parameters.
type Config struct {
	Kind Kind `json:"kind" yaml:"kind"`
	// Encoding names the BPE vocabulary (cl100k_base, o200k_base).
	// Ignored by the heuristic tokenizer.
	Encoding string `json:"encoding,omitempty" yaml:"encoding,omitempty"`
	// Model, when set, selects the BPE encoding registered for the model
	// name instead of Encoding.
	Model string `json:"model,omitempty" yaml:"model,omitempty"`
}

// DefaultConfig returns the default tokenizer configuration: BPE with the
// cl100k_base encoding.
func DefaultConfig() Config {
	return Config{Kind: KindBPE, Encoding: "cl100k_base"}
}

// Merge applies non-zero values from source into c.
func (c *Config) Merge(source *Config) {
	if source.Kind != "" {
		c.Kind = source.Kind
	}
	if source.Encoding != "" {
		c.Encoding = source.Encoding
	}
	if source.Model != "" {
		c.Model = source.Model
	}
}

// New creates a Tokenizer from configuration.
func New(cfg *Config) (Tokenizer, error) {
	switch cfg.Kind {
	case KindBPE, "":
		if cfg.Model != "" {
			return NewBPEForModel(cfg.Model)
		}
		encoding := cfg.Encoding
		if encoding == "" {
			encoding = "cl100k_base"
		}
		return NewBPE(encoding)
	case KindHeuristic:
		return NewHeuristic(), nil
	default:
		return nil, fmt.Errorf("%w: kind %q", ErrUnknownTokenizer, cfg.Kind)
	}
}

// Resolve creates a Tokenizer from a tokenizer id, the inverse of ID().
// Recognized forms: "bpe:<encoding>", "bpe:model:<model>", "heuristic:v1".
// Providers advertise these ids, so a flow can construct the matching
// tokenizer without extra configuration.
func Resolve(id string) (Tokenizer, error) {
	switch {
	case strings.HasPrefix(id, "bpe:model:"):
		return NewBPEForModel(strings.TrimPrefix(id, "bpe:model:"))
	case strings.HasPrefix(id, "bpe:"):
		return NewBPE(strings.TrimPrefix(id, "bpe:"))
	case id == "heuristic:v1":
		return NewHeuristic(), nil
	default:
		return nil, fmt.Errorf("%w: id %q", ErrUnknownTokenizer, id)
	}
}
