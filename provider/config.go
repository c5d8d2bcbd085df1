package provider

import (
	"fmt"
	"net/http"
)

// Kind selects a provider backend. The set is sealed so configuration can
// only name a known variant.
type Kind string

const (
	KindOpenAI Kind = "openai"
	KindLocal  Kind = "local"
)

// Config holds initialization parameters for one provider.
type Config struct {
	ID      string `json:"id" yaml:"id"`
	Kind    Kind   `json:"kind" yaml:"kind"`
	Model   string `json:"model,omitempty" yaml:"model,omitempty"`
	APIKey  string `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	// ContextLimit overrides the model-derived context window when non-zero.
	ContextLimit int `json:"context_limit,omitempty" yaml:"context_limit,omitempty"`
	// TokenizerID overrides the variant's default tokenizer binding.
	TokenizerID string            `json:"tokenizer_id,omitempty" yaml:"tokenizer_id,omitempty"`
	Headers     map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
}

// Merge applies non-zero values from source into c.
func (c *Config) Merge(source *Config) {
	if source.ID != "" {
		c.ID = source.ID
	}
	if source.Kind != "" {
		c.Kind = source.Kind
	}
	if source.Model != "" {
		c.Model = source.Model
	}
	if source.APIKey != "" {
		c.APIKey = source.APIKey
	}
	if source.BaseURL != "" {
		c.BaseURL = source.BaseURL
	}
	if source.ContextLimit > 0 {
		c.ContextLimit = source.ContextLimit
	}
	if source.TokenizerID != "" {
		c.TokenizerID = source.TokenizerID
	}
	if len(source.Headers) > 0 {
		c.Headers = source.Headers
	}
}

// New creates a Provider from configuration.
func New(cfg *Config, client *http.Client) (Provider, error) {
	if cfg.ID == "" {
		return nil, ErrEmptyProviderID
	}
	switch cfg.Kind {
	case KindOpenAI:
		return NewOpenAI(*cfg, client)
	case KindLocal:
		return NewLocal(*cfg, client)
	default:
		return nil, fmt.Errorf("%w: kind %q", ErrUnknownProvider, cfg.Kind)
	}
}
