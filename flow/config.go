package flow

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/modelflow/modelflow/contextwindow"
	"github.com/modelflow/modelflow/provider"
	"github.com/modelflow/modelflow/store"
)

const defaultCallTimeoutMillis = 60_000

// Config holds initialization parameters for a Flow and its subsystems.
type Config struct {
	// Provider selects the default provider id. May be empty when exactly
	// one provider is configured.
	Provider string `json:"provider,omitempty" yaml:"provider,omitempty"`
	// TokenizerID overrides the tokenizer advertised by the provider.
	TokenizerID string `json:"tokenizer_id,omitempty" yaml:"tokenizer_id,omitempty"`
	// TokenOffset is the completion headroom reserved before trimming.
	TokenOffset int `json:"token_offset,omitempty" yaml:"token_offset,omitempty"`
	// ContextLimit overrides the provider's advertised context limit.
	ContextLimit int `json:"context_limit,omitempty" yaml:"context_limit,omitempty"`
	// StrictOversize makes an over-budget newest message a trim failure
	// instead of being sent alone.
	StrictOversize bool `json:"strict_oversize,omitempty" yaml:"strict_oversize,omitempty"`
	// CallTimeoutMillis bounds each provider call. Exceeding it counts as
	// a transient failure subject to the retry policy.
	CallTimeoutMillis int `json:"call_timeout_ms,omitempty" yaml:"call_timeout_ms,omitempty"`

	Providers []provider.Config `json:"providers,omitempty" yaml:"providers,omitempty"`
	Store     store.Config      `json:"store" yaml:"store"`
	Retry     RetryConfig       `json:"retry" yaml:"retry"`
}

// DefaultConfig returns a Config with defaults for every subsystem.
func DefaultConfig() Config {
	return Config{
		TokenOffset:       contextwindow.DefaultTokenOffset,
		CallTimeoutMillis: defaultCallTimeoutMillis,
		Store:             store.DefaultConfig(),
		Retry:             DefaultRetryConfig(),
	}
}

// Merge applies non-zero values from source into c, delegating to each
// subsystem's Merge.
func (c *Config) Merge(source *Config) {
	if source.Provider != "" {
		c.Provider = source.Provider
	}
	if source.TokenizerID != "" {
		c.TokenizerID = source.TokenizerID
	}
	if source.TokenOffset > 0 {
		c.TokenOffset = source.TokenOffset
	}
	if source.ContextLimit > 0 {
		c.ContextLimit = source.ContextLimit
	}
	if source.StrictOversize {
		c.StrictOversize = true
	}
	if source.CallTimeoutMillis > 0 {
		c.CallTimeoutMillis = source.CallTimeoutMillis
	}
	if len(source.Providers) > 0 {
		c.Providers = source.Providers
	}
	c.Store.Merge(&source.Store)
	c.Retry.Merge(&source.Retry)
}

// LoadConfig reads a config file, merges it over defaults, and returns the
// result. The format follows the file extension: .yaml/.yml or .json.
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var loaded Config
	switch filepath.Ext(filename) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &loaded); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &loaded); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg := DefaultConfig()
	cfg.Merge(&loaded)
	return &cfg, nil
}
