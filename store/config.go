package store

import "fmt"

// Kind selects a storage backend. The set is sealed.
type Kind string

const (
	KindMemory Kind = "memory"
	KindFile   Kind = "file"
	KindSQLite Kind = "sqlite"
)

// Config holds store initialization parameters.
type Config struct {
	Kind Kind `json:"kind" yaml:"kind"`
	// Path is the file-store root directory or the SQLite database file.
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
	// PoolSize is the SQLite connection pool size. Ignored by other kinds.
	PoolSize int `json:"pool_size,omitempty" yaml:"pool_size,omitempty"`
}

// DefaultConfig returns the default store configuration: ephemeral memory.
func DefaultConfig() Config {
	return Config{Kind: KindMemory}
}

// Merge applies non-zero values from source into c.
func (c *Config) Merge(source *Config) {
	if source.Kind != "" {
		c.Kind = source.Kind
	}
	if source.Path != "" {
		c.Path = source.Path
	}
	if source.PoolSize > 0 {
		c.PoolSize = source.PoolSize
	}
}

// New creates a Store from configuration.
func New(cfg *Config) (Store, error) {
	switch cfg.Kind {
	case KindMemory, "":
		return NewMemStore(), nil
	case KindFile:
		if cfg.Path == "" {
			return nil, fmt.Errorf("file store requires a path")
		}
		return NewFileStore(cfg.Path)
	case KindSQLite:
		if cfg.Path == "" {
			return nil, fmt.Errorf("sqlite store requires a path")
		}
		return NewSQLiteStore(cfg.Path, cfg.PoolSize)
	default:
		return nil, fmt.Errorf("unknown store kind %q", cfg.Kind)
	}
}
