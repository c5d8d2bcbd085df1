package provider

import (
	"fmt"
	"net/http"
	"sort"
	"sync"
)

// Info describes a registered provider without instantiating it.
type Info struct {
	ID   string
	Kind Kind
}

// Registry manages provider configurations with lazy instantiation.
// Configs are stored at registration time; a provider is constructed on
// first Get and cached. Safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	client    *http.Client
	configs   map[string]Config
	providers map[string]Provider
}

// NewRegistry creates an empty Registry. All providers constructed through
// it share the given HTTP client; nil selects http.DefaultClient.
func NewRegistry(client *http.Client) *Registry {
	return &Registry{
		client:    client,
		configs:   make(map[string]Config),
		providers: make(map[string]Provider),
	}
}

// Register adds a provider configuration. The provider is not constructed
// until Get is called.
func (r *Registry) Register(cfg Config) error {
	if cfg.ID == "" {
		return ErrEmptyProviderID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.configs[cfg.ID]; exists {
		return fmt.Errorf("%w: %s", ErrProviderExists, cfg.ID)
	}
	r.configs[cfg.ID] = cfg
	return nil
}

// Get retrieves a provider by id, constructing it lazily on first access.
func (r *Registry) Get(id string) (Provider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cfg, registered := r.configs[id]
	if !registered {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, id)
	}

	if p, exists := r.providers[id]; exists {
		return p, nil
	}

	p, err := New(&cfg, r.client)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider %q: %w", id, err)
	}
	r.providers[id] = p
	return p, nil
}

// Replace updates the configuration for an existing provider. Any cached
// instance is invalidated; the next Get re-constructs.
func (r *Registry) Replace(cfg Config) error {
	if cfg.ID == "" {
		return ErrEmptyProviderID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.configs[cfg.ID]; !exists {
		return fmt.Errorf("%w: %s", ErrUnknownProvider, cfg.ID)
	}
	r.configs[cfg.ID] = cfg
	delete(r.providers, cfg.ID)
	return nil
}

// Unregister removes a provider from the registry.
func (r *Registry) Unregister(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.configs[id]; !exists {
		return fmt.Errorf("%w: %s", ErrUnknownProvider, id)
	}
	delete(r.configs, id)
	delete(r.providers, id)
	return nil
}

// List returns information about all registered providers, sorted by id.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]Info, 0, len(r.configs))
	for id, cfg := range r.configs {
		infos = append(infos, Info{ID: id, Kind: cfg.Kind})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].ID < infos[j].ID
	})
	return infos
}
