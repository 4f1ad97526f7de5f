package provider

import (
	"fmt"
	"sync"
)

// Registry holds provider factories and constructed instances.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	providers map[string]Provider
}

// NewRegistry creates a registry with the built-in factories installed.
func NewRegistry() *Registry {
	r := &Registry{
		factories: make(map[string]Factory),
		providers: make(map[string]Provider),
	}
	r.RegisterFactory("openai", NewOpenAICompatible)
	// Aliases for OpenAI-compatible hosted APIs; same wire format,
	// different defaults live in configuration.
	r.RegisterFactory("groq", NewOpenAICompatible)
	r.RegisterFactory("deepseek", NewOpenAICompatible)
	r.RegisterFactory("together", NewOpenAICompatible)
	r.RegisterFactory("openai-compatible", NewOpenAICompatible)
	return r
}

// RegisterFactory registers a factory for a provider type.
func (r *Registry) RegisterFactory(providerType string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[providerType] = factory
}

// Create builds a provider from configuration and registers the
// instance under its name.
func (r *Registry) Create(cfg Config) (Provider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	factory, ok := r.factories[cfg.Type]
	if !ok {
		return nil, fmt.Errorf("unknown provider type %q", cfg.Type)
	}
	if _, exists := r.providers[cfg.Name]; exists {
		return nil, fmt.Errorf("provider %q already registered", cfg.Name)
	}

	prov, err := factory(cfg)
	if err != nil {
		return nil, err
	}
	r.providers[cfg.Name] = prov
	return prov, nil
}

// Get returns a constructed provider by name.
func (r *Registry) Get(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	return p, ok
}

// Names returns the names of all constructed providers.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}
