package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/narratale/voicesmith/pkg/provider/clone"
)

// ErrProviderNotRegistered is returned by [Registry.CreateClone] when no
// factory has been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps voice-clone provider names to their constructor functions.
// It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	clone map[string]func(ProviderEntry) (clone.Provider, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		clone: make(map[string]func(ProviderEntry) (clone.Provider, error)),
	}
}

// RegisterClone registers a clone provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterClone(name string, factory func(ProviderEntry) (clone.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clone[name] = factory
}

// CreateClone instantiates a clone provider using the factory registered
// under entry.Name. Returns [ErrProviderNotRegistered] if no factory has been
// registered for that name.
func (r *Registry) CreateClone(entry ProviderEntry) (clone.Provider, error) {
	r.mu.RLock()
	factory, ok := r.clone[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: clone/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}
