// Package provider manages the set of resource providers available to a
// run.
package provider

import (
	"fmt"
	"sync"

	"github.com/applyr-io/applyr/pkg/provider"
	"github.com/applyr-io/applyr/providers/docker"
	"github.com/applyr-io/applyr/providers/local"
	"github.com/applyr-io/applyr/providers/null"
)

// Registry manages the lifecycle of providers. Providers are built in;
// plugin loading is out of scope.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]provider.Provider
}

func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]provider.Provider),
	}
}

// Register adds a provider under a name, replacing any existing entry.
// Used by tests and embedders to install fakes.
func (r *Registry) Register(name string, p provider.Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[name] = p
}

// Load initializes and registers a built-in provider by name. Loading an
// already-loaded provider is a no-op.
func (r *Registry) Load(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.providers[name]; exists {
		return nil
	}

	var p provider.Provider
	switch name {
	case "null":
		p = null.New()
	case "docker":
		p = docker.New()
	case "local":
		p = local.New()
	default:
		return fmt.Errorf("unknown provider: %s", name)
	}

	r.providers[name] = p
	return nil
}

// Get returns a registered provider.
func (r *Registry) Get(name string) (provider.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("provider not loaded: %s", name)
	}
	return p, nil
}
