package gateway

import (
	"fmt"
	"sort"
	"sync"
)

// Registry manages all gateway implementations known to the service.
type Registry struct {
	factories map[string]Factory
	mu        sync.RWMutex
}

// NewRegistry creates an empty gateway registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// Register adds a gateway factory to the registry.
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Get retrieves a gateway factory by name.
func (r *Registry) Get(name string) (Factory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factory, exists := r.factories[name]
	if !exists {
		return nil, fmt.Errorf("payment gateway '%s' is not registered", name)
	}

	return factory, nil
}

// Create creates a new instance of a registered gateway.
func (r *Registry) Create(name string) (Gateway, error) {
	factory, err := r.Get(name)
	if err != nil {
		return nil, err
	}

	return factory(), nil
}

// Names returns all registered gateway names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// DefaultRegistry is the global registry built-in gateways register into.
var DefaultRegistry = NewRegistry()

// Register registers a gateway with the default registry.
func Register(name string, factory Factory) {
	DefaultRegistry.Register(name, factory)
}

// Get retrieves a gateway factory from the default registry.
func Get(name string) (Factory, error) {
	return DefaultRegistry.Get(name)
}

// Create creates a gateway instance from the default registry.
func Create(name string) (Gateway, error) {
	return DefaultRegistry.Create(name)
}
