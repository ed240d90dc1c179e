package agent

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
)

// ErrUnknownRuntime is returned when a requested runtime is not registered.
var ErrUnknownRuntime = errors.New("agent: unknown runtime") //nolint:gochecknoglobals // sentinel error

// RuntimeFactory builds a Runtime from its options.
type RuntimeFactory func(opts RuntimeOptions) (Runtime, error)

// Registry maps runtime names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]RuntimeFactory
}

func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]RuntimeFactory),
	}
}

// Register adds a factory under name, replacing any previous one.
func (r *Registry) Register(name string, factory RuntimeFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Create instantiates the runtime registered under name.
func (r *Registry) Create(name string, opts RuntimeOptions) (Runtime, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("agent.Registry.Create(%q): %w", name, ErrUnknownRuntime)
	}

	rt, err := factory(opts)
	if err != nil {
		return nil, fmt.Errorf("agent.Registry.Create(%q): %w", name, err)
	}

	return rt, nil
}

// Available returns registered runtime names in sorted order.
func (r *Registry) Available() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return slices.Sorted(maps.Keys(r.factories))
}
