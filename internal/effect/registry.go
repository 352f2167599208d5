package effect

import (
	"fmt"
	"sync"
)

type entry struct {
	desc Descriptor
	impl Effect
}

// Registry holds all registered effects in registration order.
type Registry struct {
	mu      sync.RWMutex
	order   []string
	effects map[string]entry
}

// NewRegistry creates a new effect registry
func NewRegistry() *Registry {
	return &Registry{
		effects: make(map[string]entry),
	}
}

// Register adds an effect to the registry
func (r *Registry) Register(desc Descriptor, impl Effect) error {
	if desc.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidEffect)
	}
	if impl == nil {
		return fmt.Errorf("%w: %q has no implementation", ErrInvalidEffect, desc.ID)
	}
	if desc.Label == "" {
		desc.Label = desc.ID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.effects[desc.ID]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateEffect, desc.ID)
	}

	r.effects[desc.ID] = entry{desc: desc, impl: impl}
	r.order = append(r.order, desc.ID)
	return nil
}

// Get retrieves an effect by id
func (r *Registry) Get(id string) (Effect, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, exists := r.effects[id]
	return e.impl, exists
}

// List returns all descriptors in registration order
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.effects[id].desc)
	}
	return out
}
