package graph

import (
	"fmt"
	"sync"
)

// Registry maps keys to unit instances. Each distinct key is built at most
// once; later resolutions of an equal key return the same instance.
type Registry struct {
	mu        sync.Mutex
	factories map[string]Factory
	units     map[Key]Unit
	order     []Key
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		units:     make(map[Key]Unit),
	}
}

// Register installs the factory used for keys named name. Registering the
// same name twice panics.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.factories[name]; dup {
		panic(fmt.Sprintf("graph: duplicate factory for %q", name))
	}
	r.factories[name] = f
}

// Resolve returns the unit for key, building it on first use.
func (r *Registry) Resolve(key Key) (Unit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resolve(key)
}

func (r *Registry) resolve(key Key) (Unit, error) {
	if !key.comparable() {
		return nil, fmt.Errorf("%w: %s (%T)", ErrKeyNotComparable, key.Name, key.Param)
	}
	if u, ok := r.units[key]; ok {
		return u, nil
	}
	f, ok := r.factories[key.Name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownUnit, key.Name)
	}
	u, err := f(key.Param)
	if err != nil {
		return nil, fmt.Errorf("build %s: %w", key, err)
	}
	if u.Key() != key {
		return nil, fmt.Errorf("%w: want %s, got %s", ErrKeyMismatch, key, u.Key())
	}
	r.units[key] = u
	r.order = append(r.order, key)
	return u, nil
}

// Closure resolves roots and everything they transitively depend on and
// returns the units with dependencies ahead of dependents. Shared
// dependencies appear once.
func (r *Registry) Closure(roots ...Key) ([]Unit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var (
		out      []Unit
		done     = make(map[Key]bool)
		visiting = make(map[Key]bool)
	)
	var visit func(k Key) error
	visit = func(k Key) error {
		if done[k] {
			return nil
		}
		if visiting[k] {
			return fmt.Errorf("%w: through %s", ErrCycle, k)
		}
		visiting[k] = true
		u, err := r.resolve(k)
		if err != nil {
			return err
		}
		for _, dep := range u.DependsOn() {
			if err := visit(dep); err != nil {
				return err
			}
		}
		visiting[k] = false
		done[k] = true
		out = append(out, u)
		return nil
	}
	for _, k := range roots {
		if err := visit(k); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Len reports how many distinct units have been built.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.units)
}
