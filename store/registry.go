package store

import (
	"sort"
	"time"
)

// Definition describes one entity type the store accepts.
type Definition struct {
	Name string

	// Ephemeral entities expire automatically. TTL is the default lifetime
	// for the type; zero falls back to the store-wide default.
	Ephemeral bool
	TTL       time.Duration
}

// Registry holds the set of entity types a Store will operate on. Operations
// against an unregistered type fail with ErrUnknownEntityType.
type Registry struct {
	defs map[string]Definition
}

// NewRegistry creates an empty registry.
func NewRegistry(defs ...Definition) *Registry {
	r := &Registry{defs: make(map[string]Definition, len(defs))}
	for _, def := range defs {
		r.Register(def)
	}
	return r
}

// Register adds or replaces a type definition.
func (r *Registry) Register(def Definition) {
	r.defs[def.Name] = def
}

// Lookup resolves a type name.
func (r *Registry) Lookup(name string) (Definition, bool) {
	def, ok := r.defs[name]
	return def, ok
}

// Names returns the registered type names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.defs))
	for name := range r.defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultRegistry returns the registry of built-in entity types.
func DefaultRegistry() *Registry {
	return NewRegistry(
		Definition{Name: "integration"},
		Definition{Name: "connector"},
		Definition{Name: "install"},
		Definition{Name: "identity"},
		Definition{Name: "session"},
		Definition{Name: "storage"},
		Definition{Name: "operation", Ephemeral: true, TTL: 10 * time.Minute},
	)
}
