package provider

import (
	"fmt"
	"strings"
)

// Registry is a read-only, ordered set of providers. Lookups accept either
// the provider name or its item key, case-insensitively.
type Registry struct {
	ordered []Provider
	byName  map[string]Provider
	byKey   map[string]Provider
}

// NewRegistry builds a registry in priority order. Nil, unnamed and duplicate
// providers are rejected.
func NewRegistry(providers ...Provider) (*Registry, error) {
	reg := &Registry{
		ordered: make([]Provider, 0, len(providers)),
		byName:  make(map[string]Provider, len(providers)),
		byKey:   make(map[string]Provider, len(providers)),
	}
	for _, p := range providers {
		if p == nil {
			return nil, fmt.Errorf("provider must not be nil")
		}
		name := normalize(p.Name())
		if name == "" {
			return nil, fmt.Errorf("provider name must not be empty")
		}
		key := normalize(p.Key())
		if key == "" {
			return nil, fmt.Errorf("provider %q: key must not be empty", name)
		}
		if _, ok := reg.byName[name]; ok {
			return nil, fmt.Errorf("duplicate provider %q", name)
		}
		if _, ok := reg.byKey[key]; ok {
			return nil, fmt.Errorf("duplicate provider key %q", p.Key())
		}
		reg.byName[name] = p
		reg.byKey[key] = p
		reg.ordered = append(reg.ordered, p)
	}
	return reg, nil
}

// Lookup resolves a provider by name or key.
func (r *Registry) Lookup(nameOrKey string) (Provider, bool) {
	if r == nil {
		return nil, false
	}
	id := normalize(nameOrKey)
	if p, ok := r.byName[id]; ok {
		return p, true
	}
	p, ok := r.byKey[id]
	return p, ok
}

// All returns providers in priority order.
func (r *Registry) All() []Provider {
	if r == nil {
		return nil
	}
	out := make([]Provider, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// Keys returns every provider key in priority order.
func (r *Registry) Keys() []string {
	if r == nil {
		return nil
	}
	keys := make([]string, 0, len(r.ordered))
	for _, p := range r.ordered {
		keys = append(keys, p.Key())
	}
	return keys
}

// Len reports the number of registered providers.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.ordered)
}

func normalize(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
