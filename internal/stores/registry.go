package stores

import (
	"fmt"
	"strings"
)

// Registry is a read-only name to adapter lookup built at startup.
type Registry struct {
	adapters map[string]Adapter
	order    []string
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[string]Adapter, len(adapters))}
	for _, a := range adapters {
		name := a.Name()
		if _, dup := r.adapters[name]; dup {
			continue
		}
		r.adapters[name] = a
		r.order = append(r.order, name)
	}
	return r
}

// Default returns every marketplace this module knows how to scrape.
func Default() *Registry {
	return NewRegistry(Amazon{}, AliExpress{}, Ebay{}, Target{}, Walmart{})
}

func (r *Registry) Get(name string) (Adapter, bool) {
	a, ok := r.adapters[strings.ToLower(strings.TrimSpace(name))]
	return a, ok
}

// List returns the adapters in registration order.
func (r *Registry) List() []Adapter {
	out := make([]Adapter, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.adapters[name])
	}
	return out
}

func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Select narrows the registry to names. An empty list selects everything.
func (r *Registry) Select(names []string) (*Registry, error) {
	if len(names) == 0 {
		return r, nil
	}
	picked := make([]Adapter, 0, len(names))
	for _, name := range names {
		a, ok := r.Get(name)
		if !ok {
			return nil, fmt.Errorf("unknown store %q (known: %s)", name, strings.Join(r.order, ", "))
		}
		picked = append(picked, a)
	}
	return NewRegistry(picked...), nil
}
