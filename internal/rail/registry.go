// internal/rail/registry.go
package rail

import (
	"fmt"
	"sort"

	"puzzlebounty/internal/domain"
	"puzzlebounty/internal/util"
)

// Registry holds the adapters enabled at startup.
type Registry struct {
	adapters map[domain.RailType]Adapter
}

// NewRegistry indexes adapters by their rail type.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[domain.RailType]Adapter, len(adapters))}
	for _, a := range adapters {
		if a != nil {
			r.adapters[a.Type()] = a
		}
	}
	return r
}

// Get returns the adapter for rail or a validation error when it is not enabled.
func (r *Registry) Get(rail domain.RailType) (Adapter, error) {
	a, ok := r.adapters[rail]
	if !ok {
		return nil, fmt.Errorf("%w: rail %q not enabled", util.ErrValidation, rail)
	}
	return a, nil
}

// Enabled lists the configured rails in a stable order.
func (r *Registry) Enabled() []domain.RailType {
	out := make([]domain.RailType, 0, len(r.adapters))
	for t := range r.adapters {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
