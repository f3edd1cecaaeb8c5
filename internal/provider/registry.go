package provider

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/waabox/bgrelease/internal/domain"
)

// InfraFactory builds an infrastructure collaborator. Construction is deferred until
// the variant is selected, since cloud variants load credentials.
type InfraFactory func(ctx context.Context) (domain.Infrastructure, error)

// Registry maps infrastructure variant names ("minikube", "eks") to factories.
type Registry struct {
	entries []entry
}

type entry struct {
	name    string
	factory InfraFactory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register associates a variant name with a factory. Names are case-insensitive.
func (r *Registry) Register(name string, f InfraFactory) {
	r.entries = append(r.entries, entry{name: strings.ToLower(name), factory: f})
}

// Names returns the registered variants, sorted.
func (r *Registry) Names() []string {
	names := make([]string, len(r.entries))
	for i, e := range r.entries {
		names[i] = e.name
	}
	sort.Strings(names)
	return names
}

// Open builds the infrastructure registered under name.
func (r *Registry) Open(ctx context.Context, name string) (domain.Infrastructure, error) {
	for _, e := range r.entries {
		if e.name == strings.ToLower(name) {
			return e.factory(ctx)
		}
	}
	return nil, fmt.Errorf("no infrastructure named %q (available: %s): %w", name, strings.Join(r.Names(), ", "), domain.ErrConfiguration)
}
