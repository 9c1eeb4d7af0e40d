// Package integrations defines the catalog registry and the dependencies
// every catalog entry is constructed with. The entries themselves live in
// sub-packages (bucket, cdn, database, subscription) and are assembled by
// the catalog package.
package integrations

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/cloudmoor/cloudmoor/pkg/reconcile"
	"github.com/cloudmoor/cloudmoor/pkg/secrets"
	"github.com/cloudmoor/cloudmoor/pkg/transports/signed"
)

// Deps are the collaborators an integration is constructed with. The
// transport and secret store are opaque services: integrations never see
// credential material or signing details.
type Deps struct {
	// Transport performs signed vendor API calls.
	Transport signed.Transport

	// Secrets resolves secret references from definitions.
	Secrets secrets.Store

	// Logger is the parent logger; constructors attach their kind.
	Logger zerolog.Logger

	// BaseURL is the vendor API root, e.g. "https://api.vendor.example".
	BaseURL string
}

// Validate checks that the required collaborators are present.
func (d Deps) Validate() error {
	if d.Transport == nil {
		return fmt.Errorf("integration deps require a transport")
	}
	if d.BaseURL == "" {
		return fmt.Errorf("integration deps require a base URL")
	}
	return nil
}

// Constructor builds one integration kind from its dependencies.
type Constructor func(deps Deps) (reconcile.Integration, error)

// Registry maps resource kinds to integration constructors.
type Registry struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{constructors: make(map[string]Constructor)}
}

// Register adds a constructor for kind. Registering a kind twice is a
// programming error.
func (r *Registry) Register(kind string, c Constructor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if kind == "" {
		return fmt.Errorf("integration kind is required")
	}
	if _, exists := r.constructors[kind]; exists {
		return fmt.Errorf("integration %s already registered", kind)
	}
	r.constructors[kind] = c
	return nil
}

// Lookup constructs the integration for kind with the given dependencies.
func (r *Registry) Lookup(kind string, deps Deps) (reconcile.Integration, error) {
	r.mu.RLock()
	c, ok := r.constructors[kind]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown integration kind %q", kind)
	}
	if err := deps.Validate(); err != nil {
		return nil, err
	}
	return c(deps)
}

// Kinds returns the registered kinds, sorted.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]string, 0, len(r.constructors))
	for k := range r.constructors {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
