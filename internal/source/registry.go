// Package source assembles the platform fetchers a deployment enables.
package source

import (
	"fmt"
	"sort"
	"sync"

	"github.com/accomopricer/accomopricer/internal/pricing"
)

// Registry is a lookup table of platform fetchers keyed by name. It is
// populated once at startup and read-only afterwards.
type Registry struct {
	mu       sync.RWMutex
	fetchers map[string]pricing.SourceFetcher
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{fetchers: make(map[string]pricing.SourceFetcher)}
}

// Register adds a fetcher under its own name. Registering the same platform
// twice is a wiring bug and fails loudly.
func (r *Registry) Register(f pricing.SourceFetcher) error {
	name := f.Name()
	if name == "" {
		return fmt.Errorf("fetcher has no name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.fetchers[name]; exists {
		return fmt.Errorf("fetcher %q already registered", name)
	}
	r.fetchers[name] = f
	return nil
}

// Get returns the fetcher for a platform name.
func (r *Registry) Get(name string) (pricing.SourceFetcher, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.fetchers[name]
	return f, ok
}

// Names returns the registered platform names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.fetchers))
	for name := range r.fetchers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns the registered fetchers ordered by name.
func (r *Registry) All() []pricing.SourceFetcher {
	names := r.Names()
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]pricing.SourceFetcher, 0, len(names))
	for _, name := range names {
		out = append(out, r.fetchers[name])
	}
	return out
}
