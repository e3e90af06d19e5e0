// Package registry implements the process-wide Job Registry (spec §4.1): a
// mapping from job name to job descriptor, populated once at startup and
// read-only thereafter.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/relayq/relayq/internal/domain/model"
)

// Registry holds job descriptors by name. Registration happens during
// startup via Register; once Freeze is called, Lookup/List/FilterTypes may
// be called concurrently without locking.
type Registry struct {
	mu     sync.RWMutex
	frozen bool
	byName map[string]*model.JobDescriptor
	order  []string
}

// New constructs an empty, unfrozen Registry.
func New() *Registry {
	return &Registry{byName: make(map[string]*model.JobDescriptor)}
}

// Register inserts a job descriptor. It fails fast on a duplicate name or a
// call made after Freeze, matching the registry's one-shot startup contract.
func (r *Registry) Register(desc *model.JobDescriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return fmt.Errorf("registry: cannot register %q after startup", desc.Name)
	}
	if desc.Name == "" {
		return fmt.Errorf("registry: job name must not be empty")
	}
	if _, exists := r.byName[desc.Name]; exists {
		return fmt.Errorf("registry: duplicate job name %q", desc.Name)
	}

	r.byName[desc.Name] = desc
	r.order = append(r.order, desc.Name)
	return nil
}

// Ordered returns every registered descriptor of the given job type in
// registration order, used by the scheduler to tie-break calendar entries
// that become due at the same instant (spec §4.3).
func (r *Registry) Ordered(jobType model.JobType) []*model.JobDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*model.JobDescriptor, 0, len(r.order))
	for _, name := range r.order {
		if desc := r.byName[name]; desc.Type == jobType {
			out = append(out, desc)
		}
	}
	return out
}

// Freeze ends the registration phase. Subsequent Register calls fail.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Lookup returns the descriptor registered under name, or
// model.ErrJobNotFound.
func (r *Registry) Lookup(name string) (*model.JobDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	desc, ok := r.byName[name]
	if !ok {
		return nil, model.ErrJobNotFound
	}
	return desc, nil
}

// List returns every registered descriptor, optionally restricted to the
// given names, sorted by name for deterministic output.
func (r *Registry) List(filterNames ...string) []*model.JobDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var want map[string]bool
	if len(filterNames) > 0 {
		want = make(map[string]bool, len(filterNames))
		for _, n := range filterNames {
			want[n] = true
		}
	}

	out := make([]*model.JobDescriptor, 0, len(r.byName))
	for name, desc := range r.byName {
		if want != nil && !want[name] {
			continue
		}
		out = append(out, desc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// FilterTypes returns every registered descriptor of the given job type.
func (r *Registry) FilterTypes(jobType model.JobType) []*model.JobDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*model.JobDescriptor, 0)
	for _, desc := range r.byName {
		if desc.Type == jobType {
			out = append(out, desc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
