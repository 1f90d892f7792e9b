package reactor

import (
	"fmt"
	"sort"
	"sync"

	"github.com/roach88/reactor/internal/types"
)

// Root is the registry context that owns instances and the shared type
// registry. Instance names are unique within a Root and freed on Teardown.
//
// Tests create their own Root; Default serves code that needs a single
// process-wide registry.
type Root struct {
	mu        sync.Mutex
	types     *types.Registry
	defaults  Settings
	instances map[string]*Instance
}

// NewRoot creates an empty registry context.
func NewRoot() *Root {
	return &Root{
		types:     types.NewRegistry(),
		defaults:  DefaultSettings(),
		instances: make(map[string]*Instance),
	}
}

// SetDefaults changes the settings new instances start from. Options given
// to NewInstance still override them.
func (r *Root) SetDefaults(s Settings) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaults = s
}

// Types returns the shared type registry.
func (r *Root) Types() *types.Registry {
	return r.types
}

// NewInstance creates an instance under a unique name.
func (r *Root) NewInstance(name string, opts ...Option) (*Instance, error) {
	if !validID(name) {
		return nil, &ConfigError{
			Code:    ErrCodeInvalidID,
			ID:      name,
			Message: "instance name must match " + idPattern.String(),
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.instances[name]; exists {
		return nil, &ConfigError{
			Code:    ErrCodeDuplicateID,
			ID:      name,
			Message: fmt.Sprintf("instance %q already exists", name),
		}
	}

	inst := newInstance(r, name, opts...)
	r.instances[name] = inst
	return inst, nil
}

// Instance returns the live instance with the given name.
func (r *Root) Instance(name string) (*Instance, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.instances[name]
	return inst, ok
}

// Names returns the names of live instances, sorted.
func (r *Root) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.instances))
	for name := range r.instances {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Root) release(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.instances, name)
}
