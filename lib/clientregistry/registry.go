// Package clientregistry maintains the process-wide map of client instance
// ids to adapters.
package clientregistry

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/peerhub/peerhub/core"
	"github.com/peerhub/peerhub/lib/adapter"
	"github.com/peerhub/peerhub/utils/log"
)

// Registry errors.
var (
	ErrAlreadyRegistered = errors.New("instance id already registered")
	ErrUnknownType       = errors.New("unknown client type")
	ErrNotFound          = errors.New("instance not found")
)

type entry struct {
	instanceID  string
	clientType  core.ClientType
	displayName string
	adapter     adapter.Adapter
}

// Options carries optional registration parameters.
type Options struct {
	DisplayName string
}

// Registry is the process-wide instance map. Register/Unregister are rare and
// serialized; lookups take a read lock.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Register adds an adapter under instanceID. The identity triplet is attached
// to the adapter so downstream code can log it.
func (r *Registry) Register(
	instanceID string, t core.ClientType, a adapter.Adapter, opts Options) error {

	if err := core.ValidateInstanceID(instanceID); err != nil {
		return fmt.Errorf("validate instance id: %s", err)
	}
	if !core.ValidType(t) {
		return fmt.Errorf("%w: %s", ErrUnknownType, t)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[instanceID]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, instanceID)
	}
	name := opts.DisplayName
	if name == "" {
		name = instanceID
	}
	a.AttachIdentity(instanceID, t, name)
	r.entries[instanceID] = &entry{
		instanceID:  instanceID,
		clientType:  t,
		displayName: name,
		adapter:     a,
	}
	log.With("instance", instanceID, "type", t).Info("Registered client instance")
	return nil
}

// Unregister removes an instance and detaches its identity.
func (r *Registry) Unregister(instanceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[instanceID]
	if !ok {
		return ErrNotFound
	}
	e.adapter.DetachIdentity()
	delete(r.entries, instanceID)
	log.With("instance", instanceID).Info("Unregistered client instance")
	return nil
}

// Get returns the adapter registered under instanceID.
func (r *Registry) Get(instanceID string) (adapter.Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[instanceID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, instanceID)
	}
	return e.adapter, nil
}

// Has returns true if instanceID is registered.
func (r *Registry) Has(instanceID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[instanceID]
	return ok
}

// GetByType returns all adapters of the given type.
func (r *Registry) GetByType(t core.ClientType) []adapter.Adapter {
	return r.filter(func(e *entry) bool { return e.clientType == t })
}

// GetConnected returns all connected adapters.
func (r *Registry) GetConnected() []adapter.Adapter {
	return r.filter(func(e *entry) bool { return e.adapter.IsConnected() })
}

// GetEnabled returns all enabled adapters.
func (r *Registry) GetEnabled() []adapter.Adapter {
	return r.filter(func(e *entry) bool { return e.adapter.IsEnabled() })
}

// GetAll returns every registered adapter.
func (r *Registry) GetAll() []adapter.Adapter {
	return r.filter(func(e *entry) bool { return true })
}

// Clear unregisters everything. Used on config reload and shutdown.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, e := range r.entries {
		e.adapter.DetachIdentity()
		delete(r.entries, id)
	}
}

func (r *Registry) filter(pred func(*entry) bool) []adapter.Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	// Deterministic order keeps pipeline output and logs stable.
	sort.Strings(ids)
	var as []adapter.Adapter
	for _, id := range ids {
		if e := r.entries[id]; pred(e) {
			as = append(as, e.adapter)
		}
	}
	return as
}
