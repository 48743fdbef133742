package buffer

import (
	"fmt"
	"sync"
)

// Registry is the process-wide table of pinned regions. It rejects a pin
// that overlaps a region already pinned by a different owner.
type Registry struct {
	mu   sync.Mutex
	pins map[*Handle]struct{}
}

// NewRegistry creates an empty pin table
func NewRegistry() *Registry {
	return &Registry{pins: make(map[*Handle]struct{})}
}

// Pin records h as pinned
func (r *Registry) Pin(h *Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.pins[h]; exists {
		return &ResourceError{Name: h.Name, Owner: h.Owner, Reason: "handle already pinned"}
	}
	for other := range r.pins {
		if other.Owner != h.Owner && other.region.overlaps(h.region) {
			return &ResourceError{Name: h.Name, Owner: h.Owner,
				Reason: fmt.Sprintf("region overlaps %s pinned by %s", other.Name, other.Owner)}
		}
	}
	r.pins[h] = struct{}{}
	return nil
}

// Unpin removes h from the table
func (r *Registry) Unpin(h *Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.pins[h]; !exists {
		return &ResourceError{Name: h.Name, Owner: h.Owner, Reason: "handle not pinned"}
	}
	delete(r.pins, h)
	return nil
}

// Len returns the number of live pins
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pins)
}

// Owned returns the number of live pins held by owner
func (r *Registry) Owned(owner string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for h := range r.pins {
		if h.Owner == owner {
			n++
		}
	}
	return n
}

// HostProvider pins host arrays in place; acquisition never copies
type HostProvider struct {
	Registry *Registry
}

// NewHostProvider creates a provider over reg, or over a fresh Registry when reg is nil
func NewHostProvider(reg *Registry) *HostProvider {
	if reg == nil {
		reg = NewRegistry()
	}
	return &HostProvider{Registry: reg}
}

// Acquire pins host for owner
func (hp *HostProvider) Acquire(owner, name string, host interface{}) (*Handle, error) {
	h, err := NewHandle(hp, owner, name, host)
	if err != nil {
		return nil, err
	}
	if err = hp.Registry.Pin(h); err != nil {
		return nil, err
	}
	return h, nil
}

// Release unpins h. Callers use h.Release, which guards against double release.
func (hp *HostProvider) Release(h *Handle) error {
	return hp.Registry.Unpin(h)
}

// Pinned returns the number of live pins
func (hp *HostProvider) Pinned() int {
	return hp.Registry.Len()
}
