// Package buffer provides borrowed, pinned views over caller-owned numeric
// arrays. A Handle never owns its memory: the caller keeps the slice alive and
// unchanged while the Handle is pinned, and the Handle must be released
// exactly once.
package buffer

import (
	"fmt"
	"unsafe"
)

// ResourceError reports a buffer that could not be acquired, or a Handle used
// outside its pinned lifetime.
type ResourceError struct {
	Name   string
	Owner  string
	Reason string
}

func (e *ResourceError) Error() string {
	if e.Owner == "" {
		return fmt.Sprintf("buffer %s: %s", e.Name, e.Reason)
	}
	return fmt.Sprintf("buffer %s (owner %s): %s", e.Name, e.Owner, e.Reason)
}

// Provider hands out pinned Handles over host arrays
type Provider interface {
	Acquire(owner, name string, host interface{}) (*Handle, error)
	Release(h *Handle) error
}

// Syncer is implemented by providers that keep a device copy of each pinned
// array. The host array is the caller's copy; SyncToDevice refreshes the
// device from it and SyncToHost writes device results back into it.
type Syncer interface {
	SyncToDevice(h *Handle) error
	SyncToHost(h *Handle) error
}

// Handle is a borrowed view over a contiguous host array
type Handle struct {
	// Name is the descriptor field (or call-scoped buffer) this view covers
	Name string
	// Owner identifies the session holding the pin
	Owner string

	dataType DataType
	host     interface{} // []T supplied by the caller, never copied
	count    int
	region   region
	released bool
	provider Provider
}

// NewHandle builds an unpinned Handle over host. Providers call this and then
// record the pin; user code should go through a Provider.
func NewHandle(p Provider, owner, name string, host interface{}) (*Handle, error) {
	dt, ok := DataTypeOf(host)
	if !ok {
		return nil, &ResourceError{Name: name, Owner: owner,
			Reason: fmt.Sprintf("unsupported host type %T", host)}
	}
	r, count := regionOf(host)
	return &Handle{
		Name:     name,
		Owner:    owner,
		dataType: dt,
		host:     host,
		count:    count,
		region:   r,
		provider: p,
	}, nil
}

// DataType returns the element type of the view
func (h *Handle) DataType() DataType { return h.dataType }

// Len returns the number of elements in the view
func (h *Handle) Len() int { return h.count }

// Stride returns the element stride in bytes
func (h *Handle) Stride() int64 { return SizeOfType(h.dataType) }

// Bytes returns the size of the pinned region in bytes
func (h *Handle) Bytes() int64 { return h.region.bytes }

// Released reports whether Release has been called
func (h *Handle) Released() bool { return h.released }

// Pointer returns the start address of the pinned region, or nil for an empty view
func (h *Handle) Pointer() unsafe.Pointer {
	if h.released || h.region.empty() {
		return nil
	}
	return h.region.ptr
}

// Float64s returns the aliasing float64 view
func (h *Handle) Float64s() ([]float64, error) {
	if err := h.check(Float64); err != nil {
		return nil, err
	}
	return h.host.([]float64), nil
}

// Int32s returns the aliasing int32 view
func (h *Handle) Int32s() ([]int32, error) {
	if err := h.check(INT32); err != nil {
		return nil, err
	}
	return h.host.([]int32), nil
}

func (h *Handle) check(want DataType) error {
	if h.released {
		return &ResourceError{Name: h.Name, Owner: h.Owner, Reason: "view used after release"}
	}
	if h.dataType != want {
		return &ResourceError{Name: h.Name, Owner: h.Owner,
			Reason: fmt.Sprintf("view is %s, not %s", h.dataType, want)}
	}
	return nil
}

// Release unpins the view. A Handle is released exactly once; later calls
// return a ResourceError and do not reach the provider.
func (h *Handle) Release() error {
	if h.released {
		return &ResourceError{Name: h.Name, Owner: h.Owner, Reason: "handle released twice"}
	}
	h.released = true
	if h.provider == nil {
		return nil
	}
	return h.provider.Release(h)
}

// Matches reports whether host still covers exactly the pinned region. A
// caller that reallocated or resized its array after acquisition no longer
// matches.
func (h *Handle) Matches(host interface{}) bool {
	dt, ok := DataTypeOf(host)
	if !ok || dt != h.dataType {
		return false
	}
	r, count := regionOf(host)
	return count == h.count && r.ptr == h.region.ptr
}
