// Package occa mirrors pinned host buffers into OCCA device memory, for
// connectivity engines that run their donor search on an accelerator.
package occa

import (
	"fmt"
	"sync"

	"github.com/notargets/OversetGrid/buffer"
	"github.com/notargets/gocca"
)

// DefaultBackends is the order in which NewDevice tries OCCA modes
var DefaultBackends = []string{
	`{"mode": "OpenMP"}`,
	`{"mode": "CUDA", "device_id": 0}`,
	`{"mode": "Serial"}`,
}

// NewDevice creates a device from the first backend that initializes.
// With no arguments DefaultBackends is used.
func NewDevice(backends ...string) (*gocca.OCCADevice, error) {
	if len(backends) == 0 {
		backends = DefaultBackends
	}
	var lastErr error
	for _, props := range backends {
		device, err := gocca.NewDevice(props)
		if err == nil {
			return device, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("no OCCA backend available: %w", lastErr)
}

// ModeProps returns the device properties for a single OCCA mode name
func ModeProps(mode string) string {
	if mode == "CUDA" {
		return `{"mode": "CUDA", "device_id": 0}`
	}
	return fmt.Sprintf(`{"mode": %q}`, mode)
}

// DeviceProvider pins host buffers in a Registry and keeps a device copy of
// each one. Sessions keep the two coherent: after a connectivity pass iblank
// is pulled from the device when the engine is device resident and pushed to
// it otherwise, and a solution is pushed before the engine sees it.
type DeviceProvider struct {
	Registry *buffer.Registry
	Device   *gocca.OCCADevice

	mu      sync.Mutex
	mirrors map[*buffer.Handle]*gocca.OCCAMemory
}

var _ buffer.Syncer = (*DeviceProvider)(nil)

// NewDeviceProvider creates a mirroring provider over reg, or over a fresh
// Registry when reg is nil
func NewDeviceProvider(reg *buffer.Registry, device *gocca.OCCADevice) *DeviceProvider {
	if reg == nil {
		reg = buffer.NewRegistry()
	}
	return &DeviceProvider{
		Registry: reg,
		Device:   device,
		mirrors:  make(map[*buffer.Handle]*gocca.OCCAMemory),
	}
}

// Acquire pins host and allocates its device mirror
func (dp *DeviceProvider) Acquire(owner, name string, host interface{}) (*buffer.Handle, error) {
	h, err := buffer.NewHandle(dp, owner, name, host)
	if err != nil {
		return nil, err
	}
	if err = dp.Registry.Pin(h); err != nil {
		return nil, err
	}
	if h.Bytes() == 0 {
		return h, nil
	}

	mem := dp.Device.Malloc(h.Bytes(), h.Pointer(), nil)
	if mem == nil {
		_ = h.Release()
		return nil, &buffer.ResourceError{Name: name, Owner: owner,
			Reason: fmt.Sprintf("device allocation of %d bytes failed on %s", h.Bytes(), dp.Device.Mode())}
	}

	dp.mu.Lock()
	dp.mirrors[h] = mem
	dp.mu.Unlock()
	return h, nil
}

// Release frees the device mirror and unpins the host buffer
func (dp *DeviceProvider) Release(h *buffer.Handle) error {
	dp.mu.Lock()
	mem, exists := dp.mirrors[h]
	delete(dp.mirrors, h)
	dp.mu.Unlock()

	if exists {
		mem.Free()
	}
	return dp.Registry.Unpin(h)
}

// Memory returns the device mirror of h, or nil for empty or unknown handles
func (dp *DeviceProvider) Memory(h *buffer.Handle) *gocca.OCCAMemory {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	return dp.mirrors[h]
}

// SyncToDevice copies the host array into its device mirror
func (dp *DeviceProvider) SyncToDevice(h *buffer.Handle) error {
	mem, err := dp.mirror(h)
	if err != nil || mem == nil {
		return err
	}
	mem.CopyFrom(h.Pointer(), h.Bytes())
	return nil
}

// SyncToHost copies the device mirror back into the caller's array
func (dp *DeviceProvider) SyncToHost(h *buffer.Handle) error {
	mem, err := dp.mirror(h)
	if err != nil || mem == nil {
		return err
	}
	mem.CopyTo(h.Pointer(), h.Bytes())
	return nil
}

func (dp *DeviceProvider) mirror(h *buffer.Handle) (*gocca.OCCAMemory, error) {
	if h.Released() {
		return nil, &buffer.ResourceError{Name: h.Name, Owner: h.Owner, Reason: "sync after release"}
	}
	if h.Bytes() == 0 {
		return nil, nil
	}
	mem := dp.Memory(h)
	if mem == nil {
		return nil, &buffer.ResourceError{Name: h.Name, Owner: h.Owner, Reason: "no device mirror"}
	}
	return mem, nil
}
