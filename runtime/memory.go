package runtime

import (
	"github.com/tetratelabs/wazero/api"

	wasiboot "github.com/wippyai/wasi-bootstrap"
	"github.com/wippyai/wasi-bootstrap/errors"
)

// SharedMemory is the memory the host provides to the module. It is a
// validated descriptor until the namespace exporting it is materialized.
type SharedMemory struct {
	mem       api.Memory
	Namespace string
	Name      string
	Spec      wasiboot.MemorySpec
}

var _ wasiboot.MemorySizer = (*SharedMemory)(nil)

// AllocateSharedMemory validates spec and creates the descriptor exported
// as namespace.name.
func AllocateSharedMemory(namespace, name string, spec wasiboot.MemorySpec) (*SharedMemory, error) {
	if namespace == "" || name == "" {
		return nil, errors.InvalidInput(errors.PhaseMemory, "memory namespace and name are required")
	}
	if err := spec.Validate(); err != nil {
		return nil, errors.Wrap(errors.PhaseMemory, errors.KindInvalidInput, err, "memory limits")
	}
	return &SharedMemory{Namespace: namespace, Name: name, Spec: spec}, nil
}

// Pages returns the current size in pages.
func (m *SharedMemory) Pages() uint32 {
	if m.mem == nil {
		return m.Spec.Initial
	}
	return m.mem.Size() / wasiboot.PageSize
}

// Grow grows the memory by delta pages and returns the previous size.
// Growing past the maximum fails and leaves the memory unchanged.
func (m *SharedMemory) Grow(delta uint32) (uint32, bool) {
	if m.mem == nil {
		return 0, false
	}
	return m.mem.Grow(delta)
}

// Memory returns the live memory, or nil before instantiation.
func (m *SharedMemory) Memory() api.Memory {
	return m.mem
}

func (m *SharedMemory) bind(mem api.Memory) {
	m.mem = mem
}
