package wasiboot

import "fmt"

const (
	// PageSize is the size of one WASM linear memory page in bytes.
	PageSize = 65536

	// MaxPages is the largest page count a 32-bit linear memory can declare.
	MaxPages = 65536

	// DefaultMemoryPages is both the initial and maximum page count of the
	// shared memory handed to the module (1 GiB).
	DefaultMemoryPages = 16384
)

// MemorySpec describes the limits of a linear memory.
type MemorySpec struct {
	Initial uint32
	Maximum uint32
	Shared  bool
}

// DefaultMemorySpec returns the shared 16384..16384 page memory.
func DefaultMemorySpec() MemorySpec {
	return MemorySpec{
		Initial: DefaultMemoryPages,
		Maximum: DefaultMemoryPages,
		Shared:  true,
	}
}

// Bytes returns the initial size in bytes.
func (s MemorySpec) Bytes() uint64 {
	return uint64(s.Initial) * PageSize
}

// MaxBytes returns the maximum size in bytes.
func (s MemorySpec) MaxBytes() uint64 {
	return uint64(s.Maximum) * PageSize
}

// Growable reports whether memory.grow can ever succeed.
func (s MemorySpec) Growable() bool {
	return s.Maximum > s.Initial
}

// Validate checks the limits against the 32-bit memory bounds.
func (s MemorySpec) Validate() error {
	if s.Maximum > MaxPages {
		return fmt.Errorf("maximum %d pages exceeds %d", s.Maximum, MaxPages)
	}
	if s.Initial > s.Maximum {
		return fmt.Errorf("initial %d pages exceeds maximum %d", s.Initial, s.Maximum)
	}
	return nil
}

func (s MemorySpec) String() string {
	shared := ""
	if s.Shared {
		shared = " shared"
	}
	return fmt.Sprintf("%d..%d pages%s", s.Initial, s.Maximum, shared)
}

// MemorySizer provides the current size of WASM linear memory in pages.
type MemorySizer interface {
	Pages() uint32
}
