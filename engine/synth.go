package engine

import (
	"github.com/tetratelabs/wazero/api"

	wasiboot "github.com/wippyai/wasi-bootstrap"
	"github.com/wippyai/wasi-bootstrap/wasm"
)

// SynthModuleBuilder builds a module that exposes host functions and a
// module-defined memory under a single import namespace. Host modules
// cannot export memories, so the functions live in a shadow host module
// and are imported here and re-exported by index.
type SynthModuleBuilder struct {
	hostModuleName   string
	memoryExportName string
	memory           *wasiboot.MemorySpec
	funcs            []synthFunc
}

type synthFunc struct {
	name        string
	paramTypes  []api.ValueType
	resultTypes []api.ValueType
}

// NewSynthModuleBuilder creates a builder importing from hostModuleName.
func NewSynthModuleBuilder(hostModuleName string) *SynthModuleBuilder {
	return &SynthModuleBuilder{hostModuleName: hostModuleName}
}

// HostModuleName returns the shadow host module the functions come from.
func (b *SynthModuleBuilder) HostModuleName() string {
	return b.hostModuleName
}

// AddFunc adds a function to import and re-export.
func (b *SynthModuleBuilder) AddFunc(name string, params, results []api.ValueType) {
	b.funcs = append(b.funcs, synthFunc{
		name:        name,
		paramTypes:  params,
		resultTypes: results,
	})
}

// SetMemory defines a memory with the given limits and exports it.
func (b *SynthModuleBuilder) SetMemory(exportName string, spec wasiboot.MemorySpec) {
	b.memoryExportName = exportName
	b.memory = &spec
}

// HasMemory returns true if a memory is defined.
func (b *SynthModuleBuilder) HasMemory() bool {
	return b.memory != nil
}

// Module returns the module structure without encoding it.
func (b *SynthModuleBuilder) Module() *wasm.Module {
	m := &wasm.Module{}

	for i, f := range b.funcs {
		typeIdx := m.AddType(wasm.FuncType{
			Params:  valTypes(f.paramTypes),
			Results: valTypes(f.resultTypes),
		})
		m.Imports = append(m.Imports, wasm.Import{
			Module: b.hostModuleName,
			Name:   f.name,
			Desc:   wasm.ImportDesc{Kind: wasm.KindFunc, TypeIdx: typeIdx},
		})
		m.Exports = append(m.Exports, wasm.Export{
			Name: f.name,
			Kind: wasm.KindFunc,
			Idx:  uint32(i),
		})
	}

	if b.memory != nil {
		maxPages := uint64(b.memory.Maximum)
		m.Memories = append(m.Memories, wasm.MemoryType{Limits: wasm.Limits{
			Min:    uint64(b.memory.Initial),
			Max:    &maxPages,
			Shared: b.memory.Shared,
		}})
		m.Exports = append(m.Exports, wasm.Export{
			Name: b.memoryExportName,
			Kind: wasm.KindMemory,
			Idx:  0,
		})
	}

	return m
}

// Build generates the WASM module bytes.
func (b *SynthModuleBuilder) Build() []byte {
	return b.Module().Encode()
}

func valTypes(types []api.ValueType) []wasm.ValType {
	out := make([]wasm.ValType, len(types))
	for i, t := range types {
		out[i] = ValTypeToWasm(t)
	}
	return out
}

// ValTypeToWasm converts a wazero value type to its binary encoding.
func ValTypeToWasm(t api.ValueType) wasm.ValType {
	switch t {
	case api.ValueTypeI32:
		return wasm.ValI32
	case api.ValueTypeI64:
		return wasm.ValI64
	case api.ValueTypeF32:
		return wasm.ValF32
	case api.ValueTypeF64:
		return wasm.ValF64
	case api.ValueTypeExternref:
		return wasm.ValExtern
	default:
		return wasm.ValType(t)
	}
}
