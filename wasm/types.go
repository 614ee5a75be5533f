package wasm

import (
	"fmt"
	"strings"
)

// Module is the subset of a WebAssembly module the bootstrapper inspects
// and synthesizes. Element, data and tag sections are skipped on decode.
type Module struct {
	Types          []FuncType
	Imports        []Import
	Funcs          []uint32 // Type indices for declared functions
	Tables         []TableType
	Memories       []MemoryType
	Globals        []Global
	Exports        []Export
	Start          *uint32
	Code           []FuncBody
	CustomSections []CustomSection
}

// FuncType represents a WebAssembly function signature.
type FuncType struct {
	Params  []ValType
	Results []ValType
}

// Equal reports whether two signatures are identical.
func (f FuncType) Equal(other FuncType) bool {
	if len(f.Params) != len(other.Params) || len(f.Results) != len(other.Results) {
		return false
	}
	for i := range f.Params {
		if f.Params[i] != other.Params[i] {
			return false
		}
	}
	for i := range f.Results {
		if f.Results[i] != other.Results[i] {
			return false
		}
	}
	return true
}

// String renders the signature as "(f64) -> f64".
func (f FuncType) String() string {
	var b strings.Builder
	b.WriteByte('(')
	for i, p := range f.Params {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(p.String())
	}
	b.WriteString(") -> ")
	switch len(f.Results) {
	case 0:
		b.WriteString("()")
	case 1:
		b.WriteString(f.Results[0].String())
	default:
		b.WriteByte('(')
		for i, r := range f.Results {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(r.String())
		}
		b.WriteByte(')')
	}
	return b.String()
}

// ValType represents a WebAssembly value type.
// See constants.go for ValI32, ValI64, ValF32, ValF64, etc.
type ValType byte

func (v ValType) String() string {
	switch v {
	case ValI32:
		return "i32"
	case ValI64:
		return "i64"
	case ValF32:
		return "f32"
	case ValF64:
		return "f64"
	case ValV128:
		return "v128"
	case ValFuncRef:
		return "funcref"
	case ValExtern:
		return "externref"
	default:
		return fmt.Sprintf("0x%02x", byte(v))
	}
}

// Import represents an imported function, table, memory or global.
type Import struct {
	Desc   ImportDesc
	Module string
	Name   string
}

// Key returns the "module#name" identifier used in diagnostics.
func (i Import) Key() string {
	return i.Module + "#" + i.Name
}

// ImportDesc describes an imported item.
// Kind uses KindFunc, KindTable, KindMemory or KindGlobal.
type ImportDesc struct {
	Table   *TableType
	Memory  *MemoryType
	Global  *GlobalType
	TypeIdx uint32
	Kind    byte
}

// TableType describes a table with element type and size limits.
type TableType struct {
	Limits   Limits
	ElemType byte
}

// MemoryType describes a linear memory with size limits.
type MemoryType struct {
	Limits Limits
}

// String renders the memory type as "1..2 pages shared".
func (m MemoryType) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d..", m.Limits.Min)
	if m.Limits.Max != nil {
		fmt.Fprintf(&b, "%d", *m.Limits.Max)
	}
	b.WriteString(" pages")
	if m.Limits.Shared {
		b.WriteString(" shared")
	}
	return b.String()
}

// Limits describes size constraints for tables and memories.
type Limits struct {
	Max      *uint64
	Min      uint64
	Shared   bool
	Memory64 bool
}

// GlobalType describes a global variable's type and mutability.
type GlobalType struct {
	ValType ValType
	Mutable bool
}

// Global represents a global variable with type and initialization.
type Global struct {
	Type GlobalType
	Init []byte // Raw init expression bytes including the end opcode
}

// Export describes an exported item.
type Export struct {
	Name string
	Kind byte
	Idx  uint32
}

// FuncBody represents a function's local declarations and bytecode.
type FuncBody struct {
	Locals []LocalEntry
	Code   []byte // Raw code bytes including end opcode
}

// LocalEntry represents a group of local variables with the same type.
type LocalEntry struct {
	Count   uint32
	ValType ValType
}

// CustomSection holds a named custom section's data.
type CustomSection struct {
	Name string
	Data []byte
}

// NumImportedFuncs returns the number of imported functions, which
// precede declared functions in the function index space.
func (m *Module) NumImportedFuncs() int {
	n := 0
	for _, imp := range m.Imports {
		if imp.Desc.Kind == KindFunc {
			n++
		}
	}
	return n
}

// ImportFuncType returns the signature of a function import.
func (m *Module) ImportFuncType(imp Import) (FuncType, bool) {
	if imp.Desc.Kind != KindFunc || int(imp.Desc.TypeIdx) >= len(m.Types) {
		return FuncType{}, false
	}
	return m.Types[imp.Desc.TypeIdx], true
}

// FuncTypeOf returns the signature of the function at funcIdx in the
// combined import+declared index space.
func (m *Module) FuncTypeOf(funcIdx uint32) (FuncType, bool) {
	imported := uint32(m.NumImportedFuncs())
	if funcIdx < imported {
		var seen uint32
		for _, imp := range m.Imports {
			if imp.Desc.Kind != KindFunc {
				continue
			}
			if seen == funcIdx {
				return m.ImportFuncType(imp)
			}
			seen++
		}
		return FuncType{}, false
	}
	local := funcIdx - imported
	if int(local) >= len(m.Funcs) {
		return FuncType{}, false
	}
	typeIdx := m.Funcs[local]
	if int(typeIdx) >= len(m.Types) {
		return FuncType{}, false
	}
	return m.Types[typeIdx], true
}

// ExportByName looks up an export.
func (m *Module) ExportByName(name string) (Export, bool) {
	for _, e := range m.Exports {
		if e.Name == name {
			return e, true
		}
	}
	return Export{}, false
}

// ImportsFrom returns the imports declared against a namespace, in order.
func (m *Module) ImportsFrom(namespace string) []Import {
	var out []Import
	for _, imp := range m.Imports {
		if imp.Module == namespace {
			out = append(out, imp)
		}
	}
	return out
}

// AddType appends ft unless an equal signature exists and returns its index.
func (m *Module) AddType(ft FuncType) uint32 {
	for i, existing := range m.Types {
		if existing.Equal(ft) {
			return uint32(i)
		}
	}
	m.Types = append(m.Types, ft)
	return uint32(len(m.Types) - 1)
}
