package wasm

// WebAssembly binary format magic number and version.
const (
	// Magic is the WebAssembly binary magic number ("\0asm" in little-endian).
	Magic uint32 = 0x6D736100

	// Version is the supported WebAssembly binary format version.
	Version uint32 = 0x01

	// ComponentVersion is the version/layer word of Component Model binaries.
	ComponentVersion uint32 = 0x0001000D
)

// Section IDs define the binary identifiers for each module section.
// Sections must appear in increasing order by ID (except custom sections).
const (
	SectionCustom    byte = 0  // Custom section (can appear anywhere)
	SectionType      byte = 1  // Type section (function signatures)
	SectionImport    byte = 2  // Import section
	SectionFunction  byte = 3  // Function section (type indices)
	SectionTable     byte = 4  // Table section
	SectionMemory    byte = 5  // Memory section
	SectionGlobal    byte = 6  // Global section
	SectionExport    byte = 7  // Export section
	SectionStart     byte = 8  // Start section
	SectionElement   byte = 9  // Element section
	SectionCode      byte = 10 // Code section (function bodies)
	SectionData      byte = 11 // Data section
	SectionDataCount byte = 12 // Data count section (bulk memory)
	SectionTag       byte = 13 // Tag section (exception handling)
)

// Import/Export descriptor kinds identify the type of imported or exported item.
const (
	KindFunc   byte = 0 // Function import/export
	KindTable  byte = 1 // Table import/export
	KindMemory byte = 2 // Memory import/export
	KindGlobal byte = 3 // Global import/export
	KindTag    byte = 4 // Tag import/export (exception handling)
)

// KindName returns the text-format keyword for an import/export kind.
func KindName(kind byte) string {
	switch kind {
	case KindFunc:
		return "func"
	case KindTable:
		return "table"
	case KindMemory:
		return "memory"
	case KindGlobal:
		return "global"
	case KindTag:
		return "tag"
	default:
		return "unknown"
	}
}

// Value type encodings as defined in the WebAssembly binary format.
const (
	ValI32     ValType = 0x7F // 32-bit integer
	ValI64     ValType = 0x7E // 64-bit integer
	ValF32     ValType = 0x7D // 32-bit float
	ValF64     ValType = 0x7C // 64-bit float
	ValV128    ValType = 0x7B // 128-bit vector (SIMD)
	ValFuncRef ValType = 0x70 // Function reference
	ValExtern  ValType = 0x6F // External reference
	ValRefNull ValType = 0x63 // (ref null ht), followed by a heap type
	ValRef     ValType = 0x64 // (ref ht), followed by a heap type
)

// FuncTypeByte introduces a function type in the type section.
const FuncTypeByte byte = 0x60

// Limits flags. Bit 0: max present, bit 1: shared, bit 2: 64-bit index.
const (
	LimitsHasMax   byte = 0x01
	LimitsShared   byte = 0x02
	LimitsMemory64 byte = 0x04
)

// Opcodes used by const expressions and the Code builder.
const (
	OpUnreachable byte = 0x00
	OpNop         byte = 0x01
	OpBlock       byte = 0x02
	OpLoop        byte = 0x03
	OpIf          byte = 0x04
	OpElse        byte = 0x05
	OpEnd         byte = 0x0B
	OpBr          byte = 0x0C
	OpBrIf        byte = 0x0D
	OpReturn      byte = 0x0F
	OpCall        byte = 0x10
	OpDrop        byte = 0x1A
	OpSelect      byte = 0x1B
	OpLocalGet    byte = 0x20
	OpLocalSet    byte = 0x21
	OpLocalTee    byte = 0x22
	OpGlobalGet   byte = 0x23
	OpGlobalSet   byte = 0x24
	OpI32Load     byte = 0x28
	OpI32Store    byte = 0x36
	OpMemorySize  byte = 0x3F
	OpMemoryGrow  byte = 0x40
	OpI32Const    byte = 0x41
	OpI64Const    byte = 0x42
	OpF32Const    byte = 0x43
	OpF64Const    byte = 0x44
	OpI32Add      byte = 0x6A
	OpI32Sub      byte = 0x6B
	OpI32Mul      byte = 0x6C
	OpI32DivS     byte = 0x6D
	OpI64Add      byte = 0x7C
	OpI64Sub      byte = 0x7D
	OpI64Mul      byte = 0x7E
	OpRefNull     byte = 0xD0
	OpRefFunc     byte = 0xD2
	OpPrefixSIMD  byte = 0xFD
	OpPrefixAtom  byte = 0xFE
)

// Threads proposal sub-opcodes (after OpPrefixAtom).
const (
	AtomicNotify     uint32 = 0x00
	AtomicWait32     uint32 = 0x01
	AtomicFence      uint32 = 0x03
	AtomicI32Load    uint32 = 0x10
	AtomicI64Load    uint32 = 0x11
	AtomicI32Store   uint32 = 0x17
	AtomicI64Store   uint32 = 0x18
	AtomicI32Add     uint32 = 0x1E
	AtomicI32Sub     uint32 = 0x25
	AtomicI32Xchg    uint32 = 0x41
	AtomicI32Cmpxchg uint32 = 0x48
)

// SIMDV128Const is the v128.const sub-opcode (after OpPrefixSIMD).
const SIMDV128Const uint32 = 0x0C
