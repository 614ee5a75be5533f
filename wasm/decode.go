package wasm

import (
	"errors"
	"fmt"

	"github.com/wippyai/wasi-bootstrap/wasm/internal/binary"
)

// Parsing errors returned by Parse.
var (
	ErrInvalidMagic   = errors.New("invalid wasm magic number")
	ErrInvalidVersion = errors.New("invalid wasm version")
	ErrComponent      = errors.New("component model binaries are not core modules")
	ErrUnsupported    = errors.New("unsupported encoding")
)

// IsModule reports whether data starts with a core module header.
func IsModule(data []byte) bool {
	if len(data) < 8 {
		return false
	}
	r := binary.NewReader(data)
	magic, _ := r.ReadU32LE()
	version, _ := r.ReadU32LE()
	return magic == Magic && version == Version
}

// Parse decodes the sections of a core WebAssembly module that describe
// its interface: types, imports, functions, tables, memories, globals,
// exports, start and code. Element, data, data count and tag sections
// are validated for order and skipped.
func Parse(data []byte) (*Module, error) {
	r := binary.NewReader(data)

	magic, err := r.ReadU32LE()
	if err != nil {
		return nil, r.WrapError("header", err)
	}
	if magic != Magic {
		return nil, ErrInvalidMagic
	}

	version, err := r.ReadU32LE()
	if err != nil {
		return nil, r.WrapError("header", err)
	}
	if version == ComponentVersion {
		return nil, ErrComponent
	}
	if version != Version {
		return nil, ErrInvalidVersion
	}

	m := &Module{}
	var lastOrder int

	for r.Len() > 0 {
		sectionID, err := r.ReadByte()
		if err != nil {
			return nil, r.WrapError("section header", err)
		}

		if sectionID != SectionCustom {
			order := sectionOrder(sectionID)
			if order == 0 {
				return nil, fmt.Errorf("unknown section ID: 0x%02x", sectionID)
			}
			if order <= lastOrder {
				return nil, fmt.Errorf("section %d appears out of order", sectionID)
			}
			lastOrder = order
		}

		size, err := r.ReadU32()
		if err != nil {
			return nil, r.WrapError("section size", err)
		}
		payload, err := r.ReadBytes(int(size))
		if err != nil {
			return nil, r.WrapError("section data", err)
		}

		if err := parseSection(sectionID, binary.NewReader(payload), m); err != nil {
			return nil, err
		}
	}

	if len(m.Code) != len(m.Funcs) {
		return nil, fmt.Errorf("function and code section counts differ: %d != %d", len(m.Funcs), len(m.Code))
	}

	return m, nil
}

func parseSection(id byte, r *binary.Reader, m *Module) error {
	var (
		name string
		err  error
	)
	switch id {
	case SectionCustom:
		name, err = "custom", parseCustomSection(r, m)
	case SectionType:
		name, err = "type", parseTypeSection(r, m)
	case SectionImport:
		name, err = "import", parseImportSection(r, m)
	case SectionFunction:
		name, err = "function", parseFunctionSection(r, m)
	case SectionTable:
		name, err = "table", parseTableSection(r, m)
	case SectionMemory:
		name, err = "memory", parseMemorySection(r, m)
	case SectionGlobal:
		name, err = "global", parseGlobalSection(r, m)
	case SectionExport:
		name, err = "export", parseExportSection(r, m)
	case SectionStart:
		name, err = "start", parseStartSection(r, m)
	case SectionCode:
		name, err = "code", parseCodeSection(r, m)
	default:
		// element, data, data count, tag
		return nil
	}
	if err != nil {
		return fmt.Errorf("%s section: %w", name, err)
	}
	if r.Len() != 0 {
		return fmt.Errorf("%s section: %d trailing bytes", name, r.Len())
	}
	return nil
}

// sectionOrder returns the canonical ordering for a section ID, or 0 for
// unknown IDs. The order differs from the IDs for tag and data count.
func sectionOrder(id byte) int {
	switch id {
	case SectionType:
		return 1
	case SectionImport:
		return 2
	case SectionFunction:
		return 3
	case SectionTable:
		return 4
	case SectionMemory:
		return 5
	case SectionTag:
		return 6
	case SectionGlobal:
		return 7
	case SectionExport:
		return 8
	case SectionStart:
		return 9
	case SectionElement:
		return 10
	case SectionDataCount:
		return 11
	case SectionCode:
		return 12
	case SectionData:
		return 13
	default:
		return 0
	}
}

func parseCustomSection(r *binary.Reader, m *Module) error {
	name, err := r.ReadName()
	if err != nil {
		return err
	}
	rest, err := r.ReadBytes(r.Len())
	if err != nil {
		return err
	}
	m.CustomSections = append(m.CustomSections, CustomSection{Name: name, Data: rest})
	return nil
}

func parseTypeSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.Types = make([]FuncType, 0, count)
	for i := uint32(0); i < count; i++ {
		form, err := r.ReadByte()
		if err != nil {
			return err
		}
		if form != FuncTypeByte {
			// rec groups, struct and array types
			return fmt.Errorf("type %d: form 0x%02x: %w", i, form, ErrUnsupported)
		}
		params, err := readValTypes(r)
		if err != nil {
			return err
		}
		results, err := readValTypes(r)
		if err != nil {
			return err
		}
		m.Types = append(m.Types, FuncType{Params: params, Results: results})
	}
	return nil
}

func readValTypes(r *binary.Reader) ([]ValType, error) {
	n, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	if int(n) > r.Len() {
		return nil, fmt.Errorf("value type count %d exceeds section", n)
	}
	types := make([]ValType, n)
	for i := range types {
		vt, err := readValType(r)
		if err != nil {
			return nil, err
		}
		types[i] = vt
	}
	return types, nil
}

// readValType reads a value type, consuming the heap type of typed refs.
func readValType(r *binary.Reader) (ValType, error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	vt := ValType(b)
	if vt == ValRefNull || vt == ValRef {
		if _, err := r.ReadS64(); err != nil {
			return 0, err
		}
	}
	return vt, nil
}

func parseImportSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.Imports = make([]Import, 0, count)
	for i := uint32(0); i < count; i++ {
		module, err := r.ReadName()
		if err != nil {
			return err
		}
		name, err := r.ReadName()
		if err != nil {
			return err
		}
		kind, err := r.ReadByte()
		if err != nil {
			return err
		}

		imp := Import{Module: module, Name: name, Desc: ImportDesc{Kind: kind}}
		switch kind {
		case KindFunc:
			imp.Desc.TypeIdx, err = r.ReadU32()
		case KindTable:
			var t TableType
			t, err = readTableType(r)
			imp.Desc.Table = &t
		case KindMemory:
			var mt MemoryType
			mt, err = readMemoryType(r)
			imp.Desc.Memory = &mt
		case KindGlobal:
			var g GlobalType
			g, err = readGlobalType(r)
			imp.Desc.Global = &g
		case KindTag:
			if _, err = r.ReadByte(); err == nil {
				imp.Desc.TypeIdx, err = r.ReadU32()
			}
		default:
			return fmt.Errorf("import %s: unknown kind 0x%02x", imp.Key(), kind)
		}
		if err != nil {
			return fmt.Errorf("import %s: %w", imp.Key(), err)
		}
		m.Imports = append(m.Imports, imp)
	}
	return nil
}

func parseFunctionSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	if int(count) > r.Len() {
		return fmt.Errorf("function count %d exceeds section", count)
	}
	m.Funcs = make([]uint32, count)
	for i := range m.Funcs {
		if m.Funcs[i], err = r.ReadU32(); err != nil {
			return err
		}
	}
	return nil
}

func parseTableSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		t, err := readTableType(r)
		if err != nil {
			return err
		}
		m.Tables = append(m.Tables, t)
	}
	return nil
}

func parseMemorySection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		mt, err := readMemoryType(r)
		if err != nil {
			return err
		}
		m.Memories = append(m.Memories, mt)
	}
	return nil
}

func parseGlobalSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		gt, err := readGlobalType(r)
		if err != nil {
			return err
		}
		init, err := readConstExpr(r)
		if err != nil {
			return fmt.Errorf("global %d: %w", i, err)
		}
		m.Globals = append(m.Globals, Global{Type: gt, Init: init})
	}
	return nil
}

func parseExportSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.Exports = make([]Export, 0, count)
	for i := uint32(0); i < count; i++ {
		name, err := r.ReadName()
		if err != nil {
			return err
		}
		kind, err := r.ReadByte()
		if err != nil {
			return err
		}
		idx, err := r.ReadU32()
		if err != nil {
			return err
		}
		m.Exports = append(m.Exports, Export{Name: name, Kind: kind, Idx: idx})
	}
	return nil
}

func parseStartSection(r *binary.Reader, m *Module) error {
	idx, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.Start = &idx
	return nil
}

func parseCodeSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.Code = make([]FuncBody, 0, count)
	for i := uint32(0); i < count; i++ {
		size, err := r.ReadU32()
		if err != nil {
			return err
		}
		body, err := r.ReadBytes(int(size))
		if err != nil {
			return fmt.Errorf("body %d: %w", i, err)
		}

		br := binary.NewReader(body)
		groups, err := br.ReadU32()
		if err != nil {
			return fmt.Errorf("body %d: %w", i, err)
		}
		fb := FuncBody{}
		for g := uint32(0); g < groups; g++ {
			n, err := br.ReadU32()
			if err != nil {
				return fmt.Errorf("body %d locals: %w", i, err)
			}
			vt, err := readValType(br)
			if err != nil {
				return fmt.Errorf("body %d locals: %w", i, err)
			}
			fb.Locals = append(fb.Locals, LocalEntry{Count: n, ValType: vt})
		}
		fb.Code, _ = br.ReadBytes(br.Len())
		m.Code = append(m.Code, fb)
	}
	return nil
}

func readLimits(r *binary.Reader) (Limits, error) {
	flags, err := r.ReadByte()
	if err != nil {
		return Limits{}, err
	}
	if flags&^(LimitsHasMax|LimitsShared|LimitsMemory64) != 0 {
		return Limits{}, fmt.Errorf("limits flags 0x%02x: %w", flags, ErrUnsupported)
	}

	l := Limits{
		Shared:   flags&LimitsShared != 0,
		Memory64: flags&LimitsMemory64 != 0,
	}

	read := r.ReadU64
	if !l.Memory64 {
		read = func() (uint64, error) {
			v, err := r.ReadU32()
			return uint64(v), err
		}
	}

	if l.Min, err = read(); err != nil {
		return Limits{}, err
	}
	if flags&LimitsHasMax != 0 {
		maxVal, err := read()
		if err != nil {
			return Limits{}, err
		}
		l.Max = &maxVal
	}

	if l.Max != nil && l.Min > *l.Max {
		return Limits{}, fmt.Errorf("limits min (%d) exceeds max (%d)", l.Min, *l.Max)
	}
	if l.Shared && l.Max == nil {
		return Limits{}, errors.New("shared memory must declare a maximum")
	}
	return l, nil
}

func readTableType(r *binary.Reader) (TableType, error) {
	vt, err := readValType(r)
	if err != nil {
		return TableType{}, err
	}
	limits, err := readLimits(r)
	if err != nil {
		return TableType{}, err
	}
	return TableType{ElemType: byte(vt), Limits: limits}, nil
}

func readMemoryType(r *binary.Reader) (MemoryType, error) {
	limits, err := readLimits(r)
	if err != nil {
		return MemoryType{}, err
	}
	return MemoryType{Limits: limits}, nil
}

func readGlobalType(r *binary.Reader) (GlobalType, error) {
	vt, err := readValType(r)
	if err != nil {
		return GlobalType{}, err
	}
	mut, err := r.ReadByte()
	if err != nil {
		return GlobalType{}, err
	}
	return GlobalType{ValType: vt, Mutable: mut != 0}, nil
}

// readConstExpr returns the raw bytes of a constant expression up to and
// including its end opcode.
func readConstExpr(r *binary.Reader) ([]byte, error) {
	start := r.Position()
	for {
		op, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		if op == OpEnd {
			break
		}
		if err := skipConstImmediate(r, op); err != nil {
			return nil, err
		}
	}
	return r.Span(start, r.Position()), nil
}

func skipConstImmediate(r *binary.Reader, op byte) error {
	var err error
	switch op {
	case OpI32Const, OpI64Const, OpRefNull:
		_, err = r.ReadS64()
	case OpGlobalGet, OpRefFunc:
		_, err = r.ReadU32()
	case OpF32Const:
		err = r.Skip(4)
	case OpF64Const:
		err = r.Skip(8)
	case OpI32Add, OpI32Sub, OpI32Mul, OpI64Add, OpI64Sub, OpI64Mul:
	case OpPrefixSIMD:
		var sub uint32
		if sub, err = r.ReadU32(); err == nil {
			if sub != SIMDV128Const {
				return fmt.Errorf("simd op 0x%x in const expression: %w", sub, ErrUnsupported)
			}
			err = r.Skip(16)
		}
	default:
		return fmt.Errorf("opcode 0x%02x in const expression: %w", op, ErrUnsupported)
	}
	return err
}
