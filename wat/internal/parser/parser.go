package parser

import (
	"fmt"
	"strings"

	"github.com/wippyai/wasi-bootstrap/wasm"
	"github.com/wippyai/wasi-bootstrap/wat/internal/token"
)

// field is one top-level module field, as a token range including its
// parentheses.
type field struct {
	keyword string
	start   int
	end     int
	line    int
}

type Parser struct {
	mod       *wasm.Module
	typeMap   map[string]uint32
	funcMap   map[string]uint32
	globalMap map[string]uint32
	memMap    map[string]uint32
	tokens    []token.Token
	fields    []field
	pos       int
}

func New(tokens []token.Token) *Parser {
	return &Parser{
		tokens:    tokens,
		typeMap:   make(map[string]uint32),
		funcMap:   make(map[string]uint32),
		globalMap: make(map[string]uint32),
		memMap:    make(map[string]uint32),
	}
}

// Parse reads one (module ...) form. Names are bound in a first pass so
// calls and exports may refer to functions declared later.
func (p *Parser) Parse() (*wasm.Module, error) {
	p.mod = &wasm.Module{}

	if _, err := p.expect(token.LParen); err != nil {
		return nil, err
	}
	t, err := p.expect(token.Ident)
	if err != nil {
		return nil, err
	}
	if t.Value != "module" {
		return nil, fmt.Errorf("line %d: expected 'module', got %q", t.Line, t.Value)
	}
	if t := p.peek(); t != nil && isName(t) {
		p.next()
	}

	if err := p.scanFields(); err != nil {
		return nil, err
	}
	if err := p.declare(); err != nil {
		return nil, err
	}

	for _, f := range p.fields {
		p.pos = f.start
		if err := p.parseField(f); err != nil {
			return nil, err
		}
		if p.pos != f.end {
			t := p.tokens[p.pos]
			return nil, fmt.Errorf("line %d: unexpected %q in %s", t.Line, t.Value, f.keyword)
		}
	}
	return p.mod, nil
}

func (p *Parser) scanFields() error {
	for {
		t := p.peek()
		if t == nil {
			return errEOF
		}
		switch t.Type {
		case token.RParen:
			p.next()
			if rest := p.peek(); rest != nil {
				return fmt.Errorf("line %d: unexpected %q after module", rest.Line, rest.Value)
			}
			return nil
		case token.LParen:
			start := p.pos
			if err := p.skipForm(); err != nil {
				return err
			}
			kw := p.tokens[start+1]
			if kw.Type != token.Ident {
				return fmt.Errorf("line %d: expected module field, got %q", kw.Line, kw.Value)
			}
			p.fields = append(p.fields, field{keyword: kw.Value, start: start, end: p.pos, line: kw.Line})
		default:
			return fmt.Errorf("line %d: expected module field, got %q", t.Line, t.Value)
		}
	}
}

// skipForm advances past one balanced parenthesized form.
func (p *Parser) skipForm() error {
	depth := 0
	for {
		t := p.next()
		if t == nil {
			return errEOF
		}
		switch t.Type {
		case token.LParen:
			depth++
		case token.RParen:
			depth--
		}
		if depth == 0 {
			return nil
		}
	}
}

// declare binds type, function, memory and global names to indices.
// Imports of a kind must precede its definitions, as in the binary
// index space.
func (p *Parser) declare() error {
	var funcIdx, memIdx, globalIdx uint32
	defined := make(map[string]bool)

	for _, f := range p.fields {
		switch f.keyword {
		case "type":
			p.pos = f.start
			if err := p.parseType(); err != nil {
				return err
			}

		case "import":
			if f.start+5 >= f.end || p.tokens[f.start+4].Type != token.LParen {
				return fmt.Errorf("line %d: malformed import", f.line)
			}
			kind := p.tokens[f.start+5].Value
			if defined[kind] {
				return fmt.Errorf("line %d: %s import after %s definition", f.line, kind, kind)
			}
			name := p.nameAt(f.start + 6)
			var err error
			switch kind {
			case "func":
				err = bind(p.funcMap, name, &funcIdx)
			case "memory":
				err = bind(p.memMap, name, &memIdx)
			case "global":
				err = bind(p.globalMap, name, &globalIdx)
			default:
				err = fmt.Errorf("unsupported import kind %q", kind)
			}
			if err != nil {
				return fmt.Errorf("line %d: %w", f.line, err)
			}

		case "func", "memory", "global":
			defined[f.keyword] = true
			name := p.nameAt(f.start + 2)
			var err error
			switch f.keyword {
			case "func":
				err = bind(p.funcMap, name, &funcIdx)
			case "memory":
				err = bind(p.memMap, name, &memIdx)
			case "global":
				err = bind(p.globalMap, name, &globalIdx)
			}
			if err != nil {
				return fmt.Errorf("line %d: %w", f.line, err)
			}

		case "export", "start":

		default:
			return fmt.Errorf("line %d: unsupported module field %q", f.line, f.keyword)
		}
	}
	return nil
}

func bind(names map[string]uint32, name string, next *uint32) error {
	if name != "" {
		if _, dup := names[name]; dup {
			return fmt.Errorf("duplicate identifier %s", name)
		}
		names[name] = *next
	}
	*next++
	return nil
}

func (p *Parser) parseField(f field) error {
	switch f.keyword {
	case "type":
		// bound and appended by declare
		p.pos = f.end
		return nil
	case "import":
		return p.parseImport()
	case "func":
		return p.parseFunc()
	case "memory":
		return p.parseMemory()
	case "global":
		return p.parseGlobal()
	case "export":
		return p.parseExport()
	case "start":
		return p.parseStart()
	}
	return fmt.Errorf("line %d: unsupported module field %q", f.line, f.keyword)
}

// (type $name? (func (param ...)* (result ...)*))
func (p *Parser) parseType() error {
	if err := p.open("type"); err != nil {
		return err
	}
	var name string
	if t := p.peek(); t != nil && isName(t) {
		name = t.Value
		p.next()
	}
	if err := p.open("func"); err != nil {
		return err
	}
	ft, err := p.parseSig(nil)
	if err != nil {
		return err
	}
	if err := p.close(); err != nil {
		return err
	}
	if err := p.close(); err != nil {
		return err
	}

	if name != "" {
		if _, dup := p.typeMap[name]; dup {
			return fmt.Errorf("duplicate identifier %s", name)
		}
		p.typeMap[name] = uint32(len(p.mod.Types))
	}
	p.mod.Types = append(p.mod.Types, ft)
	return nil
}

// (import "module" "name" (func|memory|global $name? ...))
func (p *Parser) parseImport() error {
	if err := p.open("import"); err != nil {
		return err
	}
	module, err := p.parseString()
	if err != nil {
		return err
	}
	name, err := p.parseString()
	if err != nil {
		return err
	}
	if _, err := p.expect(token.LParen); err != nil {
		return err
	}
	kind, err := p.expect(token.Ident)
	if err != nil {
		return err
	}
	if t := p.peek(); t != nil && isName(t) {
		p.next()
	}

	imp := wasm.Import{Module: module, Name: name}
	switch kind.Value {
	case "func":
		idx, _, err := p.parseTypeUse(nil)
		if err != nil {
			return err
		}
		imp.Desc = wasm.ImportDesc{Kind: wasm.KindFunc, TypeIdx: idx}
	case "memory":
		limits, err := p.parseLimits()
		if err != nil {
			return err
		}
		imp.Desc = wasm.ImportDesc{Kind: wasm.KindMemory, Memory: &wasm.MemoryType{Limits: limits}}
	case "global":
		gt, err := p.parseGlobalType()
		if err != nil {
			return err
		}
		imp.Desc = wasm.ImportDesc{Kind: wasm.KindGlobal, Global: &gt}
	default:
		return fmt.Errorf("line %d: unsupported import kind %q", kind.Line, kind.Value)
	}

	if err := p.close(); err != nil {
		return err
	}
	if err := p.close(); err != nil {
		return err
	}
	p.mod.Imports = append(p.mod.Imports, imp)
	return nil
}

// (memory $name? (export "name")* min max? shared?)
func (p *Parser) parseMemory() error {
	if err := p.open("memory"); err != nil {
		return err
	}
	if t := p.peek(); t != nil && isName(t) {
		p.next()
	}
	idx := p.importCount(wasm.KindMemory) + uint32(len(p.mod.Memories))
	if err := p.parseInlineExports(wasm.KindMemory, idx); err != nil {
		return err
	}
	if err := p.rejectInlineImport(); err != nil {
		return err
	}
	limits, err := p.parseLimits()
	if err != nil {
		return err
	}
	if err := p.close(); err != nil {
		return err
	}
	p.mod.Memories = append(p.mod.Memories, wasm.MemoryType{Limits: limits})
	return nil
}

// (global $name? (export "name")* type init)
func (p *Parser) parseGlobal() error {
	if err := p.open("global"); err != nil {
		return err
	}
	if t := p.peek(); t != nil && isName(t) {
		p.next()
	}
	idx := p.importCount(wasm.KindGlobal) + uint32(len(p.mod.Globals))
	if err := p.parseInlineExports(wasm.KindGlobal, idx); err != nil {
		return err
	}
	if err := p.rejectInlineImport(); err != nil {
		return err
	}
	gt, err := p.parseGlobalType()
	if err != nil {
		return err
	}

	s := newScope()
	if err := p.parseInstrs(s); err != nil {
		return err
	}
	s.code.End()
	if err := p.close(); err != nil {
		return err
	}

	expr := make([]byte, s.code.Len())
	copy(expr, s.code.Bytes())
	p.mod.Globals = append(p.mod.Globals, wasm.Global{Type: gt, Init: expr})
	return nil
}

// (export "name" (func|memory|global idx))
func (p *Parser) parseExport() error {
	if err := p.open("export"); err != nil {
		return err
	}
	name, err := p.parseString()
	if err != nil {
		return err
	}
	if _, err := p.expect(token.LParen); err != nil {
		return err
	}
	kind, err := p.expect(token.Ident)
	if err != nil {
		return err
	}

	exp := wasm.Export{Name: name}
	switch kind.Value {
	case "func":
		exp.Kind = wasm.KindFunc
		exp.Idx, err = p.parseIdx(p.funcMap, "function")
	case "memory":
		exp.Kind = wasm.KindMemory
		exp.Idx, err = p.parseIdx(p.memMap, "memory")
	case "global":
		exp.Kind = wasm.KindGlobal
		exp.Idx, err = p.parseIdx(p.globalMap, "global")
	default:
		return fmt.Errorf("line %d: unsupported export kind %q", kind.Line, kind.Value)
	}
	if err != nil {
		return err
	}

	if err := p.close(); err != nil {
		return err
	}
	if err := p.close(); err != nil {
		return err
	}
	p.mod.Exports = append(p.mod.Exports, exp)
	return nil
}

// (start idx)
func (p *Parser) parseStart() error {
	if err := p.open("start"); err != nil {
		return err
	}
	idx, err := p.parseIdx(p.funcMap, "function")
	if err != nil {
		return err
	}
	if err := p.close(); err != nil {
		return err
	}
	p.mod.Start = &idx
	return nil
}

func (p *Parser) parseInlineExports(kind byte, idx uint32) error {
	for p.peekKeyword() == "export" {
		p.next()
		p.next()
		name, err := p.parseString()
		if err != nil {
			return err
		}
		if err := p.close(); err != nil {
			return err
		}
		p.mod.Exports = append(p.mod.Exports, wasm.Export{Name: name, Kind: kind, Idx: idx})
	}
	return nil
}

func (p *Parser) rejectInlineImport() error {
	if p.peekKeyword() == "import" {
		return fmt.Errorf("line %d: inline import is not supported, use a top-level import", p.peek().Line)
	}
	return nil
}

func (p *Parser) importCount(kind byte) uint32 {
	var n uint32
	for _, imp := range p.mod.Imports {
		if imp.Desc.Kind == kind {
			n++
		}
	}
	return n
}

// parseLimits reads "min max? shared?".
func (p *Parser) parseLimits() (wasm.Limits, error) {
	var limits wasm.Limits

	line := 0
	if t := p.peek(); t != nil {
		line = t.Line
	}
	minPages, err := p.parseU32()
	if err != nil {
		return limits, err
	}
	limits.Min = uint64(minPages)

	if t := p.peek(); t != nil && t.Type == token.Number {
		maxPages, err := p.parseU32()
		if err != nil {
			return limits, err
		}
		m := uint64(maxPages)
		limits.Max = &m
	}
	if t := p.peek(); t != nil && t.Type == token.Ident && t.Value == "shared" {
		p.next()
		limits.Shared = true
	}

	if limits.Shared && limits.Max == nil {
		return limits, fmt.Errorf("line %d: shared memory requires a maximum", line)
	}
	if limits.Max != nil && *limits.Max < limits.Min {
		return limits, fmt.Errorf("line %d: maximum %d below minimum %d", line, *limits.Max, limits.Min)
	}
	return limits, nil
}

func (p *Parser) parseGlobalType() (wasm.GlobalType, error) {
	if p.peekKeyword() == "mut" {
		p.next()
		p.next()
		vt, err := p.parseValType()
		if err != nil {
			return wasm.GlobalType{}, err
		}
		if err := p.close(); err != nil {
			return wasm.GlobalType{}, err
		}
		return wasm.GlobalType{ValType: vt, Mutable: true}, nil
	}
	vt, err := p.parseValType()
	if err != nil {
		return wasm.GlobalType{}, err
	}
	return wasm.GlobalType{ValType: vt}, nil
}

// parseTypeUse reads "(type idx)? (param ...)* (result ...)*". Inline
// signatures without a type reference reuse an equal existing type.
func (p *Parser) parseTypeUse(s *scope) (uint32, wasm.FuncType, error) {
	explicit := false
	var idx uint32
	line := 0
	if t := p.peek(); t != nil {
		line = t.Line
	}

	if p.peekKeyword() == "type" {
		p.next()
		p.next()
		var err error
		if idx, err = p.parseIdx(p.typeMap, "type"); err != nil {
			return 0, wasm.FuncType{}, err
		}
		if err := p.close(); err != nil {
			return 0, wasm.FuncType{}, err
		}
		if int(idx) >= len(p.mod.Types) {
			return 0, wasm.FuncType{}, fmt.Errorf("line %d: unknown type %d", line, idx)
		}
		explicit = true
	}

	ft, err := p.parseSig(s)
	if err != nil {
		return 0, wasm.FuncType{}, err
	}

	if !explicit {
		return p.mod.AddType(ft), ft, nil
	}
	declared := p.mod.Types[idx]
	if len(ft.Params) == 0 && len(ft.Results) == 0 {
		if s != nil {
			s.count += uint32(len(declared.Params))
		}
		return idx, declared, nil
	}
	if !ft.Equal(declared) {
		return 0, wasm.FuncType{}, fmt.Errorf("line %d: signature %s does not match type %d %s", line, ft, idx, declared)
	}
	return idx, declared, nil
}

// parseSig reads param and result groups. Named params are bound in s.
func (p *Parser) parseSig(s *scope) (wasm.FuncType, error) {
	var ft wasm.FuncType
	for {
		switch p.peekKeyword() {
		case "param":
			p.next()
			p.next()
			if t := p.peek(); t != nil && isName(t) {
				p.next()
				vt, err := p.parseValType()
				if err != nil {
					return ft, err
				}
				if s != nil {
					if err := s.bind(t.Value); err != nil {
						return ft, fmt.Errorf("line %d: %w", t.Line, err)
					}
				}
				ft.Params = append(ft.Params, vt)
			} else {
				for !p.atClose() {
					vt, err := p.parseValType()
					if err != nil {
						return ft, err
					}
					if s != nil {
						s.count++
					}
					ft.Params = append(ft.Params, vt)
				}
			}
			if err := p.close(); err != nil {
				return ft, err
			}

		case "result":
			p.next()
			p.next()
			for !p.atClose() {
				vt, err := p.parseValType()
				if err != nil {
					return ft, err
				}
				ft.Results = append(ft.Results, vt)
			}
			if err := p.close(); err != nil {
				return ft, err
			}

		default:
			return ft, nil
		}
	}
}

func (p *Parser) parseValType() (wasm.ValType, error) {
	t, err := p.expect(token.Ident)
	if err != nil {
		return 0, err
	}
	switch t.Value {
	case "i32":
		return wasm.ValI32, nil
	case "i64":
		return wasm.ValI64, nil
	case "f32":
		return wasm.ValF32, nil
	case "f64":
		return wasm.ValF64, nil
	case "funcref":
		return wasm.ValFuncRef, nil
	case "externref":
		return wasm.ValExtern, nil
	}
	return 0, fmt.Errorf("line %d: unknown value type: %s", t.Line, t.Value)
}

func (p *Parser) parseIdx(names map[string]uint32, what string) (uint32, error) {
	t := p.peek()
	if t == nil {
		return 0, errEOF
	}
	if isName(t) {
		p.next()
		idx, ok := names[t.Value]
		if !ok {
			return 0, fmt.Errorf("line %d: unknown %s %s", t.Line, what, t.Value)
		}
		return idx, nil
	}
	return p.parseU32()
}

func (p *Parser) parseString() (string, error) {
	t, err := p.expect(token.String)
	if err != nil {
		return "", err
	}
	return string(decodeString(t.Value)), nil
}

func (p *Parser) peek() *token.Token {
	if p.pos >= len(p.tokens) {
		return nil
	}
	return &p.tokens[p.pos]
}

func (p *Parser) next() *token.Token {
	if p.pos >= len(p.tokens) {
		return nil
	}
	t := &p.tokens[p.pos]
	p.pos++
	return t
}

// peekKeyword returns kw when the next tokens are "(" kw, else "".
func (p *Parser) peekKeyword() string {
	if p.pos+1 >= len(p.tokens) {
		return ""
	}
	if p.tokens[p.pos].Type != token.LParen || p.tokens[p.pos+1].Type != token.Ident {
		return ""
	}
	return p.tokens[p.pos+1].Value
}

func (p *Parser) atClose() bool {
	t := p.peek()
	return t == nil || t.Type == token.RParen
}

func (p *Parser) expect(typ token.Type) (*token.Token, error) {
	t := p.next()
	if t == nil {
		return nil, errEOF
	}
	if t.Type != typ {
		return nil, fmt.Errorf("line %d: expected %v, got %q", t.Line, typ, t.Value)
	}
	return t, nil
}

// open consumes "(" keyword.
func (p *Parser) open(keyword string) error {
	if _, err := p.expect(token.LParen); err != nil {
		return err
	}
	t, err := p.expect(token.Ident)
	if err != nil {
		return err
	}
	if t.Value != keyword {
		return fmt.Errorf("line %d: expected '%s', got %q", t.Line, keyword, t.Value)
	}
	return nil
}

func (p *Parser) close() error {
	_, err := p.expect(token.RParen)
	return err
}

func (p *Parser) nameAt(i int) string {
	if i < len(p.tokens) && isName(&p.tokens[i]) {
		return p.tokens[i].Value
	}
	return ""
}

func isName(t *token.Token) bool {
	return t.Type == token.Ident && strings.HasPrefix(t.Value, "$")
}
