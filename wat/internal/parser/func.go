package parser

import (
	"errors"
	"fmt"
	"math"
	"math/bits"
	"strconv"
	"strings"

	"github.com/wippyai/wasi-bootstrap/wasm"
	"github.com/wippyai/wasi-bootstrap/wat/internal/opcode"
	"github.com/wippyai/wasi-bootstrap/wat/internal/token"
)

var errEOF = errors.New("unexpected end of input")

// scope tracks local names and open block labels of one function body.
type scope struct {
	names  map[string]uint32
	code   *wasm.Code
	labels []string
	count  uint32
}

func newScope() *scope {
	return &scope{names: make(map[string]uint32), code: wasm.NewCode()}
}

func (s *scope) bind(name string) error {
	if _, dup := s.names[name]; dup {
		return fmt.Errorf("duplicate local %s", name)
	}
	s.names[name] = s.count
	s.count++
	return nil
}

// instr is a plain instruction with its decoded immediates.
type instr struct {
	info   opcode.Info
	i64    int64
	f64    float64
	idx    uint32
	align  uint32
	offset uint32
}

// (func $name? (export "name")* typeuse (local ...)* instr*)
func (p *Parser) parseFunc() error {
	if err := p.open("func"); err != nil {
		return err
	}
	if t := p.peek(); t != nil && isName(t) {
		p.next()
	}
	idx := p.importCount(wasm.KindFunc) + uint32(len(p.mod.Funcs))
	if err := p.parseInlineExports(wasm.KindFunc, idx); err != nil {
		return err
	}
	if err := p.rejectInlineImport(); err != nil {
		return err
	}

	s := newScope()
	typeIdx, _, err := p.parseTypeUse(s)
	if err != nil {
		return err
	}

	var locals []wasm.LocalEntry
	for p.peekKeyword() == "local" {
		p.next()
		p.next()
		if t := p.peek(); t != nil && isName(t) {
			p.next()
			vt, err := p.parseValType()
			if err != nil {
				return err
			}
			if err := s.bind(t.Value); err != nil {
				return fmt.Errorf("line %d: %w", t.Line, err)
			}
			locals = addLocal(locals, vt)
		} else {
			for !p.atClose() {
				vt, err := p.parseValType()
				if err != nil {
					return err
				}
				s.count++
				locals = addLocal(locals, vt)
			}
		}
		if err := p.close(); err != nil {
			return err
		}
	}

	if err := p.parseInstrs(s); err != nil {
		return err
	}
	if len(s.labels) != 0 {
		return fmt.Errorf("line %d: unclosed block in function %d", p.peek().Line, idx)
	}
	s.code.End()
	if err := p.close(); err != nil {
		return err
	}

	p.mod.Funcs = append(p.mod.Funcs, typeIdx)
	p.mod.Code = append(p.mod.Code, s.code.Body(locals...))
	return nil
}

func addLocal(locals []wasm.LocalEntry, vt wasm.ValType) []wasm.LocalEntry {
	if n := len(locals); n > 0 && locals[n-1].ValType == vt {
		locals[n-1].Count++
		return locals
	}
	return append(locals, wasm.LocalEntry{Count: 1, ValType: vt})
}

// parseInstrs reads instructions up to the closing paren of the
// enclosing form, which is left unconsumed.
func (p *Parser) parseInstrs(s *scope) error {
	for {
		t := p.peek()
		if t == nil {
			return errEOF
		}
		switch t.Type {
		case token.RParen:
			return nil
		case token.LParen:
			if err := p.parseFolded(s); err != nil {
				return err
			}
		case token.Ident:
			if err := p.parsePlain(s); err != nil {
				return err
			}
		default:
			return fmt.Errorf("line %d: unexpected %v %q in function body", t.Line, t.Type, t.Value)
		}
	}
}

func (p *Parser) parsePlain(s *scope) error {
	t := p.next()
	switch t.Value {
	case "block", "loop", "if":
		label, result, err := p.parseBlockHeader()
		if err != nil {
			return err
		}
		s.labels = append(s.labels, label)
		s.code.Block(opcode.Block[t.Value], result)
		return nil

	case "else":
		if len(s.labels) == 0 {
			return fmt.Errorf("line %d: else outside of if", t.Line)
		}
		p.skipLabel()
		s.code.Op(wasm.OpElse)
		return nil

	case "end":
		if len(s.labels) == 0 {
			return fmt.Errorf("line %d: end without block", t.Line)
		}
		p.skipLabel()
		s.labels = s.labels[:len(s.labels)-1]
		s.code.End()
		return nil
	}

	in, err := p.parseImmediates(t, s)
	if err != nil {
		return err
	}
	emit(s.code, in)
	return nil
}

// parseFolded reads one s-expression instruction. Operands nested in a
// plain instruction are emitted before it.
func (p *Parser) parseFolded(s *scope) error {
	p.next()
	t, err := p.expect(token.Ident)
	if err != nil {
		return err
	}

	switch t.Value {
	case "block", "loop":
		label, result, err := p.parseBlockHeader()
		if err != nil {
			return err
		}
		s.code.Block(opcode.Block[t.Value], result)
		s.labels = append(s.labels, label)
		if err := p.parseInstrs(s); err != nil {
			return err
		}
		s.labels = s.labels[:len(s.labels)-1]
		s.code.End()
		return p.close()

	case "if":
		label, result, err := p.parseBlockHeader()
		if err != nil {
			return err
		}
		for p.peekKeyword() != "then" {
			if n := p.peek(); n == nil || n.Type != token.LParen {
				return fmt.Errorf("line %d: expected (then ...) in if", t.Line)
			}
			if err := p.parseFolded(s); err != nil {
				return err
			}
		}
		s.code.Block(wasm.OpIf, result)
		s.labels = append(s.labels, label)

		p.next()
		p.next()
		if err := p.parseInstrs(s); err != nil {
			return err
		}
		if err := p.close(); err != nil {
			return err
		}
		if p.peekKeyword() == "else" {
			p.next()
			p.next()
			s.code.Op(wasm.OpElse)
			if err := p.parseInstrs(s); err != nil {
				return err
			}
			if err := p.close(); err != nil {
				return err
			}
		}
		s.labels = s.labels[:len(s.labels)-1]
		s.code.End()
		return p.close()
	}

	in, err := p.parseImmediates(t, s)
	if err != nil {
		return err
	}
	for {
		n := p.peek()
		if n == nil {
			return errEOF
		}
		if n.Type != token.LParen {
			break
		}
		if err := p.parseFolded(s); err != nil {
			return err
		}
	}
	if err := p.close(); err != nil {
		return err
	}
	emit(s.code, in)
	return nil
}

// parseBlockHeader reads "$label? (result t)?".
func (p *Parser) parseBlockHeader() (string, *wasm.ValType, error) {
	var label string
	if t := p.peek(); t != nil && isName(t) {
		label = t.Value
		p.next()
	}

	switch p.peekKeyword() {
	case "param":
		return "", nil, fmt.Errorf("line %d: block parameters are not supported", p.peek().Line)
	case "result":
		p.next()
		p.next()
		vt, err := p.parseValType()
		if err != nil {
			return "", nil, err
		}
		if !p.atClose() {
			return "", nil, fmt.Errorf("line %d: multi-value block results are not supported", p.peek().Line)
		}
		if err := p.close(); err != nil {
			return "", nil, err
		}
		return label, &vt, nil
	}
	return label, nil, nil
}

// skipLabel drops the optional repeated label after else and end.
func (p *Parser) skipLabel() {
	if t := p.peek(); t != nil && isName(t) {
		p.next()
	}
}

func (p *Parser) parseImmediates(t *token.Token, s *scope) (instr, error) {
	info, ok := opcode.Lookup(t.Value)
	if !ok {
		return instr{}, fmt.Errorf("line %d: unknown instruction %q", t.Line, t.Value)
	}
	in := instr{info: info}

	var err error
	switch info.Imm {
	case opcode.ImmLocal:
		in.idx, err = p.parseIdx(s.names, "local")
	case opcode.ImmGlobal:
		in.idx, err = p.parseIdx(p.globalMap, "global")
	case opcode.ImmFunc:
		in.idx, err = p.parseIdx(p.funcMap, "function")
	case opcode.ImmLabel:
		in.idx, err = p.parseLabel(s)
	case opcode.ImmI32:
		in.i64, err = p.parseInt(32)
	case opcode.ImmI64:
		in.i64, err = p.parseInt(64)
	case opcode.ImmF32:
		in.f64, err = p.parseFloat(32)
	case opcode.ImmF64:
		in.f64, err = p.parseFloat(64)
	case opcode.ImmMemarg, opcode.ImmAtomic:
		in.align, in.offset, err = p.parseMemarg(info.Align)
	case opcode.ImmMemIdx:
		if n := p.peek(); n != nil && (n.Type == token.Number || isName(n)) {
			in.idx, err = p.parseIdx(p.memMap, "memory")
		}
	}
	return in, err
}

func emit(c *wasm.Code, in instr) {
	switch in.info.Imm {
	case opcode.ImmNone:
		c.Op(in.info.Opcode)
	case opcode.ImmLocal, opcode.ImmGlobal, opcode.ImmFunc, opcode.ImmLabel, opcode.ImmMemIdx:
		c.Index(in.info.Opcode, in.idx)
	case opcode.ImmI32:
		c.I32Const(int32(in.i64))
	case opcode.ImmI64:
		c.I64Const(in.i64)
	case opcode.ImmF32:
		c.F32Const(float32(in.f64))
	case opcode.ImmF64:
		c.F64Const(in.f64)
	case opcode.ImmMemarg:
		c.MemArg(in.info.Opcode, in.align, in.offset)
	case opcode.ImmAtomic:
		c.Atomic(in.info.Sub, in.align, in.offset)
	case opcode.ImmFence:
		c.AtomicFence()
	}
}

// parseLabel resolves a $label to its relative depth.
func (p *Parser) parseLabel(s *scope) (uint32, error) {
	t := p.peek()
	if t == nil {
		return 0, errEOF
	}
	if !isName(t) {
		return p.parseU32()
	}
	p.next()
	for i := len(s.labels) - 1; i >= 0; i-- {
		if s.labels[i] == t.Value {
			return uint32(len(s.labels) - 1 - i), nil
		}
	}
	return 0, fmt.Errorf("line %d: unknown label %s", t.Line, t.Value)
}

// parseMemarg reads "offset=N? align=N?". Align is given in bytes and
// encoded as its log2.
func (p *Parser) parseMemarg(natural uint32) (align, offset uint32, err error) {
	align = natural
	for {
		t := p.peek()
		if t == nil || t.Type != token.Ident {
			return align, offset, nil
		}
		key, val, ok := strings.Cut(t.Value, "=")
		if !ok || (key != "offset" && key != "align") {
			return align, offset, nil
		}
		p.next()

		n, perr := strconv.ParseUint(strings.ReplaceAll(val, "_", ""), 0, 32)
		if perr != nil {
			return 0, 0, fmt.Errorf("line %d: invalid %s: %s", t.Line, key, val)
		}
		if key == "offset" {
			offset = uint32(n)
			continue
		}
		if n == 0 || n&(n-1) != 0 {
			return 0, 0, fmt.Errorf("line %d: alignment must be a power of two: %d", t.Line, n)
		}
		align = uint32(bits.TrailingZeros64(n))
	}
}

func (p *Parser) parseU32() (uint32, error) {
	t, err := p.expect(token.Number)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseUint(strings.ReplaceAll(t.Value, "_", ""), 0, 32)
	if err != nil {
		return 0, fmt.Errorf("line %d: invalid index or size: %s", t.Line, t.Value)
	}
	return uint32(n), nil
}

// parseInt accepts signed and unsigned spellings; values above the signed
// range wrap, so i32.const 0xFFFFFFFF is -1.
func (p *Parser) parseInt(size int) (int64, error) {
	t, err := p.expect(token.Number)
	if err != nil {
		return 0, err
	}
	s := strings.ReplaceAll(t.Value, "_", "")

	v, err := strconv.ParseInt(s, 0, 64)
	if err != nil {
		u, uerr := strconv.ParseUint(strings.TrimPrefix(s, "+"), 0, 64)
		if uerr != nil {
			return 0, fmt.Errorf("line %d: invalid i%d constant: %s", t.Line, size, t.Value)
		}
		v = int64(u)
		if size == 32 && u > math.MaxUint32 {
			return 0, fmt.Errorf("line %d: i32 constant out of range: %s", t.Line, t.Value)
		}
		return v, nil
	}

	if size == 32 {
		if v < math.MinInt32 || v > math.MaxUint32 {
			return 0, fmt.Errorf("line %d: i32 constant out of range: %s", t.Line, t.Value)
		}
		v = int64(int32(v))
	}
	return v, nil
}

func (p *Parser) parseFloat(size int) (float64, error) {
	t := p.next()
	if t == nil {
		return 0, errEOF
	}
	if t.Type != token.Number && t.Type != token.Ident {
		return 0, fmt.Errorf("line %d: expected f%d constant, got %q", t.Line, size, t.Value)
	}

	s := strings.ReplaceAll(t.Value, "_", "")
	body := strings.TrimLeft(s, "+-")
	sign := 1.0
	if strings.HasPrefix(s, "-") {
		sign = -1
	}
	switch {
	case strings.HasPrefix(body, "nan"):
		return math.Copysign(math.NaN(), sign), nil
	case body == "inf":
		return math.Inf(int(sign)), nil
	}

	if lower := strings.ToLower(body); strings.HasPrefix(lower, "0x") && !strings.Contains(lower, "p") {
		s += "p0"
	}
	v, err := strconv.ParseFloat(s, size)
	if err != nil {
		return 0, fmt.Errorf("line %d: invalid f%d constant: %s", t.Line, size, t.Value)
	}
	return v, nil
}

// decodeString resolves WAT string escapes: \n \t \r \\ \" \' \hh and
// \u{...}.
func decodeString(raw string) []byte {
	out := make([]byte, 0, len(raw))
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if c != '\\' || i+1 >= len(raw) {
			out = append(out, c)
			continue
		}
		i++
		switch raw[i] {
		case 'n':
			out = append(out, '\n')
		case 't':
			out = append(out, '\t')
		case 'r':
			out = append(out, '\r')
		case '\\', '"', '\'':
			out = append(out, raw[i])
		case 'u':
			if i+1 < len(raw) && raw[i+1] == '{' {
				if end := strings.IndexByte(raw[i:], '}'); end > 0 {
					if r, err := strconv.ParseUint(raw[i+2:i+end], 16, 32); err == nil {
						out = append(out, string(rune(r))...)
						i += end
						continue
					}
				}
			}
			out = append(out, '\\', 'u')
		default:
			if i+1 < len(raw) {
				if b, err := strconv.ParseUint(raw[i:i+2], 16, 8); err == nil {
					out = append(out, byte(b))
					i++
					continue
				}
			}
			out = append(out, '\\', raw[i])
		}
	}
	return out
}
