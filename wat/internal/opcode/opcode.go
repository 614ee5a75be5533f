package opcode

import "github.com/wippyai/wasi-bootstrap/wasm"

// Imm is the immediate operand layout of an instruction.
type Imm int

const (
	ImmNone   Imm = iota
	ImmLocal      // local.get, local.set, local.tee
	ImmGlobal     // global.get, global.set
	ImmFunc       // call
	ImmLabel      // br, br_if
	ImmI32        // i32.const
	ImmI64        // i64.const
	ImmF32        // f32.const
	ImmF64        // f64.const
	ImmMemarg     // loads and stores: offset= align=
	ImmMemIdx     // memory.size, memory.grow
	ImmAtomic     // threads memory accesses: offset= align=
	ImmFence      // atomic.fence
)

// Info describes one plain (non-block) instruction.
type Info struct {
	Opcode byte
	Imm    Imm
	Sub    uint32 // sub-opcode after the atomic prefix
	Align  uint32 // natural alignment exponent for memory accesses
}

// Lookup returns the encoding of a plain instruction.
func Lookup(name string) (Info, bool) {
	info, ok := table[name]
	return info, ok
}

// Block opcodes open a structured instruction closed by end.
var Block = map[string]byte{
	"block": wasm.OpBlock,
	"loop":  wasm.OpLoop,
	"if":    wasm.OpIf,
}

var table = map[string]Info{
	// Control
	"unreachable": {Opcode: wasm.OpUnreachable},
	"nop":         {Opcode: wasm.OpNop},
	"return":      {Opcode: wasm.OpReturn},
	"drop":        {Opcode: wasm.OpDrop},
	"select":      {Opcode: wasm.OpSelect},
	"br":          {Opcode: wasm.OpBr, Imm: ImmLabel},
	"br_if":       {Opcode: wasm.OpBrIf, Imm: ImmLabel},
	"call":        {Opcode: wasm.OpCall, Imm: ImmFunc},

	// Variables
	"local.get":  {Opcode: wasm.OpLocalGet, Imm: ImmLocal},
	"local.set":  {Opcode: wasm.OpLocalSet, Imm: ImmLocal},
	"local.tee":  {Opcode: wasm.OpLocalTee, Imm: ImmLocal},
	"global.get": {Opcode: wasm.OpGlobalGet, Imm: ImmGlobal},
	"global.set": {Opcode: wasm.OpGlobalSet, Imm: ImmGlobal},

	// Constants
	"i32.const": {Opcode: wasm.OpI32Const, Imm: ImmI32},
	"i64.const": {Opcode: wasm.OpI64Const, Imm: ImmI64},
	"f32.const": {Opcode: wasm.OpF32Const, Imm: ImmF32},
	"f64.const": {Opcode: wasm.OpF64Const, Imm: ImmF64},

	// Memory
	"i32.load":     {Opcode: 0x28, Imm: ImmMemarg, Align: 2},
	"i64.load":     {Opcode: 0x29, Imm: ImmMemarg, Align: 3},
	"f32.load":     {Opcode: 0x2A, Imm: ImmMemarg, Align: 2},
	"f64.load":     {Opcode: 0x2B, Imm: ImmMemarg, Align: 3},
	"i32.load8_s":  {Opcode: 0x2C, Imm: ImmMemarg, Align: 0},
	"i32.load8_u":  {Opcode: 0x2D, Imm: ImmMemarg, Align: 0},
	"i32.load16_s": {Opcode: 0x2E, Imm: ImmMemarg, Align: 1},
	"i32.load16_u": {Opcode: 0x2F, Imm: ImmMemarg, Align: 1},
	"i32.store":    {Opcode: 0x36, Imm: ImmMemarg, Align: 2},
	"i64.store":    {Opcode: 0x37, Imm: ImmMemarg, Align: 3},
	"f32.store":    {Opcode: 0x38, Imm: ImmMemarg, Align: 2},
	"f64.store":    {Opcode: 0x39, Imm: ImmMemarg, Align: 3},
	"i32.store8":   {Opcode: 0x3A, Imm: ImmMemarg, Align: 0},
	"i32.store16":  {Opcode: 0x3B, Imm: ImmMemarg, Align: 1},
	"memory.size":  {Opcode: wasm.OpMemorySize, Imm: ImmMemIdx},
	"memory.grow":  {Opcode: wasm.OpMemoryGrow, Imm: ImmMemIdx},

	// i32 comparison
	"i32.eqz":  {Opcode: 0x45},
	"i32.eq":   {Opcode: 0x46},
	"i32.ne":   {Opcode: 0x47},
	"i32.lt_s": {Opcode: 0x48},
	"i32.lt_u": {Opcode: 0x49},
	"i32.gt_s": {Opcode: 0x4A},
	"i32.gt_u": {Opcode: 0x4B},
	"i32.le_s": {Opcode: 0x4C},
	"i32.le_u": {Opcode: 0x4D},
	"i32.ge_s": {Opcode: 0x4E},
	"i32.ge_u": {Opcode: 0x4F},

	// i64 comparison
	"i64.eqz": {Opcode: 0x50},
	"i64.eq":  {Opcode: 0x51},
	"i64.ne":  {Opcode: 0x52},

	// f64 comparison
	"f64.eq": {Opcode: 0x61},
	"f64.ne": {Opcode: 0x62},
	"f64.lt": {Opcode: 0x63},
	"f64.gt": {Opcode: 0x64},
	"f64.le": {Opcode: 0x65},
	"f64.ge": {Opcode: 0x66},

	// i32 arithmetic
	"i32.add":   {Opcode: wasm.OpI32Add},
	"i32.sub":   {Opcode: wasm.OpI32Sub},
	"i32.mul":   {Opcode: wasm.OpI32Mul},
	"i32.div_s": {Opcode: wasm.OpI32DivS},
	"i32.div_u": {Opcode: 0x6E},
	"i32.rem_s": {Opcode: 0x6F},
	"i32.rem_u": {Opcode: 0x70},
	"i32.and":   {Opcode: 0x71},
	"i32.or":    {Opcode: 0x72},
	"i32.xor":   {Opcode: 0x73},
	"i32.shl":   {Opcode: 0x74},
	"i32.shr_s": {Opcode: 0x75},
	"i32.shr_u": {Opcode: 0x76},

	// i64 arithmetic
	"i64.add": {Opcode: wasm.OpI64Add},
	"i64.sub": {Opcode: wasm.OpI64Sub},
	"i64.mul": {Opcode: wasm.OpI64Mul},

	// f64 arithmetic
	"f64.abs":  {Opcode: 0x99},
	"f64.neg":  {Opcode: 0x9A},
	"f64.sqrt": {Opcode: 0x9F},
	"f64.add":  {Opcode: 0xA0},
	"f64.sub":  {Opcode: 0xA1},
	"f64.mul":  {Opcode: 0xA2},
	"f64.div":  {Opcode: 0xA3},

	// Conversions
	"i32.wrap_i64":      {Opcode: 0xA7},
	"i32.trunc_f64_s":   {Opcode: 0xAA},
	"i64.extend_i32_s":  {Opcode: 0xAC},
	"i64.extend_i32_u":  {Opcode: 0xAD},
	"f64.convert_i32_s": {Opcode: 0xB7},
	"f64.convert_i32_u": {Opcode: 0xB8},

	// Threads
	"memory.atomic.notify":   {Opcode: wasm.OpPrefixAtom, Imm: ImmAtomic, Sub: wasm.AtomicNotify, Align: 2},
	"memory.atomic.wait32":   {Opcode: wasm.OpPrefixAtom, Imm: ImmAtomic, Sub: wasm.AtomicWait32, Align: 2},
	"atomic.fence":           {Opcode: wasm.OpPrefixAtom, Imm: ImmFence},
	"i32.atomic.load":        {Opcode: wasm.OpPrefixAtom, Imm: ImmAtomic, Sub: wasm.AtomicI32Load, Align: 2},
	"i64.atomic.load":        {Opcode: wasm.OpPrefixAtom, Imm: ImmAtomic, Sub: wasm.AtomicI64Load, Align: 3},
	"i32.atomic.store":       {Opcode: wasm.OpPrefixAtom, Imm: ImmAtomic, Sub: wasm.AtomicI32Store, Align: 2},
	"i64.atomic.store":       {Opcode: wasm.OpPrefixAtom, Imm: ImmAtomic, Sub: wasm.AtomicI64Store, Align: 3},
	"i32.atomic.rmw.add":     {Opcode: wasm.OpPrefixAtom, Imm: ImmAtomic, Sub: wasm.AtomicI32Add, Align: 2},
	"i32.atomic.rmw.sub":     {Opcode: wasm.OpPrefixAtom, Imm: ImmAtomic, Sub: wasm.AtomicI32Sub, Align: 2},
	"i32.atomic.rmw.xchg":    {Opcode: wasm.OpPrefixAtom, Imm: ImmAtomic, Sub: wasm.AtomicI32Xchg, Align: 2},
	"i32.atomic.rmw.cmpxchg": {Opcode: wasm.OpPrefixAtom, Imm: ImmAtomic, Sub: wasm.AtomicI32Cmpxchg, Align: 2},
}
