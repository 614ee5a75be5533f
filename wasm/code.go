package wasm

import (
	"github.com/wippyai/wasi-bootstrap/wasm/internal/binary"
)

// BlockEmpty is the block type of a block that yields no value.
const BlockEmpty byte = 0x40

// Code assembles a function body instruction by instruction. It is the
// back end of the wat compiler.
// Every method returns the receiver so calls can be chained:
//
//	body := wasm.NewCode().Index(wasm.OpLocalGet, 0).Index(wasm.OpCall, 0).End().Body()
type Code struct {
	w *binary.Writer
}

// NewCode creates an empty instruction sequence.
func NewCode() *Code {
	return &Code{w: binary.NewWriter()}
}

// Op emits an opcode without immediates.
func (c *Code) Op(op byte) *Code {
	c.w.Byte(op)
	return c
}

// Index emits an opcode followed by one u32 immediate: local, global,
// function, label depth or memory index.
func (c *Code) Index(op byte, idx uint32) *Code {
	c.w.Byte(op)
	c.w.WriteU32(idx)
	return c
}

// I32Const emits i32.const v.
func (c *Code) I32Const(v int32) *Code {
	c.w.Byte(OpI32Const)
	c.w.WriteS64(int64(v))
	return c
}

// I64Const emits i64.const v.
func (c *Code) I64Const(v int64) *Code {
	c.w.Byte(OpI64Const)
	c.w.WriteS64(v)
	return c
}

// F32Const emits f32.const v.
func (c *Code) F32Const(v float32) *Code {
	c.w.Byte(OpF32Const)
	c.w.WriteF32(v)
	return c
}

// F64Const emits f64.const v.
func (c *Code) F64Const(v float64) *Code {
	c.w.Byte(OpF64Const)
	c.w.WriteF64(v)
	return c
}

// Block opens block, loop or if. A nil result emits the empty block type.
func (c *Code) Block(op byte, result *ValType) *Code {
	c.w.Byte(op)
	if result == nil {
		c.w.Byte(BlockEmpty)
	} else {
		c.w.Byte(byte(*result))
	}
	return c
}

// MemArg emits a load or store with its alignment exponent and offset.
func (c *Code) MemArg(op byte, align, offset uint32) *Code {
	c.w.Byte(op)
	c.w.WriteU32(align)
	c.w.WriteU32(offset)
	return c
}

// Atomic emits a threads proposal memory access. Requires shared memory
// at runtime.
func (c *Code) Atomic(sub, align, offset uint32) *Code {
	c.w.Byte(OpPrefixAtom)
	c.w.WriteU32(sub)
	c.w.WriteU32(align)
	c.w.WriteU32(offset)
	return c
}

// AtomicFence emits atomic.fence.
func (c *Code) AtomicFence() *Code {
	c.w.Byte(OpPrefixAtom)
	c.w.WriteU32(AtomicFence)
	c.w.Byte(0)
	return c
}

// End emits end.
func (c *Code) End() *Code {
	return c.Op(OpEnd)
}

// Len returns the number of bytes emitted so far.
func (c *Code) Len() int {
	return c.w.Len()
}

// Bytes returns the encoded instructions.
func (c *Code) Bytes() []byte {
	return c.w.Bytes()
}

// Body wraps the instructions into a FuncBody with the given locals.
func (c *Code) Body(locals ...LocalEntry) FuncBody {
	code := make([]byte, c.w.Len())
	copy(code, c.w.Bytes())
	return FuncBody{Locals: locals, Code: code}
}
