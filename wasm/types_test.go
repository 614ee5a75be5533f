package wasm_test

import (
	"bytes"
	"testing"

	"github.com/wippyai/wasi-bootstrap/wasm"
)

func TestFuncTypeString(t *testing.T) {
	tests := []struct {
		ft   wasm.FuncType
		want string
	}{
		{wasm.FuncType{}, "() -> ()"},
		{wasm.FuncType{Params: []wasm.ValType{wasm.ValF64}, Results: []wasm.ValType{wasm.ValF64}}, "(f64) -> f64"},
		{wasm.FuncType{Params: []wasm.ValType{wasm.ValI32, wasm.ValI32}}, "(i32, i32) -> ()"},
		{wasm.FuncType{Results: []wasm.ValType{wasm.ValI32, wasm.ValI64}}, "() -> (i32, i64)"},
	}
	for _, tt := range tests {
		if got := tt.ft.String(); got != tt.want {
			t.Errorf("String: got %q, want %q", got, tt.want)
		}
	}
}

func TestFuncTypeEqual(t *testing.T) {
	a := wasm.FuncType{Params: []wasm.ValType{wasm.ValF64}, Results: []wasm.ValType{wasm.ValF64}}
	b := wasm.FuncType{Params: []wasm.ValType{wasm.ValF64}, Results: []wasm.ValType{wasm.ValF64}}
	c := wasm.FuncType{Params: []wasm.ValType{wasm.ValF32}, Results: []wasm.ValType{wasm.ValF64}}
	if !a.Equal(b) {
		t.Error("expected equal")
	}
	if a.Equal(c) {
		t.Error("expected not equal")
	}
}

func TestAddTypeDeduplicates(t *testing.T) {
	m := &wasm.Module{}
	f64 := wasm.FuncType{Params: []wasm.ValType{wasm.ValF64}, Results: []wasm.ValType{wasm.ValF64}}
	i32 := wasm.FuncType{Params: []wasm.ValType{wasm.ValI32}, Results: []wasm.ValType{wasm.ValI32}}

	if idx := m.AddType(f64); idx != 0 {
		t.Errorf("first AddType: got %d", idx)
	}
	if idx := m.AddType(i32); idx != 1 {
		t.Errorf("second AddType: got %d", idx)
	}
	if idx := m.AddType(f64); idx != 0 {
		t.Errorf("duplicate AddType: got %d", idx)
	}
	if len(m.Types) != 2 {
		t.Errorf("expected 2 types, got %d", len(m.Types))
	}
}

func TestFuncTypeOfImportedAndDeclared(t *testing.T) {
	m := &wasm.Module{
		Types: []wasm.FuncType{
			{Params: []wasm.ValType{wasm.ValF64}, Results: []wasm.ValType{wasm.ValF64}},
			{},
		},
		Imports: []wasm.Import{
			{Module: "env", Name: "memory", Desc: wasm.ImportDesc{Kind: wasm.KindMemory, Memory: &wasm.MemoryType{}}},
			{Module: "env", Name: "Math_acos", Desc: wasm.ImportDesc{Kind: wasm.KindFunc, TypeIdx: 0}},
		},
		Funcs: []uint32{1},
	}

	if m.NumImportedFuncs() != 1 {
		t.Fatalf("NumImportedFuncs: got %d", m.NumImportedFuncs())
	}
	if ft, ok := m.FuncTypeOf(0); !ok || ft.String() != "(f64) -> f64" {
		t.Errorf("FuncTypeOf(0): got %v", ft)
	}
	if ft, ok := m.FuncTypeOf(1); !ok || ft.String() != "() -> ()" {
		t.Errorf("FuncTypeOf(1): got %v", ft)
	}
	if _, ok := m.FuncTypeOf(2); ok {
		t.Error("FuncTypeOf(2): expected out of range")
	}
}

func TestKindName(t *testing.T) {
	if wasm.KindName(wasm.KindMemory) != "memory" || wasm.KindName(9) != "unknown" {
		t.Error("unexpected KindName")
	}
}

func TestCodeBuilder(t *testing.T) {
	i32 := wasm.ValI32
	got := wasm.NewCode().
		I32Const(0).
		I32Const(7).
		Atomic(wasm.AtomicI32Store, 2, 0).
		Index(wasm.OpMemorySize, 0).
		Op(wasm.OpDrop).
		Block(wasm.OpBlock, &i32).
		I64Const(-1).
		Op(wasm.OpDrop).
		F32Const(1).
		Op(wasm.OpDrop).
		MemArg(wasm.OpI32Load, 2, 16).
		End().
		End().
		Bytes()
	want := []byte{
		0x41, 0x00,
		0x41, 0x07,
		0xFE, 0x17, 0x02, 0x00,
		0x3F, 0x00,
		0x1A,
		0x02, 0x7F,
		0x42, 0x7F,
		0x1A,
		0x43, 0x00, 0x00, 0x80, 0x3F,
		0x1A,
		0x28, 0x02, 0x10,
		0x0B,
		0x0B,
	}
	if !bytes.Equal(got, want) {
		t.Errorf("Code: got % x, want % x", got, want)
	}
}

func TestCodeBuilder_EmptyBlock(t *testing.T) {
	got := wasm.NewCode().Block(wasm.OpLoop, nil).End().AtomicFence().Bytes()
	want := []byte{0x03, 0x40, 0x0B, 0xFE, 0x03, 0x00}
	if !bytes.Equal(got, want) {
		t.Errorf("Code: got % x, want % x", got, want)
	}
}

func TestEncodeSharedMemoryExport(t *testing.T) {
	m := &wasm.Module{
		Memories: []wasm.MemoryType{{Limits: wasm.Limits{Min: 1, Max: ptrTo(uint64(2)), Shared: true}}},
		Exports:  []wasm.Export{{Name: "memory", Kind: wasm.KindMemory}},
	}
	want := []byte{
		0x00, 0x61, 0x73, 0x6D, 0x01, 0x00, 0x00, 0x00,
		0x05, 0x04, 0x01, 0x03, 0x01, 0x02,
		0x07, 0x0A, 0x01, 0x06, 'm', 'e', 'm', 'o', 'r', 'y', 0x02, 0x00,
	}
	if got := m.Encode(); !bytes.Equal(got, want) {
		t.Errorf("Encode: got % x, want % x", got, want)
	}
}
