package engine

import (
	"context"
	"math"
	"slices"
	"strings"
	"testing"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	wasiboot "github.com/wippyai/wasi-bootstrap"
	"github.com/wippyai/wasi-bootstrap/wasm"
	"github.com/wippyai/wasi-bootstrap/wat"
)

var f64 = []api.ValueType{api.ValueTypeF64}

func acosFunc() HostFunc {
	return HostFunc{
		Name:    "Math_acos",
		Params:  f64,
		Results: f64,
		Handler: api.GoModuleFunc(func(_ context.Context, _ api.Module, stack []uint64) {
			stack[0] = api.EncodeF64(math.Acos(api.DecodeF64(stack[0])))
		}),
	}
}

func newEngine(t *testing.T) *WazeroEngine {
	t.Helper()
	ctx := context.Background()
	e, err := NewWazeroEngine(ctx)
	if err != nil {
		t.Fatalf("NewWazeroEngine failed: %v", err)
	}
	t.Cleanup(func() { e.Close(ctx) })
	return e
}

func TestNewWazeroEngineWithConfig(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		cfg  *Config
		name string
	}{
		{nil, "nil config"},
		{&Config{}, "default config"},
		{&Config{MemoryLimitPages: 256}, "16MB limit"},
		{&Config{EnableThreads: true}, "threads"},
		{&Config{Cache: wazero.NewCompilationCache()}, "shared cache"},
		{&Config{CompilationCacheDir: t.TempDir()}, "cache dir"},
		{&Config{CloseOnContextDone: true}, "close on done"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			engine, err := NewWazeroEngineWithConfig(ctx, tc.cfg)
			if err != nil {
				t.Fatalf("NewWazeroEngineWithConfig failed: %v", err)
			}
			if engine.Runtime() == nil {
				t.Error("engine runtime should not be nil")
			}
			if err := engine.Close(ctx); err != nil {
				t.Errorf("Close failed: %v", err)
			}
		})
	}
}

func TestCompileInvalid(t *testing.T) {
	e := newEngine(t)
	if _, err := e.Compile(context.Background(), []byte("not wasm")); err == nil {
		t.Error("expected compile error")
	}
}

func TestInitWASI_Idempotent(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := e.InitWASI(ctx); err != nil {
			t.Fatalf("InitWASI #%d: %v", i, err)
		}
	}
	if e.Module(WASIModuleName) == nil {
		t.Fatal("wasi module not registered")
	}
	names := e.WASIFunctions()
	for _, want := range []string{"args_get", "environ_get", "proc_exit", "fd_write", "clock_time_get", "random_get"} {
		if !slices.Contains(names, want) {
			t.Errorf("missing WASI export %s", want)
		}
	}
}

// guest compiles WAT source and instantiates it without start functions.
func guest(t *testing.T, e *WazeroEngine, name, source string) api.Module {
	t.Helper()
	ctx := context.Background()
	bin, err := wat.Compile(source)
	if err != nil {
		t.Fatalf("wat.Compile: %v", err)
	}
	compiled, err := e.Compile(ctx, bin)
	if err != nil {
		t.Fatalf("compile %s: %v", name, err)
	}
	mod, err := e.Runtime().InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName(name).WithStartFunctions())
	if err != nil {
		t.Fatalf("instantiate %s: %v", name, err)
	}
	return mod
}

const acosGuest = `(module
	(import "env" "Math_acos" (func $acos (param f64) (result f64)))
	(func (export "acos") (param f64) (result f64)
		(call $acos (local.get 0))))`

func TestInstantiateHostModule(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	mod, err := e.InstantiateHostModule(ctx, "env", []HostFunc{acosFunc()})
	if err != nil {
		t.Fatalf("InstantiateHostModule: %v", err)
	}
	def, ok := mod.ExportedFunctionDefinitions()["Math_acos"]
	if !ok {
		t.Fatal("Math_acos not exported")
	}
	if !slices.Equal(def.ParamTypes(), f64) || !slices.Equal(def.ResultTypes(), f64) {
		t.Errorf("Math_acos signature: %v -> %v", def.ParamTypes(), def.ResultTypes())
	}

	g := guest(t, e, "guest", acosGuest)
	res, err := g.ExportedFunction("acos").Call(ctx, api.EncodeF64(1.0))
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if got := api.DecodeF64(res[0]); got != 0 {
		t.Errorf("acos(1) = %v", got)
	}
}

func TestInstantiateHostModule_Empty(t *testing.T) {
	e := newEngine(t)
	mod, err := e.InstantiateHostModule(context.Background(), "wasi", nil)
	if err != nil {
		t.Fatalf("InstantiateHostModule: %v", err)
	}
	if len(mod.ExportedFunctionDefinitions()) != 0 {
		t.Error("expected no exports")
	}
}

func TestInstantiateHostModule_Duplicate(t *testing.T) {
	e := newEngine(t)
	_, err := e.InstantiateHostModule(context.Background(), "env", []HostFunc{acosFunc(), acosFunc()})
	if err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Errorf("expected duplicate error, got %v", err)
	}
}

func TestSignature(t *testing.T) {
	tests := []struct {
		params, results []api.ValueType
		want            string
	}{
		{f64, f64, "(f64) -> f64"},
		{nil, nil, "() -> ()"},
		{[]api.ValueType{api.ValueTypeI32, api.ValueTypeI64}, nil, "(i32, i64) -> ()"},
	}
	for _, tt := range tests {
		if got := Signature(tt.params, tt.results); got != tt.want {
			t.Errorf("Signature: got %q, want %q", got, tt.want)
		}
	}
	if got := acosFunc().String(); got != "Math_acos(f64) -> f64" {
		t.Errorf("HostFunc.String: got %q", got)
	}
}

func TestSynthModule_MemoryAndFuncs(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	if _, err := e.InstantiateHostModule(ctx, "env$host", []HostFunc{acosFunc()}); err != nil {
		t.Fatalf("shadow host: %v", err)
	}

	b := NewSynthModuleBuilder("env$host")
	b.AddFunc("Math_acos", f64, f64)
	b.SetMemory("memory", wasiboot.MemorySpec{Initial: 1, Maximum: 2, Shared: true})
	if !b.HasMemory() {
		t.Fatal("HasMemory: expected true")
	}

	mod, err := e.InstantiateSynth(ctx, "env", b)
	if err != nil {
		t.Fatalf("InstantiateSynth: %v", err)
	}

	mem := mod.ExportedMemory("memory")
	if mem == nil {
		t.Fatal("memory not exported")
	}
	if mem.Size() != wasiboot.PageSize {
		t.Errorf("memory size: got %d", mem.Size())
	}
	if _, ok := mem.Grow(1); !ok {
		t.Error("grow to maximum should succeed")
	}
	if _, ok := mem.Grow(1); ok {
		t.Error("grow past maximum should fail")
	}

	g := guest(t, e, "guest", `(module
		(import "env" "Math_acos" (func $acos (param f64) (result f64)))
		(import "env" "memory" (memory 1 2 shared))
		(func (export "acos") (param f64) (result f64)
			(call $acos (local.get 0)))
		(func (export "pages") (result i32) memory.size))`)

	res, err := g.ExportedFunction("acos").Call(ctx, api.EncodeF64(1.5))
	if err != nil {
		t.Fatalf("call re-exported: %v", err)
	}
	if !math.IsNaN(api.DecodeF64(res[0])) {
		t.Errorf("acos(1.5) should be NaN, got %v", api.DecodeF64(res[0]))
	}

	res, err = g.ExportedFunction("pages").Call(ctx)
	if err != nil {
		t.Fatalf("pages: %v", err)
	}
	if got := api.DecodeI32(res[0]); got != 2 {
		t.Errorf("guest sees %d pages, want 2", got)
	}
}

func TestSynthModule_Structure(t *testing.T) {
	b := NewSynthModuleBuilder("env$host")
	b.AddFunc("Math_acos", f64, f64)
	b.AddFunc("Math_asin", f64, f64)
	b.SetMemory("memory", wasiboot.DefaultMemorySpec())

	m, err := wasm.Parse(b.Build())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(m.Types) != 1 {
		t.Errorf("expected deduplicated type, got %d", len(m.Types))
	}
	if len(m.Imports) != 2 || m.Imports[1].Key() != "env$host#Math_asin" {
		t.Errorf("imports: %+v", m.Imports)
	}
	if len(m.Memories) != 1 || m.Memories[0].String() != "16384..16384 pages shared" {
		t.Errorf("memories: %+v", m.Memories)
	}
	if exp, ok := m.ExportByName("Math_asin"); !ok || exp.Idx != 1 {
		t.Errorf("Math_asin export: %+v", exp)
	}
}

// threadGuest imports wasi.thread-spawn and a shared env.memory. spawn(arg)
// calls thread-spawn; the thread stores arg at address 0.
const threadGuest = `(module
	(import "wasi" "thread-spawn" (func $spawn (param i32) (result i32)))
	(import "env" "memory" (memory 1 1 shared))
	(func (export "wasi_thread_start") (param $tid i32) (param $arg i32)
		(i32.atomic.store (i32.const 0) (local.get $arg)))
	(func (export "spawn") (param i32) (result i32)
		(call $spawn (local.get 0))))`

func TestThreadSpawner(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	spawner := NewThreadSpawner(e, "guest", "")
	if got := spawner.Spawn(ctx, 1); got != -1 {
		t.Errorf("spawn before bind: got %d, want -1", got)
	}

	if _, err := e.InstantiateHostModule(ctx, "wasi", []HostFunc{spawner.HostFunc()}); err != nil {
		t.Fatalf("wasi host: %v", err)
	}
	b := NewSynthModuleBuilder("env$host")
	b.SetMemory("memory", wasiboot.MemorySpec{Initial: 1, Maximum: 1, Shared: true})
	env, err := e.InstantiateSynth(ctx, "env", b)
	if err != nil {
		t.Fatalf("env: %v", err)
	}

	bin, err := wat.Compile(threadGuest)
	if err != nil {
		t.Fatalf("wat.Compile: %v", err)
	}
	compiled, err := e.Compile(ctx, bin)
	if err != nil {
		t.Fatalf("compile guest: %v", err)
	}
	spawner.Bind(compiled, func(name string) wazero.ModuleConfig {
		return wazero.NewModuleConfig().WithName(name)
	})

	g, err := e.Runtime().InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName("guest"))
	if err != nil {
		t.Fatalf("instantiate guest: %v", err)
	}

	res, err := g.ExportedFunction("spawn").Call(ctx, api.EncodeI32(42))
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	tid := api.DecodeI32(res[0])
	if tid < 1 || tid > MaxThreadID {
		t.Fatalf("tid out of range: %d", tid)
	}

	if err := spawner.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	v, ok := env.Memory().ReadUint32Le(0)
	if !ok || v != 42 {
		t.Errorf("thread store: got %d (%v), want 42", v, ok)
	}
	if spawner.Spawned() != 1 {
		t.Errorf("Spawned: got %d, want 1", spawner.Spawned())
	}
}

func TestSetLogger(t *testing.T) {
	SetLogger(nil)
	if Logger() == nil {
		t.Fatal("Logger returned nil")
	}
}
