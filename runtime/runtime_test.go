package runtime

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tetratelabs/wazero/api"

	wasiboot "github.com/wippyai/wasi-bootstrap"
	"github.com/wippyai/wasi-bootstrap/engine"
	"github.com/wippyai/wasi-bootstrap/errors"
	"github.com/wippyai/wasi-bootstrap/wasm"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, wasiboot.MemorySpec{Initial: 16384, Maximum: 16384, Shared: true}, cfg.Memory)
	assert.Equal(t, "env", cfg.MemoryNamespace)
	assert.Equal(t, "memory", cfg.MemoryName)
	assert.Equal(t, "Math_acos", cfg.AcosName)
	assert.Equal(t, "Math_asin", cfg.AsinName)
	assert.Equal(t, "wasi", cfg.ReservedNamespace)
	assert.Equal(t, "_start", cfg.Entry)
	assert.False(t, cfg.ThreadSpawn)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"empty entry", func(c *Config) { c.Entry = "" }, "entry cannot be empty"},
		{"wasi namespace", func(c *Config) { c.HostNamespace = engine.WASIModuleName }, "provided by WASI"},
		{"reserved collides", func(c *Config) { c.ReservedNamespace = "env" }, "must be distinct"},
		{"same math names", func(c *Config) { c.AsinName = c.AcosName }, "must differ"},
		{"memory collides", func(c *Config) { c.MemoryName = "Math_acos" }, "collides"},
		{"initial over max", func(c *Config) { c.Memory.Initial = c.Memory.Maximum + 1 }, "exceeds maximum"},
		{"max over 4GiB", func(c *Config) { c.Memory.Maximum = wasiboot.MaxPages + 1 }, "exceeds"},
		{"preopen", func(c *Config) { c.Preopens = []Preopen{{Host: "/tmp"}} }, "preopen"},
		{"engine limit", func(c *Config) { c.Engine = &engine.Config{MemoryLimitPages: 100} }, "engine limit"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestNewWASIEnvironment(t *testing.T) {
	args := []string{"app.wasm", "", "ünïcödé", "a b"}
	environ := []string{"B=2", "A=1=1", "EMPTY=", "NOEQUALS", "=C:=C:\\", "ПУТЬ=значение"}

	env := NewWASIEnvironment(args, environ)

	assert.Equal(t, args, env.Args())
	assert.Equal(t, []EnvVar{
		{Key: "B", Value: "2"},
		{Key: "A", Value: "1=1"},
		{Key: "EMPTY", Value: ""},
		{Key: "ПУТЬ", Value: "значение"},
	}, env.Environ())
	assert.Equal(t, []string{"NOEQUALS", "=C:=C:\\"}, env.Skipped())

	// captured copies
	args[0] = "changed"
	assert.Equal(t, "app.wasm", env.Args()[0])
	got := env.Args()
	got[1] = "changed"
	assert.Equal(t, "", env.Args()[1])
}

func TestHostRegistry_RegisterFunc(t *testing.T) {
	reg := NewHostRegistry()

	require.NoError(t, reg.RegisterFunc("env", "add", func(a, b int32) int32 { return a + b }))
	require.NoError(t, reg.RegisterFunc("env", "mod", func(ctx context.Context, m api.Module, x uint64) float32 {
		return float32(x)
	}))
	require.NoError(t, reg.RegisterFunc("other", "noop", func() {}))

	assert.Equal(t, []string{"env", "other"}, reg.Namespaces())

	funcs := reg.Funcs("env")
	require.Len(t, funcs, 2)
	assert.Equal(t, "add(i32, i32) -> i32", funcs[0].String())
	assert.Equal(t, "mod(i64) -> f32", funcs[1].String())

	stack := []uint64{api.EncodeI32(-3), api.EncodeI32(5)}
	funcs[0].Handler.Call(context.Background(), nil, stack)
	assert.Equal(t, int32(2), api.DecodeI32(stack[0]))

	stack = []uint64{7}
	funcs[1].Handler.Call(context.Background(), nil, stack)
	assert.Equal(t, float32(7), api.DecodeF32(stack[0]))
}

func TestHostRegistry_Errors(t *testing.T) {
	reg := NewHostRegistry()

	assert.Error(t, reg.RegisterFunc("", "f", func() {}))
	assert.Error(t, reg.RegisterFunc("env", "", func() {}))
	assert.Error(t, reg.RegisterFunc("env", "f", nil))
	assert.Error(t, reg.RegisterFunc("env", "f", 42))
	assert.Error(t, reg.RegisterFunc("env", "f", func(s string) {}))
	assert.Error(t, reg.RegisterFunc("env", "f", func() bool { return true }))
	assert.Error(t, reg.RegisterFunc("env", "f", func(xs ...int32) {}))
	assert.Empty(t, reg.Namespaces())
}

func TestHostRegistry_Replace(t *testing.T) {
	reg := NewHostRegistry()
	require.NoError(t, reg.RegisterFunc("env", "f", func() int32 { return 1 }))
	require.NoError(t, reg.RegisterFunc("env", "f", func() int64 { return 2 }))

	funcs := reg.Funcs("env")
	require.Len(t, funcs, 1)
	assert.Equal(t, []api.ValueType{api.ValueTypeI64}, funcs[0].Results)
}

func TestMathHost(t *testing.T) {
	reg := NewHostRegistry()
	require.NoError(t, reg.RegisterHost(MathHost{Module: "env", AcosName: "Math_acos", AsinName: "Math_asin"}))

	funcs := reg.Funcs("env")
	require.Len(t, funcs, 2)
	assert.Equal(t, "Math_acos(f64) -> f64", funcs[0].String())
	assert.Equal(t, "Math_asin(f64) -> f64", funcs[1].String())

	assert.Equal(t, 0.0, Acos(1.0))
	assert.True(t, math.IsNaN(Acos(1.5)))
	assert.True(t, math.IsNaN(Acos(-1.5)))
	assert.InDelta(t, math.Pi/2, Asin(1.0), 1e-15)
	assert.True(t, math.IsNaN(Asin(2)))
}

func TestAllocateSharedMemory(t *testing.T) {
	mem, err := AllocateSharedMemory("env", "memory", wasiboot.DefaultMemorySpec())
	require.NoError(t, err)
	assert.Equal(t, uint32(16384), mem.Pages())
	assert.Nil(t, mem.Memory())

	_, ok := mem.Grow(1)
	assert.False(t, ok)

	_, err = AllocateSharedMemory("env", "memory", wasiboot.MemorySpec{Initial: 2, Maximum: 1, Shared: true})
	require.Error(t, err)

	_, err = AllocateSharedMemory("", "memory", wasiboot.DefaultMemorySpec())
	require.Error(t, err)
}

func TestImportTable(t *testing.T) {
	table := NewImportTable()
	table.AddNamespace("wasi")
	spec := wasiboot.MemorySpec{Initial: 1, Maximum: 1, Shared: true}
	require.NoError(t, table.Add(ImportEntry{
		Namespace: "env", Field: "Math_acos", Kind: wasm.KindFunc,
		Params: []api.ValueType{api.ValueTypeF64}, Results: []api.ValueType{api.ValueTypeF64},
		Source: SourceHost,
	}))
	require.NoError(t, table.Add(ImportEntry{
		Namespace: "env", Field: "memory", Kind: wasm.KindMemory, Memory: &spec, Source: SourceMemory,
	}))
	require.Error(t, table.Add(ImportEntry{Namespace: "env", Field: "memory", Kind: wasm.KindMemory, Memory: &spec}))

	assert.Equal(t, []string{"wasi", "env"}, table.Namespaces())
	assert.True(t, table.HasNamespace("wasi"))
	assert.Empty(t, table.Entries("wasi"))
	assert.Equal(t, 2, table.Len())

	e, ok := table.Lookup("env", "Math_acos")
	require.True(t, ok)
	assert.Equal(t, "env#Math_acos", e.Key())

	assert.Equal(t, []string{
		"wasi (empty)",
		"env.Math_acos func (f64) -> f64 [host]",
		"env.memory memory 1..1 pages shared [memory]",
	}, table.Describe())
}

func TestImportTable_Check(t *testing.T) {
	spec := wasiboot.MemorySpec{Initial: 1, Maximum: 1, Shared: true}
	table := NewImportTable()
	require.NoError(t, table.Add(ImportEntry{
		Namespace: "env", Field: "Math_acos", Kind: wasm.KindFunc,
		Params: []api.ValueType{api.ValueTypeF64}, Results: []api.ValueType{api.ValueTypeF64},
	}))
	require.NoError(t, table.Add(ImportEntry{Namespace: "env", Field: "memory", Kind: wasm.KindMemory, Memory: &spec}))

	one, two := uint64(1), uint64(2)
	f64 := []wasm.ValType{wasm.ValF64}
	i32 := []wasm.ValType{wasm.ValI32}

	tests := []struct {
		name    string
		imports []wasm.Import
		issues  []errors.IssueKind
	}{
		{
			name: "satisfied",
			imports: []wasm.Import{
				{Module: "env", Name: "Math_acos", Desc: wasm.ImportDesc{Kind: wasm.KindFunc, TypeIdx: 0}},
				{Module: "env", Name: "memory", Desc: wasm.ImportDesc{Kind: wasm.KindMemory,
					Memory: &wasm.MemoryType{Limits: wasm.Limits{Min: 1, Max: &two, Shared: true}}}},
			},
		},
		{
			name: "missing",
			imports: []wasm.Import{
				{Module: "env", Name: "missing", Desc: wasm.ImportDesc{Kind: wasm.KindFunc, TypeIdx: 0}},
				{Module: "nope", Name: "f", Desc: wasm.ImportDesc{Kind: wasm.KindFunc, TypeIdx: 0}},
			},
			issues: []errors.IssueKind{errors.IssueMissing, errors.IssueMissing},
		},
		{
			name: "signature",
			imports: []wasm.Import{
				{Module: "env", Name: "Math_acos", Desc: wasm.ImportDesc{Kind: wasm.KindFunc, TypeIdx: 1}},
			},
			issues: []errors.IssueKind{errors.IssueSignature},
		},
		{
			name: "kind",
			imports: []wasm.Import{
				{Module: "env", Name: "memory", Desc: wasm.ImportDesc{Kind: wasm.KindFunc, TypeIdx: 0}},
			},
			issues: []errors.IssueKind{errors.IssueKindDiff},
		},
		{
			name: "unshared",
			imports: []wasm.Import{
				{Module: "env", Name: "memory", Desc: wasm.ImportDesc{Kind: wasm.KindMemory,
					Memory: &wasm.MemoryType{Limits: wasm.Limits{Min: 1, Max: &one}}}},
			},
			issues: []errors.IssueKind{errors.IssueLimits},
		},
		{
			name: "too small",
			imports: []wasm.Import{
				{Module: "env", Name: "memory", Desc: wasm.ImportDesc{Kind: wasm.KindMemory,
					Memory: &wasm.MemoryType{Limits: wasm.Limits{Min: 2, Max: &two, Shared: true}}}},
			},
			issues: []errors.IssueKind{errors.IssueLimits},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &wasm.Module{
				Types: []wasm.FuncType{
					{Params: f64, Results: f64},
					{Params: i32, Results: i32},
				},
				Imports: tt.imports,
			}
			err := table.Check(m)
			if len(tt.issues) == 0 {
				require.NoError(t, err)
				return
			}

			require.True(t, errors.IsImportMismatch(err))
			mismatch := err.(*errors.ImportMismatchError)
			var kinds []errors.IssueKind
			for _, issue := range mismatch.Issues {
				kinds = append(kinds, issue.Kind)
			}
			assert.Equal(t, tt.issues, kinds)
		})
	}
}

func TestAssembleImports(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.ThreadSpawn = true

	r, err := New(ctx, cfg)
	require.NoError(t, err)
	defer r.Close(ctx)

	mem, err := AllocateSharedMemory(cfg.MemoryNamespace, cfg.MemoryName, cfg.Memory)
	require.NoError(t, err)

	table, err := r.AssembleImports(ctx, mem)
	require.NoError(t, err)

	assert.Equal(t, []string{engine.WASIModuleName, "env", "wasi"}, table.Namespaces())

	fdWrite, ok := table.Lookup(engine.WASIModuleName, "fd_write")
	require.True(t, ok)
	assert.Equal(t, SourceWASI, fdWrite.Source)
	assert.Equal(t, "(i32, i32, i32, i32) -> i32", fdWrite.Type())

	acos, ok := table.Lookup("env", "Math_acos")
	require.True(t, ok)
	assert.Equal(t, "(f64) -> f64", acos.Type())

	memEntry, ok := table.Lookup("env", "memory")
	require.True(t, ok)
	assert.Equal(t, "1..2 pages shared", memEntry.Type())

	spawn, ok := table.Lookup("wasi", engine.ThreadSpawnName)
	require.True(t, ok)
	assert.Equal(t, SourceThreads, spawn.Source)
	assert.NotNil(t, table.Spawner())
	assert.Same(t, mem, table.Memory())

	assert.Contains(t, table.Describe(), "wasi.thread-spawn func (i32) -> i32 [threads]")
	assert.NotContains(t, table.Describe(), "wasi (empty)")
}
