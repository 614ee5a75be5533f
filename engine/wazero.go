package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/experimental"
	"go.uber.org/zap"
)

// WazeroEngine owns a wazero runtime and the modules registered in it.
type WazeroEngine struct {
	runtime      wazero.Runtime
	cache        wazero.CompilationCache
	ownsCache    bool
	wasiInitMu   sync.Mutex
	wasiInitDone atomic.Bool
}

// Config holds configuration for engine creation
type Config struct {
	// Cache is a compilation cache shared between engines. It takes
	// precedence over CompilationCacheDir and is not closed by the engine.
	Cache wazero.CompilationCache

	// CompilationCacheDir persists compiled code across processes.
	// Empty means no on-disk cache.
	CompilationCacheDir string

	// MemoryLimitPages sets the maximum memory per instance in pages (64KB each).
	// 0 means default (65536 pages = 4GB).
	MemoryLimitPages uint32

	// EnableThreads enables the WebAssembly threads proposal: shared
	// memories and atomic instructions.
	EnableThreads bool

	// CloseOnContextDone makes running guest code observe context
	// cancellation. Off by default: a started module runs to completion.
	CloseOnContextDone bool
}

// NewWazeroEngine creates a new wazero-based engine with threads enabled.
func NewWazeroEngine(ctx context.Context) (*WazeroEngine, error) {
	return NewWazeroEngineWithConfig(ctx, &Config{EnableThreads: true})
}

// NewWazeroEngineWithConfig creates a new engine with custom configuration
func NewWazeroEngineWithConfig(ctx context.Context, cfg *Config) (*WazeroEngine, error) {
	if cfg == nil {
		cfg = &Config{}
	}

	runtimeCfg := wazero.NewRuntimeConfig()
	if cfg.MemoryLimitPages > 0 {
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
	}
	if cfg.EnableThreads {
		runtimeCfg = runtimeCfg.WithCoreFeatures(api.CoreFeaturesV2 | experimental.CoreFeaturesThreads)
	}
	if cfg.CloseOnContextDone {
		runtimeCfg = runtimeCfg.WithCloseOnContextDone(true)
	}

	e := &WazeroEngine{}
	switch {
	case cfg.Cache != nil:
		e.cache = cfg.Cache
	case cfg.CompilationCacheDir != "":
		cache, err := wazero.NewCompilationCacheWithDir(cfg.CompilationCacheDir)
		if err != nil {
			return nil, fmt.Errorf("compilation cache %q: %w", cfg.CompilationCacheDir, err)
		}
		e.cache = cache
		e.ownsCache = true
	}
	if e.cache != nil {
		runtimeCfg = runtimeCfg.WithCompilationCache(e.cache)
	}

	e.runtime = wazero.NewRuntimeWithConfig(ctx, runtimeCfg)

	Logger().Debug("engine created",
		zap.Uint32("memory_limit_pages", cfg.MemoryLimitPages),
		zap.Bool("threads", cfg.EnableThreads),
		zap.Bool("cache", e.cache != nil))

	return e, nil
}

// Runtime exposes the underlying wazero runtime.
func (e *WazeroEngine) Runtime() wazero.Runtime {
	return e.runtime
}

// Compile validates and compiles a core module.
func (e *WazeroEngine) Compile(ctx context.Context, wasmBytes []byte) (wazero.CompiledModule, error) {
	compiled, err := e.runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		return nil, fmt.Errorf("compile failed: %w", err)
	}
	return compiled, nil
}

// Module returns an instantiated module by name, or nil.
func (e *WazeroEngine) Module(name string) api.Module {
	return e.runtime.Module(name)
}

// HostFunc is a Go function exported by a host module.
type HostFunc struct {
	Handler api.GoModuleFunction
	Name    string
	Params  []api.ValueType
	Results []api.ValueType
}

// String renders the function as "name(params) -> results".
func (h HostFunc) String() string {
	return fmt.Sprintf("%s%s", h.Name, Signature(h.Params, h.Results))
}

// Signature renders a wazero signature as "(f64) -> f64".
func Signature(params, results []api.ValueType) string {
	var b strings.Builder
	writeTypes := func(types []api.ValueType) {
		b.WriteByte('(')
		for i, t := range types {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(api.ValueTypeName(t))
		}
		b.WriteByte(')')
	}
	writeTypes(params)
	b.WriteString(" -> ")
	if len(results) == 1 {
		b.WriteString(api.ValueTypeName(results[0]))
	} else {
		writeTypes(results)
	}
	return b.String()
}

// InstantiateHostModule registers a host module under name. An empty
// funcs slice yields a module with no exports, which still satisfies
// the namespace's existence.
func (e *WazeroEngine) InstantiateHostModule(ctx context.Context, name string, funcs []HostFunc) (api.Module, error) {
	builder := e.runtime.NewHostModuleBuilder(name)
	seen := make(map[string]struct{}, len(funcs))
	for _, f := range funcs {
		if _, dup := seen[f.Name]; dup {
			return nil, fmt.Errorf("host module %s: duplicate function %q", name, f.Name)
		}
		seen[f.Name] = struct{}{}
		builder = builder.NewFunctionBuilder().
			WithGoModuleFunction(f.Handler, f.Params, f.Results).
			WithName(f.Name).
			Export(f.Name)
	}

	mod, err := builder.Instantiate(ctx)
	if err != nil {
		return nil, fmt.Errorf("instantiate host module %s: %w", name, err)
	}

	Logger().Debug("host module instantiated", zap.String("module", name), zap.Int("funcs", len(funcs)))
	return mod, nil
}

// InstantiateSynth compiles and instantiates a synthesized module.
func (e *WazeroEngine) InstantiateSynth(ctx context.Context, name string, b *SynthModuleBuilder) (api.Module, error) {
	bin := b.Build()
	compiled, err := e.runtime.CompileModule(ctx, bin)
	if err != nil {
		return nil, fmt.Errorf("compile synthesized module %s: %w", name, err)
	}
	mod, err := e.runtime.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName(name))
	if err != nil {
		return nil, fmt.Errorf("instantiate synthesized module %s: %w", name, err)
	}

	Logger().Debug("synthesized module instantiated",
		zap.String("module", name),
		zap.String("host", b.HostModuleName()),
		zap.Int("bytes", len(bin)))
	return mod, nil
}

// Close releases the runtime and every module in it. A compilation cache
// created from CompilationCacheDir is closed as well.
func (e *WazeroEngine) Close(ctx context.Context) error {
	err := e.runtime.Close(ctx)
	if e.ownsCache {
		if cerr := e.cache.Close(ctx); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
