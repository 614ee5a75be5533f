package runtime

import (
	"context"

	"github.com/tetratelabs/wazero"
	"go.uber.org/zap"

	"github.com/wippyai/wasi-bootstrap/errors"
)

// ExecutionContext is everything a single run needs: the compiled
// module, its WASI environment, the shared memory and the import table.
// It is built once by Prepare and consumed by Instantiate.
type ExecutionContext struct {
	Module  *Module
	Env     *WASIEnvironment
	Memory  *SharedMemory
	Imports *ImportTable
}

// Prepare loads the module at path, allocates the shared memory and
// assembles the import table.
func (r *Runtime) Prepare(ctx context.Context, path string, env *WASIEnvironment) (*ExecutionContext, error) {
	mod, err := r.LoadFile(ctx, path)
	if err != nil {
		return nil, err
	}
	return r.prepare(ctx, mod, env)
}

// PrepareModule is Prepare for an already loaded module.
func (r *Runtime) PrepareModule(ctx context.Context, mod *Module, env *WASIEnvironment) (*ExecutionContext, error) {
	return r.prepare(ctx, mod, env)
}

func (r *Runtime) prepare(ctx context.Context, mod *Module, env *WASIEnvironment) (*ExecutionContext, error) {
	if env == nil {
		env = NewWASIEnvironment(nil, nil)
	}
	r.logEnvironment(env)

	mem, err := AllocateSharedMemory(r.cfg.MemoryNamespace, r.cfg.MemoryName, r.cfg.Memory)
	if err != nil {
		return nil, err
	}
	r.log.Debug("shared memory",
		zap.String("import", mem.Namespace+"."+mem.Name),
		zap.Stringer("limits", mem.Spec),
		zap.Uint64("max_bytes", mem.Spec.MaxBytes()))

	imports, err := r.AssembleImports(ctx, mem)
	if err != nil {
		return nil, err
	}

	return &ExecutionContext{
		Module:  mod,
		Env:     env,
		Memory:  mem,
		Imports: imports,
	}, nil
}

// Instantiate reports the import table, checks it against the module's
// declared imports, materializes it and instantiates the module without
// running its entry point. Nothing is instantiated when the check fails.
func (r *Runtime) Instantiate(ctx context.Context, ec *ExecutionContext) (*Instance, error) {
	if !r.used.CompareAndSwap(false, true) {
		return nil, errors.InvalidInput(errors.PhaseRuntime, "runtime already instantiated a module")
	}

	r.report(ec.Imports)

	if err := ec.Imports.Check(ec.Module.Decoded()); err != nil {
		return nil, err
	}
	if err := r.materialize(ctx, ec.Imports); err != nil {
		return nil, err
	}

	if sp := ec.Imports.Spawner(); sp != nil {
		sp.Bind(ec.Module.Compiled(), func(name string) wazero.ModuleConfig {
			return r.moduleConfig(name, ec.Env)
		})
	}

	mod, err := r.engine.Runtime().InstantiateModule(ctx, ec.Module.Compiled(), r.moduleConfig(r.cfg.ModuleName, ec.Env))
	if err != nil {
		return nil, errors.Instantiation(err)
	}

	r.log.Debug("module instantiated", zap.String("name", r.cfg.ModuleName))
	return &Instance{
		mod:     mod,
		imports: ec.Imports,
		log:     r.log,
		entry:   r.cfg.Entry,
	}, nil
}

func (r *Runtime) report(t *ImportTable) {
	if r.cfg.Reporter != nil {
		r.cfg.Reporter(t)
		return
	}
	for _, line := range t.Describe() {
		r.log.Info("import", zap.String("entry", line))
	}
}

// Run performs the whole bootstrap: load path, build the environment,
// allocate memory, assemble imports, instantiate and start. It returns
// the module's exit code.
func Run(ctx context.Context, cfg Config, path string, env *WASIEnvironment) (uint32, error) {
	r, err := New(ctx, cfg)
	if err != nil {
		return 0, err
	}
	defer r.Close(ctx)

	ec, err := r.Prepare(ctx, path, env)
	if err != nil {
		return 0, err
	}

	inst, err := r.Instantiate(ctx, ec)
	if err != nil {
		return 0, err
	}
	defer inst.Close(ctx)

	return inst.Start(ctx)
}
