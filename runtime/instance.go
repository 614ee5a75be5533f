package runtime

import (
	"context"
	stderrors "errors"

	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/sys"
	"go.uber.org/zap"

	"github.com/wippyai/wasi-bootstrap/engine"
	"github.com/wippyai/wasi-bootstrap/errors"
)

// Instance is an instantiated module whose entry point has not run yet.
type Instance struct {
	mod     api.Module
	imports *ImportTable
	log     *zap.Logger
	entry   string
}

// Start calls the entry point and returns the exit code. A normal return
// is exit code 0; proc_exit supplies its own code. When the entry point
// returns normally, Start waits for spawned threads.
func (i *Instance) Start(ctx context.Context) (uint32, error) {
	fn := i.mod.ExportedFunction(i.entry)
	if fn == nil {
		return 0, errors.NotFound(errors.PhaseRuntime, "export", i.entry)
	}

	i.log.Info("starting", zap.String("entry", i.entry))
	_, err := fn.Call(ctx)
	if err == nil {
		if werr := i.Wait(); werr != nil {
			return 0, errors.Trap(engine.ThreadStartName, werr)
		}
		return 0, nil
	}

	var exitErr *sys.ExitError
	if stderrors.As(err, &exitErr) {
		i.log.Info("module exited", zap.Uint32("code", exitErr.ExitCode()))
		return exitErr.ExitCode(), nil
	}
	return 0, errors.Trap(i.entry, err)
}

// Call invokes an exported function with raw stack values.
func (i *Instance) Call(ctx context.Context, name string, args ...uint64) ([]uint64, error) {
	fn := i.mod.ExportedFunction(name)
	if fn == nil {
		return nil, errors.NotFound(errors.PhaseRuntime, "export", name)
	}
	results, err := fn.Call(ctx, args...)
	if err != nil {
		return nil, errors.Trap(name, err)
	}
	return results, nil
}

// Memory returns the shared memory provided to the module, or nil when
// the import table exports none.
func (i *Instance) Memory() *SharedMemory {
	return i.imports.Memory()
}

// Imports returns the table the instance was linked against.
func (i *Instance) Imports() *ImportTable {
	return i.imports
}

// Module returns the instantiated wazero module.
func (i *Instance) Module() api.Module {
	return i.mod
}

// Wait blocks until spawned threads finish and joins their failures.
func (i *Instance) Wait() error {
	if sp := i.imports.Spawner(); sp != nil {
		return sp.Wait()
	}
	return nil
}

func (i *Instance) Close(ctx context.Context) error {
	return i.mod.Close(ctx)
}
