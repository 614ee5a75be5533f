package engine

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

// WASIModuleName is the import namespace of the preview1 surface.
const WASIModuleName = wasi_snapshot_preview1.ModuleName

// InitWASI instantiates the WASI preview1 host module for this engine's
// runtime. Safe for concurrent calls; the module is created once.
func (e *WazeroEngine) InitWASI(ctx context.Context) error {
	if e.wasiInitDone.Load() {
		return nil
	}

	e.wasiInitMu.Lock()
	defer e.wasiInitMu.Unlock()

	if e.wasiInitDone.Load() {
		return nil
	}

	if e.runtime.Module(WASIModuleName) == nil {
		builder := e.runtime.NewHostModuleBuilder(WASIModuleName)
		wasi_snapshot_preview1.NewFunctionExporter().ExportFunctions(builder)
		if _, err := builder.Instantiate(ctx); err != nil {
			return fmt.Errorf("instantiate WASI: %w", err)
		}
		Logger().Debug("wasi preview1 instantiated")
	}

	e.wasiInitDone.Store(true)
	return nil
}

// WASIFunctions lists the function names exported by the preview1 host
// module, or nil before InitWASI.
func (e *WazeroEngine) WASIFunctions() []string {
	mod := e.runtime.Module(WASIModuleName)
	if mod == nil {
		return nil
	}
	defs := mod.ExportedFunctionDefinitions()
	names := make([]string, 0, len(defs))
	for name := range defs {
		names = append(names, name)
	}
	return names
}
