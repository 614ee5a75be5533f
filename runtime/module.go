package runtime

import (
	"context"
	stderrors "errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/tetratelabs/wazero"
	"go.uber.org/zap"

	"github.com/wippyai/wasi-bootstrap/errors"
	"github.com/wippyai/wasi-bootstrap/wasm"
)

// Module is a loaded and compiled core module.
type Module struct {
	compiled wazero.CompiledModule
	decoded  *wasm.Module
	path     string
	size     int
}

// ReadModule reads and decodes a module file without compiling it. Files
// ending in .wat are compiled from text first.
func ReadModule(path string) (*wasm.Module, []byte, error) {
	bin, err := os.ReadFile(path)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return nil, nil, errors.LoadNotFound(path, err)
		}
		return nil, nil, errors.Load("read "+path, err)
	}
	if strings.EqualFold(filepath.Ext(path), ".wat") {
		if bin, err = CompileWAT(string(bin)); err != nil {
			return nil, nil, err
		}
	}
	decoded, err := DecodeModule(bin)
	if err != nil {
		return nil, nil, err
	}
	return decoded, bin, nil
}

// DecodeModule decodes the declarations of a core module binary.
func DecodeModule(bin []byte) (*wasm.Module, error) {
	decoded, err := wasm.Parse(bin)
	if err != nil {
		return nil, errors.Load("decode module", err)
	}
	return decoded, nil
}

// LoadFile reads, decodes and compiles the module at path.
func (r *Runtime) LoadFile(ctx context.Context, path string) (*Module, error) {
	decoded, bin, err := ReadModule(path)
	if err != nil {
		return nil, err
	}
	m, err := r.compile(ctx, decoded, bin)
	if err != nil {
		return nil, err
	}
	m.path = path
	r.log.Info("module loaded", zap.String("path", path), zap.Int("bytes", m.size))
	return m, nil
}

// LoadWASM decodes and compiles an in-memory module.
func (r *Runtime) LoadWASM(ctx context.Context, bin []byte) (*Module, error) {
	decoded, err := DecodeModule(bin)
	if err != nil {
		return nil, err
	}
	return r.compile(ctx, decoded, bin)
}

func (r *Runtime) compile(ctx context.Context, decoded *wasm.Module, bin []byte) (*Module, error) {
	compiled, err := r.engine.Compile(ctx, bin)
	if err != nil {
		return nil, errors.Load("compile module", err)
	}
	return &Module{
		compiled: compiled,
		decoded:  decoded,
		size:     len(bin),
	}, nil
}

// Path returns the file the module was loaded from, empty for LoadWASM.
func (m *Module) Path() string {
	return m.path
}

// Size returns the binary size in bytes.
func (m *Module) Size() int {
	return m.size
}

// Decoded returns the module's declarations.
func (m *Module) Decoded() *wasm.Module {
	return m.decoded
}

// Imports returns the declared imports in declaration order.
func (m *Module) Imports() []wasm.Import {
	return m.decoded.Imports
}

// Exports returns the declared exports.
func (m *Module) Exports() []wasm.Export {
	return m.decoded.Exports
}

// Compiled returns the wazero compiled module.
func (m *Module) Compiled() wazero.CompiledModule {
	return m.compiled
}

// Close releases the compiled code.
func (m *Module) Close(ctx context.Context) error {
	return m.compiled.Close(ctx)
}
