package runtime

import (
	"context"

	"github.com/wippyai/wasi-bootstrap/errors"
	"github.com/wippyai/wasi-bootstrap/wat"
)

// CompileWAT translates WAT source into a module binary.
func CompileWAT(text string) ([]byte, error) {
	bin, err := wat.Compile(text)
	if err != nil {
		return nil, errors.Load("compile WAT", err)
	}
	return bin, nil
}

// LoadWAT compiles WAT source and loads the result like LoadWASM.
func (r *Runtime) LoadWAT(ctx context.Context, text string) (*Module, error) {
	bin, err := CompileWAT(text)
	if err != nil {
		return nil, err
	}
	return r.LoadWASM(ctx, bin)
}
