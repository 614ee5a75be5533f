package wat

import (
	"github.com/wippyai/wasi-bootstrap/wasm"
	"github.com/wippyai/wasi-bootstrap/wat/internal/parser"
	"github.com/wippyai/wasi-bootstrap/wat/internal/token"
)

// Compile translates WAT source into a module binary.
func Compile(source string) ([]byte, error) {
	mod, err := Parse(source)
	if err != nil {
		return nil, err
	}
	return mod.Encode(), nil
}

// Parse translates WAT source into module declarations without encoding.
func Parse(source string) (*wasm.Module, error) {
	return parser.New(token.Tokenize(source)).Parse()
}
