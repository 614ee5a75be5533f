// Command run bootstraps a WASI preview1 (threads) module.
//
// It takes no flags: os.Args is handed to the module verbatim, and so is
// os.Environ except for entries without '=', with an empty key or
// containing NUL, which are skipped with a warning. A module path ending
// in .wat is compiled from text. Configuration comes from the YAML file
// named by
// WASIBOOT_CONFIG; without it the module is read from
// target/wasm32-wasi-preview1-threads/debug/rspack.wasm next to the
// executable. The exit code is the module's, or 1 on a fatal error.
package main

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/wippyai/wasi-bootstrap/config"
	"github.com/wippyai/wasi-bootstrap/engine"
	"github.com/wippyai/wasi-bootstrap/internal/report"
	"github.com/wippyai/wasi-bootstrap/runtime"
)

func main() {
	code, err := run(context.Background(), os.Args, os.Environ())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	os.Exit(int(code))
}

func run(ctx context.Context, args, environ []string) (uint32, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return 0, err
	}

	log, err := cfg.Logger()
	if err != nil {
		return 0, err
	}
	defer log.Sync()
	engine.SetLogger(log.Named("engine"))

	path, err := cfg.ModulePath()
	if err != nil {
		return 0, err
	}

	printer := report.ForFile(os.Stderr)
	rc := cfg.Runtime(log)
	rc.Reporter = printer.Imports

	log.Debug("bootstrapping", zap.String("module", path), zap.Int("args", len(args)))
	code, err := runtime.Run(ctx, rc, path, runtime.NewWASIEnvironment(args, environ))

	if rc.MemFS != nil {
		if files, ferr := rc.MemFS.Files(); ferr == nil {
			printer.Files(rc.MemFSMount, files)
		}
	}
	return code, err
}
