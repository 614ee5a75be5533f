// Command inspect checks a module's declared imports against the import
// table the bootstrapper would provide, without running the module.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/wippyai/wasi-bootstrap/config"
	"github.com/wippyai/wasi-bootstrap/internal/report"
	"github.com/wippyai/wasi-bootstrap/runtime"
	"github.com/wippyai/wasi-bootstrap/wasm"
)

func main() {
	var (
		wasmFile    = flag.String("wasm", "", "Path to module wasm file (default: from config)")
		configFile  = flag.String("config", os.Getenv(config.EnvVar), "Path to YAML config")
		schema      = flag.Bool("schema", false, "Print the config JSON schema and exit")
		showTable   = flag.Bool("table", false, "Print the provided import table as well")
		interactive = flag.Bool("i", false, "Interactive mode with TUI")
	)
	flag.Parse()

	if *schema {
		out, err := config.Schema()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(string(out))
		return
	}

	res, err := inspect(context.Background(), *configFile, *wasmFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if *interactive {
		if err := runInteractive(res); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	printer := report.ForFile(os.Stdout)
	fmt.Printf("Module: %s\n", res.path)
	fmt.Printf("Imports: %d\n", len(res.module.Imports))
	fmt.Printf("Exports: %d\n\n", len(res.module.Exports))
	if *showTable {
		printer.Imports(res.table)
		fmt.Println()
	}
	printer.Statuses(res.statuses)

	for _, s := range res.statuses {
		if !s.Satisfied() {
			os.Exit(1)
		}
	}
}

type inspection struct {
	module   *wasm.Module
	table    *runtime.ImportTable
	path     string
	statuses []report.Status
}

func inspect(ctx context.Context, configFile, wasmFile string) (*inspection, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}

	path := wasmFile
	if path == "" {
		if path, err = cfg.ModulePath(); err != nil {
			return nil, err
		}
	}

	decoded, _, err := runtime.ReadModule(path)
	if err != nil {
		return nil, err
	}

	rc := cfg.Runtime(zap.NewNop())
	rt, err := runtime.New(ctx, rc)
	if err != nil {
		return nil, err
	}
	defer rt.Close(ctx)

	mem, err := runtime.AllocateSharedMemory(rc.MemoryNamespace, rc.MemoryName, rc.Memory)
	if err != nil {
		return nil, err
	}
	table, err := rt.AssembleImports(ctx, mem)
	if err != nil {
		return nil, err
	}

	return &inspection{
		module:   decoded,
		table:    table,
		path:     path,
		statuses: report.Resolve(decoded, table),
	}, nil
}
