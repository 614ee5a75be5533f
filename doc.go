// Package wasiboot bootstraps WASI preview1 modules built for the threads
// target (wasm32-wasi-preview1-threads) on top of wazero.
//
// The bootstrapper runs one strictly linear sequence:
//
//	load → build WASI environment → allocate shared memory →
//	assemble imports → instantiate → start
//
// Every step either succeeds or ends the run with a fatal error; nothing is
// retried.
//
// # Architecture Overview
//
//	wasiboot/            Root package with MemorySpec and page constants
//	├── runtime/         The bootstrapper: load, WASI env, memory, imports, start
//	├── engine/          wazero integration, synthesized modules, thread spawning
//	├── wasm/            Core WASM binary decoding/encoding
//	├── errors/          Structured error types (load, import mismatch, trap)
//	├── config/          YAML configuration, validation and JSON schema
//	├── internal/memfs/  In-memory filesystem mountable into the WASI guest
//	├── internal/report/ Rendering of the assembled import table
//	└── cmd/             run (bootstrapper), inspect, serve
//
// # Quick Start
//
//	env := runtime.NewWASIEnvironment(os.Args, os.Environ())
//	code, err := runtime.Run(ctx, runtime.DefaultConfig(), "app.wasm", env)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	os.Exit(int(code))
//
// # Import Surface
//
// With the default configuration the module sees:
//
//	wasi_snapshot_preview1.*   full WASI preview1 surface
//	env.Math_acos              f64 -> f64
//	env.Math_asin              f64 -> f64
//	env.memory                 shared memory, 16384..16384 pages (1 GiB)
//	wasi                       reserved, empty unless thread spawning is enabled
//
// # Memory Model
//
// The shared memory is allocated at its maximum up front. Because initial
// equals maximum by default, memory.grow fails for any non-zero delta. Both
// bounds are configurable.
package wasiboot
