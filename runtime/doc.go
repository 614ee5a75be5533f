// Package runtime bootstraps a WASI preview1 (threads) module.
//
// # Quick Start
//
//	ctx := context.Background()
//	env := runtime.NewWASIEnvironment(os.Args, os.Environ())
//	code, err := runtime.Run(ctx, runtime.DefaultConfig(), "app.wasm", env)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	os.Exit(int(code))
//
// # Sequence
//
// Run is a fixed linear sequence, each step fatal on failure:
//
//	LoadFile          - read, decode and compile the module (.wat files
//	                    are compiled from text first)
//	NewWASIEnvironment - capture argv verbatim and environ minus entries
//	                    WASI cannot represent
//	AllocateSharedMemory - shared 16384..16384 pages by default
//	AssembleImports   - wasi_snapshot_preview1, env.Math_acos, env.Math_asin,
//	                    env.memory and the empty "wasi" namespace
//	Instantiate       - check the table against the declared imports, then
//	                    instantiate without running start functions
//	Start             - call _start; proc_exit supplies the exit code
//
// The steps are also available individually through Runtime.Prepare,
// Runtime.Instantiate and Instance.Start.
//
// # Import Table
//
// Every import the module declares must be supplied with a matching kind
// and type, or Instantiate returns an *errors.ImportMismatchError listing
// all problems. Extra entries are allowed. Memory imports match when the
// provided memory is at least the declared minimum, at most the declared
// maximum and agrees on the shared flag.
//
// # Host Functions
//
// Typed Go functions are adapted by reflection:
//
//	rt.RegisterFunc("env", "now_ms", func() float64 { ... })
//
// Supported types are int32, uint32, int64, uint64, float32 and float64.
// An optional leading context.Context and api.Module are passed through.
//
// # Threads
//
// The threads proposal (shared memory, atomics) is always enabled. With
// Config.ThreadSpawn the reserved namespace exports thread-spawn, which
// instantiates the module again against the same imports and runs
// wasi_thread_start on a new goroutine.
//
// # Errors
//
//	errors.IsLoad(err)           - the module could not be read or compiled
//	errors.IsImportMismatch(err) - the import table does not satisfy the module
//	errors.IsTrap(err)           - the module trapped while running
package runtime
