// Package engine wraps wazero for the bootstrapper.
//
// It owns runtime creation (threads proposal, memory limit, compilation
// cache), the WASI preview1 host module, host modules built from Go
// functions, synthesized modules and wasi-threads spawning.
//
// # Namespaces
//
// wazero resolves imports by module name, one module per namespace. A
// namespace that only holds Go functions is a host module:
//
//	e.InstantiateHostModule(ctx, "env", []engine.HostFunc{acos, asin})
//
// Host modules cannot define memories. A namespace that must export a
// shared memory beside Go functions is split in two: the functions go to
// a shadow host module and a synthesized module imports and re-exports
// them next to the memory it defines:
//
//	e.InstantiateHostModule(ctx, "env$host", funcs)
//	b := engine.NewSynthModuleBuilder("env$host")
//	b.AddFunc("Math_acos", f64, f64)
//	b.SetMemory("memory", wasiboot.DefaultMemorySpec())
//	e.InstantiateSynth(ctx, "env", b)
//
// # Threads
//
// ThreadSpawner implements the wasi-threads "thread-spawn" import. Each
// spawn instantiates the guest again; the new instance imports the same
// shared memory and runs wasi_thread_start(tid, arg) on a goroutine.
// Wait joins all threads.
//
// # Known Limitations
//
// Memory64 is not supported by wazero v1.10.1.
package engine
