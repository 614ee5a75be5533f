// Package wat compiles the WebAssembly Text format into module binaries.
//
// It covers the module shapes the bootstrapper loads and tests against:
// guests that import shared memory and host functions and export _start.
//
//	bin, err := wat.Compile(`(module
//		(import "env" "memory" (memory 1 2 shared))
//		(import "env" "Math_acos" (func $acos (param f64) (result f64)))
//		(func (export "_start")
//			(drop (call $acos (f64.const 1)))))`)
//
// Supported:
//   - type, import, func, memory, global, export and start fields
//   - Named and indexed params, locals, functions, globals and labels
//   - Memory limits with the shared flag (shared requires a maximum)
//   - Flat and folded instructions, block/loop/if with a single result
//   - Integer and f64 arithmetic, comparisons and conversions
//   - Loads and stores with offset= and align=
//   - Threads: atomic loads, stores, rmw ops, wait32, notify and fence
//   - Comments: line (;;) and block (; ;)
//
// Not supported: tables, data and elem segments, inline imports,
// multi-value blocks, SIMD.
package wat
