// Package wasm reads and writes the interface of core WebAssembly modules.
//
// The bootstrapper needs more than wazero exposes about a guest before it
// instantiates it: table and global imports, and the shared flag of
// imported memories. It also needs to emit small modules of its own to
// place host functions and a shared memory under one import namespace.
// This package covers both directions for that subset of the format.
//
// # Parsing
//
//	data, _ := os.ReadFile("app.wasm")
//	module, err := wasm.Parse(data)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, imp := range module.Imports {
//	    fmt.Println(imp.Key(), wasm.KindName(imp.Desc.Kind))
//	}
//
// Parse decodes types, imports, functions, tables, memories, globals,
// exports, start and code. Element, data, data count and tag sections are
// order-checked and skipped. GC type definitions are rejected with
// ErrUnsupported, and component binaries with ErrComponent.
//
// # Encoding
//
//	max := uint64(16384)
//	m := &wasm.Module{
//	    Memories: []wasm.MemoryType{{Limits: wasm.Limits{Min: 16384, Max: &max, Shared: true}}},
//	    Exports:  []wasm.Export{{Name: "memory", Kind: wasm.KindMemory}},
//	}
//	bin := m.Encode()
//
// # Function bodies
//
// Code assembles instruction sequences. The wat package compiles text
// modules through it:
//
//	body := wasm.NewCode().Index(wasm.OpLocalGet, 0).Index(wasm.OpCall, 0).End().Body()
package wasm
