package runtime

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	wasiboot "github.com/wippyai/wasi-bootstrap"
	"github.com/wippyai/wasi-bootstrap/engine"
	"github.com/wippyai/wasi-bootstrap/errors"
	"github.com/wippyai/wasi-bootstrap/wasm"
)

// Source names what provides an import.
type Source string

const (
	SourceWASI    Source = "wasi"
	SourceHost    Source = "host"
	SourceMemory  Source = "memory"
	SourceThreads Source = "threads"
)

// ImportEntry is one (namespace, field) the host supplies.
type ImportEntry struct {
	fn        *engine.HostFunc
	Memory    *wasiboot.MemorySpec
	Namespace string
	Field     string
	Source    Source
	Params    []api.ValueType
	Results   []api.ValueType
	Kind      byte
}

// Key returns "namespace#field".
func (e ImportEntry) Key() string {
	return e.Namespace + "#" + e.Field
}

// Type renders the entry's type the way wasm.Import types are rendered.
func (e ImportEntry) Type() string {
	switch e.Kind {
	case wasm.KindFunc:
		return wasm.FuncType{Params: wasmTypes(e.Params), Results: wasmTypes(e.Results)}.String()
	case wasm.KindMemory:
		return e.Memory.String()
	default:
		return wasm.KindName(e.Kind)
	}
}

func (e ImportEntry) String() string {
	return fmt.Sprintf("%s.%s %s %s [%s]", e.Namespace, e.Field, wasm.KindName(e.Kind), e.Type(), e.Source)
}

// ImportTable maps (namespace, field) to what the host provides.
// Namespaces keep insertion order and may be explicitly empty.
type ImportTable struct {
	entries map[string][]ImportEntry
	memory  *SharedMemory
	spawner *engine.ThreadSpawner
	order   []string
}

// NewImportTable creates an empty table.
func NewImportTable() *ImportTable {
	return &ImportTable{entries: make(map[string][]ImportEntry)}
}

// AddNamespace declares a namespace, which may stay empty.
func (t *ImportTable) AddNamespace(ns string) {
	if _, ok := t.entries[ns]; ok {
		return
	}
	t.entries[ns] = []ImportEntry{}
	t.order = append(t.order, ns)
}

// Add inserts an entry. Fields are unique within a namespace.
func (t *ImportTable) Add(e ImportEntry) error {
	if _, dup := t.Lookup(e.Namespace, e.Field); dup {
		return errors.New(errors.PhaseLinking, errors.KindRegistration).
			Path(e.Namespace, e.Field).
			Detail("duplicate import").
			Build()
	}
	t.AddNamespace(e.Namespace)
	t.entries[e.Namespace] = append(t.entries[e.Namespace], e)
	return nil
}

// Lookup finds the entry for namespace.field.
func (t *ImportTable) Lookup(ns, field string) (ImportEntry, bool) {
	for _, e := range t.entries[ns] {
		if e.Field == field {
			return e, true
		}
	}
	return ImportEntry{}, false
}

// Namespaces returns namespaces in insertion order.
func (t *ImportTable) Namespaces() []string {
	return append([]string(nil), t.order...)
}

// HasNamespace reports whether ns was declared, even if empty.
func (t *ImportTable) HasNamespace(ns string) bool {
	_, ok := t.entries[ns]
	return ok
}

// Entries returns the entries of ns in insertion order.
func (t *ImportTable) Entries(ns string) []ImportEntry {
	return append([]ImportEntry(nil), t.entries[ns]...)
}

// Len returns the number of entries across all namespaces.
func (t *ImportTable) Len() int {
	n := 0
	for _, es := range t.entries {
		n += len(es)
	}
	return n
}

// Memory returns the shared memory the table exports, if any.
func (t *ImportTable) Memory() *SharedMemory {
	return t.memory
}

// Spawner returns the thread spawner, or nil when spawning is off.
func (t *ImportTable) Spawner() *engine.ThreadSpawner {
	return t.spawner
}

// Describe renders one line per entry, and one per empty namespace.
func (t *ImportTable) Describe() []string {
	var lines []string
	for _, ns := range t.order {
		es := t.entries[ns]
		if len(es) == 0 {
			lines = append(lines, ns+" (empty)")
			continue
		}
		for _, e := range es {
			lines = append(lines, e.String())
		}
	}
	return lines
}

func (t *ImportTable) String() string {
	return strings.Join(t.Describe(), "\n")
}

// Check verifies that the table satisfies every import m declares.
// All problems are collected; extra entries in the table are allowed.
func (t *ImportTable) Check(m *wasm.Module) error {
	mismatch := &errors.ImportMismatchError{}

	for _, imp := range m.Imports {
		want := importType(m, imp)
		entry, ok := t.Lookup(imp.Module, imp.Name)
		if !ok {
			mismatch.Add(errors.ImportIssue{
				Namespace: imp.Module,
				Field:     imp.Name,
				Kind:      errors.IssueMissing,
				Want:      want,
			})
			continue
		}

		if entry.Kind != imp.Desc.Kind {
			mismatch.Add(errors.ImportIssue{
				Namespace: imp.Module,
				Field:     imp.Name,
				Kind:      errors.IssueKindDiff,
				Want:      wasm.KindName(imp.Desc.Kind),
				Have:      wasm.KindName(entry.Kind),
			})
			continue
		}

		switch imp.Desc.Kind {
		case wasm.KindFunc:
			ft, _ := m.ImportFuncType(imp)
			have := wasm.FuncType{Params: wasmTypes(entry.Params), Results: wasmTypes(entry.Results)}
			if !ft.Equal(have) {
				mismatch.Add(errors.ImportIssue{
					Namespace: imp.Module,
					Field:     imp.Name,
					Kind:      errors.IssueSignature,
					Want:      want,
					Have:      have.String(),
				})
			}
		case wasm.KindMemory:
			if !memorySatisfies(*entry.Memory, imp.Desc.Memory.Limits) {
				mismatch.Add(errors.ImportIssue{
					Namespace: imp.Module,
					Field:     imp.Name,
					Kind:      errors.IssueLimits,
					Want:      want,
					Have:      entry.Memory.String(),
				})
			}
		}
	}

	if len(mismatch.Issues) > 0 {
		return mismatch
	}
	return nil
}

// memorySatisfies applies the import matching rule for limits: the
// provided memory is at least as large as required, no larger than the
// declared maximum, and agrees on sharing.
func memorySatisfies(have wasiboot.MemorySpec, want wasm.Limits) bool {
	if want.Memory64 || have.Shared != want.Shared {
		return false
	}
	if uint64(have.Initial) < want.Min {
		return false
	}
	if want.Max != nil && uint64(have.Maximum) > *want.Max {
		return false
	}
	return true
}

func importType(m *wasm.Module, imp wasm.Import) string {
	switch imp.Desc.Kind {
	case wasm.KindFunc:
		if ft, ok := m.ImportFuncType(imp); ok {
			return ft.String()
		}
		return "func"
	case wasm.KindMemory:
		return imp.Desc.Memory.String()
	default:
		return wasm.KindName(imp.Desc.Kind)
	}
}

func wasmTypes(types []api.ValueType) []wasm.ValType {
	out := make([]wasm.ValType, len(types))
	for i, t := range types {
		out[i] = engine.ValTypeToWasm(t)
	}
	return out
}

// AssembleImports builds the import table: the WASI preview1 functions,
// the registered host functions, mem and the reserved namespace. The
// WASI host module is instantiated here since its exports are the
// entries.
func (r *Runtime) AssembleImports(ctx context.Context, mem *SharedMemory) (*ImportTable, error) {
	if err := r.engine.InitWASI(ctx); err != nil {
		return nil, errors.Wrap(errors.PhaseLinking, errors.KindInstantiation, err, "wasi preview1")
	}

	t := NewImportTable()

	defs := r.engine.Module(engine.WASIModuleName).ExportedFunctionDefinitions()
	names := make([]string, 0, len(defs))
	for name := range defs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		def := defs[name]
		if err := t.Add(ImportEntry{
			Namespace: engine.WASIModuleName,
			Field:     name,
			Kind:      wasm.KindFunc,
			Params:    def.ParamTypes(),
			Results:   def.ResultTypes(),
			Source:    SourceWASI,
		}); err != nil {
			return nil, err
		}
	}

	for _, ns := range r.hosts.Namespaces() {
		for _, hf := range r.hosts.Funcs(ns) {
			hf := hf
			if err := t.Add(ImportEntry{
				Namespace: ns,
				Field:     hf.Name,
				Kind:      wasm.KindFunc,
				Params:    hf.Params,
				Results:   hf.Results,
				Source:    SourceHost,
				fn:        &hf,
			}); err != nil {
				return nil, err
			}
		}
	}

	if mem != nil {
		spec := mem.Spec
		if err := t.Add(ImportEntry{
			Namespace: mem.Namespace,
			Field:     mem.Name,
			Kind:      wasm.KindMemory,
			Memory:    &spec,
			Source:    SourceMemory,
		}); err != nil {
			return nil, err
		}
		t.memory = mem
	}

	t.AddNamespace(r.cfg.ReservedNamespace)
	if r.cfg.ThreadSpawn {
		t.spawner = engine.NewThreadSpawner(r.engine, r.cfg.ModuleName, r.cfg.ThreadStartFunc)
		hf := t.spawner.HostFunc()
		if err := t.Add(ImportEntry{
			Namespace: r.cfg.ReservedNamespace,
			Field:     hf.Name,
			Kind:      wasm.KindFunc,
			Params:    hf.Params,
			Results:   hf.Results,
			Source:    SourceThreads,
			fn:        &hf,
		}); err != nil {
			return nil, err
		}
	}

	r.log.Debug("imports assembled",
		zap.Int("namespaces", len(t.order)),
		zap.Int("entries", t.Len()))
	return t, nil
}

// materialize instantiates one wazero module per namespace. A namespace
// that exports the memory becomes a synthesized module; its functions
// come from a shadow host module named "<namespace>$host".
func (r *Runtime) materialize(ctx context.Context, t *ImportTable) error {
	for _, ns := range t.order {
		if ns == engine.WASIModuleName {
			continue
		}

		var funcs []engine.HostFunc
		var memEntry *ImportEntry
		for _, e := range t.entries[ns] {
			switch e.Kind {
			case wasm.KindFunc:
				funcs = append(funcs, *e.fn)
			case wasm.KindMemory:
				e := e
				memEntry = &e
			}
		}

		if memEntry == nil {
			if _, err := r.engine.InstantiateHostModule(ctx, ns, funcs); err != nil {
				return errors.Wrap(errors.PhaseLinking, errors.KindInstantiation, err, "namespace "+ns)
			}
			continue
		}

		builder := engine.NewSynthModuleBuilder(ns + "$host")
		if len(funcs) > 0 {
			if _, err := r.engine.InstantiateHostModule(ctx, builder.HostModuleName(), funcs); err != nil {
				return errors.Wrap(errors.PhaseLinking, errors.KindInstantiation, err, "namespace "+ns)
			}
			for _, f := range funcs {
				builder.AddFunc(f.Name, f.Params, f.Results)
			}
		}
		builder.SetMemory(memEntry.Field, *memEntry.Memory)

		mod, err := r.engine.InstantiateSynth(ctx, ns, builder)
		if err != nil {
			return errors.Wrap(errors.PhaseMemory, errors.KindInstantiation, err, "namespace "+ns)
		}
		if t.memory != nil && t.memory.Namespace == ns {
			t.memory.bind(mod.ExportedMemory(memEntry.Field))
		}
		r.log.Debug("memory allocated",
			zap.String("namespace", ns),
			zap.String("name", memEntry.Field),
			zap.Stringer("limits", memEntry.Memory))
	}
	return nil
}
