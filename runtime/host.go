package runtime

import (
	"context"
	"math"
	"reflect"
	"sort"
	"sync"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/wasi-bootstrap/engine"
	"github.com/wippyai/wasi-bootstrap/errors"
)

// Host is the interface for struct-based host modules.
type Host interface {
	// Namespace returns the import module name (e.g. "env").
	Namespace() string
}

// ExplicitRegistrar lets a host supply exact import field names, which
// Go method names cannot express (e.g. "Math_acos").
type ExplicitRegistrar interface {
	Register() map[string]any
}

// HostRegistry collects host functions by namespace in registration order.
type HostRegistry struct {
	funcs map[string][]engine.HostFunc
	order []string
	mu    sync.RWMutex
}

// NewHostRegistry creates an empty registry.
func NewHostRegistry() *HostRegistry {
	return &HostRegistry{
		funcs: make(map[string][]engine.HostFunc),
	}
}

// RegisterHost registers every function returned by the host's Register
// method, or its exported methods by name when it has none.
func (r *HostRegistry) RegisterHost(h Host) error {
	ns := h.Namespace()
	if ns == "" {
		return errors.InvalidInput(errors.PhaseHost, "namespace cannot be empty")
	}

	if er, ok := h.(ExplicitRegistrar); ok {
		funcs := er.Register()
		names := make([]string, 0, len(funcs))
		for name := range funcs {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if err := r.RegisterFunc(ns, name, funcs[name]); err != nil {
				return err
			}
		}
		return nil
	}

	rv := reflect.ValueOf(h)
	rt := rv.Type()
	for i := 0; i < rt.NumMethod(); i++ {
		method := rt.Method(i)
		if !method.IsExported() || method.Name == "Namespace" {
			continue
		}
		if err := r.RegisterFunc(ns, method.Name, rv.Method(i).Interface()); err != nil {
			return err
		}
	}
	return nil
}

// RegisterFunc registers a typed Go function. Supported parameter and
// result types are int32, uint32, int64, uint64, float32 and float64; an
// optional leading context.Context and api.Module receive the call
// context and the calling module.
//
//	reg.RegisterFunc("env", "Math_acos", math.Acos)
func (r *HostRegistry) RegisterFunc(namespace, name string, fn any) error {
	if namespace == "" {
		return errors.InvalidInput(errors.PhaseHost, "namespace cannot be empty")
	}
	if name == "" {
		return errors.InvalidInput(errors.PhaseHost, "function name cannot be empty")
	}

	hf, err := wrapTypedFunc(name, fn)
	if err != nil {
		return errors.Registration(errors.PhaseHost, namespace, name, err)
	}
	return r.RegisterRaw(namespace, hf)
}

// RegisterRaw registers a function already in wazero's stack form.
// A later registration of the same name replaces the earlier one.
func (r *HostRegistry) RegisterRaw(namespace string, hf engine.HostFunc) error {
	if namespace == "" {
		return errors.InvalidInput(errors.PhaseHost, "namespace cannot be empty")
	}
	if hf.Handler == nil {
		return errors.Registration(errors.PhaseHost, namespace, hf.Name, errNilHandler)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	funcs, seen := r.funcs[namespace]
	if !seen {
		r.order = append(r.order, namespace)
	}
	for i := range funcs {
		if funcs[i].Name == hf.Name {
			funcs[i] = hf
			return nil
		}
	}
	r.funcs[namespace] = append(funcs, hf)
	return nil
}

// Namespaces returns namespaces in registration order.
func (r *HostRegistry) Namespaces() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Funcs returns the functions registered under namespace.
func (r *HostRegistry) Funcs(namespace string) []engine.HostFunc {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]engine.HostFunc(nil), r.funcs[namespace]...)
}

var (
	errNilHandler = errors.New(errors.PhaseHost, errors.KindInvalidInput).Detail("handler is nil").Build()

	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	moduleType  = reflect.TypeOf((*api.Module)(nil)).Elem()
)

func valueTypeOf(t reflect.Type) (api.ValueType, bool) {
	switch t.Kind() {
	case reflect.Int32, reflect.Uint32:
		return api.ValueTypeI32, true
	case reflect.Int64, reflect.Uint64:
		return api.ValueTypeI64, true
	case reflect.Float32:
		return api.ValueTypeF32, true
	case reflect.Float64:
		return api.ValueTypeF64, true
	default:
		return 0, false
	}
}

func decodeValue(t reflect.Type, raw uint64) reflect.Value {
	v := reflect.New(t).Elem()
	switch t.Kind() {
	case reflect.Int32:
		v.SetInt(int64(api.DecodeI32(raw)))
	case reflect.Uint32:
		v.SetUint(uint64(api.DecodeU32(raw)))
	case reflect.Int64:
		v.SetInt(int64(raw))
	case reflect.Uint64:
		v.SetUint(raw)
	case reflect.Float32:
		v.SetFloat(float64(api.DecodeF32(raw)))
	case reflect.Float64:
		v.SetFloat(api.DecodeF64(raw))
	}
	return v
}

func encodeValue(v reflect.Value) uint64 {
	switch v.Kind() {
	case reflect.Int32:
		return api.EncodeI32(int32(v.Int()))
	case reflect.Uint32:
		return api.EncodeU32(uint32(v.Uint()))
	case reflect.Int64:
		return api.EncodeI64(v.Int())
	case reflect.Uint64:
		return v.Uint()
	case reflect.Float32:
		return api.EncodeF32(float32(v.Float()))
	case reflect.Float64:
		return api.EncodeF64(v.Float())
	}
	return 0
}

// wrapTypedFunc adapts a typed Go function to wazero's stack calling
// convention.
func wrapTypedFunc(name string, fn any) (engine.HostFunc, error) {
	if fn == nil {
		return engine.HostFunc{}, errNilHandler
	}
	if _, ok := fn.(api.GoModuleFunc); ok {
		return engine.HostFunc{}, errors.InvalidInput(errors.PhaseHost,
			"raw handler "+name+" needs explicit types; use RegisterRaw")
	}

	rv := reflect.ValueOf(fn)
	ft := rv.Type()
	if ft.Kind() != reflect.Func {
		return engine.HostFunc{}, errors.New(errors.PhaseHost, errors.KindInvalidInput).
			Detail("handler must be a function, got %s", ft).
			Build()
	}
	if ft.IsVariadic() {
		return engine.HostFunc{}, errors.Unsupported(errors.PhaseHost, "variadic host function")
	}

	first := 0
	wantCtx, wantMod := false, false
	if first < ft.NumIn() && ft.In(first) == contextType {
		wantCtx = true
		first++
	}
	if first < ft.NumIn() && ft.In(first) == moduleType {
		wantMod = true
		first++
	}

	paramTypes := make([]reflect.Type, 0, ft.NumIn()-first)
	params := make([]api.ValueType, 0, ft.NumIn()-first)
	for i := first; i < ft.NumIn(); i++ {
		vt, ok := valueTypeOf(ft.In(i))
		if !ok {
			return engine.HostFunc{}, errors.Unsupported(errors.PhaseHost, "parameter type "+ft.In(i).String())
		}
		paramTypes = append(paramTypes, ft.In(i))
		params = append(params, vt)
	}

	results := make([]api.ValueType, 0, ft.NumOut())
	for i := 0; i < ft.NumOut(); i++ {
		vt, ok := valueTypeOf(ft.Out(i))
		if !ok {
			return engine.HostFunc{}, errors.Unsupported(errors.PhaseHost, "result type "+ft.Out(i).String())
		}
		results = append(results, vt)
	}

	handler := api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
		in := make([]reflect.Value, 0, ft.NumIn())
		if wantCtx {
			in = append(in, reflect.ValueOf(&ctx).Elem())
		}
		if wantMod {
			in = append(in, reflect.ValueOf(&mod).Elem())
		}
		for i, t := range paramTypes {
			in = append(in, decodeValue(t, stack[i]))
		}
		out := rv.Call(in)
		for i, v := range out {
			stack[i] = encodeValue(v)
		}
	})

	return engine.HostFunc{
		Name:    name,
		Params:  params,
		Results: results,
		Handler: handler,
	}, nil
}

// MathHost supplies the inverse trigonometric functions the guest's libm
// shim imports. Field names are configurable.
type MathHost struct {
	Module   string
	AcosName string
	AsinName string
}

// Namespace returns the import module name.
func (h MathHost) Namespace() string {
	return h.Module
}

// Register maps field names to implementations.
func (h MathHost) Register() map[string]any {
	return map[string]any{
		h.AcosName: Acos,
		h.AsinName: Asin,
	}
}

// Acos is math.Acos: NaN outside [-1, 1].
func Acos(x float64) float64 {
	return math.Acos(x)
}

// Asin is math.Asin: NaN outside [-1, 1].
func Asin(x float64) float64 {
	return math.Asin(x)
}
