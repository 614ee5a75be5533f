package engine

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/sys"
	"go.uber.org/zap"
)

const (
	// ThreadSpawnName is the import field of the spawn function.
	ThreadSpawnName = "thread-spawn"

	// ThreadStartName is the export each spawned instance runs.
	ThreadStartName = "wasi_thread_start"

	// MaxThreadID is the largest id handed out; ids are positive and fit
	// in 29 bits.
	MaxThreadID = 0x1FFFFFFF
)

// ModuleConfigFunc produces the instance config for a named instance.
type ModuleConfigFunc func(name string) wazero.ModuleConfig

// ThreadSpawner implements wasi-threads spawning: every spawn
// instantiates the same compiled module against the same imports, so the
// new instance shares the imported memory, and runs the start export on
// its own goroutine.
type ThreadSpawner struct {
	runtime   wazero.Runtime
	compiled  wazero.CompiledModule
	config    ModuleConfigFunc
	name      string
	startFunc string
	errs      []error
	wg        sync.WaitGroup
	mu        sync.Mutex
	nextID    atomic.Int32
}

// NewThreadSpawner creates a spawner for instances named after name.
// An empty startFunc means ThreadStartName.
func NewThreadSpawner(e *WazeroEngine, name, startFunc string) *ThreadSpawner {
	if startFunc == "" {
		startFunc = ThreadStartName
	}
	return &ThreadSpawner{
		runtime:   e.runtime,
		name:      name,
		startFunc: startFunc,
	}
}

// Bind sets the module to spawn and its per-instance config. It must be
// called before the guest can reach thread-spawn.
func (s *ThreadSpawner) Bind(compiled wazero.CompiledModule, config ModuleConfigFunc) {
	s.mu.Lock()
	s.compiled = compiled
	s.config = config
	s.mu.Unlock()
}

// HostFunc returns thread-spawn as (i32) -> i32.
func (s *ThreadSpawner) HostFunc() HostFunc {
	return HostFunc{
		Name:    ThreadSpawnName,
		Params:  []api.ValueType{api.ValueTypeI32},
		Results: []api.ValueType{api.ValueTypeI32},
		Handler: api.GoModuleFunc(func(ctx context.Context, _ api.Module, stack []uint64) {
			tid := s.Spawn(ctx, api.DecodeI32(stack[0]))
			stack[0] = api.EncodeI32(tid)
		}),
	}
}

// Spawn starts a thread and returns its id, or -1 when the instance
// could not be created.
func (s *ThreadSpawner) Spawn(ctx context.Context, arg int32) int32 {
	s.mu.Lock()
	compiled, config := s.compiled, s.config
	s.mu.Unlock()
	if compiled == nil || config == nil {
		Logger().Warn("thread-spawn before bind")
		return -1
	}

	tid := s.nextID.Add(1)
	if tid > MaxThreadID {
		Logger().Warn("thread ids exhausted")
		return -1
	}

	name := fmt.Sprintf("%s-thread-%d", s.name, tid)
	mod, err := s.runtime.InstantiateModule(ctx, compiled, config(name).WithStartFunctions())
	if err != nil {
		Logger().Warn("thread instantiate failed", zap.Int32("tid", tid), zap.Error(err))
		return -1
	}

	start := mod.ExportedFunction(s.startFunc)
	if start == nil {
		Logger().Warn("thread start export missing", zap.String("export", s.startFunc))
		_ = mod.Close(ctx)
		return -1
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		runCtx := context.WithoutCancel(ctx)
		defer mod.Close(runCtx)

		_, err := start.Call(runCtx, api.EncodeI32(tid), api.EncodeI32(arg))
		if err != nil && !isCleanExit(err) {
			Logger().Debug("thread failed", zap.Int32("tid", tid), zap.Error(err))
			s.mu.Lock()
			s.errs = append(s.errs, fmt.Errorf("thread %d: %w", tid, err))
			s.mu.Unlock()
		}
	}()

	Logger().Debug("thread spawned", zap.Int32("tid", tid), zap.Int32("arg", arg))
	return tid
}

// Spawned returns the number of ids handed out.
func (s *ThreadSpawner) Spawned() int {
	return int(s.nextID.Load())
}

// Wait blocks until every spawned thread returns and joins their errors.
func (s *ThreadSpawner) Wait() error {
	s.wg.Wait()
	s.mu.Lock()
	defer s.mu.Unlock()
	return stderrors.Join(s.errs...)
}

func isCleanExit(err error) bool {
	var exitErr *sys.ExitError
	return stderrors.As(err, &exitErr) && exitErr.ExitCode() == 0
}
