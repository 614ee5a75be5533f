package runtime

import (
	"context"
	"io"
	"sync/atomic"

	"go.uber.org/zap"

	wasiboot "github.com/wippyai/wasi-bootstrap"
	"github.com/wippyai/wasi-bootstrap/engine"
	"github.com/wippyai/wasi-bootstrap/errors"
	"github.com/wippyai/wasi-bootstrap/internal/memfs"
)

// Default import names.
const (
	DefaultNamespace         = "env"
	DefaultMemoryName        = "memory"
	DefaultAcosName          = "Math_acos"
	DefaultAsinName          = "Math_asin"
	DefaultReservedNamespace = "wasi"
	DefaultEntry             = "_start"
	DefaultModuleName        = "main"
)

// Preopen mounts a host directory into the guest filesystem.
type Preopen struct {
	Host     string
	Guest    string
	ReadOnly bool
}

// Config controls how a module is bootstrapped. The zero value is not
// usable; start from DefaultConfig.
type Config struct {
	Logger *zap.Logger
	Engine *engine.Config

	// Reporter receives the assembled import table before instantiation.
	// Nil logs the table at debug level.
	Reporter func(*ImportTable)

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	MemFS *memfs.MemFS

	MemoryNamespace   string
	MemoryName        string
	HostNamespace     string
	AcosName          string
	AsinName          string
	ReservedNamespace string
	ThreadStartFunc   string
	Entry             string
	ModuleName        string
	MemFSMount        string

	Preopens []Preopen
	Memory   wasiboot.MemorySpec

	// ThreadSpawn exports thread-spawn in the reserved namespace.
	ThreadSpawn bool
}

// DefaultConfig returns the standard bootstrap: shared 16384..16384 page
// env.memory, env.Math_acos and env.Math_asin, and an empty "wasi"
// namespace.
func DefaultConfig() Config {
	return Config{
		Memory:            wasiboot.DefaultMemorySpec(),
		MemoryNamespace:   DefaultNamespace,
		MemoryName:        DefaultMemoryName,
		HostNamespace:     DefaultNamespace,
		AcosName:          DefaultAcosName,
		AsinName:          DefaultAsinName,
		ReservedNamespace: DefaultReservedNamespace,
		ThreadStartFunc:   engine.ThreadStartName,
		Entry:             DefaultEntry,
		ModuleName:        DefaultModuleName,
		MemFSMount:        "/memfs",
	}
}

// Validate checks names and memory limits.
func (c *Config) Validate() error {
	for _, f := range []struct{ name, value string }{
		{"memory namespace", c.MemoryNamespace},
		{"memory name", c.MemoryName},
		{"host namespace", c.HostNamespace},
		{"acos name", c.AcosName},
		{"asin name", c.AsinName},
		{"reserved namespace", c.ReservedNamespace},
		{"entry", c.Entry},
		{"module name", c.ModuleName},
	} {
		if f.value == "" {
			return errors.InvalidInput(errors.PhaseConfig, f.name+" cannot be empty")
		}
	}

	for _, ns := range []string{c.MemoryNamespace, c.HostNamespace, c.ReservedNamespace} {
		if ns == engine.WASIModuleName {
			return errors.InvalidInput(errors.PhaseConfig, "namespace "+ns+" is provided by WASI")
		}
	}
	if c.ReservedNamespace == c.HostNamespace || c.ReservedNamespace == c.MemoryNamespace {
		return errors.InvalidInput(errors.PhaseConfig, "reserved namespace "+c.ReservedNamespace+" must be distinct")
	}
	if c.AcosName == c.AsinName {
		return errors.InvalidInput(errors.PhaseConfig, "acos and asin names must differ")
	}
	if c.MemoryNamespace == c.HostNamespace && (c.MemoryName == c.AcosName || c.MemoryName == c.AsinName) {
		return errors.InvalidInput(errors.PhaseConfig, "memory name collides with a host function")
	}
	if c.ThreadSpawn && c.ThreadStartFunc == "" {
		return errors.InvalidInput(errors.PhaseConfig, "thread start function cannot be empty")
	}
	if c.MemFS != nil && c.MemFSMount == "" {
		return errors.InvalidInput(errors.PhaseConfig, "memfs mount cannot be empty")
	}
	for _, p := range c.Preopens {
		if p.Host == "" || p.Guest == "" {
			return errors.InvalidInput(errors.PhaseConfig, "preopen needs host and guest paths")
		}
	}

	if err := c.Memory.Validate(); err != nil {
		return errors.Wrap(errors.PhaseMemory, errors.KindInvalidInput, err, "memory limits")
	}
	if c.Memory.Shared && c.Engine != nil && c.Engine.MemoryLimitPages > 0 &&
		c.Memory.Maximum > c.Engine.MemoryLimitPages {
		return errors.New(errors.PhaseMemory, errors.KindOutOfBounds).
			Detail("maximum %d pages exceeds engine limit %d", c.Memory.Maximum, c.Engine.MemoryLimitPages).
			Build()
	}
	return nil
}

// Runtime bootstraps one module. Instance names are global to the
// underlying wazero runtime, so a Runtime instantiates at most once.
type Runtime struct {
	engine *engine.WazeroEngine
	hosts  *HostRegistry
	log    *zap.Logger
	cfg    Config
	used   atomic.Bool
}

// New creates a runtime with the math host functions registered.
func New(ctx context.Context, cfg Config) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	engCfg := engine.Config{}
	if cfg.Engine != nil {
		engCfg = *cfg.Engine
	}
	engCfg.EnableThreads = true

	eng, err := engine.NewWazeroEngineWithConfig(ctx, &engCfg)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseRuntime, errors.KindInvalidInput, err, "create engine")
	}

	r := &Runtime{
		engine: eng,
		hosts:  NewHostRegistry(),
		log:    log,
		cfg:    cfg,
	}

	math := MathHost{Module: cfg.HostNamespace, AcosName: cfg.AcosName, AsinName: cfg.AsinName}
	if err := r.hosts.RegisterHost(math); err != nil {
		_ = eng.Close(ctx)
		return nil, err
	}

	return r, nil
}

// Close releases all runtime resources.
// Instances must be closed before calling this.
func (r *Runtime) Close(ctx context.Context) error {
	return r.engine.Close(ctx)
}

// Config returns the configuration the runtime was created with.
func (r *Runtime) Config() Config {
	return r.cfg
}

// Engine exposes the wazero integration.
func (r *Runtime) Engine() *engine.WazeroEngine {
	return r.engine
}

// Hosts returns the registry of host functions beyond WASI.
func (r *Runtime) Hosts() *HostRegistry {
	return r.hosts
}

// RegisterHost registers a struct-based host module.
// Must be called before AssembleImports.
func (r *Runtime) RegisterHost(h Host) error {
	return r.hosts.RegisterHost(h)
}

// RegisterFunc registers a typed Go function as namespace.name. The WASI
// namespace is rejected. Must be called before AssembleImports.
func (r *Runtime) RegisterFunc(namespace, name string, fn any) error {
	if namespace == engine.WASIModuleName {
		return errors.InvalidInput(errors.PhaseHost, "namespace "+namespace+" is provided by WASI")
	}
	return r.hosts.RegisterFunc(namespace, name, fn)
}
