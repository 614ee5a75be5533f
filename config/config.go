// Package config loads the bootstrapper's YAML configuration.
//
// Every field has a default, so an absent file yields the standard
// bootstrap: the module at DefaultModulePath next to the executable, a
// shared 16384..16384 page env.memory, env.Math_acos, env.Math_asin and
// an empty "wasi" namespace.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"github.com/invopop/jsonschema"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	wasiboot "github.com/wippyai/wasi-bootstrap"
	"github.com/wippyai/wasi-bootstrap/engine"
	"github.com/wippyai/wasi-bootstrap/errors"
	"github.com/wippyai/wasi-bootstrap/internal/memfs"
	"github.com/wippyai/wasi-bootstrap/runtime"
)

// EnvVar names the environment variable holding the config file path.
// The bootstrapper takes no flags so its argv reaches the module intact.
const EnvVar = "WASIBOOT_CONFIG"

// DefaultModulePath is resolved against the executable's directory.
const DefaultModulePath = "target/wasm32-wasi-preview1-threads/debug/rspack.wasm"

// validate is shared; validator caches struct metadata.
var validate = validator.New()

// Config is the YAML configuration shared by the commands.
type Config struct {
	Module  ModuleConfig  `yaml:"module" json:"module"`
	Memory  MemoryConfig  `yaml:"memory" json:"memory"`
	Host    HostConfig    `yaml:"host" json:"host"`
	WASI    WASIConfig    `yaml:"wasi" json:"wasi"`
	Threads ThreadsConfig `yaml:"threads" json:"threads"`
	Engine  EngineConfig  `yaml:"engine" json:"engine"`
	Log     LogConfig     `yaml:"log" json:"log"`
	Serve   ServeConfig   `yaml:"serve" json:"serve"`
}

// ModuleConfig selects the module file, its entry point and instance name.
type ModuleConfig struct {
	Path  string `yaml:"path" json:"path" validate:"required" jsonschema:"description=Module file. Relative paths resolve against the executable directory."`
	Entry string `yaml:"entry" json:"entry" validate:"required" jsonschema:"default=_start"`
	Name  string `yaml:"name" json:"name" validate:"required" jsonschema:"default=main"`
}

// MemoryConfig sizes the memory import, in 64 KiB pages.
type MemoryConfig struct {
	Namespace    string `yaml:"namespace" json:"namespace" validate:"required" jsonschema:"default=env"`
	Name         string `yaml:"name" json:"name" validate:"required" jsonschema:"default=memory"`
	InitialPages uint32 `yaml:"initial_pages" json:"initial_pages" validate:"lte=65536" jsonschema:"default=16384"`
	MaximumPages uint32 `yaml:"maximum_pages" json:"maximum_pages" validate:"lte=65536,gtefield=InitialPages" jsonschema:"default=16384"`
	Shared       bool   `yaml:"shared" json:"shared" jsonschema:"default=true"`
}

// HostConfig names the math host functions and their namespace.
type HostConfig struct {
	Namespace string `yaml:"namespace" json:"namespace" validate:"required" jsonschema:"default=env"`
	Acos      string `yaml:"acos" json:"acos" validate:"required,nefield=Asin" jsonschema:"default=Math_acos"`
	Asin      string `yaml:"asin" json:"asin" validate:"required" jsonschema:"default=Math_asin"`
}

// WASIConfig controls the WASI environment beyond argv and environ.
type WASIConfig struct {
	ReservedNamespace string          `yaml:"reserved_namespace" json:"reserved_namespace" validate:"required" jsonschema:"default=wasi"`
	MemFS             string          `yaml:"memfs" json:"memfs,omitempty" jsonschema:"description=Guest path of an in-memory scratch filesystem. Empty disables it."`
	Preopens          []PreopenConfig `yaml:"preopens" json:"preopens,omitempty" validate:"dive"`
	InheritStdio      bool            `yaml:"inherit_stdio" json:"inherit_stdio" jsonschema:"default=true"`
}

// PreopenConfig mounts a host directory into the guest.
type PreopenConfig struct {
	Host     string `yaml:"host" json:"host" validate:"required"`
	Guest    string `yaml:"guest" json:"guest" validate:"required"`
	ReadOnly bool   `yaml:"read_only" json:"read_only,omitempty"`
}

// ThreadsConfig enables wasi.thread-spawn.
type ThreadsConfig struct {
	StartFunc string `yaml:"start_func" json:"start_func" validate:"required_if=Spawn true" jsonschema:"default=wasi_thread_start"`
	Spawn     bool   `yaml:"spawn" json:"spawn" jsonschema:"description=Export wasi.thread-spawn."`
}

// EngineConfig tunes the wazero engine.
type EngineConfig struct {
	CacheDir         string `yaml:"cache_dir" json:"cache_dir,omitempty"`
	MemoryLimitPages uint32 `yaml:"memory_limit_pages" json:"memory_limit_pages,omitempty" validate:"lte=65536"`
}

// LogConfig selects the zap level and encoder.
type LogConfig struct {
	Level  string `yaml:"level" json:"level" validate:"oneof=debug info warn error" jsonschema:"enum=debug,enum=info,enum=warn,enum=error,default=warn"`
	Format string `yaml:"format" json:"format" validate:"oneof=console json" jsonschema:"enum=console,enum=json,default=console"`
}

// ServeConfig configures the serve command's HTTP listener.
type ServeConfig struct {
	Addr          string `yaml:"addr" json:"addr" validate:"required,hostname_port" jsonschema:"default=127.0.0.1:3000"`
	MaxConcurrent int    `yaml:"max_concurrent" json:"max_concurrent" validate:"gte=1" jsonschema:"default=4"`
}

// Default returns the built-in configuration.
func Default() *Config {
	mem := wasiboot.DefaultMemorySpec()
	return &Config{
		Module: ModuleConfig{
			Path:  DefaultModulePath,
			Entry: runtime.DefaultEntry,
			Name:  runtime.DefaultModuleName,
		},
		Memory: MemoryConfig{
			Namespace:    runtime.DefaultNamespace,
			Name:         runtime.DefaultMemoryName,
			InitialPages: mem.Initial,
			MaximumPages: mem.Maximum,
			Shared:       mem.Shared,
		},
		Host: HostConfig{
			Namespace: runtime.DefaultNamespace,
			Acos:      runtime.DefaultAcosName,
			Asin:      runtime.DefaultAsinName,
		},
		WASI: WASIConfig{
			ReservedNamespace: runtime.DefaultReservedNamespace,
			InheritStdio:      true,
		},
		Threads: ThreadsConfig{
			StartFunc: engine.ThreadStartName,
		},
		Log: LogConfig{
			Level:  "warn",
			Format: "console",
		},
		Serve: ServeConfig{
			Addr:          "127.0.0.1:3000",
			MaxConcurrent: 4,
		},
	}
}

// Load reads path over the defaults. An empty path returns Default.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindNotFound, err, "read "+path)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidData, err, "parse "+path)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv loads the file named by EnvVar, or the defaults when unset.
func FromEnv() (*Config, error) {
	return Load(os.Getenv(EnvVar))
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "config validation failed")
	}
	return nil
}

// ModulePath returns the module path, resolving a relative one against
// the directory of the running executable.
func (c *Config) ModulePath() (string, error) {
	if filepath.IsAbs(c.Module.Path) {
		return c.Module.Path, nil
	}
	exe, err := os.Executable()
	if err != nil {
		return "", errors.Wrap(errors.PhaseConfig, errors.KindNotFound, err, "locate executable")
	}
	return ResolveModulePath(c.Module.Path, filepath.Dir(exe)), nil
}

// ResolveModulePath joins a relative path onto dir.
func ResolveModulePath(path, dir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}

// MemorySpec returns the configured memory limits.
func (c *Config) MemorySpec() wasiboot.MemorySpec {
	return wasiboot.MemorySpec{
		Initial: c.Memory.InitialPages,
		Maximum: c.Memory.MaximumPages,
		Shared:  c.Memory.Shared,
	}
}

// Runtime converts the file configuration to a runtime.Config. A memfs
// is created when WASI.MemFS names a mount point.
func (c *Config) Runtime(log *zap.Logger) runtime.Config {
	rc := runtime.DefaultConfig()
	rc.Logger = log
	rc.Engine = &engine.Config{
		CompilationCacheDir: c.Engine.CacheDir,
		MemoryLimitPages:    c.Engine.MemoryLimitPages,
	}
	rc.Memory = c.MemorySpec()
	rc.MemoryNamespace = c.Memory.Namespace
	rc.MemoryName = c.Memory.Name
	rc.HostNamespace = c.Host.Namespace
	rc.AcosName = c.Host.Acos
	rc.AsinName = c.Host.Asin
	rc.ReservedNamespace = c.WASI.ReservedNamespace
	rc.ThreadSpawn = c.Threads.Spawn
	rc.ThreadStartFunc = c.Threads.StartFunc
	rc.Entry = c.Module.Entry
	rc.ModuleName = c.Module.Name

	if c.WASI.InheritStdio {
		rc.Stdin = os.Stdin
		rc.Stdout = os.Stdout
		rc.Stderr = os.Stderr
	}
	for _, p := range c.WASI.Preopens {
		rc.Preopens = append(rc.Preopens, runtime.Preopen{Host: p.Host, Guest: p.Guest, ReadOnly: p.ReadOnly})
	}
	if c.WASI.MemFS != "" {
		rc.MemFS = memfs.New()
		rc.MemFSMount = c.WASI.MemFS
	}
	return rc
}

// Logger builds a zap logger writing to stderr.
func (c *Config) Logger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.Log.Level)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "log level")
	}

	zc := zap.NewProductionConfig()
	if c.Log.Format == "console" {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}
	zc.DisableStacktrace = true

	return zc.Build()
}

// Schema returns the JSON schema of the configuration file.
func Schema() ([]byte, error) {
	reflector := jsonschema.Reflector{
		ExpandedStruct: true,
	}
	schema := reflector.Reflect(&Config{})

	out, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	return out, nil
}
