package runtime

import (
	"crypto/rand"
	"strings"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/experimental/sysfs"
	"go.uber.org/zap"
)

// EnvVar is one environment entry.
type EnvVar struct {
	Key   string
	Value string
}

func (v EnvVar) String() string {
	return v.Key + "=" + v.Value
}

// WASIEnvironment is the argv and environ handed to the module. It is
// captured once and never changes.
type WASIEnvironment struct {
	args    []string
	environ []EnvVar
	skipped []string
}

// NewWASIEnvironment captures args and environ verbatim. Environ entries
// are KEY=VALUE split on the first '='. Entries that cannot be expressed
// to the guest (no '=', empty key, NUL byte) are kept aside and reported
// by Skipped.
func NewWASIEnvironment(args, environ []string) *WASIEnvironment {
	env := &WASIEnvironment{
		args:    append([]string(nil), args...),
		environ: make([]EnvVar, 0, len(environ)),
	}
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" || strings.ContainsRune(kv, 0) {
			env.skipped = append(env.skipped, kv)
			continue
		}
		env.environ = append(env.environ, EnvVar{Key: key, Value: value})
	}
	return env
}

// Args returns a copy of argv.
func (e *WASIEnvironment) Args() []string {
	return append([]string(nil), e.args...)
}

// Environ returns a copy of the environment in its original order.
func (e *WASIEnvironment) Environ() []EnvVar {
	return append([]EnvVar(nil), e.environ...)
}

// Skipped returns environ entries that were not passed to the guest.
func (e *WASIEnvironment) Skipped() []string {
	return append([]string(nil), e.skipped...)
}

// moduleConfig builds the per-instance WASI configuration. Every
// instance of the module, including spawned threads, gets the same one.
func (r *Runtime) moduleConfig(name string, env *WASIEnvironment) wazero.ModuleConfig {
	cfg := wazero.NewModuleConfig().
		WithName(name).
		WithArgs(env.args...).
		WithSysWalltime().
		WithSysNanotime().
		WithSysNanosleep().
		WithRandSource(rand.Reader).
		WithStartFunctions()

	for _, kv := range env.environ {
		cfg = cfg.WithEnv(kv.Key, kv.Value)
	}

	if r.cfg.Stdin != nil {
		cfg = cfg.WithStdin(r.cfg.Stdin)
	}
	if r.cfg.Stdout != nil {
		cfg = cfg.WithStdout(r.cfg.Stdout)
	}
	if r.cfg.Stderr != nil {
		cfg = cfg.WithStderr(r.cfg.Stderr)
	}

	if len(r.cfg.Preopens) == 0 && r.cfg.MemFS == nil {
		return cfg
	}

	fsCfg := wazero.NewFSConfig()
	for _, p := range r.cfg.Preopens {
		if p.ReadOnly {
			fsCfg = fsCfg.WithReadOnlyDirMount(p.Host, p.Guest)
		} else {
			fsCfg = fsCfg.WithDirMount(p.Host, p.Guest)
		}
	}
	if r.cfg.MemFS != nil {
		fsCfg = fsCfg.(sysfs.FSConfig).WithSysFSMount(r.cfg.MemFS, r.cfg.MemFSMount)
	}
	return cfg.WithFSConfig(fsCfg)
}

func (r *Runtime) logEnvironment(env *WASIEnvironment) {
	r.log.Debug("wasi environment",
		zap.Int("args", len(env.args)),
		zap.Int("environ", len(env.environ)),
		zap.Int("preopens", len(r.cfg.Preopens)),
		zap.Bool("memfs", r.cfg.MemFS != nil))
	for _, kv := range env.skipped {
		r.log.Warn("environment entry not passed to module", zap.String("entry", kv))
	}
}
