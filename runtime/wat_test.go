package runtime

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/wasi-bootstrap/errors"
)

func TestLoadWAT_Counter(t *testing.T) {
	ctx := context.Background()
	r, err := New(ctx, testConfig())
	require.NoError(t, err)
	defer r.Close(ctx)

	mod, err := r.LoadWAT(ctx, `(module
		(import "env" "memory" (memory 1 2 shared))
		(func (export "incr") (param $by i32) (result i32)
			(i32.atomic.rmw.add offset=64 (i32.const 0) (local.get $by)))
		(func (export "load") (result i32)
			(i32.atomic.load offset=64 (i32.const 0)))
		(func (export "_start")))`)
	require.NoError(t, err)
	assert.Empty(t, mod.Path())
	require.Len(t, mod.Imports(), 1)
	assert.Equal(t, "env#memory", mod.Imports()[0].Key())

	ec, err := r.PrepareModule(ctx, mod, nil)
	require.NoError(t, err)
	inst, err := r.Instantiate(ctx, ec)
	require.NoError(t, err)

	for _, by := range []int32{5, 7} {
		_, err := inst.Call(ctx, "incr", api.EncodeI32(by))
		require.NoError(t, err)
	}
	res, err := inst.Call(ctx, "load")
	require.NoError(t, err)
	assert.Equal(t, int32(12), api.DecodeI32(res[0]))

	v, ok := inst.Memory().Memory().ReadUint32Le(64)
	require.True(t, ok)
	assert.Equal(t, uint32(12), v)
}

func TestLoadWAT_Invalid(t *testing.T) {
	ctx := context.Background()
	r, err := New(ctx, testConfig())
	require.NoError(t, err)
	defer r.Close(ctx)

	_, err = r.LoadWAT(ctx, `(module (func (bogus)))`)
	require.Error(t, err)
	assert.True(t, errors.IsLoad(err))
	assert.Contains(t, err.Error(), "unknown instruction")
}

func TestReadModule_WAT(t *testing.T) {
	path := filepath.Join(t.TempDir(), "guest.WAT")
	require.NoError(t, os.WriteFile(path, []byte(`(module
		(import "env" "Math_asin" (func (param f64) (result f64)))
		(import "env" "memory" (memory 16384 16384 shared)))`), 0o644))

	decoded, bin, err := ReadModule(path)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x61, 0x73, 0x6D}, bin[:4])
	require.Len(t, decoded.Imports, 2)
	assert.Equal(t, "16384..16384 pages shared", decoded.Imports[1].Desc.Memory.String())

	bad := filepath.Join(t.TempDir(), "bad.wat")
	require.NoError(t, os.WriteFile(bad, []byte(`(module (memory 1 shared))`), 0o644))
	_, _, err = ReadModule(bad)
	require.Error(t, err)
	assert.True(t, errors.IsLoad(err))
}
