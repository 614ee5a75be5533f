package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		contains []string
	}{
		{
			name: "full error",
			err: &Error{
				Phase:  PhaseLinking,
				Kind:   KindImportMismatch,
				Path:   []string{"env", "memory"},
				Detail: "shared flag differs",
			},
			contains: []string{"[linking]", "import_mismatch", "env.memory", "shared flag differs"},
		},
		{
			name: "minimal error",
			err: &Error{
				Phase: PhaseDecode,
				Kind:  KindOutOfBounds,
			},
			contains: []string{"[decode]", "out_of_bounds"},
		},
		{
			name: "error with cause",
			err: &Error{
				Phase:  PhaseRuntime,
				Kind:   KindTrap,
				Detail: "wasm trap",
				Cause:  errors.New("unreachable"),
			},
			contains: []string{"[runtime]", "trap", "wasm trap", "caused by", "unreachable"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, s := range tt.contains {
				assert.Contains(t, msg, s)
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := Load("read module", cause)

	assert.ErrorIs(t, err.Unwrap(), cause)
	assert.ErrorIs(t, err, cause)
}

func TestError_Is(t *testing.T) {
	err := &Error{
		Phase: PhaseLoad,
		Kind:  KindNotFound,
		Path:  []string{"module.wasm"},
	}

	assert.True(t, err.Is(&Error{Phase: PhaseLoad, Kind: KindNotFound}))
	assert.False(t, err.Is(&Error{Phase: PhaseRuntime, Kind: KindNotFound}))
	assert.False(t, err.Is(&Error{Phase: PhaseLoad, Kind: KindInvalidData}))
	assert.ErrorIs(t, err, &Error{Phase: PhaseLoad, Kind: KindNotFound})
}

func TestBuilder(t *testing.T) {
	cause := errors.New("root")
	err := New(PhaseLinking, KindImportMismatch).
		Path("env", "Math_acos").
		Cause(cause).
		Detail("want %s, got %s", "(f64) -> f64", "(i32) -> i32").
		Build()

	assert.Equal(t, PhaseLinking, err.Phase)
	assert.Equal(t, KindImportMismatch, err.Kind)
	assert.Equal(t, []string{"env", "Math_acos"}, err.Path)
	assert.ErrorIs(t, err.Cause, cause)
	assert.Equal(t, "want (f64) -> f64, got (i32) -> i32", err.Detail)
}

func TestConvenienceConstructors(t *testing.T) {
	t.Run("Load", func(t *testing.T) {
		err := Load("compile module", errors.New("invalid magic number"))
		assert.Equal(t, PhaseLoad, err.Phase)
		assert.Equal(t, KindInvalidData, err.Kind)
	})

	t.Run("LoadNotFound", func(t *testing.T) {
		err := LoadNotFound("missing.wasm", errors.New("no such file"))
		assert.Equal(t, KindNotFound, err.Kind)
		assert.Contains(t, err.Error(), "missing.wasm")
	})

	t.Run("Trap", func(t *testing.T) {
		err := Trap("_start", errors.New("wasm error: unreachable"))
		assert.Equal(t, KindTrap, err.Kind)
		assert.Equal(t, []string{"_start"}, err.Path)
	})

	t.Run("InvalidInput", func(t *testing.T) {
		err := InvalidInput(PhaseConfig, "entry cannot be empty")
		assert.Equal(t, KindInvalidInput, err.Kind)
		assert.Equal(t, "[config] invalid_input: entry cannot be empty", err.Error())
	})

	t.Run("Registration", func(t *testing.T) {
		err := Registration(PhaseHost, "env", "Math_acos", errors.New("duplicate"))
		assert.Equal(t, "register env#Math_acos", err.Detail)
	})
}

func missingIssues(keys ...string) *ImportMismatchError {
	e := &ImportMismatchError{}
	for _, key := range keys {
		ns, field, _ := strings.Cut(key, "#")
		e.Add(ImportIssue{Namespace: ns, Field: field, Kind: IssueMissing})
	}
	return e
}

func TestPredicates(t *testing.T) {
	load := fmt.Errorf("bootstrap: %w", Load("read", errors.New("eof")))
	trap := fmt.Errorf("bootstrap: %w", Trap("_start", errors.New("unreachable")))
	mismatch := fmt.Errorf("bootstrap: %w", missingIssues("env#missing"))

	assert.True(t, IsLoad(load))
	assert.False(t, IsLoad(trap))

	assert.True(t, IsTrap(trap))
	assert.False(t, IsTrap(load))

	assert.True(t, IsImportMismatch(mismatch))
	assert.False(t, IsImportMismatch(trap))
}

func TestImportMismatchError(t *testing.T) {
	t.Run("single import", func(t *testing.T) {
		err := missingIssues("env#Math_atan")
		require.Len(t, err.Issues, 1)
		assert.Equal(t, "env", err.Issues[0].Namespace)
		assert.Equal(t, "Math_atan", err.Issues[0].Field)
		assert.Equal(t, IssueMissing, err.Issues[0].Kind)
	})

	t.Run("grouped by namespace", func(t *testing.T) {
		err := missingIssues(
			"env#Math_atan",
			"wasi#thread-spawn",
			"env#Math_tan",
		)
		err.Add(ImportIssue{
			Namespace: "env",
			Field:     "memory",
			Kind:      IssueLimits,
			Want:      "1..1 pages shared",
			Have:      "1..1 pages",
		})

		msg := err.Error()
		assert.Contains(t, msg, "4 unsatisfied")
		assert.Contains(t, msg, "env:")
		assert.Contains(t, msg, "wasi:")
		assert.Contains(t, msg, "memory (limits, want 1..1 pages shared, have 1..1 pages)")
		assert.Equal(t, []string{"env#Math_atan", "env#Math_tan", "wasi#thread-spawn"}, err.Missing())
	})

	t.Run("empty", func(t *testing.T) {
		err := missingIssues()
		assert.Contains(t, err.Error(), "no imports specified")
	})

	t.Run("errors.Is", func(t *testing.T) {
		err := missingIssues("ns#fn")
		assert.ErrorIs(t, err, &ImportMismatchError{})
	})
}

func TestDemangleRust(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{
			input:    "Math_acos",
			expected: "Math_acos",
		},
		{
			input:    "_ZN4core3ptr8write_fn17ha1b2c3d4e5f67890E",
			expected: "core::ptr::write_fn",
		},
		{
			input:    "_ZN9rspack_fs4read17h0123456789abcdefE",
			expected: "rspack_fs::read",
		},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, demangleRust(tt.input))
		})
	}
}
