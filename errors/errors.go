package errors

import (
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
)

// Phase indicates where in the bootstrap sequence the error occurred
type Phase string

const (
	PhaseConfig  Phase = "config"  // configuration loading/validation
	PhaseLoad    Phase = "load"    // reading and compiling the module
	PhaseDecode  Phase = "decode"  // WASM binary decoding
	PhaseMemory  Phase = "memory"  // shared memory allocation
	PhaseHost    Phase = "host"    // host function registration
	PhaseLinking Phase = "linking" // import table assembly and matching
	PhaseRuntime Phase = "runtime" // instantiation and execution
)

// Kind categorizes the error
type Kind string

const (
	KindInvalidData    Kind = "invalid_data"
	KindInvalidInput   Kind = "invalid_input"
	KindNotFound       Kind = "not_found"
	KindUnsupported    Kind = "unsupported"
	KindOutOfBounds    Kind = "out_of_bounds"
	KindRegistration   Kind = "registration"
	KindImportMismatch Kind = "import_mismatch"
	KindInstantiation  Kind = "instantiation"
	KindTrap           Kind = "trap"
)

// Error is the structured error type used throughout the module
type Error struct {
	Cause  error
	Phase  Phase
	Kind   Kind
	Detail string
	Path   []string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Path sets the location path (e.g. namespace, field)
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// Load creates a module loading error. Load errors are fatal and
// happen before anything is instantiated.
func Load(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindInvalidData,
		Detail: detail,
		Cause:  cause,
	}
}

// LoadNotFound creates a load error for a missing module file.
func LoadNotFound(path string, cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("module %q not found", path),
		Cause:  cause,
	}
}

// Trap creates a runtime trap error for a fault during execution.
func Trap(function string, cause error) *Error {
	return &Error{
		Phase:  PhaseRuntime,
		Kind:   KindTrap,
		Path:   []string{function},
		Detail: "wasm trap",
		Cause:  cause,
	}
}

// Instantiation creates an instantiation error
func Instantiation(cause error) *Error {
	return &Error{
		Phase:  PhaseRuntime,
		Kind:   KindInstantiation,
		Detail: "instantiate module",
		Cause:  cause,
	}
}

// Registration creates a registration error
func Registration(phase Phase, namespace, name string, cause error) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindRegistration,
		Detail: fmt.Sprintf("register %s#%s", namespace, name),
		Cause:  cause,
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// Unsupported creates an unsupported feature error
func Unsupported(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Detail: what,
	}
}

// IssueKind classifies a single import problem.
type IssueKind string

const (
	IssueMissing   IssueKind = "missing"   // namespace or field not supplied
	IssueKindDiff  IssueKind = "kind"      // e.g. memory supplied where a function is imported
	IssueSignature IssueKind = "signature" // function type differs
	IssueLimits    IssueKind = "limits"    // memory limits or shared flag differ
)

// ImportIssue is one unresolved or incompatible import.
type ImportIssue struct {
	Namespace string // e.g. "env"
	Field     string // e.g. "Math_acos"
	Kind      IssueKind
	Want      string // what the module declares
	Have      string // what the import table supplies, empty when missing
}

// ImportMismatchError is returned when the import table does not satisfy the
// imports declared by the module. Instantiation is never attempted.
type ImportMismatchError struct {
	Issues []ImportIssue
}

// Add records an issue.
func (e *ImportMismatchError) Add(issue ImportIssue) {
	e.Issues = append(e.Issues, issue)
}

// Missing returns the "namespace#field" keys of missing imports.
func (e *ImportMismatchError) Missing() []string {
	var keys []string
	for _, issue := range e.Issues {
		if issue.Kind == IssueMissing {
			keys = append(keys, issue.Namespace+"#"+issue.Field)
		}
	}
	sort.Strings(keys)
	return keys
}

// demangleRust attempts to extract readable function name from mangled Rust symbol
func demangleRust(name string) string {
	// Rust mangled names start with _ZN
	if !strings.HasPrefix(name, "_ZN") {
		return name
	}

	// Format: _ZN<len><name><len><name>...E
	s := name[3:]
	var parts []string

	for len(s) > 0 && s[0] != 'E' {
		lenEnd := 0
		for lenEnd < len(s) && s[lenEnd] >= '0' && s[lenEnd] <= '9' {
			lenEnd++
		}
		if lenEnd == 0 {
			break
		}

		length := 0
		for i := 0; i < lenEnd; i++ {
			length = length*10 + int(s[i]-'0')
		}
		s = s[lenEnd:]

		if length > len(s) {
			break
		}

		part := s[:length]
		s = s[length:]

		// 17 char hash suffixes: h + 16 hex digits
		if isRustHash(part) {
			continue
		}
		parts = append(parts, part)
	}

	if len(parts) == 0 {
		return name
	}

	return strings.Join(parts, "::")
}

func isRustHash(part string) bool {
	if len(part) != 17 || part[0] != 'h' {
		return false
	}
	for i := 1; i < 17; i++ {
		c := part[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

func (e *ImportMismatchError) Error() string {
	if len(e.Issues) == 0 {
		return "[linking] import_mismatch: no imports specified"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[linking] import_mismatch: %d unsatisfied import(s):\n", len(e.Issues))

	// Group by namespace for cleaner output
	byNS := make(map[string][]ImportIssue)
	var nsOrder []string
	for _, issue := range e.Issues {
		if _, exists := byNS[issue.Namespace]; !exists {
			nsOrder = append(nsOrder, issue.Namespace)
		}
		byNS[issue.Namespace] = append(byNS[issue.Namespace], issue)
	}

	for _, ns := range nsOrder {
		b.WriteString("\n  ")
		b.WriteString(ns)
		b.WriteString(":\n")
		for _, issue := range byNS[ns] {
			b.WriteString("    - ")
			b.WriteString(demangleRust(issue.Field))
			b.WriteString(" (")
			b.WriteString(string(issue.Kind))
			if issue.Want != "" {
				b.WriteString(", want ")
				b.WriteString(issue.Want)
			}
			if issue.Have != "" {
				b.WriteString(", have ")
				b.WriteString(issue.Have)
			}
			b.WriteString(")\n")
		}
	}

	return strings.TrimSuffix(b.String(), "\n")
}

// Is reports whether target matches this error type
func (e *ImportMismatchError) Is(target error) bool {
	_, ok := target.(*ImportMismatchError)
	return ok
}

// IsLoad reports whether err is a load-phase error.
func IsLoad(err error) bool {
	var e *Error
	return stderrors.As(err, &e) && e.Phase == PhaseLoad
}

// IsImportMismatch reports whether err is, or wraps, an ImportMismatchError.
func IsImportMismatch(err error) bool {
	var e *ImportMismatchError
	return stderrors.As(err, &e)
}

// IsTrap reports whether err is a runtime trap.
func IsTrap(err error) bool {
	var e *Error
	return stderrors.As(err, &e) && e.Phase == PhaseRuntime && e.Kind == KindTrap
}
