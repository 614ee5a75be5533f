// Package errors provides structured error types for the bootstrapper.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// The three fatal classes of the bootstrap sequence map as follows:
//
//	LoadError            Phase == PhaseLoad (file missing, unreadable, invalid WASM)
//	ImportMismatchError  *ImportMismatchError (declared imports not satisfied)
//	RuntimeTrapError     Phase == PhaseRuntime, Kind == KindTrap
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseLinking, errors.KindImportMismatch).
//		Path("env", "memory").
//		Detail("shared flag differs").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.Load("compile module", cause)
//	err := errors.Trap("_start", cause)
//
// All errors implement the standard error interface and support errors.Is/As.
package errors
