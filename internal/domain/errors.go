package domain

import (
	"errors"
	"fmt"
)

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors are pure, with no infrastructure dependency.

var (
	// Lookup errors
	ErrTaskNotFound   = errors.New("task not found")
	ErrConvoyNotFound = errors.New("convoy not found")
	ErrHookNotFound   = errors.New("hook not found")

	// Hook errors
	ErrHookCorrupt      = errors.New("hook directory is incomplete or unreadable")
	ErrHookNotActive    = errors.New("hook is not active")
	ErrResultMismatch   = errors.New("hook result does not belong to hook")
	ErrNonTerminal      = errors.New("hook result status must be COMPLETE or FAILED")
	ErrInvalidHandoff   = errors.New("invalid handoff reason")
	ErrUnknownRole      = errors.New("unknown worker role")
	ErrRoleMismatch     = errors.New("context role does not match hook role")
	ErrExecutorRequired = errors.New("worker executor is required")

	// Validation errors (wrapped in *ValidationError)
	ErrCheckerSpecRequired = errors.New("CheckerSpec required")
	ErrNotDispatchable     = errors.New("task is not in a dispatchable state")
	ErrUnknownComponent    = errors.New("dependency references unknown component")
	ErrDependencyCycle     = errors.New("dependency cycle detected")
	ErrDuplicateComponent  = errors.New("duplicate component id")
	ErrEmptyConvoy         = errors.New("convoy has no components")
	ErrInvalidLimit        = errors.New("concurrency limit must be positive")

	// Gate errors
	ErrGateDenied = errors.New("gate denied dispatch")
)

// Validation error codes.
const (
	CodeCheckerSpecRequired = "CHECKER_SPEC_REQUIRED"
	CodeNotDispatchable     = "NOT_DISPATCHABLE"
	CodeUnknownComponent    = "UNKNOWN_COMPONENT"
	CodeDependencyCycle     = "DEPENDENCY_CYCLE"
	CodeDuplicateComponent  = "DUPLICATE_COMPONENT"
	CodeEmptyConvoy         = "EMPTY_CONVOY"
	CodeInvalidLimit        = "INVALID_LIMIT"
)

// ValidationError is an expected, typed failure. Callers branch on it with
// errors.As; it is never the result of an environment problem.
type ValidationError struct {
	Code    string
	Message string
	Err     error
}

// NewValidationError builds a ValidationError wrapping a sentinel.
func NewValidationError(code string, err error, format string, args ...any) *ValidationError {
	return &ValidationError{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

func (e *ValidationError) Error() string {
	if e.Message == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %s", e.Err, e.Message)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
