// Package errs defines the error taxonomy shared by the reconciler and the
// test runner.
//
// Every failure that reaches a user is an *Error carrying a Code plus enough
// context (object identity, expected vs. actual, underlying cause) to be
// actionable without re-running at a higher verbosity.
package errs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Code categorizes errors.
type Code string

const (
	// CodeConfig marks a malformed suite, config or project file. Fatal to the
	// run before any scope is allocated.
	CodeConfig Code = "CONFIG_ERROR"

	// CodeResolution marks an actor or credential resolution failure. Aborts
	// the owning suite only.
	CodeResolution Code = "RESOLUTION_ERROR"

	// CodeExecution marks a statement or HTTP call failure.
	CodeExecution Code = "EXECUTION_ERROR"

	// CodeSafety marks a Prune Guard rejection. Never downgraded.
	CodeSafety Code = "SAFETY_VIOLATION"

	// CodeDrift marks a dry-run mismatch between committed and source state.
	CodeDrift Code = "DRIFT_ERROR"

	// CodeTimeout marks a blocking operation that exceeded its bound. Handled
	// like CodeExecution.
	CodeTimeout Code = "TIMEOUT_ERROR"
)

// Error is the structured error used across surrealkit.
type Error struct {
	// Code identifies the error category.
	Code Code

	// Message is a human-readable description.
	Message string

	// Object identifies the affected schema object, suite, case or actor.
	Object string

	// Expected and Actual describe a mismatch when one exists.
	Expected string
	Actual   string

	// Details carries extra context such as a rendered diff.
	Details map[string]string

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Code))
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Object != "" {
		fmt.Fprintf(&b, " (object=%s)", e.Object)
	}
	if e.Expected != "" || e.Actual != "" {
		fmt.Fprintf(&b, ": expected %s, got %s", e.Expected, e.Actual)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// DetailKeys returns the detail keys in sorted order.
func (e *Error) DetailKeys() []string {
	keys := make([]string, 0, len(e.Details))
	for k := range e.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// CodeOf returns the code of the first *Error in err's chain, or "" if none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

func hasCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// IsConfig reports whether err is a ConfigError.
func IsConfig(err error) bool { return hasCode(err, CodeConfig) }

// IsResolution reports whether err is a ResolutionError.
func IsResolution(err error) bool { return hasCode(err, CodeResolution) }

// IsExecution reports whether err is an ExecutionError or a TimeoutError,
// which is treated as one.
func IsExecution(err error) bool {
	c := CodeOf(err)
	return c == CodeExecution || c == CodeTimeout
}

// IsSafety reports whether err is a SafetyViolation.
func IsSafety(err error) bool { return hasCode(err, CodeSafety) }

// IsDrift reports whether err is a DriftError.
func IsDrift(err error) bool { return hasCode(err, CodeDrift) }

// IsTimeout reports whether err is a TimeoutError.
func IsTimeout(err error) bool { return hasCode(err, CodeTimeout) }

// Config creates a ConfigError.
func Config(object, format string, args ...any) *Error {
	return &Error{Code: CodeConfig, Object: object, Message: fmt.Sprintf(format, args...)}
}

// WrapConfig creates a ConfigError around a cause.
func WrapConfig(object, message string, err error) *Error {
	return &Error{Code: CodeConfig, Object: object, Message: message, Err: err}
}

// Resolution creates a ResolutionError for an actor.
func Resolution(actor, message string, err error) *Error {
	return &Error{Code: CodeResolution, Object: actor, Message: message, Err: err}
}

// Execution creates an ExecutionError. If err is (or wraps) a context deadline
// the result is a TimeoutError instead.
func Execution(object, message string, err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return Timeout(object, message, err)
	}
	return &Error{Code: CodeExecution, Object: object, Message: message, Err: err}
}

// Timeout creates a TimeoutError.
func Timeout(object, message string, err error) *Error {
	return &Error{Code: CodeTimeout, Object: object, Message: message, Err: err}
}

// Safety creates a SafetyViolation.
func Safety(object, message string, details map[string]string) *Error {
	return &Error{Code: CodeSafety, Object: object, Message: message, Details: details}
}

// Drift creates a DriftError carrying a rendered diff.
func Drift(object, message, diff string) *Error {
	e := &Error{Code: CodeDrift, Object: object, Message: message}
	if diff != "" {
		e.Details = map[string]string{"diff": diff}
	}
	return e
}
