// Package errors provides structured error handling for storeflow.
// Errors carry a code for programmatic handling, free-form context and the
// capture site, so a stage failure can be reported with enough detail to act on.
package errors

import (
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strings"
)

// Code classifies an error for programmatic handling.
type Code string

const (
	// CodeSourceMissing marks a raw source that does not exist. Never fatal.
	CodeSourceMissing Code = "SOURCE_MISSING"
	// CodeParseFailure marks an unparsable source or a missing required column.
	CodeParseFailure Code = "PARSE_FAILURE"
	// CodeSinkFailure marks a table that could not be durably written.
	CodeSinkFailure Code = "SINK_FAILURE"
	// CodeStateIO marks a run-state read or write failure.
	CodeStateIO Code = "STATE_IO_FAILURE"
	// CodeValidationFailed is raised only when validation runs in fail-on-error mode.
	CodeValidationFailed Code = "VALIDATION_FAILED"
	// CodeConfigInvalid marks a configuration that failed validation.
	CodeConfigInvalid Code = "CONFIG_INVALID"
	// CodeInternal marks a recovered panic or an invariant breach.
	CodeInternal Code = "INTERNAL"

	CodeUnknown Code = "UNKNOWN"
)

// Error is the base error type for storeflow.
type Error struct {
	Code    Code
	Message string
	Cause   error
	Context map[string]interface{}
	Caller  string
}

// Error implements the error interface. Context keys are printed sorted so
// messages are stable across runs.
func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("[%s] %s", e.Code, e.Message))

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		sb.WriteString(" (")
		for i, k := range keys {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(fmt.Sprintf("%s=%v", k, e.Context[k]))
		}
		sb.WriteString(")")
	}

	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}

	return sb.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches another *Error with the same code, which makes the package
// sentinels usable with errors.Is.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// WithContext adds a context key to the error and returns it.
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates a new Error.
func New(code Code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Caller:  caller(2),
	}
}

// Newf creates a new Error with a formatted message.
func Newf(code Code, format string, args ...interface{}) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Caller:  caller(2),
	}
}

// Wrap wraps an existing error. It returns nil when err is nil.
func Wrap(err error, code Code, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Code:    code,
		Message: message,
		Cause:   err,
		Caller:  caller(2),
	}
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, code Code, format string, args ...interface{}) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   err,
		Caller:  caller(2),
	}
}

func caller(skip int) string {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return ""
	}
	if i := strings.LastIndex(file, "/"); i >= 0 {
		file = file[i+1:]
	}
	return fmt.Sprintf("%s:%d", file, line)
}

// Sentinels for errors.Is comparisons.
var (
	ErrSourceMissing    = &Error{Code: CodeSourceMissing, Message: "source missing"}
	ErrParseFailure     = &Error{Code: CodeParseFailure, Message: "parse failure"}
	ErrSinkFailure      = &Error{Code: CodeSinkFailure, Message: "sink failure"}
	ErrStateIO          = &Error{Code: CodeStateIO, Message: "run state I/O failure"}
	ErrValidationFailed = &Error{Code: CodeValidationFailed, Message: "validation failed"}
)

// --- Convenience constructors ---

// MissingColumn reports a required column absent from a table.
func MissingColumn(tableName, column string, available []string) *Error {
	return New(CodeParseFailure, "required column not found").
		WithContext("table", tableName).
		WithContext("column", column).
		WithContext("available", available)
}

// MissingTables reports inputs a stage needs that were not provided.
func MissingTables(stage string, names []string) *Error {
	return New(CodeParseFailure, "required tables missing").
		WithContext("stage", stage).
		WithContext("tables", strings.Join(names, ","))
}

// ParseError reports a source that could not be decoded.
func ParseError(source, format string, err error) *Error {
	return Wrap(err, CodeParseFailure, "parse error").
		WithContext("source", source).
		WithContext("format", format)
}

// --- Error checking utilities ---

// IsCode checks if an error has a specific code anywhere in its chain.
func IsCode(err error, code Code) bool {
	var sfErr *Error
	for err != nil {
		if errors.As(err, &sfErr) {
			if sfErr.Code == code {
				return true
			}
			err = sfErr.Cause
			continue
		}
		var multi *MultiError
		if errors.As(err, &multi) {
			for _, e := range multi.Errors {
				if IsCode(e, code) {
					return true
				}
			}
		}
		return false
	}
	return false
}

// GetCode extracts the outermost error code from an error.
func GetCode(err error) Code {
	var sfErr *Error
	if errors.As(err, &sfErr) {
		return sfErr.Code
	}
	return CodeUnknown
}

// MultiError collects multiple errors.
type MultiError struct {
	Errors []error
}

// Error implements the error interface.
func (m *MultiError) Error() string {
	if len(m.Errors) == 0 {
		return "no errors"
	}
	if len(m.Errors) == 1 {
		return m.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d errors occurred:\n", len(m.Errors)))
	for i, err := range m.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Unwrap exposes the collected errors to errors.Is and errors.As.
func (m *MultiError) Unwrap() []error {
	return m.Errors
}

// Add adds an error to the collection.
func (m *MultiError) Add(err error) {
	if err != nil {
		m.Errors = append(m.Errors, err)
	}
}

// HasErrors returns true if any errors were collected.
func (m *MultiError) HasErrors() bool {
	return len(m.Errors) > 0
}

// Combined returns nil if no errors, the single error if one, or the MultiError.
func (m *MultiError) Combined() error {
	switch len(m.Errors) {
	case 0:
		return nil
	case 1:
		return m.Errors[0]
	default:
		return m
	}
}
