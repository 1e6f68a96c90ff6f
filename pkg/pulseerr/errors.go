// Package pulseerr defines the error kinds used across the simulation engine.
//
// Every error carries a Kind for programmatic handling and an optional
// human-readable Suggestion for CLI and log display. Errors wrap an
// underlying cause where one exists, so errors.Is/As work through them.
package pulseerr

import (
	"errors"
	"fmt"
)

// Kind classifies an engine error.
type Kind string

const (
	// KindConfiguration indicates a bad definition or engine configuration.
	KindConfiguration Kind = "configuration"
	// KindFileSystem indicates an I/O failure reading or writing files.
	KindFileSystem Kind = "filesystem"
	// KindParsing indicates malformed definition input.
	KindParsing Kind = "parsing"
	// KindDuplicateName indicates a service name collision within a loaded set.
	KindDuplicateName Kind = "duplicate_name"
	// KindValidation indicates a field-level schema violation.
	KindValidation Kind = "validation"
	// KindRuntime indicates a script, engine, or lock failure while serving.
	KindRuntime Kind = "runtime"
	// KindNotFound indicates a missing service, fixture, or log entry.
	KindNotFound Kind = "not_found"
)

// Error is the engine error type. Field is only set for validation errors.
type Error struct {
	Kind       Kind
	Message    string
	Field      string
	Suggestion string
	Err        error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Field != "" {
		msg = fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same Kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Kind == e.Kind
	}
	return false
}

// New creates an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an error of the given kind wrapping a cause.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Config creates a configuration error with a suggestion.
func Config(message, suggestion string) *Error {
	return &Error{Kind: KindConfiguration, Message: message, Suggestion: suggestion}
}

// Runtime creates a runtime error with a suggestion.
func Runtime(message, suggestion string) *Error {
	return &Error{Kind: KindRuntime, Message: message, Suggestion: suggestion}
}

// Runtimef creates a runtime error with a formatted message.
func Runtimef(format string, args ...any) *Error {
	return &Error{Kind: KindRuntime, Message: fmt.Sprintf(format, args...)}
}

// Validation creates a field-level validation error.
func Validation(field, message, suggestion string) *Error {
	return &Error{Kind: KindValidation, Field: field, Message: message, Suggestion: suggestion}
}

// Parsing creates a parsing error wrapping the decoder failure.
func Parsing(path string, err error) *Error {
	return &Error{
		Kind:       KindParsing,
		Message:    fmt.Sprintf("failed to parse %s", path),
		Suggestion: "check the file for YAML/JSON syntax errors",
		Err:        err,
	}
}

// DuplicateName creates a duplicate service name error.
func DuplicateName(name string) *Error {
	return &Error{
		Kind:       KindDuplicateName,
		Message:    fmt.Sprintf("service name %q is already defined", name),
		Suggestion: "service names must be unique across the definitions directory",
	}
}

// FileSystem creates a filesystem error wrapping an I/O failure.
func FileSystem(message string, err error) *Error {
	return &Error{Kind: KindFileSystem, Message: message, Err: err}
}

// NotFound creates a not-found error.
func NotFound(what string) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("%s not found", what)}
}

// IsKind reports whether err (or anything it wraps) is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// SuggestionOf extracts the suggestion from an error chain, if present.
func SuggestionOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Suggestion
	}
	return ""
}
