// Package dumperr provides the structured error type used across xresdump.
//
// Every failure carries the component and operation that produced it, a
// standard error code and an error class. The class maps onto the run-level
// policy of the dumper: configuration, schema, binary and output errors are
// reported and remembered, but never stop the processing of other inputs.
package dumperr

import (
	"errors"
	"fmt"
	"strings"
)

// Standard error codes.
const (
	// ErrCodeInvalidRule indicates a regex rule that does not compile
	ErrCodeInvalidRule = "INVALID_RULE"

	// ErrCodeRuleFileUnreadable indicates a rule or path list file that cannot be read
	ErrCodeRuleFileUnreadable = "RULE_FILE_UNREADABLE"

	// ErrCodeInvalidConfig indicates an incomplete or inconsistent configuration
	ErrCodeInvalidConfig = "INVALID_CONFIG"

	// ErrCodeNotFound indicates an unknown file, message or enum name
	ErrCodeNotFound = "NOT_FOUND"

	// ErrCodeDuplicateDefinition indicates a file, message or enum registered twice
	ErrCodeDuplicateDefinition = "DUPLICATE_DEFINITION"

	// ErrCodeDependencyFailed indicates a dependency of a file could not be resolved
	ErrCodeDependencyFailed = "DEPENDENCY_FAILED"

	// ErrCodeCyclicDependency indicates a file depends on itself through its imports
	ErrCodeCyclicDependency = "CYCLIC_DEPENDENCY"

	// ErrCodeBuildFailed indicates the descriptor builder rejected a file
	ErrCodeBuildFailed = "BUILD_FAILED"

	// ErrCodeInconsistentSchema indicates a built file lacks an indexed declaration
	ErrCodeInconsistentSchema = "INCONSISTENT_SCHEMA"

	// ErrCodeReadFailed indicates an input file could not be read
	ErrCodeReadFailed = "READ_FAILED"

	// ErrCodeCorruptEnvelope indicates a binary that is not a valid data block envelope
	ErrCodeCorruptEnvelope = "CORRUPT_ENVELOPE"

	// ErrCodeMissingMessageType indicates an envelope without data_message_type
	ErrCodeMissingMessageType = "MISSING_MESSAGE_TYPE"

	// ErrCodeRowDecodeFailed indicates a row that does not decode against its schema
	ErrCodeRowDecodeFailed = "ROW_DECODE_FAILED"

	// ErrCodeOutputFailed indicates an output file could not be created or written
	ErrCodeOutputFailed = "OUTPUT_FAILED"
)

// Class categorizes errors by the stage of the run they belong to.
type Class string

const (
	// ClassConfiguration covers malformed rules and unreadable rule files.
	ClassConfiguration Class = "configuration"

	// ClassSchema covers descriptor registration and resolution failures.
	ClassSchema Class = "schema"

	// ClassBinary covers unreadable binaries, corrupt envelopes and bad rows.
	ClassBinary Class = "binary"

	// ClassOutput covers failures writing output files.
	ClassOutput Class = "output"
)

// Error is a structured error for dump operations.
type Error struct {
	// Component is the package or subsystem that generated the error
	Component string

	// Operation is the specific operation that failed
	Operation string

	// Code is a standard error code constant
	Code string

	// Message is a human-readable error message
	Message string

	// Class categorizes the error, defaults to DefaultClassForCode(Code)
	Class Class

	// Details contains additional context as key-value pairs
	Details map[string]any

	// Cause is the underlying error that caused this error
	Cause error
}

// New creates a new structured error. The class is derived from the code and
// can be overridden with WithClass.
//
// Example:
//
//	err := dumperr.New("descindex", "resolve_file", dumperr.ErrCodeNotFound,
//	    "proto file item.proto not found")
func New(component, operation, code, message string) *Error {
	return &Error{
		Component: component,
		Operation: operation,
		Code:      code,
		Message:   message,
		Class:     DefaultClassForCode(code),
	}
}

// Newf is New with a formatted message.
func Newf(component, operation, code, format string, args ...any) *Error {
	return New(component, operation, code, fmt.Sprintf(format, args...))
}

// WithCause adds an underlying error to this error.
// This method returns the same error instance for method chaining.
func (e *Error) WithCause(err error) *Error {
	e.Cause = err
	return e
}

// WithDetails adds additional context to this error.
// This method returns the same error instance for method chaining.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// WithClass overrides the error class.
func (e *Error) WithClass(class Class) *Error {
	e.Class = class
	return e
}

// Error formats the error as "component [operation/code]: message: cause".
func (e *Error) Error() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("%s [%s/%s]", e.Component, e.Operation, e.Code))

	if e.Message != "" {
		parts = append(parts, e.Message)
	}

	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	return strings.Join(parts, ": ")
}

// Unwrap returns the underlying cause error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports equality for errors.Is(). Two Error values are equal if they
// have the same Component, Operation and Code. Empty fields in the target act
// as wildcards, so New("", "", code, "") matches any error with that code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Component != "" && t.Component != e.Component {
		return false
	}
	if t.Operation != "" && t.Operation != e.Operation {
		return false
	}
	return t.Code == "" || t.Code == e.Code
}

// DefaultClassForCode returns the class an error code belongs to.
func DefaultClassForCode(code string) Class {
	switch code {
	case ErrCodeInvalidRule, ErrCodeRuleFileUnreadable, ErrCodeInvalidConfig:
		return ClassConfiguration
	case ErrCodeNotFound, ErrCodeDuplicateDefinition, ErrCodeDependencyFailed,
		ErrCodeCyclicDependency, ErrCodeBuildFailed, ErrCodeInconsistentSchema:
		return ClassSchema
	case ErrCodeReadFailed, ErrCodeCorruptEnvelope, ErrCodeMissingMessageType,
		ErrCodeRowDecodeFailed:
		return ClassBinary
	case ErrCodeOutputFailed:
		return ClassOutput
	default:
		return ""
	}
}

// HasCode reports whether any error in err's chain (including joined errors)
// is an *Error with the given code.
func HasCode(err error, code string) bool {
	return errors.Is(err, &Error{Code: code})
}

// ClassOf returns the class of the first *Error in err's chain, or "" when
// err carries no structured error.
func ClassOf(err error) Class {
	var e *Error
	if errors.As(err, &e) {
		return e.Class
	}
	return ""
}

// CodeOf returns the code of the first *Error in err's chain.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
