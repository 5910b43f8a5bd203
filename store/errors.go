package store

import (
	"errors"
	"fmt"
)

// ErrorCode classifies store failures.
type ErrorCode string

const (
	// CodeInvalidArgument indicates invalid input: malformed id lists,
	// invalid metadata keys, delete with no predicates.
	CodeInvalidArgument ErrorCode = "INVALID_ARGUMENT"
	// CodeSchema indicates a DDL failure not attributable to a benign race.
	CodeSchema ErrorCode = "SCHEMA"
	// CodeNotFound indicates a category that was never materialized.
	CodeNotFound ErrorCode = "NOT_FOUND"
	// CodeProvider indicates an embedding provider failure.
	CodeProvider ErrorCode = "PROVIDER"
)

// Error is a coded store error. The cause, when present, is reachable via
// errors.Unwrap for callers that need the underlying engine or provider error.
type Error struct {
	Code    ErrorCode
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func newValidationError(format string, args ...any) *Error {
	return &Error{Code: CodeInvalidArgument, Message: fmt.Sprintf(format, args...)}
}

func newSchemaError(msg string, cause error) *Error {
	return &Error{Code: CodeSchema, Message: msg, Cause: cause}
}

func newNotFoundError(format string, args ...any) *Error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf(format, args...)}
}

func newProviderError(msg string, cause error) *Error {
	return &Error{Code: CodeProvider, Message: msg, Cause: cause}
}

func hasCode(err error, code ErrorCode) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}

// IsValidation reports whether err is an invalid-argument error.
func IsValidation(err error) bool { return hasCode(err, CodeInvalidArgument) }

// IsSchema reports whether err is a schema error.
func IsSchema(err error) bool { return hasCode(err, CodeSchema) }

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool { return hasCode(err, CodeNotFound) }

// IsProvider reports whether err is an embedding provider error.
func IsProvider(err error) bool { return hasCode(err, CodeProvider) }
