// Package apperrors provides the structured error type shared by the engine.
// Statistical and collaborator problems are recovered where they happen; the
// errors that reach callers are persistence and validation failures.
package apperrors

import (
	"errors"
	"fmt"
)

// Category classifies errors by the layer that produced them.
type Category string

const (
	CategoryPersistence  Category = "PERSISTENCE"
	CategoryValidation   Category = "VALIDATION"
	CategoryCollaborator Category = "COLLABORATOR"
	CategoryInternal     Category = "INTERNAL"
)

// Error codes.
const (
	// Persistence codes
	CodeReadFailed  = "READ_FAILED"
	CodeWriteFailed = "WRITE_FAILED"
	CodeUnavailable = "UNAVAILABLE"

	// Validation codes
	CodeInvalidArgument = "INVALID_ARGUMENT"
	CodeNotFound        = "NOT_FOUND"

	// Collaborator codes
	CodeTransient = "TRANSIENT"
	CodePermanent = "PERMANENT"

	CodeUnexpected = "UNEXPECTED"
)

// Error is the structured error type used throughout the engine.
type Error struct {
	Category  Category
	Code      string
	Message   string
	Cause     error
	Retryable bool
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new Error.
func New(category Category, code, message string) *Error {
	return &Error{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Wrap creates a new Error wrapping cause.
func Wrap(category Category, code, message string, cause error) *Error {
	return &Error{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// Persistence wraps a storage failure. Persistence failures are retryable:
// the caller may re-run the whole operation.
func Persistence(code, message string, cause error) *Error {
	return Wrap(CategoryPersistence, code, message, cause)
}

// Validation creates a non-retryable input error.
func Validation(message string) *Error {
	return New(CategoryValidation, CodeInvalidArgument, message)
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// CategoryOf returns the category of the first Error in the chain, or
// CategoryInternal for foreign errors.
func CategoryOf(err error) Category {
	var e *Error
	if errors.As(err, &e) {
		return e.Category
	}
	return CategoryInternal
}

func isRetryable(category Category, code string) bool {
	switch category {
	case CategoryPersistence:
		return true
	case CategoryCollaborator:
		return code == CodeTransient
	default:
		return false
	}
}
