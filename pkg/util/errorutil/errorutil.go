package errorutil

import (
	"errors"
	"fmt"
)

// Error codes surfaced by the data-access layer.
const (
	CodeStoreUnavailable = "STORE_UNAVAILABLE"
	CodeStatement        = "STATEMENT_ERROR"
	CodePermissionDenied = "PERMISSION_DENIED"
	CodeValidation       = "VALIDATION_FAILED"
	CodeNotFound         = "NOT_FOUND"
	CodeInternal         = "INTERNAL_ERROR"
)

// DomainError standardizes application errors.
type DomainError struct {
	Code    string
	Message string
	Details map[string]any
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is matches another DomainError by code so errors.Is works against the
// package-level sentinels.
func (e *DomainError) Is(target error) bool {
	other, ok := target.(*DomainError)
	if !ok || other.Message != "" {
		return false
	}
	return other.Code == e.Code
}

// Sentinels for errors.Is checks. Only Code is compared.
var (
	ErrStoreUnavailable = &DomainError{Code: CodeStoreUnavailable}
	ErrStatement        = &DomainError{Code: CodeStatement}
	ErrPermissionDenied = &DomainError{Code: CodePermissionDenied}
	ErrValidation       = &DomainError{Code: CodeValidation}
	ErrNotFound         = &DomainError{Code: CodeNotFound}
)

// NewDomainError constructs a DomainError.
func NewDomainError(code, message string, details map[string]any) *DomainError {
	return &DomainError{Code: code, Message: message, Details: details}
}

func NewValidationError(message string, details map[string]any) error {
	return NewDomainError(CodeValidation, message, details)
}

func NewNotFound(resource string, details map[string]any) error {
	if details == nil {
		details = map[string]any{}
	}
	return &DomainError{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Details: details,
	}
}

// NewPermissionDenied reports a failed explicit action check.
func NewPermissionDenied(action string, role string) error {
	return &DomainError{
		Code:    CodePermissionDenied,
		Message: fmt.Sprintf("role %q may not %s", role, action),
		Details: map[string]any{"action": action, "role": role},
	}
}

// NewStoreUnavailable wraps a transient store error that outlived the retry budget.
func NewStoreUnavailable(attempts int, err error) error {
	return &DomainError{
		Code:    CodeStoreUnavailable,
		Message: "store unavailable",
		Details: map[string]any{"attempts": attempts},
		Err:     err,
	}
}

// NewStatementError wraps a deterministic store failure. details carries the
// store's own diagnostics (sqlstate, constraint, message).
func NewStatementError(err error, details map[string]any) error {
	return &DomainError{
		Code:    CodeStatement,
		Message: "statement failed",
		Details: details,
		Err:     err,
	}
}

func NewInternalError(err error) error {
	return &DomainError{
		Code:    CodeInternal,
		Message: "internal error",
		Err:     err,
	}
}

// ToDomainError converts generic errors to DomainError.
func ToDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	return &DomainError{
		Code:    CodeInternal,
		Message: "internal error",
		Err:     err,
	}
}

// CodeOf returns the DomainError code carried by err, or "" when none.
func CodeOf(err error) string {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	return ""
}
