package backend

import (
	"errors"
	"fmt"
)

// ErrorKind classifies every failure the pipeline can surface. The envelope
// and the audit trail carry the kind verbatim.
type ErrorKind string

const (
	KindAmbiguousRoute       ErrorKind = "ambiguous_route"
	KindAwaitingConfirmation ErrorKind = "awaiting_confirmation"
	KindTokenExpired         ErrorKind = "token_expired"
	KindTokenInvalid         ErrorKind = "token_invalid"
	KindPolicyViolation      ErrorKind = "policy_violation"
	KindUnavailable          ErrorKind = "backend_unavailable"
	KindExecutionError       ErrorKind = "backend_execution_error"
	KindResultTooLarge       ErrorKind = "result_too_large"
	KindCancelled            ErrorKind = "cancelled"
	KindValidation           ErrorKind = "validation"
)

// Retryable reports whether the caller may usefully retry without editing
// the request.
func (k ErrorKind) Retryable() bool {
	return k == KindUnavailable
}

type Error struct {
	Kind    ErrorKind
	Backend ID
	Detail  string
	cause   error
}

func (e *Error) Error() string {
	if e.Backend != "" {
		return fmt.Sprintf("%s (%s): %s", e.Kind, e.Backend, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error {
	return e.cause
}

func NewError(kind ErrorKind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

func NewErrorf(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

func WrapError(kind ErrorKind, id ID, err error) *Error {
	return &Error{Kind: kind, Backend: id, Detail: err.Error(), cause: err}
}

// KindOf extracts the error kind, defaulting to backend_execution_error for
// anything untyped that leaks out of a driver.
func KindOf(err error) ErrorKind {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	return KindExecutionError
}

func IsKind(err error, kind ErrorKind) bool {
	var be *Error
	return errors.As(err, &be) && be.Kind == kind
}
