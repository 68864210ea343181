// Package apperr defines the error taxonomy shared by all services.
//
// Errors are classified by Kind, not by type: handlers translate kinds to
// HTTP statuses, clients translate statuses back to kinds, and call sites
// branch on IsKind/Is* helpers. Wrapping preserves the kind through %w.
package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/ashita-ai/rota/internal/model"
)

// Kind classifies an error for propagation policy and HTTP mapping.
type Kind int

const (
	// KindInternal is the zero value: unexpected failures, 500.
	KindInternal Kind = iota
	// KindInvalidInput is a malformed request: unknown severity, empty
	// service, bad JSON. Never retryable, 400.
	KindInvalidInput
	// KindNotFound is a missing referenced entity, 404.
	KindNotFound
	// KindConflict is a unique-key violation. Callers recover it into a
	// read of the existing row whenever possible; 409 only when they can't.
	KindConflict
	// KindConstraintExhausted means every candidate was vetoed, 422.
	KindConstraintExhausted
	// KindDependencyUnavailable is a downstream timeout or 5xx. Call sites
	// prefer degraded continuation; 503 when no degraded path exists.
	KindDependencyUnavailable
	// KindUnauthorized is a missing or invalid credential, 401.
	KindUnauthorized
	// KindForbidden is a valid credential without the needed grant, 403.
	KindForbidden
	// KindRateLimited is a client over its budget, 429.
	KindRateLimited
)

// Error carries a kind, a human message, and optional structured details
// (e.g. per-candidate filter reasons for KindConstraintExhausted).
type Error struct {
	Kind    Kind
	Message string
	Details any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// New creates an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates an error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap annotates err with a kind and message. Returns nil if err is nil.
func Wrap(kind Kind, message string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Err: err}
}

// WithDetails attaches structured details and returns the error.
func (e *Error) WithDetails(details any) *Error {
	e.Details = details
	return e
}

// KindOf extracts the kind from an error chain. Unclassified errors are
// KindInternal.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsNotFound reports whether err is a NotFound error.
func IsNotFound(err error) bool { return IsKind(err, KindNotFound) }

// IsConflict reports whether err is a Conflict error.
func IsConflict(err error) bool { return IsKind(err, KindConflict) }

// IsInvalidInput reports whether err is an InvalidInput error.
func IsInvalidInput(err error) bool { return IsKind(err, KindInvalidInput) }

// IsUnavailable reports whether err is a DependencyUnavailable error.
func IsUnavailable(err error) bool { return IsKind(err, KindDependencyUnavailable) }

// HTTPStatus maps a kind to its HTTP status code.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindConstraintExhausted:
		return http.StatusUnprocessableEntity
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindDependencyUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Code maps a kind to its machine-readable API error code.
func (k Kind) Code() string {
	switch k {
	case KindInvalidInput:
		return model.ErrCodeInvalidInput
	case KindUnauthorized:
		return model.ErrCodeUnauthorized
	case KindForbidden:
		return model.ErrCodeForbidden
	case KindNotFound:
		return model.ErrCodeNotFound
	case KindConflict:
		return model.ErrCodeConflict
	case KindConstraintExhausted:
		return model.ErrCodeConstraintExhausted
	case KindRateLimited:
		return model.ErrCodeRateLimited
	case KindDependencyUnavailable:
		return model.ErrCodeDependencyUnavailable
	default:
		return model.ErrCodeInternalError
	}
}

// KindFromCode maps a machine code back to its kind. Unknown codes map to
// KindInternal. Used by the typed HTTP clients.
func KindFromCode(code string) Kind {
	switch code {
	case model.ErrCodeInvalidInput:
		return KindInvalidInput
	case model.ErrCodeUnauthorized:
		return KindUnauthorized
	case model.ErrCodeForbidden:
		return KindForbidden
	case model.ErrCodeNotFound:
		return KindNotFound
	case model.ErrCodeConflict:
		return KindConflict
	case model.ErrCodeConstraintExhausted:
		return KindConstraintExhausted
	case model.ErrCodeRateLimited:
		return KindRateLimited
	case model.ErrCodeDependencyUnavailable:
		return KindDependencyUnavailable
	default:
		return KindInternal
	}
}
