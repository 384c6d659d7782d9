// pkg/apierrors/errors.go
package apierrors

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind classifies an error for the client-facing surface.
type Kind int

const (
	BadRequest Kind = iota + 1
	Unauthenticated
	Forbidden
	NotFound
	Conflict
	TooManyRequests
	Internal
)

// String returns the wire name of the kind, used as error_type in responses.
func (k Kind) String() string {
	switch k {
	case BadRequest:
		return "bad_request"
	case Unauthenticated:
		return "unauthenticated"
	case Forbidden:
		return "forbidden"
	case NotFound:
		return "not_found"
	case Conflict:
		return "conflict"
	case TooManyRequests:
		return "too_many_requests"
	default:
		return "internal"
	}
}

// HTTPStatus maps the kind to its HTTP status code.
func (k Kind) HTTPStatus() int {
	switch k {
	case BadRequest:
		return http.StatusBadRequest
	case Unauthenticated:
		return http.StatusUnauthorized
	case Forbidden:
		return http.StatusForbidden
	case NotFound:
		return http.StatusNotFound
	case Conflict:
		return http.StatusConflict
	case TooManyRequests:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// FieldViolation describes a single invalid request field.
type FieldViolation struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error is a typed error carrying everything a handler needs to render a
// response: the kind, a client-safe detail, optional field violations and an
// optional Retry-After hint.
type Error struct {
	Kind       Kind
	Detail     string
	Violations []FieldViolation
	RetryAfter time.Duration
	cause      error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates an error of the given kind.
func New(kind Kind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

// Newf creates an error of the given kind with a formatted detail.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// Wrap attaches a cause that is kept out of the client response.
func Wrap(kind Kind, detail string, cause error) *Error {
	return &Error{Kind: kind, Detail: detail, cause: cause}
}

// Validation creates a BadRequest error carrying field violations.
func Validation(violations []FieldViolation) *Error {
	return &Error{
		Kind:       BadRequest,
		Detail:     "validation failed",
		Violations: violations,
	}
}

// RateLimited creates a TooManyRequests error with a Retry-After hint.
func RateLimited(retryAfter time.Duration) *Error {
	return &Error{
		Kind:       TooManyRequests,
		Detail:     "rate limit exceeded",
		RetryAfter: retryAfter,
	}
}

// KindOf extracts the kind from an error chain; unknown errors are Internal.
func KindOf(err error) Kind {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return Internal
}

// IsKind reports whether the error chain carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
