// Package apperr defines the gateway's error taxonomy and maps it to wire
// representations in one place, the way internal/store/errors.go and
// internal/api/problem.go do it for the teacher.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is a stable machine-readable error classification.
type Kind string

const (
	KindInvalidInput       Kind = "invalid_input"
	KindUnauthorized       Kind = "unauthorized"
	KindForbidden          Kind = "forbidden"
	KindNotFound           Kind = "not_found"
	KindConflict           Kind = "conflict"
	KindRateLimited        Kind = "rate_limited"
	KindCircuitOpen        Kind = "circuit_open"
	KindDependencyTimeout  Kind = "dependency_timeout"
	KindDependencyFailure  Kind = "dependency_failure"
	KindIntegrity          Kind = "integrity"
	KindTransient          Kind = "transient"
	KindFatal              Kind = "fatal"
)

// Error is the structured error type carried through the gateway's call
// chains. It always has a Kind; Code overrides the wire code when the
// default per-kind code isn't specific enough (e.g. auth sub-codes).
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an Error of the given kind, wrapping an underlying cause.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// WithCode attaches a stable wire code (e.g. "invalid_credentials").
func (e *Error) WithCode(code string) *Error {
	e.Code = code
	return e
}

// KindOf extracts the Kind from err, defaulting to KindFatal when err is not
// an *Error (or wraps one).
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindFatal
}

// defaultCodes maps a Kind to its stable machine code when the call site
// did not set one explicitly.
var defaultCodes = map[Kind]string{
	KindInvalidInput:      "invalid_input",
	KindUnauthorized:      "invalid_token",
	KindForbidden:         "insufficient_scope",
	KindNotFound:          "not_found",
	KindConflict:          "conflict",
	KindRateLimited:       "rate_limit_exceeded",
	KindCircuitOpen:       "service_unavailable",
	KindDependencyTimeout: "dependency_timeout",
	KindDependencyFailure: "dependency_failure",
	KindIntegrity:         "integrity_violation",
	KindTransient:         "transient_error",
	KindFatal:             "internal_error",
}

// WireCode returns the stable machine code for an error: the explicit Code
// if the error is an *Error and set one, otherwise the default for its Kind.
func WireCode(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		if ae.Code != "" {
			return ae.Code
		}
		if c, ok := defaultCodes[ae.Kind]; ok {
			return c
		}
	}
	return defaultCodes[KindFatal]
}

// HTTPStatus maps a Kind to the HTTP status code the API layer should use.
// This is the one place kind -> status lives, per spec.md REDESIGN FLAGS.
func HTTPStatus(kind Kind) int {
	switch kind {
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
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindCircuitOpen:
		return http.StatusServiceUnavailable
	case KindDependencyTimeout:
		return http.StatusGatewayTimeout
	case KindDependencyFailure:
		return http.StatusBadGateway
	case KindIntegrity:
		return http.StatusUnauthorized
	case KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Message returns a user-visible description, falling back to the error's
// own string when it's not an *Error.
func Message(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Message
	}
	return err.Error()
}
