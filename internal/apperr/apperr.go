// Package apperr defines the tagged error kinds propagated across the
// chat core. Components never panic or use exceptions for expected
// conditions; they return a *Error with one of the Kinds below, and the
// api package translates it to an HTTP status code. The gateway package
// does not translate it to a WS error event; it logs the failure.
package apperr

import "fmt"

// Kind is the canonical category of a propagated error.
type Kind string

const (
	ValidationFailure Kind = "validation_failure"
	AuthMissing       Kind = "auth_missing"
	AuthInvalid       Kind = "auth_invalid"
	Forbidden         Kind = "forbidden"
	NotFound          Kind = "not_found"
	Conflict          Kind = "conflict"
	RateLimited       Kind = "rate_limited"
	Internal          Kind = "internal"
)

// Error is the tagged error value every component returns for an
// expected failure mode.
type Error struct {
	Kind       Kind
	Message    string
	RetryAfter int // seconds; only meaningful for RateLimited
	cause      error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New builds an *Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an *Error of the given kind, retaining cause for
// unwrapping and logging.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// RateLimit builds a RateLimited error carrying the retry-after hint.
func RateLimit(retryAfter int) *Error {
	return &Error{Kind: RateLimited, Message: "rate limit exceeded", RetryAfter: retryAfter}
}

// KindOf extracts the Kind from err, defaulting to Internal for errors
// that did not originate from this package.
func KindOf(err error) Kind {
	var e *Error
	if as(err, &e) {
		return e.Kind
	}
	return Internal
}

func as(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// HTTPStatus maps a Kind to the canonical HTTP status code from §7.
func (k Kind) HTTPStatus() int {
	switch k {
	case ValidationFailure:
		return 400
	case AuthMissing, AuthInvalid:
		return 401
	case Forbidden:
		return 403
	case NotFound:
		return 404
	case Conflict:
		return 409
	case RateLimited:
		return 429
	default:
		return 500
	}
}
