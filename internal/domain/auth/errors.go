package auth

import (
	"net/http"

	"github.com/go-faster/errors"
)

// Kind classifies an authentication or validation failure. Every failure in
// the trust layer carries exactly one Kind; the HTTP boundary translates it
// into a status code and the uniform error envelope exactly once.
type Kind int

const (
	// KindForbidden covers missing, invalid, or expired perimeter
	// credentials.
	KindForbidden Kind = iota + 1
	// KindUnauthorized covers missing or invalid session tokens, failed
	// password checks, and password-attempt lockouts.
	KindUnauthorized
	// KindBadRequest covers malformed, expired, or already-consumed
	// refresh/reset/verification tokens and invalid request bodies.
	KindBadRequest
	// KindConflict covers duplicate unique fields at registration.
	KindConflict
	// KindRateLimited maps to HTTP 429 and is distinct from Forbidden and
	// Unauthorized even though all three deny access.
	KindRateLimited
	// KindUnavailable covers upstream network failures during proxying.
	KindUnavailable
)

// HTTPStatus returns the wire status code for the kind.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindForbidden:
		return http.StatusForbidden
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindBadRequest:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Error is a typed trust-layer failure. The Message is safe to show to
// clients; it never contains secrets or upstream error bodies.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Forbidden builds a perimeter-credential failure.
func Forbidden(msg string) *Error {
	return &Error{Kind: KindForbidden, Message: msg}
}

// Unauthorized builds a session or password failure.
func Unauthorized(msg string) *Error {
	return &Error{Kind: KindUnauthorized, Message: msg}
}

// BadRequest builds a malformed-input or consumed-token failure.
func BadRequest(msg string) *Error {
	return &Error{Kind: KindBadRequest, Message: msg}
}

// Conflict builds a duplicate-unique-field failure.
func Conflict(msg string) *Error {
	return &Error{Kind: KindConflict, Message: msg}
}

// RateLimited builds an admission-control rejection.
func RateLimited(msg string) *Error {
	return &Error{Kind: KindRateLimited, Message: msg}
}

// Unavailable builds an upstream-failure error.
func Unavailable(msg string) *Error {
	return &Error{Kind: KindUnavailable, Message: msg}
}

// KindOf unwraps err looking for a typed trust-layer failure and returns its
// Kind. The second result is false for untyped errors.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}
