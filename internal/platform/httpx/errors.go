// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/warden-admin/warden/internal/shared"
)

// StatusFor maps a domain error to its HTTP status code.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, shared.ErrInvalidCredentials),
		errors.Is(err, shared.ErrUnauthenticated),
		errors.Is(err, shared.ErrSessionRevoked),
		shared.IsTokenError(err):
		return http.StatusUnauthorized
	case errors.Is(err, shared.ErrInsufficientPermission):
		return http.StatusForbidden
	case errors.Is(err, shared.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, shared.ErrDuplicate), errors.Is(err, shared.ErrConflictingState):
		return http.StatusConflict
	case errors.Is(err, shared.ErrInvalidPermission), errors.Is(err, shared.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, shared.ErrTooManyAttempts):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// RespondError maps domain errors to HTTP responses using RFC7807. The detail
// never carries internal error text for authentication or server failures.
func RespondError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="warden"`)
	}
	Problem(w, status, http.StatusText(status), shared.UserSafeMessage(err))
}
