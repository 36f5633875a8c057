package shared

import "errors"

// Authentication failures.
var (
	// ErrInvalidCredentials indicates login failure. Unknown usernames and wrong
	// passwords both map to this value.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrTooManyAttempts is returned while a username or address is throttled.
	ErrTooManyAttempts = errors.New("too many login attempts")
	// ErrUnauthenticated indicates a protected call without a bearer token.
	ErrUnauthenticated = errors.New("authentication required")
)

// Token failures reported by the session codec.
var (
	ErrTokenMalformed        = errors.New("token malformed")
	ErrTokenSignatureInvalid = errors.New("token signature invalid")
	ErrTokenExpired          = errors.New("token expired")
	// ErrSessionRevoked indicates a well-formed token whose subject no longer exists.
	ErrSessionRevoked = errors.New("session no longer valid")
)

// Authorization and store failures.
var (
	ErrInsufficientPermission = errors.New("insufficient permission")
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrInvalidPermission indicates a permission outside the catalog.
	ErrInvalidPermission = errors.New("invalid permission")
	// ErrConflictingState indicates a multi-edit operation that could not complete atomically.
	ErrConflictingState = errors.New("conflicting state")
	ErrDuplicate        = errors.New("duplicate entry")
	ErrValidation       = errors.New("validation failed")
)

// IsTokenError reports whether err is one of the codec decode failures.
func IsTokenError(err error) bool {
	return errors.Is(err, ErrTokenMalformed) ||
		errors.Is(err, ErrTokenSignatureInvalid) ||
		errors.Is(err, ErrTokenExpired)
}

// IsSuspicious reports whether a token failure hints at tampering rather than
// plain expiry.
func IsSuspicious(err error) bool {
	return errors.Is(err, ErrTokenMalformed) || errors.Is(err, ErrTokenSignatureInvalid)
}

// UserSafeMessage hides internal error detail from API responses.
func UserSafeMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid username or password"
	case errors.Is(err, ErrTooManyAttempts):
		return "too many login attempts, try again later"
	case IsTokenError(err), errors.Is(err, ErrSessionRevoked), errors.Is(err, ErrUnauthenticated):
		return "authentication required"
	case errors.Is(err, ErrInsufficientPermission):
		return "you do not have permission to perform this action"
	case errors.Is(err, ErrNotFound):
		return "resource not found"
	case errors.Is(err, ErrDuplicate):
		return "resource already exists"
	case errors.Is(err, ErrInvalidPermission), errors.Is(err, ErrValidation):
		return err.Error()
	case errors.Is(err, ErrConflictingState):
		return "the operation conflicted with a concurrent change, nothing was applied"
	default:
		return "internal error"
	}
}
