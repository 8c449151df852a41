package shared

import (
	"errors"
	"fmt"
)

// Error kinds. Every error surfaced by the access-control core wraps exactly one of these.
var (
	// ErrUnauthorized indicates a missing or invalid credential.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden indicates the caller is authenticated but not allowed.
	ErrForbidden = errors.New("forbidden")
	// ErrValidation indicates malformed or missing input.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrServer indicates a collaborator failed after retries were exhausted.
	ErrServer = errors.New("server error")
)

var (
	// ErrMissingCredential occurs when no bearer credential was supplied.
	ErrMissingCredential = fmt.Errorf("%w: missing credential", ErrUnauthorized)
	// ErrInvalidCredential occurs when the verifier rejects the credential.
	ErrInvalidCredential = fmt.Errorf("%w: invalid credential", ErrUnauthorized)
	// ErrMFACodeInvalid occurs when a supplied MFA code does not verify.
	ErrMFACodeInvalid = fmt.Errorf("%w: invalid mfa code", ErrUnauthorized)

	// ErrPermissionDenied occurs when a role assignment exceeds the caller's ceiling.
	ErrPermissionDenied = fmt.Errorf("%w: permission denied", ErrForbidden)
	// ErrProtectedTarget occurs when a protected identity is modified by a caller that may not.
	ErrProtectedTarget = fmt.Errorf("%w: target identity is protected", ErrForbidden)
	// ErrForbiddenOperation occurs for operations that are never allowed, such as removing the built-in admin.
	ErrForbiddenOperation = fmt.Errorf("%w: operation not allowed", ErrForbidden)
	// ErrNotAdmin occurs when an admin-only operation is requested by a non-staff identity.
	ErrNotAdmin = fmt.Errorf("%w: admin access required", ErrForbidden)

	// ErrInvalidRole occurs when a role value is not part of the role catalog.
	ErrInvalidRole = fmt.Errorf("%w: invalid role", ErrValidation)

	// ErrIdentityNotFound occurs when the identity has no profile record.
	ErrIdentityNotFound = fmt.Errorf("%w: identity not found", ErrNotFound)
	// ErrPermissionNotFound occurs when a permission name is not in the catalog.
	ErrPermissionNotFound = fmt.Errorf("%w: permission not found", ErrNotFound)

	// ErrCSRFTokenMissing occurs when CSRF token missing.
	ErrCSRFTokenMissing = fmt.Errorf("%w: csrf token missing", ErrValidation)
	// ErrCSRFTokenMismatch occurs when CSRF tokens do not match.
	ErrCSRFTokenMismatch = fmt.Errorf("%w: csrf token mismatch", ErrForbidden)
	// ErrSessionInvalid occurs when a session-state cookie fails verification or has gone idle.
	ErrSessionInvalid = fmt.Errorf("%w: session invalid", ErrUnauthorized)
)

// Validation builds a validation error with a caller-facing message.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Server wraps an internal failure. The cause stays in the chain for logging only.
func Server(op string, err error) error {
	return &ServerError{Op: op, Err: err}
}

// ServerError hides collaborator details from callers while keeping them for logs.
type ServerError struct {
	Op  string
	Err error
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap exposes both the kind and the cause.
func (e *ServerError) Unwrap() []error {
	return []error{ErrServer, e.Err}
}
