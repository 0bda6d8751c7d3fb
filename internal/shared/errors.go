package shared

import "errors"

// Error taxonomy shared by the authorization and ledger layers. Handlers map
// these to HTTP responses via httpx.RespondError.
var (
	// ErrUnauthorized indicates no valid principal.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden indicates a valid principal with insufficient rights.
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound indicates a referenced record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates a duplicate unique key or a guarded delete.
	ErrConflict = errors.New("conflict")
	// ErrInvalidInput indicates a schema or range violation.
	ErrInvalidInput = errors.New("invalid input")
	// ErrInsufficientCredit indicates quota exhaustion, distinct from rights.
	ErrInsufficientCredit = errors.New("insufficient credit")
	// ErrStoreTimeout indicates a store call exceeded its deadline.
	ErrStoreTimeout = errors.New("store timeout")
	// ErrStoreUnavailable indicates a transient store failure.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrCSRFTokenMissing occurs when CSRF token missing.
	ErrCSRFTokenMissing = errors.New("csrf token missing")
	// ErrCSRFTokenMismatch occurs when CSRF tokens do not match.
	ErrCSRFTokenMismatch = errors.New("csrf token mismatch")
)
