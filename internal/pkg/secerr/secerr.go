// Package secerr defines the security rejection taxonomy. Every gate in the
// request pipeline resolves to one of these values so fail-open vs fail-closed
// decisions stay visible at the type level.
package secerr

import (
	"errors"
	"net/http"
)

var (
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrAccountBlocked      = errors.New("account blocked")
	ErrTokenRevoked        = errors.New("token revoked")
	ErrSessionInvalid      = errors.New("session invalid")
	ErrSessionUserMismatch = errors.New("session user mismatch")
	ErrFingerprintMismatch = errors.New("fingerprint mismatch")
	ErrNetworkMismatch     = errors.New("network mismatch")
	ErrUserAgentMismatch   = errors.New("user agent mismatch")
	ErrCsrfMissing         = errors.New("csrf token missing")
	ErrCsrfMismatch        = errors.New("csrf token mismatch")
	ErrStaleCsrf           = errors.New("csrf token stale")
	ErrSuspiciousActivity  = errors.New("suspicious activity")
	ErrAdminRequired       = errors.New("admin required")
	ErrFreshTokenRequired  = errors.New("fresh token required")
	ErrInternalSecurity    = errors.New("internal security error")
)

// Rejection is the structured result of a failed gate check.
type Rejection struct {
	Err     error
	Status  int
	Code    string // machine-readable code for step-up flows, may be empty
	Message string // short user-facing message, never internal details
}

// Reject builds the canonical rejection for a taxonomy error.
func Reject(err error) Rejection {
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return Rejection{err, http.StatusUnauthorized, "", "Invalid username or password"}
	case errors.Is(err, ErrAccountBlocked):
		return Rejection{err, http.StatusForbidden, "", "Your account has been blocked by an administrator"}
	case errors.Is(err, ErrTokenRevoked):
		return Rejection{err, http.StatusUnauthorized, "", "Token is no longer valid"}
	case errors.Is(err, ErrSessionInvalid):
		return Rejection{err, http.StatusUnauthorized, "", "Session is invalid or expired"}
	case errors.Is(err, ErrSessionUserMismatch):
		return Rejection{err, http.StatusUnauthorized, "", "Session does not match user"}
	case errors.Is(err, ErrFingerprintMismatch):
		return Rejection{err, http.StatusForbidden, "", "Operation blocked for security reasons, please sign in again"}
	case errors.Is(err, ErrNetworkMismatch):
		return Rejection{err, http.StatusPreconditionRequired, "REVERIFY_REQUIRED", "Network change detected, re-authentication required"}
	case errors.Is(err, ErrUserAgentMismatch):
		return Rejection{err, http.StatusForbidden, "", "Browser mismatch detected"}
	case errors.Is(err, ErrCsrfMissing):
		return Rejection{err, http.StatusForbidden, "", "CSRF token is missing"}
	case errors.Is(err, ErrCsrfMismatch):
		return Rejection{err, http.StatusForbidden, "", "CSRF check failed"}
	case errors.Is(err, ErrStaleCsrf):
		return Rejection{err, http.StatusForbidden, "", "CSRF token expired, please reload"}
	case errors.Is(err, ErrSuspiciousActivity):
		return Rejection{err, http.StatusPreconditionRequired, "SUSPICIOUS_ACTIVITY", "Suspicious activity detected, re-authentication required"}
	case errors.Is(err, ErrAdminRequired):
		return Rejection{err, http.StatusForbidden, "", "Administrator rights required"}
	case errors.Is(err, ErrFreshTokenRequired):
		return Rejection{err, http.StatusUnauthorized, "FRESH_TOKEN_REQUIRED", "A fresh authentication token is required for this operation"}
	default:
		// Unexpected internal failures fail closed.
		return Rejection{ErrInternalSecurity, http.StatusInternalServerError, "", "Security check failed"}
	}
}
