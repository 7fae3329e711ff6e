package auth

import "errors"

var (
	// ErrInvalidCredentials covers every login failure: unknown slug, unknown
	// email, wrong password, inactive user. Callers must not be able to tell
	// which check failed.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")

	// ErrInvalidToken covers every access-token verification failure:
	// signature, issuer, audience, type, expiry.
	ErrInvalidToken = errors.New("auth: invalid token")

	// ErrRefreshInvalid covers every rotation failure, including reuse of an
	// already-rotated token. The caller must re-authenticate.
	ErrRefreshInvalid = errors.New("auth: refresh token invalid or expired")

	ErrForbidden      = errors.New("auth: forbidden")
	ErrCrossTenant    = errors.New("auth: cross-tenant access denied")
	ErrTenantInactive = errors.New("auth: tenant suspended or inactive")
	ErrUserInactive   = errors.New("auth: user inactive")
	ErrConflict       = errors.New("auth: already exists")
	ErrInvalidInput   = errors.New("auth: invalid input")
	ErrWeakPassword   = errors.New("auth: password does not meet minimum length")
	ErrNotFound       = errors.New("auth: not found")
)
