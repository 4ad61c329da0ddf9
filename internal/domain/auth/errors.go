package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/Anvoria/tradeauth/internal/domain/token"
)

var (
	ErrTokenMalformed    = token.ErrTokenMalformed
	ErrTokenExpired      = token.ErrTokenExpired
	ErrTokenTypeMismatch = token.ErrTokenTypeMismatch

	// ErrTokenRevoked is returned for a token whose id sits in the revocation registry
	ErrTokenRevoked = errors.New("token revoked")
	// ErrSessionNotFound is returned when no active session owns the token or id
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExpired is returned when the session's refresh window has passed
	ErrSessionExpired = errors.New("session expired")
	// ErrStaleTokenReplay is returned when a concurrent refresh already rotated the session
	ErrStaleTokenReplay = errors.New("stale refresh token replay")
	// ErrAccountLocked is returned while the identifier is locked out
	ErrAccountLocked = errors.New("account locked")
	// ErrForbidden is returned when a caller acts on a session it does not own
	ErrForbidden = errors.New("forbidden")
	// ErrInfrastructureUnavailable is returned when a backing store cannot answer.
	// Security decisions fail closed on it.
	ErrInfrastructureUnavailable = errors.New("infrastructure unavailable")
	// ErrInvalidCredentials is returned by a CredentialVerifier on a bad identifier or secret
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// LockedError carries how long the identifier stays locked
type LockedError struct {
	Identifier string
	RetryAfter time.Duration
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("account locked, retry after %s", e.RetryAfter)
}

func (e *LockedError) Unwrap() error {
	return ErrAccountLocked
}

// IsReauthenticate reports whether err means the client must log in again.
// All of these render the same message so callers cannot tell them apart.
func IsReauthenticate(err error) bool {
	switch {
	case errors.Is(err, ErrTokenMalformed),
		errors.Is(err, ErrTokenExpired),
		errors.Is(err, ErrTokenTypeMismatch),
		errors.Is(err, ErrTokenRevoked),
		errors.Is(err, ErrSessionNotFound),
		errors.Is(err, ErrSessionExpired),
		errors.Is(err, ErrStaleTokenReplay):
		return true
	}
	return false
}

// infraError wraps a backing store failure
func infraError(component string, err error) error {
	return fmt.Errorf("%s: %w: %w", component, ErrInfrastructureUnavailable, err)
}
