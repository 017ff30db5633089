package session

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidCredentials is returned when email or password do not match.
	// Unknown account and wrong password are deliberately indistinguishable.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrAccountUnverified is returned when the verified-account gate is
	// enabled and the account has not completed verification.
	ErrAccountUnverified = errors.New("account not verified")

	// ErrPinNotSet is returned when a refresh is attempted before the device
	// completed PIN setup.
	ErrPinNotSet = errors.New("pin not set")

	// ErrInvalidPin is returned when the presented PIN does not verify
	// against the session's PIN hash.
	ErrInvalidPin = errors.New("invalid pin")

	// ErrInvalidPinFormat is returned when the PIN is not the configured
	// fixed-length numeric string.
	ErrInvalidPinFormat = errors.New("invalid pin format")

	// ErrInvalidRefreshToken is returned when a refresh token matches no
	// active session, including the loser of a concurrent rotation race.
	ErrInvalidRefreshToken = errors.New("invalid refresh token")

	// ErrSessionExpired is returned when the session's refresh lifetime has
	// passed. Detection is fail-closed: the session is revoked first.
	ErrSessionExpired = errors.New("session expired")

	// ErrSessionNotFound is the store-level miss for id lookups.
	ErrSessionNotFound = errors.New("session not found")

	// ErrDeviceNotFound is returned when an operation targets a session that
	// does not exist or belongs to another account.
	ErrDeviceNotFound = errors.New("device not found")

	// ErrUnauthorized is the single failure outcome of Authenticate.
	// Callers are never told which check failed.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrPinLocked is returned when PIN verification is locked out after
	// repeated failures.
	ErrPinLocked = errors.New("pin locked")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)

// PinLockError carries retry metadata for PIN lockout.
type PinLockError struct {
	SessionID  string
	RetryAfter time.Duration
}

func (e PinLockError) Error() string {
	if e.RetryAfter <= 0 {
		return ErrPinLocked.Error()
	}
	return fmt.Sprintf("%s: retry after %s", ErrPinLocked.Error(), e.RetryAfter)
}

func (e PinLockError) Unwrap() error { return ErrPinLocked }
