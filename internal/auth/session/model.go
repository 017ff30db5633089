package session

import (
	"net"
	"time"
)

// Session mirrors one stash.sessions row: the durable binding between an
// account and a single device/client instance.
type Session struct {
	ID        string
	AccountID string

	// Digests of the current token pair. Raw token values are never stored;
	// lookups key on these, and unique indexes enforce global uniqueness of
	// the live token values.
	AccessTokenDigest  string
	RefreshTokenDigest string

	// PinHash is nil until the device completes PIN setup.
	PinHash *string

	// Descriptive, non-authoritative device context.
	DeviceLabel string
	UserAgent   *string
	IP          *net.IP

	CreatedAt  time.Time
	LastUsedAt *time.Time

	// ExpiresAt bounds the refresh token's lifetime, not the access token's.
	ExpiresAt time.Time

	RevokedAt        *time.Time
	RevocationReason *string
}

// Active reports whether the session may still authenticate or refresh.
func (s Session) Active() bool { return s.RevokedAt == nil }

// DeviceMeta is the descriptive client context captured at login.
type DeviceMeta struct {
	Label     string
	UserAgent string
	IP        net.IP
}

// DeviceUpdate is an explicit optional-field update for a device binding.
// Nil fields are left untouched.
type DeviceUpdate struct {
	Label *string
}

// Device is the listing view of an active session exposed to clients.
// The PIN hash itself is never part of it.
type Device struct {
	ID         string
	Label      string
	UserAgent  string
	CreatedAt  time.Time
	LastUsedAt *time.Time
	HasPin     bool
	Current    bool
}

// Identity is the resolved outcome of authenticating a bearer token.
type Identity struct {
	AccountID string
	SessionID string
}
