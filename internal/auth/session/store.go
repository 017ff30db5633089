package session

import (
	"context"
	"time"
)

// CreateInput describes a new session row. The token digests are computed by
// the service; the store never sees raw token values.
type CreateInput struct {
	ID        string
	AccountID string

	AccessDigest  string
	RefreshDigest string

	Meta DeviceMeta

	Now       time.Time
	ExpiresAt time.Time
}

// Store abstracts persistence for session state.
//
// Every "active" lookup filters on revoked_at being unset. Rotate and the
// revocation operations are single-row conditional updates keyed by session
// id, and report via their boolean result whether a row actually changed so
// callers can map a lost race to the right error.
type Store interface {
	// Create inserts a new session row. The unique indexes on the token
	// digests are the final authority on token uniqueness.
	Create(ctx context.Context, in CreateInput) error

	// GetByID loads a session row by id regardless of its active state.
	// Returns ErrSessionNotFound on a miss.
	GetByID(ctx context.Context, sessionID string) (Session, error)

	// FindActiveByAccessDigest resolves an active session holding the given
	// access-token digest. Returns ErrSessionNotFound on a miss.
	FindActiveByAccessDigest(ctx context.Context, digest string) (Session, error)

	// FindActiveByRefreshDigest resolves an active session holding the given
	// refresh-token digest. Returns ErrSessionNotFound on a miss.
	FindActiveByRefreshDigest(ctx context.Context, digest string) (Session, error)

	// SetPin stores (or overwrites) the PIN hash of an active session.
	// Returns false when the session is missing or revoked.
	SetPin(ctx context.Context, now time.Time, sessionID, pinHash string) (bool, error)

	// Rotate atomically replaces both token digests on the session row,
	// conditional on the row still holding oldRefreshDigest and being
	// active. Returns false when the condition did not hold; the caller
	// treats that as an invalid refresh token (double-spend race included).
	Rotate(ctx context.Context, now time.Time, sessionID, oldRefreshDigest, newAccessDigest, newRefreshDigest string) (bool, error)

	// Touch updates last_used_at for an active session.
	Touch(ctx context.Context, now time.Time, sessionID string) error

	// Revoke marks one session revoked. Returns false when it was already
	// revoked or does not exist (the operation stays idempotent).
	Revoke(ctx context.Context, now time.Time, sessionID, reason string) (bool, error)

	// RevokeAllForAccount revokes every active session of the account and
	// returns the ids that were revoked. Idempotent: a second call returns
	// an empty slice and no error.
	RevokeAllForAccount(ctx context.Context, now time.Time, accountID, reason string) ([]string, error)

	// ListActiveForAccount returns the account's active sessions, most
	// recently used first.
	ListActiveForAccount(ctx context.Context, accountID string) ([]Session, error)

	// UpdateDevice applies an optional-field update to an active session.
	// Returns false when the session is missing or revoked.
	UpdateDevice(ctx context.Context, now time.Time, sessionID string, upd DeviceUpdate) (bool, error)
}
