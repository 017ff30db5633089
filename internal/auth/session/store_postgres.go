package session

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store using PostgreSQL (stash.sessions).
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a Postgres-backed session store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const sessionColumns = `
	id, account_id, access_token_digest, refresh_token_digest, pin_hash,
	device_label, user_agent, ip,
	created_at, last_used_at, expires_at, revoked_at, revocation_reason`

func scanSession(row pgx.Row) (Session, error) {
	var s Session
	err := row.Scan(
		&s.ID,
		&s.AccountID,
		&s.AccessTokenDigest,
		&s.RefreshTokenDigest,
		&s.PinHash,
		&s.DeviceLabel,
		&s.UserAgent,
		&s.IP,
		&s.CreatedAt,
		&s.LastUsedAt,
		&s.ExpiresAt,
		&s.RevokedAt,
		&s.RevocationReason,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, ErrSessionNotFound
	}
	if err != nil {
		return Session{}, err
	}
	return s, nil
}

// Create inserts a new session row.
func (s *PostgresStore) Create(ctx context.Context, in CreateInput) error {
	var ip net.IP
	if in.Meta.IP != nil {
		ip = in.Meta.IP
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO stash.sessions (
			id, account_id, access_token_digest, refresh_token_digest, pin_hash,
			device_label, user_agent, ip,
			created_at, last_used_at, expires_at, revoked_at, revocation_reason
		) VALUES (
			$1, $2, $3, $4, NULL,
			$5, $6, $7,
			$8, $8, $9, NULL, NULL
		)
	`, in.ID, in.AccountID, in.AccessDigest, in.RefreshDigest,
		in.Meta.Label, nullIfEmpty(in.Meta.UserAgent), ip, in.Now, in.ExpiresAt)
	return err
}

// GetByID loads a session row by id regardless of its active state.
func (s *PostgresStore) GetByID(ctx context.Context, sessionID string) (Session, error) {
	return scanSession(s.pool.QueryRow(ctx, `
		SELECT`+sessionColumns+`
		FROM stash.sessions
		WHERE id = $1
	`, sessionID))
}

// FindActiveByAccessDigest resolves an active session by access-token digest.
func (s *PostgresStore) FindActiveByAccessDigest(ctx context.Context, digest string) (Session, error) {
	return scanSession(s.pool.QueryRow(ctx, `
		SELECT`+sessionColumns+`
		FROM stash.sessions
		WHERE access_token_digest = $1 AND revoked_at IS NULL
	`, digest))
}

// FindActiveByRefreshDigest resolves an active session by refresh-token digest.
func (s *PostgresStore) FindActiveByRefreshDigest(ctx context.Context, digest string) (Session, error) {
	return scanSession(s.pool.QueryRow(ctx, `
		SELECT`+sessionColumns+`
		FROM stash.sessions
		WHERE refresh_token_digest = $1 AND revoked_at IS NULL
	`, digest))
}

// SetPin stores (or overwrites) the PIN hash of an active session.
func (s *PostgresStore) SetPin(ctx context.Context, now time.Time, sessionID, pinHash string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE stash.sessions
		SET pin_hash = $2, last_used_at = $3
		WHERE id = $1 AND revoked_at IS NULL
	`, sessionID, pinHash, now)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// Rotate replaces both token digests, conditional on the refresh digest that
// was read. A zero-row update means the session was revoked meanwhile or a
// concurrent rotation won the race.
func (s *PostgresStore) Rotate(ctx context.Context, now time.Time, sessionID, oldRefreshDigest, newAccessDigest, newRefreshDigest string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE stash.sessions
		SET access_token_digest = $3,
		    refresh_token_digest = $4,
		    last_used_at = $5
		WHERE id = $1 AND refresh_token_digest = $2 AND revoked_at IS NULL
	`, sessionID, oldRefreshDigest, newAccessDigest, newRefreshDigest, now)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// Touch updates last_used_at for an active session.
func (s *PostgresStore) Touch(ctx context.Context, now time.Time, sessionID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE stash.sessions
		SET last_used_at = $2
		WHERE id = $1 AND revoked_at IS NULL
	`, sessionID, now)
	return err
}

// Revoke marks one session revoked (idempotent).
func (s *PostgresStore) Revoke(ctx context.Context, now time.Time, sessionID, reason string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE stash.sessions
		SET revoked_at = $2, revocation_reason = $3
		WHERE id = $1 AND revoked_at IS NULL
	`, sessionID, now, reason)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// RevokeAllForAccount revokes every active session of the account.
func (s *PostgresStore) RevokeAllForAccount(ctx context.Context, now time.Time, accountID, reason string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE stash.sessions
		SET revoked_at = $2, revocation_reason = $3
		WHERE account_id = $1 AND revoked_at IS NULL
		RETURNING id
	`, accountID, now, reason)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListActiveForAccount returns the account's active sessions, most recently
// used first.
func (s *PostgresStore) ListActiveForAccount(ctx context.Context, accountID string) ([]Session, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT`+sessionColumns+`
		FROM stash.sessions
		WHERE account_id = $1 AND revoked_at IS NULL
		ORDER BY last_used_at DESC NULLS LAST, created_at DESC
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, s)
	}
	return list, rows.Err()
}

// UpdateDevice applies an optional-field update to an active session.
func (s *PostgresStore) UpdateDevice(ctx context.Context, now time.Time, sessionID string, upd DeviceUpdate) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE stash.sessions
		SET device_label = COALESCE($2, device_label),
		    last_used_at = $3
		WHERE id = $1 AND revoked_at IS NULL
	`, sessionID, upd.Label, now)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
