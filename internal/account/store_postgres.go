package account

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store over stash.accounts.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a Postgres-backed account reader.
func NewPostgresStore(pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, errors.New("account: nil pool")
	}
	return &PostgresStore{pool: pool}, nil
}

// LookupAuthByEmail resolves login material by normalized email.
func (s *PostgresStore) LookupAuthByEmail(ctx context.Context, email string) (Auth, error) {
	var a Auth

	err := s.pool.QueryRow(ctx, `
		SELECT id, email, display_name, password_hash, verified_at, disabled_at, created_at
		FROM stash.accounts
		WHERE email_norm = $1
	`, NormalizeEmail(email)).Scan(
		&a.Account.ID,
		&a.Account.Email,
		&a.Account.DisplayName,
		&a.PasswordHash,
		&a.Account.VerifiedAt,
		&a.DisabledAt,
		&a.Account.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Auth{}, ErrNotFound
	}
	if err != nil {
		return Auth{}, fmt.Errorf("account.LookupAuthByEmail: %w", err)
	}

	return a, nil
}

// LookupByID resolves the public fields of an account.
func (s *PostgresStore) LookupByID(ctx context.Context, accountID string) (Account, error) {
	var a Account

	err := s.pool.QueryRow(ctx, `
		SELECT id, email, display_name, verified_at, created_at
		FROM stash.accounts
		WHERE id = $1
	`, accountID).Scan(&a.ID, &a.Email, &a.DisplayName, &a.VerifiedAt, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, ErrNotFound
	}
	if err != nil {
		return Account{}, fmt.Errorf("account.LookupByID: %w", err)
	}

	return a, nil
}
