package account

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrNotFound is returned when no account matches the lookup.
var ErrNotFound = errors.New("account not found")

// Account carries the public fields of an account record.
type Account struct {
	ID          string
	Email       string
	DisplayName *string
	VerifiedAt  *time.Time
	CreatedAt   time.Time
}

// Auth carries what the session subsystem needs to verify a password.
// PasswordHash never leaves this subsystem.
type Auth struct {
	Account      Account
	PasswordHash string
	DisabledAt   *time.Time
}

// Store is the account lookup boundary consumed by the session service.
type Store interface {
	// LookupAuthByEmail resolves an account and its password hash by email.
	// Returns ErrNotFound when no account exists for the normalized email.
	LookupAuthByEmail(ctx context.Context, email string) (Auth, error)

	// LookupByID resolves the public fields of an account.
	LookupByID(ctx context.Context, accountID string) (Account, error)
}

// NormalizeEmail performs case-insensitive canonicalization.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
