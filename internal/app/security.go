package app

import (
	"errors"

	"stash/internal/security/token"
)

// ValidateSecurityConfig enforces the token digest policy at startup.
// When STASH_REQUIRE_TOKEN_HMAC is set, the HMAC key must be present and at
// least 32 bytes, so production cannot silently fall back to unkeyed SHA-256
// digests.
func ValidateSecurityConfig(cfg Config) error {
	if !cfg.RequireTokenHMAC {
		return nil
	}

	// The key is used as raw bytes, so the minimum is measured in bytes.
	if _, err := token.HMACKeyFromEnv(32); err != nil {
		switch {
		case errors.Is(err, token.ErrHMACKeyMissing):
			return errors.New("security policy: STASH_REQUIRE_TOKEN_HMAC=true but STASH_TOKEN_HMAC_KEY is missing")
		case errors.Is(err, token.ErrHMACKeyTooShort):
			return errors.New("security policy: STASH_REQUIRE_TOKEN_HMAC=true but STASH_TOKEN_HMAC_KEY is too short (min 32 bytes)")
		default:
			return err
		}
	}

	// Guards against a future change reintroducing a SHA fallback under policy.
	if !token.HMACEnabled() {
		return errors.New("security policy: STASH_REQUIRE_TOKEN_HMAC=true but token hashing is not in HMAC mode")
	}

	return nil
}
