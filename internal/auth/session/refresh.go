package session

import "stash/internal/security/token"

// newOpaqueRefreshToken mints a fresh opaque refresh token and the digest
// under which the store will index it.
func newOpaqueRefreshToken(nBytes int) (plain string, digestHex string, err error) {
	plain, err = token.NewOpaque(nBytes)
	if err != nil {
		return "", "", err
	}

	digestHex = token.DigestHex(plain) // 64 hex chars

	return plain, digestHex, nil
}
