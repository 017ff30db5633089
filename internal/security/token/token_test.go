package token

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
)

func TestNewOpaque(t *testing.T) {
	a, err := NewOpaque(32)
	if err != nil {
		t.Fatalf("NewOpaque: %v", err)
	}
	b, err := NewOpaque(32)
	if err != nil {
		t.Fatalf("NewOpaque: %v", err)
	}

	if a == b {
		t.Fatal("two opaque tokens must not collide")
	}
	raw, err := base64.RawURLEncoding.DecodeString(a)
	if err != nil {
		t.Fatalf("token is not raw URL-safe base64: %v", err)
	}
	if len(raw) != 32 {
		t.Fatalf("expected 32 bytes of entropy, got %d", len(raw))
	}

	// Non-positive sizes fall back to the 32-byte default.
	c, err := NewOpaque(0)
	if err != nil {
		t.Fatalf("NewOpaque(0): %v", err)
	}
	if raw, _ := base64.RawURLEncoding.DecodeString(c); len(raw) != 32 {
		t.Fatalf("expected default entropy, got %d bytes", len(raw))
	}
}

func TestDigestHex_SHAFallbackWithoutKey(t *testing.T) {
	t.Setenv(HMACEnvKey, "")

	got := DigestHex("some-refresh-token")
	if got != HashSHA256Hex("some-refresh-token") {
		t.Fatal("without a key, DigestHex must be plain SHA-256")
	}
	if len(got) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(got))
	}
}

func TestDigestHex_HMACWithKey(t *testing.T) {
	key := strings.Repeat("k", 32)
	t.Setenv(HMACEnvKey, key)

	got := DigestHex("some-refresh-token")
	if got != HashHMACSHA256Hex("some-refresh-token", []byte(key)) {
		t.Fatal("with a key, DigestHex must be keyed HMAC")
	}
	if got == HashSHA256Hex("some-refresh-token") {
		t.Fatal("keyed digest must differ from unkeyed digest")
	}
}

func TestHMACKeyFromEnvPolicy(t *testing.T) {
	t.Setenv(HMACEnvKey, "")
	if _, err := HMACKeyFromEnv(32); !errors.Is(err, ErrHMACKeyMissing) {
		t.Fatalf("expected ErrHMACKeyMissing, got %v", err)
	}
	if HMACEnabled() {
		t.Fatal("HMACEnabled must be false without a key")
	}

	t.Setenv(HMACEnvKey, "short")
	if _, err := HMACKeyFromEnv(32); !errors.Is(err, ErrHMACKeyTooShort) {
		t.Fatalf("expected ErrHMACKeyTooShort, got %v", err)
	}
	if _, err := DigestHexRequireHMAC("tok", 32); !errors.Is(err, ErrHMACKeyTooShort) {
		t.Fatalf("expected ErrHMACKeyTooShort from enforced digest, got %v", err)
	}

	t.Setenv(HMACEnvKey, strings.Repeat("k", 32))
	key, err := HMACKeyFromEnv(32)
	if err != nil {
		t.Fatalf("HMACKeyFromEnv: %v", err)
	}
	digest, err := DigestHexRequireHMAC("tok", 32)
	if err != nil {
		t.Fatalf("DigestHexRequireHMAC: %v", err)
	}
	if digest != HashHMACSHA256Hex("tok", key) {
		t.Fatal("enforced digest must match keyed HMAC")
	}
}
