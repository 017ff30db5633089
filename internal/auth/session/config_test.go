package session

import (
	"errors"
	"testing"
	"time"

	paseto "aidanwoods.dev/go-paseto"
)

func testKeyHex() string {
	return paseto.NewV4AsymmetricSecretKey().ExportHex()
}

func TestLoadConfigFromEnv_Defaults(t *testing.T) {
	t.Setenv("STASH_PASETO_V4_SECRET_KEY_HEX", testKeyHex())

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("LoadConfigFromEnv: %v", err)
	}

	if cfg.AccessTokenTTL != 15*time.Minute {
		t.Fatalf("unexpected access TTL: %v", cfg.AccessTokenTTL)
	}
	if cfg.RefreshTTL != 30*24*time.Hour {
		t.Fatalf("unexpected refresh TTL: %v", cfg.RefreshTTL)
	}
	if cfg.RefreshTokenBytes != 32 {
		t.Fatalf("unexpected refresh token bytes: %d", cfg.RefreshTokenBytes)
	}
	if cfg.PinLength != 6 {
		t.Fatalf("unexpected pin length: %d", cfg.PinLength)
	}
	if !cfg.PinLockout.Enabled {
		t.Fatalf("expected lockout enabled by default")
	}
}

func TestLoadConfigFromEnv_MissingKey(t *testing.T) {
	t.Setenv("STASH_PASETO_V4_SECRET_KEY_HEX", "")

	if _, err := LoadConfigFromEnv(); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}

func TestLoadConfigFromEnv_Overrides(t *testing.T) {
	t.Setenv("STASH_PASETO_V4_SECRET_KEY_HEX", testKeyHex())
	t.Setenv("STASH_AUTH_ACCESS_TTL", "5m")
	t.Setenv("STASH_AUTH_REFRESH_TTL", "72h")
	t.Setenv("STASH_AUTH_PIN_LENGTH", "8")
	t.Setenv("STASH_AUTH_REQUIRE_VERIFIED", "true")
	t.Setenv("STASH_AUTH_PIN_LOCKOUT_SHORT_THRESHOLD", "3")
	t.Setenv("STASH_AUTH_PIN_LOCKOUT_SHORT_DURATION", "1m")

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("LoadConfigFromEnv: %v", err)
	}
	if cfg.AccessTokenTTL != 5*time.Minute {
		t.Fatalf("unexpected access TTL: %v", cfg.AccessTokenTTL)
	}
	if cfg.RefreshTTL != 72*time.Hour {
		t.Fatalf("unexpected refresh TTL: %v", cfg.RefreshTTL)
	}
	if cfg.PinLength != 8 {
		t.Fatalf("unexpected pin length: %d", cfg.PinLength)
	}
	if !cfg.RequireVerified {
		t.Fatalf("expected verified gate enabled")
	}
	if cfg.PinLockout.ShortThreshold != 3 || cfg.PinLockout.ShortDuration != time.Minute {
		t.Fatalf("unexpected short tier: %+v", cfg.PinLockout)
	}
}

func TestLoadConfigFromEnv_RejectsInvalid(t *testing.T) {
	cases := []struct {
		name  string
		key   string
		value string
	}{
		{"bad access ttl", "STASH_AUTH_ACCESS_TTL", "banana"},
		{"negative access ttl", "STASH_AUTH_ACCESS_TTL", "-1m"},
		{"refresh bytes too small", "STASH_AUTH_REFRESH_TOKEN_BYTES", "16"},
		{"refresh bytes too large", "STASH_AUTH_REFRESH_TOKEN_BYTES", "128"},
		{"pin too short", "STASH_AUTH_PIN_LENGTH", "3"},
		{"pin too long", "STASH_AUTH_PIN_LENGTH", "13"},
		{"bad lockout flag", "STASH_AUTH_PIN_LOCKOUT_ENABLED", "maybe"},
		{"access outlives refresh", "STASH_AUTH_REFRESH_TTL", "10m"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("STASH_PASETO_V4_SECRET_KEY_HEX", testKeyHex())
			t.Setenv(tc.key, tc.value)

			if _, err := LoadConfigFromEnv(); !errors.Is(err, ErrConfig) {
				t.Fatalf("expected ErrConfig, got %v", err)
			}
		})
	}
}

func TestLoadConfigFromEnv_LockoutTiersMustEscalate(t *testing.T) {
	t.Setenv("STASH_PASETO_V4_SECRET_KEY_HEX", testKeyHex())
	t.Setenv("STASH_AUTH_PIN_LOCKOUT_LONG_THRESHOLD", "4")

	if _, err := LoadConfigFromEnv(); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig for non-escalating tiers, got %v", err)
	}
}
