package api

import (
	"testing"
	"time"
)

func TestLoadConfigFromEnv_Defaults(t *testing.T) {
	cfg := LoadConfigFromEnv()

	if cfg.TrustProxy {
		t.Fatalf("expected trust proxy off by default")
	}
	if cfg.MaxBodyBytes != 1<<20 {
		t.Fatalf("unexpected max body bytes: %d", cfg.MaxBodyBytes)
	}
	if cfg.LoginIPMax != 20 || cfg.LoginIPWindow != 5*time.Minute {
		t.Fatalf("unexpected IP throttle defaults: %+v", cfg)
	}
	if cfg.LoginIdentifierMax != 5 || cfg.LoginIdentifierWindow != 15*time.Minute {
		t.Fatalf("unexpected identifier throttle defaults: %+v", cfg)
	}
}

func TestLoadConfigFromEnv_InvalidFallsBack(t *testing.T) {
	t.Setenv("STASH_AUTH_MAX_BODY_BYTES", "-5")
	t.Setenv("STASH_AUTH_LOGIN_IP_WINDOW", "soon")
	t.Setenv("STASH_AUTH_TRUST_PROXY", "yep")

	cfg := LoadConfigFromEnv()
	if cfg.MaxBodyBytes != 1<<20 || cfg.LoginIPWindow != 5*time.Minute || cfg.TrustProxy {
		t.Fatalf("expected defaults for invalid values: %+v", cfg)
	}
}

func TestLoadConfigFromEnv_Overrides(t *testing.T) {
	t.Setenv("STASH_AUTH_TRUST_PROXY", "true")
	t.Setenv("STASH_AUTH_LOGIN_IP_MAX", "50")
	t.Setenv("STASH_AUTH_LOGIN_IDENTIFIER_WINDOW", "30m")

	cfg := LoadConfigFromEnv()
	if !cfg.TrustProxy || cfg.LoginIPMax != 50 || cfg.LoginIdentifierWindow != 30*time.Minute {
		t.Fatalf("unexpected overrides: %+v", cfg)
	}
}
