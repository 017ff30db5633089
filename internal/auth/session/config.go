package session

import (
	"os"
	"strconv"
	"time"
)

// Config defines all runtime configuration for the session subsystem.
//
// It controls access-token TTL, refresh lifetime, clock skew tolerance,
// refresh entropy size, PIN policy, per-operation store timeouts, and the
// PASETO v4 signing key.
//
// This struct is intentionally explicit and environment-driven so that
// production deployments can tune security parameters without code changes.
type Config struct {
	// Issuer is the value set in the "iss" claim of access tokens.
	Issuer string

	// AccessTokenTTL defines the lifetime of PASETO access tokens.
	AccessTokenTTL time.Duration

	// RefreshTTL bounds the whole session: expires_at is set once at
	// creation and rotation does not slide it.
	RefreshTTL time.Duration

	// ClockSkew defines the allowed time skew during token validation.
	ClockSkew time.Duration

	// RefreshTokenBytes defines the number of random bytes used
	// to generate opaque refresh tokens.
	RefreshTokenBytes int

	// PinLength is the required length of the numeric device PIN.
	PinLength int

	// OpTimeout bounds every individual store round-trip.
	OpTimeout time.Duration

	// RequireVerified rejects logins from accounts that have not completed
	// verification.
	RequireVerified bool

	// PinLockout configures progressive lockout of PIN verification.
	PinLockout LockoutConfig

	// PasetoV4SecretKeyHex is the hex-encoded Ed25519 secret key
	// used to sign PASETO v4.public access tokens.
	PasetoV4SecretKeyHex string
}

// LockoutConfig describes progressive PIN lockout tiers.
// The lockout is a hardening layer; disabling it restores the
// original unthrottled behavior.
type LockoutConfig struct {
	Enabled bool

	ShortThreshold  int
	ShortDuration   time.Duration
	LongThreshold   int
	LongDuration    time.Duration
	SevereThreshold int
	SevereDuration  time.Duration
}

// Tiers returns the configured lockout tiers, most severe first.
func (c LockoutConfig) Tiers() []lockoutTier {
	return []lockoutTier{
		{Threshold: c.SevereThreshold, Duration: c.SevereDuration},
		{Threshold: c.LongThreshold, Duration: c.LongDuration},
		{Threshold: c.ShortThreshold, Duration: c.ShortDuration},
	}
}

// DefaultConfig returns a secure default configuration suitable for development.
//
// Production environments should override values via environment variables.
func DefaultConfig() Config {
	return Config{
		Issuer:            "stash",
		AccessTokenTTL:    15 * time.Minute,
		RefreshTTL:        30 * 24 * time.Hour,
		ClockSkew:         30 * time.Second,
		RefreshTokenBytes: 32,
		PinLength:         6,
		OpTimeout:         5 * time.Second,
		PinLockout: LockoutConfig{
			Enabled:         true,
			ShortThreshold:  5,
			ShortDuration:   5 * time.Minute,
			LongThreshold:   10,
			LongDuration:    30 * time.Minute,
			SevereThreshold: 20,
			SevereDuration:  2 * time.Hour,
		},
	}
}

// LoadConfigFromEnv loads session configuration from environment variables.
//
// Required:
//   - STASH_PASETO_V4_SECRET_KEY_HEX
//
// Optional (durations must be valid Go duration strings):
//   - STASH_AUTH_ISSUER
//   - STASH_AUTH_ACCESS_TTL
//   - STASH_AUTH_REFRESH_TTL
//   - STASH_AUTH_CLOCK_SKEW
//   - STASH_AUTH_REFRESH_TOKEN_BYTES
//   - STASH_AUTH_PIN_LENGTH
//   - STASH_AUTH_OP_TIMEOUT
//   - STASH_AUTH_REQUIRE_VERIFIED
//   - STASH_AUTH_PIN_LOCKOUT_ENABLED
//   - STASH_AUTH_PIN_LOCKOUT_{SHORT,LONG,SEVERE}_{THRESHOLD,DURATION}
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := os.Getenv("STASH_AUTH_ISSUER"); v != "" {
		cfg.Issuer = v
	}

	if v := os.Getenv("STASH_AUTH_ACCESS_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.AccessTokenTTL = d
	}

	if v := os.Getenv("STASH_AUTH_REFRESH_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.RefreshTTL = d
	}

	if v := os.Getenv("STASH_AUTH_CLOCK_SKEW"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return Config{}, ErrConfig
		}
		cfg.ClockSkew = d
	}

	if v := os.Getenv("STASH_AUTH_REFRESH_TOKEN_BYTES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 32 || n > 64 {
			return Config{}, ErrConfig
		}
		cfg.RefreshTokenBytes = n
	}

	if v := os.Getenv("STASH_AUTH_PIN_LENGTH"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 4 || n > 12 {
			return Config{}, ErrConfig
		}
		cfg.PinLength = n
	}

	if v := os.Getenv("STASH_AUTH_OP_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.OpTimeout = d
	}

	if v := os.Getenv("STASH_AUTH_REQUIRE_VERIFIED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, ErrConfig
		}
		cfg.RequireVerified = b
	}

	if v := os.Getenv("STASH_AUTH_PIN_LOCKOUT_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, ErrConfig
		}
		cfg.PinLockout.Enabled = b
	}

	if err := loadLockoutTier(&cfg.PinLockout.ShortThreshold, &cfg.PinLockout.ShortDuration, "SHORT"); err != nil {
		return Config{}, err
	}
	if err := loadLockoutTier(&cfg.PinLockout.LongThreshold, &cfg.PinLockout.LongDuration, "LONG"); err != nil {
		return Config{}, err
	}
	if err := loadLockoutTier(&cfg.PinLockout.SevereThreshold, &cfg.PinLockout.SevereDuration, "SEVERE"); err != nil {
		return Config{}, err
	}

	cfg.PasetoV4SecretKeyHex = os.Getenv("STASH_PASETO_V4_SECRET_KEY_HEX")
	if cfg.PasetoV4SecretKeyHex == "" {
		return Config{}, ErrConfig
	}

	// Invariants: the access token must be strictly shorter-lived than the
	// session it belongs to, and lockout tiers must escalate.
	if cfg.AccessTokenTTL >= cfg.RefreshTTL {
		return Config{}, ErrConfig
	}
	if cfg.PinLockout.Enabled {
		lo := cfg.PinLockout
		if lo.ShortThreshold <= 0 || lo.LongThreshold <= lo.ShortThreshold || lo.SevereThreshold <= lo.LongThreshold {
			return Config{}, ErrConfig
		}
	}

	return cfg, nil
}

func loadLockoutTier(threshold *int, duration *time.Duration, name string) error {
	if v := os.Getenv("STASH_AUTH_PIN_LOCKOUT_" + name + "_THRESHOLD"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return ErrConfig
		}
		*threshold = n
	}
	if v := os.Getenv("STASH_AUTH_PIN_LOCKOUT_" + name + "_DURATION"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return ErrConfig
		}
		*duration = d
	}
	return nil
}
