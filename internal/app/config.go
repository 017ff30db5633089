package app

import "time"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr string
	LogLevel string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	// If true, embedded SQL migrations run at startup before the server
	// accepts traffic.
	DBMigrate bool

	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int

	// If true, STASH_TOKEN_HMAC_KEY must be set (>= 32 bytes) and token
	// digests must be HMAC-based.
	RequireTokenHMAC bool
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr: EnvString("STASH_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel: EnvString("STASH_LOG_LEVEL", "info"),

		ReadHeaderTimeout: EnvDuration("STASH_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("STASH_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("STASH_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("STASH_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("STASH_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("STASH_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("STASH_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("STASH_DB_MIN_CONNS", 0),
		DBMigrate:   EnvBool("STASH_DB_MIGRATE", true),

		CORSAllowedOrigins:   EnvCSV("STASH_CORS_ALLOWED_ORIGINS", nil),
		CORSAllowCredentials: EnvBool("STASH_CORS_ALLOW_CREDENTIALS", false),
		CORSMaxAgeSeconds:    EnvInt("STASH_CORS_MAX_AGE_SECONDS", 600),

		RequireTokenHMAC: EnvBool("STASH_REQUIRE_TOKEN_HMAC", false),
	}
}
