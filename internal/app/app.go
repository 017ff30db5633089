// Package app wires the Stash server runtime: config, logging, database,
// migrations, HTTP routes, and the realtime event gateway.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"stash/internal/account"
	"stash/internal/auth/api"
	"stash/internal/auth/session"
	"stash/internal/realtime"
	"stash/internal/security/credential"
)

// App is the Stash server runtime. It owns the database pool and the HTTP
// server wiring.
type App struct {
	cfg Config
	log Logger

	dbPool *pgxpool.Pool

	auth   *api.Handler
	events *realtime.Gateway
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel)
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("app: STASH_DATABASE_URL is required")
	}

	if err := ValidateSecurityConfig(cfg); err != nil {
		return nil, err
	}

	if cfg.DBMigrate {
		if err := RunMigrations(cfg.DatabaseURL); err != nil {
			return nil, err
		}
		log.Info("db.migrations.applied")
	}

	pool, err := NewDBPool(context.Background(), cfg)
	if err != nil {
		return nil, err
	}

	accounts, err := account.NewPostgresStore(pool)
	if err != nil {
		pool.Close()
		return nil, err
	}

	sessCfg, err := session.LoadConfigFromEnv()
	if err != nil {
		pool.Close()
		return nil, err
	}

	tokens, err := session.NewPasetoV4PublicManager(sessCfg)
	if err != nil {
		pool.Close()
		return nil, err
	}

	hub := realtime.NewHub(log)

	deps := session.Deps{
		Store:    session.NewPostgresStore(pool),
		Tokens:   tokens,
		Accounts: accounts,
		Hasher:   credential.FromEnv(),
		Events:   hub,
		Log:      log,
	}
	// The nil check keeps the interface field nil when the gate is disabled,
	// rather than holding a typed nil.
	if gate := api.NewAuditPinGate(pool, sessCfg.PinLockout); gate != nil {
		deps.Gate = gate
	}

	svc, err := session.NewService(sessCfg, deps)
	if err != nil {
		pool.Close()
		return nil, err
	}

	authHandler, err := api.NewHandler(log, api.LoadConfigFromEnv(), pool, accounts, svc)
	if err != nil {
		pool.Close()
		return nil, err
	}

	return &App{
		cfg:    cfg,
		log:    log,
		dbPool: pool,
		auth:   authHandler,
		events: realtime.NewGateway(log, hub, svc),
	}, nil
}

// Run starts the HTTP server and blocks until context cancellation or fatal
// server error.
func (a *App) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.dbPool, a.auth, a.events)

	var handler http.Handler = mux
	handler = WithCORS(handler, a.cfg, a.log)
	handler = WithSecurityHeaders(handler)
	handler = WithRequestLogging(handler, a.log)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	if a.dbPool != nil {
		a.dbPool.Close()
	}

	a.log.Info("server.stopped")
	return nil
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
