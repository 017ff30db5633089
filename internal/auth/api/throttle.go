package api

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"stash/internal/auth/session"
)

func (h *Handler) checkLoginIPThrottle(ctx context.Context, ip net.IP, now time.Time) (bool, time.Duration, error) {
	if ip == nil || h.cfg.LoginIPMax <= 0 {
		return false, 0, nil
	}
	failures, err := loginFailureTimesByIP(ctx, h.pool, ip, now.Add(-h.cfg.LoginIPWindow))
	if err != nil {
		return false, 0, err
	}
	blocked, retry := session.EvaluateWindowThrottle(now, failures, h.cfg.LoginIPMax, h.cfg.LoginIPWindow)
	return blocked, retry, nil
}

func (h *Handler) checkLoginIdentifierThrottle(ctx context.Context, identifier string, now time.Time) (bool, time.Duration, error) {
	if strings.TrimSpace(identifier) == "" || h.cfg.LoginIdentifierMax <= 0 {
		return false, 0, nil
	}
	failures, err := loginFailureTimesByIdentifier(ctx, h.pool, identifier, now.Add(-h.cfg.LoginIdentifierWindow))
	if err != nil {
		return false, 0, err
	}
	blocked, retry := session.EvaluateWindowThrottle(now, failures, h.cfg.LoginIdentifierMax, h.cfg.LoginIdentifierWindow)
	return blocked, retry, nil
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration, code, msg string) {
	if retryAfter > 0 {
		w.Header().Set("Retry-After", strconv.FormatInt(int64(retryAfter.Seconds()), 10))
	}
	writeError(w, http.StatusTooManyRequests, code, msg)
}

// ---- audit queries ----

func loginFailureTimesByIP(ctx context.Context, pool *pgxpool.Pool, ip net.IP, since time.Time) ([]time.Time, error) {
	if pool == nil || ip == nil {
		return nil, nil
	}
	rows, err := pool.Query(ctx, `
		SELECT created_at
		FROM stash.audit_log
		WHERE action = 'auth.login.failed'
		  AND ip = $1
		  AND created_at >= $2
	`, ip.String(), since)
	return scanTimes(rows, err)
}

func loginFailureTimesByIdentifier(ctx context.Context, pool *pgxpool.Pool, identifier string, since time.Time) ([]time.Time, error) {
	if pool == nil || strings.TrimSpace(identifier) == "" {
		return nil, nil
	}
	rows, err := pool.Query(ctx, `
		SELECT created_at
		FROM stash.audit_log
		WHERE action = 'auth.login.failed'
		  AND detail = $1
		  AND created_at >= $2
	`, identifier, since)
	return scanTimes(rows, err)
}

func scanTimes(rows pgx.Rows, err error) ([]time.Time, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []time.Time
	for rows.Next() {
		var ts time.Time
		if err := rows.Scan(&ts); err != nil {
			return nil, err
		}
		out = append(out, ts)
	}
	return out, rows.Err()
}
