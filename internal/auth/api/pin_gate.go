package api

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"stash/internal/auth/session"
)

// AuditPinGate backs PIN lockout onto the audit log: failed attempts are
// audit rows, a reset marker ends a failure streak, and the progressive
// tiers are evaluated over the timestamps in between.
type AuditPinGate struct {
	pool *pgxpool.Pool
	cfg  session.LockoutConfig
}

// NewAuditPinGate builds a PinGate over the audit log. Returns nil
// (meaning: no gate) when lockout is disabled or no pool is available.
func NewAuditPinGate(pool *pgxpool.Pool, cfg session.LockoutConfig) *AuditPinGate {
	if pool == nil || !cfg.Enabled {
		return nil
	}
	return &AuditPinGate{pool: pool, cfg: cfg}
}

func (g *AuditPinGate) Blocked(ctx context.Context, sessionID string, now time.Time) (bool, time.Duration, error) {
	failures, err := g.failureTimestamps(ctx, sessionID, now)
	if err != nil {
		return false, 0, err
	}
	blocked, retry := session.EvaluateLockout(now, failures, g.cfg)
	return blocked, retry, nil
}

func (g *AuditPinGate) RecordFailure(ctx context.Context, sessionID string, now time.Time) error {
	_, err := g.pool.Exec(ctx, `
		INSERT INTO stash.audit_log (action, session_id, created_at)
		VALUES ('auth.pin.failed', $1, $2)
	`, sessionID, now)
	return err
}

func (g *AuditPinGate) Reset(ctx context.Context, sessionID string, now time.Time) error {
	_, err := g.pool.Exec(ctx, `
		INSERT INTO stash.audit_log (action, session_id, created_at)
		VALUES ('auth.pin.reset', $1, $2)
	`, sessionID, now)
	return err
}

// failureTimestamps loads the session's failed attempts inside the longest
// tier window, cut off at the most recent reset marker.
func (g *AuditPinGate) failureTimestamps(ctx context.Context, sessionID string, now time.Time) ([]time.Time, error) {
	cut := now.Add(-session.LongestLockoutWindow(g.cfg))

	rows, err := g.pool.Query(ctx, `
		SELECT created_at
		FROM stash.audit_log
		WHERE action = 'auth.pin.failed'
		  AND session_id = $1
		  AND created_at >= $2
		  AND created_at > COALESCE((
		      SELECT max(created_at)
		      FROM stash.audit_log
		      WHERE action = 'auth.pin.reset' AND session_id = $1
		  ), 'epoch'::timestamptz)
		ORDER BY created_at DESC
	`, sessionID, cut)
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
