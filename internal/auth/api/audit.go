package api

import (
	"context"
	"net"
	"strconv"
	"strings"
	"time"
)

// auditLoginFailed stores the normalized identifier as the row's detail;
// the identifier throttle counts on exact matches of it.
func (h *Handler) auditLoginFailed(ctx context.Context, accountID *string, ip net.IP, identifier string) {
	h.insertAudit(ctx, "auth.login.failed", accountID, nil, ip, identifier)
}

func (h *Handler) auditLoginSuccess(ctx context.Context, accountID, sessionID string, ip net.IP, identifier string) {
	h.insertAudit(ctx, "auth.login.success", &accountID, &sessionID, ip, identifier)
}

func (h *Handler) auditLoginThrottled(ctx context.Context, ip net.IP, identifier string, retryAfter time.Duration) {
	h.insertAudit(ctx, "auth.login.throttled", nil, nil, ip, identifier+" retry "+retryAfter.String())
}

func (h *Handler) auditPinSet(ctx context.Context, accountID, sessionID string, ip net.IP) {
	h.insertAudit(ctx, "auth.pin.set", &accountID, &sessionID, ip, "")
}

func (h *Handler) auditRefreshSuccess(ctx context.Context, sessionID string, ip net.IP) {
	h.insertAudit(ctx, "auth.refresh.success", nil, &sessionID, ip, "")
}

func (h *Handler) auditPinLocked(ctx context.Context, sessionID string, ip net.IP, retryAfter time.Duration) {
	h.insertAudit(ctx, "auth.pin.locked", nil, &sessionID, ip, "retry "+retryAfter.String())
}

func (h *Handler) auditLogout(ctx context.Context, accountID, sessionID string, ip net.IP) {
	h.insertAudit(ctx, "auth.logout", &accountID, &sessionID, ip, "")
}

func (h *Handler) auditLogoutAll(ctx context.Context, accountID string, ip net.IP, revoked int) {
	h.insertAudit(ctx, "auth.logout_all", &accountID, nil, ip, "revoked "+strconv.Itoa(revoked))
}

func (h *Handler) auditDeviceRenamed(ctx context.Context, accountID, sessionID string, ip net.IP) {
	h.insertAudit(ctx, "auth.device.renamed", &accountID, &sessionID, ip, "")
}

func (h *Handler) insertAudit(ctx context.Context, action string, accountID, sessionID *string, ip net.IP, detail string) {
	if h == nil || h.pool == nil {
		return
	}

	action = strings.TrimSpace(action)
	if action == "" {
		return
	}

	var ipVal any
	if ip != nil {
		ipVal = ip.String()
	}

	_, err := h.pool.Exec(ctx, `
		INSERT INTO stash.audit_log (action, account_id, session_id, ip, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, now())
	`, action, accountID, sessionID, ipVal, trimOrNil(detail))
	if err != nil {
		h.log.Error("auth.audit.insert.fail", "err", err, "action", action)
	}
}

func trimOrNil(s string) any {
	v := strings.TrimSpace(s)
	if v == "" {
		return nil
	}
	return v
}
