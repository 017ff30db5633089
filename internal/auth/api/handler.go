// Package api is the HTTP/JSON boundary of the session subsystem.
package api

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"stash/internal/account"
	"stash/internal/auth/session"
	"stash/internal/metrics"
)

// Handler wires HTTP auth endpoints to the session service.
type Handler struct {
	log *slog.Logger
	cfg Config

	pool     *pgxpool.Pool
	accounts account.Store
	sessions *session.Service
}

// NewHandler constructs an auth Handler. The pool may be nil; audit inserts
// and throttling are then skipped (dev mode with the in-memory store).
func NewHandler(log *slog.Logger, cfg Config, pool *pgxpool.Pool, accounts account.Store, sessions *session.Service) (*Handler, error) {
	if accounts == nil || sessions == nil {
		return nil, errors.New("api: nil account store or session service")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		log:      log,
		cfg:      cfg,
		pool:     pool,
		accounts: accounts,
		sessions: sessions,
	}, nil
}

// Register wires auth routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("POST /auth/login", h.handleLogin)
	mux.HandleFunc("POST /auth/refresh", h.handleRefresh)
	// logout_all authenticates on its own: it accepts either a bearer token
	// or an email+password re-auth in the body.
	mux.HandleFunc("POST /auth/logout_all", h.handleLogoutAll)

	mux.Handle("POST /auth/pin", h.RequireAuth(http.HandlerFunc(h.handleSetPin)))
	mux.Handle("POST /auth/logout", h.RequireAuth(http.HandlerFunc(h.handleLogout)))
	mux.Handle("GET /auth/devices", h.RequireAuth(http.HandlerFunc(h.handleListDevices)))
	mux.Handle("PATCH /auth/devices", h.RequireAuth(http.HandlerFunc(h.handleRenameDevice)))
	mux.Handle("POST /auth/devices/logout", h.RequireAuth(http.HandlerFunc(h.handleLogoutDevice)))
	mux.Handle("GET /me", h.RequireAuth(http.HandlerFunc(h.handleMe)))
}

// SessionService returns the underlying session service.
func (h *Handler) SessionService() *session.Service {
	return h.sessions
}

// ---- handlers ----

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	email := account.NormalizeEmail(req.Email)
	password := strings.TrimSpace(req.Password)
	if email == "" || password == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "email and password are required")
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()
	ip := clientIP(r, h.cfg.TrustProxy)
	ua := strings.TrimSpace(r.UserAgent())

	// Both throttles run before any credential work.
	if blocked, retryAfter, err := h.checkLoginIPThrottle(ctx, ip, now); err != nil {
		h.log.Error("auth.login.throttle_ip.fail", "err", err)
		writeError(w, http.StatusServiceUnavailable, "server_busy", "please retry later")
		return
	} else if blocked {
		metrics.Logins.WithLabelValues("throttled").Inc()
		h.auditLoginThrottled(ctx, ip, email, retryAfter)
		writeRateLimited(w, retryAfter, "rate_limited", "too many attempts")
		return
	}
	if blocked, retryAfter, err := h.checkLoginIdentifierThrottle(ctx, email, now); err != nil {
		h.log.Error("auth.login.throttle_identifier.fail", "err", err)
		writeError(w, http.StatusServiceUnavailable, "server_busy", "please retry later")
		return
	} else if blocked {
		metrics.Logins.WithLabelValues("throttled").Inc()
		h.auditLoginThrottled(ctx, ip, email, retryAfter)
		writeRateLimited(w, retryAfter, "rate_limited", "too many attempts")
		return
	}

	res, err := h.sessions.Login(ctx, now, email, password, session.DeviceMeta{
		Label:     strings.TrimSpace(req.DeviceLabel),
		UserAgent: ua,
		IP:        ip,
	})
	switch {
	case errors.Is(err, session.ErrInvalidCredentials):
		metrics.Logins.WithLabelValues("invalid_credentials").Inc()
		h.auditLoginFailed(ctx, nil, ip, email)
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
		return
	case errors.Is(err, session.ErrAccountUnverified):
		metrics.Logins.WithLabelValues("unverified").Inc()
		h.auditLoginFailed(ctx, nil, ip, email)
		writeError(w, http.StatusForbidden, "account_unverified", "account verification required")
		return
	case err != nil:
		metrics.Logins.WithLabelValues("error").Inc()
		h.log.Error("auth.login.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	metrics.Logins.WithLabelValues("ok").Inc()
	h.auditLoginSuccess(ctx, res.AccountID, res.SessionID, ip, email)

	writeJSON(w, http.StatusOK, loginResponse{
		AccountID: res.AccountID,
		Session:   toSessionResponse(res),
	})
}

func (h *Handler) handleSetPin(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "unauthorized")
		return
	}

	var req pinRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()

	err := h.sessions.SetPin(ctx, now, id.SessionID, req.Pin)
	switch {
	case errors.Is(err, session.ErrInvalidPinFormat):
		writeError(w, http.StatusBadRequest, "invalid_pin_format", "pin must be the configured number of digits")
		return
	case errors.Is(err, session.ErrSessionNotFound):
		writeError(w, http.StatusUnauthorized, "unauthorized", "unauthorized")
		return
	case err != nil:
		h.log.Error("auth.pin.set.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.auditPinSet(ctx, id.AccountID, id.SessionID, clientIP(r, h.cfg.TrustProxy))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	if strings.TrimSpace(req.RefreshToken) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "refresh_token is required")
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()
	ip := clientIP(r, h.cfg.TrustProxy)

	issued, err := h.sessions.Refresh(ctx, now, req.RefreshToken, req.Pin)
	if err != nil {
		var lock session.PinLockError
		switch {
		case errors.As(err, &lock):
			metrics.Refreshes.WithLabelValues("pin_locked").Inc()
			h.auditPinLocked(ctx, lock.SessionID, ip, lock.RetryAfter)
			writeRateLimited(w, lock.RetryAfter, "pin_locked", "too many pin attempts")
		case errors.Is(err, session.ErrInvalidRefreshToken):
			metrics.Refreshes.WithLabelValues("invalid_token").Inc()
			writeError(w, http.StatusUnauthorized, "invalid_refresh_token", "invalid refresh token")
		case errors.Is(err, session.ErrSessionExpired):
			metrics.Refreshes.WithLabelValues("expired").Inc()
			writeError(w, http.StatusUnauthorized, "session_expired", "session expired")
		case errors.Is(err, session.ErrPinNotSet):
			metrics.Refreshes.WithLabelValues("pin_not_set").Inc()
			writeError(w, http.StatusForbidden, "pin_not_set", "device pin setup required")
		case errors.Is(err, session.ErrInvalidPinFormat):
			metrics.Refreshes.WithLabelValues("invalid_pin").Inc()
			writeError(w, http.StatusBadRequest, "invalid_pin_format", "pin must be the configured number of digits")
		case errors.Is(err, session.ErrInvalidPin):
			metrics.Refreshes.WithLabelValues("invalid_pin").Inc()
			writeError(w, http.StatusUnauthorized, "invalid_pin", "invalid pin")
		default:
			metrics.Refreshes.WithLabelValues("error").Inc()
			h.log.Error("auth.refresh.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		}
		return
	}

	metrics.Refreshes.WithLabelValues("ok").Inc()
	h.auditRefreshSuccess(ctx, issued.SessionID, ip)

	writeJSON(w, http.StatusOK, refreshResponse{Session: toRotatedResponse(issued)})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "unauthorized")
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()

	if err := h.sessions.Logout(ctx, now, id.SessionID); err != nil {
		h.log.Error("auth.logout.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	metrics.SessionsRevoked.WithLabelValues("logout").Inc()
	h.auditLogout(ctx, id.AccountID, id.SessionID, clientIP(r, h.cfg.TrustProxy))
	w.WriteHeader(http.StatusNoContent)
}

// handleLogoutAll accepts either a valid bearer token or an email+password
// re-auth in the body, so a user who lost all devices can still cut off
// every session.
func (h *Handler) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	now := time.Now().UTC()
	ip := clientIP(r, h.cfg.TrustProxy)

	accountID := ""
	if token := bearerToken(r); token != "" {
		id, err := h.sessions.Authenticate(ctx, now, token)
		if err == nil {
			accountID = id.AccountID
		}
	}

	if accountID == "" {
		var req logoutAllRequest
		if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized", "bearer token or credentials required")
			return
		}
		id, err := h.reauthenticate(w, r, now, req.Email, req.Password, ip)
		if err != nil {
			return
		}
		accountID = id
	}

	ids, err := h.sessions.LogoutAll(ctx, now, accountID)
	if err != nil {
		h.log.Error("auth.logout_all.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	metrics.SessionsRevoked.WithLabelValues("logout_all").Add(float64(len(ids)))
	h.auditLogoutAll(ctx, accountID, ip, len(ids))

	writeJSON(w, http.StatusOK, logoutAllResponse{RevokedSessions: len(ids)})
}

// reauthenticate verifies credentials for logout_all without creating a
// session. It shares the login throttles and audit trail.
func (h *Handler) reauthenticate(w http.ResponseWriter, r *http.Request, now time.Time, email, password string, ip net.IP) (string, error) {
	ctx := r.Context()
	email = account.NormalizeEmail(email)
	password = strings.TrimSpace(password)
	if email == "" || password == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", "bearer token or credentials required")
		return "", errors.New("missing credentials")
	}

	if blocked, retryAfter, err := h.checkLoginIdentifierThrottle(ctx, email, now); err != nil {
		h.log.Error("auth.logout_all.throttle.fail", "err", err)
		writeError(w, http.StatusServiceUnavailable, "server_busy", "please retry later")
		return "", err
	} else if blocked {
		h.auditLoginThrottled(ctx, ip, email, retryAfter)
		writeRateLimited(w, retryAfter, "rate_limited", "too many attempts")
		return "", errors.New("throttled")
	}

	accountID, err := h.sessions.VerifyCredentials(ctx, email, password)
	if err != nil {
		h.auditLoginFailed(ctx, nil, ip, email)
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
		return "", err
	}
	return accountID, nil
}

func (h *Handler) handleListDevices(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "unauthorized")
		return
	}

	devices, err := h.sessions.ListDevices(r.Context(), id.AccountID, id.SessionID)
	if err != nil {
		h.log.Error("auth.devices.list.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	out := make([]deviceResponse, 0, len(devices))
	for _, d := range devices {
		out = append(out, toDeviceResponse(d))
	}
	writeJSON(w, http.StatusOK, devicesResponse{Devices: out})
}

func (h *Handler) handleRenameDevice(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "unauthorized")
		return
	}

	var req deviceRenameRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	target := strings.TrimSpace(req.SessionID)
	label := strings.TrimSpace(req.Label)
	if target == "" || label == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "session_id and label are required")
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()

	err := h.sessions.RenameDevice(ctx, now, id.AccountID, target, session.DeviceUpdate{Label: &label})
	switch {
	case errors.Is(err, session.ErrDeviceNotFound):
		writeError(w, http.StatusNotFound, "device_not_found", "device not found")
		return
	case err != nil:
		h.log.Error("auth.devices.rename.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.auditDeviceRenamed(ctx, id.AccountID, target, clientIP(r, h.cfg.TrustProxy))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleLogoutDevice(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "unauthorized")
		return
	}

	var req deviceLogoutRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	target := strings.TrimSpace(req.SessionID)
	if target == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "session_id is required")
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()

	err := h.sessions.LogoutDevice(ctx, now, id.AccountID, target)
	switch {
	case errors.Is(err, session.ErrDeviceNotFound):
		writeError(w, http.StatusNotFound, "device_not_found", "device not found")
		return
	case err != nil:
		h.log.Error("auth.devices.logout.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	metrics.SessionsRevoked.WithLabelValues("logout").Inc()
	h.auditLogout(ctx, id.AccountID, target, clientIP(r, h.cfg.TrustProxy))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "unauthorized")
		return
	}

	a, err := h.accounts.LookupByID(r.Context(), id.AccountID)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			writeError(w, http.StatusUnauthorized, "unauthorized", "unauthorized")
			return
		}
		h.log.Error("auth.me.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	writeJSON(w, http.StatusOK, meResponse{Account: toAccountResponse(a)})
}

// ---- helpers ----

func clientIP(r *http.Request, trustProxy bool) net.IP {
	if trustProxy {
		if ip := parseForwardedIP(r.Header.Get("X-Forwarded-For")); ip != nil {
			return ip
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return ip
		}
	}
	return nil
}

func parseForwardedIP(raw string) net.IP {
	if raw == "" {
		return nil
	}
	for _, p := range strings.Split(raw, ",") {
		if ip := net.ParseIP(strings.TrimSpace(p)); ip != nil {
			return ip
		}
	}
	return nil
}
