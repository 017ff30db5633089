package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"stash/internal/auth/session"
	"stash/internal/metrics"
)

type contextKey struct{ name string }

var identityKey = contextKey{"identity"}

// IdentityFromContext returns the identity placed by RequireAuth.
func IdentityFromContext(ctx context.Context) (session.Identity, bool) {
	id, ok := ctx.Value(identityKey).(session.Identity)
	return id, ok
}

// RequireAuth resolves the bearer token against live session state and puts
// the identity into the request context. Requests without a valid token get
// a 401 with a single opaque code.
func (h *Handler) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := h.authenticate(w, r)
		if !ok {
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey, id)))
	})
}

func (h *Handler) authenticate(w http.ResponseWriter, r *http.Request) (session.Identity, bool) {
	token := bearerToken(r)
	if token == "" {
		metrics.Authenticates.WithLabelValues("unauthorized").Inc()
		writeError(w, http.StatusUnauthorized, "unauthorized", "unauthorized")
		return session.Identity{}, false
	}

	id, err := h.sessions.Authenticate(r.Context(), time.Now().UTC(), token)
	if errors.Is(err, session.ErrUnauthorized) {
		metrics.Authenticates.WithLabelValues("unauthorized").Inc()
		writeError(w, http.StatusUnauthorized, "unauthorized", "unauthorized")
		return session.Identity{}, false
	}
	if err != nil {
		metrics.Authenticates.WithLabelValues("error").Inc()
		h.log.Error("auth.authenticate.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return session.Identity{}, false
	}

	metrics.Authenticates.WithLabelValues("ok").Inc()
	return id, true
}

func bearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if raw == "" {
		return ""
	}
	parts := strings.SplitN(raw, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
