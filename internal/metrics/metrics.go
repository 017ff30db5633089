// Package metrics exposes the auth subsystem's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Logins counts login attempts by outcome
	// (ok, invalid_credentials, unverified, throttled, error).
	Logins = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stash_auth_logins_total",
		Help: "Login attempts by result.",
	}, []string{"result"})

	// Refreshes counts token rotations by outcome
	// (ok, invalid_token, expired, pin_not_set, invalid_pin, pin_locked, error).
	Refreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stash_auth_refreshes_total",
		Help: "Refresh rotations by result.",
	}, []string{"result"})

	// Authenticates counts bearer-token resolutions by outcome (ok, unauthorized, error).
	Authenticates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stash_auth_authenticate_total",
		Help: "Bearer token authentications by result.",
	}, []string{"result"})

	// SessionsRevoked counts revoked sessions by reason (logout, logout_all, expired).
	SessionsRevoked = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stash_auth_sessions_revoked_total",
		Help: "Revoked sessions by reason.",
	}, []string{"reason"})
)

// Handler serves the default Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
