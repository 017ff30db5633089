package realtime

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"stash/internal/auth/session"
)

const (
	wsDefaultSendQueueSize = 256
	wsMinSendQueueSize     = 32
	wsDefaultWriteTimeout  = 5 * time.Second

	// Origin is required by default; only localhost is allowed out of the box.
	wsDefaultOriginRequired = true
	wsDefaultAllowedOrigins = "http://localhost,http://127.0.0.1"
)

// Authenticator resolves a bearer token into an identity.
// *session.Service satisfies it.
type Authenticator interface {
	Authenticate(ctx context.Context, now time.Time, accessToken string) (session.Identity, error)
}

// Gateway is the WebSocket entrypoint for the session event stream.
//
// The stream is push-only: after the bearer token is verified the connection
// receives session.revoked events for the account until it closes.
type Gateway struct {
	log  *slog.Logger
	hub  *Hub
	auth Authenticator

	originRequired bool
	allowedOrigins []string
	originPatterns []string

	writeTimeout  time.Duration
	sendQueueSize int
}

// NewGateway constructs a gateway with secure defaults.
func NewGateway(log *slog.Logger, hub *Hub, auth Authenticator) *Gateway {
	if log == nil {
		log = slog.Default()
	}
	if hub == nil {
		hub = NewHub(log)
	}

	g := &Gateway{log: log, hub: hub, auth: auth}

	g.originRequired = envBoolWS("STASH_WS_ORIGIN_REQUIRED", wsDefaultOriginRequired)
	g.allowedOrigins = envCSVWS("STASH_WS_ALLOWED_ORIGINS", wsDefaultAllowedOrigins)
	// websocket.Accept enforces its own origin policy: same-host is fine,
	// cross-origin needs host patterns derived from the allow list.
	g.originPatterns = deriveOriginPatterns(g.allowedOrigins)

	g.writeTimeout = envDurationWS("STASH_WS_WRITE_TIMEOUT", wsDefaultWriteTimeout)
	g.sendQueueSize = envIntWS("STASH_WS_SEND_QUEUE", wsDefaultSendQueueSize)
	if g.sendQueueSize < wsMinSendQueueSize {
		g.sendQueueSize = wsMinSendQueueSize
	}

	return g
}

// Hub exposes the hub so it can be wired as the session Events hook.
func (g *Gateway) Hub() *Hub { return g.hub }

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != "" {
		g.log.Info("ws.reject.origin", "reason", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	// Browsers cannot set Authorization on websocket upgrades, so the token
	// may arrive as a query parameter instead.
	token := bearerToken(r)
	if token == "" {
		token = strings.TrimSpace(r.URL.Query().Get("access_token"))
	}
	if token == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	id, err := g.auth.Authenticate(r.Context(), time.Now().UTC(), token)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: g.originPatterns,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}

	client := NewClient(id.AccountID, id.SessionID, g.sendQueueSize)
	g.hub.Subscribe(client)
	defer func() {
		g.hub.Unsubscribe(client)
		client.Close()
	}()

	g.log.Info("ws.connected", "account_id", id.AccountID, "session_id", id.SessionID)

	// Push-only stream: CloseRead keeps control frames serviced and cancels
	// the context when the peer goes away.
	ctx := conn.CloseRead(r.Context())

	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "bye")
			return
		case <-client.Done():
			_ = conn.Close(websocket.StatusGoingAway, "dropped")
			return
		case ev := <-client.Send:
			writeCtx, cancel := context.WithTimeout(ctx, g.writeTimeout)
			err := wsjson.Write(writeCtx, conn, ev)
			cancel()
			if err != nil {
				g.log.Info("ws.write.fail", "session_id", id.SessionID, "err", err)
				_ = conn.Close(websocket.StatusAbnormalClosure, "write failed")
				return
			}
		}
	}
}

func (g *Gateway) enforceOrigin(r *http.Request) string {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.originRequired {
			return "origin required"
		}
		return ""
	}
	u, err := url.Parse(origin)
	if err != nil {
		return "origin unparsable"
	}
	for _, allowed := range g.allowedOrigins {
		au, err := url.Parse(allowed)
		if err != nil {
			continue
		}
		if strings.EqualFold(u.Scheme, au.Scheme) && strings.EqualFold(u.Hostname(), au.Hostname()) {
			return ""
		}
	}
	return "origin not allowed"
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

func deriveOriginPatterns(allowed []string) []string {
	out := make([]string, 0, len(allowed))
	seen := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		u, err := url.Parse(strings.TrimSpace(o))
		if err != nil || u.Hostname() == "" {
			continue
		}
		host := strings.ToLower(u.Hostname())
		if _, ok := seen[host]; ok {
			continue
		}
		seen[host] = struct{}{}
		out = append(out, host)
	}
	return out
}

func envBoolWS(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envIntWS(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDurationWS(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func envCSVWS(key, def string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		v = def
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
