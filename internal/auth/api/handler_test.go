package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	paseto "aidanwoods.dev/go-paseto"

	"stash/internal/account"
	"stash/internal/auth/session"
	"stash/internal/security/credential"
)

const (
	testEmail    = "nika@example.com"
	testPassword = "Very-Strong-Password-1!"
)

type memAccounts struct {
	auth account.Auth
}

func (m *memAccounts) LookupAuthByEmail(_ context.Context, email string) (account.Auth, error) {
	if email != account.NormalizeEmail(m.auth.Account.Email) {
		return account.Auth{}, account.ErrNotFound
	}
	return m.auth, nil
}

func (m *memAccounts) LookupByID(_ context.Context, accountID string) (account.Account, error) {
	if accountID != m.auth.Account.ID {
		return account.Account{}, account.ErrNotFound
	}
	return m.auth.Account, nil
}

func newTestHandler(t *testing.T) *Handler {
	t.Helper()

	sessCfg := session.DefaultConfig()
	sessCfg.PasetoV4SecretKeyHex = paseto.NewV4AsymmetricSecretKey().ExportHex()
	sessCfg.OpTimeout = 0

	tokens, err := session.NewPasetoV4PublicManager(sessCfg)
	if err != nil {
		t.Fatalf("NewPasetoV4PublicManager: %v", err)
	}

	hasher := credential.NewHasher(credential.Params{
		MemoryKiB:   8 * 1024,
		Iterations:  1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	})
	pwHash, err := hasher.Hash(testPassword)
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}

	verified := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	accounts := &memAccounts{auth: account.Auth{
		Account: account.Account{
			ID:         "01ACCOUNTXXXXXXXXXXXXXXXXX",
			Email:      testEmail,
			VerifiedAt: &verified,
			CreatedAt:  verified,
		},
		PasswordHash: pwHash,
	}}

	svc, err := session.NewService(sessCfg, session.Deps{
		Store:    session.NewMemoryStore(),
		Tokens:   tokens,
		Accounts: accounts,
		Hasher:   hasher,
		Log:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	h, err := NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), LoadConfigFromEnv(), nil, accounts, svc)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	return h
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	newTestHandler(t).Register(mux)

	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, ts *httptest.Server, method, path, bearer string, body any) (int, map[string]any) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}

	req, err := http.NewRequest(method, ts.URL+path, &buf)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}

	var decoded map[string]any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &decoded); err != nil {
			t.Fatalf("decode body %q: %v", raw, err)
		}
	}
	return resp.StatusCode, decoded
}

func errorCode(t *testing.T, body map[string]any) string {
	t.Helper()
	e, ok := body["error"].(map[string]any)
	if !ok {
		t.Fatalf("expected error envelope, got %v", body)
	}
	code, _ := e["code"].(string)
	return code
}

func loginDevice(t *testing.T, ts *httptest.Server, label string) (sessionID, access, refresh string) {
	t.Helper()

	status, body := doJSON(t, ts, http.MethodPost, "/auth/login", "", loginRequest{
		Email:       testEmail,
		Password:    testPassword,
		DeviceLabel: label,
	})
	if status != http.StatusOK {
		t.Fatalf("login: expected 200, got %d (%v)", status, body)
	}

	sess, ok := body["session"].(map[string]any)
	if !ok {
		t.Fatalf("missing session in response: %v", body)
	}
	sessionID, _ = sess["session_id"].(string)
	access, _ = sess["access_token"].(string)
	refresh, _ = sess["refresh_token"].(string)
	if sessionID == "" || access == "" || refresh == "" {
		t.Fatalf("incomplete session payload: %v", sess)
	}
	if required, _ := sess["pin_required"].(bool); !required {
		t.Fatalf("expected pin_required on login")
	}
	return sessionID, access, refresh
}

func setPin(t *testing.T, ts *httptest.Server, access, pin string) {
	t.Helper()
	status, body := doJSON(t, ts, http.MethodPost, "/auth/pin", access, pinRequest{Pin: pin})
	if status != http.StatusNoContent {
		t.Fatalf("set pin: expected 204, got %d (%v)", status, body)
	}
}

func TestLoginEndpoint_InvalidCredentials(t *testing.T) {
	ts := newTestServer(t)

	status, body := doJSON(t, ts, http.MethodPost, "/auth/login", "", loginRequest{
		Email:    testEmail,
		Password: "wrong",
	})
	if status != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", status)
	}
	if code := errorCode(t, body); code != "invalid_credentials" {
		t.Fatalf("expected invalid_credentials, got %q", code)
	}

	// Unknown email gets the exact same response.
	status2, body2 := doJSON(t, ts, http.MethodPost, "/auth/login", "", loginRequest{
		Email:    "nobody@example.com",
		Password: testPassword,
	})
	if status2 != status || errorCode(t, body2) != "invalid_credentials" {
		t.Fatalf("expected identical failure, got %d %v", status2, body2)
	}
}

func TestLoginEndpoint_RejectsUnknownFields(t *testing.T) {
	ts := newTestServer(t)

	status, _ := doJSON(t, ts, http.MethodPost, "/auth/login", "", map[string]any{
		"email":    testEmail,
		"password": testPassword,
		"extra":    true,
	})
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d", status)
	}
}

func TestRefreshEndpoint_FullDeviceFlow(t *testing.T) {
	ts := newTestServer(t)

	_, access, refresh := loginDevice(t, ts, "phone")

	// Refresh before pin setup is rejected.
	status, body := doJSON(t, ts, http.MethodPost, "/auth/refresh", "", refreshRequest{
		RefreshToken: refresh,
		Pin:          "123456",
	})
	if status != http.StatusForbidden || errorCode(t, body) != "pin_not_set" {
		t.Fatalf("expected 403 pin_not_set, got %d (%v)", status, body)
	}

	setPin(t, ts, access, "123456")

	status, body = doJSON(t, ts, http.MethodPost, "/auth/refresh", "", refreshRequest{
		RefreshToken: refresh,
		Pin:          "123456",
	})
	if status != http.StatusOK {
		t.Fatalf("refresh: expected 200, got %d (%v)", status, body)
	}
	sess := body["session"].(map[string]any)
	newRefresh, _ := sess["refresh_token"].(string)
	if newRefresh == "" || newRefresh == refresh {
		t.Fatalf("expected a rotated refresh token")
	}

	// The consumed token is dead.
	status, body = doJSON(t, ts, http.MethodPost, "/auth/refresh", "", refreshRequest{
		RefreshToken: refresh,
		Pin:          "123456",
	})
	if status != http.StatusUnauthorized || errorCode(t, body) != "invalid_refresh_token" {
		t.Fatalf("expected 401 invalid_refresh_token, got %d (%v)", status, body)
	}
}

func TestRefreshEndpoint_WrongPin(t *testing.T) {
	ts := newTestServer(t)

	_, access, refresh := loginDevice(t, ts, "phone")
	setPin(t, ts, access, "123456")

	status, body := doJSON(t, ts, http.MethodPost, "/auth/refresh", "", refreshRequest{
		RefreshToken: refresh,
		Pin:          "654321",
	})
	if status != http.StatusUnauthorized || errorCode(t, body) != "invalid_pin" {
		t.Fatalf("expected 401 invalid_pin, got %d (%v)", status, body)
	}
}

func TestLogoutEndpoint_KillsBearer(t *testing.T) {
	ts := newTestServer(t)

	_, access, _ := loginDevice(t, ts, "phone")

	status, _ := doJSON(t, ts, http.MethodPost, "/auth/logout", access, nil)
	if status != http.StatusNoContent {
		t.Fatalf("logout: expected 204, got %d", status)
	}

	status, body := doJSON(t, ts, http.MethodGet, "/me", access, nil)
	if status != http.StatusUnauthorized || errorCode(t, body) != "unauthorized" {
		t.Fatalf("expected 401 unauthorized after logout, got %d (%v)", status, body)
	}
}

func TestLogoutAllEndpoint_PasswordReauth(t *testing.T) {
	ts := newTestServer(t)

	_, accessA, _ := loginDevice(t, ts, "phone")
	_, accessB, _ := loginDevice(t, ts, "laptop")

	// No bearer at all: credentials in the body carry the request.
	status, body := doJSON(t, ts, http.MethodPost, "/auth/logout_all", "", logoutAllRequest{
		Email:    testEmail,
		Password: testPassword,
	})
	if status != http.StatusOK {
		t.Fatalf("logout_all: expected 200, got %d (%v)", status, body)
	}
	if n, _ := body["revoked_sessions"].(float64); n != 2 {
		t.Fatalf("expected 2 revoked sessions, got %v", body)
	}

	for _, access := range []string{accessA, accessB} {
		if status, _ := doJSON(t, ts, http.MethodGet, "/me", access, nil); status != http.StatusUnauthorized {
			t.Fatalf("expected 401 after logout_all, got %d", status)
		}
	}

	// Wrong credentials cannot trigger it.
	status, body = doJSON(t, ts, http.MethodPost, "/auth/logout_all", "", logoutAllRequest{
		Email:    testEmail,
		Password: "wrong",
	})
	if status != http.StatusUnauthorized || errorCode(t, body) != "invalid_credentials" {
		t.Fatalf("expected 401 invalid_credentials, got %d (%v)", status, body)
	}
}

func TestDevicesEndpoints(t *testing.T) {
	ts := newTestServer(t)

	phoneID, phoneAccess, _ := loginDevice(t, ts, "phone")
	_, laptopAccess, _ := loginDevice(t, ts, "laptop")
	setPin(t, ts, phoneAccess, "123456")

	status, body := doJSON(t, ts, http.MethodGet, "/auth/devices", laptopAccess, nil)
	if status != http.StatusOK {
		t.Fatalf("devices: expected 200, got %d", status)
	}
	devices, _ := body["devices"].([]any)
	if len(devices) != 2 {
		t.Fatalf("expected 2 devices, got %v", body)
	}

	byLabel := map[string]map[string]any{}
	for _, d := range devices {
		dev := d.(map[string]any)
		byLabel[dev["label"].(string)] = dev
	}
	if cur, _ := byLabel["laptop"]["current"].(bool); !cur {
		t.Fatalf("expected laptop to be current: %v", byLabel)
	}
	if hasPin, _ := byLabel["phone"]["has_pin"].(bool); !hasPin {
		t.Fatalf("expected phone to have a pin: %v", byLabel)
	}

	// Rename the phone from the laptop.
	status, _ = doJSON(t, ts, http.MethodPatch, "/auth/devices", laptopAccess, deviceRenameRequest{
		SessionID: phoneID,
		Label:     "old phone",
	})
	if status != http.StatusNoContent {
		t.Fatalf("rename: expected 204, got %d", status)
	}

	// A bogus target is indistinguishable from another account's session.
	status, body = doJSON(t, ts, http.MethodPost, "/auth/devices/logout", laptopAccess, deviceLogoutRequest{
		SessionID: "01NOSUCHSESSIONXXXXXXXXXXX",
	})
	if status != http.StatusNotFound || errorCode(t, body) != "device_not_found" {
		t.Fatalf("expected 404 device_not_found, got %d (%v)", status, body)
	}

	// Logging out the phone from the laptop kills only the phone.
	status, _ = doJSON(t, ts, http.MethodPost, "/auth/devices/logout", laptopAccess, deviceLogoutRequest{
		SessionID: phoneID,
	})
	if status != http.StatusNoContent {
		t.Fatalf("device logout: expected 204, got %d", status)
	}
	if status, _ := doJSON(t, ts, http.MethodGet, "/me", phoneAccess, nil); status != http.StatusUnauthorized {
		t.Fatalf("expected phone bearer dead, got %d", status)
	}
	if status, _ := doJSON(t, ts, http.MethodGet, "/me", laptopAccess, nil); status != http.StatusOK {
		t.Fatalf("expected laptop bearer alive, got %d", status)
	}
}

func TestMeEndpoint(t *testing.T) {
	ts := newTestServer(t)

	_, access, _ := loginDevice(t, ts, "phone")

	status, body := doJSON(t, ts, http.MethodGet, "/me", access, nil)
	if status != http.StatusOK {
		t.Fatalf("me: expected 200, got %d", status)
	}
	acct, _ := body["account"].(map[string]any)
	if acct["email"] != testEmail {
		t.Fatalf("unexpected account payload: %v", body)
	}
	if verified, _ := acct["verified"].(bool); !verified {
		t.Fatalf("expected verified account: %v", acct)
	}
}
