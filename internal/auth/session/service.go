package session

import (
	"context"
	"crypto/rand"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"stash/internal/account"
	"stash/internal/security/credential"
	"stash/internal/security/token"
)

// Events receives session revocation notifications. Implementations must not
// block; delivery is best-effort and happens after the store write.
type Events interface {
	SessionsRevoked(accountID string, sessionIDs []string, reason string)
}

type noopEvents struct{}

func (noopEvents) SessionsRevoked(string, []string, string) {}

// Deps bundles the collaborators of the Service. Gate, Events, and Log are
// optional and default to no-ops.
type Deps struct {
	Store    Store
	Tokens   AccessTokenManager
	Accounts account.Store
	Hasher   *credential.Hasher

	Gate   PinGate
	Events Events
	Log    *slog.Logger
}

// Service implements the high-level session operations for Stash.
//
// It issues sessions (access + refresh), rotates token pairs in place on the
// session row, verifies per-device PINs, supports per-session and per-account
// revocation, and resolves bearer tokens into identities against live state.
type Service struct {
	cfg      Config
	store    Store
	tokens   AccessTokenManager
	accounts account.Store
	hasher   *credential.Hasher
	gate     PinGate
	events   Events
	log      *slog.Logger

	// dummyHash absorbs password verification time for unknown emails.
	dummyHash string
}

// Issued is the result of issuing or rotating a session's token pair.
type Issued struct {
	SessionID    string
	AccessToken  string
	AccessExp    time.Time
	RefreshToken string
	RefreshExp   time.Time
}

// LoginResult is what a successful login hands back to the transport layer.
type LoginResult struct {
	Issued
	AccountID string

	// PinRequired signals that the device must complete PIN setup before
	// its first refresh.
	PinRequired bool
}

// NewService constructs a Service. Store, Tokens, Accounts, and Hasher are
// required; the rest of Deps may be left zero.
func NewService(cfg Config, d Deps) (*Service, error) {
	if d.Store == nil || d.Tokens == nil || d.Accounts == nil || d.Hasher == nil {
		return nil, ErrConfig
	}

	dummy, err := d.Hasher.Hash("stash-login-timing-pad")
	if err != nil {
		return nil, err
	}

	s := &Service{
		cfg:       cfg,
		store:     d.Store,
		tokens:    d.Tokens,
		accounts:  d.Accounts,
		hasher:    d.Hasher,
		gate:      d.Gate,
		events:    d.Events,
		log:       d.Log,
		dummyHash: dummy,
	}
	if s.gate == nil {
		s.gate = NoopPinGate{}
	}
	if s.events == nil {
		s.events = noopEvents{}
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	return s, nil
}

func (s *Service) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.OpTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.cfg.OpTimeout)
}

func newSessionID(now time.Time) string {
	return ulid.MustNew(ulid.Timestamp(now), rand.Reader).String()
}

// Login verifies email+password and issues a fresh session bound to the
// calling device. Unknown email, wrong password, and disabled account all
// collapse into ErrInvalidCredentials after a full-cost hash verification.
func (s *Service) Login(ctx context.Context, now time.Time, email, password string, meta DeviceMeta) (LoginResult, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	auth, err := s.verifyAuth(ctx, email, password)
	if err != nil {
		return LoginResult{}, err
	}
	if s.cfg.RequireVerified && auth.Account.VerifiedAt == nil {
		return LoginResult{}, ErrAccountUnverified
	}

	issued, err := s.issue(ctx, now, auth.Account.ID, meta)
	if err != nil {
		return LoginResult{}, err
	}

	s.log.InfoContext(ctx, "auth.session.created",
		"session_id", issued.SessionID,
		"account_id", auth.Account.ID,
		"device", meta.Label,
	)

	return LoginResult{Issued: issued, AccountID: auth.Account.ID, PinRequired: true}, nil
}

// VerifyCredentials checks email+password without issuing a session. It is
// the re-auth path for operations that must stay available when no device
// holds a valid token.
func (s *Service) VerifyCredentials(ctx context.Context, email, password string) (string, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	auth, err := s.verifyAuth(ctx, email, password)
	if err != nil {
		return "", err
	}
	return auth.Account.ID, nil
}

// verifyAuth collapses unknown email, wrong password, and disabled account
// into ErrInvalidCredentials after a full-cost hash verification.
func (s *Service) verifyAuth(ctx context.Context, email, password string) (account.Auth, error) {
	auth, err := s.accounts.LookupAuthByEmail(ctx, account.NormalizeEmail(email))
	if errors.Is(err, account.ErrNotFound) {
		_, _ = s.hasher.Verify(password, s.dummyHash)
		return account.Auth{}, ErrInvalidCredentials
	}
	if err != nil {
		return account.Auth{}, err
	}

	ok, err := s.hasher.Verify(password, auth.PasswordHash)
	if err != nil || !ok {
		return account.Auth{}, ErrInvalidCredentials
	}
	if auth.DisabledAt != nil {
		return account.Auth{}, ErrInvalidCredentials
	}
	return auth, nil
}

func (s *Service) issue(ctx context.Context, now time.Time, accountID string, meta DeviceMeta) (Issued, error) {
	sessionID := newSessionID(now)

	refreshPlain, refreshDigest, err := newOpaqueRefreshToken(s.cfg.RefreshTokenBytes)
	if err != nil {
		return Issued{}, err
	}

	accessToken, accessExp, err := s.tokens.Issue(accountID, sessionID, now)
	if err != nil {
		return Issued{}, err
	}

	expiresAt := now.Add(s.cfg.RefreshTTL)

	err = s.store.Create(ctx, CreateInput{
		ID:            sessionID,
		AccountID:     accountID,
		AccessDigest:  token.DigestHex(accessToken),
		RefreshDigest: refreshDigest,
		Meta:          meta,
		Now:           now,
		ExpiresAt:     expiresAt,
	})
	if err != nil {
		return Issued{}, err
	}

	return Issued{
		SessionID:    sessionID,
		AccessToken:  accessToken,
		AccessExp:    accessExp,
		RefreshToken: refreshPlain,
		RefreshExp:   expiresAt,
	}, nil
}

// SetPin provisions (or re-provisions) the calling session's PIN.
// The PIN must be exactly the configured number of ASCII digits.
func (s *Service) SetPin(ctx context.Context, now time.Time, sessionID, pin string) error {
	if !s.validPinFormat(pin) {
		return ErrInvalidPinFormat
	}

	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	hash, err := s.hasher.Hash(pin)
	if err != nil {
		return err
	}

	ok, err := s.store.SetPin(ctx, now, sessionID, hash)
	if err != nil {
		return err
	}
	if !ok {
		return ErrSessionNotFound
	}

	// Re-provisioning starts the device from a clean slate.
	if err := s.gate.Reset(ctx, sessionID, now); err != nil {
		s.log.WarnContext(ctx, "auth.pin.gate_reset_failed", "session_id", sessionID, "err", err)
	}
	return nil
}

func (s *Service) validPinFormat(pin string) bool {
	if len(pin) != s.cfg.PinLength {
		return false
	}
	for _, r := range pin {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Refresh rotates the session's token pair after PIN verification.
//
// The rotation is a single conditional update keyed on the refresh digest
// that was looked up, so of two concurrent refreshes presenting the same
// token exactly one succeeds; the loser gets ErrInvalidRefreshToken. An
// expired session is revoked before the error is returned, so a retry with
// the same token cannot observe a different state.
func (s *Service) Refresh(ctx context.Context, now time.Time, refreshToken, pin string) (Issued, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" || len(refreshToken) > 4096 {
		return Issued{}, ErrInvalidRefreshToken
	}

	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	digest := token.DigestHex(refreshToken)

	row, err := s.store.FindActiveByRefreshDigest(ctx, digest)
	if errors.Is(err, ErrSessionNotFound) {
		return Issued{}, ErrInvalidRefreshToken
	}
	if err != nil {
		return Issued{}, err
	}

	if !row.ExpiresAt.After(now) {
		if changed, rerr := s.store.Revoke(ctx, now, row.ID, "expired"); rerr == nil && changed {
			s.events.SessionsRevoked(row.AccountID, []string{row.ID}, "expired")
		} else if rerr != nil {
			s.log.WarnContext(ctx, "auth.session.expire_revoke_failed", "session_id", row.ID, "err", rerr)
		}
		return Issued{}, ErrSessionExpired
	}

	if row.PinHash == nil {
		return Issued{}, ErrPinNotSet
	}
	if !s.validPinFormat(pin) {
		return Issued{}, ErrInvalidPinFormat
	}

	if blocked, retry, gerr := s.gate.Blocked(ctx, row.ID, now); gerr != nil {
		return Issued{}, gerr
	} else if blocked {
		return Issued{}, PinLockError{SessionID: row.ID, RetryAfter: retry}
	}

	ok, err := s.hasher.Verify(pin, *row.PinHash)
	if err != nil {
		return Issued{}, err
	}
	if !ok {
		if gerr := s.gate.RecordFailure(ctx, row.ID, now); gerr != nil {
			s.log.WarnContext(ctx, "auth.pin.gate_record_failed", "session_id", row.ID, "err", gerr)
		}
		return Issued{}, ErrInvalidPin
	}
	if gerr := s.gate.Reset(ctx, row.ID, now); gerr != nil {
		s.log.WarnContext(ctx, "auth.pin.gate_reset_failed", "session_id", row.ID, "err", gerr)
	}

	refreshPlain, refreshDigest, err := newOpaqueRefreshToken(s.cfg.RefreshTokenBytes)
	if err != nil {
		return Issued{}, err
	}
	accessToken, accessExp, err := s.tokens.Issue(row.AccountID, row.ID, now)
	if err != nil {
		return Issued{}, err
	}

	rotated, err := s.store.Rotate(ctx, now, row.ID, digest, token.DigestHex(accessToken), refreshDigest)
	if err != nil {
		return Issued{}, err
	}
	if !rotated {
		// Revoked meanwhile, or a concurrent rotation consumed the token.
		return Issued{}, ErrInvalidRefreshToken
	}

	s.log.DebugContext(ctx, "auth.session.rotated", "session_id", row.ID)

	return Issued{
		SessionID:    row.ID,
		AccessToken:  accessToken,
		AccessExp:    accessExp,
		RefreshToken: refreshPlain,
		// Rotation does not slide the session's lifetime.
		RefreshExp: row.ExpiresAt,
	}, nil
}

// Logout revokes the calling session. Idempotent.
func (s *Service) Logout(ctx context.Context, now time.Time, sessionID string) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	changed, err := s.store.Revoke(ctx, now, sessionID, "logout")
	if err != nil {
		return err
	}
	if changed {
		row, gerr := s.store.GetByID(ctx, sessionID)
		if gerr == nil {
			s.events.SessionsRevoked(row.AccountID, []string{sessionID}, "logout")
		}
		s.log.InfoContext(ctx, "auth.session.revoked", "session_id", sessionID, "reason", "logout")
	}
	return nil
}

// LogoutDevice revokes one of the account's sessions by id. A target that
// does not exist or belongs to another account is ErrDeviceNotFound.
func (s *Service) LogoutDevice(ctx context.Context, now time.Time, accountID, targetSessionID string) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	row, err := s.store.GetByID(ctx, targetSessionID)
	if errors.Is(err, ErrSessionNotFound) {
		return ErrDeviceNotFound
	}
	if err != nil {
		return err
	}
	if row.AccountID != accountID {
		return ErrDeviceNotFound
	}

	changed, err := s.store.Revoke(ctx, now, targetSessionID, "logout")
	if err != nil {
		return err
	}
	if changed {
		s.events.SessionsRevoked(accountID, []string{targetSessionID}, "logout")
		s.log.InfoContext(ctx, "auth.session.revoked", "session_id", targetSessionID, "reason", "logout")
	}
	return nil
}

// LogoutAll revokes every active session of the account and returns the ids
// that were revoked. Idempotent: a second call revokes nothing.
func (s *Service) LogoutAll(ctx context.Context, now time.Time, accountID string) ([]string, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	ids, err := s.store.RevokeAllForAccount(ctx, now, accountID, "logout_all")
	if err != nil {
		return nil, err
	}
	if len(ids) > 0 {
		s.events.SessionsRevoked(accountID, ids, "logout_all")
		s.log.InfoContext(ctx, "auth.session.revoked_all", "account_id", accountID, "count", len(ids))
	}
	return ids, nil
}

// ListDevices returns the account's active device bindings, most recently
// used first. currentSessionID marks the caller's own entry.
func (s *Service) ListDevices(ctx context.Context, accountID, currentSessionID string) ([]Device, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.store.ListActiveForAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	devices := make([]Device, 0, len(rows))
	for _, row := range rows {
		d := Device{
			ID:         row.ID,
			Label:      row.DeviceLabel,
			CreatedAt:  row.CreatedAt,
			LastUsedAt: row.LastUsedAt,
			HasPin:     row.PinHash != nil,
			Current:    row.ID == currentSessionID,
		}
		if row.UserAgent != nil {
			d.UserAgent = *row.UserAgent
		}
		devices = append(devices, d)
	}
	return devices, nil
}

// RenameDevice updates the label of one of the account's sessions.
func (s *Service) RenameDevice(ctx context.Context, now time.Time, accountID, targetSessionID string, upd DeviceUpdate) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	row, err := s.store.GetByID(ctx, targetSessionID)
	if errors.Is(err, ErrSessionNotFound) {
		return ErrDeviceNotFound
	}
	if err != nil {
		return err
	}
	if row.AccountID != accountID || !row.Active() {
		return ErrDeviceNotFound
	}

	ok, err := s.store.UpdateDevice(ctx, now, targetSessionID, upd)
	if err != nil {
		return err
	}
	if !ok {
		return ErrDeviceNotFound
	}
	return nil
}

// Authenticate resolves a bearer access token into an identity.
//
// The token must carry a valid signature and be unexpired, its digest must
// match an active session row, and the row must agree with the claims. Any
// failure is ErrUnauthorized; the caller is never told which check failed.
func (s *Service) Authenticate(ctx context.Context, now time.Time, accessToken string) (Identity, error) {
	claims, err := s.tokens.Verify(accessToken, now)
	if err != nil {
		return Identity{}, ErrUnauthorized
	}

	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	row, err := s.store.FindActiveByAccessDigest(ctx, token.DigestHex(accessToken))
	if errors.Is(err, ErrSessionNotFound) {
		return Identity{}, ErrUnauthorized
	}
	if err != nil {
		return Identity{}, err
	}

	if row.ID != claims.SessionID || row.AccountID != claims.AccountID {
		return Identity{}, ErrUnauthorized
	}

	// Best-effort usage tracking; a failed touch never fails the request.
	if terr := s.store.Touch(ctx, now, row.ID); terr != nil {
		s.log.DebugContext(ctx, "auth.session.touch_failed", "session_id", row.ID, "err", terr)
	}

	return Identity{AccountID: row.AccountID, SessionID: row.ID}, nil
}
