package session

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and dev runs without a
// database. All methods are safe for concurrent use.
type MemoryStore struct {
	mu       sync.Mutex
	byID     map[string]*Session
	byAccess map[string]string // access digest -> session id
	byRefr   map[string]string // refresh digest -> session id
}

// NewMemoryStore constructs an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:     make(map[string]*Session),
		byAccess: make(map[string]string),
		byRefr:   make(map[string]string),
	}
}

func (m *MemoryStore) Create(ctx context.Context, in CreateInput) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s := &Session{
		ID:                 in.ID,
		AccountID:          in.AccountID,
		AccessTokenDigest:  in.AccessDigest,
		RefreshTokenDigest: in.RefreshDigest,
		DeviceLabel:        in.Meta.Label,
		CreatedAt:          in.Now,
		ExpiresAt:          in.ExpiresAt,
	}
	if in.Meta.UserAgent != "" {
		ua := in.Meta.UserAgent
		s.UserAgent = &ua
	}
	if in.Meta.IP != nil {
		ip := in.Meta.IP
		s.IP = &ip
	}
	lu := in.Now
	s.LastUsedAt = &lu

	m.byID[s.ID] = s
	m.byAccess[s.AccessTokenDigest] = s.ID
	m.byRefr[s.RefreshTokenDigest] = s.ID
	return nil
}

func (m *MemoryStore) GetByID(ctx context.Context, sessionID string) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.byID[sessionID]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	return *s, nil
}

func (m *MemoryStore) FindActiveByAccessDigest(ctx context.Context, digest string) (Session, error) {
	return m.findActive(ctx, m.byAccess, digest)
}

func (m *MemoryStore) FindActiveByRefreshDigest(ctx context.Context, digest string) (Session, error) {
	return m.findActive(ctx, m.byRefr, digest)
}

func (m *MemoryStore) findActive(ctx context.Context, index map[string]string, digest string) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := index[digest]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	s, ok := m.byID[id]
	if !ok || s.RevokedAt != nil {
		return Session{}, ErrSessionNotFound
	}
	return *s, nil
}

func (m *MemoryStore) SetPin(ctx context.Context, now time.Time, sessionID, pinHash string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.byID[sessionID]
	if !ok || s.RevokedAt != nil {
		return false, nil
	}
	h := pinHash
	s.PinHash = &h
	lu := now
	s.LastUsedAt = &lu
	return true, nil
}

func (m *MemoryStore) Rotate(ctx context.Context, now time.Time, sessionID, oldRefreshDigest, newAccessDigest, newRefreshDigest string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.byID[sessionID]
	if !ok || s.RevokedAt != nil || s.RefreshTokenDigest != oldRefreshDigest {
		return false, nil
	}

	delete(m.byAccess, s.AccessTokenDigest)
	delete(m.byRefr, s.RefreshTokenDigest)
	s.AccessTokenDigest = newAccessDigest
	s.RefreshTokenDigest = newRefreshDigest
	m.byAccess[newAccessDigest] = s.ID
	m.byRefr[newRefreshDigest] = s.ID

	lu := now
	s.LastUsedAt = &lu
	return true, nil
}

func (m *MemoryStore) Touch(ctx context.Context, now time.Time, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.byID[sessionID]
	if !ok || s.RevokedAt != nil {
		return nil
	}
	lu := now
	s.LastUsedAt = &lu
	return nil
}

func (m *MemoryStore) Revoke(ctx context.Context, now time.Time, sessionID, reason string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	return m.revokeLocked(now, sessionID, reason), nil
}

func (m *MemoryStore) revokeLocked(now time.Time, sessionID, reason string) bool {
	s, ok := m.byID[sessionID]
	if !ok || s.RevokedAt != nil {
		return false
	}
	at := now
	r := reason
	s.RevokedAt = &at
	s.RevocationReason = &r
	return true
}

func (m *MemoryStore) RevokeAllForAccount(ctx context.Context, now time.Time, accountID, reason string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var ids []string
	for id, s := range m.byID {
		if s.AccountID != accountID || s.RevokedAt != nil {
			continue
		}
		if m.revokeLocked(now, id, reason) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *MemoryStore) ListActiveForAccount(ctx context.Context, accountID string) ([]Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var list []Session
	for _, s := range m.byID {
		if s.AccountID != accountID || s.RevokedAt != nil {
			continue
		}
		list = append(list, *s)
	}
	sort.Slice(list, func(i, j int) bool {
		li, lj := list[i].LastUsedAt, list[j].LastUsedAt
		switch {
		case li != nil && lj != nil && !li.Equal(*lj):
			return li.After(*lj)
		case li != nil && lj == nil:
			return true
		case li == nil && lj != nil:
			return false
		}
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
	return list, nil
}

func (m *MemoryStore) UpdateDevice(ctx context.Context, now time.Time, sessionID string, upd DeviceUpdate) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.byID[sessionID]
	if !ok || s.RevokedAt != nil {
		return false, nil
	}
	if upd.Label != nil {
		s.DeviceLabel = *upd.Label
	}
	lu := now
	s.LastUsedAt = &lu
	return true, nil
}
