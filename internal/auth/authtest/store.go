// Package authtest provides an in-memory auth.Store for tests. Writes apply
// immediately (rollback is not emulated); WithinTx holds one mutex for the
// whole callback, which mirrors the serialization the Postgres store gets
// from its row locks.
package authtest

import (
	"context"
	"sync"
	"time"

	"salonora.app/internal/auth"
	"salonora.app/internal/ids"
)

// Store is a mutex-guarded in-memory implementation of auth.Store.
type Store struct {
	mu      *sync.Mutex
	txBound bool

	users  map[string]*auth.User
	tokens map[string]*auth.RefreshToken
	roles  map[string]*auth.Role

	Now func() time.Time

	tenant      *string
	tenantBound bool
}

var _ auth.Store = (*Store)(nil)

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		mu:     &sync.Mutex{},
		users:  make(map[string]*auth.User),
		tokens: make(map[string]*auth.RefreshToken),
		roles:  make(map[string]*auth.Role),
		Now:    time.Now,
	}
}

func (s *Store) lock() func() {
	if s.txBound {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *Store) Users() auth.UserStore                 { return (*userStore)(s) }
func (s *Store) RefreshTokens() auth.RefreshTokenStore { return (*tokenStore)(s) }
func (s *Store) Roles() auth.RoleStore                 { return (*roleStore)(s) }

func (s *Store) WithinTx(_ context.Context, fn func(auth.Store) error) error {
	if s.txBound {
		return fn(s)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sub := *s
	sub.txBound = true
	return fn(&sub)
}

func (s *Store) WithTenant(_ context.Context, tenantID *string, fn func(auth.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub := *s
	sub.txBound = true
	sub.tenant = tenantID
	sub.tenantBound = true
	return fn(&sub)
}

func (s *Store) ActiveTenant() (*string, bool) { return s.tenant, s.tenantBound }

// Seed and inspection helpers ----------------------------------------------

// AddUser stores a user, assigning an id when missing.
func (s *Store) AddUser(u *auth.User) *auth.User {
	defer s.lock()()
	if u.ID == "" {
		u.ID = ids.New()
	}
	cp := *u
	s.users[u.ID] = &cp
	return u
}

// AddRole stores a role, assigning an id when missing.
func (s *Store) AddRole(r *auth.Role) *auth.Role {
	defer s.lock()()
	if r.ID == "" {
		r.ID = ids.New()
	}
	cp := *r
	s.roles[r.ID] = &cp
	return r
}

// User returns a copy of the stored user row.
func (s *Store) User(id string) (auth.User, bool) {
	defer s.lock()()
	u, ok := s.users[id]
	if !ok {
		return auth.User{}, false
	}
	return *u, true
}

// Token returns a copy of the stored refresh token row.
func (s *Store) Token(id string) (auth.RefreshToken, bool) {
	defer s.lock()()
	t, ok := s.tokens[id]
	if !ok {
		return auth.RefreshToken{}, false
	}
	return *t, true
}

// TokensForUser returns copies of all token rows owned by the user.
func (s *Store) TokensForUser(userID string) []auth.RefreshToken {
	defer s.lock()()
	var out []auth.RefreshToken
	for _, t := range s.tokens {
		if t.UserID == userID {
			out = append(out, *t)
		}
	}
	return out
}

// User store ---------------------------------------------------------------

type userStore Store

func (s *userStore) store() *Store { return (*Store)(s) }

func (s *userStore) Create(_ context.Context, u *auth.User) error {
	s.store().AddUser(u)
	return nil
}

func (s *userStore) FindByID(_ context.Context, id string) (*auth.User, error) {
	defer s.store().lock()()
	u, ok := s.users[id]
	if !ok || u.DeletedAt != nil {
		return nil, auth.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *userStore) FindByEmail(_ context.Context, email string, tenantHint *string) (*auth.User, error) {
	defer s.store().lock()()
	var matches []*auth.User
	for _, u := range s.users {
		if u.Email != email || u.DeletedAt != nil {
			continue
		}
		if tenantHint != nil {
			if u.TenantID == nil || *u.TenantID != *tenantHint {
				continue
			}
		}
		matches = append(matches, u)
	}
	if len(matches) != 1 {
		return nil, auth.ErrNotFound
	}
	cp := *matches[0]
	return &cp, nil
}

func (s *userStore) RecordLoginFailure(_ context.Context, userID string, threshold int, lockFor time.Duration) (int, *time.Time, error) {
	defer s.store().lock()()
	u, ok := s.users[userID]
	if !ok || u.DeletedAt != nil {
		return 0, nil, auth.ErrNotFound
	}
	u.FailedLoginCount++
	if u.FailedLoginCount >= threshold {
		until := s.Now().Add(lockFor)
		u.LockedUntil = &until
	}
	var lockedUntil *time.Time
	if u.LockedUntil != nil {
		t := *u.LockedUntil
		lockedUntil = &t
	}
	return u.FailedLoginCount, lockedUntil, nil
}

func (s *userStore) ResetLockout(_ context.Context, userID string, lastLogin time.Time) error {
	defer s.store().lock()()
	u, ok := s.users[userID]
	if !ok || u.DeletedAt != nil {
		return auth.ErrNotFound
	}
	u.FailedLoginCount = 0
	u.LockedUntil = nil
	u.LastLogin = &lastLogin
	return nil
}

// Refresh token store -------------------------------------------------------

type tokenStore Store

func (s *tokenStore) store() *Store { return (*Store)(s) }

func (s *tokenStore) Create(_ context.Context, tok *auth.RefreshToken) error {
	defer s.store().lock()()
	if tok.ID == "" {
		tok.ID = ids.New()
	}
	tok.CreatedAt = s.Now()
	cp := *tok
	s.tokens[tok.ID] = &cp
	return nil
}

func (s *tokenStore) FindByID(_ context.Context, id string) (*auth.RefreshToken, error) {
	defer s.store().lock()()
	t, ok := s.tokens[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *tokenStore) FindByIDForUpdate(ctx context.Context, id string) (*auth.RefreshToken, error) {
	return s.FindByID(ctx, id)
}

func (s *tokenStore) Revoke(_ context.Context, id, reason string) error {
	defer s.store().lock()()
	t, ok := s.tokens[id]
	if !ok || t.Revoked {
		return auth.ErrNotFound
	}
	now := s.Now()
	t.Revoked = true
	t.RevokedAt = &now
	t.RevokedReason = reason
	return nil
}

func (s *tokenStore) RevokeAllForUser(_ context.Context, userID, reason string) error {
	defer s.store().lock()()
	now := s.Now()
	for _, t := range s.tokens {
		if t.UserID == userID && !t.Revoked {
			t.Revoked = true
			t.RevokedAt = &now
			t.RevokedReason = reason
		}
	}
	return nil
}

// Role store ----------------------------------------------------------------

type roleStore Store

func (s *roleStore) store() *Store { return (*Store)(s) }

func (s *roleStore) Create(_ context.Context, role *auth.Role) error {
	s.store().AddRole(role)
	return nil
}

func (s *roleStore) Find(_ context.Context, id string) (*auth.Role, error) {
	defer s.store().lock()()
	r, ok := s.roles[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := *r
	return &cp, nil
}
