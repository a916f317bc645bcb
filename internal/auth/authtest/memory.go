// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Storefront Contributors

// Package authtest provides in-memory auth repositories for tests. Each store
// holds one mutex for the duration of an operation, which gives the same
// single-statement atomicity the PostgreSQL and Redis stores provide.
package authtest

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/storefront/storefront/internal/auth"
)

// UserStore is an in-memory auth.UserRepository.
type UserStore struct {
	mu         sync.RWMutex
	byID       map[ulid.ULID]auth.User
	byEmail    map[string]ulid.ULID
	byUsername map[string]ulid.ULID
}

// NewUserStore creates an empty UserStore.
func NewUserStore() *UserStore {
	return &UserStore{
		byID:       make(map[ulid.ULID]auth.User),
		byEmail:    make(map[string]ulid.ULID),
		byUsername: make(map[string]ulid.ULID),
	}
}

// Create stores a new user.
func (s *UserStore) Create(_ context.Context, user *auth.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byEmail[user.Email]; ok {
		return oops.Code("USER_CONFLICT").With("field", "email").Wrap(auth.ErrConflict)
	}
	if _, ok := s.byUsername[user.Username]; ok {
		return oops.Code("USER_CONFLICT").With("field", "username").Wrap(auth.ErrConflict)
	}
	s.byID[user.ID] = *user
	s.byEmail[user.Email] = user.ID
	s.byUsername[user.Username] = user.ID
	return nil
}

// GetByID retrieves a user by ID.
func (s *UserStore) GetByID(_ context.Context, id ulid.ULID) (*auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.byID[id]
	if !ok {
		return nil, oops.Code("USER_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	return &u, nil
}

// GetByEmail retrieves a user by email.
func (s *UserStore) GetByEmail(_ context.Context, email string) (*auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[email]
	if !ok {
		return nil, oops.Code("USER_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	u := s.byID[id]
	return &u, nil
}

// UpdatePassword overwrites a user's password hash.
func (s *UserStore) UpdatePassword(_ context.Context, id ulid.ULID, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[id]
	if !ok {
		return oops.Code("USER_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	u.PasswordHash = passwordHash
	u.UpdatedAt = time.Now().UTC()
	s.byID[id] = u
	return nil
}

// SessionStore is an in-memory auth.SessionRepository keyed by user.
type SessionStore struct {
	mu     sync.Mutex
	byUser map[ulid.ULID]auth.Session
}

// NewSessionStore creates an empty SessionStore.
func NewSessionStore() *SessionStore {
	return &SessionStore{byUser: make(map[ulid.ULID]auth.Session)}
}

// Upsert replaces the user's session.
func (s *SessionStore) Upsert(_ context.Context, session *auth.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byUser[session.UserID] = *session
	return nil
}

// GetByTokenHash retrieves a session by token hash.
func (s *SessionStore) GetByTokenHash(_ context.Context, tokenHash string) (*auth.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.byUser {
		if sess.TokenHash == tokenHash {
			return &sess, nil
		}
	}
	return nil, oops.Code("SESSION_NOT_FOUND").Wrap(auth.ErrNotFound)
}

// DeleteByUser removes the user's session.
func (s *SessionStore) DeleteByUser(_ context.Context, userID ulid.ULID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byUser, userID)
	return nil
}

// DeleteExpired removes sessions expiring at or before now.
func (s *SessionStore) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, sess := range s.byUser {
		if sess.IsExpiredAt(now) {
			delete(s.byUser, id)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored sessions.
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byUser)
}

// OTPStore is an in-memory auth.OTPRepository keyed by email.
type OTPStore struct {
	mu      sync.Mutex
	byEmail map[string]auth.OTPChallenge
}

// NewOTPStore creates an empty OTPStore.
func NewOTPStore() *OTPStore {
	return &OTPStore{byEmail: make(map[string]auth.OTPChallenge)}
}

// Upsert replaces the email's challenge.
func (s *OTPStore) Upsert(_ context.Context, challenge *auth.OTPChallenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byEmail[challenge.Email] = *challenge
	return nil
}

// Consume deletes the challenge if it matches and is live.
func (s *OTPStore) Consume(_ context.Context, email, codeHash string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byEmail[email]
	if !ok || c.CodeHash != codeHash || !c.ExpiresAt.After(now) {
		return false, nil
	}
	delete(s.byEmail, email)
	return true, nil
}

// DeleteExpired removes challenges expiring at or before now.
func (s *OTPStore) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for email, c := range s.byEmail {
		if !c.ExpiresAt.After(now) {
			delete(s.byEmail, email)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored challenges.
func (s *OTPStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byEmail)
}

// Compile-time interface checks.
var (
	_ auth.UserRepository    = (*UserStore)(nil)
	_ auth.SessionRepository = (*SessionStore)(nil)
	_ auth.OTPRepository     = (*OTPStore)(nil)
)
