// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Storefront Contributors

package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Session token configuration.
const (
	SessionTokenBytes  = 32                 // 32 bytes = 64 hex chars
	SessionTokenExpiry = 7 * 24 * time.Hour // 7 day expiry
)

// Session is the single live login of a user.
type Session struct {
	UserID    ulid.ULID
	TokenHash string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// NewSession creates a validated Session.
func NewSession(userID ulid.ULID, tokenHash string, createdAt, expiresAt time.Time) (*Session, error) {
	if userID.Compare(ulid.ULID{}) == 0 {
		return nil, oops.Code("SESSION_INVALID_USER").Errorf("user ID cannot be zero")
	}
	if tokenHash == "" {
		return nil, oops.Code("SESSION_INVALID_HASH").Errorf("token hash cannot be empty")
	}
	if !expiresAt.After(createdAt) {
		return nil, oops.Code("SESSION_INVALID_EXPIRY").Errorf("expiry must be after creation")
	}
	return &Session{
		UserID:    userID,
		TokenHash: tokenHash,
		ExpiresAt: expiresAt,
		CreatedAt: createdAt,
	}, nil
}

// IsExpiredAt returns true unless the session expires strictly after t.
func (s *Session) IsExpiredAt(t time.Time) bool {
	return !s.ExpiresAt.After(t)
}

// GenerateSessionToken creates a secure random token and its hash.
// Returns (plaintext_token, sha256_hash, error).
// The plaintext token is sent to the client; the hash is stored in the database.
func GenerateSessionToken() (token, hash string, err error) {
	tokenBytes := make([]byte, SessionTokenBytes)
	if _, err = rand.Read(tokenBytes); err != nil {
		return "", "", oops.Code("SESSION_TOKEN_GENERATE_FAILED").
			With("operation", "crypto/rand.Read").
			With("requested_bytes", SessionTokenBytes).
			Wrap(err)
	}

	token = hex.EncodeToString(tokenBytes)
	return token, HashSessionToken(token), nil
}

// HashSessionToken computes the SHA256 hash of a session token.
func HashSessionToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// SessionRepository manages session persistence.
type SessionRepository interface {
	// Upsert stores the session as the only session of its user, atomically
	// replacing any existing row for that user.
	Upsert(ctx context.Context, session *Session) error

	// GetByTokenHash retrieves a session by its token hash. Returns an error
	// wrapping ErrNotFound if absent. Expiry is not checked.
	GetByTokenHash(ctx context.Context, tokenHash string) (*Session, error)

	// DeleteByUser removes the session of a user. Absent rows are not an error.
	DeleteByUser(ctx context.Context, userID ulid.ULID) error

	// DeleteExpired removes sessions that expired at or before now and returns
	// the count of deleted records.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// SessionManager issues and resolves opaque session tokens.
type SessionManager struct {
	repo SessionRepository
	ttl  time.Duration
	now  func() time.Time
}

// NewSessionManager creates a SessionManager. A non-positive ttl selects
// SessionTokenExpiry.
func NewSessionManager(repo SessionRepository, ttl time.Duration, opts ...ManagerOption) (*SessionManager, error) {
	if repo == nil {
		return nil, oops.Code("SESSION_MANAGER_INVALID").Errorf("session repository is required")
	}
	if ttl <= 0 {
		ttl = SessionTokenExpiry
	}
	o := applyManagerOptions(opts)
	return &SessionManager{repo: repo, ttl: ttl, now: o.now}, nil
}

// TTL returns the lifetime given to new sessions.
func (m *SessionManager) TTL() time.Duration {
	return m.ttl
}

// Issue mints a new token for the user and makes it the user's only session.
// Any previously issued token stops resolving immediately.
func (m *SessionManager) Issue(ctx context.Context, userID ulid.ULID) (token string, expiresAt time.Time, err error) {
	token, tokenHash, err := GenerateSessionToken()
	if err != nil {
		return "", time.Time{}, err
	}

	now := m.now()
	session, err := NewSession(userID, tokenHash, now, now.Add(m.ttl))
	if err != nil {
		return "", time.Time{}, oops.Code("SESSION_ISSUE_FAILED").
			With("operation", "create session").
			Wrap(err)
	}

	if err := m.repo.Upsert(ctx, session); err != nil {
		return "", time.Time{}, oops.Code("SESSION_ISSUE_FAILED").
			With("operation", "persist session").
			With("user_id", userID.String()).
			Wrap(err)
	}

	return token, session.ExpiresAt, nil
}

// Resolve returns the owning user of a live token. Unknown and expired tokens
// return an error wrapping ErrNotFound; storage failures are returned as is.
func (m *SessionManager) Resolve(ctx context.Context, token string) (ulid.ULID, error) {
	if token == "" {
		return ulid.ULID{}, oops.Code("SESSION_TOKEN_EMPTY").Wrapf(ErrNotFound, "session token cannot be empty")
	}

	session, err := m.repo.GetByTokenHash(ctx, HashSessionToken(token))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ulid.ULID{}, oops.Code("SESSION_INVALID").Wrapf(ErrNotFound, "invalid session token")
		}
		return ulid.ULID{}, oops.Code("SESSION_RESOLVE_FAILED").
			With("operation", "get session by token hash").
			Wrap(err)
	}

	if session.IsExpiredAt(m.now()) {
		return ulid.ULID{}, oops.Code("SESSION_EXPIRED").Wrapf(ErrNotFound, "session has expired")
	}

	return session.UserID, nil
}

// Revoke removes the user's session if there is one.
func (m *SessionManager) Revoke(ctx context.Context, userID ulid.ULID) error {
	if err := m.repo.DeleteByUser(ctx, userID); err != nil {
		return oops.Code("SESSION_REVOKE_FAILED").
			With("user_id", userID.String()).
			Wrap(err)
	}
	return nil
}

// Sweep deletes expired sessions.
func (m *SessionManager) Sweep(ctx context.Context) (int64, error) {
	n, err := m.repo.DeleteExpired(ctx, m.now())
	if err != nil {
		return 0, oops.Code("SESSION_SWEEP_FAILED").Wrap(err)
	}
	return n, nil
}
