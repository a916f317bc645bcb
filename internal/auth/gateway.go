// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Storefront Contributors

package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// OTPSubject is the subject line of passcode emails.
const OTPSubject = "Your One-Time Password (OTP)"

// Message is an outbound email.
type Message struct {
	To      string
	Subject string
	HTML    string
}

// Notifier hands messages to a delivery channel without waiting for delivery.
// The returned error reports only a failed hand-off, never a failed delivery.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// RegisterInput carries the fields accepted at registration.
type RegisterInput struct {
	Username string
	Email    string
	Password string
	Profile  Profile
}

// LoginResult is returned by successful logins.
type LoginResult struct {
	User      *User
	Token     string
	ExpiresAt time.Time
}

// Gateway is the request-facing side of authentication.
type Gateway struct {
	users    UserRepository
	hasher   PasswordHasher
	sessions *SessionManager
	otps     *OTPManager
	notifier Notifier
	logger   *slog.Logger

	// dummyHash is verified when the email is unknown so that the lookup
	// miss costs the same hash computation as a wrong password.
	dummyHash string
}

// NewGateway creates a Gateway that logs through slog.Default.
func NewGateway(users UserRepository, hasher PasswordHasher, sessions *SessionManager, otps *OTPManager, notifier Notifier) (*Gateway, error) {
	return NewGatewayWithLogger(users, hasher, sessions, otps, notifier, slog.Default())
}

// NewGatewayWithLogger creates a Gateway with an explicit logger.
func NewGatewayWithLogger(
	users UserRepository,
	hasher PasswordHasher,
	sessions *SessionManager,
	otps *OTPManager,
	notifier Notifier,
	logger *slog.Logger,
) (*Gateway, error) {
	switch {
	case users == nil:
		return nil, oops.Code("GATEWAY_INVALID").Errorf("users repository is required")
	case hasher == nil:
		return nil, oops.Code("GATEWAY_INVALID").Errorf("password hasher is required")
	case sessions == nil:
		return nil, oops.Code("GATEWAY_INVALID").Errorf("session manager is required")
	case otps == nil:
		return nil, oops.Code("GATEWAY_INVALID").Errorf("otp manager is required")
	case notifier == nil:
		return nil, oops.Code("GATEWAY_INVALID").Errorf("notifier is required")
	case logger == nil:
		return nil, oops.Code("GATEWAY_INVALID").Errorf("logger is required")
	}

	dummyHash, err := newDummyHash(hasher)
	if err != nil {
		return nil, err
	}
	return &Gateway{
		users:     users,
		hasher:    hasher,
		sessions:  sessions,
		otps:      otps,
		notifier:  notifier,
		logger:    logger,
		dummyHash: dummyHash,
	}, nil
}

// newDummyHash hashes a random password with the configured parameters. The
// password is discarded, so the digest matches nothing.
func newDummyHash(hasher PasswordHasher) (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", oops.Code("GATEWAY_DUMMY_HASH_FAILED").Wrap(err)
	}
	digest, err := hasher.Hash(hex.EncodeToString(buf))
	if err != nil {
		return "", oops.Code("GATEWAY_DUMMY_HASH_FAILED").Wrap(err)
	}
	return digest, nil
}

// Register creates a user account.
func (g *Gateway) Register(ctx context.Context, in RegisterInput) (*User, error) {
	if err := ValidatePassword(in.Password); err != nil {
		return nil, err
	}

	// Validate the cheap fields before paying for a hash.
	if err := ValidateUsername(in.Username); err != nil {
		return nil, err
	}
	if err := ValidateEmail(NormalizeEmail(in.Email)); err != nil {
		return nil, err
	}

	hash, err := g.hasher.Hash(in.Password)
	if err != nil {
		return nil, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "hash password").
			Wrap(err)
	}

	user, err := NewUser(in.Username, in.Email, hash, in.Profile)
	if err != nil {
		return nil, err
	}

	if err := g.users.Create(ctx, user); err != nil {
		return nil, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "create user").
			With("username", user.Username).
			Wrap(err)
	}

	g.logger.InfoContext(ctx, "user registered", "user_id", user.ID.String())
	return user, nil
}

// Login authenticates by email and password and issues a session.
// Unknown emails and wrong passwords return the same ErrInvalidCredentials
// and take the same time.
func (g *Gateway) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	user, lookupErr := g.users.GetByEmail(ctx, NormalizeEmail(email))

	targetHash := g.dummyHash
	if lookupErr != nil {
		if !errors.Is(lookupErr, ErrNotFound) {
			return nil, oops.Code("AUTH_LOGIN_FAILED").
				With("operation", "get user by email").
				Wrap(lookupErr)
		}
		user = nil
	} else {
		targetHash = user.PasswordHash
	}

	// Always verify so both failure causes cost one hash computation.
	valid := g.hasher.Verify(password, targetHash)
	if user == nil || !valid {
		return nil, oops.Code("AUTH_INVALID_CREDENTIALS").Wrap(ErrInvalidCredentials)
	}

	if g.hasher.NeedsUpgrade(user.PasswordHash) {
		g.upgradeHash(ctx, user, password)
	}

	return g.issueSession(ctx, user)
}

// upgradeHash replaces a legacy or outdated digest. Failures are logged and
// do not affect the login.
func (g *Gateway) upgradeHash(ctx context.Context, user *User, password string) {
	newHash, err := g.hasher.Hash(password)
	if err != nil {
		g.logger.WarnContext(ctx, "password rehash failed", "user_id", user.ID.String(), "error", err)
		return
	}
	if err := g.users.UpdatePassword(ctx, user.ID, newHash); err != nil {
		g.logger.WarnContext(ctx, "password rehash not persisted", "user_id", user.ID.String(), "error", err)
		return
	}
	user.PasswordHash = newHash
}

// RequestOTP issues a passcode for a registered email and queues it for
// delivery. Unknown emails return ErrNotFound. Delivery is not awaited and a
// failed hand-off is only logged.
func (g *Gateway) RequestOTP(ctx context.Context, email string) error {
	email = NormalizeEmail(email)

	if _, err := g.users.GetByEmail(ctx, email); err != nil {
		if errors.Is(err, ErrNotFound) {
			return oops.Code("AUTH_OTP_UNKNOWN_EMAIL").Wrapf(ErrNotFound, "user not found")
		}
		return oops.Code("AUTH_OTP_REQUEST_FAILED").
			With("operation", "get user by email").
			Wrap(err)
	}

	code, _, err := g.otps.Issue(ctx, email)
	if err != nil {
		return oops.Code("AUTH_OTP_REQUEST_FAILED").
			With("operation", "issue otp").
			Wrap(err)
	}

	msg := Message{
		To:      email,
		Subject: OTPSubject,
		HTML: fmt.Sprintf("<p>Your OTP for verification is <b>%s</b>. It is valid for %d minutes.</p>",
			code, int(g.otps.TTL().Minutes())),
	}
	if err := g.notifier.Notify(ctx, msg); err != nil {
		g.logger.ErrorContext(ctx, "otp email not queued", "error", err)
	}
	return nil
}

// LoginWithOTP consumes a passcode and issues a session for its email.
func (g *Gateway) LoginWithOTP(ctx context.Context, email, code string) (*LoginResult, error) {
	email = NormalizeEmail(email)

	ok, err := g.otps.ValidateAndConsume(ctx, email, code)
	if err != nil {
		return nil, oops.Code("AUTH_OTP_LOGIN_FAILED").
			With("operation", "consume otp").
			Wrap(err)
	}
	if !ok {
		return nil, oops.Code("AUTH_INVALID_OTP").Wrap(ErrInvalidOTP)
	}

	user, err := g.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, oops.Code("AUTH_INVALID_OTP").Wrap(ErrInvalidOTP)
		}
		return nil, oops.Code("AUTH_OTP_LOGIN_FAILED").
			With("operation", "get user by email").
			Wrap(err)
	}

	return g.issueSession(ctx, user)
}

// ResetPasswordWithOTP consumes a passcode and replaces the password of its
// email. The user is not logged in and the current session is left alone.
// A new password that fails validation is rejected before the passcode is
// consumed.
func (g *Gateway) ResetPasswordWithOTP(ctx context.Context, email, code, newPassword string) error {
	if err := ValidatePassword(newPassword); err != nil {
		return err
	}
	email = NormalizeEmail(email)

	ok, err := g.otps.ValidateAndConsume(ctx, email, code)
	if err != nil {
		return oops.Code("AUTH_RESET_FAILED").
			With("operation", "consume otp").
			Wrap(err)
	}
	if !ok {
		return oops.Code("AUTH_INVALID_OTP").Wrap(ErrInvalidOTP)
	}

	user, err := g.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return oops.Code("AUTH_INVALID_OTP").Wrap(ErrInvalidOTP)
		}
		return oops.Code("AUTH_RESET_FAILED").
			With("operation", "get user by email").
			Wrap(err)
	}

	hash, err := g.hasher.Hash(newPassword)
	if err != nil {
		return oops.Code("AUTH_RESET_FAILED").
			With("operation", "hash password").
			Wrap(err)
	}

	if err := g.users.UpdatePassword(ctx, user.ID, hash); err != nil {
		return oops.Code("AUTH_RESET_FAILED").
			With("operation", "update password").
			With("user_id", user.ID.String()).
			Wrap(err)
	}

	g.logger.InfoContext(ctx, "password reset", "user_id", user.ID.String())
	return nil
}

// Guard resolves a session token to its user. Absent, unknown and expired
// tokens return ErrUnauthorized; storage failures are returned unchanged in
// kind so callers can answer with a server error.
func (g *Gateway) Guard(ctx context.Context, token string) (*User, error) {
	if token == "" {
		return nil, oops.Code("AUTH_UNAUTHORIZED").Wrapf(ErrUnauthorized, "no session token")
	}

	userID, err := g.sessions.Resolve(ctx, token)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, oops.Code("AUTH_UNAUTHORIZED").Wrapf(ErrUnauthorized, "invalid or expired session")
		}
		return nil, oops.Code("AUTH_GUARD_FAILED").
			With("operation", "resolve session").
			Wrap(err)
	}

	user, err := g.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, oops.Code("AUTH_UNAUTHORIZED").Wrapf(ErrUnauthorized, "session user no longer exists")
		}
		return nil, oops.Code("AUTH_GUARD_FAILED").
			With("operation", "get user by id").
			With("user_id", userID.String()).
			Wrap(err)
	}

	return user, nil
}

// Logout revokes the user's session.
func (g *Gateway) Logout(ctx context.Context, userID ulid.ULID) error {
	if err := g.sessions.Revoke(ctx, userID); err != nil {
		return oops.Code("AUTH_LOGOUT_FAILED").Wrap(err)
	}
	return nil
}

// SweepExpired deletes expired sessions and passcodes.
func (g *Gateway) SweepExpired(ctx context.Context) (sessions, otps int64, err error) {
	sessions, err = g.sessions.Sweep(ctx)
	if err != nil {
		return 0, 0, err
	}
	otps, err = g.otps.Sweep(ctx)
	if err != nil {
		return sessions, 0, err
	}
	return sessions, otps, nil
}

func (g *Gateway) issueSession(ctx context.Context, user *User) (*LoginResult, error) {
	token, expiresAt, err := g.sessions.Issue(ctx, user.ID)
	if err != nil {
		return nil, oops.Code("AUTH_SESSION_CREATE_FAILED").
			With("operation", "issue session").
			Wrap(err)
	}
	return &LoginResult{User: user, Token: token, ExpiresAt: expiresAt}, nil
}
