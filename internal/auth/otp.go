// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Storefront Contributors

package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"

	"github.com/samber/oops"
)

// One-time passcode configuration.
const (
	OTPDigits = 6
	OTPExpiry = 10 * time.Minute
)

var otpSpace = big.NewInt(1_000_000)

// OTPChallenge is the single outstanding passcode for an email.
type OTPChallenge struct {
	Email     string
	CodeHash  string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// NewOTPChallenge creates a validated OTPChallenge.
func NewOTPChallenge(email, codeHash string, createdAt, expiresAt time.Time) (*OTPChallenge, error) {
	if email == "" {
		return nil, oops.Code("OTP_INVALID_EMAIL").Errorf("email cannot be empty")
	}
	if codeHash == "" {
		return nil, oops.Code("OTP_INVALID_HASH").Errorf("code hash cannot be empty")
	}
	if !expiresAt.After(createdAt) {
		return nil, oops.Code("OTP_INVALID_EXPIRY").Errorf("expiry must be after creation")
	}
	return &OTPChallenge{
		Email:     email,
		CodeHash:  codeHash,
		ExpiresAt: expiresAt,
		CreatedAt: createdAt,
	}, nil
}

// GenerateOTPCode returns a uniformly random code in "000000".."999999".
func GenerateOTPCode() (string, error) {
	n, err := rand.Int(rand.Reader, otpSpace)
	if err != nil {
		return "", oops.Code("OTP_GENERATE_FAILED").
			With("operation", "crypto/rand.Int").
			Wrap(err)
	}
	return fmt.Sprintf("%0*d", OTPDigits, n.Int64()), nil
}

// HashOTPCode computes the SHA256 hash of a passcode bound to its email.
func HashOTPCode(email, code string) string {
	h := sha256.Sum256([]byte(email + "\x00" + code))
	return hex.EncodeToString(h[:])
}

// OTPRepository manages passcode persistence.
type OTPRepository interface {
	// Upsert stores the challenge as the only one for its email, atomically
	// replacing any existing challenge.
	Upsert(ctx context.Context, challenge *OTPChallenge) error

	// Consume atomically deletes the challenge for email if its code hash
	// matches and it expires strictly after now. It reports whether a row was
	// deleted. Of two concurrent calls for the same challenge at most one
	// returns true. A false result leaves stored state unchanged.
	Consume(ctx context.Context, email, codeHash string, now time.Time) (bool, error)

	// DeleteExpired removes challenges that expired at or before now and
	// returns the count of deleted records.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// OTPManager issues and consumes one-time passcodes keyed by email.
type OTPManager struct {
	repo     OTPRepository
	ttl      time.Duration
	now      func() time.Time
	generate func() (string, error)
}

// NewOTPManager creates an OTPManager. A non-positive ttl selects OTPExpiry.
func NewOTPManager(repo OTPRepository, ttl time.Duration, opts ...ManagerOption) (*OTPManager, error) {
	if repo == nil {
		return nil, oops.Code("OTP_MANAGER_INVALID").Errorf("otp repository is required")
	}
	if ttl <= 0 {
		ttl = OTPExpiry
	}
	o := applyManagerOptions(opts)
	return &OTPManager{repo: repo, ttl: ttl, now: o.now, generate: o.generate}, nil
}

// TTL returns the lifetime given to new passcodes.
func (m *OTPManager) TTL() time.Duration {
	return m.ttl
}

// Issue generates a passcode for email and makes it the only live one.
// The plaintext code is returned for delivery; only its hash is stored.
func (m *OTPManager) Issue(ctx context.Context, email string) (code string, expiresAt time.Time, err error) {
	email = NormalizeEmail(email)

	code, err = m.generate()
	if err != nil {
		return "", time.Time{}, err
	}

	now := m.now()
	challenge, err := NewOTPChallenge(email, HashOTPCode(email, code), now, now.Add(m.ttl))
	if err != nil {
		return "", time.Time{}, oops.Code("OTP_ISSUE_FAILED").
			With("operation", "create challenge").
			Wrap(err)
	}

	if err := m.repo.Upsert(ctx, challenge); err != nil {
		return "", time.Time{}, oops.Code("OTP_ISSUE_FAILED").
			With("operation", "persist challenge").
			Wrap(err)
	}

	return code, challenge.ExpiresAt, nil
}

// ValidateAndConsume reports whether code is the live passcode for email and,
// if so, deletes it in the same storage operation. Every failure cause yields
// false. Only storage errors are returned as errors.
func (m *OTPManager) ValidateAndConsume(ctx context.Context, email, code string) (bool, error) {
	email = NormalizeEmail(email)
	if email == "" || len(code) != OTPDigits {
		return false, nil
	}

	ok, err := m.repo.Consume(ctx, email, HashOTPCode(email, code), m.now())
	if err != nil {
		return false, oops.Code("OTP_CONSUME_FAILED").
			With("operation", "consume challenge").
			Wrap(err)
	}
	return ok, nil
}

// Sweep deletes expired challenges.
func (m *OTPManager) Sweep(ctx context.Context) (int64, error) {
	n, err := m.repo.DeleteExpired(ctx, m.now())
	if err != nil {
		return 0, oops.Code("OTP_SWEEP_FAILED").Wrap(err)
	}
	return n, nil
}
