// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Storefront Contributors

package auth

import (
	"context"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Username and password validation constraints.
const (
	MinUsernameLength = 3
	MaxUsernameLength = 30
	MaxEmailLength    = 254
	MinPasswordLength = 6
	MaxPasswordLength = 128
)

// usernameRegex matches usernames that:
// - Start with a letter (a-z, A-Z)
// - Contain only letters, numbers, and underscores
var usernameRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`)

// User is a customer account.
type User struct {
	ID           ulid.ULID  `json:"id"`
	Username     string     `json:"username"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	FirstName    string     `json:"first_name,omitempty"`
	LastName     string     `json:"last_name,omitempty"`
	Avatar       string     `json:"avatar,omitempty"`
	BirthDate    *time.Time `json:"birth_of_date,omitempty"`
	PhoneNumber  string     `json:"phone_number,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Profile holds the optional descriptive fields supplied at registration.
type Profile struct {
	FirstName   string
	LastName    string
	Avatar      string
	BirthDate   *time.Time
	PhoneNumber string
}

// NewUser creates a validated User with a fresh ID.
// The email is normalized with NormalizeEmail before validation.
func NewUser(username, email, passwordHash string, profile Profile) (*User, error) {
	if err := ValidateUsername(username); err != nil {
		return nil, err
	}
	email = NormalizeEmail(email)
	if err := ValidateEmail(email); err != nil {
		return nil, err
	}
	if passwordHash == "" {
		return nil, oops.Code("AUTH_INVALID_PASSWORD").
			Wrapf(ErrValidation, "password hash cannot be empty")
	}

	now := time.Now().UTC()
	return &User{
		ID:           ulid.Make(),
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
		FirstName:    profile.FirstName,
		LastName:     profile.LastName,
		Avatar:       profile.Avatar,
		BirthDate:    profile.BirthDate,
		PhoneNumber:  profile.PhoneNumber,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// NormalizeEmail trims surrounding whitespace and lower-cases the address so
// lookups, uniqueness and passcode keys agree on one spelling.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateUsername validates a username against rules.
// Username requirements:
// - Length: MinUsernameLength to MaxUsernameLength characters
// - Must start with a letter
// - May contain only letters, numbers, and underscores
func ValidateUsername(username string) error {
	if len(username) < MinUsernameLength || len(username) > MaxUsernameLength {
		return oops.Code("AUTH_INVALID_USERNAME").
			With("length", len(username)).
			Wrapf(ErrValidation, "username must be %d-%d characters", MinUsernameLength, MaxUsernameLength)
	}
	if !usernameRegex.MatchString(username) {
		return oops.Code("AUTH_INVALID_USERNAME").
			Wrapf(ErrValidation, "username must start with a letter and contain only letters, numbers, and underscores")
	}
	return nil
}

// ValidateEmail checks that email is a bare address such as "alice@x.com".
func ValidateEmail(email string) error {
	if email == "" || len(email) > MaxEmailLength {
		return oops.Code("AUTH_INVALID_EMAIL").Wrapf(ErrValidation, "email must be 1-%d characters", MaxEmailLength)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || addr.Name != "" {
		return oops.Code("AUTH_INVALID_EMAIL").Wrapf(ErrValidation, "email is not a valid address")
	}
	return nil
}

// ValidatePassword checks a plaintext password before it is hashed.
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength || len(password) > MaxPasswordLength {
		return oops.Code("AUTH_INVALID_PASSWORD").
			Wrapf(ErrValidation, "password must be %d-%d characters", MinPasswordLength, MaxPasswordLength)
	}
	return nil
}

// UserRepository manages user persistence.
type UserRepository interface {
	// Create stores a new user. Returns an error wrapping ErrConflict when the
	// username or email is already taken.
	Create(ctx context.Context, user *User) error

	// GetByID retrieves a user by ID. Returns an error wrapping ErrNotFound if absent.
	GetByID(ctx context.Context, id ulid.ULID) (*User, error)

	// GetByEmail retrieves a user by normalized email. Returns an error
	// wrapping ErrNotFound if absent.
	GetByEmail(ctx context.Context, email string) (*User, error)

	// UpdatePassword overwrites the password hash. Returns an error wrapping
	// ErrNotFound if the user does not exist.
	UpdatePassword(ctx context.Context, id ulid.ULID, passwordHash string) error
}
