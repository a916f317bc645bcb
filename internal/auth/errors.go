// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Storefront Contributors

package auth

import "errors"

// Error kinds returned (wrapped) by this package. Match them with errors.Is.
var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a unique username or email is already taken.
	ErrConflict = errors.New("already exists")

	// ErrValidation is returned for missing or malformed input.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidCredentials covers both an unknown email and a wrong password.
	ErrInvalidCredentials = errors.New("invalid email or password")

	// ErrInvalidOTP covers a missing, mismatched, consumed or expired passcode.
	ErrInvalidOTP = errors.New("invalid or expired otp")

	// ErrUnauthorized is returned by the guard for an absent, unknown or expired session.
	ErrUnauthorized = errors.New("unauthorized")
)
