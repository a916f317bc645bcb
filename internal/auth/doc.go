// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Storefront Contributors

// Package auth provides customer authentication for the storefront backend.
//
// # Domain Types
//
// Domain types should be created using their constructors:
//   - NewUser - creates a User with validated username, email and password hash
//   - NewSession - creates a Session for a user with an absolute expiry
//   - NewOTPChallenge - creates an OTPChallenge for an email with an absolute expiry
//
// Repository implementations receive pre-validated types from these constructors.
//
// # Single Row Per Key
//
// A user holds at most one session and an email holds at most one pending
// one-time passcode. Both are written with an atomic upsert keyed by user or
// email, so issuing a new credential immediately invalidates the previous one.
// Passcodes are consumed with a single conditional delete; of two concurrent
// consumers of the same code at most one succeeds.
//
// # Services
//
//   - SessionManager - issue, resolve, revoke and sweep sessions
//   - OTPManager - issue, consume and sweep one-time passcodes
//   - Gateway - registration, password login, passcode login, password
//     reset and the request guard
package auth
