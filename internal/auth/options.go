// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Storefront Contributors

package auth

import "time"

// ManagerOption customizes a SessionManager or OTPManager.
type ManagerOption func(*managerOptions)

type managerOptions struct {
	now      func() time.Time
	generate func() (string, error)
}

// WithClock replaces time.Now as the source of issue and validation times.
func WithClock(now func() time.Time) ManagerOption {
	return func(o *managerOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// WithCodeGenerator replaces GenerateOTPCode. Only OTPManager uses it.
func WithCodeGenerator(generate func() (string, error)) ManagerOption {
	return func(o *managerOptions) {
		if generate != nil {
			o.generate = generate
		}
	}
}

func applyManagerOptions(opts []ManagerOption) managerOptions {
	o := managerOptions{
		now:      time.Now,
		generate: GenerateOTPCode,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
