// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Storefront Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/samber/oops"

	"github.com/storefront/storefront/internal/auth"
)

// OTPRepository implements auth.OTPRepository using PostgreSQL.
type OTPRepository struct {
	pool poolIface
}

// NewOTPRepository creates a new OTPRepository.
func NewOTPRepository(pool poolIface) *OTPRepository {
	return &OTPRepository{pool: pool}
}

// Upsert makes the challenge the only live one for its email.
func (r *OTPRepository) Upsert(ctx context.Context, challenge *auth.OTPChallenge) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO email_otps (email, code_hash, expires_at, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (email) DO UPDATE
		SET code_hash = EXCLUDED.code_hash,
		    expires_at = EXCLUDED.expires_at,
		    created_at = EXCLUDED.created_at
	`,
		challenge.Email,
		challenge.CodeHash,
		challenge.ExpiresAt,
		challenge.CreatedAt,
	)
	if err != nil {
		return oops.Code("OTP_UPSERT_FAILED").
			With("operation", "upsert otp").
			Wrap(err)
	}
	return nil
}

// Consume deletes the challenge if it matches and is live. The match and the
// delete are one statement, so concurrent callers cannot both succeed.
func (r *OTPRepository) Consume(ctx context.Context, email, codeHash string, now time.Time) (bool, error) {
	var deleted string
	err := r.pool.QueryRow(ctx, `
		DELETE FROM email_otps
		WHERE email = $1 AND code_hash = $2 AND expires_at > $3
		RETURNING email
	`, email, codeHash, now).Scan(&deleted)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, oops.Code("OTP_CONSUME_QUERY_FAILED").
			With("operation", "consume otp").
			Wrap(err)
	}
	return true, nil
}

// DeleteExpired removes challenges whose expiry is at or before now.
func (r *OTPRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.pool.Exec(ctx, `DELETE FROM email_otps WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, oops.Code("OTP_DELETE_EXPIRED_FAILED").
			With("operation", "delete expired otps").
			Wrap(err)
	}
	return result.RowsAffected(), nil
}

// Compile-time interface check.
var _ auth.OTPRepository = (*OTPRepository)(nil)
