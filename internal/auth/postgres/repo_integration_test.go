// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Storefront Contributors

//go:build integration

package postgres_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storefront/storefront/internal/auth"
	"github.com/storefront/storefront/internal/auth/postgres"
)

// createTestUser inserts a user through the repository and removes it afterwards.
func createTestUser(ctx context.Context, t *testing.T, username string) *auth.User {
	t.Helper()
	birth := time.Date(1990, 5, 17, 0, 0, 0, 0, time.UTC)
	user, err := auth.NewUser(username, username+"@x.com", "$argon2id$testhash", auth.Profile{
		FirstName: "Test",
		BirthDate: &birth,
	})
	require.NoError(t, err)
	require.NoError(t, postgres.NewUserRepository(testPool).Create(ctx, user))

	t.Cleanup(func() {
		_, _ = testPool.Exec(ctx, `DELETE FROM users WHERE id = $1`, user.ID.String())
	})
	return user
}

func TestUserRepository_Integration(t *testing.T) {
	ctx := context.Background()
	repo := postgres.NewUserRepository(testPool)
	user := createTestUser(ctx, t, "pg_alice")

	t.Run("reads back by email and id", func(t *testing.T) {
		got, err := repo.GetByEmail(ctx, "pg_alice@x.com")
		require.NoError(t, err)
		assert.Equal(t, user.ID, got.ID)
		assert.Equal(t, "Test", got.FirstName)
		require.NotNil(t, got.BirthDate)
		assert.Equal(t, 1990, got.BirthDate.Year())

		got, err = repo.GetByID(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, "pg_alice", got.Username)
	})

	t.Run("duplicate email is a conflict", func(t *testing.T) {
		dup, err := auth.NewUser("pg_other", "pg_alice@x.com", "$argon2id$h", auth.Profile{})
		require.NoError(t, err)
		assert.ErrorIs(t, repo.Create(ctx, dup), auth.ErrConflict)
	})

	t.Run("duplicate username is a conflict", func(t *testing.T) {
		dup, err := auth.NewUser("pg_alice", "pg_other@x.com", "$argon2id$h", auth.Profile{})
		require.NoError(t, err)
		assert.ErrorIs(t, repo.Create(ctx, dup), auth.ErrConflict)
	})

	t.Run("update password", func(t *testing.T) {
		require.NoError(t, repo.UpdatePassword(ctx, user.ID, "$argon2id$new"))
		got, err := repo.GetByID(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, "$argon2id$new", got.PasswordHash)
	})

	t.Run("unknown email", func(t *testing.T) {
		_, err := repo.GetByEmail(ctx, "nobody@x.com")
		assert.ErrorIs(t, err, auth.ErrNotFound)
	})
}

func TestSessionRepository_Integration(t *testing.T) {
	ctx := context.Background()
	repo := postgres.NewSessionRepository(testPool)
	user := createTestUser(ctx, t, "pg_session")
	now := time.Now().UTC().Truncate(time.Microsecond)

	first := &auth.Session{UserID: user.ID, TokenHash: "hash-one", ExpiresAt: now.Add(time.Hour), CreatedAt: now}
	second := &auth.Session{UserID: user.ID, TokenHash: "hash-two", ExpiresAt: now.Add(2 * time.Hour), CreatedAt: now}
	require.NoError(t, repo.Upsert(ctx, first))
	require.NoError(t, repo.Upsert(ctx, second))

	_, err := repo.GetByTokenHash(ctx, "hash-one")
	assert.ErrorIs(t, err, auth.ErrNotFound, "upsert replaces the earlier token")

	got, err := repo.GetByTokenHash(ctx, "hash-two")
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.UserID)
	assert.True(t, second.ExpiresAt.Equal(got.ExpiresAt))

	n, err := repo.DeleteExpired(ctx, now.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "expiry at exactly now is expired")

	require.NoError(t, repo.DeleteByUser(ctx, user.ID), "absent session is not an error")
}

func TestOTPRepository_Integration(t *testing.T) {
	ctx := context.Background()
	repo := postgres.NewOTPRepository(testPool)
	now := time.Now().UTC().Truncate(time.Microsecond)
	email := "pg_otp@x.com"
	t.Cleanup(func() {
		_, _ = testPool.Exec(ctx, `DELETE FROM email_otps WHERE email = $1`, email)
	})

	upsert := func(hash string, expiresAt time.Time) {
		require.NoError(t, repo.Upsert(ctx, &auth.OTPChallenge{
			Email: email, CodeHash: hash, ExpiresAt: expiresAt, CreatedAt: now,
		}))
	}

	t.Run("reissue supersedes", func(t *testing.T) {
		upsert("c1", now.Add(10*time.Minute))
		upsert("c2", now.Add(10*time.Minute))

		ok, err := repo.Consume(ctx, email, "c1", now)
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = repo.Consume(ctx, email, "c2", now)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("expired code is not consumed", func(t *testing.T) {
		upsert("c3", now)
		ok, err := repo.Consume(ctx, email, "c3", now)
		require.NoError(t, err)
		assert.False(t, ok)

		n, err := repo.DeleteExpired(ctx, now)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})

	t.Run("concurrent consume succeeds once", func(t *testing.T) {
		upsert("c4", now.Add(10*time.Minute))

		var wins atomic.Int32
		var wg sync.WaitGroup
		for range 16 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := repo.Consume(ctx, email, "c4", now)
				assert.NoError(t, err)
				if ok {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins.Load())
	})
}
