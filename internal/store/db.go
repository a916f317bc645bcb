// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Storefront Contributors

// Package store owns the PostgreSQL connection pool and the schema migrations.
package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// DefaultConnectAttempts is used when Connect is given a non-positive attempt count.
const DefaultConnectAttempts = 5

// ConnectOptions tunes Connect.
type ConnectOptions struct {
	// Attempts is the total number of pings tried before giving up.
	Attempts int
	// InitialBackoff is the first wait between attempts; it doubles each time.
	InitialBackoff time.Duration
	Logger         *slog.Logger
}

// Connect opens a pgx pool and pings it, retrying with exponential backoff
// while the database is still coming up.
func Connect(ctx context.Context, dsn string, opts ConnectOptions) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, oops.Code("DB_CONFIG_INVALID").With("operation", "parse database url").Wrap(err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, oops.Code("DB_CONNECT_FAILED").With("operation", "create pool").Wrap(err)
	}

	if opts.Attempts <= 0 {
		opts.Attempts = DefaultConnectAttempts
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = 250 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	attempt := 0
	backoff := retry.WithMaxRetries(uint64(opts.Attempts-1), retry.NewExponential(opts.InitialBackoff)) //nolint:gosec // Attempts is positive here
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if err := pool.Ping(ctx); err != nil {
			opts.Logger.WarnContext(ctx, "database not reachable",
				"attempt", attempt,
				"max_attempts", opts.Attempts,
				"host", cfg.ConnConfig.Host,
				"error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		pool.Close()
		return nil, oops.Code("DB_CONNECT_FAILED").
			With("operation", "ping database").
			With("attempts", attempt).
			Wrap(err)
	}
	return pool, nil
}
