// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Storefront Contributors

package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/storefront/storefront/internal/observability"
	"github.com/storefront/storefront/internal/store"
	"github.com/storefront/storefront/pkg/errutil"
)

// expirySweeper deletes expired sessions and passcodes. auth.Gateway
// implements it.
type expirySweeper interface {
	SweepExpired(ctx context.Context) (sessions, otps int64, err error)
}

// runSweeper sweeps every interval until ctx ends. Failures are logged and
// retried on the next tick.
func runSweeper(ctx context.Context, s expirySweeper, interval time.Duration, logger *slog.Logger, metrics *observability.Metrics) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, _, err := sweepOnce(ctx, s, logger, metrics); err != nil && ctx.Err() == nil {
				errutil.LogErrorContext(ctx, logger, "expiry sweep failed", err)
			}
		}
	}
}

func sweepOnce(ctx context.Context, s expirySweeper, logger *slog.Logger, metrics *observability.Metrics) (sessions, otps int64, err error) {
	sessions, otps, err = s.SweepExpired(ctx)
	metrics.Swept("session", sessions)
	metrics.Swept("otp", otps)
	if err != nil {
		return sessions, otps, err
	}
	if sessions > 0 || otps > 0 {
		logger.InfoContext(ctx, "expired rows swept", "sessions", sessions, "otps", otps)
	}
	return sessions, otps, nil
}

// NewSweepCmd creates the sweep subcommand.
func NewSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete expired sessions and passcodes once",
		Long: `Delete expired sessions and one-time passcodes and exit. The serve
command already sweeps periodically; this is for cron-driven deployments.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSweepWithDeps(cmd, nil)
		},
	}
}

func runSweepWithDeps(cmd *cobra.Command, deps *Deps) error {
	deps = deps.withDefaults()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	pool, err := deps.Connect(ctx, cfg.Database.URL, store.ConnectOptions{
		Attempts: cfg.Database.ConnectAttempts,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	defer pool.Close()

	svc, err := buildServices(cfg, pool, deps, logger, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.close(context.Background()); err != nil {
			logger.Warn("error closing services", "error", err)
		}
	}()

	sessions, otps, err := sweepOnce(ctx, svc.gateway, logger, nil)
	if err != nil {
		return err
	}
	cmd.Printf("Removed %d expired sessions and %d expired passcodes\n", sessions, otps)
	return nil
}
