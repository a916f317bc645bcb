// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Storefront Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/storefront/storefront/internal/httpapi"
	"github.com/storefront/storefront/internal/observability"
	"github.com/storefront/storefront/internal/store"
	"github.com/storefront/storefront/pkg/errutil"
)

// readHeaderTimeout bounds how long a client may take to send headers.
const readHeaderTimeout = 10 * time.Second

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		Long: `Start the HTTP API server together with the mail workers, the
expired session and passcode sweeper, and the metrics/health server.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServeWithDeps(cmd, nil)
		},
	}
}

// runServeWithDeps runs the server until SIGINT/SIGTERM or a server failure.
// If deps is nil, default implementations are used.
func runServeWithDeps(cmd *cobra.Command, deps *Deps) error {
	deps = deps.withDefaults()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.InfoContext(ctx, "starting storefront",
		"env", cfg.Env,
		"http_addr", cfg.HTTP.Addr,
		"otp_store", cfg.OTP.Store,
		"mail_driver", cfg.Mail.Driver)

	pool, err := deps.Connect(ctx, cfg.Database.URL, store.ConnectOptions{
		Attempts: cfg.Database.ConnectAttempts,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	defer pool.Close()
	logger.InfoContext(ctx, "connected to database")

	var ready atomic.Bool
	var obsServer *observability.Server
	var metrics *observability.Metrics
	if cfg.Metrics.Addr != "" {
		obsServer = observability.NewServer(cfg.Metrics.Addr, ready.Load, logger)
		metrics = obsServer.Metrics()
	}

	svc, err := buildServices(cfg, pool, deps, logger, metrics)
	if err != nil {
		return err
	}

	handler, err := httpapi.NewRouter(httpapi.Options{
		Auth:           svc.gateway,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		SecureCookies:  cfg.Production(),
		Logger:         logger,
		Metrics:        metrics,
	})
	if err != nil {
		return svc.abort(err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if obsServer != nil {
		obsErrChan, err := obsServer.Start()
		if err != nil {
			return svc.abort(err)
		}
		go monitorServerErrors(ctx, cancel, obsErrChan, "observability")
		logger.InfoContext(ctx, "observability server started", "addr", obsServer.Addr())
	}

	listener, err := net.Listen("tcp", cfg.HTTP.Addr)
	if err != nil {
		stopObservability(obsServer)
		return svc.abort(oops.Code("HTTP_LISTEN_FAILED").With("addr", cfg.HTTP.Addr).Wrap(err))
	}
	httpServer := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	serveErr := make(chan error, 1)
	go func() {
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var sweeperDone sync.WaitGroup
	sweeperDone.Add(1)
	go func() {
		defer sweeperDone.Done()
		runSweeper(ctx, svc.gateway, cfg.Sweep.Interval, logger, metrics)
	}()

	ready.Store(true)
	cmd.Println("Storefront started")
	logger.InfoContext(ctx, "storefront ready", "addr", listener.Addr().String())

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down", "cause", context.Cause(ctx))
	case err := <-serveErr:
		runErr = oops.Code("HTTP_SERVE_FAILED").Wrap(err)
		errutil.LogError(logger, "http server failed", runErr)
	}
	ready.Store(false)
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("error stopping http server", "error", err)
	}
	sweeperDone.Wait()
	if err := svc.close(shutdownCtx); err != nil {
		logger.Warn("error draining mail queue", "error", err)
	}
	if obsServer != nil {
		if err := obsServer.Stop(shutdownCtx); err != nil {
			logger.Warn("error stopping observability server", "error", err)
		}
	}

	logger.Info("shutdown complete")
	return runErr
}

// monitorServerErrors cancels ctx when a background server fails.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errChan <-chan error, name string) {
	select {
	case err, ok := <-errChan:
		if ok && err != nil {
			errutil.LogErrorContext(ctx, slog.Default(), name+" server failed", err)
			cancel()
		}
	case <-ctx.Done():
	}
}

func stopObservability(s *observability.Server) {
	if s == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.Stop(ctx)
}
