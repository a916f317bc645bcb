// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Storefront Contributors

package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"github.com/samber/oops"

	"github.com/storefront/storefront/internal/auth"
	"github.com/storefront/storefront/internal/auth/postgres"
	"github.com/storefront/storefront/internal/auth/redis"
	"github.com/storefront/storefront/internal/config"
	"github.com/storefront/storefront/internal/mail"
	"github.com/storefront/storefront/internal/observability"
	"github.com/storefront/storefront/internal/store"
)

// Deps contains injectable dependencies for the commands that talk to the
// database. Nil fields use their default implementations.
type Deps struct {
	// Connect opens the PostgreSQL pool.
	// Default: store.Connect
	Connect func(ctx context.Context, dsn string, opts store.ConnectOptions) (*pgxpool.Pool, error)

	// RedisClient creates the Redis client for the redis OTP store.
	// Default: redis.NewClient
	RedisClient func(url string) (goredis.UniversalClient, error)
}

func (d *Deps) withDefaults() *Deps {
	out := Deps{}
	if d != nil {
		out = *d
	}
	if out.Connect == nil {
		out.Connect = store.Connect
	}
	if out.RedisClient == nil {
		out.RedisClient = func(url string) (goredis.UniversalClient, error) {
			return redis.NewClient(url)
		}
	}
	return &out
}

// services is the wired authentication stack.
type services struct {
	gateway    *auth.Gateway
	dispatcher *mail.Dispatcher
	redis      goredis.UniversalClient
}

// buildServices wires repositories, managers, the mail dispatcher and the
// gateway on top of an open pool.
func buildServices(
	cfg *config.Config,
	pool *pgxpool.Pool,
	deps *Deps,
	logger *slog.Logger,
	metrics *observability.Metrics,
) (*services, error) {
	hasher, err := auth.NewArgon2idHasherWithParams(cfg.Argon2Params())
	if err != nil {
		return nil, err
	}

	svc := &services{}
	otpRepo, err := svc.otpRepository(cfg, pool, deps)
	if err != nil {
		return nil, err
	}

	sessions, err := auth.NewSessionManager(postgres.NewSessionRepository(pool), cfg.Session.TTL)
	if err != nil {
		return nil, svc.abort(err)
	}
	otps, err := auth.NewOTPManager(otpRepo, cfg.OTP.TTL)
	if err != nil {
		return nil, svc.abort(err)
	}

	sender, err := newMailSender(cfg, logger)
	if err != nil {
		return nil, svc.abort(err)
	}
	svc.dispatcher, err = mail.NewDispatcher(sender, mail.Options{
		QueueSize:   cfg.Mail.QueueSize,
		Workers:     cfg.Mail.Workers,
		MaxAttempts: cfg.Mail.MaxAttempts,
		Logger:      logger,
		Metrics:     metrics,
	})
	if err != nil {
		return nil, svc.abort(err)
	}

	svc.gateway, err = auth.NewGatewayWithLogger(
		postgres.NewUserRepository(pool), hasher, sessions, otps, svc.dispatcher, logger)
	if err != nil {
		return nil, svc.abort(err)
	}
	return svc, nil
}

func (s *services) otpRepository(cfg *config.Config, pool *pgxpool.Pool, deps *Deps) (auth.OTPRepository, error) {
	if cfg.OTP.Store != config.OTPStoreRedis {
		return postgres.NewOTPRepository(pool), nil
	}
	client, err := deps.RedisClient(cfg.Redis.URL)
	if err != nil {
		return nil, err
	}
	s.redis = client
	return redis.NewOTPStore(client, redis.DefaultKeyPrefix), nil
}

// abort releases what was built before a wiring failure and returns err.
func (s *services) abort(err error) error {
	_ = s.close(context.Background())
	return err
}

// close drains the mail queue and closes the Redis client.
func (s *services) close(ctx context.Context) error {
	var errs []error
	if s.dispatcher != nil {
		if err := s.dispatcher.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			errs = append(errs, oops.Code("REDIS_CLOSE_FAILED").Wrap(err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// newMailSender selects the delivery backend named by mail.driver.
func newMailSender(cfg *config.Config, logger *slog.Logger) (mail.Sender, error) {
	switch cfg.Mail.Driver {
	case config.MailDriverSMTP:
		return mail.NewSMTPSender(mail.SMTPConfig{
			Host:     cfg.Mail.SMTP.Host,
			Port:     cfg.Mail.SMTP.Port,
			Username: cfg.Mail.SMTP.Username,
			Password: cfg.Mail.SMTP.Password,
			From:     cfg.Mail.From,
			Timeout:  cfg.Mail.SMTP.Timeout,
		})
	case config.MailDriverLog:
		return mail.NewLogSender(logger), nil
	default:
		return nil, oops.Code("CONFIG_INVALID").With("key", "mail.driver").
			Errorf("unknown mail driver %q", cfg.Mail.Driver)
	}
}
