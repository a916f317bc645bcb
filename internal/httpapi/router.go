// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Storefront Contributors

// Package httpapi exposes the authentication operations over HTTP.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/storefront/storefront/internal/auth"
	"github.com/storefront/storefront/internal/observability"
)

// Authenticator is the subset of auth.Gateway the handlers call.
type Authenticator interface {
	Register(ctx context.Context, in auth.RegisterInput) (*auth.User, error)
	Login(ctx context.Context, email, password string) (*auth.LoginResult, error)
	RequestOTP(ctx context.Context, email string) error
	LoginWithOTP(ctx context.Context, email, code string) (*auth.LoginResult, error)
	ResetPasswordWithOTP(ctx context.Context, email, code, newPassword string) error
	Guard(ctx context.Context, token string) (*auth.User, error)
	Logout(ctx context.Context, userID ulid.ULID) error
}

// Options configures the router.
type Options struct {
	Auth Authenticator
	// AllowedOrigins are glob patterns for cross-origin callers. Credentials
	// are allowed for matching origins.
	AllowedOrigins []string
	// SecureCookies sets the Secure attribute on the session cookie.
	SecureCookies bool
	Logger        *slog.Logger
	Metrics       *observability.Metrics
}

type api struct {
	auth          Authenticator
	schemas       *requestSchemas
	secureCookies bool
	logger        *slog.Logger
	metrics       *observability.Metrics
}

// NewRouter builds the HTTP handler.
func NewRouter(opts Options) (http.Handler, error) {
	if opts.Auth == nil {
		return nil, oops.Code("HTTPAPI_INVALID").Errorf("authenticator is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	cors, err := newCORS(opts.AllowedOrigins)
	if err != nil {
		return nil, err
	}
	schemas, err := compileRequestSchemas()
	if err != nil {
		return nil, err
	}

	a := &api{
		auth:          opts.Auth,
		schemas:       schemas,
		secureCookies: opts.SecureCookies,
		logger:        opts.Logger,
		metrics:       opts.Metrics,
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(a.requestLogger)
	r.Use(chimw.Recoverer)
	r.Use(cors.handler)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "Not found.")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed.")
	})

	r.Get("/", handleRoot)

	r.Route("/api/users", func(r chi.Router) {
		r.Post("/register", a.register)
		r.Post("/login", a.login)
		r.Post("/request-otp", a.requestOTP)
		r.Post("/login-with-otp", a.loginWithOTP)
		r.Post("/reset-password-with-otp", a.resetPasswordWithOTP)

		r.Group(func(r chi.Router) {
			r.Use(a.guard)
			r.Get("/profile", a.profile)
			r.Post("/logout", a.logout)
		})
	})

	return r, nil
}

func handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "msg": "Ecommerce Backend Running"})
}
