// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Storefront Contributors

package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/gobwas/glob"
	"github.com/samber/oops"

	"github.com/storefront/storefront/internal/auth"
	"github.com/storefront/storefront/internal/logging"
	"github.com/storefront/storefront/pkg/errutil"
)

type userCtxKey struct{}

// UserFromContext returns the user attached by the session guard.
func UserFromContext(ctx context.Context) (*auth.User, bool) {
	u, ok := ctx.Value(userCtxKey{}).(*auth.User)
	return u, ok
}

// requestLogger tags the request context with its request id, logs one line
// per request and records request metrics by route pattern.
func (a *api) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := logging.WithAttrs(r.Context(), slog.String("request_id", chimw.GetReqID(r.Context())))
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r.WithContext(ctx))

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		elapsed := time.Since(start)
		a.metrics.ObserveHTTP(route, r.Method, status, elapsed)
		a.logger.InfoContext(ctx, "http request",
			"method", r.Method,
			"route", route,
			"status", status,
			"duration_ms", elapsed.Milliseconds(),
			"remote_addr", r.RemoteAddr)
	})
}

// guard resolves the session cookie and attaches the user to the context.
func (a *api) guard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := sessionToken(r)
		if token == "" {
			a.metrics.AuthOutcome("guard", outcomeRejected)
			writeError(w, http.StatusUnauthorized, "Unauthorized: No token provided")
			return
		}

		user, err := a.auth.Guard(r.Context(), token)
		if err != nil {
			if errors.Is(err, auth.ErrUnauthorized) {
				a.metrics.AuthOutcome("guard", outcomeRejected)
				clearSessionCookie(w, a.secureCookies)
				writeError(w, http.StatusUnauthorized, "Unauthorized: Invalid or expired session")
				return
			}
			a.metrics.AuthOutcome("guard", outcomeError)
			errutil.LogErrorContext(r.Context(), a.logger, "session lookup failed", err)
			writeError(w, http.StatusInternalServerError, "Server error during authentication")
			return
		}

		a.metrics.AuthOutcome("guard", outcomeSuccess)
		ctx := context.WithValue(r.Context(), userCtxKey{}, user)
		ctx = logging.WithAttrs(ctx, slog.String("user_id", user.ID.String()))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// cors answers preflight requests and sets the CORS response headers for
// origins matching one of the configured glob patterns.
type cors struct {
	origins []glob.Glob
}

func newCORS(patterns []string) (*cors, error) {
	c := &cors{origins: make([]glob.Glob, 0, len(patterns))}
	for _, p := range patterns {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, oops.Code("HTTPAPI_INVALID_ORIGIN").With("pattern", p).Wrap(err)
		}
		c.origins = append(c.origins, g)
	}
	return c, nil
}

func (c *cors) allowed(origin string) bool {
	for _, g := range c.origins {
		if g.Match(origin) {
			return true
		}
	}
	return false
}

func (c *cors) handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			next.ServeHTTP(w, r)
			return
		}

		h := w.Header()
		h.Add("Vary", "Origin")
		preflight := r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != ""

		if !c.allowed(origin) {
			if preflight {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		h.Set("Access-Control-Allow-Origin", origin)
		h.Set("Access-Control-Allow-Credentials", "true")
		if !preflight {
			next.ServeHTTP(w, r)
			return
		}

		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		allowHeaders := r.Header.Get("Access-Control-Request-Headers")
		if allowHeaders == "" {
			allowHeaders = "Content-Type"
		}
		h.Set("Access-Control-Allow-Headers", strings.TrimSpace(allowHeaders))
		h.Set("Access-Control-Max-Age", "600")
		w.WriteHeader(http.StatusNoContent)
	})
}
