// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Storefront Contributors

package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storefront/storefront/internal/auth"
	"github.com/storefront/storefront/internal/auth/authtest"
	"github.com/storefront/storefront/internal/httpapi"
	"github.com/storefront/storefront/internal/observability"
	"github.com/storefront/storefront/pkg/errutil"
)

type harness struct {
	handler http.Handler
	outbox  *authtest.Outbox
	metrics *observability.Metrics
	logs    *bytes.Buffer
}

func newHarness(t *testing.T, mutate ...func(*httpapi.Options)) *harness {
	t.Helper()
	hasher, err := auth.NewArgon2idHasherWithParams(auth.Argon2idParams{
		Time: 1, MemoryKiB: 8 * 1024, Threads: 1, SaltLen: 16, KeyLen: 32,
	})
	require.NoError(t, err)
	sessions, err := auth.NewSessionManager(authtest.NewSessionStore(), 0)
	require.NoError(t, err)
	otps, err := auth.NewOTPManager(authtest.NewOTPStore(), 0)
	require.NoError(t, err)
	outbox := &authtest.Outbox{}
	logs := &bytes.Buffer{}
	logger := slog.New(slog.NewJSONHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	gw, err := auth.NewGatewayWithLogger(authtest.NewUserStore(), hasher, sessions, otps, outbox, logger)
	require.NoError(t, err)

	return newHarnessWith(t, gw, outbox, logs, logger, mutate...)
}

func newHarnessWith(t *testing.T, a httpapi.Authenticator, outbox *authtest.Outbox, logs *bytes.Buffer, logger *slog.Logger, mutate ...func(*httpapi.Options)) *harness {
	t.Helper()
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	opts := httpapi.Options{
		Auth:           a,
		AllowedOrigins: []string{"http://localhost:*"},
		Logger:         logger,
		Metrics:        metrics,
	}
	for _, m := range mutate {
		m(&opts)
	}
	h, err := httpapi.NewRouter(opts)
	require.NoError(t, err)
	return &harness{handler: h, outbox: outbox, metrics: metrics, logs: logs}
}

func (h *harness) do(t *testing.T, method, path, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	}
	for _, c := range cookies {
		r.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, r)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == httpapi.SessionCookieName {
			return c
		}
	}
	t.Fatalf("no %s cookie in response", httpapi.SessionCookieName)
	return nil
}

const aliceJSON = `{"username":"alice","email":"alice@x.com","password":"secret1"}`

func (h *harness) registerAndLogin(t *testing.T) *http.Cookie {
	t.Helper()
	require.Equal(t, http.StatusCreated, h.do(t, http.MethodPost, "/api/users/register", aliceJSON).Code)
	rec := h.do(t, http.MethodPost, "/api/users/login", `{"email":"alice@x.com","password":"secret1"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return sessionCookie(t, rec)
}

func TestNewRouter_Validation(t *testing.T) {
	_, err := httpapi.NewRouter(httpapi.Options{})
	errutil.AssertErrorCode(t, err, "HTTPAPI_INVALID")

	_, err = httpapi.NewRouter(httpapi.Options{Auth: stubAuth{}, AllowedOrigins: []string{"http://[a"}})
	errutil.AssertErrorCode(t, err, "HTTPAPI_INVALID_ORIGIN")
}

func TestRoot(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true,"msg":"Ecommerce Backend Running"}`, rec.Body.String())
}

func TestUnknownRoute(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, http.MethodGet, "/api/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Not found.", decode(t, rec)["error"])
}

func TestRegister(t *testing.T) {
	h := newHarness(t)

	t.Run("creates user", func(t *testing.T) {
		rec := h.do(t, http.MethodPost, "/api/users/register",
			`{"username":"alice","email":"alice@x.com","password":"secret1","first_name":"Alice","birth_of_date":"1990-05-17"}`)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		body := decode(t, rec)
		assert.Equal(t, "User registered successfully!", body["message"])
		assert.Len(t, body["userId"], 26)
	})

	t.Run("duplicate is a conflict", func(t *testing.T) {
		rec := h.do(t, http.MethodPost, "/api/users/register",
			`{"username":"alice","email":"other@x.com","password":"secret1"}`)
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "Username or email already exists.", decode(t, rec)["error"])
	})

	tests := []struct {
		name string
		body string
		want string
	}{
		{"malformed json", `{"username":`, "Invalid request body."},
		{"missing password", `{"username":"bob","email":"bob@x.com"}`, "Invalid request body."},
		{"wrong type", `{"username":42,"email":"bob@x.com","password":"secret1"}`, "Invalid request body."},
		{"bad birth date", `{"username":"bob","email":"bob@x.com","password":"secret1","birth_of_date":"17/05/1990"}`, "Invalid request body."},
		{"impossible birth date", `{"username":"bob","email":"bob@x.com","password":"secret1","birth_of_date":"1990-13-40"}`, "Invalid request body."},
		{"short password", `{"username":"bob","email":"bob@x.com","password":"123"}`, "Invalid registration details."},
		{"bad username", `{"username":"9bob","email":"bob@x.com","password":"secret1"}`, "Invalid registration details."},
		{"bad email", `{"username":"bob","email":"bob","password":"secret1"}`, "Invalid registration details."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := h.do(t, http.MethodPost, "/api/users/register", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.want, decode(t, rec)["error"])
		})
	}
}

func TestLogin(t *testing.T) {
	h := newHarness(t)
	require.Equal(t, http.StatusCreated, h.do(t, http.MethodPost, "/api/users/register", aliceJSON).Code)

	t.Run("sets session cookie", func(t *testing.T) {
		rec := h.do(t, http.MethodPost, "/api/users/login", `{"email":"Alice@X.com","password":"secret1"}`)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		body := decode(t, rec)
		assert.Equal(t, "Login successful!", body["message"])
		assert.NotEmpty(t, body["userId"])
		assert.NotEmpty(t, body["expiresAt"])

		c := sessionCookie(t, rec)
		assert.Len(t, c.Value, 64)
		assert.True(t, c.HttpOnly)
		assert.False(t, c.Secure)
		assert.Equal(t, http.SameSiteStrictMode, c.SameSite)
		assert.Equal(t, "/", c.Path)
		assert.False(t, c.Expires.IsZero())
		assert.NotContains(t, rec.Body.String(), c.Value, "token is only sent as a cookie")
	})

	t.Run("wrong password and unknown email look alike", func(t *testing.T) {
		wrong := h.do(t, http.MethodPost, "/api/users/login", `{"email":"alice@x.com","password":"nope123"}`)
		unknown := h.do(t, http.MethodPost, "/api/users/login", `{"email":"bob@x.com","password":"secret1"}`)

		assert.Equal(t, http.StatusUnauthorized, wrong.Code)
		assert.Equal(t, http.StatusUnauthorized, unknown.Code)
		assert.JSONEq(t, `{"error":"Invalid email or password."}`, wrong.Body.String())
		assert.Equal(t, wrong.Body.String(), unknown.Body.String())
		assert.Empty(t, wrong.Result().Cookies())
	})

	t.Run("records metrics", func(t *testing.T) {
		assert.InDelta(t, 1, testutil.ToFloat64(h.metrics.AuthOutcomes.WithLabelValues("login", "success")), 0)
		assert.InDelta(t, 2, testutil.ToFloat64(h.metrics.AuthOutcomes.WithLabelValues("login", "rejected")), 0)
		assert.InDelta(t, 1, testutil.ToFloat64(h.metrics.HTTPRequests.WithLabelValues("/api/users/login", "POST", "200")), 0)
		assert.InDelta(t, 2, testutil.ToFloat64(h.metrics.HTTPRequests.WithLabelValues("/api/users/login", "POST", "401")), 0)
	})
}

func TestSecureCookies(t *testing.T) {
	h := newHarness(t, func(o *httpapi.Options) { o.SecureCookies = true })
	c := h.registerAndLogin(t)
	assert.True(t, c.Secure)
}

func TestProfileGuard(t *testing.T) {
	h := newHarness(t)
	cookie := h.registerAndLogin(t)

	t.Run("no cookie", func(t *testing.T) {
		rec := h.do(t, http.MethodGet, "/api/users/profile", "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "Unauthorized: No token provided", decode(t, rec)["error"])
	})

	t.Run("unknown token clears cookie", func(t *testing.T) {
		rec := h.do(t, http.MethodGet, "/api/users/profile", "",
			&http.Cookie{Name: httpapi.SessionCookieName, Value: strings.Repeat("ab", 32)})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "Unauthorized: Invalid or expired session", decode(t, rec)["error"])
		cleared := sessionCookie(t, rec)
		assert.Empty(t, cleared.Value)
		assert.Equal(t, -1, cleared.MaxAge)
	})

	t.Run("valid session returns the user", func(t *testing.T) {
		rec := h.do(t, http.MethodGet, "/api/users/profile", "", cookie)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		body := decode(t, rec)
		assert.Equal(t, "Welcome to your secure profile!", body["message"])
		user, ok := body["user"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "alice", user["username"])
		assert.Equal(t, "alice@x.com", user["email"])
		assert.NotContains(t, rec.Body.String(), "argon2id")
	})
}

func TestLogout(t *testing.T) {
	h := newHarness(t)
	cookie := h.registerAndLogin(t)

	rec := h.do(t, http.MethodPost, "/api/users/logout", "", cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, -1, sessionCookie(t, rec).MaxAge)

	rec = h.do(t, http.MethodGet, "/api/users/profile", "", cookie)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestOTPFlow(t *testing.T) {
	h := newHarness(t)
	require.Equal(t, http.StatusCreated, h.do(t, http.MethodPost, "/api/users/register", aliceJSON).Code)

	t.Run("unknown email is not found", func(t *testing.T) {
		rec := h.do(t, http.MethodPost, "/api/users/request-otp", `{"email":"bob@x.com"}`)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "User not found.", decode(t, rec)["error"])
	})

	t.Run("login with code", func(t *testing.T) {
		rec := h.do(t, http.MethodPost, "/api/users/request-otp", `{"email":"alice@x.com"}`)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "OTP sent to email.", decode(t, rec)["message"])
		code := h.outbox.LastCode("alice@x.com")
		require.Len(t, code, 6)

		rec = h.do(t, http.MethodPost, "/api/users/login-with-otp", `{"email":"alice@x.com","otp":"abcdef"}`)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "Invalid or expired OTP.", decode(t, rec)["error"])

		rec = h.do(t, http.MethodPost, "/api/users/login-with-otp", `{"email":"alice@x.com","otp":"`+code+`"}`)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Len(t, sessionCookie(t, rec).Value, 64)

		rec = h.do(t, http.MethodPost, "/api/users/login-with-otp", `{"email":"alice@x.com","otp":"`+code+`"}`)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "codes are single use")
	})

	t.Run("reset password with code", func(t *testing.T) {
		require.Equal(t, http.StatusOK, h.do(t, http.MethodPost, "/api/users/request-otp", `{"email":"alice@x.com"}`).Code)
		code := h.outbox.LastCode("alice@x.com")

		rec := h.do(t, http.MethodPost, "/api/users/reset-password-with-otp",
			`{"email":"alice@x.com","otp":"`+code+`","new_password":"123"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "Invalid new password.", decode(t, rec)["error"])

		rec = h.do(t, http.MethodPost, "/api/users/reset-password-with-otp",
			`{"email":"alice@x.com","otp":"`+code+`","new_password":"brand-new"}`)
		require.Equal(t, http.StatusOK, rec.Code, "rejected password did not consume the code")
		assert.Equal(t, "Password reset successful.", decode(t, rec)["message"])
		assert.Empty(t, rec.Result().Cookies(), "reset does not log in")

		assert.Equal(t, http.StatusUnauthorized,
			h.do(t, http.MethodPost, "/api/users/login", `{"email":"alice@x.com","password":"secret1"}`).Code)
		assert.Equal(t, http.StatusOK,
			h.do(t, http.MethodPost, "/api/users/login", `{"email":"alice@x.com","password":"brand-new"}`).Code)
	})

	t.Run("mail hand-off failure does not change the response", func(t *testing.T) {
		h.outbox.Err = errors.New("queue full")
		defer func() { h.outbox.Err = nil }()
		rec := h.do(t, http.MethodPost, "/api/users/request-otp", `{"email":"alice@x.com"}`)
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

// stubAuth fails every call it overrides; the rest panic through the nil
// embedded interface.
type stubAuth struct {
	httpapi.Authenticator
	err error
}

func (s stubAuth) Register(context.Context, auth.RegisterInput) (*auth.User, error) {
	return nil, s.err
}

func (s stubAuth) Guard(context.Context, string) (*auth.User, error) {
	return nil, s.err
}

func TestInternalErrors(t *testing.T) {
	logs := &bytes.Buffer{}
	logger := slog.New(slog.NewJSONHandler(logs, nil))
	dbErr := errors.New("connection refused")
	h := newHarnessWith(t, stubAuth{err: dbErr}, nil, logs, logger)

	t.Run("register", func(t *testing.T) {
		rec := h.do(t, http.MethodPost, "/api/users/register", aliceJSON)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.JSONEq(t, `{"error":"Failed to register user."}`, rec.Body.String())
		assert.NotContains(t, rec.Body.String(), "connection refused")
		assert.Contains(t, logs.String(), "connection refused")
	})

	t.Run("guard", func(t *testing.T) {
		rec := h.do(t, http.MethodGet, "/api/users/profile", "",
			&http.Cookie{Name: httpapi.SessionCookieName, Value: "tok"})
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, "Server error during authentication", decode(t, rec)["error"])
		assert.Empty(t, rec.Result().Cookies(), "cookie is kept on server errors")
		assert.InDelta(t, 1, testutil.ToFloat64(h.metrics.AuthOutcomes.WithLabelValues("guard", "error")), 0)
	})
}

func TestCORS(t *testing.T) {
	h := newHarness(t)

	t.Run("preflight from allowed origin", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodOptions, "/api/users/login", nil)
		r.Header.Set("Origin", "http://localhost:5173")
		r.Header.Set("Access-Control-Request-Method", "POST")
		r.Header.Set("Access-Control-Request-Headers", "content-type")
		rec := httptest.NewRecorder()
		h.handler.ServeHTTP(rec, r)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
		assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "POST")
		assert.Equal(t, "content-type", rec.Header().Get("Access-Control-Allow-Headers"))
	})

	t.Run("other origins get no grant", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Origin", "https://evil.example")
		rec := httptest.NewRecorder()
		h.handler.ServeHTTP(rec, r)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("simple request from allowed origin", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Origin", "http://localhost:3000")
		rec := httptest.NewRecorder()
		h.handler.ServeHTTP(rec, r)

		assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "Origin", rec.Header().Get("Vary"))
	})
}

func TestRequestLog(t *testing.T) {
	h := newHarness(t)
	h.do(t, http.MethodGet, "/", "")
	assert.Contains(t, h.logs.String(), `"msg":"http request"`)
	assert.Contains(t, h.logs.String(), `"route":"/"`)
}

func TestGenerateSchemas(t *testing.T) {
	schemas, err := httpapi.GenerateSchemas()
	require.NoError(t, err)
	require.Len(t, schemas, 5)

	var doc struct {
		Required   []string                  `json:"required"`
		Properties map[string]map[string]any `json:"properties"`
	}
	require.NoError(t, json.Unmarshal(schemas["register"], &doc))
	assert.ElementsMatch(t, []string{"username", "email", "password"}, doc.Required)
	assert.Contains(t, doc.Properties, "birth_of_date")
}
