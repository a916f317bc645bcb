// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Storefront Contributors

package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/storefront/storefront/internal/auth"
	"github.com/storefront/storefront/pkg/errutil"
)

// Auth outcome labels.
const (
	outcomeSuccess  = "success"
	outcomeRejected = "rejected"
	outcomeError    = "error"
)

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:errchkjson // the client is gone if encoding to the response fails
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// statusFor maps an error kind to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, auth.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, auth.ErrInvalidOTP),
		errors.Is(err, auth.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, auth.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// failure holds the client-facing messages of one operation by status. The
// 500 message is required; a kind without a message is answered as a 500.
type failure map[int]string

// fail answers a failed operation. Internal errors are logged with their
// context and never shown to the client.
func (a *api) fail(w http.ResponseWriter, r *http.Request, operation string, err error, msgs failure) {
	status := statusFor(err)
	msg, ok := msgs[status]
	if !ok {
		status = http.StatusInternalServerError
		msg = msgs[status]
	}

	if status >= http.StatusInternalServerError {
		a.metrics.AuthOutcome(operation, outcomeError)
		errutil.LogErrorContext(r.Context(), a.logger, operation+" failed", err)
	} else {
		a.metrics.AuthOutcome(operation, outcomeRejected)
		a.logger.DebugContext(r.Context(), operation+" rejected", "status", status, "error", err)
	}
	writeError(w, status, msg)
}

// badRequest answers a body that failed decoding or schema validation.
func (a *api) badRequest(w http.ResponseWriter, r *http.Request, operation string, err error) {
	a.metrics.AuthOutcome(operation, outcomeRejected)
	a.logger.DebugContext(r.Context(), operation+" body rejected", "error", err)
	writeError(w, http.StatusBadRequest, "Invalid request body.")
}
