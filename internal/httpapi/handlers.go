// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Storefront Contributors

package httpapi

import (
	"net/http"
	"time"

	"github.com/storefront/storefront/internal/auth"
)

// birthDateLayout is the accepted birth_of_date format.
const birthDateLayout = "2006-01-02"

type loginResponse struct {
	Message   string    `json:"message"`
	UserID    string    `json:"userId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func (a *api) register(w http.ResponseWriter, r *http.Request) {
	const op = "register"
	var req registerRequest
	if err := decodeBody(w, r, a.schemas.register, &req); err != nil {
		a.badRequest(w, r, op, err)
		return
	}

	profile := auth.Profile{
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		Avatar:      req.Avatar,
		PhoneNumber: req.PhoneNumber,
	}
	if req.BirthOfDate != "" {
		birth, err := time.Parse(birthDateLayout, req.BirthOfDate)
		if err != nil {
			a.badRequest(w, r, op, err)
			return
		}
		profile.BirthDate = &birth
	}

	user, err := a.auth.Register(r.Context(), auth.RegisterInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
		Profile:  profile,
	})
	if err != nil {
		a.fail(w, r, op, err, failure{
			http.StatusBadRequest:          "Invalid registration details.",
			http.StatusConflict:            "Username or email already exists.",
			http.StatusInternalServerError: "Failed to register user.",
		})
		return
	}

	a.metrics.AuthOutcome(op, outcomeSuccess)
	writeJSON(w, http.StatusCreated, map[string]string{
		"message": "User registered successfully!",
		"userId":  user.ID.String(),
	})
}

func (a *api) login(w http.ResponseWriter, r *http.Request) {
	const op = "login"
	var req loginRequest
	if err := decodeBody(w, r, a.schemas.login, &req); err != nil {
		a.badRequest(w, r, op, err)
		return
	}

	res, err := a.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		a.fail(w, r, op, err, failure{
			http.StatusUnauthorized:        "Invalid email or password.",
			http.StatusInternalServerError: "Failed to log in.",
		})
		return
	}
	a.startSession(w, op, res)
}

func (a *api) requestOTP(w http.ResponseWriter, r *http.Request) {
	const op = "request_otp"
	var req requestOTPRequest
	if err := decodeBody(w, r, a.schemas.requestOTP, &req); err != nil {
		a.badRequest(w, r, op, err)
		return
	}

	if err := a.auth.RequestOTP(r.Context(), req.Email); err != nil {
		a.fail(w, r, op, err, failure{
			http.StatusNotFound:            "User not found.",
			http.StatusInternalServerError: "Failed to send OTP.",
		})
		return
	}

	a.metrics.AuthOutcome(op, outcomeSuccess)
	writeJSON(w, http.StatusOK, messageResponse{Message: "OTP sent to email."})
}

func (a *api) loginWithOTP(w http.ResponseWriter, r *http.Request) {
	const op = "login_with_otp"
	var req loginWithOTPRequest
	if err := decodeBody(w, r, a.schemas.loginWithOTP, &req); err != nil {
		a.badRequest(w, r, op, err)
		return
	}

	res, err := a.auth.LoginWithOTP(r.Context(), req.Email, req.OTP)
	if err != nil {
		a.fail(w, r, op, err, failure{
			http.StatusUnauthorized:        "Invalid or expired OTP.",
			http.StatusInternalServerError: "Failed to log in with OTP.",
		})
		return
	}
	a.startSession(w, op, res)
}

func (a *api) resetPasswordWithOTP(w http.ResponseWriter, r *http.Request) {
	const op = "reset_password"
	var req resetPasswordRequest
	if err := decodeBody(w, r, a.schemas.reset, &req); err != nil {
		a.badRequest(w, r, op, err)
		return
	}

	if err := a.auth.ResetPasswordWithOTP(r.Context(), req.Email, req.OTP, req.NewPassword); err != nil {
		a.fail(w, r, op, err, failure{
			http.StatusBadRequest:          "Invalid new password.",
			http.StatusUnauthorized:        "Invalid or expired OTP.",
			http.StatusInternalServerError: "Failed to reset password.",
		})
		return
	}

	a.metrics.AuthOutcome(op, outcomeSuccess)
	writeJSON(w, http.StatusOK, messageResponse{Message: "Password reset successful."})
}

func (a *api) profile(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Welcome to your secure profile!",
		"user":    user,
	})
}

func (a *api) logout(w http.ResponseWriter, r *http.Request) {
	const op = "logout"
	user, _ := UserFromContext(r.Context())
	if err := a.auth.Logout(r.Context(), user.ID); err != nil {
		a.fail(w, r, op, err, failure{
			http.StatusInternalServerError: "Failed to log out.",
		})
		return
	}

	a.metrics.AuthOutcome(op, outcomeSuccess)
	clearSessionCookie(w, a.secureCookies)
	writeJSON(w, http.StatusOK, messageResponse{Message: "Logged out successfully."})
}

func (a *api) startSession(w http.ResponseWriter, op string, res *auth.LoginResult) {
	a.metrics.AuthOutcome(op, outcomeSuccess)
	setSessionCookie(w, res.Token, res.ExpiresAt, a.secureCookies)
	writeJSON(w, http.StatusOK, loginResponse{
		Message:   "Login successful!",
		UserID:    res.User.ID.String(),
		ExpiresAt: res.ExpiresAt.UTC(),
	})
}
