// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Accountd Contributors

package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/accountd/accountd/internal/account"
	"github.com/accountd/accountd/pkg/errutil"
)

// invalidLinkMessage is the single outward message for every rejected token.
// The reason a link failed (forged, expired, wrong purpose, stale) is logged
// but never surfaced.
const invalidLinkMessage = "invalid or expired link"

// accountResponse is the public view of an account. The password hash never
// leaves the service.
type accountResponse struct {
	ID            string    `json:"id"`
	Username      string    `json:"username"`
	Email         string    `json:"email"`
	EmailVerified bool      `json:"email_verified"`
	CreatedAt     time.Time `json:"created_at"`
}

func toAccountResponse(acct *account.Account) accountResponse {
	return accountResponse{
		ID:            acct.ID.String(),
		Username:      acct.Username,
		Email:         acct.Email,
		EmailVerified: acct.EmailVerified,
		CreatedAt:     acct.CreatedAt,
	}
}

type registerRequest struct {
	Username        string `json:"username"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	acct, err := s.svc.Register(r.Context(), account.RegisterRequest{
		Username:        req.Username,
		Email:           req.Email,
		Password:        req.Password,
		ConfirmPassword: req.ConfirmPassword,
	})
	if err != nil {
		switch {
		case errors.Is(err, account.ErrUsernameTaken):
			s.metrics.RegistrationsTotal.WithLabelValues("conflict").Inc()
			writeError(w, http.StatusConflict, "username is already taken")
		case errors.Is(err, account.ErrEmailTaken):
			s.metrics.RegistrationsTotal.WithLabelValues("conflict").Inc()
			writeError(w, http.StatusConflict, "email is already registered")
		case errors.Is(err, account.ErrPasswordMismatch):
			s.metrics.RegistrationsTotal.WithLabelValues("rejected").Inc()
			writeError(w, http.StatusBadRequest, "passwords do not match")
		case errors.Is(err, account.ErrWeakPassword):
			s.metrics.RegistrationsTotal.WithLabelValues("rejected").Inc()
			writeError(w, http.StatusBadRequest, "password must be at least 8 characters with an uppercase letter, a lowercase letter, and a digit")
		case errutil.HasCode(err, "ACCOUNT_INVALID_USERNAME"):
			s.metrics.RegistrationsTotal.WithLabelValues("rejected").Inc()
			writeError(w, http.StatusBadRequest, "invalid username")
		case errutil.HasCode(err, "ACCOUNT_INVALID_EMAIL"):
			s.metrics.RegistrationsTotal.WithLabelValues("rejected").Inc()
			writeError(w, http.StatusBadRequest, "invalid email address")
		default:
			errutil.LogError(s.logger, "registration failed", err)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	s.metrics.RegistrationsTotal.WithLabelValues("created").Inc()
	writeJSON(w, http.StatusCreated, toAccountResponse(acct))
}

func (s *Server) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		writeError(w, http.StatusBadRequest, invalidLinkMessage)
		return
	}

	if err := s.svc.ConfirmEmail(r.Context(), token); err != nil {
		if errors.Is(err, account.ErrInvalidToken) {
			s.metrics.TokensRejectedTotal.WithLabelValues(string(account.PurposeEmailVerify)).Inc()
			writeError(w, http.StatusBadRequest, invalidLinkMessage)
			return
		}
		errutil.LogError(s.logger, "email verification failed", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "verified"})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Remember bool   `json:"remember"`
}

type loginResponse struct {
	AccountID string    `json:"account_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	session, token, err := s.svc.Login(r.Context(), req.Email, req.Password, req.Remember)
	if err != nil {
		switch {
		case errors.Is(err, account.ErrInvalidCredentials):
			s.metrics.LoginsTotal.WithLabelValues("bad_credentials").Inc()
			writeError(w, http.StatusUnauthorized, "invalid email or password")
		case errors.Is(err, account.ErrEmailNotVerified):
			s.metrics.LoginsTotal.WithLabelValues("unverified").Inc()
			writeError(w, http.StatusForbidden, "email address is not verified")
		default:
			errutil.LogError(s.logger, "login failed", err)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	cookie := &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.secureCookies,
		SameSite: http.SameSiteLaxMode,
	}
	// Remembered sessions survive the browser closing; others stay
	// session-scoped cookies.
	if session.Remember {
		cookie.Expires = session.ExpiresAt
	}
	http.SetCookie(w, cookie)

	s.metrics.LoginsTotal.WithLabelValues("success").Inc()
	writeJSON(w, http.StatusOK, loginResponse{
		AccountID: session.AccountID.String(),
		ExpiresAt: session.ExpiresAt,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	session := sessionFromContext(r.Context())

	if err := s.svc.Logout(r.Context(), session.ID); err != nil && !errors.Is(err, account.ErrNotFound) {
		errutil.LogError(s.logger, "logout failed", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   s.secureCookies,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
	w.WriteHeader(http.StatusNoContent)
}

type passwordResetRequest struct {
	Email string `json:"email"`
}

func (s *Server) handlePasswordReset(w http.ResponseWriter, r *http.Request) {
	var req passwordResetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.svc.RequestPasswordReset(r.Context(), req.Email); err != nil {
		errutil.LogError(s.logger, "password reset request failed", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	// The acknowledgement is identical whether or not the address exists.
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

type passwordResetConfirmRequest struct {
	Token           string `json:"token"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
}

func (s *Server) handlePasswordResetConfirm(w http.ResponseWriter, r *http.Request) {
	var req passwordResetConfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err := s.svc.CompletePasswordReset(r.Context(), req.Token, req.Password, req.ConfirmPassword)
	if err != nil {
		switch {
		case errors.Is(err, account.ErrInvalidToken):
			s.metrics.TokensRejectedTotal.WithLabelValues(string(account.PurposePasswordReset)).Inc()
			writeError(w, http.StatusBadRequest, invalidLinkMessage)
		case errors.Is(err, account.ErrPasswordMismatch):
			writeError(w, http.StatusBadRequest, "passwords do not match")
		case errors.Is(err, account.ErrWeakPassword):
			writeError(w, http.StatusBadRequest, "password must be at least 8 characters with an uppercase letter, a lowercase letter, and a digit")
		default:
			errutil.LogError(s.logger, "password reset completion failed", err)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	s.metrics.PasswordResetsTotal.Inc()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	session := sessionFromContext(r.Context())

	acct, err := s.svc.GetAccount(r.Context(), session.AccountID)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			// Account deleted while the session was live.
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		errutil.LogError(s.logger, "account lookup failed", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, toAccountResponse(acct))
}
