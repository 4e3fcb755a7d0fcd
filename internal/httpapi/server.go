// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Accountd Contributors

// Package httpapi exposes the account lifecycle over HTTP.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/samber/oops"

	"github.com/accountd/accountd/internal/account"
	"github.com/accountd/accountd/internal/observability"
)

// SessionCookieName carries the plaintext web session token.
const SessionCookieName = "accountd_session"

type contextKey string

// sessionKey holds the authenticated *account.WebSession in the request
// context, set by requireSession.
const sessionKey contextKey = "session"

// Server handles the public HTTP API.
type Server struct {
	svc           *account.Service
	metrics       *observability.Metrics
	logger        *slog.Logger
	secureCookies bool
}

// NewServer creates the HTTP API server.
// secureCookies marks session cookies Secure and should be true whenever the
// service is reached over HTTPS.
func NewServer(svc *account.Service, metrics *observability.Metrics, logger *slog.Logger, secureCookies bool) (*Server, error) {
	if svc == nil {
		return nil, oops.Errorf("account service is required")
	}
	if metrics == nil {
		return nil, oops.Errorf("metrics are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		svc:           svc,
		metrics:       metrics,
		logger:        logger,
		secureCookies: secureCookies,
	}, nil
}

// Router builds the chi router with all v1 routes mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/register", s.handleRegister)
		r.Get("/verify-email", s.handleVerifyEmail)
		r.Post("/login", s.handleLogin)
		r.Post("/password-reset", s.handlePasswordReset)
		r.Post("/password-reset/confirm", s.handlePasswordResetConfirm)

		r.Group(func(r chi.Router) {
			r.Use(s.requireSession)
			r.Post("/logout", s.handleLogout)
			r.Get("/me", s.handleMe)
		})
	})

	return r
}

// logRequests emits one structured log line per request.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"remote", r.RemoteAddr,
		)
	})
}

// requireSession authenticates the request from the session cookie and puts
// the session in the request context. Missing, unknown, and expired tokens
// all answer 401 without further detail.
func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(SessionCookieName)
		if err != nil || cookie.Value == "" {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}

		session, err := s.svc.ValidateSession(r.Context(), cookie.Value)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}

		ctx := context.WithValue(r.Context(), sessionKey, session)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// sessionFromContext returns the authenticated session placed by
// requireSession, or nil outside an authenticated route.
func sessionFromContext(ctx context.Context) *account.WebSession {
	session, _ := ctx.Value(sessionKey).(*account.WebSession)
	return session
}
