// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Accountd Contributors

package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/accountd/accountd/internal/account"
	"github.com/accountd/accountd/internal/observability"
)

// fakeAccounts is an in-memory AccountRepository.
type fakeAccounts struct {
	mu       sync.Mutex
	accounts map[string]*account.Account
}

func newFakeAccounts() *fakeAccounts {
	return &fakeAccounts{accounts: make(map[string]*account.Account)}
}

func (f *fakeAccounts) Create(_ context.Context, acct *account.Account) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.accounts {
		if strings.EqualFold(existing.Username, acct.Username) {
			return account.ErrUsernameTaken
		}
		if strings.EqualFold(existing.Email, acct.Email) {
			return account.ErrEmailTaken
		}
	}
	cp := *acct
	f.accounts[acct.ID.String()] = &cp
	return nil
}

func (f *fakeAccounts) GetByID(_ context.Context, id ulid.ULID) (*account.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if acct, ok := f.accounts[id.String()]; ok {
		cp := *acct
		return &cp, nil
	}
	return nil, account.ErrNotFound
}

func (f *fakeAccounts) GetByUsername(_ context.Context, username string) (*account.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, acct := range f.accounts {
		if strings.EqualFold(acct.Username, username) {
			cp := *acct
			return &cp, nil
		}
	}
	return nil, account.ErrNotFound
}

func (f *fakeAccounts) GetByEmail(_ context.Context, email string) (*account.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, acct := range f.accounts {
		if strings.EqualFold(acct.Email, email) {
			cp := *acct
			return &cp, nil
		}
	}
	return nil, account.ErrNotFound
}

func (f *fakeAccounts) MarkEmailVerified(_ context.Context, id ulid.ULID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	acct, ok := f.accounts[id.String()]
	if !ok {
		return account.ErrNotFound
	}
	acct.EmailVerified = true
	return nil
}

func (f *fakeAccounts) UpdatePassword(_ context.Context, id ulid.ULID, passwordHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	acct, ok := f.accounts[id.String()]
	if !ok {
		return account.ErrNotFound
	}
	acct.PasswordHash = passwordHash
	return nil
}

// fakeSessions is an in-memory WebSessionRepository.
type fakeSessions struct {
	mu       sync.Mutex
	sessions map[string]*account.WebSession
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{sessions: make(map[string]*account.WebSession)}
}

func (f *fakeSessions) Create(_ context.Context, session *account.WebSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *session
	f.sessions[session.ID.String()] = &cp
	return nil
}

func (f *fakeSessions) GetByTokenHash(_ context.Context, tokenHash string) (*account.WebSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, session := range f.sessions {
		if session.TokenHash == tokenHash {
			cp := *session
			return &cp, nil
		}
	}
	return nil, account.ErrNotFound
}

func (f *fakeSessions) UpdateLastSeen(_ context.Context, id ulid.ULID, lastSeen time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if session, ok := f.sessions[id.String()]; ok {
		session.LastSeen = lastSeen
	}
	return nil
}

func (f *fakeSessions) Delete(_ context.Context, id ulid.ULID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sessions[id.String()]; !ok {
		return account.ErrNotFound
	}
	delete(f.sessions, id.String())
	return nil
}

func (f *fakeSessions) DeleteExpired(_ context.Context) (int64, error) {
	return 0, nil
}

// fakeNotifier records dispatched tokens instead of sending mail.
type fakeNotifier struct {
	mu           sync.Mutex
	verifyTokens map[string]string
	resetTokens  map[string]string
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{
		verifyTokens: make(map[string]string),
		resetTokens:  make(map[string]string),
	}
}

func (f *fakeNotifier) SendVerification(_ context.Context, email, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verifyTokens[email] = token
	return nil
}

func (f *fakeNotifier) SendPasswordReset(_ context.Context, email, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resetTokens[email] = token
	return nil
}

type testAPI struct {
	handler  http.Handler
	notifier *fakeNotifier
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	codec, err := account.NewTokenCodec(account.TokenCodecConfig{
		Secret: []byte(strings.Repeat("k", 32)),
	})
	require.NoError(t, err)

	notifier := newFakeNotifier()
	logger := slog.New(slog.DiscardHandler)

	svc, err := account.NewServiceWithLogger(
		newFakeAccounts(), newFakeSessions(), account.NewArgon2idHasher(), codec, notifier, logger)
	require.NoError(t, err)

	metrics := observability.NewMetrics(prometheus.NewRegistry())
	server, err := NewServer(svc, metrics, logger, false)
	require.NoError(t, err)

	return &testAPI{handler: server.Router(), notifier: notifier}
}

func (a *testAPI) do(t *testing.T, method, path string, body any, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func (a *testAPI) register(t *testing.T, username, email, password string) *httptest.ResponseRecorder {
	t.Helper()
	return a.do(t, http.MethodPost, "/v1/register", registerRequest{
		Username:        username,
		Email:           email,
		Password:        password,
		ConfirmPassword: password,
	})
}

// registerVerified registers and verifies an account end to end.
func (a *testAPI) registerVerified(t *testing.T, username, email, password string) {
	t.Helper()
	rec := a.register(t, username, email, password)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	token := a.notifier.verifyTokens[email]
	require.NotEmpty(t, token)

	rec = a.do(t, http.MethodGet, "/v1/verify-email?token="+token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func (a *testAPI) login(t *testing.T, email, password string) (*httptest.ResponseRecorder, *http.Cookie) {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/v1/login", loginRequest{Email: email, Password: password})
	for _, c := range rec.Result().Cookies() {
		if c.Name == SessionCookieName && c.Value != "" {
			return rec, c
		}
	}
	return rec, nil
}

func TestRegister(t *testing.T) {
	t.Run("creates unverified account", func(t *testing.T) {
		api := newTestAPI(t)

		rec := api.register(t, "alice", "alice@example.com", "Password1")
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		var resp accountResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "alice", resp.Username)
		assert.Equal(t, "alice@example.com", resp.Email)
		assert.False(t, resp.EmailVerified)
		assert.NotEmpty(t, resp.ID)

		// The response never carries the password hash.
		assert.NotContains(t, rec.Body.String(), "argon2")

		assert.NotEmpty(t, api.notifier.verifyTokens["alice@example.com"])
	})

	t.Run("duplicate username conflicts", func(t *testing.T) {
		api := newTestAPI(t)
		api.registerVerified(t, "alice", "alice@example.com", "Password1")

		rec := api.register(t, "alice", "other@example.com", "Password1")
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Contains(t, rec.Body.String(), "username")
	})

	t.Run("duplicate email conflicts", func(t *testing.T) {
		api := newTestAPI(t)
		api.registerVerified(t, "alice", "alice@example.com", "Password1")

		rec := api.register(t, "bob", "alice@example.com", "Password1")
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Contains(t, rec.Body.String(), "email")
	})

	t.Run("weak password rejected", func(t *testing.T) {
		api := newTestAPI(t)
		rec := api.register(t, "alice", "alice@example.com", "password")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("password confirmation mismatch rejected", func(t *testing.T) {
		api := newTestAPI(t)
		rec := api.do(t, http.MethodPost, "/v1/register", registerRequest{
			Username:        "alice",
			Email:           "alice@example.com",
			Password:        "Password1",
			ConfirmPassword: "Password2",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "do not match")
	})

	t.Run("invalid email rejected", func(t *testing.T) {
		api := newTestAPI(t)
		rec := api.register(t, "alice", "not-an-email", "Password1")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("malformed body rejected", func(t *testing.T) {
		api := newTestAPI(t)
		req := httptest.NewRequest(http.MethodPost, "/v1/register", strings.NewReader("{"))
		rec := httptest.NewRecorder()
		api.handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestVerifyEmail(t *testing.T) {
	t.Run("valid token verifies", func(t *testing.T) {
		api := newTestAPI(t)
		api.registerVerified(t, "alice", "alice@example.com", "Password1")
	})

	t.Run("verification is idempotent", func(t *testing.T) {
		api := newTestAPI(t)
		api.registerVerified(t, "alice", "alice@example.com", "Password1")

		token := api.notifier.verifyTokens["alice@example.com"]
		rec := api.do(t, http.MethodGet, "/v1/verify-email?token="+token, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("garbage token rejected with generic message", func(t *testing.T) {
		api := newTestAPI(t)
		rec := api.do(t, http.MethodGet, "/v1/verify-email?token=garbage", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), invalidLinkMessage)
	})

	t.Run("tampered token rejected with generic message", func(t *testing.T) {
		api := newTestAPI(t)
		api.register(t, "alice", "alice@example.com", "Password1")

		token := api.notifier.verifyTokens["alice@example.com"]
		tampered := "x" + token[1:]
		rec := api.do(t, http.MethodGet, "/v1/verify-email?token="+tampered, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		// The body must not reveal why the link was rejected.
		assert.Contains(t, rec.Body.String(), invalidLinkMessage)
		assert.NotContains(t, rec.Body.String(), "signature")
	})

	t.Run("missing token rejected", func(t *testing.T) {
		api := newTestAPI(t)
		rec := api.do(t, http.MethodGet, "/v1/verify-email", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestLogin(t *testing.T) {
	t.Run("verified account logs in and gets a session cookie", func(t *testing.T) {
		api := newTestAPI(t)
		api.registerVerified(t, "alice", "alice@example.com", "Password1")

		rec, cookie := api.login(t, "alice@example.com", "Password1")
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		require.NotNil(t, cookie)
		assert.True(t, cookie.HttpOnly)

		var resp loginResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.NotEmpty(t, resp.AccountID)
	})

	t.Run("unverified account is forbidden", func(t *testing.T) {
		api := newTestAPI(t)
		rec := api.register(t, "alice", "alice@example.com", "Password1")
		require.Equal(t, http.StatusCreated, rec.Code)

		rec, _ = api.login(t, "alice@example.com", "Password1")
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Contains(t, rec.Body.String(), "not verified")
	})

	t.Run("wrong password on unverified account reads as bad credentials", func(t *testing.T) {
		api := newTestAPI(t)
		api.register(t, "alice", "alice@example.com", "Password1")

		rec, _ := api.login(t, "alice@example.com", "WrongPass1")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("wrong password unauthorized", func(t *testing.T) {
		api := newTestAPI(t)
		api.registerVerified(t, "alice", "alice@example.com", "Password1")

		rec, _ := api.login(t, "alice@example.com", "WrongPass1")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("unknown email unauthorized with same message", func(t *testing.T) {
		api := newTestAPI(t)
		rec, _ := api.login(t, "ghost@example.com", "Password1")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), "invalid email or password")
	})

	t.Run("remember sets a persistent cookie", func(t *testing.T) {
		api := newTestAPI(t)
		api.registerVerified(t, "alice", "alice@example.com", "Password1")

		rec := api.do(t, http.MethodPost, "/v1/login", loginRequest{
			Email:    "alice@example.com",
			Password: "Password1",
			Remember: true,
		})
		require.Equal(t, http.StatusOK, rec.Code)

		var cookie *http.Cookie
		for _, c := range rec.Result().Cookies() {
			if c.Name == SessionCookieName {
				cookie = c
			}
		}
		require.NotNil(t, cookie)
		assert.False(t, cookie.Expires.IsZero(), "remembered session cookie should carry an expiry")
	})
}

func TestMe(t *testing.T) {
	t.Run("returns the authenticated account", func(t *testing.T) {
		api := newTestAPI(t)
		api.registerVerified(t, "alice", "alice@example.com", "Password1")
		_, cookie := api.login(t, "alice@example.com", "Password1")
		require.NotNil(t, cookie)

		rec := api.do(t, http.MethodGet, "/v1/me", nil, cookie)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var resp accountResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "alice", resp.Username)
		assert.True(t, resp.EmailVerified)
	})

	t.Run("no cookie unauthorized", func(t *testing.T) {
		api := newTestAPI(t)
		rec := api.do(t, http.MethodGet, "/v1/me", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("bogus cookie unauthorized", func(t *testing.T) {
		api := newTestAPI(t)
		rec := api.do(t, http.MethodGet, "/v1/me", nil, &http.Cookie{Name: SessionCookieName, Value: "bogus"})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestLogout(t *testing.T) {
	api := newTestAPI(t)
	api.registerVerified(t, "alice", "alice@example.com", "Password1")
	_, cookie := api.login(t, "alice@example.com", "Password1")
	require.NotNil(t, cookie)

	rec := api.do(t, http.MethodPost, "/v1/logout", nil, cookie)
	require.Equal(t, http.StatusNoContent, rec.Code)

	// The session is gone; the cookie no longer authenticates.
	rec = api.do(t, http.MethodGet, "/v1/me", nil, cookie)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPasswordReset(t *testing.T) {
	t.Run("acknowledgement is identical for known and unknown addresses", func(t *testing.T) {
		api := newTestAPI(t)
		api.registerVerified(t, "alice", "alice@example.com", "Password1")

		known := api.do(t, http.MethodPost, "/v1/password-reset", passwordResetRequest{Email: "alice@example.com"})
		unknown := api.do(t, http.MethodPost, "/v1/password-reset", passwordResetRequest{Email: "ghost@example.com"})

		assert.Equal(t, http.StatusAccepted, known.Code)
		assert.Equal(t, http.StatusAccepted, unknown.Code)
		assert.Equal(t, known.Body.String(), unknown.Body.String())

		// Only the known address actually got a token.
		assert.NotEmpty(t, api.notifier.resetTokens["alice@example.com"])
		assert.Empty(t, api.notifier.resetTokens["ghost@example.com"])
	})

	t.Run("full reset flow replaces the password", func(t *testing.T) {
		api := newTestAPI(t)
		api.registerVerified(t, "alice", "alice@example.com", "Password1")

		rec := api.do(t, http.MethodPost, "/v1/password-reset", passwordResetRequest{Email: "alice@example.com"})
		require.Equal(t, http.StatusAccepted, rec.Code)
		token := api.notifier.resetTokens["alice@example.com"]
		require.NotEmpty(t, token)

		rec = api.do(t, http.MethodPost, "/v1/password-reset/confirm", passwordResetConfirmRequest{
			Token:           token,
			Password:        "NewPassword1",
			ConfirmPassword: "NewPassword1",
		})
		require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

		// Old password no longer works, new one does.
		old, _ := api.login(t, "alice@example.com", "Password1")
		assert.Equal(t, http.StatusUnauthorized, old.Code)
		fresh, _ := api.login(t, "alice@example.com", "NewPassword1")
		assert.Equal(t, http.StatusOK, fresh.Code)
	})

	t.Run("verification token cannot reset a password", func(t *testing.T) {
		api := newTestAPI(t)
		api.register(t, "alice", "alice@example.com", "Password1")
		verifyToken := api.notifier.verifyTokens["alice@example.com"]
		require.NotEmpty(t, verifyToken)

		rec := api.do(t, http.MethodPost, "/v1/password-reset/confirm", passwordResetConfirmRequest{
			Token:           verifyToken,
			Password:        "NewPassword1",
			ConfirmPassword: "NewPassword1",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), invalidLinkMessage)
	})

	t.Run("weak replacement password rejected", func(t *testing.T) {
		api := newTestAPI(t)
		api.registerVerified(t, "alice", "alice@example.com", "Password1")

		api.do(t, http.MethodPost, "/v1/password-reset", passwordResetRequest{Email: "alice@example.com"})
		token := api.notifier.resetTokens["alice@example.com"]

		rec := api.do(t, http.MethodPost, "/v1/password-reset/confirm", passwordResetConfirmRequest{
			Token:           token,
			Password:        "weak",
			ConfirmPassword: "weak",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		// The rejected attempt changed nothing.
		fresh, _ := api.login(t, "alice@example.com", "Password1")
		assert.Equal(t, http.StatusOK, fresh.Code)
	})
}
