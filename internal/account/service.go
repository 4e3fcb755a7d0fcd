// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Accountd Contributors

package account

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/accountd/accountd/pkg/errutil"
)

// Service coordinates the account lifecycle: registration, email-verified
// activation, credential login, and token-based password reset.
type Service struct {
	accounts    AccountRepository
	sessions    WebSessionRepository
	hasher      PasswordHasher
	codec       *TokenCodec
	notifier    Notifier
	logger      *slog.Logger
	tokenIssued func(TokenPurpose)
}

// dummyPasswordHash is used when an account doesn't exist to prevent timing attacks.
// We still run password verification to make response time consistent.
// This is NOT a real credential - it's a fake hash that will never match any password.
//
//nolint:gosec // G101: This is an intentionally fake hash for timing attack prevention, not a credential.
const dummyPasswordHash = "$argon2id$v=19$m=65536,t=1,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// NewService creates a Service with the default logger.
func NewService(accounts AccountRepository, sessions WebSessionRepository, hasher PasswordHasher, codec *TokenCodec, notifier Notifier) (*Service, error) {
	return NewServiceWithLogger(accounts, sessions, hasher, codec, notifier, slog.Default())
}

// NewServiceWithLogger creates a Service that logs best-effort failures to
// the given logger.
func NewServiceWithLogger(accounts AccountRepository, sessions WebSessionRepository, hasher PasswordHasher, codec *TokenCodec, notifier Notifier, logger *slog.Logger) (*Service, error) {
	if accounts == nil {
		return nil, oops.Errorf("accounts repository is required")
	}
	if sessions == nil {
		return nil, oops.Errorf("sessions repository is required")
	}
	if hasher == nil {
		return nil, oops.Errorf("password hasher is required")
	}
	if codec == nil {
		return nil, oops.Errorf("token codec is required")
	}
	if notifier == nil {
		return nil, oops.Errorf("notifier is required")
	}
	if logger == nil {
		return nil, oops.Errorf("logger is required")
	}
	return &Service{
		accounts: accounts,
		sessions: sessions,
		hasher:   hasher,
		codec:    codec,
		notifier: notifier,
		logger:   logger,
	}, nil
}

// OnTokenIssued registers a hook invoked each time a signed token is minted,
// with the token's purpose. Used for metrics. The hook fires on mint success
// only, which for password resets keeps the count independent of the uniform
// acknowledgement the caller returns.
func (s *Service) OnTokenIssued(fn func(TokenPurpose)) {
	s.tokenIssued = fn
}

func (s *Service) noteTokenIssued(purpose TokenPurpose) {
	if s.tokenIssued != nil {
		s.tokenIssued(purpose)
	}
}

// RegisterRequest is the typed registration payload, validated before any
// mutation reaches the store.
type RegisterRequest struct {
	Username        string
	Email           string
	Password        string
	ConfirmPassword string
}

// Register creates an unverified account and dispatches exactly one
// verification notification. The notification is best-effort: a delivery
// failure is logged but never rolls back the created account.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*Account, error) {
	if err := ValidateUsername(req.Username); err != nil {
		return nil, err
	}
	if !IsValidEmail(req.Email) {
		return nil, oops.Code("ACCOUNT_INVALID_EMAIL").
			With("email", req.Email).
			Errorf("invalid email address")
	}
	if req.Password != req.ConfirmPassword {
		return nil, oops.Code("ACCOUNT_PASSWORD_MISMATCH").Wrap(ErrPasswordMismatch)
	}
	if !IsStrongPassword(req.Password) {
		return nil, oops.Code("ACCOUNT_WEAK_PASSWORD").Wrap(ErrWeakPassword)
	}

	// Pre-check duplicates for a friendly early answer. The storage-level
	// unique constraints remain authoritative: Create reports the conflict
	// when a concurrent registration races past this check.
	if _, err := s.accounts.GetByUsername(ctx, req.Username); err == nil {
		return nil, oops.Code("ACCOUNT_USERNAME_TAKEN").
			With("username", req.Username).
			Wrap(ErrUsernameTaken)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, oops.Code("ACCOUNT_REGISTER_FAILED").
			With("operation", "get account by username").
			Wrap(err)
	}
	if _, err := s.accounts.GetByEmail(ctx, req.Email); err == nil {
		return nil, oops.Code("ACCOUNT_EMAIL_TAKEN").
			With("email", req.Email).
			Wrap(ErrEmailTaken)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, oops.Code("ACCOUNT_REGISTER_FAILED").
			With("operation", "get account by email").
			Wrap(err)
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, oops.Code("ACCOUNT_REGISTER_FAILED").
			With("operation", "hash password").
			Wrap(err)
	}

	acct, err := NewAccount(req.Username, req.Email, hash)
	if err != nil {
		return nil, err
	}

	if err := s.accounts.Create(ctx, acct); err != nil {
		// Conflict sentinels pass through so the caller sees the duplicate.
		if errors.Is(err, ErrUsernameTaken) || errors.Is(err, ErrEmailTaken) {
			return nil, err
		}
		return nil, oops.Code("ACCOUNT_REGISTER_FAILED").
			With("operation", "create account").
			Wrap(err)
	}

	token, err := s.codec.Mint(PurposeEmailVerify, acct.ID, acct.Email)
	if err != nil {
		// The account exists; the user can request a fresh link later.
		errutil.LogError(s.logger, "minting verification token failed after registration", err)
		return acct, nil
	}
	s.noteTokenIssued(PurposeEmailVerify)
	if err := s.notifier.SendVerification(ctx, acct.Email, token); err != nil {
		s.logger.Warn("best-effort verification dispatch failed",
			"operation", "send_verification",
			"error", err.Error(),
		)
	}

	return acct, nil
}

// ConfirmEmail redeems an email-verify token and marks the account verified.
// Idempotent when the account is already verified. Every token failure
// (malformed, bad signature, expired, wrong purpose, stale email snapshot,
// unknown account) collapses into ErrInvalidToken so the response never
// reveals which check rejected the link.
func (s *Service) ConfirmEmail(ctx context.Context, token string) error {
	claims, err := s.codec.Decode(token, PurposeEmailVerify)
	if err != nil {
		errutil.LogError(s.logger, "email verification token rejected", err)
		return oops.Code("ACCOUNT_VERIFY_REJECTED").Wrap(ErrInvalidToken)
	}

	accountID, err := ulid.Parse(claims.AccountID)
	if err != nil {
		return oops.Code("ACCOUNT_VERIFY_REJECTED").Wrap(ErrInvalidToken)
	}

	acct, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return oops.Code("ACCOUNT_VERIFY_REJECTED").Wrap(ErrInvalidToken)
		}
		return oops.Code("ACCOUNT_VERIFY_FAILED").
			With("operation", "get account by id").
			Wrap(err)
	}

	// The token snapshots the email at mint time. A link minted for an
	// address the account no longer uses must not confirm the new one.
	if claims.Email != acct.Email {
		s.logger.Warn("verification token email snapshot is stale",
			"account_id", acct.ID.String(),
		)
		return oops.Code("ACCOUNT_VERIFY_REJECTED").Wrap(ErrInvalidToken)
	}

	if acct.EmailVerified {
		return nil
	}

	if err := s.accounts.MarkEmailVerified(ctx, acct.ID); err != nil {
		return oops.Code("ACCOUNT_VERIFY_FAILED").
			With("operation", "mark email verified").
			Wrap(err)
	}
	return nil
}

// Login authenticates by email and password and creates a web session.
// Returns the session and the plaintext session token.
//
// Outcomes are deliberately asymmetric: an unknown email or wrong password
// both yield ErrInvalidCredentials, while a correct password on an unverified
// account yields ErrEmailNotVerified - that distinction is surfaced to the
// user, unlike token failure detail.
func (s *Service) Login(ctx context.Context, email, password string, remember bool) (*WebSession, string, error) {
	acct, lookupErr := s.accounts.GetByEmail(ctx, email)

	// Determine which hash to verify against (real or dummy for timing attack prevention)
	targetHash := dummyPasswordHash
	accountExists := false

	if lookupErr != nil {
		if !errors.Is(lookupErr, ErrNotFound) {
			return nil, "", oops.Code("ACCOUNT_LOGIN_FAILED").
				With("operation", "get account by email").
				Wrap(lookupErr)
		}
	} else {
		targetHash = acct.PasswordHash
		accountExists = true
	}

	// Always verify password (constant-time operation for timing attack prevention)
	valid, verifyErr := s.hasher.Verify(password, targetHash)
	if verifyErr != nil {
		// For dummy hash verification errors, just treat as invalid
		if !accountExists {
			return nil, "", oops.Code("ACCOUNT_INVALID_CREDENTIALS").Wrap(ErrInvalidCredentials)
		}
		return nil, "", oops.Code("ACCOUNT_LOGIN_FAILED").
			With("operation", "verify password").
			Wrap(verifyErr)
	}

	if !accountExists || !valid {
		return nil, "", oops.Code("ACCOUNT_INVALID_CREDENTIALS").Wrap(ErrInvalidCredentials)
	}

	// Checked after password verification so a wrong password on an
	// unverified account still reads as bad credentials.
	if !acct.EmailVerified {
		return nil, "", oops.Code("ACCOUNT_EMAIL_NOT_VERIFIED").Wrap(ErrEmailNotVerified)
	}

	token, tokenHash, err := GenerateSessionToken()
	if err != nil {
		return nil, "", oops.Code("ACCOUNT_LOGIN_FAILED").
			With("operation", "generate session token").
			Wrap(err)
	}

	expiry := SessionExpiry
	if remember {
		expiry = SessionRememberExpiry
	}
	session, err := NewWebSession(acct.ID, tokenHash, remember, time.Now().Add(expiry))
	if err != nil {
		return nil, "", oops.Code("ACCOUNT_LOGIN_FAILED").
			With("operation", "create web session").
			Wrap(err)
	}

	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, "", oops.Code("SESSION_CREATE_FAILED").
			With("operation", "persist session").
			Wrap(err)
	}

	return session, token, nil
}

// Logout invalidates a web session.
func (s *Service) Logout(ctx context.Context, sessionID ulid.ULID) error {
	err := s.sessions.Delete(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return oops.Code("SESSION_NOT_FOUND").
				With("session_id", sessionID.String()).
				Wrap(err)
		}
		return oops.Code("ACCOUNT_LOGOUT_FAILED").
			With("operation", "delete session").
			With("session_id", sessionID.String()).
			Wrap(err)
	}
	return nil
}

// ValidateSession validates a session token and returns the session if valid.
// Also updates the LastSeen timestamp.
func (s *Service) ValidateSession(ctx context.Context, token string) (*WebSession, error) {
	if token == "" {
		return nil, oops.Code("SESSION_TOKEN_EMPTY").Errorf("session token cannot be empty")
	}

	tokenHash := HashSessionToken(token)

	session, err := s.sessions.GetByTokenHash(ctx, tokenHash)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, oops.Code("SESSION_INVALID").Errorf("invalid session token")
		}
		return nil, oops.Code("SESSION_VALIDATE_FAILED").
			With("operation", "get session by token hash").
			Wrap(err)
	}

	if session.IsExpired() {
		return nil, oops.Code("SESSION_EXPIRED").Errorf("session has expired")
	}

	// Update last seen timestamp (non-blocking, ignore errors)
	now := time.Now()
	_ = s.sessions.UpdateLastSeen(ctx, session.ID, now) //nolint:errcheck // Best effort, validation succeeds regardless

	return session, nil
}

// GetAccount fetches an account by ID.
func (s *Service) GetAccount(ctx context.Context, id ulid.ULID) (*Account, error) {
	acct, err := s.accounts.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, oops.Code("ACCOUNT_GET_FAILED").
			With("operation", "get account by id").
			Wrap(err)
	}
	return acct, nil
}

// RequestPasswordReset mints a reset token and dispatches the reset
// notification when an account with the given email exists. The outward
// result is identical whether or not the account exists, which keeps the
// endpoint useless for address enumeration; dispatch failures are logged and
// swallowed for the same reason.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	acct, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Same acknowledgement as the existing-account branch.
			return nil
		}
		return oops.Code("RESET_REQUEST_FAILED").
			With("operation", "get account by email").
			Wrap(err)
	}

	token, err := s.codec.Mint(PurposePasswordReset, acct.ID, "")
	if err != nil {
		return oops.Code("RESET_REQUEST_FAILED").
			With("operation", "mint reset token").
			Wrap(err)
	}
	s.noteTokenIssued(PurposePasswordReset)

	if err := s.notifier.SendPasswordReset(ctx, acct.Email, token); err != nil {
		s.logger.Warn("best-effort reset dispatch failed",
			"operation", "send_password_reset",
			"error", err.Error(),
		)
	}
	return nil
}

// CompletePasswordReset redeems a password-reset token and replaces the
// account's password hash. Token failures collapse into ErrInvalidToken;
// password-confirmation and strength failures surface specifically. No
// mutation happens on any failure path.
func (s *Service) CompletePasswordReset(ctx context.Context, token, newPassword, confirmPassword string) error {
	claims, err := s.codec.Decode(token, PurposePasswordReset)
	if err != nil {
		errutil.LogError(s.logger, "password reset token rejected", err)
		return oops.Code("RESET_REJECTED").Wrap(ErrInvalidToken)
	}

	accountID, err := ulid.Parse(claims.AccountID)
	if err != nil {
		return oops.Code("RESET_REJECTED").Wrap(ErrInvalidToken)
	}

	acct, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return oops.Code("RESET_REJECTED").Wrap(ErrInvalidToken)
		}
		return oops.Code("RESET_FAILED").
			With("operation", "get account by id").
			Wrap(err)
	}

	if newPassword != confirmPassword {
		return oops.Code("ACCOUNT_PASSWORD_MISMATCH").Wrap(ErrPasswordMismatch)
	}
	if !IsStrongPassword(newPassword) {
		return oops.Code("ACCOUNT_WEAK_PASSWORD").Wrap(ErrWeakPassword)
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return oops.Code("RESET_FAILED").
			With("operation", "hash password").
			Wrap(err)
	}

	if err := s.accounts.UpdatePassword(ctx, acct.ID, hash); err != nil {
		return oops.Code("RESET_FAILED").
			With("operation", "update password").
			Wrap(err)
	}
	return nil
}
