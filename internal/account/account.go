// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Accountd Contributors

package account

import (
	"context"
	"regexp"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Username validation constraints. The upper bound matches the original
// schema's 20-character username column.
const (
	MinUsernameLength = 3
	MaxUsernameLength = 20
)

// usernameRegex matches usernames that:
// - Start with a letter (a-z, A-Z)
// - Contain only letters, numbers, and underscores
var usernameRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`)

// Account represents a registered user account. Accounts start unverified and
// become active once the email-verification token is redeemed.
type Account struct {
	ID            ulid.ULID
	Username      string
	Email         string
	PasswordHash  string
	EmailVerified bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewAccount creates a validated, unverified Account. The password hash must
// already be produced by a PasswordHasher; this constructor never sees the
// plaintext.
func NewAccount(username, email, passwordHash string) (*Account, error) {
	if err := ValidateUsername(username); err != nil {
		return nil, err
	}
	if !IsValidEmail(email) {
		return nil, oops.Code("ACCOUNT_INVALID_EMAIL").
			With("email", email).
			Errorf("invalid email address")
	}
	if passwordHash == "" {
		return nil, oops.Code("ACCOUNT_EMPTY_HASH").Errorf("password hash cannot be empty")
	}

	now := time.Now()
	return &Account{
		ID:            ulid.Make(),
		Username:      username,
		Email:         email,
		PasswordHash:  passwordHash,
		EmailVerified: false,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// ValidateUsername validates a username against rules.
// Username requirements:
//   - Length: MinUsernameLength to MaxUsernameLength characters
//   - Must start with a letter
//   - Can contain only letters (a-z, A-Z), numbers (0-9), and underscores (_)
func ValidateUsername(username string) error {
	if username == "" {
		return oops.Code("ACCOUNT_INVALID_USERNAME").Errorf("username cannot be empty")
	}
	if len(username) < MinUsernameLength {
		return oops.Code("ACCOUNT_INVALID_USERNAME").
			With("min", MinUsernameLength).
			Errorf("username must be at least %d characters", MinUsernameLength)
	}
	if len(username) > MaxUsernameLength {
		return oops.Code("ACCOUNT_INVALID_USERNAME").
			With("max", MaxUsernameLength).
			Errorf("username must be at most %d characters", MaxUsernameLength)
	}
	if !usernameRegex.MatchString(username) {
		return oops.Code("ACCOUNT_INVALID_USERNAME").
			Errorf("username must start with a letter and contain only letters, numbers, and underscores")
	}
	return nil
}

// AccountRepository manages account persistence. Implementations must enforce
// username and email uniqueness at the storage layer and report violations as
// ErrUsernameTaken / ErrEmailTaken. Accounts are never deleted by this core.
type AccountRepository interface {
	// Create stores a new account. Returns ErrUsernameTaken or ErrEmailTaken
	// (wrapped) when the unique constraint rejects the insert.
	Create(ctx context.Context, acct *Account) error

	// GetByID retrieves an account by ID.
	GetByID(ctx context.Context, id ulid.ULID) (*Account, error)

	// GetByUsername retrieves an account by username (case-insensitive).
	GetByUsername(ctx context.Context, username string) (*Account, error)

	// GetByEmail retrieves an account by email (case-insensitive).
	// Returns ErrNotFound if no account has the given email.
	GetByEmail(ctx context.Context, email string) (*Account, error)

	// MarkEmailVerified sets the verified flag. Idempotent: marking an
	// already-verified account is not an error.
	MarkEmailVerified(ctx context.Context, id ulid.ULID) error

	// UpdatePassword replaces the password hash for an account.
	UpdatePassword(ctx context.Context, id ulid.ULID, passwordHash string) error
}
