// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Accountd Contributors

package account

import "errors"

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// Conflict sentinels. Repository implementations translate storage-level
// uniqueness violations into these so a race past the application pre-check
// still surfaces as a duplicate, never as a raw driver error.
var (
	ErrUsernameTaken = errors.New("username already taken")
	ErrEmailTaken    = errors.New("email already registered")
)

// Credential and lifecycle sentinels surfaced distinctly to callers.
var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailNotVerified   = errors.New("email address not verified")
)

// Validation sentinels surfaced verbatim to callers.
var (
	ErrPasswordMismatch = errors.New("passwords do not match")
	ErrWeakPassword     = errors.New("password must be at least 8 characters with an uppercase letter, a lowercase letter, and a digit")
)

// ErrInvalidToken is the single outward-facing token failure. The codec
// distinguishes malformed/bad-signature/expired/wrong-purpose internally, but
// callers collapse all of them into this one so responses never reveal which
// check failed.
var ErrInvalidToken = errors.New("invalid or expired token")
