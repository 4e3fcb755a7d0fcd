// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Accountd Contributors

// Package account implements the account lifecycle core: registration,
// email-verified activation, credential login, and token-based password reset.
//
// # Domain Types
//
// Domain types (Account, WebSession) should be created using their
// constructors:
//   - NewAccount - creates an unverified Account with a validated username,
//     email, and password hash
//   - NewWebSession - creates a WebSession with validated account and expiry
//
// Direct struct initialization bypasses validation and may create invalid
// state. Repository implementations receive pre-validated types from these
// constructors.
//
// # Services
//
// The Service type coordinates the lifecycle operations (Register,
// ConfirmEmail, Login, Logout, RequestPasswordReset, CompletePasswordReset)
// over injected repositories, a PasswordHasher, a TokenCodec, and a Notifier.
// Services are created with New*Service constructors that validate
// dependencies.
//
// # Tokens
//
// Verification and reset links carry stateless signed tokens produced by
// TokenCodec. Tokens are scoped to a purpose, expire after a configured max
// age, and are not revocable: validity is solely a function of signature and
// age.
package account
