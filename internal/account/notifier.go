// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Accountd Contributors

package account

import "context"

// Notifier delivers account emails carrying signed tokens. The core depends
// only on this interface; transport (SMTP, queue, test double) is the
// implementation's concern. Dispatch is fire-and-forget from the core's
// perspective: a delivery failure never changes account state.
type Notifier interface {
	// SendVerification delivers an email-verification message carrying the
	// signed token to the recipient.
	SendVerification(ctx context.Context, email, token string) error

	// SendPasswordReset delivers a password-reset message carrying the
	// signed token to the recipient.
	SendPasswordReset(ctx context.Context, email, token string) error
}
