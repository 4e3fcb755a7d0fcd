// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Accountd Contributors

package mail

import (
	"context"
	"log/slog"

	"github.com/accountd/accountd/internal/account"
)

// LogNotifier writes would-be email to the log instead of sending it.
// Used in development when no SMTP host is configured.
type LogNotifier struct {
	logger *slog.Logger
}

var _ account.Notifier = (*LogNotifier)(nil)

// NewLogNotifier creates a LogNotifier. A nil logger uses slog.Default.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

// SendVerification logs the verification token instead of mailing it.
func (n *LogNotifier) SendVerification(_ context.Context, email, token string) error {
	n.logger.Info("verification email suppressed, no smtp host configured",
		"email", email,
		"token", token,
	)
	return nil
}

// SendPasswordReset logs the reset token instead of mailing it.
func (n *LogNotifier) SendPasswordReset(_ context.Context, email, token string) error {
	n.logger.Info("password reset email suppressed, no smtp host configured",
		"email", email,
		"token", token,
	)
	return nil
}
