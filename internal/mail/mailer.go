// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Accountd Contributors

// Package mail delivers account lifecycle email over SMTP.
package mail

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
	gomail "github.com/wneessen/go-mail"

	"github.com/accountd/accountd/internal/account"
)

// sender abstracts the SMTP client so tests can capture messages.
type sender interface {
	DialAndSendWithContext(ctx context.Context, messages ...*gomail.Msg) error
}

// Config holds the settings needed to build a Mailer.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string

	// From is the sender address on outgoing mail.
	From string
	// BaseURL is the externally reachable root of the HTTP API, used to
	// build verification and reset links.
	BaseURL string
	// TokenMaxAge is quoted in message bodies so recipients know how long
	// the link stays valid.
	TokenMaxAge time.Duration
}

// Mailer sends verification and password reset email. Transient SMTP
// failures are retried with exponential backoff before giving up.
type Mailer struct {
	client      sender
	from        string
	baseURL     string
	tokenMaxAge time.Duration
	logger      *slog.Logger
}

var _ account.Notifier = (*Mailer)(nil)

// New creates a Mailer connected to the SMTP server in cfg.
func New(cfg Config) (*Mailer, error) {
	if cfg.Host == "" {
		return nil, oops.Code("MAIL_CONFIG_INVALID").Errorf("smtp host is required")
	}
	if cfg.From == "" {
		return nil, oops.Code("MAIL_CONFIG_INVALID").Errorf("from address is required")
	}

	opts := []gomail.Option{
		gomail.WithPort(cfg.Port),
		gomail.WithTLSPortPolicy(gomail.TLSMandatory),
	}
	if cfg.Username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(cfg.Username),
			gomail.WithPassword(cfg.Password),
		)
	}

	client, err := gomail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, oops.Code("MAIL_CLIENT_FAILED").With("host", cfg.Host).Wrap(err)
	}

	return &Mailer{
		client:      client,
		from:        cfg.From,
		baseURL:     cfg.BaseURL,
		tokenMaxAge: cfg.TokenMaxAge,
		logger:      slog.Default(),
	}, nil
}

// SendVerification mails a signed verification link to a freshly registered
// address.
func (m *Mailer) SendVerification(ctx context.Context, email, token string) error {
	link := m.baseURL + "/v1/verify-email?token=" + url.QueryEscape(token)
	text := fmt.Sprintf(
		"Welcome!\n\nPlease confirm your email address by opening the link below:\n\n%s\n\nThis link will expire in %s. If you did not create an account, you can ignore this message.\n",
		link, formatExpiry(m.tokenMaxAge))
	html := fmt.Sprintf(
		"<p>Welcome!</p><p>Please confirm your email address by clicking the link below:</p><p><a href=%q>Verify my email</a></p><p>This link will expire in %s. If you did not create an account, you can ignore this message.</p>",
		link, formatExpiry(m.tokenMaxAge))

	return m.send(ctx, email, "Verify your email address", text, html)
}

// SendPasswordReset mails a signed reset link. The link points at the
// reset page, which posts the token back with the new password.
func (m *Mailer) SendPasswordReset(ctx context.Context, email, token string) error {
	link := m.baseURL + "/reset-password?token=" + url.QueryEscape(token)
	text := fmt.Sprintf(
		"A password reset was requested for your account.\n\nOpen the link below to choose a new password:\n\n%s\n\nThis link will expire in %s. If you did not request a reset, you can ignore this message and your password will stay unchanged.\n",
		link, formatExpiry(m.tokenMaxAge))
	html := fmt.Sprintf(
		"<p>A password reset was requested for your account.</p><p><a href=%q>Choose a new password</a></p><p>This link will expire in %s. If you did not request a reset, you can ignore this message and your password will stay unchanged.</p>",
		link, formatExpiry(m.tokenMaxAge))

	return m.send(ctx, email, "Reset your password", text, html)
}

func (m *Mailer) send(ctx context.Context, to, subject, text, html string) error {
	msg := gomail.NewMsg()
	if err := msg.From(m.from); err != nil {
		return oops.Code("MAIL_BUILD_FAILED").With("field", "from").Wrap(err)
	}
	if err := msg.To(to); err != nil {
		return oops.Code("MAIL_BUILD_FAILED").With("field", "to").Wrap(err)
	}
	msg.Subject(subject)
	msg.SetBodyString(gomail.TypeTextPlain, text)
	msg.AddAlternativeString(gomail.TypeTextHTML, html)

	backoff := retry.WithMaxRetries(2, retry.NewExponential(500*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if sendErr := m.client.DialAndSendWithContext(ctx, msg); sendErr != nil {
			m.logger.Warn("smtp delivery attempt failed", "subject", subject, "error", sendErr)
			return retry.RetryableError(sendErr)
		}
		return nil
	})
	if err != nil {
		return oops.Code("MAIL_SEND_FAILED").With("subject", subject).Wrap(err)
	}
	return nil
}

// formatExpiry renders a duration the way a human would say it.
func formatExpiry(d time.Duration) string {
	if d >= time.Hour && d%time.Hour == 0 {
		hours := int(d / time.Hour)
		if hours == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", hours)
	}
	minutes := int(d / time.Minute)
	if minutes == 1 {
		return "1 minute"
	}
	return fmt.Sprintf("%d minutes", minutes)
}
