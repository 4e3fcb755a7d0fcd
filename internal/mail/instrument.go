// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Accountd Contributors

package mail

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/accountd/accountd/internal/account"
)

// InstrumentedNotifier wraps another Notifier and counts every dispatch by
// kind and outcome.
type InstrumentedNotifier struct {
	next       account.Notifier
	dispatches *prometheus.CounterVec
}

var _ account.Notifier = (*InstrumentedNotifier)(nil)

// Instrument wraps next so every dispatch increments dispatches with a kind
// label (verification, password_reset) and an outcome label (sent, failed).
func Instrument(next account.Notifier, dispatches *prometheus.CounterVec) *InstrumentedNotifier {
	return &InstrumentedNotifier{next: next, dispatches: dispatches}
}

// SendVerification delegates to the wrapped Notifier and records the outcome.
func (n *InstrumentedNotifier) SendVerification(ctx context.Context, email, token string) error {
	err := n.next.SendVerification(ctx, email, token)
	n.dispatches.WithLabelValues("verification", dispatchOutcome(err)).Inc()
	return err
}

// SendPasswordReset delegates to the wrapped Notifier and records the outcome.
func (n *InstrumentedNotifier) SendPasswordReset(ctx context.Context, email, token string) error {
	err := n.next.SendPasswordReset(ctx, email, token)
	n.dispatches.WithLabelValues("password_reset", dispatchOutcome(err)).Inc()
	return err
}

func dispatchOutcome(err error) string {
	if err != nil {
		return "failed"
	}
	return "sent"
}
