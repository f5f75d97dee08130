package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// EscalationCooldownActive reports whether an escalation notification for the
// identity is still within the cooldown window. When active, escalatedAt is
// the time of the prior notification.
func (s *Store) EscalationCooldownActive(ctx context.Context, alertName, alertInstance string, cooldown time.Duration) (bool, time.Time, error) {
	var escalatedAt time.Time
	err := s.pool.QueryRow(ctx, `
		SELECT escalated_at FROM escalation_cooldowns
		WHERE alert_name = $1 AND alert_instance = $2`,
		alertName, alertInstance).Scan(&escalatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, time.Time{}, nil
	}
	if err != nil {
		return false, time.Time{}, fmt.Errorf("check escalation cooldown: %w", err)
	}
	if time.Since(escalatedAt) < cooldown {
		return true, escalatedAt.UTC(), nil
	}
	return false, time.Time{}, nil
}

// SetEscalationCooldown records (or refreshes) the escalation timestamp after
// a notification is actually sent.
func (s *Store) SetEscalationCooldown(ctx context.Context, alertName, alertInstance string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO escalation_cooldowns (alert_name, alert_instance, escalated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (alert_name, alert_instance) DO UPDATE SET escalated_at = now()`,
		alertName, alertInstance)
	if err != nil {
		return fmt.Errorf("set escalation cooldown: %w", err)
	}
	return nil
}

// ClearEscalationCooldown removes the cooldown for an identity (alert
// resolved).
func (s *Store) ClearEscalationCooldown(ctx context.Context, alertName, alertInstance string) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM escalation_cooldowns WHERE alert_name = $1 AND alert_instance = $2`,
		alertName, alertInstance)
	if err != nil {
		return fmt.Errorf("clear escalation cooldown: %w", err)
	}
	return nil
}
