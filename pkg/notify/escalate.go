package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/homelab-ops/remedy/pkg/models"
)

// maxSummaryAttempts caps how many past attempts the escalation message
// summarizes.
const maxSummaryAttempts = 3

// EscalationStore is the persistence surface the escalator needs.
// *store.Store satisfies it.
type EscalationStore interface {
	EscalationCooldownActive(ctx context.Context, alertName, alertInstance string, cooldown time.Duration) (bool, time.Time, error)
	SetEscalationCooldown(ctx context.Context, alertName, alertInstance string) error
	RecentAttempts(ctx context.Context, alertName, alertInstance string, limit int) ([]models.RemediationAttempt, error)
	LogAttempt(ctx context.Context, a *models.RemediationAttempt) (int64, error)
}

// Escalator hands an alert to a human when automation is exhausted, rate
// limited by a per-identity cooldown.
type Escalator struct {
	store    EscalationStore
	notifier *Service
	cooldown time.Duration
}

// NewEscalator creates an Escalator. notifier may be nil.
func NewEscalator(store EscalationStore, notifier *Service, cooldown time.Duration) *Escalator {
	if cooldown <= 0 {
		cooldown = 4 * time.Hour
	}
	return &Escalator{store: store, notifier: notifier, cooldown: cooldown}
}

// Escalate notifies a human about the alert unless the identity is inside
// its escalation cooldown. The escalation-only marker row is written in
// either case so the decision is durable; markers never count as attempts.
func (e *Escalator) Escalate(ctx context.Context, alert *models.Alert, attemptCount int, reasoning, reason string) error {
	active, since, err := e.store.EscalationCooldownActive(ctx, alert.Name, alert.Instance, e.cooldown)
	if err != nil {
		slog.Warn("escalation cooldown check failed, proceeding with notification",
			"alert", alert.Name, "error", err)
	}

	notified := false
	if !active {
		message := e.buildMessage(ctx, alert, attemptCount, reasoning, reason)
		if err := e.notifier.NotifyDanger(ctx, "Escalation: "+alert.Name, message); err != nil {
			slog.Warn("escalation notification failed", "alert", alert.Name, "error", err)
		} else {
			notified = true
			if err := e.store.SetEscalationCooldown(ctx, alert.Name, alert.Instance); err != nil {
				slog.Warn("failed to set escalation cooldown", "alert", alert.Name, "error", err)
			}
		}
	} else {
		slog.Info("escalation notification suppressed by cooldown",
			"alert", alert.Name, "instance", alert.Instance, "cooldown_since", since)
	}

	marker := &models.RemediationAttempt{
		AlertName:        alert.Name,
		AlertInstance:    alert.Instance,
		AlertFingerprint: alert.Fingerprint,
		Severity:         alert.Severity,
		AttemptNumber:    attemptCount,
		AIReasoning:      reasoning,
		ErrorMessage:     reason,
		Escalated:        true,
		CommandsExecuted: []string{},
		CommandOutputs:   []string{},
		ExitCodes:        []int{},
	}
	if _, err := e.store.LogAttempt(ctx, marker); err != nil {
		return fmt.Errorf("write escalation marker for %s: %w", alert.Name, err)
	}
	slog.Info("alert escalated",
		"alert", alert.Name, "instance", alert.Instance,
		"attempts", attemptCount, "notified", notified)
	return nil
}

// buildMessage renders the escalation body: identity, attempt count, a
// summary of the last attempts, and the agent's final reasoning.
func (e *Escalator) buildMessage(ctx context.Context, alert *models.Alert, attemptCount int, reasoning, reason string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**Alert:** %s (%s)\n", alert.Name, alert.Instance)
	fmt.Fprintf(&b, "**Reason:** %s\n", reason)
	fmt.Fprintf(&b, "**Attempts:** %d\n", attemptCount)

	attempts, err := e.store.RecentAttempts(ctx, alert.Name, alert.Instance, maxSummaryAttempts)
	if err != nil {
		slog.Warn("could not load attempt history for escalation", "alert", alert.Name, "error", err)
	}
	if len(attempts) > 0 {
		b.WriteString("\n**Recent attempts:**\n")
		for _, a := range attempts {
			outcome := "failed"
			if a.Success {
				outcome = "succeeded"
			}
			fmt.Fprintf(&b, "- #%d %s: `%s`\n",
				a.AttemptNumber, outcome, strings.Join(a.CommandsExecuted, "`, `"))
		}
	}
	if reasoning != "" {
		fmt.Fprintf(&b, "\n**Last analysis:**\n%s\n", reasoning)
	}
	return b.String()
}
