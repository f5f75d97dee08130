package store

import (
	"context"
	"fmt"
	"time"

	"github.com/homelab-ops/remedy/pkg/models"
)

// ErrArrayMismatch indicates the parallel command/output/exit-code arrays
// disagree in length. The row is rejected rather than persisted skewed.
var ErrArrayMismatch = fmt.Errorf("commands_executed, command_outputs and exit_codes must have equal length")

// LogAttempt persists one remediation attempt (or escalation-only marker).
func (s *Store) LogAttempt(ctx context.Context, a *models.RemediationAttempt) (int64, error) {
	if !a.ArraysConsistent() {
		return 0, ErrArrayMismatch
	}
	ts := a.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO remediation_log (
			timestamp, alert_name, alert_instance, alert_fingerprint, severity,
			attempt_number, ai_analysis, ai_reasoning, remediation_plan,
			commands_executed, command_outputs, exit_codes,
			success, error_message, execution_duration_seconds, risk_level,
			escalated, user_approved, discord_message_id, discord_thread_id
		) VALUES (
			$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20
		) RETURNING id`,
		utcMillis(ts), a.AlertName, a.AlertInstance, a.AlertFingerprint, a.Severity,
		a.AttemptNumber, a.AIAnalysis, a.AIReasoning, a.RemediationPlan,
		a.CommandsExecuted, a.CommandOutputs, toInt32(a.ExitCodes),
		a.Success, a.ErrorMessage, a.DurationSeconds, string(a.RiskLevel),
		a.Escalated, a.UserApproved, a.DiscordMessageID, a.DiscordThreadID,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert remediation attempt: %w", err)
	}
	return id, nil
}

// GetAttemptCount counts actionable attempts for an alert identity within the
// window. Escalation-only markers (escalated with no executed commands) are
// excluded; COALESCE keeps the predicate NULL-safe for legacy rows.
func (s *Store) GetAttemptCount(ctx context.Context, alertName, alertInstance string, window time.Duration) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM remediation_log
		WHERE alert_name = $1
		  AND alert_instance = $2
		  AND timestamp >= now() - $3::interval
		  AND NOT (escalated AND COALESCE(array_length(commands_executed, 1), 0) = 0)`,
		alertName, alertInstance, window,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count attempts: %w", err)
	}
	return count, nil
}

// RecentAttempts returns the newest attempts for an alert identity, most
// recent first, capped at limit. Used for escalation context summaries.
func (s *Store) RecentAttempts(ctx context.Context, alertName, alertInstance string, limit int) ([]models.RemediationAttempt, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, timestamp, alert_name, alert_instance, alert_fingerprint, severity,
		       attempt_number, ai_analysis, ai_reasoning, remediation_plan,
		       commands_executed, command_outputs, exit_codes,
		       success, error_message, execution_duration_seconds, risk_level,
		       escalated, user_approved, discord_message_id, discord_thread_id
		FROM remediation_log
		WHERE alert_name = $1 AND alert_instance = $2
		ORDER BY timestamp DESC
		LIMIT $3`,
		alertName, alertInstance, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent attempts: %w", err)
	}
	defer rows.Close()
	return scanAttempts(rows)
}

// AttemptsSince returns all attempts across identities newer than the cutoff,
// newest first. The correlator uses this as its recent-alerts window.
func (s *Store) AttemptsSince(ctx context.Context, window time.Duration) ([]models.RemediationAttempt, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, timestamp, alert_name, alert_instance, alert_fingerprint, severity,
		       attempt_number, ai_analysis, ai_reasoning, remediation_plan,
		       commands_executed, command_outputs, exit_codes,
		       success, error_message, execution_duration_seconds, risk_level,
		       escalated, user_approved, discord_message_id, discord_thread_id
		FROM remediation_log
		WHERE timestamp >= now() - $1::interval
		ORDER BY timestamp DESC`,
		window)
	if err != nil {
		return nil, fmt.Errorf("query attempts since: %w", err)
	}
	defer rows.Close()
	return scanAttempts(rows)
}

// ClearAttempts deletes attempt rows for an identity newer than the given
// horizon. Called when the alert source reports the alert resolved.
func (s *Store) ClearAttempts(ctx context.Context, alertName, alertInstance string, horizon time.Duration) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM remediation_log
		WHERE alert_name = $1 AND alert_instance = $2
		  AND timestamp >= now() - $3::interval`,
		alertName, alertInstance, horizon)
	if err != nil {
		return 0, fmt.Errorf("clear attempts: %w", err)
	}
	return tag.RowsAffected(), nil
}

type pgxRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanAttempts(rows pgxRows) ([]models.RemediationAttempt, error) {
	var out []models.RemediationAttempt
	for rows.Next() {
		var a models.RemediationAttempt
		var exitCodes []int32
		var risk string
		if err := rows.Scan(
			&a.ID, &a.Timestamp, &a.AlertName, &a.AlertInstance, &a.AlertFingerprint, &a.Severity,
			&a.AttemptNumber, &a.AIAnalysis, &a.AIReasoning, &a.RemediationPlan,
			&a.CommandsExecuted, &a.CommandOutputs, &exitCodes,
			&a.Success, &a.ErrorMessage, &a.DurationSeconds, &risk,
			&a.Escalated, &a.UserApproved, &a.DiscordMessageID, &a.DiscordThreadID,
		); err != nil {
			return nil, fmt.Errorf("scan attempt row: %w", err)
		}
		a.ExitCodes = fromInt32(exitCodes)
		a.RiskLevel = models.RiskLevel(risk)
		out = append(out, a)
	}
	return out, rows.Err()
}
