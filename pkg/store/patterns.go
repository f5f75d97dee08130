package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/homelab-ops/remedy/pkg/models"
)

const patternColumns = `
	id, alert_name, alert_category, symptom_fingerprint, root_cause,
	solution_commands, success_count, failure_count, confidence_score,
	risk_level, usage_count, avg_execution_time, COALESCE(target_host, ''),
	enabled, created_at, updated_at, last_used_at`

func scanPattern(row pgx.Row) (*models.RemediationPattern, error) {
	var p models.RemediationPattern
	var risk string
	err := row.Scan(
		&p.ID, &p.AlertName, &p.Category, &p.SymptomFingerprint, &p.RootCause,
		&p.SolutionCommands, &p.SuccessCount, &p.FailureCount, &p.ConfidenceScore,
		&risk, &p.UsageCount, &p.AvgExecutionTime, &p.TargetHost,
		&p.Enabled, &p.CreatedAt, &p.UpdatedAt, &p.LastUsedAt,
	)
	if err != nil {
		return nil, err
	}
	p.RiskLevel = models.RiskLevel(risk)
	return &p, nil
}

// PatternsForAlert returns enabled patterns matching the alert name.
func (s *Store) PatternsForAlert(ctx context.Context, alertName string) ([]models.RemediationPattern, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+patternColumns+` FROM remediation_patterns
		 WHERE alert_name = $1 AND enabled
		 ORDER BY confidence_score DESC, usage_count DESC`,
		alertName)
	if err != nil {
		return nil, fmt.Errorf("query patterns: %w", err)
	}
	defer rows.Close()
	return collectPatterns(rows)
}

// ListPatterns returns all patterns ordered by confidence then usage.
func (s *Store) ListPatterns(ctx context.Context) ([]models.RemediationPattern, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+patternColumns+` FROM remediation_patterns
		 ORDER BY confidence_score DESC, usage_count DESC`)
	if err != nil {
		return nil, fmt.Errorf("list patterns: %w", err)
	}
	defer rows.Close()
	return collectPatterns(rows)
}

func collectPatterns(rows pgx.Rows) ([]models.RemediationPattern, error) {
	var out []models.RemediationPattern
	for rows.Next() {
		p, err := scanPattern(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pattern: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// GetPattern fetches a single pattern by id. Returns nil when absent.
func (s *Store) GetPattern(ctx context.Context, id int64) (*models.RemediationPattern, error) {
	p, err := scanPattern(s.pool.QueryRow(ctx,
		`SELECT `+patternColumns+` FROM remediation_patterns WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get pattern: %w", err)
	}
	return p, nil
}

// UpsertPatternSuccess records one verified successful remediation for
// (alert_name, symptom_fingerprint). Existing patterns get an incremented
// success count, recomputed Laplace confidence, and the fresh command list;
// new patterns start at success=1.
func (s *Store) UpsertPatternSuccess(ctx context.Context, p *models.RemediationPattern, execTime float64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO remediation_patterns (
			alert_name, alert_category, symptom_fingerprint, root_cause,
			solution_commands, success_count, failure_count, confidence_score,
			risk_level, usage_count, avg_execution_time, target_host, enabled
		) VALUES ($1,$2,$3,$4,$5,1,0,1.0,$6,1,$7,NULLIF($8,''),true)
		ON CONFLICT (alert_name, symptom_fingerprint) DO UPDATE SET
			success_count = remediation_patterns.success_count + 1,
			confidence_score = (remediation_patterns.success_count + 2)::float /
			                   (remediation_patterns.success_count + remediation_patterns.failure_count + 2),
			solution_commands = EXCLUDED.solution_commands,
			root_cause = EXCLUDED.root_cause,
			usage_count = remediation_patterns.usage_count + 1,
			avg_execution_time = (remediation_patterns.avg_execution_time * remediation_patterns.usage_count + $7)
			                     / (remediation_patterns.usage_count + 1),
			updated_at = now(),
			last_used_at = now()`,
		p.AlertName, p.Category, p.SymptomFingerprint, p.RootCause,
		p.SolutionCommands, string(p.RiskLevel), execTime, p.TargetHost)
	if err != nil {
		return fmt.Errorf("upsert pattern: %w", err)
	}
	return nil
}

// RecordPatternOutcome updates success/failure counters and the Laplace
// confidence after a pattern-driven attempt completes.
func (s *Store) RecordPatternOutcome(ctx context.Context, id int64, success bool, execTime float64) error {
	var err error
	if success {
		_, err = s.pool.Exec(ctx, `
			UPDATE remediation_patterns SET
				success_count = success_count + 1,
				confidence_score = (success_count + 2)::float / (success_count + failure_count + 2),
				usage_count = usage_count + 1,
				avg_execution_time = (avg_execution_time * usage_count + $2) / (usage_count + 1),
				updated_at = now(),
				last_used_at = now()
			WHERE id = $1`, id, execTime)
	} else {
		_, err = s.pool.Exec(ctx, `
			UPDATE remediation_patterns SET
				failure_count = failure_count + 1,
				confidence_score = (success_count + 1)::float / (success_count + failure_count + 2),
				usage_count = usage_count + 1,
				updated_at = now(),
				last_used_at = now()
			WHERE id = $1`, id)
	}
	if err != nil {
		return fmt.Errorf("record pattern outcome: %w", err)
	}
	return nil
}

// RecordFailurePattern upserts a failure signature, bumping its counter.
func (s *Store) RecordFailurePattern(ctx context.Context, fp *models.FailurePattern) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO remediation_failures (
			pattern_signature, alert_name, alert_instance, symptom_fingerprint,
			commands_attempted, failure_reason, failure_count, last_failed_at
		) VALUES ($1,$2,$3,NULLIF($4,''),$5,$6,1,now())
		ON CONFLICT (pattern_signature) DO UPDATE SET
			failure_count = remediation_failures.failure_count + 1,
			failure_reason = EXCLUDED.failure_reason,
			last_failed_at = now()`,
		fp.PatternSignature, fp.AlertName, fp.AlertInstance, fp.SymptomFingerprint,
		fp.CommandsAttempted, fp.FailureReason)
	if err != nil {
		return fmt.Errorf("record failure pattern: %w", err)
	}
	return nil
}

// GetFailurePattern fetches a failure record by signature. Nil when absent.
func (s *Store) GetFailurePattern(ctx context.Context, signature string) (*models.FailurePattern, error) {
	var fp models.FailurePattern
	var symptom *string
	err := s.pool.QueryRow(ctx, `
		SELECT pattern_signature, alert_name, alert_instance, symptom_fingerprint,
		       commands_attempted, failure_reason, failure_count, last_failed_at
		FROM remediation_failures WHERE pattern_signature = $1`,
		signature).Scan(&fp.PatternSignature, &fp.AlertName, &fp.AlertInstance, &symptom,
		&fp.CommandsAttempted, &fp.FailureReason, &fp.FailureCount, &fp.LastFailedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get failure pattern: %w", err)
	}
	if symptom != nil {
		fp.SymptomFingerprint = *symptom
	}
	return &fp, nil
}
