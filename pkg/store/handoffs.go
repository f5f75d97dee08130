package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/homelab-ops/remedy/pkg/models"
)

// handoffLockKey serializes handoff creation across concurrent callers via a
// transaction-scoped Postgres advisory lock.
const handoffLockKey = 123456789

// ErrHandoffActive is returned when a non-terminal handoff already exists.
var ErrHandoffActive = errors.New("another self-preservation handoff is already active")

const handoffColumns = `
	handoff_id, restart_target, restart_reason, remediation_context, status,
	callback_url, COALESCE(n8n_execution_id, ''), COALESCE(error_message, ''),
	created_at, completed_at`

func scanHandoff(row pgx.Row) (*models.Handoff, error) {
	var h models.Handoff
	var target, status string
	err := row.Scan(&h.HandoffID, &target, &h.RestartReason, &h.RemediationContext,
		&status, &h.CallbackURL, &h.ExternalExecID, &h.ErrorMessage,
		&h.CreatedAt, &h.CompletedAt)
	if err != nil {
		return nil, err
	}
	h.RestartTarget = models.RestartTarget(target)
	h.Status = models.HandoffStatus(status)
	return &h, nil
}

// CreateHandoff inserts a pending handoff row. The transactional advisory
// lock plus the non-terminal existence check guarantee at most one handoff is
// ever in a non-terminal state, even under concurrent initiation.
func (s *Store) CreateHandoff(ctx context.Context, h *models.Handoff) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin handoff tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, handoffLockKey); err != nil {
		return fmt.Errorf("acquire handoff lock: %w", err)
	}

	var activeID string
	err = tx.QueryRow(ctx, `
		SELECT handoff_id FROM self_preservation_handoffs
		WHERE status IN ('pending', 'in_progress')
		LIMIT 1`).Scan(&activeID)
	if err == nil {
		return fmt.Errorf("%w: %s", ErrHandoffActive, activeID)
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("check active handoff: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO self_preservation_handoffs (
			handoff_id, restart_target, restart_reason, remediation_context,
			status, callback_url
		) VALUES ($1,$2,$3,$4,$5,$6)`,
		h.HandoffID, string(h.RestartTarget), h.RestartReason,
		h.RemediationContext, string(models.HandoffPending), h.CallbackURL)
	if err != nil {
		return fmt.Errorf("insert handoff: %w", err)
	}
	return tx.Commit(ctx)
}

// GetHandoff fetches a handoff by id. Nil when absent.
func (s *Store) GetHandoff(ctx context.Context, handoffID string) (*models.Handoff, error) {
	h, err := scanHandoff(s.pool.QueryRow(ctx,
		`SELECT `+handoffColumns+` FROM self_preservation_handoffs WHERE handoff_id = $1`,
		handoffID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get handoff: %w", err)
	}
	return h, nil
}

// ActiveHandoff returns the current non-terminal handoff, or nil.
func (s *Store) ActiveHandoff(ctx context.Context) (*models.Handoff, error) {
	h, err := scanHandoff(s.pool.QueryRow(ctx,
		`SELECT `+handoffColumns+` FROM self_preservation_handoffs
		 WHERE status IN ('pending', 'in_progress')
		 ORDER BY created_at DESC LIMIT 1`))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query active handoff: %w", err)
	}
	return h, nil
}

// UpdateHandoffStatus transitions a handoff. Terminal transitions stamp
// completed_at.
func (s *Store) UpdateHandoffStatus(ctx context.Context, handoffID string, status models.HandoffStatus, errMsg, externalExecID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE self_preservation_handoffs
		SET status = $2,
		    error_message = NULLIF($3, ''),
		    n8n_execution_id = COALESCE(NULLIF($4, ''), n8n_execution_id),
		    completed_at = CASE WHEN $2 IN ('completed','failed','timeout','cancelled')
		                        THEN now() ELSE completed_at END
		WHERE handoff_id = $1`,
		handoffID, string(status), errMsg, externalExecID)
	if err != nil {
		return fmt.Errorf("update handoff status: %w", err)
	}
	return nil
}

// CleanupStaleHandoffs marks non-terminal handoffs older than maxAge as
// timed out, in bounded batches of 100, and returns the total updated.
func (s *Store) CleanupStaleHandoffs(ctx context.Context, maxAge time.Duration) (int64, error) {
	var total int64
	for {
		tag, err := s.pool.Exec(ctx, `
			UPDATE self_preservation_handoffs
			SET status = 'timeout',
			    error_message = 'stale handoff cleaned up at startup',
			    completed_at = now()
			WHERE handoff_id IN (
				SELECT handoff_id FROM self_preservation_handoffs
				WHERE status IN ('pending', 'in_progress')
				  AND created_at < now() - $1::interval
				LIMIT 100
			)`, maxAge)
		if err != nil {
			return total, fmt.Errorf("cleanup stale handoffs: %w", err)
		}
		total += tag.RowsAffected()
		if tag.RowsAffected() < 100 {
			return total, nil
		}
	}
}
