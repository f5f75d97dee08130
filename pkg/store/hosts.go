package store

import (
	"context"
	"fmt"
	"time"

	"github.com/homelab-ops/remedy/pkg/models"
)

// RecordHostStatus appends a host state transition to host_status_log.
func (s *Store) RecordHostStatus(ctx context.Context, r *models.HostStatusRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO host_status_log (host, status, failure_count, last_success_at, last_check_at, error_message)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		r.Host, string(r.Status), r.FailureCount, r.LastSuccessAt, r.LastCheckAt, r.ErrorMessage)
	if err != nil {
		return fmt.Errorf("record host status: %w", err)
	}
	return nil
}

// SaveSnapshot persists a pre-remediation state snapshot.
func (s *Store) SaveSnapshot(ctx context.Context, snap *models.Snapshot) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO state_snapshots (snapshot_id, host, target_type, target_name, state_data, alert_context)
		VALUES ($1,$2,$3,$4,$5,NULLIF($6,''))`,
		snap.SnapshotID, snap.Host, snap.TargetType, snap.TargetName, snap.StateData, snap.AlertContext)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// ReapSnapshots deletes snapshots older than maxAge.
func (s *Store) ReapSnapshots(ctx context.Context, maxAge time.Duration) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM state_snapshots WHERE created_at < now() - $1::interval`, maxAge)
	if err != nil {
		return 0, fmt.Errorf("reap snapshots: %w", err)
	}
	return tag.RowsAffected(), nil
}

// RecordProactiveCheck persists a finding from the predictive monitor.
func (s *Store) RecordProactiveCheck(ctx context.Context, c *models.ProactiveCheck) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO proactive_checks (check_type, target, finding, action_taken)
		VALUES ($1,$2,$3,NULLIF($4,''))`,
		c.CheckType, c.Target, c.Finding, c.ActionTaken)
	if err != nil {
		return fmt.Errorf("record proactive check: %w", err)
	}
	return nil
}

// RecentProactiveChecks lists findings newer than the window, newest first.
func (s *Store) RecentProactiveChecks(ctx context.Context, window time.Duration, limit int) ([]models.ProactiveCheck, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, check_type, target, finding, COALESCE(action_taken, ''), created_at
		FROM proactive_checks
		WHERE created_at >= now() - $1::interval
		ORDER BY created_at DESC
		LIMIT $2`, window, limit)
	if err != nil {
		return nil, fmt.Errorf("query proactive checks: %w", err)
	}
	defer rows.Close()

	var out []models.ProactiveCheck
	for rows.Next() {
		var c models.ProactiveCheck
		if err := rows.Scan(&c.ID, &c.CheckType, &c.Target, &c.Finding, &c.ActionTaken, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan proactive check: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
