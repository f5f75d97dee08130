package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/homelab-ops/remedy/pkg/models"
)

// StartMaintenanceWindow opens a window for a host ("" = global). Any
// existing active window for the same scope is ended first inside the same
// transaction, so at most one active window per host exists by construction.
func (s *Store) StartMaintenanceWindow(ctx context.Context, host, reason, createdBy string) (*models.MaintenanceWindow, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin maintenance tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		UPDATE maintenance_windows
		SET is_active = false, ended_at = now()
		WHERE is_active AND ended_at IS NULL AND COALESCE(host, '') = $1`,
		host)
	if err != nil {
		return nil, fmt.Errorf("end previous window: %w", err)
	}

	var w models.MaintenanceWindow
	err = tx.QueryRow(ctx, `
		INSERT INTO maintenance_windows (host, reason, created_by)
		VALUES (NULLIF($1, ''), $2, $3)
		RETURNING id, COALESCE(host, ''), started_at, is_active, reason, created_by`,
		host, reason, createdBy,
	).Scan(&w.ID, &w.Host, &w.StartedAt, &w.IsActive, &w.Reason, &w.CreatedBy)
	if err != nil {
		return nil, fmt.Errorf("insert maintenance window: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit maintenance tx: %w", err)
	}
	return &w, nil
}

// EndMaintenanceWindow closes the active window for the given scope and
// returns it, or nil when no window was active.
func (s *Store) EndMaintenanceWindow(ctx context.Context, host string) (*models.MaintenanceWindow, error) {
	var w models.MaintenanceWindow
	row := s.pool.QueryRow(ctx, `
		UPDATE maintenance_windows
		SET is_active = false, ended_at = now()
		WHERE is_active AND ended_at IS NULL AND COALESCE(host, '') = $1
		RETURNING id, COALESCE(host, ''), started_at, ended_at, is_active, reason, created_by, suppressed_alert_count`,
		host)
	err := row.Scan(&w.ID, &w.Host, &w.StartedAt, &w.EndedAt, &w.IsActive, &w.Reason, &w.CreatedBy, &w.SuppressedCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("end maintenance window: %w", err)
	}
	return &w, nil
}

// ActiveMaintenanceWindowFor returns the active window matching the host:
// host-specific first, then a global window. Nil when none match.
func (s *Store) ActiveMaintenanceWindowFor(ctx context.Context, host string) (*models.MaintenanceWindow, error) {
	var w models.MaintenanceWindow
	err := s.pool.QueryRow(ctx, `
		SELECT id, COALESCE(host, ''), started_at, ended_at, is_active, reason, created_by, suppressed_alert_count
		FROM maintenance_windows
		WHERE is_active AND ended_at IS NULL
		  AND (host IS NULL OR lower(host) = lower($1))
		ORDER BY host NULLS LAST
		LIMIT 1`,
		host).Scan(&w.ID, &w.Host, &w.StartedAt, &w.EndedAt, &w.IsActive, &w.Reason, &w.CreatedBy, &w.SuppressedCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query active maintenance window: %w", err)
	}
	return &w, nil
}

// ListMaintenanceWindows returns all windows, newest first.
func (s *Store) ListMaintenanceWindows(ctx context.Context, limit int) ([]models.MaintenanceWindow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, COALESCE(host, ''), started_at, ended_at, is_active, reason, created_by, suppressed_alert_count
		FROM maintenance_windows
		ORDER BY started_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list maintenance windows: %w", err)
	}
	defer rows.Close()

	var out []models.MaintenanceWindow
	for rows.Next() {
		var w models.MaintenanceWindow
		if err := rows.Scan(&w.ID, &w.Host, &w.StartedAt, &w.EndedAt, &w.IsActive, &w.Reason, &w.CreatedBy, &w.SuppressedCount); err != nil {
			return nil, fmt.Errorf("scan maintenance window: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// IncrementSuppressedCount bumps the suppressed-alert counter of a window.
func (s *Store) IncrementSuppressedCount(ctx context.Context, windowID int64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE maintenance_windows
		SET suppressed_alert_count = suppressed_alert_count + 1
		WHERE id = $1`, windowID)
	if err != nil {
		return fmt.Errorf("increment suppressed count: %w", err)
	}
	return nil
}
