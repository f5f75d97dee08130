package store

import (
	"context"
	"fmt"
	"time"
)

// DailyOutcome aggregates attempt outcomes for one day.
type DailyOutcome struct {
	Day       time.Time `json:"day"`
	Total     int       `json:"total"`
	Succeeded int       `json:"succeeded"`
	Failed    int       `json:"failed"`
	Escalated int       `json:"escalated"`
}

// AlertFrequency counts attempts per alert name.
type AlertFrequency struct {
	AlertName string `json:"alert_name"`
	Count     int    `json:"count"`
}

// Statistics summarizes remediation outcomes over a trailing number of days.
type Statistics struct {
	Days          int              `json:"days"`
	TotalAttempts int              `json:"total_attempts"`
	Succeeded     int              `json:"succeeded"`
	Failed        int              `json:"failed"`
	Escalations   int              `json:"escalations"`
	SuccessRate   float64          `json:"success_rate"`
	ByDay         []DailyOutcome   `json:"by_day"`
	TopAlerts     []AlertFrequency `json:"top_alerts"`
}

// GetStatistics computes aggregate outcome statistics. Escalation-only
// markers count as escalations, not as attempts.
func (s *Store) GetStatistics(ctx context.Context, days int) (*Statistics, error) {
	if days <= 0 {
		days = 7
	}
	stats := &Statistics{Days: days}
	window := time.Duration(days) * 24 * time.Hour

	err := s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE NOT (escalated AND COALESCE(array_length(commands_executed, 1), 0) = 0)),
			COUNT(*) FILTER (WHERE success),
			COUNT(*) FILTER (WHERE NOT success AND NOT (escalated AND COALESCE(array_length(commands_executed, 1), 0) = 0)),
			COUNT(*) FILTER (WHERE escalated)
		FROM remediation_log
		WHERE timestamp >= now() - $1::interval`,
		window).Scan(&stats.TotalAttempts, &stats.Succeeded, &stats.Failed, &stats.Escalations)
	if err != nil {
		return nil, fmt.Errorf("aggregate statistics: %w", err)
	}
	if stats.TotalAttempts > 0 {
		stats.SuccessRate = float64(stats.Succeeded) / float64(stats.TotalAttempts)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT date_trunc('day', timestamp) AS day,
		       COUNT(*),
		       COUNT(*) FILTER (WHERE success),
		       COUNT(*) FILTER (WHERE NOT success),
		       COUNT(*) FILTER (WHERE escalated)
		FROM remediation_log
		WHERE timestamp >= now() - $1::interval
		GROUP BY day ORDER BY day DESC`,
		window)
	if err != nil {
		return nil, fmt.Errorf("daily statistics: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var d DailyOutcome
		if err := rows.Scan(&d.Day, &d.Total, &d.Succeeded, &d.Failed, &d.Escalated); err != nil {
			return nil, fmt.Errorf("scan daily outcome: %w", err)
		}
		stats.ByDay = append(stats.ByDay, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	topRows, err := s.pool.Query(ctx, `
		SELECT alert_name, COUNT(*) AS c
		FROM remediation_log
		WHERE timestamp >= now() - $1::interval
		GROUP BY alert_name ORDER BY c DESC
		LIMIT 10`, window)
	if err != nil {
		return nil, fmt.Errorf("top alerts: %w", err)
	}
	defer topRows.Close()
	for topRows.Next() {
		var f AlertFrequency
		if err := topRows.Scan(&f.AlertName, &f.Count); err != nil {
			return nil, fmt.Errorf("scan alert frequency: %w", err)
		}
		stats.TopAlerts = append(stats.TopAlerts, f)
	}
	return stats, topRows.Err()
}

// Analytics is the aggregated snapshot served at /analytics.
type Analytics struct {
	PatternCount        int     `json:"pattern_count"`
	EnabledPatterns     int     `json:"enabled_patterns"`
	AvgConfidence       float64 `json:"avg_confidence"`
	FailureSignatures   int     `json:"failure_signatures"`
	AttemptsLast24h     int     `json:"attempts_last_24h"`
	EscalationsLast24h  int     `json:"escalations_last_24h"`
	ActiveMaintWindows  int     `json:"active_maintenance_windows"`
}

// GetAnalytics computes the aggregated analytics snapshot.
func (s *Store) GetAnalytics(ctx context.Context) (*Analytics, error) {
	a := &Analytics{}
	err := s.pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM remediation_patterns),
			(SELECT COUNT(*) FROM remediation_patterns WHERE enabled),
			(SELECT COALESCE(AVG(confidence_score), 0) FROM remediation_patterns WHERE enabled),
			(SELECT COUNT(*) FROM remediation_failures),
			(SELECT COUNT(*) FROM remediation_log WHERE timestamp >= now() - interval '24 hours'
				AND NOT (escalated AND COALESCE(array_length(commands_executed, 1), 0) = 0)),
			(SELECT COUNT(*) FROM remediation_log WHERE timestamp >= now() - interval '24 hours' AND escalated),
			(SELECT COUNT(*) FROM maintenance_windows WHERE is_active AND ended_at IS NULL)`).
		Scan(&a.PatternCount, &a.EnabledPatterns, &a.AvgConfidence, &a.FailureSignatures,
			&a.AttemptsLast24h, &a.EscalationsLast24h, &a.ActiveMaintWindows)
	if err != nil {
		return nil, fmt.Errorf("aggregate analytics: %w", err)
	}
	return a, nil
}
