package store

import (
	"context"
	"fmt"
	"time"
)

// ClaimFingerprint is the atomic check-and-set backing alert deduplication.
//
// One INSERT ... ON CONFLICT DO UPDATE ... WHERE statement either claims the
// fingerprint (fresh row, or an existing row older than the cooldown) or
// claims nothing. Two identical concurrent webhooks therefore race on a
// single row write and exactly one wins. Returns claimed=true when this
// caller may process the alert; otherwise lastProcessed carries the existing
// processed_at for the deduplicated response.
func (s *Store) ClaimFingerprint(ctx context.Context, fingerprint, alertName, alertInstance string, cooldown time.Duration) (claimed bool, lastProcessed time.Time, err error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO alert_processing_cache (fingerprint, alert_name, alert_instance, processed_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (fingerprint) DO UPDATE
		SET alert_name = EXCLUDED.alert_name,
		    alert_instance = EXCLUDED.alert_instance,
		    processed_at = now()
		WHERE alert_processing_cache.processed_at <= now() - $4::interval`,
		fingerprint, alertName, alertInstance, cooldown)
	if err != nil {
		return false, time.Time{}, fmt.Errorf("claim fingerprint: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return true, time.Time{}, nil
	}

	// Lost the claim: report the winner's processed_at (advisory only).
	err = s.pool.QueryRow(ctx,
		`SELECT processed_at FROM alert_processing_cache WHERE fingerprint = $1`,
		fingerprint).Scan(&lastProcessed)
	if err != nil {
		return false, time.Time{}, fmt.Errorf("read fingerprint cache: %w", err)
	}
	return false, lastProcessed.UTC(), nil
}

// ReapFingerprints removes cache entries older than maxAge and returns how
// many were deleted.
func (s *Store) ReapFingerprints(ctx context.Context, maxAge time.Duration) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM alert_processing_cache WHERE processed_at < now() - $1::interval`,
		maxAge)
	if err != nil {
		return 0, fmt.Errorf("reap fingerprint cache: %w", err)
	}
	return tag.RowsAffected(), nil
}
