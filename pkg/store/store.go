// Package store implements the typed data-access layer over PostgreSQL.
// Every method uses parameterized queries; shared mutable state (fingerprint
// cache, attempt log, escalation cooldowns, handoffs) is only reachable
// through the atomic operations defined here.
package store

import (
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store bundles all DAOs over a single connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a Store over the given pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Pool exposes the underlying pool for health checks.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// utcMillis normalizes a timestamp to UTC with millisecond precision, the
// canonical resolution of all persisted timestamps.
func utcMillis(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

func toInt32(in []int) []int32 {
	out := make([]int32, len(in))
	for i, v := range in {
		out[i] = int32(v)
	}
	return out
}

func fromInt32(in []int32) []int {
	out := make([]int, len(in))
	for i, v := range in {
		out[i] = int(v)
	}
	return out
}
