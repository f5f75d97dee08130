// Package alertqueue buffers remediation records in memory while the
// database is unreachable. A background drainer flushes the buffer once the
// database recovers, so attempt history survives short outages.
package alertqueue

import (
	"log/slog"
	"sync"

	"github.com/homelab-ops/remedy/pkg/models"
)

// Queue is a bounded FIFO of attempt records awaiting persistence. When the
// buffer is full, the oldest record is dropped to admit the new one.
type Queue struct {
	mu       sync.Mutex
	items    []*models.RemediationAttempt
	capacity int
	dropped  uint64
}

// NewQueue creates a Queue with the given capacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 500
	}
	return &Queue{capacity: capacity}
}

// Enqueue appends a record, evicting the oldest one if the queue is full.
func (q *Queue) Enqueue(a *models.RemediationAttempt) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) >= q.capacity {
		q.items = q.items[1:]
		q.dropped++
		slog.Warn("alert queue full, dropped oldest record",
			"capacity", q.capacity, "total_dropped", q.dropped)
	}
	q.items = append(q.items, a)
}

// Dequeue removes and returns up to n records from the head.
func (q *Queue) Dequeue(n int) []*models.RemediationAttempt {
	q.mu.Lock()
	defer q.mu.Unlock()
	if n > len(q.items) {
		n = len(q.items)
	}
	batch := q.items[:n]
	q.items = append([]*models.RemediationAttempt(nil), q.items[n:]...)
	return batch
}

// Requeue puts records back at the head, preserving order. Used when a drain
// batch fails partway through.
func (q *Queue) Requeue(batch []*models.RemediationAttempt) {
	if len(batch) == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(batch, q.items...)
	if over := len(q.items) - q.capacity; over > 0 {
		q.items = q.items[:q.capacity]
		q.dropped += uint64(over)
	}
}

// Len returns the number of buffered records.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Dropped returns the total number of records evicted since start.
func (q *Queue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Stats is a point-in-time view for the health endpoint.
type Stats struct {
	Depth    int    `json:"depth"`
	Capacity int    `json:"capacity"`
	Dropped  uint64 `json:"dropped"`
}

// Stats returns the current queue statistics.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{Depth: len(q.items), Capacity: q.capacity, Dropped: q.dropped}
}
