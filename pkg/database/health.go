package database

import (
	"context"
	"time"
)

// HealthStatus reports connectivity and pool statistics for the health
// endpoint.
type HealthStatus struct {
	Status         string `json:"status"`
	ResponseTimeMS int64  `json:"response_time_ms"`
	TotalConns     int32  `json:"total_conns"`
	AcquiredConns  int32  `json:"acquired_conns"`
	IdleConns      int32  `json:"idle_conns"`
	MaxConns       int32  `json:"max_conns"`
}

// Health pings the database and returns pool statistics.
func (c *Client) Health(ctx context.Context) (*HealthStatus, error) {
	start := time.Now()
	if err := c.pool.Ping(ctx); err != nil {
		return &HealthStatus{
			Status:         "unhealthy",
			ResponseTimeMS: time.Since(start).Milliseconds(),
		}, err
	}
	stat := c.pool.Stat()
	return &HealthStatus{
		Status:         "healthy",
		ResponseTimeMS: time.Since(start).Milliseconds(),
		TotalConns:     stat.TotalConns(),
		AcquiredConns:  stat.AcquiredConns(),
		IdleConns:      stat.IdleConns(),
		MaxConns:       stat.MaxConns(),
	}, nil
}
