package models

import (
	"strings"
	"time"
)

// MaintenanceWindow suppresses remediation for one host (or all hosts when
// Host is empty) while active. Active iff IsActive and EndedAt is unset.
type MaintenanceWindow struct {
	ID              int64
	Host            string // empty = global window
	StartedAt       time.Time
	EndedAt         *time.Time
	IsActive        bool
	Reason          string
	CreatedBy       string
	SuppressedCount int
}

// Matches reports whether the window applies to the given host.
func (w MaintenanceWindow) Matches(host string) bool {
	return w.Host == "" || strings.EqualFold(w.Host, host)
}
