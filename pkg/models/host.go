package models

import "time"

// HostStatus is the availability state tracked by the host monitor.
type HostStatus string

// Host availability states.
const (
	HostOnline   HostStatus = "ONLINE"
	HostOffline  HostStatus = "OFFLINE"
	HostChecking HostStatus = "CHECKING"
)

// HostStatusRecord is a snapshot of a host state transition, persisted to
// host_status_log.
type HostStatusRecord struct {
	Host          string
	Status        HostStatus
	FailureCount  int
	LastSuccessAt *time.Time
	LastCheckAt   *time.Time
	ErrorMessage  string
	RecordedAt    time.Time
}

// Snapshot is the recorded state of a container or service just before a
// remediation touched it, kept so a human can see what changed when a fix
// goes wrong. Old entries are reaped periodically.
type Snapshot struct {
	SnapshotID   string
	Host         string
	TargetType   string // container | service
	TargetName   string
	StateData    []byte // JSON
	AlertContext string
	CreatedAt    time.Time
}

// ProactiveCheck is a persisted finding from the periodic predictive monitor.
type ProactiveCheck struct {
	ID          int64
	CheckType   string
	Target      string
	Finding     string
	ActionTaken string
	CreatedAt   time.Time
}
