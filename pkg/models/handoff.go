package models

import "time"

// RestartTarget identifies what a self-preservation handoff restarts.
type RestartTarget string

// Restart targets.
const (
	RestartTargetEngine       RestartTarget = "engine"
	RestartTargetEngineDB     RestartTarget = "engine_db"
	RestartTargetHost         RestartTarget = "host"
	RestartTargetDockerDaemon RestartTarget = "docker_daemon"
)

// ValidRestartTarget reports whether t is a known restart target.
func ValidRestartTarget(t RestartTarget) bool {
	switch t {
	case RestartTargetEngine, RestartTargetEngineDB, RestartTargetHost, RestartTargetDockerDaemon:
		return true
	}
	return false
}

// HandoffStatus is the lifecycle state of a self-preservation handoff.
type HandoffStatus string

// Handoff statuses. pending and in_progress are non-terminal.
const (
	HandoffPending    HandoffStatus = "pending"
	HandoffInProgress HandoffStatus = "in_progress"
	HandoffCompleted  HandoffStatus = "completed"
	HandoffFailed     HandoffStatus = "failed"
	HandoffTimeout    HandoffStatus = "timeout"
	HandoffCancelled  HandoffStatus = "cancelled"
)

// IsTerminal reports whether the status ends the handoff lifecycle.
func (s HandoffStatus) IsTerminal() bool {
	return s != HandoffPending && s != HandoffInProgress
}

// Handoff is a durable record of an in-flight self-restart, owned exclusively
// by the self-preservation component. At most one non-terminal handoff exists
// at any time.
type Handoff struct {
	HandoffID          string
	RestartTarget      RestartTarget
	RestartReason      string
	RemediationContext []byte // size-capped JSON snapshot
	Status             HandoffStatus
	CallbackURL        string
	ExternalExecID     string
	ErrorMessage       string
	CreatedAt          time.Time
	CompletedAt        *time.Time
}
