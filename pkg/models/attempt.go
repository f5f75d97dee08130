package models

import "time"

// RemediationAttempt is one persisted row in remediation_log. Actionable
// attempts and escalation-only markers share the table; IsEscalationMarker
// distinguishes them.
type RemediationAttempt struct {
	ID               int64
	Timestamp        time.Time
	AlertName        string
	AlertInstance    string
	AlertFingerprint string
	Severity         string
	AttemptNumber    int

	AIAnalysis      string
	AIReasoning     string
	RemediationPlan string

	CommandsExecuted []string
	CommandOutputs   []string
	ExitCodes        []int

	Success          bool
	ErrorMessage     string
	DurationSeconds  float64
	RiskLevel        RiskLevel
	Escalated        bool
	UserApproved     bool
	DiscordMessageID string
	DiscordThreadID  string
}

// IsEscalationMarker reports whether the row records an escalation decision
// without any executed commands. Markers never count toward the attempt
// counter.
func (a RemediationAttempt) IsEscalationMarker() bool {
	return a.Escalated && len(a.CommandsExecuted) == 0
}

// ArraysConsistent verifies the parallel command/output/exit-code arrays have
// equal length. A mismatch is a logic invariant violation and the row must
// not be persisted.
func (a RemediationAttempt) ArraysConsistent() bool {
	return len(a.CommandsExecuted) == len(a.CommandOutputs) &&
		len(a.CommandsExecuted) == len(a.ExitCodes)
}
