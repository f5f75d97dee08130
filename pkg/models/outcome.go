package models

// Outcome is the terminal state of a single alert's trip through the
// remediation pipeline. The HTTP layer maps each value to a response.
type Outcome string

// Pipeline outcomes.
const (
	OutcomeRemediated     Outcome = "remediated"
	OutcomeFailed         Outcome = "failed"
	OutcomeEscalated      Outcome = "escalated"
	OutcomeSuppressed     Outcome = "suppressed"
	OutcomeSkipped        Outcome = "skipped"
	OutcomeRejected       Outcome = "rejected"
	OutcomeDeduplicated   Outcome = "deduplicated"
	OutcomeDiagnosticOnly Outcome = "diagnostic_only"
	OutcomeNoAction       Outcome = "no_action"
	OutcomeError          Outcome = "error"
)

// RiskLevel classifies the blast radius of a remediation plan.
type RiskLevel string

// Risk levels, ordered low < medium < high.
const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

var riskOrder = map[RiskLevel]int{RiskLow: 0, RiskMedium: 1, RiskHigh: 2}

// MaxRisk returns the higher of two risk levels. Unknown levels are treated
// as high.
func MaxRisk(a, b RiskLevel) RiskLevel {
	ra, ok := riskOrder[a]
	if !ok {
		return RiskHigh
	}
	rb, ok := riskOrder[b]
	if !ok {
		return RiskHigh
	}
	if ra >= rb {
		return a
	}
	return b
}

// ParseRiskLevel normalizes a free-form risk string; anything unrecognized
// maps to high (the conservative default for LLM output).
func ParseRiskLevel(s string) RiskLevel {
	switch RiskLevel(s) {
	case RiskLow, RiskMedium, RiskHigh:
		return RiskLevel(s)
	}
	return RiskHigh
}
