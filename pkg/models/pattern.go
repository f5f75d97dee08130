package models

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"
)

// RemediationPattern is a learned (alert_name, symptom_fingerprint) →
// commands mapping with Laplace-smoothed confidence statistics.
type RemediationPattern struct {
	ID                 int64
	AlertName          string
	Category           string
	SymptomFingerprint string
	RootCause          string
	SolutionCommands   []string
	SuccessCount       int
	FailureCount       int
	ConfidenceScore    float64
	RiskLevel          RiskLevel
	UsageCount         int
	AvgExecutionTime   float64
	TargetHost         string // empty = generic pattern
	Enabled            bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
	LastUsedAt         time.Time
}

// LaplaceConfidence computes (success+1)/(success+failure+1), the smoothed
// confidence used after every recorded outcome.
func LaplaceConfidence(success, failure int) float64 {
	return float64(success+1) / float64(success+failure+1)
}

// FailurePattern records a command set that verifiably failed to clear an
// alert, keyed by a deterministic signature.
type FailurePattern struct {
	PatternSignature   string
	AlertName          string
	AlertInstance      string
	SymptomFingerprint string
	CommandsAttempted  []string
	FailureReason      string
	FailureCount       int
	LastFailedAt       time.Time
}

// FailureSignature hashes alert_name plus the sorted command list so the same
// failing fix is recognized regardless of command order.
func FailureSignature(alertName string, commands []string) string {
	sorted := make([]string, len(commands))
	copy(sorted, commands)
	sort.Strings(sorted)
	h := sha256.Sum256([]byte(alertName + "|" + strings.Join(sorted, "|")))
	return hex.EncodeToString(h[:16])
}
