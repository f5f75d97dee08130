package preserve

import (
	"encoding/json"
	"fmt"
)

// Truncation caps for the serialized remediation context.
const (
	maxContextCommands  = 50
	maxOutputBytes      = 10 << 10
	maxAITextBytes      = 20 << 10
	maxSelfRestartsHard = 10 // absolute ceiling regardless of config
)

// RemediationContext is the size-capped snapshot of an in-flight attempt
// that survives an engine restart.
type RemediationContext struct {
	AlertName        string   `json:"alert_name"`
	AlertInstance    string   `json:"alert_instance"`
	AlertFingerprint string   `json:"alert_fingerprint"`
	AttemptNumber    int      `json:"attempt_number"`
	CommandsExecuted []string `json:"commands_executed"`
	CommandOutputs   []string `json:"command_outputs"`
	ExitCodes        []int    `json:"exit_codes"`
	AIAnalysis       string   `json:"ai_analysis"`
	AIReasoning      string   `json:"ai_reasoning"`
	PendingCommands  []string `json:"pending_commands"`
	RiskLevel        string   `json:"risk_level,omitempty"`
	RestartCount     int      `json:"restart_count"`
}

// marshalContext serializes the context with the truncation rules applied.
// If serialization still fails, a minimal safe subset is stored instead.
func marshalContext(rc *RemediationContext) []byte {
	capped := *rc
	if len(capped.CommandsExecuted) > maxContextCommands {
		capped.CommandsExecuted = capped.CommandsExecuted[:maxContextCommands]
	}
	if len(capped.PendingCommands) > maxContextCommands {
		capped.PendingCommands = capped.PendingCommands[:maxContextCommands]
	}
	outputs := make([]string, 0, len(capped.CommandOutputs))
	for i, out := range capped.CommandOutputs {
		if i >= maxContextCommands {
			break
		}
		if len(out) > maxOutputBytes {
			out = out[:maxOutputBytes]
		}
		outputs = append(outputs, out)
	}
	capped.CommandOutputs = outputs
	if len(capped.ExitCodes) > maxContextCommands {
		capped.ExitCodes = capped.ExitCodes[:maxContextCommands]
	}
	if len(capped.AIAnalysis) > maxAITextBytes {
		capped.AIAnalysis = capped.AIAnalysis[:maxAITextBytes]
	}
	if len(capped.AIReasoning) > maxAITextBytes {
		capped.AIReasoning = capped.AIReasoning[:maxAITextBytes]
	}

	data, err := json.Marshal(&capped)
	if err == nil {
		return data
	}

	minimal := RemediationContext{
		AlertName:        rc.AlertName,
		AlertInstance:    rc.AlertInstance,
		AlertFingerprint: rc.AlertFingerprint,
		AttemptNumber:    rc.AttemptNumber,
		RestartCount:     rc.RestartCount,
	}
	data, err = json.Marshal(&minimal)
	if err != nil {
		// Plain struct of strings and ints; this cannot fail.
		return []byte(fmt.Sprintf(`{"alert_name":%q,"restart_count":%d}`, rc.AlertName, rc.RestartCount))
	}
	return data
}
