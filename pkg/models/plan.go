package models

// RemediationPlan is the engine-internal plan for fixing one alert, produced
// either by the LLM agent's final JSON or synthesized from a learned pattern.
type RemediationPlan struct {
	Analysis          string    `json:"analysis"`
	Commands          []string  `json:"commands"`
	Risk              RiskLevel `json:"risk"`
	ExpectedOutcome   string    `json:"expected_outcome"`
	Reasoning         string    `json:"reasoning"`
	EstimatedDuration string    `json:"estimated_duration"`
	Confidence        float64   `json:"confidence,omitempty"`
	TargetHost        string    `json:"target_host,omitempty"`
	InstanceMisleading bool     `json:"instance_label_misleading,omitempty"`
	InvestigationSteps []string `json:"investigation_steps,omitempty"`

	// FromPattern is set when the plan was synthesized from a learned
	// pattern rather than generated by the LLM.
	FromPattern int64 `json:"-"`
}
