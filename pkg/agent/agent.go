// Package agent runs the LLM investigation loop: it hands an alert plus
// system context to the model, satisfies the model's tool calls against the
// real infrastructure, and parses the final answer into a remediation plan.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/homelab-ops/remedy/pkg/models"
)

// defaultMaxIterations bounds tool rounds per investigation.
const defaultMaxIterations = 5

const systemPrompt = `You are the remediation agent for a small homelab fleet. You diagnose a firing alert using the provided tools and then propose a minimal, reversible fix.

Rules:
- Investigate before acting: check status and logs first.
- Prefer the least invasive fix (a service restart over anything broader).
- Never propose destructive commands; they will be rejected.
- When you are confident, stop calling tools and answer with ONLY one JSON object:
{"analysis": "...", "commands": ["..."], "risk": "low|medium|high", "expected_outcome": "...", "reasoning": "...", "estimated_duration": "...", "confidence": 0.0, "target_host": "...", "instance_label_misleading": false, "investigation_steps": ["..."]}
- If no safe automated fix exists, return an empty commands array and risk "high".`

// Investigation is the result of one agent run.
type Investigation struct {
	Plan       *models.RemediationPlan
	Iterations int
	// Fallback is true when the plan is the high-risk placeholder produced
	// on parse failure or iteration exhaustion.
	Fallback bool
}

// Agent drives the investigation loop.
type Agent struct {
	llm           LLM
	toolbox       *Toolbox
	maxIterations int
}

// New creates an Agent. maxIterations <= 0 uses the default cap.
func New(llm LLM, toolbox *Toolbox, maxIterations int) *Agent {
	if maxIterations <= 0 {
		maxIterations = defaultMaxIterations
	}
	return &Agent{llm: llm, toolbox: toolbox, maxIterations: maxIterations}
}

// Context is the extra information handed to the model alongside the alert.
type Context struct {
	TargetHost     string
	ServiceName    string
	Hints          map[string]string
	Runbook        string
	PatternContext *models.RemediationPattern
	FailureWarning string
}

// Investigate runs the loop for one alert and always returns a plan; the
// fallback plan carries high risk so the pipeline escalates instead of
// acting blindly.
func (a *Agent) Investigate(ctx context.Context, alert *models.Alert, ic Context) (*Investigation, error) {
	conv := a.llm.NewConversation(systemPrompt, buildUserPrompt(alert, ic))
	tools := a.toolbox.Specs()

	for iteration := 1; iteration <= a.maxIterations; iteration++ {
		round, err := conv.NextRound(ctx, tools)
		if err != nil {
			return nil, fmt.Errorf("investigation round %d: %w", iteration, err)
		}

		if len(round.ToolCalls) == 0 {
			plan, ok := ParsePlan(round.Text)
			if !ok {
				slog.Warn("could not parse final plan, using high-risk fallback",
					"alert", alert.Name, "iteration", iteration)
				return &Investigation{Plan: fallbackPlan("model response was not parseable"), Iterations: iteration, Fallback: true}, nil
			}
			return &Investigation{Plan: plan, Iterations: iteration}, nil
		}

		results := make([]ToolResult, 0, len(round.ToolCalls))
		for _, call := range round.ToolCalls {
			results = append(results, a.toolbox.Dispatch(ctx, call))
		}
		conv.AddToolResults(results...)
	}

	slog.Warn("investigation hit iteration cap", "alert", alert.Name, "cap", a.maxIterations)
	return &Investigation{
		Plan:       fallbackPlan(fmt.Sprintf("no conclusion after %d tool rounds", a.maxIterations)),
		Iterations: a.maxIterations,
		Fallback:   true,
	}, nil
}

func buildUserPrompt(alert *models.Alert, ic Context) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Alert: %s\nInstance: %s\nSeverity: %s\nStatus: %s\n",
		alert.Name, alert.Instance, alert.Severity, alert.Status)
	if ic.TargetHost != "" {
		fmt.Fprintf(&b, "Target host: %s\n", ic.TargetHost)
	}
	if ic.ServiceName != "" {
		fmt.Fprintf(&b, "Service: %s\n", ic.ServiceName)
	}
	if len(alert.Labels) > 0 {
		b.WriteString("Labels:\n")
		for k, v := range alert.Labels {
			fmt.Fprintf(&b, "  %s: %s\n", k, v)
		}
	}
	for k, v := range alert.Annotations {
		fmt.Fprintf(&b, "Annotation %s: %s\n", k, v)
	}
	for k, v := range ic.Hints {
		fmt.Fprintf(&b, "Hint %s: %s\n", k, v)
	}
	if ic.Runbook != "" {
		fmt.Fprintf(&b, "\nOperator runbook for this alert:\n%s\n", ic.Runbook)
	}
	if p := ic.PatternContext; p != nil {
		fmt.Fprintf(&b, "\nA learned pattern previously fixed similar alerts (confidence %.2f):\n  commands: %s\n  root cause: %s\nYou may reuse or override it.\n",
			p.ConfidenceScore, strings.Join(p.SolutionCommands, "; "), p.RootCause)
	}
	if ic.FailureWarning != "" {
		fmt.Fprintf(&b, "\nWARNING: %s\n", ic.FailureWarning)
	}
	return b.String()
}

// ParsePlan extracts the single JSON plan object from the model's final
// text, tolerating code fences and surrounding prose.
func ParsePlan(text string) (*models.RemediationPlan, bool) {
	candidate := extractJSON(text)
	if candidate == "" {
		return nil, false
	}
	var plan models.RemediationPlan
	if err := json.Unmarshal([]byte(candidate), &plan); err != nil {
		return nil, false
	}
	if plan.Analysis == "" && len(plan.Commands) == 0 {
		return nil, false
	}
	plan.Risk = models.ParseRiskLevel(string(plan.Risk))
	if plan.Commands == nil {
		plan.Commands = []string{}
	}
	return &plan, true
}

// extractJSON returns the outermost {...} object in the text.
func extractJSON(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return ""
	}
	return text[start : end+1]
}

func fallbackPlan(reason string) *models.RemediationPlan {
	return &models.RemediationPlan{
		Analysis:        "Automated investigation did not produce a usable plan: " + reason,
		Commands:        []string{},
		Risk:            models.RiskHigh,
		ExpectedOutcome: "escalation to a human operator",
		Reasoning:       reason,
	}
}
