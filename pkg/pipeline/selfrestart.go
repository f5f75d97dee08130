package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/homelab-ops/remedy/pkg/models"
	"github.com/homelab-ops/remedy/pkg/preserve"
	"github.com/homelab-ops/remedy/pkg/sshexec"
	"github.com/homelab-ops/remedy/pkg/validator"
)

// Preserver initiates self-preservation handoffs. *preserve.Manager
// satisfies it. May be nil; self-targeting plans then fall through to the
// validator, which rejects them.
type Preserver interface {
	Initiate(ctx context.Context, target models.RestartTarget, reason string, rc *preserve.RemediationContext) (string, error)
}

// Self-targeting command shapes. The engine cannot run these through SSH:
// the process (or its database, or the daemon hosting both) would die
// mid-execution.
var selfTargets = []struct {
	pattern *regexp.Regexp
	target  models.RestartTarget
}{
	{regexp.MustCompile(`(?i)\b(docker|systemctl)\s+(restart|stop|start)\s+\S*(remedy-db|remedy-postgres)\b`), models.RestartTargetEngineDB},
	{regexp.MustCompile(`(?i)\b(docker|systemctl)\s+(restart|stop|start)\s+\S*(remedy-engine|remedy)\b`), models.RestartTargetEngine},
	{regexp.MustCompile(`(?i)\bsystemctl\s+(restart|stop)\s+docker\b`), models.RestartTargetDockerDaemon},
}

// selfRestartTarget reports whether any planned command would take down the
// engine, its database, or the Docker daemon they run under.
func selfRestartTarget(cmds []string) (models.RestartTarget, string, bool) {
	for _, cmd := range cmds {
		for _, st := range selfTargets {
			if st.pattern.MatchString(cmd) {
				return st.target, cmd, true
			}
		}
	}
	return "", "", false
}

// handoffContext snapshots the in-flight attempt so it can continue after
// the restart.
func handoffContext(alert *models.Alert, plan *models.RemediationPlan, attemptNumber int) *preserve.RemediationContext {
	return &preserve.RemediationContext{
		AlertName:        alert.Name,
		AlertInstance:    alert.Instance,
		AlertFingerprint: alert.Fingerprint,
		AttemptNumber:    attemptNumber,
		AIAnalysis:       plan.Analysis,
		AIReasoning:      plan.Reasoning,
		PendingCommands:  plan.Commands,
		RiskLevel:        string(plan.Risk),
	}
}

// ResumeFromContext finishes a remediation that was interrupted by a
// self-restart. The orchestrator already performed the engine-targeting
// commands by restarting the target, so those are recorded as done; anything
// left is re-validated and executed, then the attempt is verified and
// persisted under its original attempt number.
func (p *Pipeline) ResumeFromContext(ctx context.Context, rc *preserve.RemediationContext) Result {
	alert := &models.Alert{
		Name:        rc.AlertName,
		Instance:    rc.AlertInstance,
		Fingerprint: rc.AlertFingerprint,
		Status:      models.AlertStatusFiring,
		Labels:      map[string]string{},
		Annotations: map[string]string{},
	}
	log := slog.With("alert", alert.Name, "instance", alert.Instance,
		"attempt", rc.AttemptNumber, "restart_count", rc.RestartCount)

	routing := Route(alert, ExtractHints(alert), p.cfg.KnownHosts, p.cfg.DefaultHost)

	risk := models.RiskLevel(rc.RiskLevel)
	if risk == "" {
		risk = models.RiskMedium
	}
	plan := &models.RemediationPlan{
		Analysis:  rc.AIAnalysis,
		Reasoning: rc.AIReasoning,
		Commands:  rc.PendingCommands,
		Risk:      risk,
	}

	var done, remaining []string
	for _, cmd := range rc.PendingCommands {
		if _, _, ok := selfRestartTarget([]string{cmd}); ok {
			done = append(done, cmd)
		} else {
			remaining = append(remaining, cmd)
		}
	}

	planJSON, _ := json.Marshal(plan)
	attempt := &models.RemediationAttempt{
		AlertName:        alert.Name,
		AlertInstance:    alert.Instance,
		AlertFingerprint: alert.Fingerprint,
		AttemptNumber:    rc.AttemptNumber,
		AIAnalysis:       rc.AIAnalysis,
		AIReasoning:      rc.AIReasoning,
		RemediationPlan:  string(planJSON),
		RiskLevel:        risk,
		CommandsExecuted: []string{},
		CommandOutputs:   []string{},
		ExitCodes:        []int{},
	}
	for _, cmd := range done {
		attempt.CommandsExecuted = append(attempt.CommandsExecuted, cmd)
		attempt.CommandOutputs = append(attempt.CommandOutputs, "performed by restart orchestrator")
		attempt.ExitCodes = append(attempt.ExitCodes, 0)
	}

	execOK := true
	execErr := ""
	if len(remaining) > 0 {
		vr := validator.ValidateCommands(remaining)
		if !vr.Safe {
			return p.finish(p.reject(ctx, alert, plan, vr, rc.AttemptNumber-1, log))
		}
		res := p.executor.Execute(ctx, routing.Host, remaining, p.cfg.CommandTimeout)
		if len(res.Outputs) == len(res.ExitCodes) {
			attempt.CommandsExecuted = append(attempt.CommandsExecuted, remaining[:len(res.Outputs)]...)
			attempt.CommandOutputs = append(attempt.CommandOutputs, res.Outputs...)
			attempt.ExitCodes = append(attempt.ExitCodes, res.ExitCodes...)
		}
		attempt.DurationSeconds = res.Duration.Seconds()
		execOK = res.Success
		execErr = res.Error
	}

	success := execOK
	verifyMsg := execErr
	if execOK {
		success, verifyMsg = p.verify(ctx, alert, &sshexec.Result{Success: true}, log)
	}
	attempt.Success = success
	if !success {
		attempt.ErrorMessage = verifyMsg
	}
	id := p.logAttempt(ctx, attempt)

	if success {
		if p.notifier != nil {
			p.notifier.NotifySuccess(ctx, "Remediated after restart: "+alert.Name,
				fmt.Sprintf("%s on %s\nVerification: %s",
					strings.Join(attempt.CommandsExecuted, ", "), routing.Host, verifyMsg))
		}
		log.Info("resumed remediation succeeded")
		return p.finish(Result{Outcome: models.OutcomeRemediated, Message: verifyMsg, AttemptID: id})
	}

	if p.notifier != nil {
		p.notifier.NotifyWarning(ctx, "Remediation failed after restart: "+alert.Name, verifyMsg)
	}
	if rc.AttemptNumber >= p.cfg.MaxAttempts {
		reason := fmt.Sprintf("remediation failed after self-restart: %s", verifyMsg)
		p.escalate(ctx, alert, rc.AttemptNumber, rc.AIReasoning, reason)
		return p.finish(Result{Outcome: models.OutcomeEscalated, Message: reason, AttemptID: id})
	}
	log.Info("resumed remediation failed", "error", verifyMsg)
	return p.finish(Result{Outcome: models.OutcomeFailed, Message: verifyMsg, AttemptID: id})
}
