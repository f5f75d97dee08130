// Package pipeline drives a firing alert from webhook arrival to a terminal
// outcome: dedup, attempt counting, suppression and correlation gates,
// pattern lookup or LLM investigation, validation, execution, verification,
// and learning.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/homelab-ops/remedy/pkg/agent"
	"github.com/homelab-ops/remedy/pkg/alertqueue"
	"github.com/homelab-ops/remedy/pkg/correlate"
	"github.com/homelab-ops/remedy/pkg/learning"
	"github.com/homelab-ops/remedy/pkg/metrics"
	"github.com/homelab-ops/remedy/pkg/models"
	"github.com/homelab-ops/remedy/pkg/sshexec"
	"github.com/homelab-ops/remedy/pkg/suppress"
	"github.com/homelab-ops/remedy/pkg/validator"
)

// resolutionClearHorizon bounds how far back a resolution event clears
// attempt history.
const resolutionClearHorizon = 24 * time.Hour

// Store is the persistence surface the coordinator needs. *store.Store
// satisfies it.
type Store interface {
	ClaimFingerprint(ctx context.Context, fingerprint, alertName, alertInstance string, cooldown time.Duration) (claimed bool, lastProcessed time.Time, err error)
	GetAttemptCount(ctx context.Context, alertName, alertInstance string, window time.Duration) (int, error)
	LogAttempt(ctx context.Context, a *models.RemediationAttempt) (int64, error)
	ClearAttempts(ctx context.Context, alertName, alertInstance string, horizon time.Duration) (int64, error)
	ClearEscalationCooldown(ctx context.Context, alertName, alertInstance string) error
	GetFailurePattern(ctx context.Context, signature string) (*models.FailurePattern, error)
	AttemptsSince(ctx context.Context, window time.Duration) ([]models.RemediationAttempt, error)
	SaveSnapshot(ctx context.Context, snap *models.Snapshot) error
}

// Suppressor gates alerts and tracks root causes. *suppress.Suppressor
// satisfies it.
type Suppressor interface {
	Check(ctx context.Context, alert *models.Alert, targetHost string) suppress.Decision
	RegisterRootCause(alertName string)
	ClearRootCause(alertName string)
}

// Learner is the pattern surface. *learning.Engine satisfies it.
type Learner interface {
	Lookup(ctx context.Context, alert *models.Alert) (*learning.Match, error)
	ExtractPattern(ctx context.Context, alert *models.Alert, commands []string, execTime float64, rootCause string) error
	RecordOutcome(ctx context.Context, alertName string, patternID int64, success bool, execTime float64) error
	RecordFailure(ctx context.Context, alert *models.Alert, commands []string, reason string) error
}

// Investigator produces a plan when no pattern applies. *agent.Agent
// satisfies it.
type Investigator interface {
	Investigate(ctx context.Context, alert *models.Alert, ic agent.Context) (*agent.Investigation, error)
}

// Executor runs a validated command batch. *sshexec.Executor satisfies it.
type Executor interface {
	Execute(ctx context.Context, host string, cmds []string, timeout time.Duration) *sshexec.Result
}

// Verifier confirms that the alert actually cleared. *promql.Client
// satisfies it. May be nil; exit codes are trusted then.
type Verifier interface {
	Verify(ctx context.Context, name, instance string, labels map[string]string, maxWait, pollInterval, initialDelay time.Duration) (bool, string, error)
}

// Escalator hands exhausted alerts to a human. *notify.Escalator satisfies
// it.
type Escalator interface {
	Escalate(ctx context.Context, alert *models.Alert, attemptCount int, reasoning, reason string) error
}

// Notifier posts outcome notifications. *notify.Service satisfies it and is
// nil-safe.
type Notifier interface {
	NotifySuccess(ctx context.Context, title, message string)
	NotifyWarning(ctx context.Context, title, message string)
}

// Runbooks resolves operator runbooks by alert name. *runbook.Store
// satisfies it.
type Runbooks interface {
	ForAlert(alertName string) string
}

// Config holds the coordinator's tunables.
type Config struct {
	DedupCooldown  time.Duration
	AttemptWindow  time.Duration
	MaxAttempts    int
	RecentWindow   time.Duration
	CommandTimeout time.Duration

	VerificationEnabled bool
	VerifyMaxWait       time.Duration
	VerifyPollInterval  time.Duration
	VerifyInitialDelay  time.Duration

	KnownHosts  []string
	DefaultHost string
}

// Result is the terminal outcome for one alert.
type Result struct {
	Outcome   models.Outcome
	Message   string
	AttemptID int64
}

type recentEntry struct {
	alert correlate.RecentAlert
	seen  time.Time
}

// Pipeline is the per-alert state machine coordinator.
type Pipeline struct {
	store      Store
	suppressor Suppressor
	learner    Learner
	agent      Investigator
	executor   Executor
	verifier   Verifier
	escalator  Escalator
	notifier   Notifier
	runbooks   Runbooks
	preserver  Preserver
	queue      *alertqueue.Queue
	metrics    *metrics.Metrics
	cfg        Config

	mu     sync.Mutex
	recent []recentEntry
}

// New creates a Pipeline. verifier, notifier, runbooks, queue, and metrics
// may be nil.
func New(store Store, suppressor Suppressor, learner Learner, investigator Investigator,
	executor Executor, verifier Verifier, escalator Escalator, notifier Notifier,
	runbooks Runbooks, queue *alertqueue.Queue, m *metrics.Metrics, cfg Config) *Pipeline {
	if cfg.DedupCooldown <= 0 {
		cfg.DedupCooldown = 300 * time.Second
	}
	if cfg.AttemptWindow <= 0 {
		cfg.AttemptWindow = 2 * time.Hour
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RecentWindow <= 0 {
		cfg.RecentWindow = 120 * time.Second
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = 60 * time.Second
	}
	return &Pipeline{
		store:      store,
		suppressor: suppressor,
		learner:    learner,
		agent:      investigator,
		executor:   executor,
		verifier:   verifier,
		escalator:  escalator,
		notifier:   notifier,
		runbooks:   runbooks,
		queue:      queue,
		metrics:    m,
		cfg:        cfg,
	}
}

// SetPreserver wires the self-preservation manager. May stay unset.
func (p *Pipeline) SetPreserver(pr Preserver) { p.preserver = pr }

// HandleWebhook processes one Alertmanager delivery. Firing alerts run the
// full state machine independently; resolved alerts clear attempt history,
// escalation cooldowns, and registered root causes.
func (p *Pipeline) HandleWebhook(ctx context.Context, payload *models.WebhookPayload) []Result {
	if p.metrics != nil {
		p.metrics.WebhooksReceived.Inc()
	}

	results := make([]Result, 0, len(payload.Alerts))
	for _, wa := range payload.Alerts {
		alert, err := models.AlertFromWebhook(wa)
		if err != nil {
			slog.Warn("rejected webhook alert", "error", err, "labels", wa.Labels)
			results = append(results, p.finish(Result{Outcome: models.OutcomeRejected, Message: err.Error()}))
			continue
		}

		if alert.Status == models.AlertStatusResolved {
			results = append(results, p.finish(p.handleResolved(ctx, &alert)))
			continue
		}
		results = append(results, p.finish(p.Process(ctx, &alert)))
	}
	return results
}

func (p *Pipeline) finish(r Result) Result {
	if p.metrics != nil {
		p.metrics.AlertsProcessed.WithLabelValues(string(r.Outcome)).Inc()
	}
	return r
}

// handleResolved clears the alert's attempt history, escalation cooldown,
// and registered root cause so the next firing starts fresh.
func (p *Pipeline) handleResolved(ctx context.Context, alert *models.Alert) Result {
	if cleared, err := p.store.ClearAttempts(ctx, alert.Name, alert.Instance, resolutionClearHorizon); err != nil {
		slog.Warn("failed to clear attempts on resolution", "alert", alert.Name, "error", err)
	} else if cleared > 0 {
		slog.Info("cleared attempt history on resolution",
			"alert", alert.Name, "instance", alert.Instance, "cleared", cleared)
	}
	if err := p.store.ClearEscalationCooldown(ctx, alert.Name, alert.Instance); err != nil {
		slog.Warn("failed to clear escalation cooldown", "alert", alert.Name, "error", err)
	}
	p.suppressor.ClearRootCause(alert.Name)
	return Result{Outcome: models.OutcomeNoAction, Message: "resolution processed"}
}

// Process runs the state machine for one firing alert.
func (p *Pipeline) Process(ctx context.Context, alert *models.Alert) Result {
	log := slog.With("alert", alert.Name, "instance", alert.Instance, "fingerprint", alert.Fingerprint)

	// Dedup. A store failure here fails open: double-processing is cheaper
	// than dropping an alert.
	claimed, lastProcessed, err := p.store.ClaimFingerprint(ctx, alert.Fingerprint, alert.Name, alert.Instance, p.cfg.DedupCooldown)
	if err != nil {
		log.Warn("fingerprint claim failed, processing anyway", "error", err)
	} else if !claimed {
		log.Info("alert deduplicated", "last_processed", lastProcessed)
		return Result{Outcome: models.OutcomeDeduplicated,
			Message: fmt.Sprintf("processed %s ago", time.Since(lastProcessed).Round(time.Second))}
	}

	// Counter.
	count, err := p.store.GetAttemptCount(ctx, alert.Name, alert.Instance, p.cfg.AttemptWindow)
	if err != nil {
		log.Warn("attempt count lookup failed, assuming zero", "error", err)
		count = 0
	}
	if count >= p.cfg.MaxAttempts {
		reason := fmt.Sprintf("attempt limit reached (%d in %s)", count, p.cfg.AttemptWindow)
		p.escalate(ctx, alert, count, "", reason)
		return Result{Outcome: models.OutcomeEscalated, Message: reason}
	}

	// Hints and routing.
	hints := ExtractHints(alert)
	routing := Route(alert, hints, p.cfg.KnownHosts, p.cfg.DefaultHost)
	log = log.With("target_host", routing.Host)

	// Correlation window: alerts seen in memory since start, widened with
	// recently persisted attempts so the window survives a restart.
	recent := p.observeRecent(alert)
	if attempts, err := p.store.AttemptsSince(ctx, p.cfg.RecentWindow); err != nil {
		log.Warn("recent attempts lookup failed, using in-memory window only", "error", err)
	} else {
		recent = mergeRecentAttempts(recent, attempts, alert)
	}

	// Maintenance and suppression gates, keyed on the host the remediation
	// would touch.
	if decision := p.suppressor.Check(ctx, alert, routing.Host); decision.Suppressed {
		log.Info("alert suppressed", "reason", decision.Reason)
		return Result{Outcome: models.OutcomeSuppressed, Message: decision.Reason}
	}

	// Correlation gate: a non-root child of a current incident is skipped so
	// the root cause gets the remediation budget.
	if inc := correlate.Correlate(alert, recent); inc != nil {
		if !inc.IsRoot(alert.Name) {
			log.Info("alert skipped as incident child",
				"incident_type", inc.Type, "root_cause", inc.RootCause)
			return Result{Outcome: models.OutcomeSkipped,
				Message: fmt.Sprintf("%s incident, root cause %s", inc.Type, inc.RootCause)}
		}
		p.suppressor.RegisterRootCause(alert.Name)
	} else {
		p.suppressor.RegisterRootCause(alert.Name)
	}

	// Pattern lookup.
	match, err := p.learner.Lookup(ctx, alert)
	if err != nil {
		log.Warn("pattern lookup failed, continuing without patterns", "error", err)
		match = nil
	}

	plan, iterations, err := p.plan(ctx, alert, hints, routing, match)
	if err != nil {
		reason := "investigation failed: " + err.Error()
		log.Error("could not produce a plan", "error", err)
		p.escalate(ctx, alert, count, "", reason)
		return Result{Outcome: models.OutcomeError, Message: reason}
	}
	if plan.TargetHost != "" {
		routing.Host = plan.TargetHost
	}

	if len(plan.Commands) == 0 && plan.Risk != models.RiskHigh {
		log.Info("plan proposes no commands", "analysis", plan.Analysis)
		return Result{Outcome: models.OutcomeNoAction, Message: plan.Analysis}
	}

	// A plan that would take down the engine itself cannot run over SSH; it
	// goes through the self-preservation handoff instead. When that is not
	// possible the plan falls through to the validator, which rejects it.
	if target, cmd, ok := selfRestartTarget(plan.Commands); ok && p.preserver != nil {
		handoffID, err := p.preserver.Initiate(ctx, target,
			"planned command targets the engine: "+cmd,
			handoffContext(alert, plan, count+1))
		if err == nil {
			if p.metrics != nil {
				p.metrics.HandoffsInitiated.Inc()
			}
			log.Info("self-preservation handoff initiated", "target", target, "handoff_id", handoffID)
			return Result{Outcome: models.OutcomeNoAction,
				Message: fmt.Sprintf("handoff %s initiated for %s restart", handoffID, target)}
		}
		log.Warn("self-preservation handoff failed, plan falls through to validation",
			"target", target, "error", err)
	}

	// Validate.
	vr := validator.ValidateCommands(plan.Commands)
	if !vr.Safe {
		return p.reject(ctx, alert, plan, vr, count, log)
	}

	// Risk gate.
	if plan.Risk == models.RiskHigh && !validator.AllSimple(plan.Commands) {
		reason := "high-risk plan with non-trivial commands"
		if len(plan.Commands) == 0 {
			reason = "no safe automated fix: " + plan.Analysis
		}
		log.Info("high-risk plan escalated", "commands", len(plan.Commands))
		p.escalate(ctx, alert, count, plan.Reasoning, reason)
		return Result{Outcome: models.OutcomeEscalated, Message: reason}
	}

	// Classify. Only actionable commands count as an attempt.
	actionable, diagnostic := validator.SplitPlan(plan.Commands)

	// State-changing plans get a pre-remediation snapshot first.
	if len(actionable) > 0 {
		p.snapshot(ctx, alert, routing)
	}

	// Execute.
	res := p.executor.Execute(ctx, routing.Host, plan.Commands, p.cfg.CommandTimeout)
	log.Info("plan executed",
		"commands", len(plan.Commands), "actionable", len(actionable),
		"success", res.Success, "duration", res.Duration)

	if len(actionable) == 0 {
		// Diagnostic-only runs leave no attempt behind.
		return Result{Outcome: models.OutcomeDiagnosticOnly,
			Message: fmt.Sprintf("%d diagnostic commands, no state change", len(diagnostic))}
	}

	// Verify. A verifier backend error means we cannot know either way, so
	// exit codes are trusted.
	success, verifyMsg := p.verify(ctx, alert, res, log)

	return p.persist(ctx, alert, plan, routing, res, actionable,
		count, success, verifyMsg, iterations, log)
}

// plan synthesizes a plan from an applicable pattern or runs the LLM
// investigation with whatever context is available.
func (p *Pipeline) plan(ctx context.Context, alert *models.Alert, hints Hints, routing Routing,
	match *learning.Match) (*models.RemediationPlan, int, error) {
	if match != nil && match.Decision == learning.DecisionApply {
		if p.metrics != nil {
			p.metrics.PatternCacheHits.Inc()
		}
		pat := match.Pattern
		slog.Info("applying learned pattern",
			"alert", alert.Name, "pattern_id", pat.ID,
			"confidence", pat.ConfidenceScore, "effective", match.Effective)
		return &models.RemediationPlan{
			Analysis:        fmt.Sprintf("Learned pattern %d (%s)", pat.ID, pat.RootCause),
			Commands:        pat.SolutionCommands,
			Risk:            pat.RiskLevel,
			ExpectedOutcome: "alert resolves as on previous occurrences",
			Reasoning: fmt.Sprintf("pattern matched with effective confidence %.2f (%d successes)",
				match.Effective, pat.SuccessCount),
			Confidence:  match.Effective,
			TargetHost:  pat.TargetHost,
			FromPattern: pat.ID,
		}, 0, nil
	}

	ic := agent.Context{
		TargetHost:  routing.Host,
		ServiceName: routing.Service,
		Hints:       hints.Values,
	}
	if p.runbooks != nil {
		ic.Runbook = p.runbooks.ForAlert(alert.Name)
	}
	if match != nil && match.Decision == learning.DecisionContext {
		ic.PatternContext = &match.Pattern
		ic.FailureWarning = p.failureWarning(ctx, alert, match.Pattern.SolutionCommands)
	}

	inv, err := p.agent.Investigate(ctx, alert, ic)
	if err != nil {
		return nil, 0, err
	}
	if p.metrics != nil {
		p.metrics.LLMIterations.Observe(float64(inv.Iterations))
	}
	return inv.Plan, inv.Iterations, nil
}

// failureWarning tells the model when the candidate pattern's commands have
// already verifiably failed for this alert.
func (p *Pipeline) failureWarning(ctx context.Context, alert *models.Alert, commands []string) string {
	fp, err := p.store.GetFailurePattern(ctx, models.FailureSignature(alert.Name, commands))
	if err != nil || fp == nil {
		return ""
	}
	return fmt.Sprintf("these commands failed to resolve this alert %d time(s) before (last: %s): %s",
		fp.FailureCount, fp.LastFailedAt.Format(time.RFC3339), fp.FailureReason)
}

// reject logs a failed attempt for an unsafe plan and notifies the operator.
// Nothing is executed.
func (p *Pipeline) reject(ctx context.Context, alert *models.Alert, plan *models.RemediationPlan,
	vr validator.Result, count int, log *slog.Logger) Result {
	var reasons []string
	for i, cmd := range vr.Rejected {
		reasons = append(reasons, fmt.Sprintf("%s (%s)", cmd, vr.Reasons[i]))
	}
	errMsg := "unsafe commands rejected: " + strings.Join(reasons, "; ")
	log.Warn("plan rejected by validator", "rejected", len(vr.Rejected))

	attempt := p.buildAttempt(alert, plan, count+1, nil)
	attempt.Success = false
	attempt.ErrorMessage = errMsg
	attempt.RiskLevel = models.RiskHigh
	id := p.logAttempt(ctx, attempt)

	if p.notifier != nil {
		p.notifier.NotifyWarning(ctx, "Unsafe plan rejected: "+alert.Name, errMsg)
	}
	return Result{Outcome: models.OutcomeRejected, Message: errMsg, AttemptID: id}
}

// verify decides final success for an executed plan.
func (p *Pipeline) verify(ctx context.Context, alert *models.Alert, res *sshexec.Result,
	log *slog.Logger) (bool, string) {
	if !res.Success {
		return false, res.Error
	}
	if !p.cfg.VerificationEnabled || p.verifier == nil {
		return true, "verification disabled, trusting exit codes"
	}

	start := time.Now()
	ok, msg, err := p.verifier.Verify(ctx, alert.Name, alert.Instance, alert.Labels,
		p.cfg.VerifyMaxWait, p.cfg.VerifyPollInterval, p.cfg.VerifyInitialDelay)
	if p.metrics != nil {
		p.metrics.VerificationTime.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		log.Warn("verification backend unavailable, trusting exit codes", "error", err)
		return true, "verification unavailable: " + err.Error()
	}
	log.Info("verification finished", "resolved", ok, "detail", msg)
	return ok, msg
}

// persist writes the attempt, updates the learning engine, notifies, and
// escalates when the counter is exhausted by this failure.
func (p *Pipeline) persist(ctx context.Context, alert *models.Alert, plan *models.RemediationPlan,
	routing Routing, res *sshexec.Result, actionable []string, count int,
	success bool, verifyMsg string, iterations int, log *slog.Logger) Result {
	attempt := p.buildAttempt(alert, plan, count+1, res)
	attempt.Success = success
	if !success {
		attempt.ErrorMessage = verifyMsg
	}
	id := p.logAttempt(ctx, attempt)
	execTime := res.Duration.Seconds()

	if success {
		if plan.FromPattern != 0 {
			if err := p.learner.RecordOutcome(ctx, alert.Name, plan.FromPattern, true, execTime); err != nil {
				log.Warn("failed to record pattern success", "pattern_id", plan.FromPattern, "error", err)
			}
		} else if err := p.learner.ExtractPattern(ctx, alert, actionable, execTime, plan.Analysis); err != nil {
			log.Warn("failed to extract pattern", "error", err)
		}
		if p.notifier != nil {
			p.notifier.NotifySuccess(ctx, "Remediated: "+alert.Name,
				fmt.Sprintf("%s on %s\n%s\nVerification: %s",
					strings.Join(attempt.CommandsExecuted, ", "), routing.Host, plan.Analysis, verifyMsg))
		}
		log.Info("alert remediated", "attempt", attempt.AttemptNumber, "iterations", iterations)
		return Result{Outcome: models.OutcomeRemediated, Message: verifyMsg, AttemptID: id}
	}

	if plan.FromPattern != 0 {
		if err := p.learner.RecordOutcome(ctx, alert.Name, plan.FromPattern, false, execTime); err != nil {
			log.Warn("failed to record pattern failure", "pattern_id", plan.FromPattern, "error", err)
		}
	}
	if err := p.learner.RecordFailure(ctx, alert, actionable, verifyMsg); err != nil {
		log.Warn("failed to record failure pattern", "error", err)
	}
	if p.notifier != nil {
		p.notifier.NotifyWarning(ctx, "Remediation failed: "+alert.Name, verifyMsg)
	}

	if count+1 >= p.cfg.MaxAttempts {
		reason := fmt.Sprintf("remediation failed on final attempt %d: %s", count+1, verifyMsg)
		p.escalate(ctx, alert, count+1, plan.Reasoning, reason)
		return Result{Outcome: models.OutcomeEscalated, Message: reason, AttemptID: id}
	}
	log.Info("remediation failed", "attempt", attempt.AttemptNumber, "error", verifyMsg)
	return Result{Outcome: models.OutcomeFailed, Message: verifyMsg, AttemptID: id}
}

// buildAttempt assembles the persisted row. res may be nil when nothing ran.
func (p *Pipeline) buildAttempt(alert *models.Alert, plan *models.RemediationPlan,
	attemptNumber int, res *sshexec.Result) *models.RemediationAttempt {
	planJSON, _ := json.Marshal(plan)
	attempt := &models.RemediationAttempt{
		AlertName:        alert.Name,
		AlertInstance:    alert.Instance,
		AlertFingerprint: alert.Fingerprint,
		Severity:         alert.Severity,
		AttemptNumber:    attemptNumber,
		AIAnalysis:       plan.Analysis,
		AIReasoning:      plan.Reasoning,
		RemediationPlan:  string(planJSON),
		RiskLevel:        plan.Risk,
		CommandsExecuted: []string{},
		CommandOutputs:   []string{},
		ExitCodes:        []int{},
	}
	if res != nil {
		// Arrays may be partial on early stop; they stay parallel. A
		// transport failure ([-1] exit, no outputs) ran nothing, so the
		// arrays stay empty and the error message carries the detail.
		if len(res.Outputs) == len(res.ExitCodes) {
			attempt.CommandsExecuted = plan.Commands[:len(res.Outputs)]
			attempt.CommandOutputs = res.Outputs
			attempt.ExitCodes = res.ExitCodes
		}
		attempt.DurationSeconds = res.Duration.Seconds()
	}
	return attempt
}

// logAttempt persists the row, falling back to the degraded-mode queue when
// the database is unreachable.
func (p *Pipeline) logAttempt(ctx context.Context, attempt *models.RemediationAttempt) int64 {
	id, err := p.store.LogAttempt(ctx, attempt)
	if err == nil {
		return id
	}
	slog.Error("failed to persist attempt, queueing",
		"alert", attempt.AlertName, "error", err)
	if p.queue != nil {
		p.queue.Enqueue(attempt)
		if p.metrics != nil {
			stats := p.queue.Stats()
			p.metrics.QueueDepth.Set(float64(stats.Depth))
			p.metrics.QueueDropped.Set(float64(stats.Dropped))
		}
	}
	return 0
}

func (p *Pipeline) escalate(ctx context.Context, alert *models.Alert, attemptCount int, reasoning, reason string) {
	if err := p.escalator.Escalate(ctx, alert, attemptCount, reasoning, reason); err != nil {
		slog.Error("escalation failed", "alert", alert.Name, "error", err)
	}
}

// snapshot probes and persists the target's state before anything mutates
// it. Fail-open: a failed probe or insert never blocks the plan.
func (p *Pipeline) snapshot(ctx context.Context, alert *models.Alert, routing Routing) {
	probe := sshexec.StatusCommand(routing.ServiceKind, routing.Service)
	res := p.executor.Execute(ctx, routing.Host, []string{probe}, p.cfg.CommandTimeout)
	if !res.Success || len(res.Outputs) == 0 {
		return
	}

	target := routing.Service
	if target == "" {
		target = alert.Name
	}
	state, err := json.Marshal(map[string]string{"probe": probe, "output": res.Outputs[0]})
	if err != nil {
		return
	}
	snap := &models.Snapshot{
		SnapshotID:   uuid.NewString(),
		Host:         routing.Host,
		TargetType:   string(routing.ServiceKind),
		TargetName:   target,
		StateData:    state,
		AlertContext: alert.Name + " " + alert.Instance,
	}
	if err := p.store.SaveSnapshot(ctx, snap); err != nil {
		slog.Warn("failed to save pre-remediation snapshot",
			"alert", alert.Name, "host", routing.Host, "error", err)
	}
}

// mergeRecentAttempts widens the in-memory correlation window with alert
// identities from recently persisted attempts, deduplicated and excluding
// the alert itself.
func mergeRecentAttempts(recent []correlate.RecentAlert, attempts []models.RemediationAttempt,
	self *models.Alert) []correlate.RecentAlert {
	seen := make(map[string]struct{}, len(recent))
	for _, r := range recent {
		seen[r.Name+"\x00"+r.Instance] = struct{}{}
	}
	for _, a := range attempts {
		if a.AlertName == self.Name && a.AlertInstance == self.Instance {
			continue
		}
		key := a.AlertName + "\x00" + a.AlertInstance
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		recent = append(recent, correlate.RecentAlert{Name: a.AlertName, Instance: a.AlertInstance})
	}
	return recent
}

// observeRecent records the alert in the correlation window and returns the
// other alerts currently inside it.
func (p *Pipeline) observeRecent(alert *models.Alert) []correlate.RecentAlert {
	now := time.Now()
	cutoff := now.Add(-p.cfg.RecentWindow)

	p.mu.Lock()
	defer p.mu.Unlock()

	kept := p.recent[:0]
	for _, e := range p.recent {
		if e.seen.After(cutoff) {
			kept = append(kept, e)
		}
	}
	p.recent = kept

	others := make([]correlate.RecentAlert, 0, len(p.recent))
	for _, e := range p.recent {
		if e.alert.Name == alert.Name && e.alert.Instance == alert.Instance {
			continue
		}
		others = append(others, e.alert)
	}

	p.recent = append(p.recent, recentEntry{
		alert: correlate.RecentAlert{Name: alert.Name, Instance: alert.Instance},
		seen:  now,
	})
	return others
}
