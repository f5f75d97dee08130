package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homelab-ops/remedy/pkg/agent"
	"github.com/homelab-ops/remedy/pkg/alertqueue"
	"github.com/homelab-ops/remedy/pkg/learning"
	"github.com/homelab-ops/remedy/pkg/models"
	"github.com/homelab-ops/remedy/pkg/sshexec"
	"github.com/homelab-ops/remedy/pkg/suppress"
)

type fakeStore struct {
	claimed  bool
	claimErr error
	count    int
	countErr error

	logged []*models.RemediationAttempt
	logErr error

	attemptsCleared  []string
	cooldownsCleared []string
	failurePattern   *models.FailurePattern

	recentAttempts []models.RemediationAttempt
	snapshots      []*models.Snapshot
}

func (f *fakeStore) ClaimFingerprint(_ context.Context, _, _, _ string, _ time.Duration) (bool, time.Time, error) {
	return f.claimed, time.Now().Add(-time.Minute), f.claimErr
}

func (f *fakeStore) GetAttemptCount(_ context.Context, _, _ string, _ time.Duration) (int, error) {
	return f.count, f.countErr
}

func (f *fakeStore) LogAttempt(_ context.Context, a *models.RemediationAttempt) (int64, error) {
	if f.logErr != nil {
		return 0, f.logErr
	}
	f.logged = append(f.logged, a)
	return int64(len(f.logged)), nil
}

func (f *fakeStore) ClearAttempts(_ context.Context, name, instance string, _ time.Duration) (int64, error) {
	f.attemptsCleared = append(f.attemptsCleared, name+"/"+instance)
	return 1, nil
}

func (f *fakeStore) ClearEscalationCooldown(_ context.Context, name, instance string) error {
	f.cooldownsCleared = append(f.cooldownsCleared, name+"/"+instance)
	return nil
}

func (f *fakeStore) GetFailurePattern(_ context.Context, _ string) (*models.FailurePattern, error) {
	return f.failurePattern, nil
}

func (f *fakeStore) AttemptsSince(_ context.Context, _ time.Duration) ([]models.RemediationAttempt, error) {
	return f.recentAttempts, nil
}

func (f *fakeStore) SaveSnapshot(_ context.Context, snap *models.Snapshot) error {
	f.snapshots = append(f.snapshots, snap)
	return nil
}

type fakeSuppressor struct {
	decision   suppress.Decision
	registered []string
	cleared    []string
	lastTarget string
}

func (f *fakeSuppressor) Check(_ context.Context, _ *models.Alert, targetHost string) suppress.Decision {
	f.lastTarget = targetHost
	return f.decision
}
func (f *fakeSuppressor) RegisterRootCause(name string) { f.registered = append(f.registered, name) }
func (f *fakeSuppressor) ClearRootCause(name string)    { f.cleared = append(f.cleared, name) }

type outcomeRec struct {
	patternID int64
	success   bool
}

type fakeLearner struct {
	match     *learning.Match
	lookupErr error

	extracted [][]string
	outcomes  []outcomeRec
	failures  []string
}

func (f *fakeLearner) Lookup(_ context.Context, _ *models.Alert) (*learning.Match, error) {
	return f.match, f.lookupErr
}

func (f *fakeLearner) ExtractPattern(_ context.Context, _ *models.Alert, commands []string, _ float64, _ string) error {
	f.extracted = append(f.extracted, commands)
	return nil
}

func (f *fakeLearner) RecordOutcome(_ context.Context, _ string, id int64, success bool, _ float64) error {
	f.outcomes = append(f.outcomes, outcomeRec{patternID: id, success: success})
	return nil
}

func (f *fakeLearner) RecordFailure(_ context.Context, _ *models.Alert, _ []string, reason string) error {
	f.failures = append(f.failures, reason)
	return nil
}

type fakeInvestigator struct {
	inv     *agent.Investigation
	err     error
	lastCtx agent.Context
}

func (f *fakeInvestigator) Investigate(_ context.Context, _ *models.Alert, ic agent.Context) (*agent.Investigation, error) {
	f.lastCtx = ic
	return f.inv, f.err
}

type fakeExecutor struct {
	result   *sshexec.Result
	lastHost string
	lastCmds []string
	calls    int
}

func (f *fakeExecutor) Execute(_ context.Context, host string, cmds []string, _ time.Duration) *sshexec.Result {
	f.calls++
	f.lastHost = host
	f.lastCmds = cmds
	return f.result
}

type fakeVerifier struct {
	ok  bool
	msg string
	err error
}

func (f *fakeVerifier) Verify(_ context.Context, _, _ string, _ map[string]string, _, _, _ time.Duration) (bool, string, error) {
	return f.ok, f.msg, f.err
}

type escCall struct {
	alert   string
	count   int
	reason  string
	reasons string
}

type fakeEscalator struct{ calls []escCall }

func (f *fakeEscalator) Escalate(_ context.Context, alert *models.Alert, count int, reasoning, reason string) error {
	f.calls = append(f.calls, escCall{alert: alert.Name, count: count, reason: reason, reasons: reasoning})
	return nil
}

type fakeNotifier struct {
	successes []string
	warnings  []string
}

func (f *fakeNotifier) NotifySuccess(_ context.Context, title, _ string) {
	f.successes = append(f.successes, title)
}
func (f *fakeNotifier) NotifyWarning(_ context.Context, title, _ string) {
	f.warnings = append(f.warnings, title)
}

type fakeRunbooks struct{ text string }

func (f *fakeRunbooks) ForAlert(_ string) string { return f.text }

type fixture struct {
	store     *fakeStore
	supp      *fakeSuppressor
	learner   *fakeLearner
	agent     *fakeInvestigator
	exec      *fakeExecutor
	verifier  *fakeVerifier
	escalator *fakeEscalator
	notifier  *fakeNotifier
	queue     *alertqueue.Queue
	p         *Pipeline
}

func successResult(cmds []string) *sshexec.Result {
	outputs := make([]string, len(cmds))
	exits := make([]int, len(cmds))
	return &sshexec.Result{Success: true, Outputs: outputs, ExitCodes: exits, Duration: 3 * time.Second}
}

func newFixture() *fixture {
	f := &fixture{
		store:   &fakeStore{claimed: true},
		supp:    &fakeSuppressor{},
		learner: &fakeLearner{},
		agent: &fakeInvestigator{inv: &agent.Investigation{
			Plan: &models.RemediationPlan{
				Analysis: "container wedged",
				Commands: []string{"docker restart grafana"},
				Risk:     models.RiskLow,
			},
			Iterations: 2,
		}},
		exec:      &fakeExecutor{result: successResult([]string{"docker restart grafana"})},
		verifier:  &fakeVerifier{ok: true, msg: "alert resolved"},
		escalator: &fakeEscalator{},
		notifier:  &fakeNotifier{},
		queue:     alertqueue.NewQueue(10),
	}
	f.p = New(f.store, f.supp, f.learner, f.agent, f.exec, f.verifier, f.escalator,
		f.notifier, &fakeRunbooks{}, f.queue, nil, Config{
			MaxAttempts:         3,
			VerificationEnabled: true,
			KnownHosts:          []string{"nas", "pi"},
			DefaultHost:         "nas",
		})
	return f
}

func firing(name, instance string) *models.Alert {
	return &models.Alert{
		Name:        name,
		Instance:    instance,
		Fingerprint: "fp-" + name,
		Severity:    "warning",
		Status:      models.AlertStatusFiring,
		Labels:      map[string]string{"alertname": name, "instance": instance},
		Annotations: map[string]string{},
	}
}

func TestProcessDeduplicated(t *testing.T) {
	f := newFixture()
	f.store.claimed = false

	res := f.p.Process(context.Background(), firing("ContainerDown", "nas:9100"))

	assert.Equal(t, models.OutcomeDeduplicated, res.Outcome)
	assert.Zero(t, f.exec.calls)
}

func TestProcessClaimErrorFailsOpen(t *testing.T) {
	f := newFixture()
	f.store.claimed = false
	f.store.claimErr = errors.New("db down")

	res := f.p.Process(context.Background(), firing("ContainerDown", "nas:9100"))
	assert.Equal(t, models.OutcomeRemediated, res.Outcome)
}

func TestProcessAttemptLimitEscalates(t *testing.T) {
	f := newFixture()
	f.store.count = 3

	res := f.p.Process(context.Background(), firing("ContainerDown", "nas:9100"))

	assert.Equal(t, models.OutcomeEscalated, res.Outcome)
	require.Len(t, f.escalator.calls, 1)
	assert.Equal(t, 3, f.escalator.calls[0].count)
	assert.Zero(t, f.exec.calls)
}

func TestProcessSuppressed(t *testing.T) {
	f := newFixture()
	f.supp.decision = suppress.Decision{Suppressed: true, Reason: "Host nas is offline"}

	res := f.p.Process(context.Background(), firing("ContainerDown", "nas:9100"))

	assert.Equal(t, models.OutcomeSuppressed, res.Outcome)
	assert.Equal(t, "Host nas is offline", res.Message)
	assert.Zero(t, f.exec.calls)
}

func TestProcessIncidentChildSkipped(t *testing.T) {
	f := newFixture()

	// Root arrives first and lands in the correlation window.
	root := firing("DockerDaemonDown", "nas:9100")
	_ = f.p.Process(context.Background(), root)

	f.exec.calls = 0
	res := f.p.Process(context.Background(), firing("ContainerDown", "nas:9100"))

	assert.Equal(t, models.OutcomeSkipped, res.Outcome)
	assert.Contains(t, res.Message, "DockerDaemonDown")
	assert.Zero(t, f.exec.calls)
	assert.Contains(t, f.supp.registered, "DockerDaemonDown")
}

func TestProcessLLMPathRemediates(t *testing.T) {
	f := newFixture()

	res := f.p.Process(context.Background(), firing("GrafanaUnhealthy", "nas:3000"))

	assert.Equal(t, models.OutcomeRemediated, res.Outcome)
	assert.Equal(t, "nas", f.exec.lastHost)
	assert.Equal(t, []string{"docker restart grafana"}, f.exec.lastCmds)

	require.Len(t, f.store.logged, 1)
	logged := f.store.logged[0]
	assert.True(t, logged.Success)
	assert.Equal(t, 1, logged.AttemptNumber)
	assert.True(t, logged.ArraysConsistent())

	// Model-generated success becomes a pattern.
	require.Len(t, f.learner.extracted, 1)
	assert.Equal(t, []string{"docker restart grafana"}, f.learner.extracted[0])
	assert.Contains(t, f.notifier.successes[0], "GrafanaUnhealthy")
}

func TestProcessPatternApplySkipsLLM(t *testing.T) {
	f := newFixture()
	f.learner.match = &learning.Match{
		Pattern: models.RemediationPattern{
			ID:               42,
			SolutionCommands: []string{"docker restart grafana"},
			RiskLevel:        models.RiskLow,
			SuccessCount:     5,
		},
		Effective: 0.85,
		Decision:  learning.DecisionApply,
	}
	f.agent.err = errors.New("must not be called")

	res := f.p.Process(context.Background(), firing("GrafanaUnhealthy", "nas:3000"))

	assert.Equal(t, models.OutcomeRemediated, res.Outcome)
	require.Len(t, f.learner.outcomes, 1)
	assert.Equal(t, int64(42), f.learner.outcomes[0].patternID)
	assert.True(t, f.learner.outcomes[0].success)
	assert.Empty(t, f.learner.extracted)
}

func TestProcessPatternContextReachesAgent(t *testing.T) {
	f := newFixture()
	f.learner.match = &learning.Match{
		Pattern: models.RemediationPattern{
			ID:               7,
			SolutionCommands: []string{"docker restart grafana"},
		},
		Decision: learning.DecisionContext,
	}
	f.store.failurePattern = &models.FailurePattern{
		FailureCount:  2,
		FailureReason: "alert still firing",
		LastFailedAt:  time.Now(),
	}

	_ = f.p.Process(context.Background(), firing("GrafanaUnhealthy", "nas:3000"))

	require.NotNil(t, f.agent.lastCtx.PatternContext)
	assert.Equal(t, int64(7), f.agent.lastCtx.PatternContext.ID)
	assert.Contains(t, f.agent.lastCtx.FailureWarning, "2 time(s)")
}

func TestProcessUnsafePlanRejected(t *testing.T) {
	f := newFixture()
	f.agent.inv.Plan.Commands = []string{"rm -rf /var/lib/docker"}

	res := f.p.Process(context.Background(), firing("DiskSpaceLow", "nas:9100"))

	assert.Equal(t, models.OutcomeRejected, res.Outcome)
	assert.Zero(t, f.exec.calls)

	require.Len(t, f.store.logged, 1)
	logged := f.store.logged[0]
	assert.False(t, logged.Success)
	assert.Empty(t, logged.CommandsExecuted)
	assert.False(t, logged.IsEscalationMarker())
	assert.Contains(t, logged.ErrorMessage, "rm -rf")
	require.Len(t, f.notifier.warnings, 1)
}

func TestProcessHighRiskEscalates(t *testing.T) {
	f := newFixture()
	f.agent.inv.Plan.Commands = []string{"zfs destroy tank/old"}
	f.agent.inv.Plan.Risk = models.RiskHigh

	res := f.p.Process(context.Background(), firing("DiskSpaceLow", "nas:9100"))

	assert.Equal(t, models.OutcomeEscalated, res.Outcome)
	require.Len(t, f.escalator.calls, 1)
	assert.Zero(t, f.exec.calls)
}

func TestProcessHighRiskSimpleRestartProceeds(t *testing.T) {
	f := newFixture()
	f.agent.inv.Plan.Commands = []string{"docker restart grafana"}
	f.agent.inv.Plan.Risk = models.RiskHigh
	f.exec.result = successResult(f.agent.inv.Plan.Commands)

	res := f.p.Process(context.Background(), firing("GrafanaUnhealthy", "nas:3000"))

	assert.Equal(t, models.OutcomeRemediated, res.Outcome)
	assert.Empty(t, f.escalator.calls)
}

func TestProcessFallbackPlanEscalates(t *testing.T) {
	f := newFixture()
	f.agent.inv = &agent.Investigation{
		Plan: &models.RemediationPlan{
			Analysis: "no conclusion",
			Commands: []string{},
			Risk:     models.RiskHigh,
		},
		Iterations: 5,
		Fallback:   true,
	}

	res := f.p.Process(context.Background(), firing("WeirdAlert", "nas:9100"))

	assert.Equal(t, models.OutcomeEscalated, res.Outcome)
	assert.Zero(t, f.exec.calls)
}

func TestProcessNoActionPlan(t *testing.T) {
	f := newFixture()
	f.agent.inv.Plan = &models.RemediationPlan{
		Analysis: "transient blip, already recovered",
		Commands: []string{},
		Risk:     models.RiskLow,
	}

	res := f.p.Process(context.Background(), firing("HighCPUUsage", "nas:9100"))

	assert.Equal(t, models.OutcomeNoAction, res.Outcome)
	assert.Empty(t, f.store.logged)
}

func TestProcessDiagnosticOnlyLogsNoAttempt(t *testing.T) {
	f := newFixture()
	f.agent.inv.Plan.Commands = []string{"docker ps", "df -h"}
	f.exec.result = successResult(f.agent.inv.Plan.Commands)

	res := f.p.Process(context.Background(), firing("HighMemoryUsage", "nas:9100"))

	assert.Equal(t, models.OutcomeDiagnosticOnly, res.Outcome)
	assert.Equal(t, 1, f.exec.calls)
	assert.Empty(t, f.store.logged)
}

func TestProcessVerificationFailureIsFailed(t *testing.T) {
	f := newFixture()
	f.verifier.ok = false
	f.verifier.msg = "alert still firing after 120s"

	res := f.p.Process(context.Background(), firing("GrafanaUnhealthy", "nas:3000"))

	assert.Equal(t, models.OutcomeFailed, res.Outcome)
	require.Len(t, f.store.logged, 1)
	assert.False(t, f.store.logged[0].Success)
	require.Len(t, f.learner.failures, 1)
	assert.Contains(t, f.learner.failures[0], "still firing")
}

func TestProcessVerifierBackendErrorTrustsExitCodes(t *testing.T) {
	f := newFixture()
	f.verifier.err = errors.New("prometheus 502")

	res := f.p.Process(context.Background(), firing("GrafanaUnhealthy", "nas:3000"))

	assert.Equal(t, models.OutcomeRemediated, res.Outcome)
	require.Len(t, f.store.logged, 1)
	assert.True(t, f.store.logged[0].Success)
}

func TestProcessFinalFailedAttemptEscalates(t *testing.T) {
	f := newFixture()
	f.store.count = 2 // this run is attempt 3 of 3
	f.verifier.ok = false
	f.verifier.msg = "still firing"

	res := f.p.Process(context.Background(), firing("GrafanaUnhealthy", "nas:3000"))

	assert.Equal(t, models.OutcomeEscalated, res.Outcome)
	require.Len(t, f.escalator.calls, 1)
	assert.Equal(t, 3, f.escalator.calls[0].count)
	// The failed attempt itself is still persisted.
	require.Len(t, f.store.logged, 1)
}

func TestProcessPatternFailureRecordsNegativeOutcome(t *testing.T) {
	f := newFixture()
	f.learner.match = &learning.Match{
		Pattern: models.RemediationPattern{
			ID:               9,
			SolutionCommands: []string{"docker restart grafana"},
			RiskLevel:        models.RiskLow,
		},
		Decision: learning.DecisionApply,
	}
	f.verifier.ok = false
	f.verifier.msg = "still firing"

	res := f.p.Process(context.Background(), firing("GrafanaUnhealthy", "nas:3000"))

	assert.Equal(t, models.OutcomeFailed, res.Outcome)
	require.Len(t, f.learner.outcomes, 1)
	assert.False(t, f.learner.outcomes[0].success)
}

func TestProcessCommandFailureSkipsVerification(t *testing.T) {
	f := newFixture()
	f.exec.result = &sshexec.Result{
		Success:   false,
		Outputs:   []string{"Error: no such container"},
		ExitCodes: []int{1},
		Duration:  time.Second,
		Error:     `command "docker restart grafana" exited 1`,
	}

	res := f.p.Process(context.Background(), firing("GrafanaUnhealthy", "nas:3000"))

	assert.Equal(t, models.OutcomeFailed, res.Outcome)
	require.Len(t, f.store.logged, 1)
	logged := f.store.logged[0]
	assert.Equal(t, []int{1}, logged.ExitCodes)
	assert.True(t, logged.ArraysConsistent())
}

func TestProcessTransportFailureKeepsArraysEmpty(t *testing.T) {
	f := newFixture()
	f.exec.result = &sshexec.Result{
		Success:   false,
		Outputs:   []string{},
		ExitCodes: []int{-1},
		Error:     "ssh connect nas: connection refused",
	}

	res := f.p.Process(context.Background(), firing("GrafanaUnhealthy", "nas:3000"))

	assert.Equal(t, models.OutcomeFailed, res.Outcome)
	require.Len(t, f.store.logged, 1)
	logged := f.store.logged[0]
	assert.Empty(t, logged.CommandsExecuted)
	assert.True(t, logged.ArraysConsistent())
	assert.Contains(t, logged.ErrorMessage, "connection refused")
}

func TestProcessInvestigationErrorEscalates(t *testing.T) {
	f := newFixture()
	f.agent.inv = nil
	f.agent.err = errors.New("anthropic api 500")

	res := f.p.Process(context.Background(), firing("GrafanaUnhealthy", "nas:3000"))

	assert.Equal(t, models.OutcomeError, res.Outcome)
	require.Len(t, f.escalator.calls, 1)
	assert.Contains(t, f.escalator.calls[0].reason, "anthropic api 500")
}

func TestProcessDatabaseOutageQueuesAttempt(t *testing.T) {
	f := newFixture()
	f.store.logErr = errors.New("pool exhausted")

	res := f.p.Process(context.Background(), firing("GrafanaUnhealthy", "nas:3000"))

	assert.Equal(t, models.OutcomeRemediated, res.Outcome)
	assert.Zero(t, res.AttemptID)
	assert.Equal(t, 1, f.queue.Len())
}

func TestProcessPlanTargetHostOverridesRouting(t *testing.T) {
	f := newFixture()
	f.agent.inv.Plan.TargetHost = "pi"

	_ = f.p.Process(context.Background(), firing("GrafanaUnhealthy", "nas:3000"))
	assert.Equal(t, "pi", f.exec.lastHost)
}

func TestProcessIncidentChildSkippedAcrossRestart(t *testing.T) {
	// The correlation window is rebuilt from persisted attempts, so a root
	// cause remediated just before a restart still claims its children.
	f := newFixture()
	f.store.recentAttempts = []models.RemediationAttempt{
		{AlertName: "DockerDaemonDown", AlertInstance: "nas:9100"},
	}

	res := f.p.Process(context.Background(), firing("ContainerDown", "nas:9100"))

	assert.Equal(t, models.OutcomeSkipped, res.Outcome)
	assert.Contains(t, res.Message, "DockerDaemonDown")
	assert.Zero(t, f.exec.calls)
}

func TestProcessSuppressorSeesRoutedHost(t *testing.T) {
	f := newFixture()
	alert := firing("ContainerDown", "cadvisor:8080")
	alert.Labels["remediation_host"] = "pi"

	_ = f.p.Process(context.Background(), alert)

	assert.Equal(t, "pi", f.supp.lastTarget)
}

func TestProcessSnapshotSavedBeforeExecution(t *testing.T) {
	f := newFixture()

	res := f.p.Process(context.Background(), firing("GrafanaUnhealthy", "nas:3000"))

	assert.Equal(t, models.OutcomeRemediated, res.Outcome)
	// One probe round plus the plan itself.
	assert.Equal(t, 2, f.exec.calls)
	require.Len(t, f.store.snapshots, 1)
	snap := f.store.snapshots[0]
	assert.Equal(t, "nas", snap.Host)
	assert.Equal(t, "docker", snap.TargetType)
	assert.Equal(t, "GrafanaUnhealthy", snap.TargetName)
	assert.NotEmpty(t, snap.SnapshotID)
	assert.Contains(t, snap.AlertContext, "nas:3000")
}

func TestProcessDiagnosticOnlySkipsSnapshot(t *testing.T) {
	f := newFixture()
	f.agent.inv.Plan.Commands = []string{"docker ps", "df -h"}
	f.exec.result = successResult(f.agent.inv.Plan.Commands)

	_ = f.p.Process(context.Background(), firing("HighMemoryUsage", "nas:9100"))

	assert.Empty(t, f.store.snapshots)
}

func TestHandleWebhookResolvedClearsState(t *testing.T) {
	f := newFixture()
	payload := &models.WebhookPayload{
		Status: "resolved",
		Alerts: []models.WebhookAlert{{
			Status:      models.AlertStatusResolved,
			Fingerprint: "fp-1",
			Labels:      map[string]string{"alertname": "DockerDaemonDown", "instance": "nas:9100"},
		}},
	}

	results := f.p.HandleWebhook(context.Background(), payload)

	require.Len(t, results, 1)
	assert.Equal(t, []string{"DockerDaemonDown/nas:9100"}, f.store.attemptsCleared)
	assert.Equal(t, []string{"DockerDaemonDown/nas:9100"}, f.store.cooldownsCleared)
	assert.Equal(t, []string{"DockerDaemonDown"}, f.supp.cleared)
}

func TestHandleWebhookRejectsEmptyFingerprint(t *testing.T) {
	f := newFixture()
	payload := &models.WebhookPayload{
		Status: "firing",
		Alerts: []models.WebhookAlert{{
			Status: models.AlertStatusFiring,
			Labels: map[string]string{"alertname": "ContainerDown"},
		}},
	}

	results := f.p.HandleWebhook(context.Background(), payload)

	require.Len(t, results, 1)
	assert.Equal(t, models.OutcomeRejected, results[0].Outcome)
}
