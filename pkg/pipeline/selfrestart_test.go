package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homelab-ops/remedy/pkg/models"
	"github.com/homelab-ops/remedy/pkg/preserve"
)

type fakePreserver struct {
	target models.RestartTarget
	rc     *preserve.RemediationContext
	err    error
}

func (f *fakePreserver) Initiate(_ context.Context, target models.RestartTarget, _ string, rc *preserve.RemediationContext) (string, error) {
	f.target = target
	f.rc = rc
	return "handoff-1", f.err
}

func TestSelfRestartTargetDetection(t *testing.T) {
	cases := []struct {
		cmd    string
		target models.RestartTarget
		found  bool
	}{
		{"docker restart remedy", models.RestartTargetEngine, true},
		{"docker restart remedy-db", models.RestartTargetEngineDB, true},
		{"docker stop remedy-postgres", models.RestartTargetEngineDB, true},
		{"systemctl restart docker", models.RestartTargetDockerDaemon, true},
		{"docker restart grafana", "", false},
		{"systemctl restart wireguard", "", false},
	}
	for _, tc := range cases {
		target, _, found := selfRestartTarget([]string{tc.cmd})
		assert.Equal(t, tc.found, found, tc.cmd)
		if tc.found {
			assert.Equal(t, tc.target, target, tc.cmd)
		}
	}
}

func TestProcessSelfTargetingPlanInitiatesHandoff(t *testing.T) {
	f := newFixture()
	pres := &fakePreserver{}
	f.p.SetPreserver(pres)
	f.agent.inv.Plan.Commands = []string{"docker restart remedy-db"}

	res := f.p.Process(context.Background(), firing("PostgresDown", "nas:5432"))

	assert.Equal(t, models.OutcomeNoAction, res.Outcome)
	assert.Contains(t, res.Message, "handoff-1")
	assert.Equal(t, models.RestartTargetEngineDB, pres.target)
	require.NotNil(t, pres.rc)
	assert.Equal(t, []string{"docker restart remedy-db"}, pres.rc.PendingCommands)
	assert.Zero(t, f.exec.calls)
}

func TestProcessSelfTargetingPlanFallsBackToRejection(t *testing.T) {
	f := newFixture()
	pres := &fakePreserver{err: preserve.ErrTooManyRestarts}
	f.p.SetPreserver(pres)
	f.agent.inv.Plan.Commands = []string{"docker restart remedy"}

	res := f.p.Process(context.Background(), firing("RemedyUnhealthy", "nas:8080"))

	// The validator's engine-service rule catches the command.
	assert.Equal(t, models.OutcomeRejected, res.Outcome)
	assert.Zero(t, f.exec.calls)
}

func TestProcessSelfTargetingPlanWithoutPreserverRejected(t *testing.T) {
	f := newFixture()
	f.agent.inv.Plan.Commands = []string{"docker restart remedy"}

	res := f.p.Process(context.Background(), firing("RemedyUnhealthy", "nas:8080"))
	assert.Equal(t, models.OutcomeRejected, res.Outcome)
}

func resumeContext() *preserve.RemediationContext {
	return &preserve.RemediationContext{
		AlertName:        "PostgresDown",
		AlertInstance:    "nas:5432",
		AlertFingerprint: "fp-PostgresDown",
		AttemptNumber:    2,
		AIAnalysis:       "database container wedged",
		AIReasoning:      "restart clears it",
		PendingCommands:  []string{"docker restart remedy-db", "docker restart grafana"},
		RiskLevel:        string(models.RiskMedium),
		RestartCount:     1,
	}
}

func TestResumeFromContextExecutesRemainingCommands(t *testing.T) {
	f := newFixture()

	res := f.p.ResumeFromContext(context.Background(), resumeContext())

	assert.Equal(t, models.OutcomeRemediated, res.Outcome)
	// The orchestrator performed the engine-DB restart; only the rest runs.
	assert.Equal(t, 1, f.exec.calls)
	assert.Equal(t, []string{"docker restart grafana"}, f.exec.lastCmds)

	require.Len(t, f.store.logged, 1)
	logged := f.store.logged[0]
	assert.True(t, logged.Success)
	assert.Equal(t, 2, logged.AttemptNumber)
	assert.Equal(t, []string{"docker restart remedy-db", "docker restart grafana"}, logged.CommandsExecuted)
	assert.Equal(t, "performed by restart orchestrator", logged.CommandOutputs[0])
	assert.True(t, logged.ArraysConsistent())
	assert.Contains(t, f.notifier.successes[0], "PostgresDown")
}

func TestResumeFromContextVerifiesOrchestratorOnlyRestart(t *testing.T) {
	f := newFixture()
	rc := resumeContext()
	rc.PendingCommands = []string{"docker restart remedy-db"}

	res := f.p.ResumeFromContext(context.Background(), rc)

	assert.Equal(t, models.OutcomeRemediated, res.Outcome)
	// Nothing left to run over SSH; verification alone decides.
	assert.Zero(t, f.exec.calls)
	require.Len(t, f.store.logged, 1)
	assert.Equal(t, []string{"docker restart remedy-db"}, f.store.logged[0].CommandsExecuted)
}

func TestResumeFromContextFinalAttemptFailureEscalates(t *testing.T) {
	f := newFixture()
	f.verifier.ok = false
	f.verifier.msg = "still firing"
	rc := resumeContext()
	rc.AttemptNumber = 3

	res := f.p.ResumeFromContext(context.Background(), rc)

	assert.Equal(t, models.OutcomeEscalated, res.Outcome)
	require.Len(t, f.escalator.calls, 1)
	assert.Equal(t, 3, f.escalator.calls[0].count)
	require.Len(t, f.store.logged, 1)
	assert.False(t, f.store.logged[0].Success)
}

func TestResumeFromContextRevalidatesRemaining(t *testing.T) {
	f := newFixture()
	rc := resumeContext()
	rc.PendingCommands = []string{"docker restart remedy-db", "rm -rf /var/lib/docker"}

	res := f.p.ResumeFromContext(context.Background(), rc)

	assert.Equal(t, models.OutcomeRejected, res.Outcome)
	assert.Zero(t, f.exec.calls)
	require.Len(t, f.store.logged, 1)
	assert.Equal(t, 2, f.store.logged[0].AttemptNumber)
}
