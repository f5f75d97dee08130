// Package preserve implements the self-preservation handoff: the engine
// cannot restart itself, its database, or its own docker daemon from inside
// a remediation, so it records a durable handoff and delegates the restart
// to an external orchestrator which calls back once the engine is healthy.
package preserve

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/homelab-ops/remedy/pkg/models"
)

// ErrTooManyRestarts means the context has already been through the maximum
// number of self-restarts; the alert must be escalated instead.
var ErrTooManyRestarts = errors.New("self-restart limit reached")

// ErrOrchestratorUnavailable means no restart orchestrator is configured.
var ErrOrchestratorUnavailable = errors.New("restart orchestrator is not configured")

// ErrHandoffNotFound is returned by Resume for an unknown handoff id.
var ErrHandoffNotFound = errors.New("handoff not found")

// HandoffStore is the persistence surface. *store.Store satisfies it.
type HandoffStore interface {
	CreateHandoff(ctx context.Context, h *models.Handoff) error
	GetHandoff(ctx context.Context, handoffID string) (*models.Handoff, error)
	ActiveHandoff(ctx context.Context) (*models.Handoff, error)
	UpdateHandoffStatus(ctx context.Context, handoffID string, status models.HandoffStatus, errMsg, externalExecID string) error
	CleanupStaleHandoffs(ctx context.Context, maxAge time.Duration) (int64, error)
}

// restartCommands maps each restart target to the command the external
// orchestrator runs. These never pass through the command validator; the
// orchestrator is trusted.
var restartCommands = map[models.RestartTarget]string{
	models.RestartTargetEngine:       "docker restart remedy",
	models.RestartTargetEngineDB:     "docker restart remedy-db",
	models.RestartTargetDockerDaemon: "systemctl restart docker",
	models.RestartTargetHost:         "systemctl reboot",
}

// Config tunes the manager.
type Config struct {
	EngineURL      string // base URL for callback and health endpoints
	MaxRestarts    int    // default 2
	TimeoutMinutes int    // orchestrator budget, default 10
	StaleAge       time.Duration
}

// Manager owns the handoff lifecycle.
type Manager struct {
	store        HandoffStore
	orchestrator Orchestrator
	cfg          Config
}

// NewManager creates a Manager. orchestrator may be nil; Initiate then
// fails with ErrOrchestratorUnavailable.
func NewManager(store HandoffStore, orchestrator Orchestrator, cfg Config) *Manager {
	if cfg.MaxRestarts <= 0 || cfg.MaxRestarts > maxSelfRestartsHard {
		cfg.MaxRestarts = 2
	}
	if cfg.TimeoutMinutes <= 0 {
		cfg.TimeoutMinutes = 10
	}
	if cfg.StaleAge <= 0 {
		cfg.StaleAge = time.Hour
	}
	return &Manager{store: store, orchestrator: orchestrator, cfg: cfg}
}

// Initiate records a handoff and triggers the external restart. Returns the
// handoff id on success. At most one handoff can be active; a second
// initiation fails with the store's conflict error.
func (m *Manager) Initiate(ctx context.Context, target models.RestartTarget, reason string, rc *RemediationContext) (string, error) {
	if !models.ValidRestartTarget(target) {
		return "", fmt.Errorf("invalid restart target %q", target)
	}
	if m.orchestrator == nil {
		return "", ErrOrchestratorUnavailable
	}
	if rc == nil {
		rc = &RemediationContext{}
	}
	if rc.RestartCount >= m.cfg.MaxRestarts {
		return "", fmt.Errorf("%w: %d restarts already", ErrTooManyRestarts, rc.RestartCount)
	}
	rc.RestartCount++

	handoff := &models.Handoff{
		HandoffID:          uuid.NewString(),
		RestartTarget:      target,
		RestartReason:      reason,
		RemediationContext: marshalContext(rc),
		Status:             models.HandoffPending,
		CallbackURL:        m.cfg.EngineURL + "/resume",
	}
	if err := m.store.CreateHandoff(ctx, handoff); err != nil {
		return "", fmt.Errorf("create handoff: %w", err)
	}
	slog.Info("self-preservation handoff created",
		"handoff_id", handoff.HandoffID, "target", target, "reason", reason)

	execID, err := m.orchestrator.Trigger(ctx, TriggerPayload{
		HandoffID:      handoff.HandoffID,
		RestartCommand: restartCommands[target],
		CallbackURL:    handoff.CallbackURL,
		HealthURL:      m.cfg.EngineURL + "/health",
		TimeoutMinutes: m.cfg.TimeoutMinutes,
	})
	if err != nil {
		if uerr := m.store.UpdateHandoffStatus(ctx, handoff.HandoffID, models.HandoffFailed, err.Error(), ""); uerr != nil {
			slog.Warn("failed to mark handoff failed", "handoff_id", handoff.HandoffID, "error", uerr)
		}
		return "", fmt.Errorf("trigger restart workflow: %w", err)
	}

	if err := m.store.UpdateHandoffStatus(ctx, handoff.HandoffID, models.HandoffInProgress, "", execID); err != nil {
		slog.Warn("failed to mark handoff in progress", "handoff_id", handoff.HandoffID, "error", err)
	}
	return handoff.HandoffID, nil
}

// Resume completes a handoff after the orchestrator's callback and returns
// the embedded remediation context.
func (m *Manager) Resume(ctx context.Context, handoffID string) (*RemediationContext, error) {
	handoff, err := m.store.GetHandoff(ctx, handoffID)
	if err != nil {
		return nil, fmt.Errorf("load handoff %s: %w", handoffID, err)
	}
	if handoff == nil {
		return nil, fmt.Errorf("%w: %s", ErrHandoffNotFound, handoffID)
	}
	if handoff.Status.IsTerminal() {
		return nil, fmt.Errorf("handoff %s already %s", handoffID, handoff.Status)
	}

	if err := m.store.UpdateHandoffStatus(ctx, handoffID, models.HandoffCompleted, "", handoff.ExternalExecID); err != nil {
		return nil, fmt.Errorf("complete handoff %s: %w", handoffID, err)
	}

	var rc RemediationContext
	if len(handoff.RemediationContext) > 0 {
		if err := json.Unmarshal(handoff.RemediationContext, &rc); err != nil {
			slog.Warn("handoff context is not parseable, resuming without it",
				"handoff_id", handoffID, "error", err)
		}
	}
	slog.Info("handoff resumed", "handoff_id", handoffID,
		"alert", rc.AlertName, "restart_count", rc.RestartCount)
	return &rc, nil
}

// Startup runs the boot-time recovery: stale handoffs are timed out in
// bounded batches, and an active handoff (the engine just came back from
// its own restart) is returned for immediate resume.
func (m *Manager) Startup(ctx context.Context) (*models.Handoff, error) {
	reaped, err := m.store.CleanupStaleHandoffs(ctx, m.cfg.StaleAge)
	if err != nil {
		slog.Warn("stale handoff cleanup failed", "error", err)
	} else if reaped > 0 {
		slog.Info("timed out stale handoffs", "count", reaped)
	}

	active, err := m.store.ActiveHandoff(ctx)
	if err != nil {
		return nil, fmt.Errorf("check active handoff: %w", err)
	}
	if active != nil {
		slog.Info("active handoff found at startup, resuming",
			"handoff_id", active.HandoffID, "target", active.RestartTarget)
	}
	return active, nil
}
