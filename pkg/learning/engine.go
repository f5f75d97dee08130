// Package learning turns verified remediation outcomes into reusable
// patterns and retrieves the best pattern for a new alert, so recurring
// incidents skip the LLM entirely.
package learning

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/homelab-ops/remedy/pkg/models"
)

// Candidate gates.
const (
	minSuccessCount = 2
	minConfidence   = 0.5
)

// Effective-confidence decision thresholds.
const (
	applyThreshold   = 0.75
	contextThreshold = 0.50
)

// Decision says how the pipeline should use a matched pattern.
type Decision string

// Match decisions.
const (
	DecisionApply   Decision = "apply"   // run the pattern's commands, skip the LLM
	DecisionContext Decision = "context" // hand the pattern to the LLM as a hint
	DecisionIgnore  Decision = "ignore"
)

// Match is a ranked pattern hit for a live alert.
type Match struct {
	Pattern    models.RemediationPattern
	Similarity float64
	Effective  float64
	Decision   Decision
}

// PatternStore is the persistence surface the engine needs. *store.Store
// satisfies it.
type PatternStore interface {
	PatternsForAlert(ctx context.Context, alertName string) ([]models.RemediationPattern, error)
	UpsertPatternSuccess(ctx context.Context, p *models.RemediationPattern, execTime float64) error
	RecordPatternOutcome(ctx context.Context, id int64, success bool, execTime float64) error
	RecordFailurePattern(ctx context.Context, fp *models.FailurePattern) error
}

type cacheEntry struct {
	patterns  []models.RemediationPattern
	fetchedAt time.Time
}

// Engine is the learning engine with a per-alert pattern cache.
type Engine struct {
	store    PatternStore
	cacheTTL time.Duration

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// New creates an Engine. cacheTTL <= 0 defaults to 5 minutes.
func New(store PatternStore, cacheTTL time.Duration) *Engine {
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	return &Engine{
		store:    store,
		cacheTTL: cacheTTL,
		cache:    make(map[string]cacheEntry),
	}
}

// Lookup returns the best usable pattern match for the alert, or nil when
// nothing clears the ignore threshold.
func (e *Engine) Lookup(ctx context.Context, alert *models.Alert) (*Match, error) {
	patterns, err := e.patternsFor(ctx, alert.Name)
	if err != nil {
		return nil, fmt.Errorf("pattern lookup for %s: %w", alert.Name, err)
	}

	alertFP := SymptomFingerprint(alert)
	alertSystem := alert.Labels["system"]
	if alertSystem == "" {
		alertSystem = alert.Labels["remediation_host"]
	}

	var best *Match
	for i := range patterns {
		p := patterns[i]
		if p.SuccessCount < minSuccessCount || p.ConfidenceScore < minConfidence {
			continue
		}
		if !targetHostCompatible(alertSystem, p.TargetHost) {
			continue
		}

		sim := Similarity(p.SymptomFingerprint, alertFP)
		effective := p.ConfidenceScore * sim
		if best == nil || effective > best.Effective {
			best = &Match{Pattern: p, Similarity: sim, Effective: effective}
		}
	}
	if best == nil {
		return nil, nil
	}

	switch {
	case best.Effective >= applyThreshold:
		best.Decision = DecisionApply
	case best.Effective >= contextThreshold:
		best.Decision = DecisionContext
	default:
		return nil, nil
	}
	slog.Info("pattern matched",
		"alert", alert.Name, "pattern_id", best.Pattern.ID,
		"similarity", fmt.Sprintf("%.2f", best.Similarity),
		"effective", fmt.Sprintf("%.2f", best.Effective),
		"decision", best.Decision)
	return best, nil
}

// targetHostCompatible enforces target-host discipline: alerts pinned to a
// system only accept patterns pinned to the same system.
func targetHostCompatible(alertSystem, patternTarget string) bool {
	if alertSystem == "" {
		return true
	}
	if patternTarget == "" {
		return false
	}
	return strings.EqualFold(alertSystem, patternTarget)
}

// ExtractPattern records a verified successful remediation as a pattern
// (insert or success-update on the existing row).
func (e *Engine) ExtractPattern(ctx context.Context, alert *models.Alert, commands []string, execTime float64, rootCause string) error {
	pattern := &models.RemediationPattern{
		AlertName:          alert.Name,
		Category:           alert.Labels["category"],
		SymptomFingerprint: SymptomFingerprint(alert),
		RootCause:          rootCause,
		SolutionCommands:   commands,
		RiskLevel:          models.RiskLow,
		TargetHost:         alert.Labels["system"],
		Enabled:            true,
	}
	if pattern.TargetHost == "" {
		pattern.TargetHost = alert.Labels["remediation_host"]
	}
	if err := e.store.UpsertPatternSuccess(ctx, pattern, execTime); err != nil {
		return fmt.Errorf("extract pattern for %s: %w", alert.Name, err)
	}
	e.invalidate(alert.Name)
	return nil
}

// RecordOutcome updates an applied pattern's statistics after verification.
func (e *Engine) RecordOutcome(ctx context.Context, alertName string, patternID int64, success bool, execTime float64) error {
	if err := e.store.RecordPatternOutcome(ctx, patternID, success, execTime); err != nil {
		return fmt.Errorf("record pattern outcome %d: %w", patternID, err)
	}
	e.invalidate(alertName)
	return nil
}

// RecordFailure registers a verified-failed command set so the agent can be
// warned away from repeating it.
func (e *Engine) RecordFailure(ctx context.Context, alert *models.Alert, commands []string, reason string) error {
	fp := &models.FailurePattern{
		PatternSignature:   models.FailureSignature(alert.Name, commands),
		AlertName:          alert.Name,
		AlertInstance:      alert.Instance,
		SymptomFingerprint: SymptomFingerprint(alert),
		CommandsAttempted:  commands,
		FailureReason:      reason,
	}
	if err := e.store.RecordFailurePattern(ctx, fp); err != nil {
		return fmt.Errorf("record failure pattern for %s: %w", alert.Name, err)
	}
	return nil
}

// patternsFor returns the cached candidate list for an alert name,
// refreshing it when the TTL lapsed. The list is sorted by
// (confidence desc, usage desc).
func (e *Engine) patternsFor(ctx context.Context, alertName string) ([]models.RemediationPattern, error) {
	e.mu.Lock()
	entry, ok := e.cache[alertName]
	e.mu.Unlock()
	if ok && time.Since(entry.fetchedAt) < e.cacheTTL {
		return entry.patterns, nil
	}

	patterns, err := e.store.PatternsForAlert(ctx, alertName)
	if err != nil {
		// Serve stale on refresh failure rather than dropping to the LLM.
		if ok {
			slog.Warn("pattern cache refresh failed, serving stale",
				"alert", alertName, "error", err)
			return entry.patterns, nil
		}
		return nil, err
	}
	sort.SliceStable(patterns, func(i, j int) bool {
		if patterns[i].ConfidenceScore != patterns[j].ConfidenceScore {
			return patterns[i].ConfidenceScore > patterns[j].ConfidenceScore
		}
		return patterns[i].UsageCount > patterns[j].UsageCount
	})

	e.mu.Lock()
	e.cache[alertName] = cacheEntry{patterns: patterns, fetchedAt: time.Now()}
	e.mu.Unlock()
	return patterns, nil
}

func (e *Engine) invalidate(alertName string) {
	e.mu.Lock()
	delete(e.cache, alertName)
	e.mu.Unlock()
}
