// Package suppress decides whether a firing alert should be muted before
// any remediation work is spent on it: offline target host, known cascade
// child of an active root cause, or active maintenance window.
package suppress

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

// summaryFlushInterval is how often per-host suppression summaries are
// consolidated into one notification.
const summaryFlushInterval = 15 * time.Minute

// Availability answers whether a host is reachable. *hostmon.Monitor
// satisfies it.
type Availability interface {
	IsAvailable(host string) bool
}

// MaintenanceStore resolves active maintenance windows. *store.Store
// satisfies it.
type MaintenanceStore interface {
	ActiveMaintenanceWindowFor(ctx context.Context, host string) (*models.MaintenanceWindow, error)
	IncrementSuppressedCount(ctx context.Context, windowID int64) error
}

// Notifier receives the consolidated suppression summary. May be nil.
type Notifier interface {
	Notify(ctx context.Context, title, message string) error
}

// cascadeChildren maps alerts that are known downstream symptoms to the
// root-cause alert that explains them.
var cascadeChildren = map[string]string{
	"OutpostDown":          "WireGuardVPNDown",
	"ContainerDown":        "DockerDaemonDown",
	"GrafanaUnhealthy":     "PostgresDown",
	"DNSResolutionFailed":  "NetworkGatewayDown",
	"ZigbeeDevicesOffline": "Zigbee2MQTTDown",
}

// Decision is the outcome of a suppression check.
type Decision struct {
	Suppressed bool
	Reason     string
}

// Suppressor evaluates the suppression rules and tracks active root causes
// and per-host suppression counts.
type Suppressor struct {
	availability Availability
	maintenance  MaintenanceStore
	notifier     Notifier

	mu         sync.Mutex
	rootCauses map[string]time.Time
	hostCounts map[string]int

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a Suppressor.
func New(availability Availability, maintenance MaintenanceStore, notifier Notifier) *Suppressor {
	return &Suppressor{
		availability: availability,
		maintenance:  maintenance,
		notifier:     notifier,
		rootCauses:   make(map[string]time.Time),
		hostCounts:   make(map[string]int),
		stopCh:       make(chan struct{}),
	}
}

// Check applies the rules in order: offline host, cascade child of an
// active root cause, maintenance window. First match suppresses. The host
// rules key on targetHost, the host the remediation would actually touch;
// empty falls back to the instance label.
func (s *Suppressor) Check(ctx context.Context, alert *models.Alert, targetHost string) Decision {
	host := targetHost
	if host == "" {
		host = models.HostFromInstance(alert.Instance)
	}

	if host != "" && s.availability != nil && !s.availability.IsAvailable(host) {
		s.mu.Lock()
		s.hostCounts[host]++
		s.mu.Unlock()
		return Decision{Suppressed: true, Reason: fmt.Sprintf("Host %s is offline", host)}
	}

	if root, ok := cascadeChildren[alert.Name]; ok {
		s.mu.Lock()
		_, active := s.rootCauses[root]
		s.mu.Unlock()
		if active {
			return Decision{Suppressed: true, Reason: "Cascading from " + root}
		}
	}

	if s.maintenance != nil {
		window, err := s.maintenance.ActiveMaintenanceWindowFor(ctx, host)
		if err != nil {
			slog.Warn("maintenance window lookup failed", "host", host, "error", err)
		} else if window != nil {
			if err := s.maintenance.IncrementSuppressedCount(ctx, window.ID); err != nil {
				slog.Warn("failed to bump maintenance suppression counter",
					"window_id", window.ID, "error", err)
			}
			scope := window.Host
			if scope == "" {
				scope = "all hosts"
			}
			return Decision{Suppressed: true, Reason: fmt.Sprintf("Maintenance window active for %s", scope)}
		}
	}

	return Decision{}
}

// RegisterRootCause marks a root-cause alert as active so its cascade
// children get suppressed. First sight wins; re-registration refreshes the
// timestamp.
func (s *Suppressor) RegisterRootCause(alertName string) {
	if _, isRoot := rootCauseNames()[alertName]; !isRoot {
		return
	}
	s.mu.Lock()
	_, existed := s.rootCauses[alertName]
	s.rootCauses[alertName] = time.Now().UTC()
	s.mu.Unlock()
	if !existed {
		slog.Info("root cause registered", "alert", alertName)
	}
}

// ClearRootCause removes an active root cause, typically on resolution.
func (s *Suppressor) ClearRootCause(alertName string) {
	s.mu.Lock()
	_, existed := s.rootCauses[alertName]
	delete(s.rootCauses, alertName)
	s.mu.Unlock()
	if existed {
		slog.Info("root cause cleared", "alert", alertName)
	}
}

// ActiveRootCauses returns the currently registered root causes, sorted.
func (s *Suppressor) ActiveRootCauses() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.rootCauses))
	for name := range s.rootCauses {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Start launches the periodic summary flush.
func (s *Suppressor) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(summaryFlushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.FlushSummary(ctx)
			}
		}
	}()
}

// Stop halts the summary flush loop.
func (s *Suppressor) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

// FlushSummary emits one consolidated notification for all per-host
// suppression counts since the last flush, then resets them.
func (s *Suppressor) FlushSummary(ctx context.Context) {
	s.mu.Lock()
	counts := s.hostCounts
	s.hostCounts = make(map[string]int)
	s.mu.Unlock()

	if len(counts) == 0 || s.notifier == nil {
		return
	}

	hosts := make([]string, 0, len(counts))
	for host := range counts {
		hosts = append(hosts, host)
	}
	sort.Strings(hosts)

	var b strings.Builder
	for _, host := range hosts {
		fmt.Fprintf(&b, "- %s: %d alert(s) suppressed while offline\n", host, counts[host])
	}
	if err := s.notifier.Notify(ctx, "Suppressed alerts summary", b.String()); err != nil {
		slog.Warn("suppression summary notification failed", "error", err)
	}
}

// rootCauseNames is the set of alerts that can act as cascade roots.
func rootCauseNames() map[string]struct{} {
	roots := make(map[string]struct{}, len(cascadeChildren))
	for _, root := range cascadeChildren {
		roots[root] = struct{}{}
	}
	return roots
}
