// Package hostmon tracks per-host availability from SSH connection outcomes.
// Hosts that fail repeatedly go OFFLINE so the suppressor can mute their
// alerts instead of burning remediation attempts against a dead box.
package hostmon

import (
	"context"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/homelab-ops/remedy/pkg/config"
	"github.com/homelab-ops/remedy/pkg/models"
)

// offlineThreshold is the consecutive-failure count that flips a host
// OFFLINE.
const offlineThreshold = 3

// recoveryPingInterval is how often OFFLINE hosts get a reachability probe.
const recoveryPingInterval = 5 * time.Minute

// StatusStore persists host state transitions. *store.Store satisfies it.
type StatusStore interface {
	RecordHostStatus(ctx context.Context, r *models.HostStatusRecord) error
}

// Notifier receives availability notifications. May be nil.
type Notifier interface {
	Notify(ctx context.Context, title, message string) error
}

type hostState struct {
	status       models.HostStatus
	failureCount int
	lastSuccess  *time.Time
	lastCheck    *time.Time
	lastError    string
}

// Monitor holds the availability state machine for the fleet.
type Monitor struct {
	addresses map[string]string
	store     StatusStore
	notifier  Notifier

	mu     sync.Mutex
	states map[string]*hostState

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a Monitor over the configured fleet. All hosts start ONLINE.
func New(hosts []config.SSHHost, store StatusStore, notifier Notifier) *Monitor {
	addresses := make(map[string]string, len(hosts))
	states := make(map[string]*hostState, len(hosts))
	for _, h := range hosts {
		key := strings.ToLower(h.Name)
		addresses[key] = h.Address
		states[key] = &hostState{status: models.HostOnline}
	}
	return &Monitor{
		addresses: addresses,
		store:     store,
		notifier:  notifier,
		states:    states,
		stopCh:    make(chan struct{}),
	}
}

// RecordSuccess marks a successful SSH connection. OFFLINE and CHECKING
// hosts return to ONLINE; the OFFLINE path emits a recovery notification.
func (m *Monitor) RecordSuccess(host string) {
	key := strings.ToLower(host)
	now := time.Now().UTC()

	m.mu.Lock()
	st, ok := m.states[key]
	if !ok {
		st = &hostState{}
		m.states[key] = st
	}
	wasOffline := st.status == models.HostOffline
	st.status = models.HostOnline
	st.failureCount = 0
	st.lastSuccess = &now
	st.lastCheck = &now
	st.lastError = ""
	record := m.recordLocked(key, st)
	m.mu.Unlock()

	m.persist(record)
	if wasOffline {
		slog.Info("host recovered", "host", host)
		m.notify("Host recovered", "Host "+host+" is reachable again; alert processing resumed.")
	}
}

// RecordFailure marks a failed SSH connection. The third consecutive failure
// flips the host OFFLINE and emits a notification.
func (m *Monitor) RecordFailure(host string, err error) {
	key := strings.ToLower(host)
	now := time.Now().UTC()

	m.mu.Lock()
	st, ok := m.states[key]
	if !ok {
		st = &hostState{status: models.HostOnline}
		m.states[key] = st
	}
	st.failureCount++
	st.lastCheck = &now
	if err != nil {
		st.lastError = err.Error()
	}
	wentOffline := st.failureCount >= offlineThreshold && st.status != models.HostOffline
	if wentOffline {
		st.status = models.HostOffline
	}
	record := m.recordLocked(key, st)
	failures := st.failureCount
	m.mu.Unlock()

	m.persist(record)
	if wentOffline {
		slog.Warn("host marked offline", "host", host, "failures", failures, "error", err)
		m.notify("Host offline", "Host "+host+" failed "+
			"repeated connection attempts; its alerts are now suppressed.")
	}
}

// IsAvailable reports whether remediation against the host should proceed.
// Unknown hosts are treated as available.
func (m *Monitor) IsAvailable(host string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[strings.ToLower(host)]
	if !ok {
		return true
	}
	return st.status != models.HostOffline
}

// Status returns the current state of one host.
func (m *Monitor) Status(host string) (models.HostStatus, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[strings.ToLower(host)]
	if !ok {
		return "", false
	}
	return st.status, true
}

// Statuses returns a snapshot of all tracked hosts for the health surface.
func (m *Monitor) Statuses() map[string]models.HostStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]models.HostStatus, len(m.states))
	for host, st := range m.states {
		out[host] = st.status
	}
	return out
}

// OfflineHosts returns the hosts currently OFFLINE.
func (m *Monitor) OfflineHosts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var hosts []string
	for host, st := range m.states {
		if st.status == models.HostOffline {
			hosts = append(hosts, host)
		}
	}
	return hosts
}

// Start launches the recovery ping loop for OFFLINE hosts.
func (m *Monitor) Start(ctx context.Context) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(recoveryPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.pingOfflineHosts(ctx)
			}
		}
	}()
	slog.Info("host monitor started", "hosts", len(m.addresses))
}

// Stop halts the recovery loop.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()
}

// pingOfflineHosts probes OFFLINE hosts in parallel. A reachable host moves
// to CHECKING; the next real SSH connection confirms ONLINE.
func (m *Monitor) pingOfflineHosts(ctx context.Context) {
	offline := m.OfflineHosts()
	if len(offline) == 0 {
		return
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, host := range offline {
		g.Go(func() error {
			if !m.ping(ctx, host) {
				return nil
			}
			now := time.Now().UTC()
			m.mu.Lock()
			st := m.states[host]
			var record *models.HostStatusRecord
			if st != nil && st.status == models.HostOffline {
				st.status = models.HostChecking
				st.lastCheck = &now
				record = m.recordLocked(host, st)
			}
			m.mu.Unlock()
			if record != nil {
				slog.Info("offline host responded to ping", "host", host)
				m.persist(record)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// ping probes the host's SSH port with a plain TCP dial.
func (m *Monitor) ping(ctx context.Context, host string) bool {
	addr, ok := m.addresses[host]
	if !ok {
		return false
	}
	if !strings.Contains(addr, ":") {
		addr += ":22"
	}
	d := net.Dialer{Timeout: 5 * time.Second}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

func (m *Monitor) recordLocked(host string, st *hostState) *models.HostStatusRecord {
	return &models.HostStatusRecord{
		Host:          host,
		Status:        st.status,
		FailureCount:  st.failureCount,
		LastSuccessAt: st.lastSuccess,
		LastCheckAt:   st.lastCheck,
		ErrorMessage:  st.lastError,
		RecordedAt:    time.Now().UTC(),
	}
}

func (m *Monitor) persist(record *models.HostStatusRecord) {
	if m.store == nil || record == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.store.RecordHostStatus(ctx, record); err != nil {
		slog.Warn("failed to persist host status", "host", record.Host, "error", err)
	}
}

func (m *Monitor) notify(title, message string) {
	if m.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.notifier.Notify(ctx, title, message); err != nil {
		slog.Warn("host status notification failed", "error", err)
	}
}
