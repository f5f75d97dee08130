package suppress

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homelab-ops/remedy/pkg/models"
)

type fakeAvailability struct{ offline map[string]bool }

func (f *fakeAvailability) IsAvailable(host string) bool { return !f.offline[host] }

type fakeMaintenanceStore struct {
	window      *models.MaintenanceWindow
	incremented []int64
}

func (f *fakeMaintenanceStore) ActiveMaintenanceWindowFor(_ context.Context, _ string) (*models.MaintenanceWindow, error) {
	return f.window, nil
}

func (f *fakeMaintenanceStore) IncrementSuppressedCount(_ context.Context, windowID int64) error {
	f.incremented = append(f.incremented, windowID)
	return nil
}

type fakeNotifier struct {
	titles   []string
	messages []string
}

func (f *fakeNotifier) Notify(_ context.Context, title, message string) error {
	f.titles = append(f.titles, title)
	f.messages = append(f.messages, message)
	return nil
}

func alert(name, instance string) *models.Alert {
	return &models.Alert{Name: name, Instance: instance}
}

func TestOfflineHostSuppresses(t *testing.T) {
	s := New(&fakeAvailability{offline: map[string]bool{"nas": true}}, nil, nil)
	d := s.Check(context.Background(), alert("ContainerUnhealthy", "nas:8080"), "")
	assert.True(t, d.Suppressed)
	assert.Contains(t, d.Reason, "nas is offline")
}

func TestOnlineHostNotSuppressed(t *testing.T) {
	s := New(&fakeAvailability{}, nil, nil)
	d := s.Check(context.Background(), alert("ContainerUnhealthy", "nas:8080"), "")
	assert.False(t, d.Suppressed)
}

func TestCascadeChildSuppressedWhenRootActive(t *testing.T) {
	s := New(&fakeAvailability{}, nil, nil)
	s.RegisterRootCause("WireGuardVPNDown")

	d := s.Check(context.Background(), alert("OutpostDown", "outpost:80"), "")
	assert.True(t, d.Suppressed)
	assert.Equal(t, "Cascading from WireGuardVPNDown", d.Reason)
}

func TestCascadeChildPassesWhenRootInactive(t *testing.T) {
	s := New(&fakeAvailability{}, nil, nil)
	d := s.Check(context.Background(), alert("OutpostDown", "outpost:80"), "")
	assert.False(t, d.Suppressed)
}

func TestRootCauseClearedOnResolution(t *testing.T) {
	s := New(&fakeAvailability{}, nil, nil)
	s.RegisterRootCause("WireGuardVPNDown")
	require.Equal(t, []string{"WireGuardVPNDown"}, s.ActiveRootCauses())

	s.ClearRootCause("WireGuardVPNDown")
	assert.Empty(t, s.ActiveRootCauses())

	d := s.Check(context.Background(), alert("OutpostDown", "outpost:80"), "")
	assert.False(t, d.Suppressed)
}

func TestNonRootAlertNotRegistered(t *testing.T) {
	s := New(&fakeAvailability{}, nil, nil)
	s.RegisterRootCause("RandomAlert")
	assert.Empty(t, s.ActiveRootCauses())
}

func TestMaintenanceWindowSuppressesAndCounts(t *testing.T) {
	ms := &fakeMaintenanceStore{window: &models.MaintenanceWindow{ID: 7, Host: "nas"}}
	s := New(&fakeAvailability{}, ms, nil)

	d := s.Check(context.Background(), alert("ContainerUnhealthy", "nas:8080"), "")
	assert.True(t, d.Suppressed)
	assert.Contains(t, d.Reason, "Maintenance window")
	assert.Equal(t, []int64{7}, ms.incremented)
}

func TestGlobalMaintenanceWindowReason(t *testing.T) {
	ms := &fakeMaintenanceStore{window: &models.MaintenanceWindow{ID: 3}}
	s := New(&fakeAvailability{}, ms, nil)

	d := s.Check(context.Background(), alert("ContainerUnhealthy", "nas:8080"), "")
	assert.True(t, d.Suppressed)
	assert.Contains(t, d.Reason, "all hosts")
}

func TestCheckKeysOnTargetHost(t *testing.T) {
	// A routing hint can point the remediation at a different host than the
	// instance label; the gates must follow the host that will be touched.
	s := New(&fakeAvailability{offline: map[string]bool{"nas": true}}, nil, nil)

	d := s.Check(context.Background(), alert("ContainerUnhealthy", "pi:8080"), "nas")
	assert.True(t, d.Suppressed)
	assert.Contains(t, d.Reason, "nas is offline")
}

func TestMaintenanceWindowCoversTargetHost(t *testing.T) {
	ms := &fakeMaintenanceStore{window: &models.MaintenanceWindow{ID: 5, Host: "nas"}}
	s := New(&fakeAvailability{}, ms, nil)

	d := s.Check(context.Background(), alert("ContainerUnhealthy", "pi:8080"), "nas")
	assert.True(t, d.Suppressed)
	assert.Contains(t, d.Reason, "Maintenance window")
	assert.Equal(t, []int64{5}, ms.incremented)
}

func TestOfflineRuleWinsOverMaintenance(t *testing.T) {
	ms := &fakeMaintenanceStore{window: &models.MaintenanceWindow{ID: 3}}
	s := New(&fakeAvailability{offline: map[string]bool{"nas": true}}, ms, nil)

	d := s.Check(context.Background(), alert("ContainerUnhealthy", "nas:8080"), "")
	assert.True(t, d.Suppressed)
	assert.Contains(t, d.Reason, "offline")
	assert.Empty(t, ms.incremented)
}

func TestFlushSummaryConsolidates(t *testing.T) {
	n := &fakeNotifier{}
	s := New(&fakeAvailability{offline: map[string]bool{"nas": true, "pi": true}}, nil, n)

	for i := 0; i < 3; i++ {
		s.Check(context.Background(), alert("ContainerUnhealthy", "nas:8080"), "")
	}
	s.Check(context.Background(), alert("ServiceDown", "pi:9100"), "")

	s.FlushSummary(context.Background())
	require.Len(t, n.messages, 1)
	assert.Contains(t, n.messages[0], "nas: 3")
	assert.Contains(t, n.messages[0], "pi: 1")

	// Counts reset after flush.
	s.FlushSummary(context.Background())
	assert.Len(t, n.messages, 1)
}

func TestFlushSummaryEmptyDoesNotNotify(t *testing.T) {
	n := &fakeNotifier{}
	s := New(&fakeAvailability{}, nil, n)
	s.FlushSummary(context.Background())
	assert.Empty(t, n.titles)
}
