package correlate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homelab-ops/remedy/pkg/models"
)

func alert(name, instance string) *models.Alert {
	return &models.Alert{Name: name, Instance: instance}
}

func TestCascadeRule(t *testing.T) {
	inc := Correlate(alert("OutpostDown", "outpost:80"), []RecentAlert{
		{Name: "WireGuardVPNDown", Instance: "router:51820"},
	})
	require.NotNil(t, inc)
	assert.Equal(t, IncidentCascade, inc.Type)
	assert.Equal(t, "WireGuardVPNDown", inc.RootCause)
	assert.False(t, inc.IsRoot("OutpostDown"))
	assert.True(t, inc.IsRoot("WireGuardVPNDown"))
}

func TestCascadeRuleSymmetric(t *testing.T) {
	// The root alert itself also correlates, but stays the root.
	inc := Correlate(alert("WireGuardVPNDown", "router:51820"), []RecentAlert{
		{Name: "OutpostDown", Instance: "outpost:80"},
	})
	require.NotNil(t, inc)
	assert.Equal(t, "WireGuardVPNDown", inc.RootCause)
	assert.True(t, inc.IsRoot("WireGuardVPNDown"))
}

func TestDependencyRule(t *testing.T) {
	inc := Correlate(alert("GrafanaDown", "nas:3000"), []RecentAlert{
		{Name: "PostgresDown", Instance: "nas:5432"},
	})
	require.NotNil(t, inc)
	// The cascade table covers PostgresDown/GrafanaUnhealthy, not
	// GrafanaDown, so this lands on the dependency rule.
	assert.Equal(t, IncidentDependency, inc.Type)
	assert.Equal(t, "PostgresDown", inc.RootCause)
}

func TestDependencyRuleSubstringMatch(t *testing.T) {
	// caddy depends on "docker"; DockerDaemonDown strips to "dockerdaemon",
	// which contains it.
	inc := Correlate(alert("CaddyDown", "nas:80"), []RecentAlert{
		{Name: "DockerDaemonDown", Instance: "nas:9100"},
	})
	require.NotNil(t, inc)
	assert.Equal(t, IncidentDependency, inc.Type)
	assert.Equal(t, "DockerDaemonDown", inc.RootCause)
	assert.False(t, inc.IsRoot("CaddyDown"))
}

func TestDependencySuffixStripping(t *testing.T) {
	assert.Equal(t, "grafana", serviceFromAlertName("GrafanaDown"))
	assert.Equal(t, "postgres", serviceFromAlertName("PostgresUnreachable"))
	assert.Equal(t, "redis", serviceFromAlertName("RedisOOMKilled"))
	assert.Equal(t, "caddy", serviceFromAlertName("CaddyCrashLooping"))
	assert.Equal(t, "", serviceFromAlertName("HighMemoryUsage"))
	assert.Equal(t, "", serviceFromAlertName("Down"))
}

func TestHostRuleResourceRoot(t *testing.T) {
	inc := Correlate(alert("ContainerUnhealthy", "nas:8080"), []RecentAlert{
		{Name: "HighMemoryUsage", Instance: "nas:9100"},
		{Name: "SomethingElse", Instance: "pi:9100"},
	})
	require.NotNil(t, inc)
	assert.Equal(t, IncidentHost, inc.Type)
	assert.Equal(t, "HighMemoryUsage", inc.RootCause)
	assert.False(t, inc.IsRoot("ContainerUnhealthy"))
}

func TestHostRuleNoResourceAlertNoIncident(t *testing.T) {
	inc := Correlate(alert("ContainerUnhealthy", "nas:8080"), []RecentAlert{
		{Name: "AnotherServiceFlaky", Instance: "nas:9000"},
	})
	assert.Nil(t, inc)
}

func TestHostRuleIgnoresSelf(t *testing.T) {
	inc := Correlate(alert("ContainerUnhealthy", "nas:8080"), []RecentAlert{
		{Name: "ContainerUnhealthy", Instance: "nas:8080"},
	})
	assert.Nil(t, inc)
}

func TestNoRecentAlertsNoIncident(t *testing.T) {
	assert.Nil(t, Correlate(alert("GrafanaDown", "nas:3000"), nil))
}

func TestRuleOrderCascadeWins(t *testing.T) {
	// OutpostDown matches both the cascade pair and (via outpost →
	// wireguard) the dependency map; cascade is tried first.
	inc := Correlate(alert("OutpostDown", "outpost:80"), []RecentAlert{
		{Name: "WireGuardVPNDown", Instance: "router:51820"},
	})
	require.NotNil(t, inc)
	assert.Equal(t, IncidentCascade, inc.Type)
}

func TestNilIncidentIsRoot(t *testing.T) {
	var inc *Incident
	assert.True(t, inc.IsRoot("Anything"))
}
