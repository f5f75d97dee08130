// Package correlate groups a firing alert with other recent alerts into an
// incident so the pipeline remediates the root cause instead of every
// symptom.
package correlate

import (
	"strings"

	"github.com/homelab-ops/remedy/pkg/models"
)

// IncidentType classifies how the alerts were linked.
type IncidentType string

// Incident types.
const (
	IncidentCascade    IncidentType = "cascade"
	IncidentDependency IncidentType = "dependency"
	IncidentHost       IncidentType = "host"
)

// Incident is the advisory correlation result. The pipeline decides what to
// do with it.
type Incident struct {
	Type      IncidentType
	RootCause string
	Related   []string
	Reason    string
}

// cascadePairs maps known alert pairs to the alert that should be treated
// as the root cause when both are recent.
var cascadePairs = []struct {
	a, b, root string
}{
	{"WireGuardVPNDown", "OutpostDown", "WireGuardVPNDown"},
	{"HostDown", "ContainerDown", "HostDown"},
	{"HostDown", "ServiceDown", "HostDown"},
	{"PostgresDown", "GrafanaUnhealthy", "PostgresDown"},
	{"DockerDaemonDown", "ContainerDown", "DockerDaemonDown"},
	{"NetworkGatewayDown", "DNSResolutionFailed", "NetworkGatewayDown"},
}

// dependencyMap lists upstream services each service needs. An alert about a
// service whose dependency also alerted recently points at the dependency.
var dependencyMap = map[string][]string{
	"grafana":       {"postgres", "prometheus"},
	"homeassistant": {"mosquitto", "zigbee2mqtt"},
	"zigbee2mqtt":   {"mosquitto"},
	"nextcloud":     {"postgres", "redis"},
	"immich":        {"postgres", "redis"},
	"paperless":     {"postgres", "redis"},
	"outpost":       {"wireguard"},
	"caddy":         {"docker"},
}

// alertSuffixes are stripped from an alert name to recover the service it
// is about.
var alertSuffixes = []string{
	"Down", "Unhealthy", "Error", "Unreachable",
	"Failed", "Unavailable", "OOMKilled", "CrashLooping",
}

// resourceAlerts identify host-level resource pressure that plausibly causes
// co-located service alerts.
var resourceAlerts = map[string]bool{
	"HighMemoryUsage":   true,
	"HighCPUUsage":      true,
	"HighLoadAverage":   true,
	"DiskSpaceLow":      true,
	"DiskWillFillSoon":  true,
	"OOMKillDetected":   true,
	"SwapUsageHigh":     true,
	"InodeUsageHigh":    true,
	"TemperatureAlert":  true,
	"IOWaitHigh":        true,
	"NetworkSaturation": true,
}

// RecentAlert is one alert observed inside the correlation window.
type RecentAlert struct {
	Name     string
	Instance string
}

// Correlate applies the cascade, dependency, and host rules in order and
// returns the first matching incident, or nil.
func Correlate(alert *models.Alert, recent []RecentAlert) *Incident {
	if inc := cascadeRule(alert, recent); inc != nil {
		return inc
	}
	if inc := dependencyRule(alert, recent); inc != nil {
		return inc
	}
	return hostRule(alert, recent)
}

// IsRoot reports whether the alert itself is the incident's root cause.
func (inc *Incident) IsRoot(alertName string) bool {
	return inc == nil || inc.RootCause == alertName
}

func cascadeRule(alert *models.Alert, recent []RecentAlert) *Incident {
	for _, pair := range cascadePairs {
		var other string
		switch alert.Name {
		case pair.a:
			other = pair.b
		case pair.b:
			other = pair.a
		default:
			continue
		}
		for _, r := range recent {
			if r.Name == other {
				return &Incident{
					Type:      IncidentCascade,
					RootCause: pair.root,
					Related:   []string{alert.Name, other},
					Reason:    "known cascade pair " + pair.a + "/" + pair.b,
				}
			}
		}
	}
	return nil
}

func dependencyRule(alert *models.Alert, recent []RecentAlert) *Incident {
	service := serviceFromAlertName(alert.Name)
	if service == "" {
		return nil
	}
	deps, ok := dependencyMap[service]
	if !ok {
		return nil
	}
	for _, dep := range deps {
		for _, r := range recent {
			// Loose on purpose: "dockerdaemon" (DockerDaemonDown) counts as
			// evidence for a dependency on "docker".
			if strings.Contains(serviceFromAlertName(r.Name), dep) {
				return &Incident{
					Type:      IncidentDependency,
					RootCause: r.Name,
					Related:   []string{alert.Name, r.Name},
					Reason:    service + " depends on " + dep,
				}
			}
		}
	}
	return nil
}

func hostRule(alert *models.Alert, recent []RecentAlert) *Incident {
	host := models.HostFromInstance(alert.Instance)
	if host == "" {
		return nil
	}
	var sameHost []RecentAlert
	for _, r := range recent {
		if r.Name == alert.Name && r.Instance == alert.Instance {
			continue
		}
		if models.HostFromInstance(r.Instance) == host {
			sameHost = append(sameHost, r)
		}
	}
	if len(sameHost) == 0 {
		return nil
	}
	for _, r := range sameHost {
		if resourceAlerts[r.Name] {
			related := []string{alert.Name}
			for _, s := range sameHost {
				related = append(related, s.Name)
			}
			return &Incident{
				Type:      IncidentHost,
				RootCause: r.Name,
				Related:   related,
				Reason:    "resource pressure on host " + host,
			}
		}
	}
	return nil
}

// serviceFromAlertName strips known state suffixes and lowercases the rest.
func serviceFromAlertName(name string) string {
	for _, suffix := range alertSuffixes {
		if strings.HasSuffix(name, suffix) && len(name) > len(suffix) {
			return strings.ToLower(strings.TrimSuffix(name, suffix))
		}
	}
	return ""
}
