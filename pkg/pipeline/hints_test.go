package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/homelab-ops/remedy/pkg/models"
	"github.com/homelab-ops/remedy/pkg/sshexec"
)

func alertWith(labels, annotations map[string]string) *models.Alert {
	if labels == nil {
		labels = map[string]string{}
	}
	if annotations == nil {
		annotations = map[string]string{}
	}
	return &models.Alert{
		Name:        labels["alertname"],
		Instance:    labels["instance"],
		Labels:      labels,
		Annotations: annotations,
	}
}

func TestExtractHintsLabelsWinOverAnnotations(t *testing.T) {
	a := alertWith(
		map[string]string{"service": "grafana"},
		map[string]string{"service": "postgres", "remediation": "docker restart grafana"},
	)

	h := ExtractHints(a)
	assert.Equal(t, "grafana", h.Service)
	assert.Equal(t, "docker restart grafana", h.Suggested)
}

func TestExtractHintsNormalizesUnicode(t *testing.T) {
	a := alertWith(nil, map[string]string{
		"remediation": "ｄｏｃｋｅｒ　ｒｅｓｔａｒｔ grafana",
	})

	h := ExtractHints(a)
	assert.Equal(t, "docker restart grafana", h.Suggested)
}

func TestExtractHintsStripsControlCharacters(t *testing.T) {
	a := alertWith(nil, map[string]string{
		"remediation_hint": "check\x1b[31m logs\x00 first\n",
	})

	h := ExtractHints(a)
	assert.Equal(t, "check[31m logs first", h.Values["remediation_hint"])
}

func TestExtractHintsTargetHostPrecedence(t *testing.T) {
	a := alertWith(map[string]string{
		"remediation_host": "pi",
		"system":           "nas",
	}, nil)
	assert.Equal(t, "pi", ExtractHints(a).TargetHost)

	b := alertWith(map[string]string{"system": "nas"}, nil)
	assert.Equal(t, "nas", ExtractHints(b).TargetHost)
}

func TestRouteHintOverrideWins(t *testing.T) {
	a := alertWith(map[string]string{
		"alertname":        "ContainerDown",
		"instance":         "nas:9100",
		"remediation_host": "pi",
	}, nil)

	r := Route(a, ExtractHints(a), []string{"nas", "pi"}, "nas")
	assert.Equal(t, "pi", r.Host)
}

func TestRouteInstanceSubstringMatch(t *testing.T) {
	a := alertWith(map[string]string{
		"alertname": "ContainerDown",
		"instance":  "PI.home.lan:9100",
	}, nil)

	r := Route(a, ExtractHints(a), []string{"nas", "pi"}, "nas")
	assert.Equal(t, "pi", r.Host)
}

func TestRouteAlertNameHeuristic(t *testing.T) {
	a := alertWith(map[string]string{
		"alertname": "ZFSPoolDegraded",
		"instance":  "10.0.0.5:9100",
	}, nil)

	r := Route(a, ExtractHints(a), []string{"nas", "pi"}, "pi")
	assert.Equal(t, "nas", r.Host)
}

func TestRouteFallsBackToDefault(t *testing.T) {
	a := alertWith(map[string]string{
		"alertname": "SomethingOdd",
		"instance":  "10.0.0.5:9100",
	}, nil)

	r := Route(a, ExtractHints(a), []string{"nas", "pi"}, "nas")
	assert.Equal(t, "nas", r.Host)
}

func TestRouteServiceKind(t *testing.T) {
	container := alertWith(map[string]string{
		"alertname": "ContainerDown",
		"container": "grafana",
	}, nil)
	r := Route(container, ExtractHints(container), nil, "nas")
	assert.Equal(t, "grafana", r.Service)
	assert.Equal(t, sshexec.ServiceKindDocker, r.ServiceKind)

	unit := alertWith(map[string]string{
		"alertname": "ServiceDown",
		"service":   "wireguard",
	}, nil)
	r = Route(unit, ExtractHints(unit), nil, "nas")
	assert.Equal(t, "wireguard", r.Service)
	assert.Equal(t, sshexec.ServiceKindSystemd, r.ServiceKind)
}
