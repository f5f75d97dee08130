package pipeline

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/homelab-ops/remedy/pkg/models"
	"github.com/homelab-ops/remedy/pkg/sshexec"
)

// hintKeys are the labels and annotations mined for remediation hints.
var hintKeys = []string{
	"remediation_hint", "remediation_host", "service", "container",
	"job", "runbook_url", "remediation", "system",
}

// Hints is the sanitized advisory metadata carried by an alert.
type Hints struct {
	Values     map[string]string
	TargetHost string // remediation_host / system override, may be empty
	Service    string
	Suggested  string // operator-suggested command, if any
}

// ExtractHints pulls the recognized hint keys from labels and annotations
// (labels win), NFKC-normalizes them, and strips control characters.
// Malicious or broken exporters must not be able to smuggle escape
// sequences into prompts or logs.
func ExtractHints(alert *models.Alert) Hints {
	h := Hints{Values: make(map[string]string)}
	for _, key := range hintKeys {
		value := alert.Labels[key]
		if value == "" {
			value = alert.Annotations[key]
		}
		if value == "" {
			continue
		}
		h.Values[key] = sanitizeHint(value)
	}

	if v := h.Values["remediation_host"]; v != "" {
		h.TargetHost = v
	} else if v := h.Values["system"]; v != "" {
		h.TargetHost = v
	}
	if v := h.Values["service"]; v != "" {
		h.Service = v
	} else if v := h.Values["container"]; v != "" {
		h.Service = v
	}
	h.Suggested = h.Values["remediation"]
	return h
}

func sanitizeHint(s string) string {
	s = norm.NFKC.String(s)
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}

// Routing is the resolved execution target for an alert.
type Routing struct {
	Host        string
	Service     string
	ServiceKind sshexec.ServiceKind
}

// hostHeuristics maps alert-name fragments to hosts for alerts that carry
// no usable instance or hint.
var hostHeuristics = map[string]string{
	"zfs":    "nas",
	"docker": "nas",
	"zigbee": "homeassistant",
	"addon":  "homeassistant",
}

// Route determines the target host and service with the precedence: hint
// override, instance substring match against known hosts, alert-name
// heuristic, then the default host.
func Route(alert *models.Alert, hints Hints, knownHosts []string, defaultHost string) Routing {
	r := Routing{ServiceKind: sshexec.ServiceKindDocker}
	if c := hints.Values["container"]; c != "" {
		r.Service = c
	} else if s := hints.Values["service"]; s != "" {
		r.Service = s
		r.ServiceKind = sshexec.ServiceKindSystemd
	}

	if hints.TargetHost != "" {
		r.Host = hints.TargetHost
		return r
	}

	instance := strings.ToLower(alert.Instance)
	for _, host := range knownHosts {
		if strings.Contains(instance, strings.ToLower(host)) {
			r.Host = host
			return r
		}
	}

	name := strings.ToLower(alert.Name)
	for fragment, host := range hostHeuristics {
		if strings.Contains(name, fragment) {
			r.Host = host
			return r
		}
	}

	r.Host = defaultHost
	return r
}
