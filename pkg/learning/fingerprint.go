package learning

import (
	"strings"

	"github.com/homelab-ops/remedy/pkg/models"
)

// fingerprintKeys is the fixed ordered label subset a symptom fingerprint is
// built from. Placement labels lead so host-specific patterns sort apart
// from generic ones.
var fingerprintKeys = []string{
	"system", "remediation_host", "category",
	"alertname", "job", "severity", "container",
	"service", "host", "device", "filesystem",
}

// hostClassKeys are the labels whose values get normalized to a host class.
var hostClassKeys = map[string]bool{
	"system":           true,
	"remediation_host": true,
	"host":             true,
}

// SymptomFingerprint builds the deterministic structural identity of an
// alert used for pattern matching: "key:value" parts in fixed key order,
// joined by "|". Absent labels contribute nothing.
func SymptomFingerprint(alert *models.Alert) string {
	parts := make([]string, 0, len(fingerprintKeys))
	for _, key := range fingerprintKeys {
		value := alert.Labels[key]
		if key == "alertname" && value == "" {
			value = alert.Name
		}
		if value == "" {
			continue
		}
		if hostClassKeys[key] {
			value = hostClass(value)
		}
		parts = append(parts, key+":"+value)
	}
	return strings.Join(parts, "|")
}

// Parts splits a fingerprint back into its label tokens.
func Parts(fingerprint string) []string {
	if fingerprint == "" {
		return nil
	}
	return strings.Split(fingerprint, "|")
}

// hostClass normalizes a host value to its class token: lowercased, domain
// and trailing instance digits stripped, so "NAS-02.lan" and "nas-01" match
// the same pattern.
func hostClass(value string) string {
	v := strings.ToLower(value)
	if idx := strings.Index(v, "."); idx > 0 {
		v = v[:idx]
	}
	v = strings.TrimRight(v, "0123456789")
	v = strings.TrimSuffix(v, "-")
	if v == "" {
		return strings.ToLower(value)
	}
	return v
}
