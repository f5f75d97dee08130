package models

import (
	"errors"
	"strings"
	"time"
)

// ErrEmptyFingerprint is returned when a webhook alert carries no usable
// fingerprint. Such alerts cannot be deduplicated and are rejected at intake.
var ErrEmptyFingerprint = errors.New("alert fingerprint is empty")

// Alert is the in-flight representation of a single firing or resolved alert.
// Identity is (Name, Instance, Fingerprint).
type Alert struct {
	Name        string
	Instance    string
	Fingerprint string
	Severity    string
	Status      string
	Labels      map[string]string
	Annotations map[string]string
	StartsAt    time.Time
}

// AlertFromWebhook converts a webhook alert into the engine's Alert,
// validating the fingerprint and computing the disambiguated instance.
func AlertFromWebhook(wa WebhookAlert) (Alert, error) {
	fp := strings.TrimSpace(wa.Fingerprint)
	if fp == "" {
		return Alert{}, ErrEmptyFingerprint
	}

	labels := wa.Labels
	if labels == nil {
		labels = map[string]string{}
	}
	annotations := wa.Annotations
	if annotations == nil {
		annotations = map[string]string{}
	}

	return Alert{
		Name:        labels["alertname"],
		Instance:    DisambiguateInstance(labels),
		Fingerprint: fp,
		Severity:    labels["severity"],
		Status:      wa.Status,
		Labels:      labels,
		Annotations: annotations,
		StartsAt:    wa.StartsAt,
	}, nil
}

// DisambiguateInstance computes the alert_instance identity component.
//
// Container alerts from multiple hosts can share an identical `instance`
// label (the exporter's address), so for container alerts that carry both
// `container` and `host` labels the instance becomes the synthetic
// "host:container" value. Everything else uses the `instance` label as-is.
func DisambiguateInstance(labels map[string]string) string {
	container := labels["container"]
	host := labels["host"]
	if container != "" && host != "" && strings.Contains(labels["alertname"], "Container") {
		return host + ":" + container
	}
	return labels["instance"]
}

// HostFromInstance derives the host component from an instance label by
// taking the prefix before the first ":" (strips port or container suffix).
func HostFromInstance(instance string) string {
	if idx := strings.Index(instance, ":"); idx > 0 {
		return instance[:idx]
	}
	return instance
}

// Identity returns the (name, instance) tuple used for attempt counting,
// escalation cooldowns, and resolution clearing.
func (a Alert) Identity() (name, instance string) {
	return a.Name, a.Instance
}

// IsFiring reports whether the alert status is "firing".
func (a Alert) IsFiring() bool { return a.Status == AlertStatusFiring }
