// Package models defines the domain types shared across the remediation
// engine: alerts, attempts, patterns, windows, handoffs, and outcomes.
package models

import "time"

// WebhookPayload is the Alertmanager-compatible webhook body.
// Only the fields the engine reads are declared; extras are ignored.
type WebhookPayload struct {
	Status   string         `json:"status"`
	Receiver string         `json:"receiver"`
	Alerts   []WebhookAlert `json:"alerts"`
}

// WebhookAlert is a single alert inside an Alertmanager webhook delivery.
type WebhookAlert struct {
	Status      string            `json:"status"`
	Labels      map[string]string `json:"labels"`
	Annotations map[string]string `json:"annotations"`
	StartsAt    time.Time         `json:"startsAt"`
	EndsAt      time.Time         `json:"endsAt,omitempty"`
	Fingerprint string            `json:"fingerprint"`
}

// Alert statuses as emitted by Alertmanager.
const (
	AlertStatusFiring   = "firing"
	AlertStatusResolved = "resolved"
)
