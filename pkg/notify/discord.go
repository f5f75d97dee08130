// Package notify delivers engine notifications to a Discord webhook and
// owns the escalation path when automation gives up on an alert.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Embed colors.
const (
	colorInfo    = 0x3498db
	colorSuccess = 0x2ecc71
	colorWarning = 0xe67e22
	colorDanger  = 0xe74c3c
)

// maxDescriptionLen is Discord's embed description limit.
const maxDescriptionLen = 4000

// Service posts notifications to a Discord webhook.
// Nil-safe: all methods are no-ops when the service is nil, so callers never
// guard on notification configuration.
type Service struct {
	webhookURL string
	http       *http.Client
	logger     *slog.Logger
}

// NewService creates a notification service. Returns nil if webhookURL is
// empty.
func NewService(webhookURL string) *Service {
	if webhookURL == "" {
		return nil
	}
	return &Service{
		webhookURL: webhookURL,
		http:       &http.Client{Timeout: 10 * time.Second},
		logger:     slog.Default().With("component", "discord-notify"),
	}
}

type embed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Color       int    `json:"color"`
}

type webhookPayload struct {
	Embeds []embed `json:"embeds"`
}

// Notify posts a neutral informational message.
func (s *Service) Notify(ctx context.Context, title, message string) error {
	return s.post(ctx, title, message, colorInfo)
}

// NotifySuccess posts a remediation-succeeded message. Fail-open: errors are
// logged, never returned.
func (s *Service) NotifySuccess(ctx context.Context, title, message string) {
	if err := s.post(ctx, title, message, colorSuccess); err != nil {
		s.logger.Warn("success notification failed", "error", err)
	}
}

// NotifyWarning posts a degraded-situation message. Fail-open.
func (s *Service) NotifyWarning(ctx context.Context, title, message string) {
	if err := s.post(ctx, title, message, colorWarning); err != nil {
		s.logger.Warn("warning notification failed", "error", err)
	}
}

// NotifyDanger posts an escalation or failure message.
func (s *Service) NotifyDanger(ctx context.Context, title, message string) error {
	return s.post(ctx, title, message, colorDanger)
}

func (s *Service) post(ctx context.Context, title, message string, color int) error {
	if s == nil {
		return nil
	}
	if len(message) > maxDescriptionLen {
		message = message[:maxDescriptionLen] + "\n... (truncated)"
	}
	payload := webhookPayload{Embeds: []embed{{Title: title, Description: message, Color: color}}}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal discord payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build discord request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("post to discord: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("discord webhook status %d", resp.StatusCode)
	}
	return nil
}
