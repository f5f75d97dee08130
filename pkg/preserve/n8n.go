package preserve

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// TriggerPayload is the request body sent to the external restart
// orchestrator.
type TriggerPayload struct {
	HandoffID      string `json:"handoff_id"`
	RestartCommand string `json:"restart_command"`
	CallbackURL    string `json:"callback_url"`
	HealthURL      string `json:"health_url"`
	TimeoutMinutes int    `json:"timeout_minutes"`
}

// Orchestrator triggers the external restart workflow. Implemented by
// *N8NClient in production.
type Orchestrator interface {
	Trigger(ctx context.Context, payload TriggerPayload) (executionID string, err error)
}

// N8NClient triggers an n8n workflow over its webhook endpoint.
type N8NClient struct {
	webhookURL string
	apiKey     string
	http       *http.Client
}

// NewN8NClient creates an N8NClient. Returns nil if webhookURL is empty,
// which disables self-preservation restarts.
func NewN8NClient(webhookURL, apiKey string) *N8NClient {
	if webhookURL == "" {
		return nil
	}
	return &N8NClient{
		webhookURL: webhookURL,
		apiKey:     apiKey,
		http:       &http.Client{Timeout: 30 * time.Second},
	}
}

// Trigger fires the restart workflow and returns the workflow execution id
// when the orchestrator reports one.
func (c *N8NClient) Trigger(ctx context.Context, payload TriggerPayload) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal trigger payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build trigger request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-N8N-API-KEY", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("trigger restart workflow: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 16<<10))
	if err != nil {
		return "", fmt.Errorf("read trigger response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("restart workflow status %d", resp.StatusCode)
	}

	var parsed struct {
		ExecutionID string `json:"execution_id"`
		ExecutionId string `json:"executionId"`
	}
	if err := json.Unmarshal(data, &parsed); err == nil {
		if parsed.ExecutionID != "" {
			return parsed.ExecutionID, nil
		}
		return parsed.ExecutionId, nil
	}
	return "", nil
}
