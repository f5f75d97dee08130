package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HAClient talks to a Home Assistant instance (supervisor addon API plus the
// automation reload service). Satisfies HomeAutomation.
type HAClient struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewHAClient creates an HAClient. Returns nil when url or token is empty,
// which disables the home-automation tools.
func NewHAClient(baseURL, token string) *HAClient {
	if baseURL == "" || token == "" {
		return nil
	}
	return &HAClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// RestartAddon restarts a supervisor addon by slug.
func (c *HAClient) RestartAddon(ctx context.Context, slug string) error {
	_, err := c.do(ctx, http.MethodPost, "/api/hassio/addons/"+slug+"/restart", nil)
	return err
}

// AddonInfo returns the raw addon info JSON, compacted for the model.
func (c *HAClient) AddonInfo(ctx context.Context, slug string) (string, error) {
	body, err := c.do(ctx, http.MethodGet, "/api/hassio/addons/"+slug+"/info", nil)
	if err != nil {
		return "", err
	}
	var pretty struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &pretty); err == nil && len(pretty.Data) > 0 {
		return string(pretty.Data), nil
	}
	return string(body), nil
}

// ReloadAutomations reloads automations without restarting Home Assistant.
func (c *HAClient) ReloadAutomations(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodPost, "/api/services/automation/reload", strings.NewReader("{}"))
	return err
}

func (c *HAClient) do(ctx context.Context, method, path string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("home assistant request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return nil, fmt.Errorf("read home assistant response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("home assistant status %d: %s", resp.StatusCode, truncateOutput(string(data)))
	}
	return data, nil
}
