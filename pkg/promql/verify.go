package promql

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

type alertsData struct {
	Alerts []struct {
		Labels map[string]string `json:"labels"`
		State  string            `json:"state"`
	} `json:"alerts"`
}

// AlertStatus reports whether the named alert is currently firing, pending,
// or resolved at the metrics source. instance and labels narrow the match;
// an alert absent from the active set counts as resolved.
func (c *Client) AlertStatus(ctx context.Context, name, instance string, labels map[string]string) (AlertState, error) {
	var resp apiResponse
	if err := c.get(ctx, "/api/v1/alerts", nil, &resp); err != nil {
		return "", err
	}
	if resp.Status != "success" {
		return "", fmt.Errorf("alerts query failed: %s", resp.Error)
	}

	var data alertsData
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return "", fmt.Errorf("decode alerts data: %w", err)
	}

	state := StateResolved
	for _, a := range data.Alerts {
		if a.Labels["alertname"] != name {
			continue
		}
		if instance != "" && a.Labels["instance"] != instance {
			continue
		}
		if !labelsMatch(a.Labels, labels) {
			continue
		}
		switch a.State {
		case "firing":
			return StateFiring, nil
		case "pending":
			state = StatePending
		}
	}
	return state, nil
}

func labelsMatch(have, want map[string]string) bool {
	for k, v := range want {
		if have[k] != v {
			return false
		}
	}
	return true
}

// Verify waits initialDelay, then polls AlertStatus every pollInterval until
// the alert is resolved or maxWait is spent. ok is true only on observed
// resolution. A non-nil error means the backend itself failed; the caller
// decides whether to trust exit codes instead.
func (c *Client) Verify(ctx context.Context, name, instance string, labels map[string]string, maxWait, pollInterval, initialDelay time.Duration) (bool, string, error) {
	deadline := time.Now().Add(initialDelay + maxWait)

	select {
	case <-ctx.Done():
		return false, "", ctx.Err()
	case <-time.After(initialDelay):
	}

	var lastState AlertState
	for {
		state, err := c.AlertStatus(ctx, name, instance, labels)
		if err != nil {
			return false, "", fmt.Errorf("verify %s: %w", name, err)
		}
		lastState = state
		if state == StateResolved {
			return true, fmt.Sprintf("alert %s resolved", name), nil
		}
		slog.Debug("alert still active during verification", "alert", name, "state", state)

		if time.Now().Add(pollInterval).After(deadline) {
			break
		}
		select {
		case <-ctx.Done():
			return false, "", ctx.Err()
		case <-time.After(pollInterval):
		}
	}
	return false, fmt.Sprintf("alert %s still %s after %s", name, lastState, maxWait), nil
}

// PredictExhaustion fits a linear trend over the metric's last 24 hours and
// returns the projected hours until it crosses threshold. Returns -1 when
// the metric is flat or moving away from the threshold, and 0 when it is
// already at or past it.
func (c *Client) PredictExhaustion(ctx context.Context, metric, instance string, threshold float64) (float64, error) {
	query := metric
	if instance != "" {
		query = fmt.Sprintf(`%s{instance=%q}`, metric, instance)
	}
	end := time.Now()
	series, err := c.QueryRange(ctx, query, end.Add(-24*time.Hour), end, 5*time.Minute)
	if err != nil {
		return 0, fmt.Errorf("exhaustion trend query: %w", err)
	}
	if len(series) == 0 || len(series[0].Points) < 2 {
		return -1, nil
	}

	points := series[0].Points
	current := points[len(points)-1].Value
	if current <= threshold {
		return 0, nil
	}

	// Average change per 5m step, scaled to an hourly rate.
	var total float64
	for i := 1; i < len(points); i++ {
		total += points[i].Value - points[i-1].Value
	}
	perStep := total / float64(len(points)-1)
	hourlyRate := perStep * 12
	if hourlyRate >= 0 {
		return -1, nil
	}
	return (current - threshold) / -hourlyRate, nil
}
