// Package logql is a thin client for a Loki-compatible log query API. The
// agent uses it to pull recent container errors, service logs, and free-text
// matches without opening an SSH session.
package logql

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"
)

// maxResultBytes caps the rendered log text returned to callers. Tool-level
// truncation may cut further.
const maxResultBytes = 8192

// Entry is one log line with its timestamp.
type Entry struct {
	Timestamp time.Time
	Line      string
}

// Client queries the log backend over its HTTP JSON API.
type Client struct {
	baseURL string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
}

// New creates a Client for the given base URL (e.g. http://loki:3100).
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "loki",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
}

type queryRangeResponse struct {
	Status string `json:"status"`
	Data   struct {
		Result []struct {
			Stream map[string]string `json:"stream"`
			Values [][2]string       `json:"values"`
		} `json:"result"`
	} `json:"data"`
}

// QueryRange runs a LogQL query over the trailing window, newest streams
// merged and returned oldest-first, capped at limit entries.
func (c *Client) QueryRange(ctx context.Context, query string, window time.Duration, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	end := time.Now()
	start := end.Add(-window)
	params := url.Values{
		"query": {query},
		"start": {strconv.FormatInt(start.UnixNano(), 10)},
		"end":   {strconv.FormatInt(end.UnixNano(), 10)},
		"limit": {strconv.Itoa(limit)},
	}

	raw, err := c.breaker.Execute(func() (any, error) {
		u := c.baseURL + "/loki/api/v1/query_range?" + params.Encode()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("log backend request: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		if err != nil {
			return nil, fmt.Errorf("read log response: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("log backend status %d", resp.StatusCode)
		}
		return body, nil
	})
	if err != nil {
		return nil, err
	}

	var decoded queryRangeResponse
	if err := json.Unmarshal(raw.([]byte), &decoded); err != nil {
		return nil, fmt.Errorf("decode log response: %w", err)
	}
	if decoded.Status != "success" {
		return nil, fmt.Errorf("log query failed: status %s", decoded.Status)
	}

	var entries []Entry
	for _, stream := range decoded.Data.Result {
		for _, v := range stream.Values {
			ns, err := strconv.ParseInt(v[0], 10, 64)
			if err != nil {
				continue
			}
			entries = append(entries, Entry{
				Timestamp: time.Unix(0, ns).UTC(),
				Line:      v[1],
			})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Timestamp.Before(entries[j].Timestamp) })
	if len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return entries, nil
}

// ContainerErrors returns error-level lines from a container over the
// trailing minutes.
func (c *Client) ContainerErrors(ctx context.Context, container string, minutes int) (string, error) {
	if minutes <= 0 {
		minutes = 15
	}
	query := fmt.Sprintf(`{container=%q} |~ "(?i)(error|fatal|panic|exception)"`, container)
	entries, err := c.QueryRange(ctx, query, time.Duration(minutes)*time.Minute, 100)
	if err != nil {
		return "", err
	}
	return render(entries), nil
}

// ServiceLogs returns recent lines from a systemd unit over the trailing
// minutes.
func (c *Client) ServiceLogs(ctx context.Context, unit string, minutes int) (string, error) {
	if minutes <= 0 {
		minutes = 15
	}
	query := fmt.Sprintf(`{unit=%q}`, unit)
	entries, err := c.QueryRange(ctx, query, time.Duration(minutes)*time.Minute, 100)
	if err != nil {
		return "", err
	}
	return render(entries), nil
}

// Search returns lines matching a free-text pattern across all streams over
// the trailing minutes.
func (c *Client) Search(ctx context.Context, pattern string, minutes int) (string, error) {
	if minutes <= 0 {
		minutes = 15
	}
	query := fmt.Sprintf(`{job=~".+"} |= %q`, pattern)
	entries, err := c.QueryRange(ctx, query, time.Duration(minutes)*time.Minute, 100)
	if err != nil {
		return "", err
	}
	return render(entries), nil
}

// render flattens entries into bounded display text, keeping the newest
// lines when the cap is hit.
func render(entries []Entry) string {
	if len(entries) == 0 {
		return "(no matching log lines)"
	}
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		lines = append(lines, e.Timestamp.Format(time.RFC3339)+" "+e.Line)
	}
	out := strings.Join(lines, "\n")
	for len(out) > maxResultBytes && len(lines) > 1 {
		lines = lines[1:]
		out = strings.Join(lines, "\n")
	}
	if len(out) > maxResultBytes {
		out = out[len(out)-maxResultBytes:]
	}
	return out
}
