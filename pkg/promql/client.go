// Package promql is a thin typed client for a Prometheus-compatible HTTP
// API. It backs alert-status checks, post-remediation verification, and
// resource-exhaustion prediction.
package promql

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sony/gobreaker"
)

// AlertState is the reported state of an alert at the metrics source.
type AlertState string

// Alert states.
const (
	StateFiring   AlertState = "firing"
	StatePending  AlertState = "pending"
	StateResolved AlertState = "resolved"
)

// Sample is one instant-query result.
type Sample struct {
	Labels    map[string]string
	Value     float64
	Timestamp time.Time
}

// Point is one value in a range-query series.
type Point struct {
	Timestamp time.Time
	Value     float64
}

// Series is one range-query result stream.
type Series struct {
	Labels map[string]string
	Points []Point
}

// Client queries the metrics backend. Calls are wrapped in a circuit breaker
// so a dead backend fails fast instead of stalling the pipeline.
type Client struct {
	baseURL string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
}

// New creates a Client for the given base URL (e.g. http://prom:9090).
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "prometheus",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	_, err := c.breaker.Execute(func() (any, error) {
		u := c.baseURL + path
		if len(params) > 0 {
			u += "?" + params.Encode()
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("metrics backend request: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		if err != nil {
			return nil, fmt.Errorf("read metrics response: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("metrics backend status %d: %s", resp.StatusCode, truncate(string(body), 200))
		}
		if err := json.Unmarshal(body, out); err != nil {
			return nil, fmt.Errorf("decode metrics response: %w", err)
		}
		return nil, nil
	})
	return err
}

type apiResponse struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
	Error  string          `json:"error"`
}

type queryData struct {
	ResultType string            `json:"resultType"`
	Result     []json.RawMessage `json:"result"`
}

type vectorResult struct {
	Metric map[string]string `json:"metric"`
	Value  [2]json.Number    `json:"value"`
}

type matrixResult struct {
	Metric map[string]string `json:"metric"`
	Values [][2]json.Number  `json:"values"`
}

// Query runs an instant query.
func (c *Client) Query(ctx context.Context, query string) ([]Sample, error) {
	var resp apiResponse
	params := url.Values{"query": {query}}
	if err := c.get(ctx, "/api/v1/query", params, &resp); err != nil {
		return nil, err
	}
	if resp.Status != "success" {
		return nil, fmt.Errorf("instant query failed: %s", resp.Error)
	}

	var data queryData
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return nil, fmt.Errorf("decode query data: %w", err)
	}
	samples := make([]Sample, 0, len(data.Result))
	for _, raw := range data.Result {
		var vr vectorResult
		if err := json.Unmarshal(raw, &vr); err != nil {
			return nil, fmt.Errorf("decode vector result: %w", err)
		}
		ts, _ := vr.Value[0].Float64()
		val, err := strconv.ParseFloat(vr.Value[1].String(), 64)
		if err != nil {
			continue
		}
		samples = append(samples, Sample{
			Labels:    vr.Metric,
			Value:     val,
			Timestamp: time.UnixMilli(int64(ts * 1000)).UTC(),
		})
	}
	return samples, nil
}

// QueryRange runs a range query between start and end at the given step.
func (c *Client) QueryRange(ctx context.Context, query string, start, end time.Time, step time.Duration) ([]Series, error) {
	var resp apiResponse
	params := url.Values{
		"query": {query},
		"start": {strconv.FormatInt(start.Unix(), 10)},
		"end":   {strconv.FormatInt(end.Unix(), 10)},
		"step":  {strconv.FormatInt(int64(step.Seconds()), 10)},
	}
	if err := c.get(ctx, "/api/v1/query_range", params, &resp); err != nil {
		return nil, err
	}
	if resp.Status != "success" {
		return nil, fmt.Errorf("range query failed: %s", resp.Error)
	}

	var data queryData
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return nil, fmt.Errorf("decode range data: %w", err)
	}
	series := make([]Series, 0, len(data.Result))
	for _, raw := range data.Result {
		var mr matrixResult
		if err := json.Unmarshal(raw, &mr); err != nil {
			return nil, fmt.Errorf("decode matrix result: %w", err)
		}
		s := Series{Labels: mr.Metric}
		for _, v := range mr.Values {
			ts, _ := v[0].Float64()
			val, err := strconv.ParseFloat(v[1].String(), 64)
			if err != nil {
				continue
			}
			s.Points = append(s.Points, Point{
				Timestamp: time.UnixMilli(int64(ts * 1000)).UTC(),
				Value:     val,
			})
		}
		series = append(series, s)
	}
	return series, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
