// Package metrics exposes the engine's own operational counters on the
// /metrics endpoint.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the engine's instruments on a private registry so tests can
// create isolated instances.
type Metrics struct {
	registry *prometheus.Registry

	WebhooksReceived  prometheus.Counter
	AlertsProcessed   *prometheus.CounterVec
	QueueDepth        prometheus.Gauge
	QueueDropped      prometheus.Gauge
	LLMIterations     prometheus.Histogram
	SSHConnectErrors  *prometheus.CounterVec
	PatternCacheHits  prometheus.Counter
	VerificationTime  prometheus.Histogram
	HandoffsInitiated prometheus.Counter
}

// New creates a Metrics instance with its own registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		WebhooksReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "remedy_webhooks_received_total",
			Help: "Alertmanager webhook deliveries accepted.",
		}),
		AlertsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "remedy_alerts_processed_total",
			Help: "Alerts by terminal pipeline outcome.",
		}, []string{"outcome"}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "remedy_alert_queue_depth",
			Help: "Records buffered while the database is unreachable.",
		}),
		QueueDropped: factory.NewGauge(prometheus.GaugeOpts{
			Name: "remedy_alert_queue_dropped_total",
			Help: "Records evicted from the degraded-mode queue.",
		}),
		LLMIterations: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "remedy_llm_iterations",
			Help:    "Tool rounds per LLM investigation.",
			Buckets: []float64{1, 2, 3, 4, 5},
		}),
		SSHConnectErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "remedy_ssh_connect_errors_total",
			Help: "SSH connection failures by host.",
		}, []string{"host"}),
		PatternCacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "remedy_pattern_applications_total",
			Help: "Remediations served directly from a learned pattern.",
		}),
		VerificationTime: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "remedy_verification_seconds",
			Help:    "Time from last command exit to verified resolution.",
			Buckets: prometheus.ExponentialBuckets(5, 2, 7),
		}),
		HandoffsInitiated: factory.NewCounter(prometheus.CounterOpts{
			Name: "remedy_handoffs_initiated_total",
			Help: "Self-preservation restarts handed off to the orchestrator.",
		}),
	}
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
