// Package api serves the engine's HTTP surface: the Alertmanager webhook,
// the self-preservation resume callback, and the operational read endpoints.
package api

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/homelab-ops/remedy/pkg/alertqueue"
	"github.com/homelab-ops/remedy/pkg/database"
	"github.com/homelab-ops/remedy/pkg/metrics"
	"github.com/homelab-ops/remedy/pkg/models"
	"github.com/homelab-ops/remedy/pkg/pipeline"
	"github.com/homelab-ops/remedy/pkg/preserve"
	"github.com/homelab-ops/remedy/pkg/store"
)

// requestTimeout bounds handler-side database work.
const requestTimeout = 10 * time.Second

// resumeTimeout bounds the off-request continuation of a resumed
// remediation, execution and verification included.
const resumeTimeout = 10 * time.Minute

// Processor is the pipeline surface. *pipeline.Pipeline satisfies it.
type Processor interface {
	HandleWebhook(ctx context.Context, payload *models.WebhookPayload) []pipeline.Result
	ResumeFromContext(ctx context.Context, rc *preserve.RemediationContext) pipeline.Result
}

// Resumer completes self-preservation handoffs. *preserve.Manager satisfies
// it.
type Resumer interface {
	Resume(ctx context.Context, handoffID string) (*preserve.RemediationContext, error)
}

// DataStore is the read/maintenance persistence surface. *store.Store
// satisfies it.
type DataStore interface {
	GetStatistics(ctx context.Context, days int) (*store.Statistics, error)
	GetAnalytics(ctx context.Context) (*store.Analytics, error)
	ListPatterns(ctx context.Context) ([]models.RemediationPattern, error)
	GetPattern(ctx context.Context, id int64) (*models.RemediationPattern, error)
	StartMaintenanceWindow(ctx context.Context, host, reason, createdBy string) (*models.MaintenanceWindow, error)
	EndMaintenanceWindow(ctx context.Context, host string) (*models.MaintenanceWindow, error)
	ListMaintenanceWindows(ctx context.Context, limit int) ([]models.MaintenanceWindow, error)
}

// RunbookStore is the runbook surface. *runbook.Store satisfies it.
type RunbookStore interface {
	ForAlert(alertName string) string
	List() []string
	Reload() (int, error)
}

// HealthCheck probes one external dependency.
type HealthCheck func(ctx context.Context) error

// DBHealth reports database connectivity. *database.Client satisfies it.
type DBHealth interface {
	Health(ctx context.Context) (*database.HealthStatus, error)
}

// Config carries the server's auth credentials and version string.
type Config struct {
	WebhookUser     string
	WebhookPassword string
	Version         string
}

// Server wires the HTTP routes to the engine.
type Server struct {
	processor Processor
	resumer   Resumer
	store     DataStore
	runbooks  RunbookStore
	queue     *alertqueue.Queue
	metrics   *metrics.Metrics
	dbHealth  DBHealth
	external  map[string]HealthCheck
	cfg       Config
}

// NewServer creates a Server. resumer, runbooks, queue, metrics, dbHealth,
// and external may be nil.
func NewServer(processor Processor, resumer Resumer, dataStore DataStore, runbooks RunbookStore,
	queue *alertqueue.Queue, m *metrics.Metrics, dbHealth DBHealth,
	external map[string]HealthCheck, cfg Config) *Server {
	return &Server{
		processor: processor,
		resumer:   resumer,
		store:     dataStore,
		runbooks:  runbooks,
		queue:     queue,
		metrics:   m,
		dbHealth:  dbHealth,
		external:  external,
		cfg:       cfg,
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.GET("/health", s.Health)
	r.GET("/version", s.Version)
	if s.metrics != nil {
		r.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	auth := r.Group("/", s.basicAuth())
	auth.POST("/webhook/alertmanager", s.Webhook)
	auth.POST("/resume", s.ResumeHandoff)
	auth.POST("/maintenance/start", s.StartMaintenance)
	auth.POST("/maintenance/end", s.EndMaintenance)
	auth.POST("/runbooks/reload", s.ReloadRunbooks)

	r.GET("/maintenance/status", s.MaintenanceStatus)
	r.GET("/patterns", s.ListPatterns)
	r.GET("/patterns/:id", s.GetPattern)
	r.GET("/analytics", s.Analytics)
	r.GET("/statistics", s.Statistics)
	r.GET("/runbooks", s.ListRunbooks)
	r.GET("/runbooks/:alert", s.GetRunbook)
	r.GET("/external-services", s.ExternalServices)
	return r
}

// basicAuth guards the write endpoints with HTTP Basic, answering JSON 401
// so Alertmanager retry loops get a parseable body.
func (s *Server) basicAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, pass, ok := c.Request.BasicAuth()
		if !ok ||
			subtle.ConstantTimeCompare([]byte(user), []byte(s.cfg.WebhookUser)) != 1 ||
			subtle.ConstantTimeCompare([]byte(pass), []byte(s.cfg.WebhookPassword)) != 1 {
			c.Header("WWW-Authenticate", `Basic realm="remedy"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if c.Request.URL.Path == "/health" || c.Request.URL.Path == "/metrics" {
			return
		}
		slog.Info("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start).Round(time.Millisecond))
	}
}
