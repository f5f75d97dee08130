package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/homelab-ops/remedy/pkg/models"
	"github.com/homelab-ops/remedy/pkg/preserve"
)

// Health reports overall engine health. A non-empty degraded-mode queue
// means attempts are buffered in memory; an unreachable database is
// unhealthy.
func (s *Server) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	body := gin.H{
		"version":   s.cfg.Version,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	dbConnected := true
	if s.dbHealth != nil {
		if health, err := s.dbHealth.Health(ctx); err != nil {
			dbConnected = false
			body["database"] = health
		} else {
			body["database"] = health
		}
	}
	body["database_connected"] = dbConnected

	maintenanceMode := false
	if s.store != nil {
		windows, err := s.store.ListMaintenanceWindows(ctx, 10)
		if err == nil {
			for _, w := range windows {
				if w.IsActive && w.EndedAt == nil {
					maintenanceMode = true
					break
				}
			}
		}
	}
	body["maintenance_mode"] = maintenanceMode

	status := "healthy"
	code := http.StatusOK
	if s.queue != nil {
		stats := s.queue.Stats()
		if stats.Depth > 0 {
			status = "degraded"
			body["queue_stats"] = stats
		}
	}
	if !dbConnected {
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}
	body["status"] = status
	c.JSON(code, body)
}

// Version returns build information.
func (s *Server) Version(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"version": s.cfg.Version})
}

// Webhook accepts an Alertmanager delivery and runs each alert through the
// pipeline synchronously.
func (s *Server) Webhook(c *gin.Context) {
	var payload models.WebhookPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid webhook payload: " + err.Error()})
		return
	}

	results := s.processor.HandleWebhook(c.Request.Context(), &payload)

	outcomes := make([]gin.H, 0, len(results))
	for _, r := range results {
		outcomes = append(outcomes, gin.H{"outcome": r.Outcome, "message": r.Message})
	}
	c.JSON(http.StatusOK, gin.H{"alerts": len(payload.Alerts), "results": outcomes})
}

// ResumeHandoff is the self-preservation callback: the orchestrator posts
// here after restarting the requested target.
func (s *Server) ResumeHandoff(c *gin.Context) {
	if s.resumer == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "self-preservation is not configured"})
		return
	}

	var req struct {
		HandoffID string `json:"handoff_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rc, err := s.resumer.Resume(c.Request.Context(), req.HandoffID)
	if err != nil {
		if errors.Is(err, preserve.ErrHandoffNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	// Finish the interrupted remediation off-request: verification can poll
	// for minutes and the orchestrator callback must not hang on it.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), resumeTimeout)
		defer cancel()
		res := s.processor.ResumeFromContext(ctx, rc)
		slog.Info("resumed remediation finished",
			"handoff_id", req.HandoffID, "alert", rc.AlertName,
			"outcome", res.Outcome, "message", res.Message)
	}()

	c.JSON(http.StatusOK, gin.H{
		"status":           "resumed",
		"alert_name":       rc.AlertName,
		"pending_commands": len(rc.PendingCommands),
	})
}

// StartMaintenance opens a maintenance window. Empty host means global.
func (s *Server) StartMaintenance(c *gin.Context) {
	var req struct {
		Host      string `json:"host"`
		Reason    string `json:"reason"`
		CreatedBy string `json:"created_by"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.CreatedBy == "" {
		req.CreatedBy = "api"
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()
	window, err := s.store.StartMaintenanceWindow(ctx, req.Host, req.Reason, req.CreatedBy)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, window)
}

// EndMaintenance closes the active window for the host ("" = global).
func (s *Server) EndMaintenance(c *gin.Context) {
	var req struct {
		Host string `json:"host"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()
	window, err := s.store.EndMaintenanceWindow(ctx, req.Host)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if window == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no active maintenance window"})
		return
	}
	c.JSON(http.StatusOK, window)
}

// MaintenanceStatus lists recent maintenance windows.
func (s *Server) MaintenanceStatus(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()
	windows, err := s.store.ListMaintenanceWindows(ctx, 20)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	active := make([]models.MaintenanceWindow, 0)
	for _, w := range windows {
		if w.IsActive && w.EndedAt == nil {
			active = append(active, w)
		}
	}
	c.JSON(http.StatusOK, gin.H{"active": active, "recent": windows})
}

// ListPatterns returns all learned patterns.
func (s *Server) ListPatterns(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()
	patterns, err := s.store.ListPatterns(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"patterns": patterns, "count": len(patterns)})
}

// GetPattern returns a single learned pattern by id.
func (s *Server) GetPattern(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid pattern id"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()
	pattern, err := s.store.GetPattern(ctx, id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if pattern == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "pattern not found"})
		return
	}
	c.JSON(http.StatusOK, pattern)
}

// Analytics serves the aggregated analytics snapshot.
func (s *Server) Analytics(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()
	analytics, err := s.store.GetAnalytics(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, analytics)
}

// Statistics serves outcome statistics for the trailing N days (default 7).
func (s *Server) Statistics(c *gin.Context) {
	days := 7
	if raw := c.Query("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 365 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "days must be between 1 and 365"})
			return
		}
		days = parsed
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()
	stats, err := s.store.GetStatistics(ctx, days)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// ListRunbooks returns the alert names with a runbook on disk.
func (s *Server) ListRunbooks(c *gin.Context) {
	if s.runbooks == nil {
		c.JSON(http.StatusOK, gin.H{"runbooks": []string{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runbooks": s.runbooks.List()})
}

// GetRunbook returns the runbook body for one alert.
func (s *Server) GetRunbook(c *gin.Context) {
	if s.runbooks == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no runbooks configured"})
		return
	}
	body := s.runbooks.ForAlert(c.Param("alert"))
	if body == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "no runbook for " + c.Param("alert")})
		return
	}
	c.JSON(http.StatusOK, gin.H{"alert": c.Param("alert"), "runbook": body})
}

// ReloadRunbooks re-reads the runbook directory.
func (s *Server) ReloadRunbooks(c *gin.Context) {
	if s.runbooks == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "no runbooks configured"})
		return
	}
	count, err := s.runbooks.Reload()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"loaded": count})
}

// ExternalServices probes the configured external dependencies.
func (s *Server) ExternalServices(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	services := gin.H{}
	for name, check := range s.external {
		if err := check(ctx); err != nil {
			services[name] = gin.H{"status": "unreachable", "error": err.Error()}
		} else {
			services[name] = gin.H{"status": "ok"}
		}
	}
	c.JSON(http.StatusOK, gin.H{"services": services})
}
