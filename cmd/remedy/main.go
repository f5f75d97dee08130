// Remedy engine server: receives Alertmanager webhooks, remediates alerts
// over SSH with learned patterns or an LLM investigation, and serves the
// operational HTTP API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/homelab-ops/remedy/pkg/agent"
	"github.com/homelab-ops/remedy/pkg/alertqueue"
	"github.com/homelab-ops/remedy/pkg/api"
	"github.com/homelab-ops/remedy/pkg/config"
	"github.com/homelab-ops/remedy/pkg/database"
	"github.com/homelab-ops/remedy/pkg/hostmon"
	"github.com/homelab-ops/remedy/pkg/learning"
	"github.com/homelab-ops/remedy/pkg/logql"
	"github.com/homelab-ops/remedy/pkg/metrics"
	"github.com/homelab-ops/remedy/pkg/notify"
	"github.com/homelab-ops/remedy/pkg/pipeline"
	"github.com/homelab-ops/remedy/pkg/preserve"
	"github.com/homelab-ops/remedy/pkg/proactive"
	"github.com/homelab-ops/remedy/pkg/promql"
	"github.com/homelab-ops/remedy/pkg/runbook"
	"github.com/homelab-ops/remedy/pkg/sshexec"
	"github.com/homelab-ops/remedy/pkg/store"
	"github.com/homelab-ops/remedy/pkg/suppress"
	"github.com/homelab-ops/remedy/pkg/version"
)

// queryTimeout bounds individual Prometheus/Loki calls.
const queryTimeout = 15 * time.Second

// connObserver feeds SSH connect outcomes to the host monitor and the
// error counter.
type connObserver struct {
	monitor *hostmon.Monitor
	metrics *metrics.Metrics
}

func (o connObserver) RecordSuccess(host string) { o.monitor.RecordSuccess(host) }

func (o connObserver) RecordFailure(host string, err error) {
	o.metrics.SSHConnectErrors.WithLabelValues(host).Inc()
	o.monitor.RecordFailure(host, err)
}

// httpCheck probes an HTTP endpoint for the external-services report.
func httpCheck(url string) api.HealthCheck {
	client := &http.Client{Timeout: 5 * time.Second}
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode >= 500 {
			return fmt.Errorf("status %d", resp.StatusCode)
		}
		return nil
	}
}

func main() {
	envPath := flag.String("env", ".env", "path to .env file")
	flag.Parse()

	cfg, err := config.Load(*envPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	config.SetupLogging(cfg.LogFormat, cfg.LogLevel)

	slog.Info("starting remedy",
		"version", version.Full(),
		"http_port", cfg.HTTPPort,
		"hosts", len(cfg.Hosts))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	db, err := database.Connect(ctx, database.Config{
		URL:            cfg.DatabaseURL,
		MaxConns:       cfg.DBMaxConns,
		ConnectRetries: cfg.DBConnectRetries,
		ConnectBackoff: cfg.DBConnectBackoff,
	})
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("connected to PostgreSQL")

	st := store.New(db.Pool())
	m := metrics.New()
	notifier := notify.NewService(cfg.DiscordWebhookURL)

	// Degraded-mode queue and its drain loop.
	queue := alertqueue.NewQueue(cfg.QueueCapacity)
	drainer := alertqueue.NewDrainer(queue, st, cfg.QueueDrainBatch, cfg.QueueDrainInterval)
	drainer.Start(ctx)
	defer drainer.Stop()

	// Host availability tracking fed by SSH connect outcomes.
	monitor := hostmon.New(cfg.Hosts, st, notifier)
	monitor.Start(ctx)
	defer monitor.Stop()

	executor := sshexec.New(cfg.Hosts, cfg.SSHConnectionTimeout)
	executor.SetObserver(connObserver{monitor: monitor, metrics: m})
	defer executor.Close()

	promClient := promql.New(cfg.PrometheusURL, queryTimeout)
	lokiClient := logql.New(cfg.LokiURL, queryTimeout)

	suppressor := suppress.New(monitor, st, notifier)
	suppressor.Start(ctx)
	defer suppressor.Stop()

	learner := learning.New(st, cfg.PatternCacheTTL)
	escalator := notify.NewEscalator(st, notifier, cfg.EscalationCooldown)
	runbooks := runbook.NewStore(cfg.RunbookDir, 5*time.Minute)

	// Optional Home Assistant tools.
	var ha agent.HomeAutomation
	if client := agent.NewHAClient(cfg.HomeAssistantURL, cfg.HomeAssistantToken); client != nil {
		ha = client
		slog.Info("Home Assistant tools enabled")
	}

	toolbox := agent.NewToolbox(executor, lokiClient, promClient, ha, cfg.CommandExecutionTimeout)
	llm := agent.NewAnthropicLLM(cfg.AnthropicAPIKey, cfg.AnthropicModel)
	investigator := agent.New(llm, toolbox, cfg.MaxAgentIterations)

	// Self-preservation handoff manager; n8n is the restart orchestrator.
	var orchestrator preserve.Orchestrator
	if n8n := preserve.NewN8NClient(cfg.N8NWebhookURL, cfg.N8NAPIKey); n8n != nil {
		orchestrator = n8n
		slog.Info("n8n restart orchestrator configured")
	}
	manager := preserve.NewManager(st, orchestrator, preserve.Config{
		EngineURL:   cfg.EngineURL,
		MaxRestarts: cfg.MaxSelfRestarts,
		StaleAge:    cfg.StaleHandoffCleanupAge,
	})

	pipe := pipeline.New(st, suppressor, learner, investigator, executor, promClient,
		escalator, notifier, runbooks, queue, m, pipeline.Config{
			DedupCooldown:       cfg.FingerprintCooldown,
			AttemptWindow:       cfg.AttemptWindow,
			MaxAttempts:         cfg.MaxAttemptsPerAlert,
			RecentWindow:        cfg.RecentAlertWindow,
			CommandTimeout:      cfg.CommandExecutionTimeout,
			VerificationEnabled: cfg.VerificationEnabled,
			VerifyMaxWait:       cfg.VerifyMaxWait,
			VerifyPollInterval:  cfg.VerifyPollInterval,
			VerifyInitialDelay:  cfg.VerifyInitialDelay,
			KnownHosts:          cfg.HostNames(),
			DefaultHost:         cfg.DefaultTarget,
		})
	pipe.SetPreserver(manager)

	// Boot-time handoff recovery: reap stale rows and finish the remediation
	// this process was restarted for, if any.
	if active, err := manager.Startup(ctx); err != nil {
		slog.Warn("handoff startup check failed", "error", err)
	} else if active != nil {
		if rc, err := manager.Resume(ctx, active.HandoffID); err != nil {
			slog.Error("failed to resume handoff", "handoff_id", active.HandoffID, "error", err)
		} else {
			res := pipe.ResumeFromContext(ctx, rc)
			slog.Info("resumed remediation after restart",
				"handoff_id", active.HandoffID,
				"alert", rc.AlertName,
				"outcome", res.Outcome,
				"message", res.Message)
		}
	}

	// Proactive checks against each host's node exporter.
	instances := make([]string, 0, len(cfg.Hosts))
	for _, h := range cfg.Hosts {
		instances = append(instances, h.Name+":9100")
	}
	checker := proactive.New(promClient, st, notifier, instances, cfg.ProactiveCheckInterval)
	checker.Start(ctx)
	defer checker.Stop()

	// Periodic cache reapers.
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n, err := st.ReapFingerprints(ctx, cfg.FingerprintMaxAge); err != nil {
					slog.Warn("fingerprint reap failed", "error", err)
				} else if n > 0 {
					slog.Debug("reaped stale fingerprints", "count", n)
				}
				if _, err := st.ReapSnapshots(ctx, 7*24*time.Hour); err != nil {
					slog.Warn("snapshot reap failed", "error", err)
				}
			}
		}
	}()

	// Reachability only; auth failures still prove the service is up.
	external := map[string]api.HealthCheck{
		"prometheus": httpCheck(cfg.PrometheusURL + "/-/healthy"),
		"loki":       httpCheck(cfg.LokiURL + "/ready"),
		"discord":    httpCheck(cfg.DiscordWebhookURL),
		"llm":        httpCheck("https://api.anthropic.com/v1/models"),
	}

	server := api.NewServer(pipe, manager, st, runbooks, queue, m, db, external, api.Config{
		WebhookUser:     cfg.WebhookUser,
		WebhookPassword: cfg.WebhookPassword,
		Version:         version.Full(),
	})

	httpServer := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-errCh:
		slog.Error("HTTP server failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	// Flush whatever the degraded-mode queue still holds.
	drainer.DrainOnce(shutdownCtx)

	slog.Info("shutdown complete")
}
