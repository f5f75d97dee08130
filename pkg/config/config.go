// Package config loads engine configuration from the environment.
//
// A .env file is loaded first when present (godotenv), then the Config
// struct is populated via env tags. Required settings fail fast at startup.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

// SSHHost describes one remediation target reachable over SSH.
type SSHHost struct {
	Name    string
	Address string
	User    string
	KeyPath string
}

// Config holds every runtime option. Defaults mirror the documented
// deployment values; required fields abort startup when missing.
type Config struct {
	HTTPPort string `env:"HTTP_PORT" envDefault:"8080"`

	// Required external endpoints and credentials.
	DatabaseURL       string `env:"DATABASE_URL,required"`
	AnthropicAPIKey   string `env:"ANTHROPIC_API_KEY,required"`
	WebhookUser       string `env:"WEBHOOK_AUTH_USER,required"`
	WebhookPassword   string `env:"WEBHOOK_AUTH_PASSWORD,required"`
	DiscordWebhookURL string `env:"DISCORD_WEBHOOK_URL,required"`

	// Query backends.
	PrometheusURL string `env:"PROMETHEUS_URL" envDefault:"http://localhost:9090"`
	LokiURL       string `env:"LOKI_URL" envDefault:"http://localhost:3100"`

	// Optional integrations. Tools depending on these are disabled when unset.
	HomeAssistantURL   string `env:"HA_URL"`
	HomeAssistantToken string `env:"HA_TOKEN"`
	N8NWebhookURL      string `env:"N8N_WEBHOOK_URL"`
	N8NAPIKey          string `env:"N8N_API_KEY"`

	// EngineURL is the externally reachable base URL of this engine,
	// used for self-preservation callbacks and health polling.
	EngineURL string `env:"ENGINE_URL" envDefault:"http://localhost:8080"`

	// Pipeline knobs.
	MaxAttemptsPerAlert        int           `env:"MAX_ATTEMPTS_PER_ALERT" envDefault:"3"`
	AttemptWindow              time.Duration `env:"ATTEMPT_WINDOW" envDefault:"2h"`
	FingerprintCooldown        time.Duration `env:"FINGERPRINT_COOLDOWN" envDefault:"300s"`
	FingerprintMaxAge          time.Duration `env:"FINGERPRINT_MAX_AGE" envDefault:"24h"`
	EscalationCooldown         time.Duration `env:"ESCALATION_COOLDOWN" envDefault:"4h"`
	RecentAlertWindow          time.Duration `env:"RECENT_ALERT_WINDOW" envDefault:"120s"`
	CommandExecutionTimeout    time.Duration `env:"COMMAND_EXECUTION_TIMEOUT" envDefault:"60s"`
	SSHConnectionTimeout       time.Duration `env:"SSH_CONNECTION_TIMEOUT" envDefault:"10s"`
	VerificationEnabled        bool          `env:"VERIFICATION_ENABLED" envDefault:"true"`
	VerifyMaxWait              time.Duration `env:"VERIFY_MAX_WAIT" envDefault:"120s"`
	VerifyPollInterval         time.Duration `env:"VERIFY_POLL_INTERVAL" envDefault:"15s"`
	VerifyInitialDelay         time.Duration `env:"VERIFY_INITIAL_DELAY" envDefault:"30s"`
	ProactiveCheckInterval     time.Duration `env:"PROACTIVE_CHECK_INTERVAL" envDefault:"30m"`
	StaleHandoffCleanupAge     time.Duration `env:"STALE_HANDOFF_CLEANUP_AGE" envDefault:"60m"`
	MaxSelfRestarts            int           `env:"MAX_SELF_RESTARTS" envDefault:"2"`
	MaxAgentIterations         int           `env:"MAX_AGENT_ITERATIONS" envDefault:"5"`
	PatternCacheTTL            time.Duration `env:"PATTERN_CACHE_TTL" envDefault:"5m"`

	// Degraded-mode queue.
	QueueCapacity      int           `env:"ALERT_QUEUE_CAPACITY" envDefault:"500"`
	QueueDrainBatch    int           `env:"ALERT_QUEUE_DRAIN_BATCH" envDefault:"100"`
	QueueDrainInterval time.Duration `env:"ALERT_QUEUE_DRAIN_INTERVAL" envDefault:"30s"`

	// DB pool.
	DBMaxConns       int           `env:"DB_MAX_CONNS" envDefault:"10"`
	DBConnectRetries int           `env:"DB_CONNECT_RETRIES" envDefault:"5"`
	DBConnectBackoff time.Duration `env:"DB_CONNECT_BACKOFF" envDefault:"2s"`

	// LLM model selection.
	AnthropicModel string `env:"ANTHROPIC_MODEL" envDefault:"claude-sonnet-4-20250514"`

	// Runbooks.
	RunbookDir string `env:"RUNBOOK_DIR" envDefault:"./runbooks"`

	// Logging.
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"` // json | console
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`

	// SSH host fleet: comma-separated "name=address" entries.
	SSHHostsRaw   string `env:"SSH_HOSTS" envDefault:""`
	SSHUser       string `env:"SSH_USER" envDefault:"root"`
	SSHKeyPath    string `env:"SSH_KEY_PATH" envDefault:"~/.ssh/id_ed25519"`
	DefaultTarget string `env:"DEFAULT_TARGET_HOST" envDefault:""`

	Hosts []SSHHost `env:"-"`
}

// Load reads the .env file (if present) and parses the environment into a
// Config. The .env file never overrides variables already set.
func Load(envPath string) (*Config, error) {
	if envPath != "" {
		// Missing .env is fine; real env vars may carry everything.
		_ = godotenv.Load(envPath)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	hosts, err := parseHosts(cfg.SSHHostsRaw, cfg.SSHUser, cfg.SSHKeyPath)
	if err != nil {
		return nil, err
	}
	cfg.Hosts = hosts

	if cfg.DefaultTarget == "" && len(hosts) > 0 {
		cfg.DefaultTarget = hosts[0].Name
	}
	return cfg, nil
}

// parseHosts expands SSH_HOSTS entries. Each entry is "name=address" or
// "name=address:user:keypath" for per-host overrides.
func parseHosts(raw, defaultUser, defaultKey string) ([]SSHHost, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var hosts []SSHHost
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, rest, ok := strings.Cut(entry, "=")
		if !ok || name == "" || rest == "" {
			return nil, fmt.Errorf("invalid SSH_HOSTS entry %q (want name=address)", entry)
		}
		host := SSHHost{Name: strings.TrimSpace(name), User: defaultUser, KeyPath: defaultKey}
		parts := strings.Split(rest, ":")
		host.Address = strings.TrimSpace(parts[0])
		if len(parts) > 1 && parts[1] != "" {
			host.User = parts[1]
		}
		if len(parts) > 2 && parts[2] != "" {
			host.KeyPath = parts[2]
		}
		hosts = append(hosts, host)
	}
	return hosts, nil
}

// HostByName returns the configured host with the given name.
func (c *Config) HostByName(name string) (SSHHost, bool) {
	for _, h := range c.Hosts {
		if strings.EqualFold(h.Name, name) {
			return h, true
		}
	}
	return SSHHost{}, false
}

// HostNames returns the closed host set in configuration order.
func (c *Config) HostNames() []string {
	names := make([]string, 0, len(c.Hosts))
	for _, h := range c.Hosts {
		names = append(names, h.Name)
	}
	return names
}
