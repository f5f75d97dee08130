package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/homelab-ops/remedy/pkg/promql"
	"github.com/homelab-ops/remedy/pkg/sshexec"
	"github.com/homelab-ops/remedy/pkg/validator"
)

// maxToolOutputBytes caps what a single tool returns to the model.
const maxToolOutputBytes = 2048

// CommandRunner is the executor surface the toolbox needs. *sshexec.Executor
// satisfies it.
type CommandRunner interface {
	Execute(ctx context.Context, host string, cmds []string, timeout time.Duration) *sshexec.Result
	GatherLogs(ctx context.Context, host string, kind sshexec.LogKind, name string, lines int, timeout time.Duration) *sshexec.Result
	Status(ctx context.Context, host, name string, kind sshexec.ServiceKind, timeout time.Duration) *sshexec.Result
	HasHost(host string) bool
}

// LogQuerier is the aggregated-log surface. *logql.Client satisfies it.
type LogQuerier interface {
	ContainerErrors(ctx context.Context, container string, minutes int) (string, error)
	ServiceLogs(ctx context.Context, unit string, minutes int) (string, error)
	Search(ctx context.Context, pattern string, minutes int) (string, error)
}

// MetricQuerier is the metric-history surface. *promql.Client satisfies it.
type MetricQuerier interface {
	QueryRange(ctx context.Context, query string, start, end time.Time, step time.Duration) ([]promql.Series, error)
	PredictExhaustion(ctx context.Context, metric, instance string, threshold float64) (float64, error)
}

// HomeAutomation is the optional Home Assistant surface. Nil disables the
// home-automation tools.
type HomeAutomation interface {
	RestartAddon(ctx context.Context, slug string) error
	AddonInfo(ctx context.Context, slug string) (string, error)
	ReloadAutomations(ctx context.Context) error
}

// Toolbox executes the model's tool calls against the real infrastructure.
type Toolbox struct {
	runner     CommandRunner
	logs       LogQuerier
	metrics    MetricQuerier
	ha         HomeAutomation
	cmdTimeout time.Duration
}

// NewToolbox wires the tool implementations. logs, metrics, and ha may be
// nil; their tools then return an explanatory error to the model.
func NewToolbox(runner CommandRunner, logs LogQuerier, metrics MetricQuerier, ha HomeAutomation, cmdTimeout time.Duration) *Toolbox {
	if cmdTimeout <= 0 {
		cmdTimeout = 60 * time.Second
	}
	return &Toolbox{runner: runner, logs: logs, metrics: metrics, ha: ha, cmdTimeout: cmdTimeout}
}

// Specs returns the tool catalog advertised to the model.
func (t *Toolbox) Specs() []ToolSpec {
	specs := []ToolSpec{
		{
			Name:        "gather_logs",
			Description: "Fetch recent logs from a host via SSH. Use kind=docker for containers, kind=systemd for units, kind=system for the host journal.",
			Properties: map[string]Property{
				"host":  {Type: "string", Description: "Target host name"},
				"kind":  {Type: "string", Enum: []string{"docker", "systemd", "system"}},
				"name":  {Type: "string", Description: "Container or unit name; required unless kind=system"},
				"lines": {Type: "integer", Description: "Number of lines to tail (default 50)"},
			},
			Required: []string{"host", "kind"},
		},
		{
			Name:        "check_service_status",
			Description: "Probe the state of a container or systemd unit on a host.",
			Properties: map[string]Property{
				"host": {Type: "string"},
				"name": {Type: "string"},
				"kind": {Type: "string", Enum: []string{"docker", "systemd"}},
			},
			Required: []string{"host", "name"},
		},
		{
			Name:        "restart_service",
			Description: "Restart a container, systemd unit, or home-automation addon. The canonical restart command is safety-checked before running.",
			Properties: map[string]Property{
				"host": {Type: "string"},
				"kind": {Type: "string", Enum: []string{"docker", "systemd", "home-automation"}},
				"name": {Type: "string"},
			},
			Required: []string{"host", "kind", "name"},
		},
		{
			Name:        "execute_safe_command",
			Description: "Run one shell command on a host. Commands are safety-checked; destructive commands are rejected.",
			Properties: map[string]Property{
				"host":    {Type: "string"},
				"command": {Type: "string"},
			},
			Required: []string{"host", "command"},
		},
		{
			Name:        "query_aggregated_logs",
			Description: "Query the central log store without SSH. Modes: container_errors (error lines from a container), service_logs (a systemd unit's lines), search (free-text match).",
			Properties: map[string]Property{
				"mode":    {Type: "string", Enum: []string{"container_errors", "service_logs", "search"}},
				"target":  {Type: "string", Description: "Container, unit, or search pattern depending on mode"},
				"minutes": {Type: "integer", Description: "Lookback window in minutes (default 15)"},
			},
			Required: []string{"mode", "target"},
		},
		{
			Name:        "query_metric_history",
			Description: "Fetch a metric's recent history, optionally with a linear exhaustion prediction (hours until the metric reaches zero).",
			Properties: map[string]Property{
				"metric":             {Type: "string"},
				"instance":           {Type: "string"},
				"hours":              {Type: "integer", Description: "Lookback in hours (default 1)"},
				"predict_exhaustion": {Type: "boolean"},
			},
			Required: []string{"metric"},
		},
	}
	if t.ha != nil {
		specs = append(specs,
			ToolSpec{
				Name:        "restart_home_automation_addon",
				Description: "Restart a Home Assistant addon by slug.",
				Properties:  map[string]Property{"slug": {Type: "string"}},
				Required:    []string{"slug"},
			},
			ToolSpec{
				Name:        "get_home_automation_addon_info",
				Description: "Fetch state and version info for a Home Assistant addon.",
				Properties:  map[string]Property{"slug": {Type: "string"}},
				Required:    []string{"slug"},
			},
			ToolSpec{
				Name:        "reload_home_automations",
				Description: "Reload Home Assistant automations without a full restart.",
				Properties:  map[string]Property{},
			},
		)
	}
	return specs
}

// Dispatch validates and executes one tool call, returning the (truncated)
// result text for the model.
func (t *Toolbox) Dispatch(ctx context.Context, call ToolCall) ToolResult {
	slog.Info("tool call", "tool", call.Name, "input", string(call.Input))
	content, err := t.dispatch(ctx, call)
	if err != nil {
		slog.Warn("tool call failed", "tool", call.Name, "error", err)
		return ToolResult{CallID: call.ID, Content: err.Error(), IsError: true}
	}
	return ToolResult{CallID: call.ID, Content: truncateOutput(content)}
}

func (t *Toolbox) dispatch(ctx context.Context, call ToolCall) (string, error) {
	switch call.Name {
	case "gather_logs":
		return t.gatherLogs(ctx, call.Input)
	case "check_service_status":
		return t.checkServiceStatus(ctx, call.Input)
	case "restart_service":
		return t.restartService(ctx, call.Input)
	case "execute_safe_command":
		return t.executeSafeCommand(ctx, call.Input)
	case "query_aggregated_logs":
		return t.queryAggregatedLogs(ctx, call.Input)
	case "query_metric_history":
		return t.queryMetricHistory(ctx, call.Input)
	case "restart_home_automation_addon":
		return t.haRestartAddon(ctx, call.Input)
	case "get_home_automation_addon_info":
		return t.haAddonInfo(ctx, call.Input)
	case "reload_home_automations":
		return t.haReloadAutomations(ctx)
	default:
		return "", fmt.Errorf("unknown tool %q", call.Name)
	}
}

func (t *Toolbox) gatherLogs(ctx context.Context, input []byte) (string, error) {
	var args struct {
		Host  string `json:"host"`
		Kind  string `json:"kind"`
		Name  string `json:"name"`
		Lines int    `json:"lines"`
	}
	if err := decodeArgs(input, &args); err != nil {
		return "", err
	}
	if err := requireHost(t.runner, args.Host); err != nil {
		return "", err
	}
	var kind sshexec.LogKind
	switch args.Kind {
	case "docker":
		kind = sshexec.LogKindDocker
	case "systemd":
		kind = sshexec.LogKindSystemd
	case "system":
		kind = sshexec.LogKindSystem
	default:
		return "", fmt.Errorf("invalid log kind %q", args.Kind)
	}
	if kind != sshexec.LogKindSystem && args.Name == "" {
		return "", fmt.Errorf("name is required for kind %q", args.Kind)
	}
	res := t.runner.GatherLogs(ctx, args.Host, kind, args.Name, args.Lines, t.cmdTimeout)
	return renderResult(res), nil
}

func (t *Toolbox) checkServiceStatus(ctx context.Context, input []byte) (string, error) {
	var args struct {
		Host string `json:"host"`
		Name string `json:"name"`
		Kind string `json:"kind"`
	}
	if err := decodeArgs(input, &args); err != nil {
		return "", err
	}
	if err := requireHost(t.runner, args.Host); err != nil {
		return "", err
	}
	if args.Name == "" {
		return "", fmt.Errorf("name is required")
	}
	kind := sshexec.ServiceKindDocker
	switch args.Kind {
	case "", "docker":
	case "systemd":
		kind = sshexec.ServiceKindSystemd
	default:
		return "", fmt.Errorf("invalid service kind %q", args.Kind)
	}
	res := t.runner.Status(ctx, args.Host, args.Name, kind, t.cmdTimeout)
	return renderResult(res), nil
}

func (t *Toolbox) restartService(ctx context.Context, input []byte) (string, error) {
	var args struct {
		Host string `json:"host"`
		Kind string `json:"kind"`
		Name string `json:"name"`
	}
	if err := decodeArgs(input, &args); err != nil {
		return "", err
	}
	if args.Name == "" {
		return "", fmt.Errorf("name is required")
	}

	if args.Kind == "home-automation" {
		if t.ha == nil {
			return "", fmt.Errorf("home automation is not configured")
		}
		if err := t.ha.RestartAddon(ctx, args.Name); err != nil {
			return "", fmt.Errorf("restart addon %s: %w", args.Name, err)
		}
		return fmt.Sprintf("addon %s restart requested", args.Name), nil
	}

	var kind sshexec.ServiceKind
	switch args.Kind {
	case "docker":
		kind = sshexec.ServiceKindDocker
	case "systemd":
		kind = sshexec.ServiceKindSystemd
	default:
		return "", fmt.Errorf("invalid restart kind %q", args.Kind)
	}
	if err := requireHost(t.runner, args.Host); err != nil {
		return "", err
	}

	cmd := sshexec.RestartCommand(kind, args.Name)
	if ok, reason := validator.ValidateCommand(cmd); !ok {
		return "", fmt.Errorf("command rejected: %s", reason)
	}
	res := t.runner.Execute(ctx, args.Host, []string{cmd}, t.cmdTimeout)
	return renderResult(res), nil
}

func (t *Toolbox) executeSafeCommand(ctx context.Context, input []byte) (string, error) {
	var args struct {
		Host    string `json:"host"`
		Command string `json:"command"`
	}
	if err := decodeArgs(input, &args); err != nil {
		return "", err
	}
	if err := requireHost(t.runner, args.Host); err != nil {
		return "", err
	}
	if strings.TrimSpace(args.Command) == "" {
		return "", fmt.Errorf("command is required")
	}
	if ok, reason := validator.ValidateCommand(args.Command); !ok {
		return "", fmt.Errorf("command rejected: %s", reason)
	}
	res := t.runner.Execute(ctx, args.Host, []string{args.Command}, t.cmdTimeout)
	return renderResult(res), nil
}

func (t *Toolbox) queryAggregatedLogs(ctx context.Context, input []byte) (string, error) {
	if t.logs == nil {
		return "", fmt.Errorf("aggregated log backend is not configured")
	}
	var args struct {
		Mode    string `json:"mode"`
		Target  string `json:"target"`
		Minutes int    `json:"minutes"`
	}
	if err := decodeArgs(input, &args); err != nil {
		return "", err
	}
	if args.Target == "" {
		return "", fmt.Errorf("target is required")
	}
	switch args.Mode {
	case "container_errors":
		return t.logs.ContainerErrors(ctx, args.Target, args.Minutes)
	case "service_logs":
		return t.logs.ServiceLogs(ctx, args.Target, args.Minutes)
	case "search":
		return t.logs.Search(ctx, args.Target, args.Minutes)
	default:
		return "", fmt.Errorf("invalid mode %q", args.Mode)
	}
}

func (t *Toolbox) queryMetricHistory(ctx context.Context, input []byte) (string, error) {
	if t.metrics == nil {
		return "", fmt.Errorf("metrics backend is not configured")
	}
	var args struct {
		Metric            string `json:"metric"`
		Instance          string `json:"instance"`
		Hours             int    `json:"hours"`
		PredictExhaustion bool   `json:"predict_exhaustion"`
	}
	if err := decodeArgs(input, &args); err != nil {
		return "", err
	}
	if args.Metric == "" {
		return "", fmt.Errorf("metric is required")
	}
	if args.Hours <= 0 {
		args.Hours = 1
	}

	query := args.Metric
	if args.Instance != "" {
		query = fmt.Sprintf("%s{instance=%q}", args.Metric, args.Instance)
	}
	end := time.Now()
	series, err := t.metrics.QueryRange(ctx, query, end.Add(-time.Duration(args.Hours)*time.Hour), end, 5*time.Minute)
	if err != nil {
		return "", fmt.Errorf("metric history: %w", err)
	}

	var b strings.Builder
	if len(series) == 0 {
		b.WriteString("no data for " + query + "\n")
	}
	for _, s := range series {
		points := s.Points
		// Newest values matter most; keep the tail.
		if len(points) > 12 {
			points = points[len(points)-12:]
		}
		fmt.Fprintf(&b, "%v:", s.Labels)
		for _, p := range points {
			fmt.Fprintf(&b, " %.4g", p.Value)
		}
		b.WriteString("\n")
	}
	if args.PredictExhaustion {
		hours, err := t.metrics.PredictExhaustion(ctx, args.Metric, args.Instance, 0)
		if err != nil {
			fmt.Fprintf(&b, "exhaustion prediction unavailable: %v\n", err)
		} else if hours < 0 {
			b.WriteString("exhaustion prediction: metric is not decaying\n")
		} else {
			fmt.Fprintf(&b, "exhaustion prediction: ~%.1f hours until zero\n", hours)
		}
	}
	return b.String(), nil
}

func (t *Toolbox) haRestartAddon(ctx context.Context, input []byte) (string, error) {
	if t.ha == nil {
		return "", fmt.Errorf("home automation is not configured")
	}
	var args struct {
		Slug string `json:"slug"`
	}
	if err := decodeArgs(input, &args); err != nil {
		return "", err
	}
	if args.Slug == "" {
		return "", fmt.Errorf("slug is required")
	}
	if err := t.ha.RestartAddon(ctx, args.Slug); err != nil {
		return "", err
	}
	return "addon " + args.Slug + " restart requested", nil
}

func (t *Toolbox) haAddonInfo(ctx context.Context, input []byte) (string, error) {
	if t.ha == nil {
		return "", fmt.Errorf("home automation is not configured")
	}
	var args struct {
		Slug string `json:"slug"`
	}
	if err := decodeArgs(input, &args); err != nil {
		return "", err
	}
	if args.Slug == "" {
		return "", fmt.Errorf("slug is required")
	}
	return t.ha.AddonInfo(ctx, args.Slug)
}

func (t *Toolbox) haReloadAutomations(ctx context.Context) (string, error) {
	if t.ha == nil {
		return "", fmt.Errorf("home automation is not configured")
	}
	if err := t.ha.ReloadAutomations(ctx); err != nil {
		return "", err
	}
	return "automations reloaded", nil
}

func decodeArgs(input []byte, out any) error {
	dec := json.NewDecoder(strings.NewReader(string(input)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("invalid tool arguments: %w", err)
	}
	return nil
}

func requireHost(runner CommandRunner, host string) error {
	if host == "" {
		return fmt.Errorf("host is required")
	}
	if !runner.HasHost(host) {
		return fmt.Errorf("unknown host %q", host)
	}
	return nil
}

func renderResult(res *sshexec.Result) string {
	var b strings.Builder
	for i, out := range res.Outputs {
		fmt.Fprintf(&b, "[exit %d] %s\n", res.ExitCodes[i], strings.TrimSpace(out))
	}
	if res.Error != "" {
		fmt.Fprintf(&b, "error: %s\n", res.Error)
	}
	if b.Len() == 0 {
		return "(no output)"
	}
	return b.String()
}

func truncateOutput(s string) string {
	if len(s) <= maxToolOutputBytes {
		return s
	}
	return s[:maxToolOutputBytes] + "\n... (truncated)"
}
