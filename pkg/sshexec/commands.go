package sshexec

import (
	"context"
	"fmt"
	"time"
)

// LogKind selects the log source for GatherLogs.
type LogKind string

// Log sources.
const (
	LogKindDocker  LogKind = "docker"
	LogKindSystemd LogKind = "systemd"
	LogKindSystem  LogKind = "system"
)

// ServiceKind selects the service manager for Status and restart commands.
type ServiceKind string

// Service kinds.
const (
	ServiceKindDocker  ServiceKind = "docker"
	ServiceKindSystemd ServiceKind = "systemd"
)

// GatherLogs fetches recent logs from the host. name is required for docker
// and systemd kinds; the system kind tails the journal.
func (e *Executor) GatherLogs(ctx context.Context, host string, kind LogKind, name string, lines int, timeout time.Duration) *Result {
	if lines <= 0 {
		lines = 50
	}
	var cmd string
	switch kind {
	case LogKindDocker:
		cmd = fmt.Sprintf("docker logs --tail %d %s 2>&1", lines, name)
	case LogKindSystemd:
		cmd = fmt.Sprintf("journalctl -u %s -n %d --no-pager", name, lines)
	default:
		cmd = fmt.Sprintf("journalctl -n %d --no-pager", lines)
	}
	return e.Execute(ctx, host, []string{cmd}, timeout)
}

// Status probes the state of a container or service on the host.
func (e *Executor) Status(ctx context.Context, host, name string, kind ServiceKind, timeout time.Duration) *Result {
	return e.Execute(ctx, host, []string{StatusCommand(kind, name)}, timeout)
}

// StatusCommand builds the canonical read-only state probe for a service
// kind. An empty name widens the probe to the whole service manager.
func StatusCommand(kind ServiceKind, name string) string {
	switch kind {
	case ServiceKindDocker:
		if name == "" {
			return "docker ps -a --format '{{.Names}}\t{{.Status}}'"
		}
		return fmt.Sprintf("docker ps -a --filter name=%s --format '{{.Names}}\t{{.Status}}'", name)
	default:
		if name == "" {
			return "systemctl list-units --state=failed --no-legend"
		}
		return fmt.Sprintf("systemctl status %s --no-pager -l", name)
	}
}

// RestartCommand builds the canonical restart command for a service kind.
// The command still flows through the validator before execution.
func RestartCommand(kind ServiceKind, name string) string {
	switch kind {
	case ServiceKindDocker:
		return "docker restart " + name
	default:
		return "systemctl restart " + name
	}
}
