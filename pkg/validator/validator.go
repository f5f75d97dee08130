// Package validator classifies shell commands proposed for remote execution.
//
// The LLM is untrusted with respect to the exact shell it proposes, so a
// flat, auditable deny-list is the safety net: any blacklist match rejects
// the command with high risk; everything else is accepted with low risk.
package validator

import (
	"regexp"
	"strings"

	"github.com/homelab-ops/remedy/pkg/models"
)

// blacklistEntry pairs a compiled pattern with the operator-facing reason.
type blacklistEntry struct {
	pattern *regexp.Regexp
	reason  string
}

func entry(expr, reason string) blacklistEntry {
	return blacklistEntry{pattern: regexp.MustCompile(`(?i)` + expr), reason: reason}
}

// engineServices are the names whose lifecycle must never be touched by a
// generated command. Restarts of the engine or its database go through the
// self-preservation handoff instead.
var engineServices = `(remedy|remedy-engine|remedy-db|remedy-postgres)`

var blacklist = []blacklistEntry{
	entry(`\brm\s+(-[a-z]*[rf][a-z]*\s+)+`, "recursive or forced file deletion"),
	entry(`\brm\s+.*\*`, "wildcard file deletion"),
	entry(`\b(reboot|shutdown|halt|poweroff)\b`, "system reboot/shutdown"),
	entry(`\bsystemctl\s+(reboot|poweroff|halt)\b`, "system reboot/shutdown via systemctl"),
	entry(`\b(iptables|ip6tables|ufw|nft)\b`, "firewall mutation"),
	entry(`\bdocker\s+(rm|rmi)\b`, "destructive container removal"),
	entry(`\bdocker\s+volume\s+rm\b`, "docker volume removal"),
	entry(`\bdocker\s+system\s+prune\b`, "docker system prune"),
	entry(`\bsystemctl\s+(disable|mask)\b`, "disabling a systemd unit"),
	entry(`\b(docker\s+(stop|restart|rm)|systemctl\s+(stop|restart))\s+\S*`+engineServices+`\b`,
		"engine-critical service mutation (use self-preservation restart)"),
	entry(`\bsed\s+-i\b`, "in-place file edit"),
	entry(`>\s*/(etc|boot|usr|bin|sbin|lib|var/lib)/`, "redirection into system path"),
	entry(`\|\s*(sudo\s+)?(ba)?sh\b`, "pipe to shell"),
	entry(`\bcurl\b.*\|\s*`, "piping downloaded content"),
	entry(`\b(apt|apt-get|dpkg|yum|dnf|pacman|apk)\b`, "package manager invocation"),
	entry(`\b(mkfs|fdisk|parted|dd)\b`, "disk/filesystem mutation"),
	entry(`\bkill\s+-9\b`, "SIGKILL"),
	entry(`\bchmod\s+(-[a-z]+\s+)?777\b`, "world-writable permission change"),
	entry(`\btruncate\b.*\s/`, "file truncation on absolute path"),
	entry(`:\(\)\s*{.*};\s*:`, "fork bomb"),
}

// Result is the batch validation outcome for a plan.
type Result struct {
	Safe     bool
	Accepted []string
	Rejected []string
	Reasons  []string // parallel to Rejected, input order
	MaxRisk  models.RiskLevel
}

// ValidateCommand checks a single trimmed command against the blacklist.
// Returns ok=false with the matched reason on rejection.
func ValidateCommand(cmd string) (ok bool, reason string) {
	trimmed := strings.TrimSpace(cmd)
	if trimmed == "" {
		return false, "empty command"
	}
	for _, e := range blacklist {
		if e.pattern.MatchString(trimmed) {
			return false, e.reason
		}
	}
	return true, ""
}

// ValidateCommands batch-validates a plan. Any rejected command makes the
// whole plan unsafe and raises max risk to high; an all-accepted plan is low
// risk.
func ValidateCommands(plan []string) Result {
	res := Result{Safe: true, MaxRisk: models.RiskLow}
	for _, cmd := range plan {
		ok, reason := ValidateCommand(cmd)
		if ok {
			res.Accepted = append(res.Accepted, strings.TrimSpace(cmd))
			continue
		}
		res.Safe = false
		res.MaxRisk = models.RiskHigh
		res.Rejected = append(res.Rejected, strings.TrimSpace(cmd))
		res.Reasons = append(res.Reasons, reason)
	}
	return res
}
