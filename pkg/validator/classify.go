package validator

import (
	"regexp"
	"strings"
)

// readOnlyPatterns match commands that only observe state. Anything not
// matched is treated as actionable (state-changing) and counts as an attempt.
var readOnlyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^docker\s+(ps|logs|inspect|stats|images|version|info)\b`),
	regexp.MustCompile(`(?i)^docker\s+container\s+(ls|inspect)\b`),
	regexp.MustCompile(`(?i)^systemctl\s+(status|show|list-units|list-timers|is-active|is-enabled|is-failed)\b`),
	regexp.MustCompile(`(?i)^journalctl\b`),
	regexp.MustCompile(`(?i)^curl\s+(-s\s+)?(-I|--head)\b`),
	regexp.MustCompile(`(?i)^(ping|dig|nslookup|traceroute|host)\b`),
	regexp.MustCompile(`(?i)^(df|free|uptime|w|who|id|hostname|uname|date|env)\b`),
	regexp.MustCompile(`(?i)^top\s+-b`),
	regexp.MustCompile(`(?i)^(ls|cat|head|tail|grep|find|wc|du|stat|file|which)\b`),
	regexp.MustCompile(`(?i)^(ss|netstat|ip\s+(a|addr|route|link)\b|lsof)`),
	regexp.MustCompile(`(?i)^echo\b`),
	regexp.MustCompile(`(?i)^zfs\s+(list|get)\b`),
	regexp.MustCompile(`(?i)^smartctl\s+(-a|-H|--health)\b`),
}

// IsDiagnostic reports whether a command is read-only. Only actionable
// (non-diagnostic) commands count toward the attempt counter.
func IsDiagnostic(cmd string) bool {
	trimmed := strings.TrimSpace(cmd)
	for _, p := range readOnlyPatterns {
		if p.MatchString(trimmed) {
			return true
		}
	}
	return false
}

// SplitPlan partitions a plan into actionable and diagnostic commands,
// preserving input order within each class.
func SplitPlan(plan []string) (actionable, diagnostic []string) {
	for _, cmd := range plan {
		if IsDiagnostic(cmd) {
			diagnostic = append(diagnostic, cmd)
		} else {
			actionable = append(actionable, cmd)
		}
	}
	return actionable, diagnostic
}

// simplePattern matches the low-blast-radius command shapes that are allowed
// to proceed even when the LLM self-assessed the plan as high risk.
var simplePattern = regexp.MustCompile(
	`(?i)^(docker\s+restart\s+\S+|systemctl\s+restart\s+\S+|docker\s+(ps|logs)\b.*|systemctl\s+status\b.*|journalctl\b.*)$`)

// AllSimple reports whether every command in the plan is a simple
// restart/status/logs operation.
func AllSimple(plan []string) bool {
	if len(plan) == 0 {
		return false
	}
	for _, cmd := range plan {
		if !simplePattern.MatchString(strings.TrimSpace(cmd)) {
			return false
		}
	}
	return true
}
