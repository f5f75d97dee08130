package learning

import "strings"

// criticalPrefixes mark label tokens whose mismatch makes two fingerprints
// structurally different machines or workloads.
var criticalPrefixes = []string{"system:", "container:", "remediation_host:"}

// Similarity scores how well a stored pattern's fingerprint matches a live
// alert's fingerprint, in [0,1].
//
// A pattern whose tokens are a subset of the alert's scores
// min(0.95, 0.70 + |pattern|/10). Otherwise the Jaccard index is used, with
// a +0.15 boost when every critical token of the pattern appears in the
// alert, and a hard clamp to 0.30 when any critical token conflicts.
func Similarity(patternFP, alertFP string) float64 {
	patternParts := Parts(patternFP)
	alertParts := Parts(alertFP)
	if len(patternParts) == 0 || len(alertParts) == 0 {
		return 0
	}

	alertSet := make(map[string]bool, len(alertParts))
	for _, p := range alertParts {
		alertSet[p] = true
	}

	subset := true
	for _, p := range patternParts {
		if !alertSet[p] {
			subset = false
			break
		}
	}
	if subset {
		sim := 0.70 + float64(len(patternParts))/10
		if sim > 0.95 {
			sim = 0.95
		}
		return sim
	}

	patternSet := make(map[string]bool, len(patternParts))
	intersection := 0
	for _, p := range patternParts {
		patternSet[p] = true
		if alertSet[p] {
			intersection++
		}
	}
	union := len(patternSet) + len(alertSet) - intersection
	sim := float64(intersection) / float64(union)

	if criticalMismatch(patternParts, alertParts) {
		if sim > 0.30 {
			return 0.30
		}
		return sim
	}
	if criticalCovered(patternParts, alertSet) {
		sim += 0.15
		if sim > 1 {
			sim = 1
		}
	}
	return sim
}

// criticalCovered reports whether every critical token of the pattern is
// present in the alert.
func criticalCovered(patternParts []string, alertSet map[string]bool) bool {
	found := false
	for _, p := range patternParts {
		if !isCritical(p) {
			continue
		}
		found = true
		if !alertSet[p] {
			return false
		}
	}
	return found
}

// criticalMismatch reports whether the pattern and alert disagree on the
// value of any critical label both of them carry.
func criticalMismatch(patternParts, alertParts []string) bool {
	for _, prefix := range criticalPrefixes {
		pv, pok := valueFor(patternParts, prefix)
		av, aok := valueFor(alertParts, prefix)
		if pok && aok && pv != av {
			return true
		}
	}
	return false
}

func valueFor(parts []string, prefix string) (string, bool) {
	for _, p := range parts {
		if strings.HasPrefix(p, prefix) {
			return strings.TrimPrefix(p, prefix), true
		}
	}
	return "", false
}

func isCritical(part string) bool {
	for _, prefix := range criticalPrefixes {
		if strings.HasPrefix(part, prefix) {
			return true
		}
	}
	return false
}
