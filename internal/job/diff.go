package job

import (
	"fmt"
	"strings"

	"github.com/dealsense/dealsense/internal/intel"
)

// Detect compares a fresh result against the entity's previous one and
// summarizes what moved. Returns nil when either side is missing;
// first-ever runs have nothing to diff against.
func Detect(current, previous *intel.Intelligence) *ChangeRecord {
	if current == nil || previous == nil {
		return nil
	}

	c := &ChangeRecord{
		ScoreDelta:       current.HealthScore - previous.HealthScore,
		NewInsights:      missingFrom(current.Insights, previous.Insights),
		ResolvedInsights: missingFrom(previous.Insights, current.Insights),
		NewRisks:         missingFrom(current.RiskFactors, previous.RiskFactors),
		ResolvedRisks:    missingFrom(previous.RiskFactors, current.RiskFactors),
	}
	c.Changed = c.ScoreDelta != 0 ||
		len(c.NewInsights) > 0 || len(c.ResolvedInsights) > 0 ||
		len(c.NewRisks) > 0 || len(c.ResolvedRisks) > 0
	c.Summary = summarize(c, current.HealthScore, previous.HealthScore)
	return c
}

// missingFrom returns the entries of a that do not appear in b,
// compared case-insensitively after trimming.
func missingFrom(a, b []string) []string {
	seen := make(map[string]bool, len(b))
	for _, s := range b {
		seen[normalize(s)] = true
	}
	var out []string
	for _, s := range a {
		if !seen[normalize(s)] {
			out = append(out, s)
		}
	}
	return out
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// summarize builds the one-sentence human summary.
func summarize(c *ChangeRecord, cur, prev float64) string {
	if !c.Changed {
		return "No material change since the previous analysis."
	}

	var parts []string
	if c.ScoreDelta != 0 {
		parts = append(parts, fmt.Sprintf("health score moved %+.1f (%.1f to %.1f)", c.ScoreDelta, prev, cur))
	}
	if n := len(c.NewRisks); n > 0 {
		parts = append(parts, fmt.Sprintf("%d new %s", n, plural(n, "risk")))
	}
	if n := len(c.ResolvedRisks); n > 0 {
		parts = append(parts, fmt.Sprintf("%d %s resolved", n, plural(n, "risk")))
	}
	if n := len(c.NewInsights); n > 0 {
		parts = append(parts, fmt.Sprintf("%d new %s", n, plural(n, "insight")))
	}
	if n := len(c.ResolvedInsights); n > 0 {
		parts = append(parts, fmt.Sprintf("%d %s no longer apply", n, plural(n, "insight")))
	}

	s := strings.Join(parts, "; ")
	return strings.ToUpper(s[:1]) + s[1:] + "."
}

func plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}
