package hub

import (
	"regexp"
	"strings"
)

// Prefix namespaces CRM tools inside the model-facing registry so they
// cannot collide with core tools.
const Prefix = "crm_"

// sanitizeRe matches characters that are not lowercase alphanumeric or underscore.
var sanitizeRe = regexp.MustCompile(`[^a-z0-9_]`)

// ToolName converts a hyphenated wire name to its model-facing name,
// e.g. "search-objects" → "crm_search_objects".
func ToolName(wireName string) string {
	return Prefix + sanitize(wireName)
}

// sanitize converts a name to lowercase and replaces non-alphanumeric
// characters (except underscore) with underscores. Consecutive
// underscores are collapsed and leading/trailing underscores are trimmed.
func sanitize(name string) string {
	s := strings.ToLower(name)
	s = strings.ReplaceAll(s, "-", "_")
	s = sanitizeRe.ReplaceAllString(s, "_")

	// Collapse consecutive underscores.
	for strings.Contains(s, "__") {
		s = strings.ReplaceAll(s, "__", "_")
	}

	return strings.Trim(s, "_")
}
