package intel

import (
	"encoding/json"
	"strings"
)

// Parse coerces the model's final text into an Intelligence result. It
// never fails: a strict parse is tried first, then a brace scan over
// the text, and as a last resort the raw text is wrapped in a degraded
// result with the default health score and ParseError set.
func Parse(text string) *Intelligence {
	candidate := strings.TrimSpace(text)

	if fenced, ok := extractFenced(candidate); ok {
		if out := tryUnmarshal(fenced); out != nil {
			return out
		}
	}
	if out := tryUnmarshal(candidate); out != nil {
		return out
	}
	if scanned, ok := braceScan(candidate); ok {
		if out := tryUnmarshal(scanned); out != nil {
			return out
		}
	}

	return &Intelligence{
		HealthScore: DefaultHealthScore,
		ParseError:  true,
		RawText:     text,
	}
}

// tryUnmarshal accepts the candidate only if it decodes and carries a
// health score, the one field every valid result must have.
func tryUnmarshal(s string) *Intelligence {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal([]byte(s), &probe); err != nil {
		return nil
	}
	if _, ok := probe["healthScore"]; !ok {
		return nil
	}
	var out Intelligence
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil
	}
	return &out
}

// extractFenced pulls the body of the first fenced code block, with or
// without a language tag.
func extractFenced(s string) (string, bool) {
	start := strings.Index(s, "```")
	if start < 0 {
		return "", false
	}
	rest := s[start+3:]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		// Drop the fence line itself ("json", "", ...).
		rest = rest[nl+1:]
	}
	end := strings.Index(rest, "```")
	if end < 0 {
		return "", false
	}
	return strings.TrimSpace(rest[:end]), true
}

// braceScan finds the first top-level {...} span in the text, matching
// braces while skipping string literals.
func braceScan(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
