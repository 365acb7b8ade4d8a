package llm

import "strings"

// ExtractJSON pulls the JSON payload out of a completion. Models asked for
// bare JSON still wrap it in markdown fences often enough that callers
// should never unmarshal a completion directly.
func ExtractJSON(s string) string {
	s = strings.TrimSpace(s)

	if i := strings.Index(s, "```json"); i >= 0 {
		start := i + len("```json")
		if end := strings.Index(s[start:], "```"); end >= 0 {
			return strings.TrimSpace(s[start : start+end])
		}
	}
	if i := strings.Index(s, "```"); i >= 0 {
		start := i + len("```")
		if end := strings.Index(s[start:], "```"); end >= 0 {
			return strings.TrimSpace(s[start : start+end])
		}
	}
	return s
}
