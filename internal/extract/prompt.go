package extract

import (
	"fmt"
	"strings"
)

// BuildPrompt asks for a JSON document with title, markdown content and code
// snippets. html is cut to at most maxChars characters.
func BuildPrompt(url, html string, maxChars int) string {
	return fmt.Sprintf(
		"Extract technical documentation from %s into a JSON object with 'title', 'content' (markdown), "+
			"and 'code_snippets'. Output ONLY the JSON object.\n\nHTML:\n%s",
		url, truncateRunes(html, maxChars),
	)
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

// CleanResponse strips surrounding whitespace and markdown code fences
// (```json ... ``` or ``` ... ```) from a model reply.
func CleanResponse(text string) string {
	out := strings.TrimSpace(text)
	if strings.HasPrefix(out, "```") {
		out = strings.TrimPrefix(out, "```")
		out = strings.TrimPrefix(out, "json")
		out = strings.TrimPrefix(out, "JSON")
	}
	out = strings.TrimSpace(out)
	out = strings.TrimSuffix(out, "```")
	return strings.TrimSpace(out)
}
