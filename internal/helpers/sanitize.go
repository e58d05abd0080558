package helpers

import (
	"html"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

var (
	strictOnce   sync.Once
	strictPolicy *bluemonday.Policy
)

func strict() *bluemonday.Policy {
	strictOnce.Do(func() {
		strictPolicy = bluemonday.StrictPolicy()
	})
	return strictPolicy
}

// PlainText strips every HTML element from s, decodes entities and collapses
// runs of whitespace. Feed summaries routinely embed markup; everything that
// reaches the index or a prompt goes through here first.
func PlainText(s string) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}
	cleaned := html.UnescapeString(strict().Sanitize(s))
	return strings.Join(strings.Fields(cleaned), " ")
}

// Truncate shortens s to at most n runes, appending "..." when it cut
// anything.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return strings.TrimSpace(string(runes[:n])) + "..."
}
