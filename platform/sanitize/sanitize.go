// Package sanitize cleans user-provided free text before it is stored.
package sanitize

import (
	"regexp"
	"strings"
)

var (
	htmlTagRegex = regexp.MustCompile(`<[^>]*>`)
	entities     = strings.NewReplacer("&lt;", "<", "&gt;", ">", "&amp;", "&", "&quot;", "\"", "&#39;", "'")
)

// StripHTML removes all HTML tags from a string, making it safe for
// text-only display.
func StripHTML(s string) string {
	result := htmlTagRegex.ReplaceAllString(s, "")
	result = entities.Replace(result)
	// tags smuggled in as entities surface only after decoding
	return htmlTagRegex.ReplaceAllString(result, "")
}

// Text strips HTML and collapses whitespace runs. Use for client names and
// stage notes.
func Text(s string) string {
	return strings.Join(strings.Fields(StripHTML(s)), " ")
}
