package observability

import (
	"strings"
	"unicode"
)

const maxFieldRunes = 256

// scrub strips control characters that would corrupt structured log output
// and caps the value at limit runes.
func scrub(value string, limit int) string {
	if limit <= 0 {
		limit = maxFieldRunes
	}

	var b strings.Builder
	b.Grow(len(value))
	count := 0
	for _, r := range value {
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			continue
		}
		if count >= limit {
			break
		}
		b.WriteRune(r)
		count++
	}
	return b.String()
}

// SanitizeRoute normalises a request path for log fields.
func SanitizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return scrub(route, 180)
}

// SanitizeMethod normalises an HTTP method for log fields.
func SanitizeMethod(method string) string {
	return scrub(method, 10)
}

// SanitizeUserID caps identifiers logged alongside requests. Order and
// payment ids are ULIDs well under the cap; the limit guards claims-sourced
// values.
func SanitizeUserID(uid string) string {
	if uid == "" {
		return ""
	}
	return scrub(uid, 64)
}
