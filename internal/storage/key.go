package storage

import (
	"regexp"
	"strings"
)

var unsafeKeyChars = regexp.MustCompile(`[^a-zA-Z0-9\-_\s]+`)

// SafeKey turns free text, such as a task slug, into a single storage
// key segment. Path separators and dots are dropped, spaces become
// underscores. An empty result falls back to def.
func SafeKey(text, def string) string {
	clean := unsafeKeyChars.ReplaceAllString(text, "")
	clean = strings.Join(strings.Fields(clean), "_")
	if clean == "" {
		return def
	}
	return clean
}
