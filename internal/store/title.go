package store

import "strings"

// GenerateTitle derives a conversation title from its first message: the
// first 50 characters, trimmed, with an ellipsis marker when anything was
// cut. Pure helper, no store involved.
func GenerateTitle(message string) string {
	runes := []rune(message)
	cut := runes
	if len(cut) > titleFromLen {
		cut = cut[:titleFromLen]
	}
	title := strings.TrimSpace(string(cut))
	if len([]rune(title)) < len(runes) {
		return title + "..."
	}
	return title
}
