package format

import (
	"html"
	"strings"

	"propchat/internal/domain"
)

// Sanitize prepares segment content for display. The formatter supplies
// structure, not safety: every segment, whatever its kind, passes through
// here before rendering. Anything tag-shaped is dropped wholesale and the
// remainder is escaped so it renders as inert text.
func Sanitize(s string) string {
	if !strings.ContainsAny(s, "<>&\"'") {
		return s
	}
	return html.EscapeString(stripTags(s))
}

// SanitizeSegments returns the segments with every content sanitized.
// The input slice is left untouched when nothing needs escaping.
func SanitizeSegments(segs []domain.Segment) []domain.Segment {
	dirty := -1
	for i, seg := range segs {
		if Sanitize(seg.Content) != seg.Content {
			dirty = i
			break
		}
	}
	if dirty < 0 {
		return segs
	}
	out := make([]domain.Segment, len(segs))
	copy(out, segs)
	for i := dirty; i < len(out); i++ {
		out[i].Content = Sanitize(out[i].Content)
	}
	return out
}

// stripTags removes <...> runs, attributes included. An unclosed '<' is kept
// literally (escaping makes it harmless).
func stripTags(s string) string {
	if !strings.ContainsRune(s, '<') {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '<' {
			b.WriteByte(s[i])
			continue
		}
		end := strings.IndexByte(s[i:], '>')
		if end < 0 {
			b.WriteString(s[i:])
			break
		}
		i += end
	}
	return b.String()
}
