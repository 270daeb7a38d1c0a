// Package format turns raw chat text into ordered, typed segments for safe
// rendering. It recognizes **bold**, *italic*, `code` and ```codeblock```
// delimiters, one level deep, with fixed precedence. Formatting never fails:
// unterminated delimiters simply stay in the text verbatim.
package format

import (
	"strings"

	"propchat/internal/domain"
)

const (
	fence = "```"
	star  = '*'
	tick  = '`'
)

// Format splits raw into segments. It is pure and deterministic: codeblocks
// are extracted first (they may span lines and their interior is taken
// verbatim), then every remaining span gets one left-to-right inline scan.
// A non-empty input always yields at least one segment.
func Format(raw string) []domain.Segment {
	if raw == "" {
		return nil
	}

	var segs []domain.Segment
	rest := raw
	fenced := false

	for {
		open := strings.Index(rest, fence)
		if open < 0 {
			break
		}
		closing := strings.Index(rest[open+len(fence):], fence)
		if closing < 0 {
			break
		}
		fenced = true
		if open > 0 {
			segs = scanInline(rest[:open], segs)
		}
		inner := rest[open+len(fence) : open+len(fence)+closing]
		segs = append(segs, domain.Segment{Kind: domain.SegmentCodeBlock, Content: inner})
		rest = rest[open+len(fence)+closing+len(fence):]
	}

	if !fenced {
		segs = scanInline(raw, segs)
		if len(segs) == 0 {
			segs = append(segs, domain.Segment{Kind: domain.SegmentText, Content: raw})
		}
		return segs
	}

	if rest != "" {
		segs = scanInline(rest, segs)
	}
	return segs
}

// scanInline appends segments for one codeblock-free span. At each position
// the earliest match wins, tried in priority order: bold, italic, inline
// code. Inline matches never span a newline.
func scanInline(text string, segs []domain.Segment) []domain.Segment {
	plain := 0 // start of the pending text run
	i := 0
	for i < len(text) {
		c := text[i]
		if c != star && c != tick {
			i++
			continue
		}

		// Matches are confined to the current line.
		line := text[i:]
		if nl := strings.IndexByte(line, '\n'); nl >= 0 {
			line = line[:nl]
		}

		kind := domain.SegmentText
		var content string
		consumed := 0

		switch {
		case c == star && strings.HasPrefix(line, "**"):
			if end := strings.Index(line[2:], "**"); end >= 0 {
				kind = domain.SegmentBold
				content = line[2 : 2+end]
				consumed = 2 + end + 2
				break
			}
			fallthrough
		case c == star:
			if end := strings.IndexByte(line[1:], star); end >= 0 {
				kind = domain.SegmentItalic
				content = line[1 : 1+end]
				consumed = 1 + end + 1
			}
		case c == tick:
			if end := strings.IndexByte(line[1:], tick); end >= 0 {
				kind = domain.SegmentCode
				content = line[1 : 1+end]
				consumed = 1 + end + 1
			}
		}

		if consumed == 0 {
			i++
			continue
		}

		if i > plain {
			segs = append(segs, domain.Segment{Kind: domain.SegmentText, Content: text[plain:i]})
		}
		segs = append(segs, domain.Segment{Kind: kind, Content: content})
		i += consumed
		plain = i
	}

	if plain < len(text) {
		segs = append(segs, domain.Segment{Kind: domain.SegmentText, Content: text[plain:]})
	}
	return segs
}
