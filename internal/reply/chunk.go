package reply

import (
	"strings"
	"unicode/utf8"
)

// DefaultChunkLimit is the maximum size of a single delivered message chunk.
const DefaultChunkLimit = 4000

// Chunk splits text into pieces no longer than limit characters, preferring
// paragraph boundaries. Whole paragraphs are packed greedily; a single
// paragraph longer than the limit is hard-split at limit boundaries.
// Empty input returns an empty slice; input within the limit is returned
// as a single chunk unchanged.
func Chunk(text string, limit int) []string {
	if text == "" {
		return nil
	}
	if limit <= 0 {
		limit = DefaultChunkLimit
	}
	if len(text) <= limit {
		return []string{text}
	}

	paragraphs := strings.Split(text, "\n\n")
	var chunks []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			chunks = append(chunks, current.String())
			current.Reset()
		}
	}

	for _, para := range paragraphs {
		if len(para) > limit {
			flush()
			for len(para) > limit {
				cut := splitPoint(para, limit)
				chunks = append(chunks, para[:cut])
				para = para[cut:]
			}
			if para != "" {
				current.WriteString(para)
			}
			continue
		}

		if current.Len() == 0 {
			current.WriteString(para)
			continue
		}
		if current.Len()+2+len(para) <= limit {
			current.WriteString("\n\n")
			current.WriteString(para)
			continue
		}
		flush()
		current.WriteString(para)
	}
	flush()

	return chunks
}

// splitPoint returns the largest byte offset <= limit that falls on a rune
// boundary, so a hard split never cuts a multi-byte rune in half.
func splitPoint(s string, limit int) int {
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	if cut == 0 {
		return limit
	}
	return cut
}
