package reply

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestChunkShortText(t *testing.T) {
	got := Chunk("Hello world", 4000)
	if len(got) != 1 || got[0] != "Hello world" {
		t.Errorf("got %v, want [Hello world]", got)
	}
}

func TestChunkEmpty(t *testing.T) {
	if got := Chunk("", 4000); len(got) != 0 {
		t.Errorf("got %v, want empty", got)
	}
}

func TestChunkAtParagraphBoundary(t *testing.T) {
	got := Chunk("AAAAA\n\nBBBBB\n\nCCCCC", 12)

	joined := strings.Join(got, "\n\n")
	for _, part := range []string{"AAAAA", "BBBBB", "CCCCC"} {
		if !strings.Contains(joined, part) {
			t.Errorf("missing %q in %v", part, got)
		}
	}
	for i, c := range got {
		if len(c) > 12 {
			t.Errorf("chunk %d exceeds limit: %d chars", i, len(c))
		}
	}
}

func TestChunkHardSplitLongParagraph(t *testing.T) {
	long := strings.Repeat("x", 25)
	got := Chunk(long, 10)

	var total int
	for i, c := range got {
		if len(c) > 10 {
			t.Errorf("chunk %d exceeds limit: %d chars", i, len(c))
		}
		total += len(c)
	}
	if total != 25 {
		t.Errorf("content lost: got %d chars, want 25", total)
	}
}

func TestChunkHardSplitKeepsRunesWhole(t *testing.T) {
	// Three-byte runes with a limit that lands mid-rune on a naive byte
	// split.
	long := strings.Repeat("日", 10) // 30 bytes
	got := Chunk(long, 10)

	var rebuilt strings.Builder
	for i, c := range got {
		if len(c) > 10 {
			t.Errorf("chunk %d exceeds limit: %d bytes", i, len(c))
		}
		if !utf8.ValidString(c) {
			t.Errorf("chunk %d split mid-rune: %q", i, c)
		}
		rebuilt.WriteString(c)
	}
	if rebuilt.String() != long {
		t.Error("content lost across rune-boundary splits")
	}
}

func TestChunkGreedyPacking(t *testing.T) {
	// Three 5-char paragraphs, limit 12: first two fit together.
	got := Chunk("AAAAA\n\nBBBBB\n\nCCCCC", 12)
	if len(got) != 2 {
		t.Fatalf("got %d chunks, want 2: %v", len(got), got)
	}
	if got[0] != "AAAAA\n\nBBBBB" {
		t.Errorf("first chunk %q, want paragraphs packed", got[0])
	}
	if got[1] != "CCCCC" {
		t.Errorf("second chunk %q, want CCCCC", got[1])
	}
}

func TestChunkOrderPreserved(t *testing.T) {
	text := "first\n\nsecond\n\nthird\n\nfourth"
	got := Chunk(text, 14)
	joined := strings.Join(got, "\n\n")

	order := []string{"first", "second", "third", "fourth"}
	last := -1
	for _, word := range order {
		idx := strings.Index(joined, word)
		if idx < 0 {
			t.Fatalf("missing %q in %q", word, joined)
		}
		if idx < last {
			t.Errorf("%q out of order in %q", word, joined)
		}
		last = idx
	}
}
