package telegram

import (
	"strings"
	"testing"
)

func TestSplitTextShortPassthrough(t *testing.T) {
	t.Parallel()
	got := splitText("hello", 100)
	if len(got) != 1 || got[0] != "hello" {
		t.Fatalf("splitText = %v", got)
	}
}

func TestSplitTextChunksWithinLimit(t *testing.T) {
	t.Parallel()
	var b strings.Builder
	for i := 0; i < 50; i++ {
		b.WriteString("line with some detail about availability\n")
	}

	chunks := splitText(b.String(), 200)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if len([]rune(c)) > 200 {
			t.Fatalf("chunk %d has %d runes, exceeds limit", i, len([]rune(c)))
		}
		if c == "" {
			t.Fatalf("chunk %d is empty", i)
		}
	}
	// Rejoining must preserve every line.
	joined := strings.Join(chunks, "\n") + "\n"
	if strings.Count(joined, "line with some detail") != 50 {
		t.Fatalf("content lost across chunks")
	}
}

func TestSplitTextPrefersNewlineBoundary(t *testing.T) {
	t.Parallel()
	text := strings.Repeat("a", 150) + "\n" + strings.Repeat("b", 150)
	chunks := splitText(text, 200)
	if len(chunks) != 2 {
		t.Fatalf("chunks = %d, want 2", len(chunks))
	}
	if strings.ContainsRune(chunks[0], 'b') {
		t.Fatalf("first chunk crossed the newline boundary: %q", chunks[0])
	}
}
