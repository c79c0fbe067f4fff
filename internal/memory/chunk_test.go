package memory

import (
	"strings"
	"testing"
)

func TestChunkText_ShortTextIsSingleChunk(t *testing.T) {
	got := chunkText("short text")
	if len(got) != 1 || got[0] != "short text" {
		t.Fatalf("got %v", got)
	}
}

func TestChunkText_EmptyTextYieldsNoChunks(t *testing.T) {
	if got := chunkText("   "); got != nil {
		t.Fatalf("expected nil for blank text, got %v", got)
	}
}

func TestChunkText_LongTextSplitsIntoMultipleWindows(t *testing.T) {
	text := strings.Repeat("a", 2500)
	chunks := chunkText(text)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks for long text, got %d", len(chunks))
	}
	for _, c := range chunks {
		if len(c) > chunkWindow {
			t.Errorf("chunk exceeds window: len=%d", len(c))
		}
	}
}

func TestChunkText_PrefersSentenceBoundaryOverHardCut(t *testing.T) {
	sentence := strings.Repeat("x", 950) + ". " + strings.Repeat("y", 500)
	chunks := chunkText(sentence)
	if len(chunks) < 2 {
		t.Fatalf("expected at least 2 chunks, got %d", len(chunks))
	}
	if !strings.HasSuffix(chunks[0], ".") {
		t.Fatalf("expected first chunk to end at the sentence terminator, got suffix %q", chunks[0][len(chunks[0])-10:])
	}
}

func TestChunkText_OverlapRepeatsTrailingContent(t *testing.T) {
	text := strings.Repeat("a", 1200)
	chunks := chunkText(text)
	if len(chunks) < 2 {
		t.Fatalf("expected at least 2 chunks, got %d", len(chunks))
	}
	tail := chunks[0][len(chunks[0])-50:]
	if !strings.Contains(chunks[1], tail) {
		t.Fatal("expected second chunk to overlap with the tail of the first")
	}
}
