package memory

import (
	"fmt"
	"strings"
	"testing"
)

func TestChunkLines_Coverage(t *testing.T) {
	t.Parallel()

	var lines []string
	for i := 1; i <= 200; i++ {
		lines = append(lines, fmt.Sprintf("line %03d %s", i, strings.Repeat("x", i%40)))
	}
	content := strings.Join(lines, "\n") + "\n"

	chunks := ChunkLines(content, 300)
	if len(chunks) < 2 {
		t.Fatalf("expected several chunks, got %d", len(chunks))
	}

	next := 1
	for i, c := range chunks {
		if c.StartLine != next {
			t.Fatalf("chunk %d starts at %d, want %d", i, c.StartLine, next)
		}
		if c.EndLine < c.StartLine {
			t.Fatalf("chunk %d has inverted range %d-%d", i, c.StartLine, c.EndLine)
		}
		if n := len([]rune(c.Text)); n > 300 {
			t.Errorf("chunk %d has %d chars, budget 300", i, n)
		}
		want := strings.Join(lines[c.StartLine-1:c.EndLine], "\n")
		if c.Text != want {
			t.Errorf("chunk %d text does not match lines %d-%d", i, c.StartLine, c.EndLine)
		}
		if c.Hash != hashText(c.Text) {
			t.Errorf("chunk %d hash mismatch", i)
		}
		next = c.EndLine + 1
	}
	if next != 201 {
		t.Errorf("chunks end at line %d, want 200", next-1)
	}
}

func TestChunkLines_LongLine(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("a", 50)
	chunks := ChunkLines("short\n"+long+"\ntail", 20)
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(chunks))
	}
	if chunks[1].Text != long || chunks[1].StartLine != 2 || chunks[1].EndLine != 2 {
		t.Errorf("long line chunk = %+v", chunks[1])
	}
}

func TestChunkLines_Empty(t *testing.T) {
	t.Parallel()

	if got := ChunkLines("", 100); got != nil {
		t.Errorf("ChunkLines(\"\") = %v, want nil", got)
	}
	got := ChunkLines("single line", 0)
	if len(got) != 1 || got[0].StartLine != 1 || got[0].EndLine != 1 {
		t.Errorf("ChunkLines(single) = %+v", got)
	}
}

func TestChunkID(t *testing.T) {
	t.Parallel()

	a := ChunkID("memory/a.md", 1, 10, "m1")
	if a != ChunkID("memory/a.md", 1, 10, "m1") {
		t.Error("ChunkID is not deterministic")
	}
	if a == ChunkID("memory/a.md", 1, 10, "m2") {
		t.Error("ChunkID ignores the model")
	}
	if a == ChunkID("memory/a.md", 1, 11, "m1") {
		t.Error("ChunkID ignores the line range")
	}
}
