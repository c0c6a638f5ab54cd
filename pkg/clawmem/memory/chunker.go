package memory

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// DefaultChunkMaxChars is the character budget of a chunk.
const DefaultChunkMaxChars = 2000

// TextChunk is a contiguous, 1-based inclusive line range of a document.
type TextChunk struct {
	StartLine int
	EndLine   int
	Text      string
	Hash      string
}

// ChunkLines splits content on line boundaries into chunks of at most
// maxChars characters. A single line longer than the budget becomes its own
// chunk. Every line of the document belongs to exactly one chunk.
func ChunkLines(content string, maxChars int) []TextChunk {
	if content == "" {
		return nil
	}
	if maxChars <= 0 {
		maxChars = DefaultChunkMaxChars
	}

	lines := strings.Split(content, "\n")
	if len(lines) > 1 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}

	var chunks []TextChunk
	start := 0
	size := 0
	flush := func(end int) {
		text := strings.Join(lines[start:end], "\n")
		chunks = append(chunks, TextChunk{
			StartLine: start + 1,
			EndLine:   end,
			Text:      text,
			Hash:      hashText(text),
		})
		start = end
		size = 0
	}

	for i, line := range lines {
		n := len([]rune(line))
		if i > start {
			n++ // joining newline
		}
		if i > start && size+n > maxChars {
			flush(i)
			n = len([]rune(line))
		}
		size += n
	}
	if start < len(lines) {
		flush(len(lines))
	}
	return chunks
}

// ChunkID derives the deterministic id of a chunk from its location and the
// embedding model it was indexed under.
func ChunkID(path string, startLine, endLine int, model string) string {
	return hashText(fmt.Sprintf("%s:%d:%d:%s", path, startLine, endLine, model))
}

// hashText returns the hex sha256 digest of s.
func hashText(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])
}
