package knowledge

import (
	"strings"
	"unicode"
)

// Default chunking parameters for ingested documents, in characters.
const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 150
)

// separators are tried in order when looking for a place to end a chunk.
var separators = []string{"\n\n", "\n", ". ", " "}

// Split cuts text into chunks of at most size runes. Consecutive chunks
// share about overlap runes of context. Chunk ends prefer paragraph, line,
// sentence and word boundaries, in that order, as long as the boundary
// falls in the second half of the window.
func Split(text string, size, overlap int) []string {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	runes := []rune(strings.TrimSpace(text))
	if len(runes) == 0 {
		return nil
	}
	if len(runes) <= size {
		return []string{string(runes)}
	}

	var chunks []string
	start := 0
	for start < len(runes) {
		end := start + size
		if end >= len(runes) {
			end = len(runes)
		} else {
			end = boundary(runes, start, end)
		}

		if piece := strings.TrimSpace(string(runes[start:end])); piece != "" {
			chunks = append(chunks, piece)
		}
		if end == len(runes) {
			break
		}

		next := end - overlap
		if next <= start {
			next = end
		}
		// Start the overlap on a word rather than mid-token.
		for next < end && !unicode.IsSpace(runes[next-1]) {
			next++
		}
		start = next
	}
	return chunks
}

// boundary returns the best cut point in runes[start:end].
func boundary(runes []rune, start, end int) int {
	window := string(runes[start:end])
	floor := (end - start) / 2
	for _, sep := range separators {
		idx := strings.LastIndex(window, sep)
		if idx < 0 {
			continue
		}
		cut := len([]rune(window[:idx])) + len([]rune(sep))
		if cut >= floor {
			return start + cut
		}
	}
	return end
}
