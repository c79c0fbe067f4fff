package memory

import "strings"

const (
	chunkWindow      = 1000
	chunkOverlap     = 150
	sentenceLookback = 100
)

var sentenceTerminators = []byte{'.', '!', '?'}

// chunkText splits text into overlapping windows (spec.md §4.7): each window
// is chunkWindow chars, with chunkOverlap chars of repeat with the previous
// window, and the cut point prefers the last sentence terminator found in
// the trailing sentenceLookback chars of the window over a hard cut.
func chunkText(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) <= chunkWindow {
		return []string{text}
	}

	var chunks []string
	start := 0
	for start < len(text) {
		end := start + chunkWindow
		if end >= len(text) {
			chunks = append(chunks, strings.TrimSpace(text[start:]))
			break
		}

		cut := end
		lookbackStart := end - sentenceLookback
		if lookbackStart < start {
			lookbackStart = start
		}
		if idx := lastSentenceBreak(text[lookbackStart:end]); idx >= 0 {
			cut = lookbackStart + idx + 1
		}

		chunks = append(chunks, strings.TrimSpace(text[start:cut]))

		next := cut - chunkOverlap
		if next <= start {
			next = cut
		}
		start = next
	}
	return chunks
}

func lastSentenceBreak(window string) int {
	best := -1
	for i := 0; i < len(window); i++ {
		for _, term := range sentenceTerminators {
			if window[i] == term {
				best = i
			}
		}
	}
	return best
}
