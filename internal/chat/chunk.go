package chat

import "strings"

// SplitChunks breaks text into pieces no longer than limit characters,
// preferring whitespace boundaries so words stay intact. Order is
// preserved. A limit of zero (or negative) disables splitting. A single
// word longer than the limit is hard-split.
func SplitChunks(text string, limit int) []string {
	if limit <= 0 || len(text) <= limit {
		if text == "" {
			return nil
		}
		return []string{text}
	}

	var chunks []string
	for len(text) > limit {
		cut := lastBoundary(text[:limit+1])
		if cut <= 0 {
			cut = limit // no whitespace in the window, hard split
		}
		chunks = append(chunks, strings.TrimRight(text[:cut], " \n\t"))
		text = strings.TrimLeft(text[cut:], " \n\t")
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}

// lastBoundary returns the index of the last whitespace rune in s,
// preferring a newline over a space, or -1.
func lastBoundary(s string) int {
	if i := strings.LastIndexByte(s, '\n'); i > 0 {
		return i
	}
	if i := strings.LastIndexByte(s, ' '); i > 0 {
		return i
	}
	return -1
}
