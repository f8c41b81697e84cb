package engine

import "strings"

const (
	// segmentThreshold is the text length above which a single-prompt
	// analysis is split into per-segment passes with a final synthesis.
	segmentThreshold = 4000
	maxSegments      = 12
)

// splitText divides text into at most limit segments, preferring sentence
// boundaries so each segment stays readable on its own. Short texts come
// back as a single segment.
func splitText(text string, limit int) []string {
	if limit <= 1 || len(text) <= segmentThreshold {
		return []string{text}
	}
	target := len(text)/limit + 1
	if target < segmentThreshold/2 {
		target = segmentThreshold / 2
	}

	var segs []string
	var b strings.Builder
	for _, sent := range splitSentences(text) {
		if b.Len() > 0 && b.Len()+len(sent) > target && len(segs) < limit-1 {
			segs = append(segs, strings.TrimSpace(b.String()))
			b.Reset()
		}
		b.WriteString(sent)
	}
	if s := strings.TrimSpace(b.String()); s != "" {
		segs = append(segs, s)
	}
	if len(segs) == 0 {
		segs = []string{text}
	}
	return segs
}

// splitSentences cuts text after sentence-ending punctuation followed by
// whitespace. Punctuation stays attached to its sentence.
func splitSentences(text string) []string {
	var out []string
	start := 0
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '.', '!', '?', '\n':
			end := i + 1
			for end < len(text) && (text[end] == ' ' || text[end] == '\n' || text[end] == '\t') {
				end++
			}
			out = append(out, text[start:end])
			i = end - 1
			start = end
		}
	}
	if start < len(text) {
		out = append(out, text[start:])
	}
	return out
}
