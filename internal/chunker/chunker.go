// Package chunker splits oversized text into windows small enough to embed.
// Splits prefer paragraph boundaries, then sentence boundaries, then words,
// so each window stays semantically coherent.
package chunker

import "strings"

// Split breaks text into pieces of at most maxLen bytes. Text at or under the
// limit comes back as a single piece; empty input yields nil.
func Split(text string, maxLen int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if maxLen <= 0 || len(text) <= maxLen {
		return []string{text}
	}

	var out []string
	for _, para := range splitParagraphs(text) {
		if len(para) <= maxLen {
			out = appendMerged(out, para, maxLen)
			continue
		}
		for _, sent := range splitSentences(para) {
			if len(sent) <= maxLen {
				out = appendMerged(out, sent, maxLen)
				continue
			}
			for _, piece := range splitWords(sent, maxLen) {
				out = appendMerged(out, piece, maxLen)
			}
		}
	}
	return out
}

// appendMerged packs a piece into the previous window when both fit together,
// keeping windows close to maxLen instead of fragmenting.
func appendMerged(out []string, piece string, maxLen int) []string {
	piece = strings.TrimSpace(piece)
	if piece == "" {
		return out
	}
	if n := len(out); n > 0 && len(out[n-1])+1+len(piece) <= maxLen {
		out[n-1] = out[n-1] + " " + piece
		return out
	}
	return append(out, piece)
}

func splitParagraphs(text string) []string {
	var out []string
	for _, p := range strings.Split(text, "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// splitSentences cuts on terminal punctuation followed by whitespace. It does
// not try to be a full sentence segmenter; embedding windows only need
// roughly sentence-shaped pieces.
func splitSentences(text string) []string {
	var out []string
	start := 0
	for i := 0; i < len(text)-1; i++ {
		switch text[i] {
		case '.', '!', '?':
			if text[i+1] == ' ' || text[i+1] == '\n' {
				if s := strings.TrimSpace(text[start : i+1]); s != "" {
					out = append(out, s)
				}
				start = i + 1
			}
		}
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		out = append(out, s)
	}
	return out
}

func splitWords(text string, maxLen int) []string {
	var out []string
	var cur strings.Builder
	for _, w := range strings.Fields(text) {
		// A single word over the limit is cut mid-word as a last resort.
		for len(w) > maxLen {
			if cur.Len() > 0 {
				out = append(out, cur.String())
				cur.Reset()
			}
			out = append(out, w[:maxLen])
			w = w[maxLen:]
		}
		if w == "" {
			continue
		}
		if cur.Len() > 0 && cur.Len()+1+len(w) > maxLen {
			out = append(out, cur.String())
			cur.Reset()
		}
		if cur.Len() > 0 {
			cur.WriteByte(' ')
		}
		cur.WriteString(w)
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out
}
