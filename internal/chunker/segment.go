package chunker

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// unit is an indivisible span of text: a sentence or a whole paragraph.
// Offsets are byte positions in the document text.
type unit struct {
	start  int
	end    int
	tokens int
}

// paragraphs splits text on blank lines. Returned spans are trimmed of surrounding whitespace.
func paragraphs(text string) []unit {
	var out []unit
	pos := 0
	paraStart := -1
	paraEnd := 0

	for pos <= len(text) {
		lineEnd := strings.IndexByte(text[pos:], '\n')
		if lineEnd < 0 {
			lineEnd = len(text)
		} else {
			lineEnd += pos
		}
		line := text[pos:lineEnd]

		if strings.TrimSpace(line) == "" {
			if paraStart >= 0 {
				out = append(out, trimmed(text, paraStart, paraEnd))
				paraStart = -1
			}
		} else {
			if paraStart < 0 {
				paraStart = pos
			}
			paraEnd = lineEnd
		}
		pos = lineEnd + 1
	}
	if paraStart >= 0 {
		out = append(out, trimmed(text, paraStart, paraEnd))
	}
	return out
}

// sentences splits text[start:end] into sentences.
func sentences(text string, start, end int) []unit {
	var out []unit
	sentStart := start
	i := start

	for i < end {
		r, size := utf8.DecodeRuneInString(text[i:end])
		i += size
		if !isTerminator(r) {
			continue
		}

		wide := isWide(r)

		// Absorb runs like "?!" or "..." and any closing quotes/brackets.
		j := i
		for j < end {
			r2, s2 := utf8.DecodeRuneInString(text[j:end])
			if !isTerminator(r2) && !isCloser(r2) {
				break
			}
			wide = wide || isWide(r2)
			j += s2
		}
		if j < end && !wide {
			r2, _ := utf8.DecodeRuneInString(text[j:end])
			if !unicode.IsSpace(r2) {
				// "3.14", "e.g.x"
				i = j
				continue
			}
			if nextWordIsLower(text[j:end]) {
				// "e.g. the", "approx. five"
				i = j
				continue
			}
		}

		if u := trimmed(text, sentStart, j); u.end > u.start {
			out = append(out, u)
		}
		sentStart = j
		i = j
	}
	if u := trimmed(text, sentStart, end); u.end > u.start {
		out = append(out, u)
	}
	return out
}

func trimmed(text string, start, end int) unit {
	for start < end {
		r, size := utf8.DecodeRuneInString(text[start:end])
		if !unicode.IsSpace(r) {
			break
		}
		start += size
	}
	for end > start {
		r, size := utf8.DecodeLastRuneInString(text[start:end])
		if !unicode.IsSpace(r) {
			break
		}
		end -= size
	}
	return unit{start: start, end: end}
}

func nextWordIsLower(s string) bool {
	for _, r := range s {
		if unicode.IsSpace(r) {
			continue
		}
		return unicode.IsLower(r)
	}
	return false
}

func isTerminator(r rune) bool {
	switch r {
	case '.', '!', '?', '。', '！', '？', '…':
		return true
	}
	return false
}

// isWide reports full-width terminators, which end a sentence without trailing space.
func isWide(r rune) bool {
	return r == '。' || r == '！' || r == '？'
}

func isCloser(r rune) bool {
	switch r {
	case '"', '\'', ')', ']', '}', '»', '”', '’', '」', '』':
		return true
	}
	return false
}
