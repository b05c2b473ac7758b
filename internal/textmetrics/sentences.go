package textmetrics

import (
	"strings"
	"unicode"
)

type sentence struct {
	text     string
	question bool
	exclaim  bool
}

func isTerminator(r rune) bool {
	switch r {
	case '.', '!', '?', '…', '。', '！', '？':
		return true
	}
	return false
}

// splitSentences splits text on runs of terminal punctuation. Only segments
// containing a letter or digit count as sentences. The second return value
// is the number of terminator runs seen; zero means the text carries no
// sentence punctuation at all.
func splitSentences(text string) ([]sentence, int) {
	runes := []rune(text)
	var out []sentence
	var buf strings.Builder
	terminated := 0

	flush := func(question, exclaim bool) {
		s := strings.TrimSpace(buf.String())
		buf.Reset()
		if hasWordRune(s) {
			out = append(out, sentence{text: s, question: question, exclaim: exclaim})
		}
	}

	for i := 0; i < len(runes); i++ {
		r := runes[i]
		// A period between digits is a decimal point.
		if r == '.' && i > 0 && i+1 < len(runes) && unicode.IsDigit(runes[i-1]) && unicode.IsDigit(runes[i+1]) {
			buf.WriteRune(r)
			continue
		}
		if !isTerminator(r) {
			buf.WriteRune(r)
			continue
		}
		question, exclaim := false, false
		for ; i < len(runes) && isTerminator(runes[i]); i++ {
			switch runes[i] {
			case '?', '？':
				question = true
			case '!', '！':
				exclaim = true
			}
		}
		i--
		terminated++
		flush(question, exclaim)
	}
	flush(false, false)
	return out, terminated
}

func hasWordRune(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

// splitParagraphs returns the non-empty blocks of text separated by blank lines.
func splitParagraphs(text string) []string {
	var out []string
	var cur []string
	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		if strings.TrimSpace(line) == "" {
			if len(cur) > 0 {
				out = append(out, strings.Join(cur, "\n"))
				cur = nil
			}
			continue
		}
		cur = append(cur, line)
	}
	if len(cur) > 0 {
		out = append(out, strings.Join(cur, "\n"))
	}
	return out
}
