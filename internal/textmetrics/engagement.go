package textmetrics

import (
	"math"
	"strings"
	"unicode"
)

var directAddressWords = map[string]bool{
	"you": true, "your": true, "yours": true, "yourself": true, "yourselves": true,
	"we": true, "us": true, "our": true, "ours": true, "ourselves": true,
	"let's": true, "lets": true, "everyone": true, "everybody": true, "y'all": true,
}

var interactiveWords = map[string]bool{
	"think": true, "consider": true, "imagine": true, "together": true,
	"discuss": true, "try": true, "notice": true, "predict": true,
}

var interrogatives = map[string]bool{
	"what": true, "why": true, "how": true, "who": true, "when": true, "where": true, "which": true,
}

var topicShiftMarkers = []string{
	"now", "next", "moving on", "let's turn", "turning to", "first", "second", "third",
	"finally", "another", "in summary", "to summarize", "to recap",
}

var subjectKeywords = map[string][]string{
	"math":     {"equation", "formula", "calculate", "solve", "derivative", "integral", "function", "theorem"},
	"science":  {"experiment", "hypothesis", "theory", "molecule", "energy", "force", "reaction"},
	"history":  {"century", "war", "revolution", "empire", "civilization", "ancient", "medieval"},
	"language": {"grammar", "vocabulary", "syntax", "literature", "poetry", "prose", "metaphor"},
	"general":  {"example", "important", "remember", "understand", "concept", "principle"},
}

type signals struct {
	questions         int
	interrogativeCues int
	exclamations      int
	directAddress     int
	interactiveCues   int
	paragraphs        int
	topicShifts       int
}

// normalizeTokens lowercases tokens and trims surrounding punctuation,
// keeping inner apostrophes ("let's").
func normalizeTokens(tokens []string) []string {
	out := make([]string, len(tokens))
	for i, tok := range tokens {
		tok = strings.ReplaceAll(tok, "’", "'")
		out[i] = strings.ToLower(strings.TrimFunc(tok, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		}))
	}
	return out
}

func collectSignals(text string, words []string, sentences []sentence, sentenceCount int) signals {
	var sig signals

	for i, w := range words {
		if directAddressWords[w] {
			sig.directAddress++
		}
		if interactiveWords[w] {
			sig.interactiveCues++
		}
		if w == "what" && i+1 < len(words) && words[i+1] == "if" {
			sig.interactiveCues++
		}
	}

	for _, s := range sentences {
		if s.question {
			sig.questions++
		} else if first := firstWord(s.text); interrogatives[first] {
			sig.interrogativeCues++
		}
		if s.exclaim {
			sig.exclamations++
		}
		if startsWithMarker(s.text) {
			sig.topicShifts++
		}
	}

	sig.paragraphs = len(splitParagraphs(text))
	return sig
}

// engagementScore combines the interaction signals into [0, 100]. Each term
// saturates at 1 before weighting.
func engagementScore(sig signals, wordCount, sentenceCount int) float64 {
	words := float64(wordCount)
	sents := float64(sentenceCount)

	questionRatio := math.Min(1, float64(sig.questions+sig.interrogativeCues)/sents)
	directRatio := math.Min(1, float64(sig.directAddress)/words*10)
	interactiveRatio := math.Min(1, float64(sig.interactiveCues)/words*20)
	shiftRatio := math.Min(1, float64(sig.topicShifts+max(sig.paragraphs-1, 0))/sents)
	exclaimRatio := math.Min(1, float64(sig.exclamations)/sents)

	score := 100 * (0.35*questionRatio + 0.30*directRatio + 0.15*interactiveRatio + 0.15*shiftRatio + 0.05*exclaimRatio)
	return clamp(score, 0, 100)
}

func firstWord(s string) string {
	f := strings.Fields(s)
	if len(f) == 0 {
		return ""
	}
	return normalizeTokens(f[:1])[0]
}

func startsWithMarker(s string) bool {
	lower := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "’", "'"))
	for _, m := range topicShiftMarkers {
		if !strings.HasPrefix(lower, m) {
			continue
		}
		rest := lower[len(m):]
		if rest == "" {
			return true
		}
		r := []rune(rest)[0]
		if !unicode.IsLetter(r) && r != '\'' {
			return true
		}
	}
	return false
}

func subjectFocus(words []string) map[string]int {
	focus := make(map[string]int, len(subjectKeywords))
	for subject, keywords := range subjectKeywords {
		n := 0
		for _, w := range words {
			for _, k := range keywords {
				if w == k || w == k+"s" || w == k+"es" {
					n++
					break
				}
			}
		}
		focus[subject] = n
	}
	return focus
}
