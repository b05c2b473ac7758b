package textmetrics

import (
	"strings"
	"unicode"
)

// countSyllables estimates syllables in one whitespace token. Tokens with
// non-ASCII letters count as one syllable, as do tokens without letters.
func countSyllables(token string) int {
	var letters []rune
	for _, r := range token {
		if unicode.IsLetter(r) {
			if r > unicode.MaxASCII {
				return 1
			}
			letters = append(letters, unicode.ToLower(r))
		}
	}
	if len(letters) == 0 {
		return 1
	}
	word := string(letters)
	if len(word) <= 3 {
		return 1
	}

	count := 0
	prevVowel := false
	for _, r := range word {
		v := isVowel(r)
		if v && !prevVowel {
			count++
		}
		prevVowel = v
	}

	// Silent trailing e ("make", "lecture"), but not "-le" ("table").
	if strings.HasSuffix(word, "e") && !strings.HasSuffix(word, "le") && !strings.HasSuffix(word, "ee") && count > 1 {
		count--
	}
	// "-ed" is rarely voiced except after t or d.
	if strings.HasSuffix(word, "ed") && !strings.HasSuffix(word, "ted") && !strings.HasSuffix(word, "ded") && count > 1 {
		count--
	}
	if count < 1 {
		count = 1
	}
	return count
}

func isVowel(r rune) bool {
	switch r {
	case 'a', 'e', 'i', 'o', 'u', 'y':
		return true
	}
	return false
}
