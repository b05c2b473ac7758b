// Package textmetrics computes deterministic readability, engagement and
// pacing metrics for lecture transcripts. It performs no I/O.
package textmetrics

import (
	"errors"
	"math"
	"strings"
)

// ErrInvalidInput is returned for empty or whitespace-only transcripts.
var ErrInvalidInput = errors.New("transcript is empty")

// wordsPerEstimatedSentence is used when a transcript has no terminal
// punctuation at all (raw speech-to-text output).
const wordsPerEstimatedSentence = 20

// Metrics is the result of analyzing one transcript.
type Metrics struct {
	WordCount               int     `json:"word_count"`
	SentenceCount           int     `json:"sentence_count"`
	SentencesEstimated      bool    `json:"sentences_estimated"`
	AverageSentenceLength   float64 `json:"avg_sentence_length"`
	AverageSyllablesPerWord float64 `json:"avg_syllables_per_word"`
	ReadabilityScore        float64 `json:"readability_score"`
	EngagementScore         float64 `json:"engagement_score"`

	QuestionCount       int `json:"question_count"`
	InterrogativeCues   int `json:"interrogative_cue_count"`
	ExclamationCount    int `json:"exclamation_count"`
	DirectAddressCount  int `json:"direct_address_count"`
	InteractiveCueCount int `json:"interactive_cue_count"`
	ParagraphCount      int `json:"paragraph_count"`
	TopicShiftCount     int `json:"topic_shift_count"`

	// WordsPerMinute is nil when no positive duration was supplied.
	WordsPerMinute  *float64 `json:"words_per_minute"`
	PacingAvailable bool     `json:"pacing_available"`

	SubjectFocus map[string]int `json:"subject_focus"`

	// TopicCoverage is set by callers that know the lecture's topics.
	TopicCoverage *TopicReport `json:"topic_coverage,omitempty"`
}

// Analyze computes Metrics for text. durationMinutes <= 0 means the lecture
// duration is unknown, in which case pacing is reported as unavailable.
func Analyze(text string, durationMinutes float64) (Metrics, error) {
	if strings.TrimSpace(text) == "" {
		return Metrics{}, ErrInvalidInput
	}

	tokens := strings.Fields(text)
	words := normalizeTokens(tokens)
	sentences, terminated := splitSentences(text)

	m := Metrics{WordCount: len(tokens)}

	if terminated == 0 || len(sentences) == 0 {
		m.SentenceCount = int(math.Ceil(float64(m.WordCount) / wordsPerEstimatedSentence))
		if m.SentenceCount < 1 {
			m.SentenceCount = 1
		}
		m.SentencesEstimated = true
		sentences = []sentence{{text: text}}
	} else {
		m.SentenceCount = len(sentences)
	}

	syllables := 0
	for _, tok := range tokens {
		syllables += countSyllables(tok)
	}
	m.AverageSentenceLength = round1(float64(m.WordCount) / float64(m.SentenceCount))
	asw := float64(syllables) / float64(m.WordCount)
	m.AverageSyllablesPerWord = round2(asw)
	m.ReadabilityScore = round1(clamp(206.835-1.015*(float64(m.WordCount)/float64(m.SentenceCount))-84.6*asw, 0, 100))

	sig := collectSignals(text, words, sentences, m.SentenceCount)
	m.QuestionCount = sig.questions
	m.InterrogativeCues = sig.interrogativeCues
	m.ExclamationCount = sig.exclamations
	m.DirectAddressCount = sig.directAddress
	m.InteractiveCueCount = sig.interactiveCues
	m.ParagraphCount = sig.paragraphs
	m.TopicShiftCount = sig.topicShifts
	m.EngagementScore = round1(engagementScore(sig, m.WordCount, m.SentenceCount))

	if durationMinutes > 0 {
		wpm := round1(float64(m.WordCount) / durationMinutes)
		m.WordsPerMinute = &wpm
		m.PacingAvailable = true
	}

	m.SubjectFocus = subjectFocus(words)
	return m, nil
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }
func round2(v float64) float64 { return math.Round(v*100) / 100 }
