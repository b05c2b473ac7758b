package textmetrics

import (
	"errors"
	"reflect"
	"strings"
	"testing"
)

func TestAnalyze_EmptyInput(t *testing.T) {
	for _, text := range []string{"", "   ", "\n\t \n"} {
		if _, err := Analyze(text, 10); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("Analyze(%q) error = %v, want ErrInvalidInput", text, err)
		}
	}
}

func TestAnalyze_WordCountMatchesFields(t *testing.T) {
	cases := []string{
		"one",
		"Hello,   world!  How are\tyou?",
		"Line one.\n\nLine two has   more words.\r\nAnd a third.",
		"Café crème brûlée. 数学 は 楽しい。",
		"3.14 is pi... roughly!!!",
	}
	for _, text := range cases {
		m, err := Analyze(text, 0)
		if err != nil {
			t.Fatalf("Analyze(%q): %v", text, err)
		}
		if want := len(strings.Fields(text)); m.WordCount != want {
			t.Errorf("WordCount(%q) = %d, want %d", text, m.WordCount, want)
		}
	}
}

func TestAnalyze_Deterministic(t *testing.T) {
	text := "Today we explore derivatives. What is a limit? Let's think about it together.\n\nNext, consider an example."
	a, err := Analyze(text, 12)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	b, err := Analyze(text, 12)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Errorf("Analyze not deterministic:\n%+v\n%+v", a, b)
	}
}

func TestAnalyze_Pacing(t *testing.T) {
	text := "We will cover three ideas today. Each one builds on the last."
	tests := []struct {
		duration  float64
		available bool
		wpm       float64
	}{
		{0, false, 0},
		{-5, false, 0},
		{2, true, 6},
	}
	base, _ := Analyze(text, 0)
	for _, tt := range tests {
		m, err := Analyze(text, tt.duration)
		if err != nil {
			t.Fatalf("Analyze: %v", err)
		}
		if m.PacingAvailable != tt.available {
			t.Errorf("duration %v: PacingAvailable = %v, want %v", tt.duration, m.PacingAvailable, tt.available)
		}
		if tt.available {
			if m.WordsPerMinute == nil || *m.WordsPerMinute != tt.wpm {
				t.Errorf("duration %v: WordsPerMinute = %v, want %v", tt.duration, m.WordsPerMinute, tt.wpm)
			}
		} else if m.WordsPerMinute != nil {
			t.Errorf("duration %v: WordsPerMinute = %v, want nil", tt.duration, *m.WordsPerMinute)
		}
		if m.ReadabilityScore != base.ReadabilityScore {
			t.Errorf("duration %v changed readability: %v vs %v", tt.duration, m.ReadabilityScore, base.ReadabilityScore)
		}
	}
}

func TestAnalyze_RunOnFallback(t *testing.T) {
	words := make([]string, 45)
	for i := range words {
		words[i] = "lorem"
	}
	m, err := Analyze(strings.Join(words, " "), 0)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if !m.SentencesEstimated {
		t.Error("SentencesEstimated = false, want true")
	}
	if m.SentenceCount != 3 {
		t.Errorf("SentenceCount = %d, want 3", m.SentenceCount)
	}
}

func TestAnalyze_SentenceSplitting(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"One. Two! Three?", 3},
		{"Wait... what?! Really.", 3},
		{"The value is 3.14 exactly.", 1},
		{"First part. trailing fragment", 2},
		{"?? . !", 0},
	}
	for _, tt := range tests {
		got, _ := splitSentences(tt.text)
		if len(got) != tt.want {
			t.Errorf("splitSentences(%q) = %d sentences, want %d", tt.text, len(got), tt.want)
		}
	}
}

func TestAnalyze_ReadabilityBounds(t *testing.T) {
	tests := []string{
		"Go. Run. Sit. Eat. Nap.",
		"Incomprehensibilities notwithstanding, institutionalization of multidimensional characterizations necessitates extraordinarily sophisticated methodological considerations",
	}
	for _, text := range tests {
		m, err := Analyze(text, 0)
		if err != nil {
			t.Fatalf("Analyze: %v", err)
		}
		if m.ReadabilityScore < 0 || m.ReadabilityScore > 100 {
			t.Errorf("ReadabilityScore(%q) = %v, want within [0,100]", text, m.ReadabilityScore)
		}
	}

	easy, _ := Analyze("The cat sat. The dog ran. We had fun.", 0)
	hard, _ := Analyze("Photosynthetic organisms metabolize electromagnetic radiation, transforming atmospheric carbon dioxide into carbohydrates through complicated biochemical pathways.", 0)
	if easy.ReadabilityScore <= hard.ReadabilityScore {
		t.Errorf("easy text scored %v, hard text %v; want easy > hard", easy.ReadabilityScore, hard.ReadabilityScore)
	}
}

func TestAnalyze_EngagementRanking(t *testing.T) {
	engaging := "Is everyone following? Let's review the key concept. Can you explain it back to me?"
	plain := "The cell holds a nucleus inside. Proteins are built there daily. Energy comes from organelles."
	if a, b := len(strings.Fields(engaging)), len(strings.Fields(plain)); a != b {
		t.Fatalf("fixture lengths differ: %d vs %d", a, b)
	}

	e, err := Analyze(engaging, 0)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	p, err := Analyze(plain, 0)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if e.EngagementScore <= p.EngagementScore {
		t.Errorf("engaging = %v, plain = %v; want engaging > plain", e.EngagementScore, p.EngagementScore)
	}
	if e.QuestionCount != 2 {
		t.Errorf("QuestionCount = %d, want 2", e.QuestionCount)
	}
	if e.DirectAddressCount != 3 {
		t.Errorf("DirectAddressCount = %d, want 3", e.DirectAddressCount)
	}
	if e.EngagementScore < 0 || e.EngagementScore > 100 {
		t.Errorf("EngagementScore = %v, out of range", e.EngagementScore)
	}
}

func TestAnalyze_TopicShiftsAndParagraphs(t *testing.T) {
	text := "First, we define a function.\n\nNext, we solve an equation. Finally, remember the theorem."
	m, err := Analyze(text, 0)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if m.ParagraphCount != 2 {
		t.Errorf("ParagraphCount = %d, want 2", m.ParagraphCount)
	}
	if m.TopicShiftCount != 3 {
		t.Errorf("TopicShiftCount = %d, want 3", m.TopicShiftCount)
	}
	if m.SubjectFocus["math"] != 4 {
		t.Errorf("SubjectFocus[math] = %d, want 4", m.SubjectFocus["math"])
	}
	if m.SubjectFocus["general"] != 1 {
		t.Errorf("SubjectFocus[general] = %d, want 1", m.SubjectFocus["general"])
	}
}

func TestCountSyllables(t *testing.T) {
	tests := []struct {
		word string
		want int
	}{
		{"cat", 1},
		{"table", 2},
		{"make", 1},
		{"lecture", 2},
		{"beautiful", 3},
		{"jumped", 1},
		{"started", 2},
		{"42", 1},
		{"—", 1},
		{"學習", 1},
		{"naïve", 1},
	}
	for _, tt := range tests {
		if got := countSyllables(tt.word); got != tt.want {
			t.Errorf("countSyllables(%q) = %d, want %d", tt.word, got, tt.want)
		}
	}
}
