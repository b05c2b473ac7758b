package textmetrics

import (
	"math"
	"strings"
)

// TopicStatus summarizes how well one declared topic is covered.
type TopicStatus string

const (
	TopicWellCovered      TopicStatus = "well_covered"
	TopicPartiallyCovered TopicStatus = "partially_covered"
	TopicNotCovered       TopicStatus = "not_covered"
)

// Match kinds reported per topic.
const (
	MatchExact   = "exact"
	MatchPartial = "partial"
	MatchNone    = "none"
)

const (
	// contextWords is how many words either side of a mention count as its
	// surrounding context.
	contextWords = 25
	maxRawDepth  = 5.0
	// wellCoveredDepth is the normalized depth above which an exact match
	// counts as well covered.
	wellCoveredDepth = 0.6
)

// TopicResult is the coverage of a single topic.
type TopicResult struct {
	Topic       string      `json:"topic"`
	Status      TopicStatus `json:"coverage_status"`
	Match       string      `json:"match_type"`
	Occurrences int         `json:"occurrences"`
	// WordMatches and TotalWords are set for multi-word topics.
	WordMatches int     `json:"word_matches,omitempty"`
	TotalWords  int     `json:"total_words,omitempty"`
	Depth       float64 `json:"depth_score"`
}

// TopicReport is the coverage of a lecture's declared topics.
type TopicReport struct {
	Topics        []TopicResult `json:"topics"`
	Covered       int           `json:"covered_count"`
	Total         int           `json:"total_topics"`
	CoverageRatio float64       `json:"coverage_ratio"`
	AverageDepth  float64       `json:"average_depth"`
	// Score weighs coverage 70/30 against depth on a 0-100 scale.
	Score float64 `json:"score"`
}

// TopicCoverage reports how well text covers topics. Matching is case
// insensitive. A topic is covered when it appears verbatim, or, for
// multi-word topics, when at least half of its words appear. Depth grows with
// the number of verbatim mentions and the context around them, normalized to
// 0-1. With no topics the report is empty and every ratio is zero.
func TopicCoverage(text string, topics []string) TopicReport {
	r := TopicReport{Topics: []TopicResult{}}
	lower := strings.ToLower(text)
	totalWords := len(strings.Fields(lower))

	var depthSum float64
	for _, topic := range topics {
		topic = strings.TrimSpace(topic)
		if topic == "" {
			continue
		}
		res := matchTopic(lower, strings.ToLower(topic), totalWords)
		res.Topic = topic
		if res.Match != MatchNone {
			r.Covered++
		}
		depthSum += res.Depth
		r.Topics = append(r.Topics, res)
	}

	r.Total = len(r.Topics)
	if r.Total == 0 {
		return r
	}
	ratio := float64(r.Covered) / float64(r.Total)
	depth := depthSum / float64(r.Total)
	r.CoverageRatio = round2(ratio)
	r.AverageDepth = round2(depth)
	r.Score = round1(clamp((ratio*0.7+depth*0.3)*100, 0, 100))
	return r
}

func matchTopic(lower, topic string, totalWords int) TopicResult {
	if n := strings.Count(lower, topic); n > 0 {
		res := TopicResult{Match: MatchExact, Occurrences: n, Depth: topicDepth(lower, topic, n, totalWords)}
		res.Status = TopicPartiallyCovered
		if res.Depth > wellCoveredDepth {
			res.Status = TopicWellCovered
		}
		return res
	}

	res := TopicResult{Match: MatchNone, Status: TopicNotCovered}
	words := strings.Fields(topic)
	if len(words) < 2 {
		return res
	}
	res.TotalWords = len(words)
	for _, w := range words {
		if strings.Contains(lower, w) {
			res.WordMatches++
		}
	}
	if float64(res.WordMatches) >= float64(len(words))*0.5 {
		res.Match = MatchPartial
		res.Status = TopicPartiallyCovered
	}
	return res
}

// topicDepth scores n verbatim mentions of topic in lower.
func topicDepth(lower, topic string, n, totalWords int) float64 {
	var contextSum int
	start := 0
	for {
		i := strings.Index(lower[start:], topic)
		if i < 0 {
			break
		}
		pos := start + i
		at := len(strings.Fields(lower[:pos]))
		contextSum += min(totalWords, at+contextWords) - max(0, at-contextWords)
		start = pos + len(topic)
	}
	avg := float64(contextSum) / float64(n)
	raw := math.Min(float64(n)*0.3+avg*0.02, maxRawDepth)
	return round2(raw / maxRawDepth)
}

// KeywordOverlap is the Jaccard similarity of the lowercased word sets of a
// and b. ok is false when either side has no words.
func KeywordOverlap(a, b string) (ratio float64, ok bool) {
	as, bs := wordSet(a), wordSet(b)
	if len(as) == 0 || len(bs) == 0 {
		return 0, false
	}
	shared := 0
	for w := range as {
		if _, found := bs[w]; found {
			shared++
		}
	}
	union := len(as) + len(bs) - shared
	return round2(float64(shared) / float64(union)), true
}

func wordSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(s)) {
		set[w] = struct{}{}
	}
	return set
}
