// Package summarizer produces the short knowledge-base overview shown by
// the status command and the chat header. Sentences are ranked by
// normalised token frequency, then re-emitted in their original order.
package summarizer

import (
	"math"
	"regexp"
	"sort"
	"strings"
)

var (
	sentenceSplit = regexp.MustCompile(`(?m)(?U)([^.!?]+[.!?])`)
	wordToken     = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*`)
)

type FrequencySummarizer struct {
	stopwords map[string]struct{}
}

func NewFrequencySummarizer() *FrequencySummarizer {
	return &FrequencySummarizer{stopwords: stopwords()}
}

// Summarize returns at most maxSentences of text, chosen by token-frequency
// score and length-normalised so long sentences do not dominate.
func (s *FrequencySummarizer) Summarize(text string, maxSentences int) string {
	if maxSentences <= 0 {
		maxSentences = 5
	}
	sentences := sentenceSplit.FindAllString(text, -1)
	if len(sentences) == 0 {
		return strings.TrimSpace(text)
	}

	freq := make(map[string]float64)
	for _, sent := range sentences {
		for _, tok := range s.tokens(sent) {
			freq[tok]++
		}
	}
	peak := 0.0
	for _, v := range freq {
		if v > peak {
			peak = v
		}
	}
	if peak > 0 {
		for k := range freq {
			freq[k] /= peak
		}
	}

	type scored struct {
		idx   int
		score float64
	}
	ranked := make([]scored, len(sentences))
	for i, sent := range sentences {
		toks := s.tokens(sent)
		total := 0.0
		for _, tok := range toks {
			total += freq[tok]
		}
		if len(toks) > 0 {
			total /= math.Sqrt(float64(len(toks)))
		}
		ranked[i] = scored{i, total}
	}
	sort.SliceStable(ranked, func(a, b int) bool { return ranked[a].score > ranked[b].score })

	if maxSentences > len(ranked) {
		maxSentences = len(ranked)
	}
	picked := make([]int, maxSentences)
	for i := 0; i < maxSentences; i++ {
		picked[i] = ranked[i].idx
	}
	sort.Ints(picked)

	out := make([]string, 0, len(picked))
	for _, idx := range picked {
		out = append(out, strings.TrimSpace(sentences[idx]))
	}
	return strings.Join(out, " ")
}

func (s *FrequencySummarizer) tokens(text string) []string {
	raw := wordToken.FindAllString(strings.ToLower(text), -1)
	out := make([]string, 0, len(raw))
	for _, t := range raw {
		if _, stop := s.stopwords[t]; !stop {
			out = append(out, t)
		}
	}
	return out
}

func stopwords() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for",
		"to", "of", "in", "on", "at", "by", "with", "as", "is", "are", "was",
		"were", "be", "been", "being", "it", "this", "that", "these", "those",
		"from", "so", "such", "into", "about", "through", "too", "very",
		"can", "will", "just", "now",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
