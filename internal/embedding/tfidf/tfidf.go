// Package tfidf is a local, network-free embedder. It fits a vocabulary and
// IDF weights over the corpus during Prepare and emits L2-normalised TF-IDF
// vectors. Terms outside the fitted vocabulary contribute nothing, so the
// vocabulary is effectively frozen between fits.
package tfidf

import (
	"errors"
	"math"
	"regexp"
	"sort"
	"strings"
)

type Embedder struct {
	vocabulary map[string]int
	idf        []float64
	dimension  int
	prepared   bool
	tokens     *regexp.Regexp
	stopwords  map[string]struct{}
}

func NewEmbedder() *Embedder {
	return &Embedder{
		vocabulary: make(map[string]int),
		tokens:     regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*`),
		stopwords:  defaultStopwords(),
	}
}

func (e *Embedder) Name() string { return "tfidf" }

// Prepare fits vocabulary and smoothed IDF values from the corpus. The term
// ordering is sorted so the same corpus always yields the same vectors.
func (e *Embedder) Prepare(corpus []string) error {
	if len(corpus) == 0 {
		return errors.New("empty corpus for tf-idf fit")
	}
	df := make(map[string]int)
	for _, text := range corpus {
		seen := make(map[string]struct{})
		for _, tok := range e.tokenize(text) {
			if _, dup := seen[tok]; dup {
				continue
			}
			seen[tok] = struct{}{}
			df[tok]++
		}
	}
	if len(df) == 0 {
		return errors.New("no tokens found in corpus")
	}
	terms := make([]string, 0, len(df))
	for term := range df {
		terms = append(terms, term)
	}
	sort.Strings(terms)

	e.vocabulary = make(map[string]int, len(terms))
	e.idf = make([]float64, len(terms))
	n := float64(len(corpus))
	for i, term := range terms {
		e.vocabulary[term] = i
		e.idf[i] = math.Log((1+n)/(1+float64(df[term]))) + 1
	}
	e.dimension = len(terms)
	e.prepared = true
	return nil
}

func (e *Embedder) Dimension() int { return e.dimension }

// Embed computes the L2-normalised TF-IDF vector for text. Text made
// entirely of unknown terms embeds to the zero vector, not an error.
func (e *Embedder) Embed(text string) ([]float64, error) {
	if !e.prepared {
		return nil, errors.New("tf-idf embedder not prepared")
	}
	vec := make([]float64, e.dimension)
	counts := make(map[int]int)
	total := 0
	for _, tok := range e.tokenize(text) {
		if idx, known := e.vocabulary[tok]; known {
			counts[idx]++
			total++
		}
	}
	if total == 0 {
		return vec, nil
	}
	norm := 0.0
	for idx, c := range counts {
		v := float64(c) / float64(total) * e.idf[idx]
		vec[idx] = v
		norm += v * v
	}
	norm = math.Sqrt(norm)
	for idx := range counts {
		vec[idx] /= norm
	}
	return vec, nil
}

func (e *Embedder) tokenize(text string) []string {
	raw := e.tokens.FindAllString(strings.ToLower(text), -1)
	out := make([]string, 0, len(raw))
	for _, t := range raw {
		if _, stop := e.stopwords[t]; !stop {
			out = append(out, t)
		}
	}
	return out
}

func defaultStopwords() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for",
		"to", "of", "in", "on", "at", "by", "with", "as", "is", "are", "was",
		"were", "be", "been", "being", "it", "this", "that", "these", "those",
		"from", "up", "down", "over", "under", "than", "so", "such", "into",
		"about", "between", "through", "during", "before", "after", "out",
		"off", "own", "same", "too", "very", "can", "will", "just", "now",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
