package summarizer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSummarizeBoundsSentenceCount(t *testing.T) {
	s := NewFrequencySummarizer()
	text := "Pricing changed in March. Churn dropped after the change. " +
		"The newsletter covered the pricing change. Social reach was flat. " +
		"Brand recall improved slightly."

	out := s.Summarize(text, 2)
	assert.NotEmpty(t, out)
	assert.LessOrEqual(t, strings.Count(out, "."), 2)
}

func TestSummarizeShortTextPassesThrough(t *testing.T) {
	s := NewFrequencySummarizer()
	assert.Equal(t, "no terminators here", s.Summarize("  no terminators here  ", 3))
	assert.Equal(t, "One sentence.", s.Summarize("One sentence.", 5))
}

func TestSummarizeKeepsOriginalOrder(t *testing.T) {
	s := NewFrequencySummarizer()
	text := "Alpha pricing pricing pricing. Beta filler words only. Gamma pricing pricing again."
	out := s.Summarize(text, 2)

	alpha := strings.Index(out, "Alpha")
	gamma := strings.Index(out, "Gamma")
	assert.GreaterOrEqual(t, alpha, 0)
	assert.Greater(t, gamma, alpha)
}
